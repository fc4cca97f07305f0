package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"text/template"
	"time"

	mail "github.com/go-mail/mail"
)

// SMSSender delivers a text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// SMTPConfig configures the SMTP notifier. TLSMode is "auto", "starttls",
// "ssl" or "none".
type SMTPConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	From               string
	TLSMode            string
	InsecureSkipVerify bool
	ProductName        string

	// ConfirmURL is formatted with the email-change token.
	ConfirmURL string
}

type mailSender interface {
	DialAndSend(m ...*mail.Message) error
}

// SMTP sends email notices and codes, and routes SMS codes to an SMSSender.
type SMTP struct {
	cfg    SMTPConfig
	dialer mailSender
	sms    SMSSender
}

func NewSMTP(cfg SMTPConfig, sms SMSSender) *SMTP {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: cfg.Host, InsecureSkipVerify: cfg.InsecureSkipVerify}
	switch cfg.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.StartTLSPolicy = mail.NoStartTLS
	}
	if cfg.ProductName == "" {
		cfg.ProductName = "your account"
	}
	return &SMTP{cfg: cfg, dialer: d, sms: sms}
}

var templates = template.Must(template.New("notify").Parse(`
{{define "code"}}Your {{.Product}} verification code is {{.Code}}. It expires at {{.Expires}}.{{end}}
{{define "password_changed"}}The password of {{.Product}} was changed at {{.At}}. If this was not you, contact support immediately.{{end}}
{{define "email_change"}}Confirm that {{.NewEmail}} should become the address of {{.Product}}:

{{.Link}}

This link expires at {{.Expires}}.{{end}}
{{define "account_deleted"}}{{.Product}} was deleted at {{.At}}.{{end}}
`))

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s *SMTP) mail(to, subject, body string) error {
	m := mail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (s *SMTP) sendCode(ctx context.Context, c Code, subject string) error {
	body, err := render("code", map[string]any{
		"Product": s.cfg.ProductName,
		"Code":    c.Code,
		"Expires": c.ExpiresAt.Format(time.Kitchen),
	})
	if err != nil {
		return err
	}
	switch c.Channel {
	case ChannelEmail:
		return s.mail(c.Destination, subject, body)
	case ChannelSMS:
		if s.sms == nil {
			return ErrUnsupportedChannel
		}
		return s.sms.SendSMS(ctx, c.Destination, body)
	}
	return ErrUnsupportedChannel
}

func (s *SMTP) SendChallengeCode(ctx context.Context, c Code) error {
	return s.sendCode(ctx, c, "Your sign-in code")
}

func (s *SMTP) SendSetupCode(ctx context.Context, c Code) error {
	return s.sendCode(ctx, c, "Confirm your verification method")
}

func (s *SMTP) SendPasswordChanged(_ context.Context, n AccountNotice) error {
	body, err := render("password_changed", map[string]any{"Product": s.cfg.ProductName, "At": n.At.Format(time.RFC1123)})
	if err != nil {
		return err
	}
	return s.mail(n.Email, "Your password was changed", body)
}

func (s *SMTP) SendEmailChangeConfirmation(_ context.Context, n EmailChange) error {
	body, err := render("email_change", map[string]any{
		"Product":  s.cfg.ProductName,
		"NewEmail": n.NewEmail,
		"Link":     fmt.Sprintf(s.cfg.ConfirmURL, n.Token),
		"Expires":  n.ExpiresAt.Format(time.RFC1123),
	})
	if err != nil {
		return err
	}
	return s.mail(n.NewEmail, "Confirm your new email address", body)
}

func (s *SMTP) SendAccountDeleted(_ context.Context, n AccountNotice) error {
	body, err := render("account_deleted", map[string]any{"Product": s.cfg.ProductName, "At": n.At.Format(time.RFC1123)})
	if err != nil {
		return err
	}
	return s.mail(n.Email, "Your account was deleted", body)
}
