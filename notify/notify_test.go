package notify

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mail "github.com/go-mail/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type captureDialer struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (d *captureDialer) DialAndSend(msgs ...*mail.Message) error {
	if d.err != nil {
		return d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range msgs {
		var buf bytes.Buffer
		if _, err := m.WriteTo(&buf); err != nil {
			return err
		}
		d.sent = append(d.sent, buf.String())
	}
	return nil
}

type smsFunc func(ctx context.Context, to, body string) error

func (f smsFunc) SendSMS(ctx context.Context, to, body string) error { return f(ctx, to, body) }

func TestLogNeverWritesCodes(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLog(zap.New(core))

	require.NoError(t, n.SendChallengeCode(context.Background(), Code{
		IdentityID: "u1", Channel: ChannelEmail, Destination: "alice@example.com", Code: "493817",
	}))
	require.NoError(t, n.SendEmailChangeConfirmation(context.Background(), EmailChange{
		IdentityID: "u1", NewEmail: "bob@example.com", Token: "secret-token",
	}))

	require.Equal(t, 2, logs.Len())
	for _, e := range logs.All() {
		for k, v := range e.ContextMap() {
			s, _ := v.(string)
			assert.NotContains(t, s, "493817", k)
			assert.NotContains(t, s, "secret-token", k)
			assert.NotContains(t, s, "alice@", k)
		}
	}
	assert.Equal(t, "a***@example.com", logs.All()[0].ContextMap()["destination"])
}

func TestMask(t *testing.T) {
	assert.Equal(t, "a***@example.com", mask("alice@example.com"))
	assert.Equal(t, "+***67", mask("+15551234567"))
	assert.Equal(t, "**", mask("x"))
}

func TestSMTPSendsEmailCode(t *testing.T) {
	d := &captureDialer{}
	s := NewSMTP(SMTPConfig{Host: "smtp.example.com", Port: 587, From: "auth@example.com", ProductName: "Acme"}, nil)
	s.dialer = d

	err := s.SendChallengeCode(context.Background(), Code{
		Channel: ChannelEmail, Destination: "alice@example.com", Code: "123456", ExpiresAt: time.Now().Add(5 * time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, d.sent, 1)
	assert.Contains(t, d.sent[0], "To: alice@example.com")
	assert.Contains(t, d.sent[0], "Your Acme verification code is 123456")
}

func TestSMTPRoutesSMS(t *testing.T) {
	var gotTo, gotBody string
	s := NewSMTP(SMTPConfig{Host: "smtp.example.com"}, smsFunc(func(_ context.Context, to, body string) error {
		gotTo, gotBody = to, body
		return nil
	}))
	s.dialer = &captureDialer{err: errors.New("email must not be used")}

	require.NoError(t, s.SendChallengeCode(context.Background(), Code{Channel: ChannelSMS, Destination: "+15551234567", Code: "654321"}))
	assert.Equal(t, "+15551234567", gotTo)
	assert.Contains(t, gotBody, "654321")

	noSMS := NewSMTP(SMTPConfig{Host: "smtp.example.com"}, nil)
	err := noSMS.SendSetupCode(context.Background(), Code{Channel: ChannelSMS, Destination: "+1"})
	assert.ErrorIs(t, err, ErrUnsupportedChannel)
}

func TestSMTPEmailChangeLink(t *testing.T) {
	d := &captureDialer{}
	s := NewSMTP(SMTPConfig{Host: "smtp.example.com", From: "auth@example.com", ConfirmURL: "https://example.com/confirm?t=%s"}, nil)
	s.dialer = d

	require.NoError(t, s.SendEmailChangeConfirmation(context.Background(), EmailChange{NewEmail: "new@example.com", Token: "tok123"}))
	require.Len(t, d.sent, 1)
	assert.Contains(t, d.sent[0], "https://example.com/confirm?t=3Dtok123")
}

func TestSMTPSendFailureWrapped(t *testing.T) {
	s := NewSMTP(SMTPConfig{Host: "smtp.example.com"}, nil)
	s.dialer = &captureDialer{err: errors.New("connection refused")}
	err := s.SendPasswordChanged(context.Background(), AccountNotice{Email: "a@example.com", At: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp send")
}

func TestThrottledPerDestination(t *testing.T) {
	rec := &Recorder{}
	th := NewThrottled(rec, time.Minute, 2)
	ctx := context.Background()
	alice := Code{Channel: ChannelEmail, Destination: "alice@example.com", Code: "1"}

	require.NoError(t, th.SendChallengeCode(ctx, alice))
	require.NoError(t, th.SendSetupCode(ctx, alice))

	err := th.SendChallengeCode(ctx, alice)
	var te *ThrottledError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, ErrThrottled)
	assert.Greater(t, te.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, te.RetryAfter, time.Minute)

	require.NoError(t, th.SendChallengeCode(ctx, Code{Channel: ChannelEmail, Destination: "bob@example.com"}))
	require.NoError(t, th.SendPasswordChanged(ctx, AccountNotice{Email: "alice@example.com"}))

	assert.Len(t, rec.Messages(), 4)
}

func TestAsyncDeliversAndCloses(t *testing.T) {
	rec := &Recorder{}
	a := NewAsync(rec, AsyncConfig{BufferSize: 8, Workers: 2}, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, a.SendChallengeCode(context.Background(), Code{IdentityID: "u1", Code: "c"}))
	}
	a.Close()
	assert.Len(t, rec.Messages(), 5)
	assert.Zero(t, a.Dropped())

	require.NoError(t, a.SendAccountDeleted(context.Background(), AccountNotice{}))
	assert.Len(t, rec.Messages(), 5)
}

type blockingNotifier struct {
	Nop
	release chan struct{}
}

func (b blockingNotifier) SendChallengeCode(ctx context.Context, _ Code) error {
	<-b.release
	return nil
}

func TestAsyncDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var drops int
	a := NewAsync(blockingNotifier{release: release}, AsyncConfig{BufferSize: 1, Workers: 1}, nil)
	a.OnFailure = func(_ string, dropped bool) {
		if dropped {
			mu.Lock()
			drops++
			mu.Unlock()
		}
	}

	for i := 0; i < 10; i++ {
		require.NoError(t, a.SendChallengeCode(context.Background(), Code{}))
	}
	close(release)
	a.Close()

	assert.GreaterOrEqual(t, a.Dropped(), uint64(8))
	mu.Lock()
	assert.Equal(t, int(a.Dropped()), drops)
	mu.Unlock()
}

type failingNotifier struct{ Nop }

func (failingNotifier) SendPasswordChanged(context.Context, AccountNotice) error {
	return errors.New("boom")
}

func TestAsyncCountsFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	a := NewAsync(failingNotifier{}, AsyncConfig{}, zap.New(core))
	require.NoError(t, a.SendPasswordChanged(context.Background(), AccountNotice{}))
	a.Close()

	assert.Equal(t, uint64(1), a.Failed())
	assert.Equal(t, 1, logs.FilterMessage("notification failed").Len())
}

func TestRecorderLast(t *testing.T) {
	rec := &Recorder{}
	ctx := context.Background()
	_ = rec.SendChallengeCode(ctx, Code{Code: "111111"})
	_ = rec.SendChallengeCode(ctx, Code{Code: "222222"})
	m, ok := rec.Last("challenge_code")
	require.True(t, ok)
	assert.Equal(t, "222222", m.Code)
	_, ok = rec.Last("account_deleted")
	assert.False(t, ok)
}
