package notify

import (
	"context"

	"go.uber.org/zap"
)

// Log writes a line per notification without its secret.
type Log struct {
	log *zap.Logger
}

func NewLog(l *zap.Logger) *Log {
	if l == nil {
		l = zap.NewNop()
	}
	return &Log{log: l.Named("notify")}
}

func (n *Log) code(kind string, c Code) {
	n.log.Info(kind,
		zap.String("identity_id", c.IdentityID),
		zap.String("channel", string(c.Channel)),
		zap.String("destination", mask(c.Destination)),
		zap.Time("expires_at", c.ExpiresAt),
	)
}

func (n *Log) SendChallengeCode(_ context.Context, c Code) error {
	n.code("challenge code", c)
	return nil
}

func (n *Log) SendSetupCode(_ context.Context, c Code) error {
	n.code("setup code", c)
	return nil
}

func (n *Log) SendPasswordChanged(_ context.Context, a AccountNotice) error {
	n.log.Info("password changed", zap.String("identity_id", a.IdentityID), zap.String("email", mask(a.Email)))
	return nil
}

func (n *Log) SendEmailChangeConfirmation(_ context.Context, e EmailChange) error {
	n.log.Info("email change confirmation",
		zap.String("identity_id", e.IdentityID),
		zap.String("new_email", mask(e.NewEmail)),
	)
	return nil
}

func (n *Log) SendAccountDeleted(_ context.Context, a AccountNotice) error {
	n.log.Info("account deleted", zap.String("identity_id", a.IdentityID), zap.String("email", mask(a.Email)))
	return nil
}

// mask keeps the first character and the domain or last two digits.
func mask(dest string) string {
	if len(dest) <= 2 {
		return "**"
	}
	for i := 0; i < len(dest); i++ {
		if dest[i] == '@' {
			return dest[:1] + "***" + dest[i:]
		}
	}
	return dest[:1] + "***" + dest[len(dest)-2:]
}
