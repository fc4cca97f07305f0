package notify

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnsupportedChannel = errors.New("notify: channel not supported")
	ErrThrottled          = errors.New("notify: destination throttled")
)

// Channel is where a code goes.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Code is a one-time code for a challenge or a setup confirmation.
type Code struct {
	IdentityID  string
	Channel     Channel
	Destination string
	Code        string
	ExpiresAt   time.Time
}

// AccountNotice tells the account owner that something changed.
type AccountNotice struct {
	IdentityID string
	Email      string
	At         time.Time
}

// EmailChange asks the new address to confirm a change.
type EmailChange struct {
	IdentityID string
	OldEmail   string
	NewEmail   string
	Token      string
	ExpiresAt  time.Time
}

type Notifier interface {
	SendChallengeCode(ctx context.Context, c Code) error
	SendSetupCode(ctx context.Context, c Code) error
	SendPasswordChanged(ctx context.Context, n AccountNotice) error
	SendEmailChangeConfirmation(ctx context.Context, n EmailChange) error
	SendAccountDeleted(ctx context.Context, n AccountNotice) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) SendChallengeCode(context.Context, Code) error                   { return nil }
func (Nop) SendSetupCode(context.Context, Code) error                       { return nil }
func (Nop) SendPasswordChanged(context.Context, AccountNotice) error        { return nil }
func (Nop) SendEmailChangeConfirmation(context.Context, EmailChange) error { return nil }
func (Nop) SendAccountDeleted(context.Context, AccountNotice) error         { return nil }
