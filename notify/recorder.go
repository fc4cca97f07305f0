package notify

import (
	"context"
	"sync"
)

// Message is one captured notification.
type Message struct {
	Kind        string
	IdentityID  string
	Destination string
	Code        string
	Token       string
}

// Recorder keeps every notification in memory, including codes. It exists
// for tests and local example hosts.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *Recorder) add(m Message) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) SendChallengeCode(_ context.Context, c Code) error {
	return r.add(Message{Kind: "challenge_code", IdentityID: c.IdentityID, Destination: c.Destination, Code: c.Code})
}

func (r *Recorder) SendSetupCode(_ context.Context, c Code) error {
	return r.add(Message{Kind: "setup_code", IdentityID: c.IdentityID, Destination: c.Destination, Code: c.Code})
}

func (r *Recorder) SendPasswordChanged(_ context.Context, a AccountNotice) error {
	return r.add(Message{Kind: "password_changed", IdentityID: a.IdentityID, Destination: a.Email})
}

func (r *Recorder) SendEmailChangeConfirmation(_ context.Context, e EmailChange) error {
	return r.add(Message{Kind: "email_change", IdentityID: e.IdentityID, Destination: e.NewEmail, Token: e.Token})
}

func (r *Recorder) SendAccountDeleted(_ context.Context, a AccountNotice) error {
	return r.add(Message{Kind: "account_deleted", IdentityID: a.IdentityID, Destination: a.Email})
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

// Last returns the most recent message of kind.
func (r *Recorder) Last(kind string) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.msgs) - 1; i >= 0; i-- {
		if r.msgs[i].Kind == kind {
			return r.msgs[i], true
		}
	}
	return Message{}, false
}
