package goIdentity

import (
	"context"
	"time"

	"github.com/MrEthical07/goIdentity/mfa"
)

// Identity is a persisted principal. SessionVersion starts at 0 and only
// moves forward.
type Identity struct {
	ID             string
	Email          string
	PasswordHash   string
	EmailVerified  bool
	SessionVersion uint64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastLoginAt    time.Time
}

// NewIdentity is the input to IdentityStore.CreateIdentity. An empty
// PasswordHash creates an identity that can only sign in through a provider.
type NewIdentity struct {
	Email         string
	PasswordHash  string
	EmailVerified bool
}

// IdentityStore is the durable identity storage the engine consumes. Lookups
// of unknown identities return an error wrapping ErrIdentityNotFound; writes
// that would duplicate an email return ErrEmailAlreadyExists.
//
// UpdateSessionVersion must ignore versions lower than the stored one.
// ConsumeBackupCode must delete the matching code atomically so that a code
// works once under concurrent use. LinkProvider is idempotent for the same
// identity and returns ErrEmailAlreadyExists when the provider subject
// belongs to another identity.
type IdentityStore interface {
	GetIdentityByID(ctx context.Context, id string) (Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (Identity, error)
	CreateIdentity(ctx context.Context, in NewIdentity) (Identity, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	UpdateEmail(ctx context.Context, id, email string, verified bool) error
	DeleteIdentity(ctx context.Context, id string) error
	UpdateSessionVersion(ctx context.Context, id string, version uint64) error
	RecordLogin(ctx context.Context, id string, at time.Time) error

	GetMFAEnrollment(ctx context.Context, id string) (mfa.Enrollment, error)
	SaveTOTPSecret(ctx context.Context, id, secret string) error
	SaveMFADestination(ctx context.Context, id string, method mfa.Method, destination string) error
	DisableMFA(ctx context.Context, id string) error
	ReplaceBackupCodes(ctx context.Context, id string, hashes [][32]byte) error
	ConsumeBackupCode(ctx context.Context, id string, hash [32]byte) (remaining int, consumed bool, err error)

	FindIdentityByProvider(ctx context.Context, provider, subject string) (string, error)
	LinkProvider(ctx context.Context, id, provider, subject string) error
}

// TokenPair is an access and refresh token minted together.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionVersion   uint64
}

// Challenge is the client-facing view of a pending MFA challenge.
type Challenge struct {
	SessionToken      string
	IdentityID        string
	Methods           []mfa.Method
	CreatedAt         time.Time
	ExpiresAt         time.Time
	AttemptsRemaining int
}

// URL returns the redirect-safe form of c.
func (c Challenge) URL() URLChallenge {
	return URLChallenge{SessionToken: c.SessionToken, AttemptsRemaining: c.AttemptsRemaining}
}

// URLChallenge carries only what may travel in a redirect URL. The rest of
// the challenge is resolved server-side with Engine.ResolveChallenge.
type URLChallenge struct {
	SessionToken      string
	AttemptsRemaining int
}

// Operation names a reauthorization-gated action.
type Operation string

const (
	OperationPasswordChange  Operation = "passwordChange"
	OperationEmailChange     Operation = "emailChange"
	OperationAccountDeletion Operation = "accountDeletion"
	OperationMFAChange       Operation = "mfaChange"
)

func (o Operation) valid() bool {
	switch o {
	case OperationPasswordChange, OperationEmailChange, OperationAccountDeletion, OperationMFAChange:
		return true
	}
	return false
}

// Setup is returned when an MFA method is being enrolled. For TOTP it holds
// the secret and its provisioning material; SMS and email setups only echo
// the destination the confirmation code went to.
type Setup struct {
	Method      mfa.Method
	Secret      string
	URL         string
	QRPNG       []byte
	Destination string
	ExpiresAt   time.Time
}

// SetupResult reports a confirmed setup. BackupCodes is set only when this
// was the identity's first second factor.
type SetupResult struct {
	Method      mfa.Method
	BackupCodes []string
}

// AuthorizationRequest is where to send the user to start an OAuth flow.
type AuthorizationRequest struct {
	URL       string
	State     string
	ExpiresAt time.Time
}

// EmailChangeRequest is the pending change created by RequestEmailChange.
type EmailChangeRequest struct {
	NewEmail  string
	ExpiresAt time.Time
}
