package flows

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/goIdentity/internal/rate"
)

// Deps groups flow dependency sets. The engine builds it once.
type Deps struct {
	Authenticate AuthenticateDeps
	Challenge    ChallengeDeps
	Refresh      RefreshDeps
	Verify       VerifyDeps
	OAuth        OAuthDeps
}

// TokenPair is the flow-local shape of freshly minted tokens.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionVersion   uint64
}

// IdentityRecord is the part of an identity the flows look at.
type IdentityRecord struct {
	ID           string
	Email        string
	PasswordHash string
}

// IssueFunc mints a token pair for an identity at its current session version.
type IssueFunc func(ctx context.Context, identityID, email string) (TokenPair, error)

// WarnFunc logs a best-effort failure.
type WarnFunc func(msg string, fields ...zap.Field)

func isLimited(err error) bool {
	var le *rate.LimitedError
	return errors.As(err, &le)
}

func warnIf(warn WarnFunc, msg string, err error, fields ...zap.Field) {
	if err == nil || warn == nil {
		return
	}
	warn(msg, append(fields, zap.Error(err))...)
}
