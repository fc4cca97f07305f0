package flows

import (
	"context"

	"github.com/MrEthical07/goIdentity/jwt"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureParse
	RefreshFailureRateLimited
	RefreshFailureRevoked
	RefreshFailureUnavailable
	RefreshFailureIssue
)

type RefreshResult struct {
	Failure    RefreshFailureKind
	Err        error
	IdentityID string
	Tokens     TokenPair
}

type RefreshDeps struct {
	ParseRefresh   func(string) (*jwt.RefreshClaims, error)
	AttemptRefresh func(ctx context.Context, identityID string) error
	CurrentVersion func(ctx context.Context, identityID string) (uint64, error)
	GetIdentity    func(ctx context.Context, identityID string) (IdentityRecord, error)
	IsNotFound     func(error) bool
	IssueTokens    IssueFunc
}

// RunRefresh re-mints both tokens from a refresh token. Nothing about the
// presented token is recorded, so concurrent refreshes with one token each
// succeed on their own.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	claims, err := deps.ParseRefresh(refreshToken)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureParse, Err: err}
	}
	id := claims.Subject

	if deps.AttemptRefresh != nil {
		if err := deps.AttemptRefresh(ctx, id); err != nil {
			if isLimited(err) {
				return RefreshResult{Failure: RefreshFailureRateLimited, Err: err, IdentityID: id}
			}
			return RefreshResult{Failure: RefreshFailureUnavailable, Err: err, IdentityID: id}
		}
	}

	if kind, err := checkVersion(ctx, id, claims.SessionVersion, deps.CurrentVersion, deps.IsNotFound); kind != versionOK {
		return RefreshResult{Failure: refreshFailure(kind), Err: err, IdentityID: id}
	}

	rec, err := deps.GetIdentity(ctx, id)
	if err != nil {
		if deps.IsNotFound(err) {
			return RefreshResult{Failure: RefreshFailureRevoked, Err: err, IdentityID: id}
		}
		return RefreshResult{Failure: RefreshFailureUnavailable, Err: err, IdentityID: id}
	}

	tokens, err := deps.IssueTokens(ctx, rec.ID, rec.Email)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssue, Err: err, IdentityID: id}
	}
	return RefreshResult{IdentityID: id, Tokens: tokens}
}

func refreshFailure(k versionCheck) RefreshFailureKind {
	if k == versionUnavailable {
		return RefreshFailureUnavailable
	}
	return RefreshFailureRevoked
}
