package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/goIdentity/jwt"
)

type VerifyFailureKind int

const (
	VerifyFailureNone VerifyFailureKind = iota
	VerifyFailureParse
	VerifyFailureRevoked
	VerifyFailureUnavailable
)

type VerifyResult struct {
	Failure VerifyFailureKind
	Err     error
	Claims  *jwt.AccessClaims
	Elapsed time.Duration
}

type VerifyDeps struct {
	Now            func() time.Time
	ParseAccess    func(string) (*jwt.AccessClaims, error)
	CurrentVersion func(ctx context.Context, identityID string) (uint64, error)
	IsNotFound     func(error) bool
}

// RunVerifyAccess parses an access token and compares its session version
// with the identity's current one.
func RunVerifyAccess(ctx context.Context, token string, deps VerifyDeps) VerifyResult {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	start := deps.Now()

	claims, err := deps.ParseAccess(token)
	if err != nil {
		return VerifyResult{Failure: VerifyFailureParse, Err: err, Elapsed: deps.Now().Sub(start)}
	}
	kind, err := checkVersion(ctx, claims.Subject, claims.SessionVersion, deps.CurrentVersion, deps.IsNotFound)
	res := VerifyResult{Err: err, Claims: claims, Elapsed: deps.Now().Sub(start)}
	switch kind {
	case versionStale:
		res.Failure = VerifyFailureRevoked
	case versionUnavailable:
		res.Failure = VerifyFailureUnavailable
	}
	return res
}

type versionCheck int

const (
	versionOK versionCheck = iota
	versionStale
	versionUnavailable
)

// checkVersion treats an identity the store no longer knows as revoked.
func checkVersion(
	ctx context.Context,
	identityID string,
	tokenVersion uint64,
	current func(context.Context, string) (uint64, error),
	isNotFound func(error) bool,
) (versionCheck, error) {
	v, err := current(ctx, identityID)
	if err != nil {
		if isNotFound != nil && isNotFound(err) {
			return versionStale, err
		}
		return versionUnavailable, err
	}
	if v != tokenVersion {
		return versionStale, nil
	}
	return versionOK, nil
}
