package flows

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/goIdentity/internal/stores"
	"github.com/MrEthical07/goIdentity/mfa"
)

// ChallengeFailureKind classifies MFA verification failures.
type ChallengeFailureKind int

const (
	ChallengeFailureNone ChallengeFailureKind = iota
	ChallengeFailureNotFound
	ChallengeFailureExpired
	ChallengeFailureExhausted
	ChallengeFailureMethodUnavailable
	ChallengeFailureCodeInvalid
	ChallengeFailureRateLimited
	ChallengeFailureUnavailable
	ChallengeFailureIssue
)

type ChallengeResult struct {
	Failure              ChallengeFailureKind
	Err                  error
	IdentityID           string
	AttemptsRemaining    int
	BackupCodesRemaining int
	Replayed             bool
	Tokens               TokenPair
}

type ChallengeDeps struct {
	Now func() time.Time

	GetChallenge           func(ctx context.Context, token string) (*stores.Challenge, error)
	RecordChallengeFailure func(ctx context.Context, token string) (int, error)
	ConsumeChallenge       func(ctx context.Context, token string) error

	AttemptMFA       func(ctx context.Context, identityID string) error
	RecordMFAFailure func(ctx context.Context, identityID string) error
	RecordMFASuccess func(ctx context.Context, identityID string) error

	GetEnrollment func(ctx context.Context, identityID string) (mfa.Enrollment, error)
	Verifier      func(method mfa.Method) (mfa.Verifier, bool)

	GetIdentity func(ctx context.Context, identityID string) (IdentityRecord, error)
	IsNotFound  func(error) bool
	IssueTokens IssueFunc

	Warn WarnFunc
}

func challengeFailure(err error) ChallengeFailureKind {
	switch {
	case errors.Is(err, stores.ErrChallengeNotFound):
		return ChallengeFailureNotFound
	case errors.Is(err, stores.ErrChallengeExpired):
		return ChallengeFailureExpired
	case errors.Is(err, stores.ErrAttemptsExhausted):
		return ChallengeFailureExhausted
	default:
		return ChallengeFailureUnavailable
	}
}

// RunVerifyChallenge checks one code against a challenge. A wrong code spends
// one attempt atomically. A right code consumes the challenge; when two
// requests race only the one that deletes it gets tokens.
func RunVerifyChallenge(ctx context.Context, token string, method mfa.Method, code string, deps ChallengeDeps) ChallengeResult {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	ch, err := deps.GetChallenge(ctx, token)
	if err != nil {
		return ChallengeResult{Failure: challengeFailure(err), Err: err}
	}
	res := ChallengeResult{IdentityID: ch.IdentityID, AttemptsRemaining: int(ch.AttemptsRemaining)}
	if ch.AttemptsRemaining == 0 {
		res.Failure = ChallengeFailureExhausted
		res.Err = stores.ErrAttemptsExhausted
		return res
	}
	if !ch.Offers(string(method)) {
		res.Failure = ChallengeFailureMethodUnavailable
		return res
	}
	v, ok := deps.Verifier(method)
	if !ok {
		res.Failure = ChallengeFailureMethodUnavailable
		return res
	}

	if err := deps.AttemptMFA(ctx, ch.IdentityID); err != nil {
		res.Err = err
		res.Failure = ChallengeFailureUnavailable
		if isLimited(err) {
			res.Failure = ChallengeFailureRateLimited
		}
		return res
	}

	enrollment, err := deps.GetEnrollment(ctx, ch.IdentityID)
	if err != nil {
		res.Failure, res.Err = ChallengeFailureUnavailable, err
		return res
	}

	attempt := mfa.Attempt{IdentityID: ch.IdentityID, Code: code, Enrollment: enrollment, Now: deps.Now()}
	if h, ok := ch.Codes[string(method)]; ok {
		attempt.DeliveredHash, attempt.HasDelivered = h, true
	}
	out, err := v.Verify(ctx, attempt)
	res.Replayed = errors.Is(err, mfa.ErrReplayed)
	if err != nil && !res.Replayed {
		res.Failure, res.Err = ChallengeFailureUnavailable, err
		return res
	}

	if !out.OK {
		remaining, ferr := deps.RecordChallengeFailure(ctx, token)
		warnIf(deps.Warn, "mfa failure not recorded", deps.RecordMFAFailure(ctx, ch.IdentityID), zap.String("identity_id", ch.IdentityID))
		if ferr != nil {
			res.Failure, res.Err = challengeFailure(ferr), ferr
			return res
		}
		res.Failure = ChallengeFailureCodeInvalid
		res.Err = err
		res.AttemptsRemaining = remaining
		return res
	}

	if err := deps.ConsumeChallenge(ctx, token); err != nil {
		res.Failure, res.Err = challengeFailure(err), err
		return res
	}
	res.AttemptsRemaining = 0
	res.BackupCodesRemaining = out.BackupCodesRemaining
	warnIf(deps.Warn, "mfa success not recorded", deps.RecordMFASuccess(ctx, ch.IdentityID), zap.String("identity_id", ch.IdentityID))

	rec, err := deps.GetIdentity(ctx, ch.IdentityID)
	if err != nil {
		res.Failure, res.Err = ChallengeFailureUnavailable, err
		if deps.IsNotFound != nil && deps.IsNotFound(err) {
			res.Failure = ChallengeFailureNotFound
		}
		return res
	}
	tokens, err := deps.IssueTokens(ctx, rec.ID, rec.Email)
	if err != nil {
		res.Failure, res.Err = ChallengeFailureIssue, err
		return res
	}
	res.Tokens = tokens
	return res
}
