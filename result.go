package goIdentity

import (
	"net/http"
	"time"
)

// Outcome discriminates a Result.
type Outcome int

const (
	OutcomeError Outcome = iota
	OutcomeSuccess
	OutcomeMFARequired
	OutcomeReauthorizationRequired
	OutcomeRateLimited
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeMFARequired:
		return "mfa_required"
	case OutcomeReauthorizationRequired:
		return "reauthorization_required"
	case OutcomeRateLimited:
		return "rate_limited"
	default:
		return "error"
	}
}

// Result is what request-facing engine operations return. Exactly one of
// the payload fields is meaningful for a given Outcome:
//
//   - OutcomeSuccess: Tokens, and for reauthentication ReauthToken
//   - OutcomeMFARequired: Challenge
//   - OutcomeRateLimited: RetryAfter
//   - OutcomeReauthorizationRequired and OutcomeError: Kind and Err
//
// Err keeps the internal detail for logs. Hosts render PublicMessage.
type Result struct {
	Outcome    Outcome
	Kind       ErrorKind
	Err        error
	RetryAfter time.Duration

	Tokens      *TokenPair
	Challenge   *Challenge
	ReauthToken string

	IdentityID           string
	AttemptsRemaining    int
	BackupCodesRemaining int

	// Created is set when an OAuth callback created the identity.
	Created bool
}

func (r Result) OK() bool { return r.Outcome == OutcomeSuccess }

func successResult(identityID string, tokens TokenPair) Result {
	return Result{Outcome: OutcomeSuccess, IdentityID: identityID, Tokens: &tokens}
}

func mfaRequiredResult(ch Challenge) Result {
	return Result{
		Outcome:           OutcomeMFARequired,
		IdentityID:        ch.IdentityID,
		Challenge:         &ch,
		AttemptsRemaining: ch.AttemptsRemaining,
	}
}

// errorResult classifies err into the matching outcome.
func errorResult(err error) Result {
	kind := KindOf(err)
	r := Result{Outcome: OutcomeError, Kind: kind, Err: err}
	switch kind {
	case KindRateLimited:
		r.Outcome = OutcomeRateLimited
		r.RetryAfter, _ = RetryAfter(err)
	case KindReauthorizationRequired:
		r.Outcome = OutcomeReauthorizationRequired
	}
	return r
}

// StatusCode suggests an HTTP status for the result.
func (r Result) StatusCode() int {
	switch r.Outcome {
	case OutcomeSuccess:
		return http.StatusOK
	case OutcomeMFARequired:
		return http.StatusAccepted
	case OutcomeRateLimited:
		return http.StatusTooManyRequests
	case OutcomeReauthorizationRequired:
		return http.StatusForbidden
	}
	switch r.Kind {
	case KindInvalidCredentials, KindExpired, KindMalformedSignature, KindInvalidClaims, KindSessionRevoked,
		KindChallengeNotFound, KindChallengeExpired, KindAttemptsExhausted, KindCodeInvalid:
		return http.StatusUnauthorized
	case KindOperationNotAllowed:
		return http.StatusForbidden
	case KindMethodUnavailable, KindStateMismatch, KindStateExpired:
		return http.StatusBadRequest
	case KindEmailAlreadyExists:
		return http.StatusConflict
	case KindProviderUnknown, KindSetupNotFound, KindIdentityNotFound:
		return http.StatusNotFound
	case KindPasswordPolicy:
		return http.StatusUnprocessableEntity
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is safe to show to the client. Credential and rate-limit
// failures share one message so responses do not reveal which accounts exist.
func (r Result) PublicMessage() string {
	switch r.Outcome {
	case OutcomeSuccess:
		return "ok"
	case OutcomeMFARequired:
		return "additional verification required"
	case OutcomeReauthorizationRequired:
		return "please confirm your password"
	case OutcomeRateLimited:
		return "invalid credentials"
	}
	switch r.Kind {
	case KindInvalidCredentials, KindIdentityNotFound:
		return "invalid credentials"
	case KindExpired, KindMalformedSignature, KindInvalidClaims, KindSessionRevoked:
		return "session is no longer valid"
	case KindChallengeNotFound, KindChallengeExpired, KindAttemptsExhausted:
		return "verification expired, please sign in again"
	case KindCodeInvalid:
		return "invalid verification code"
	case KindMethodUnavailable:
		return "verification method not available"
	case KindOperationNotAllowed:
		return "operation not allowed"
	case KindStateMismatch, KindStateExpired:
		return "sign-in request expired, please try again"
	case KindEmailAlreadyExists:
		return "email is already in use"
	case KindProviderUnknown:
		return "unknown sign-in provider"
	case KindSetupNotFound:
		return "nothing to confirm"
	case KindPasswordPolicy:
		return "password does not meet requirements"
	default:
		return "something went wrong"
	}
}

// ErrorResult wraps an error returned by an engine method in a Result so
// that hosts can render it with StatusCode and PublicMessage.
func ErrorResult(err error) Result {
	if err == nil {
		return Result{Outcome: OutcomeSuccess}
	}
	return errorResult(err)
}
