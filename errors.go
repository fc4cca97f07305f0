package goIdentity

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrExpired is returned for tokens past their expiry.
	ErrExpired = errors.New("token expired")
	// ErrMalformedSignature covers unparsable tokens and bad signatures.
	ErrMalformedSignature = errors.New("malformed token or signature")
	// ErrInvalidClaims covers missing fields, the wrong token kind and a foreign issuer.
	ErrInvalidClaims = errors.New("invalid token claims")
	// ErrSessionRevoked means the token's session version is no longer current.
	ErrSessionRevoked = errors.New("session revoked")

	ErrChallengeNotFound = errors.New("mfa challenge not found")
	ErrChallengeExpired  = errors.New("mfa challenge expired")
	ErrAttemptsExhausted = errors.New("mfa challenge attempts exhausted")
	ErrCodeInvalid       = errors.New("invalid verification code")
	ErrMethodUnavailable = errors.New("mfa method not available")
	ErrSetupNotFound     = errors.New("mfa setup not found")
	ErrMFANotEnabled     = errors.New("mfa not enabled")
	// ErrInvalidDestination rejects a phone number or address given for setup.
	ErrInvalidDestination = errors.New("invalid mfa destination")

	// ErrReauthorizationRequired asks the client to re-enter the password.
	ErrReauthorizationRequired = errors.New("reauthorization required")
	ErrOperationNotAllowed     = errors.New("operation not allowed by reauthorization")

	ErrRateLimited = errors.New("rate limited")

	ErrStateMismatch      = errors.New("oauth state mismatch")
	ErrStateExpired       = errors.New("oauth state expired")
	ErrProviderUnknown    = errors.New("oauth provider unknown")
	ErrProviderExchange   = errors.New("oauth provider exchange failed")
	ErrRedirectNotAllowed = errors.New("oauth redirect uri not allowed")

	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrEmailAlreadyExists  = errors.New("email already exists")
	ErrInvalidEmail        = errors.New("invalid email")
	ErrPasswordPolicy      = errors.New("password policy violation")
	ErrIdentityNotFound    = errors.New("identity not found")
	ErrEmailChangeNotFound = errors.New("email change not found")

	// ErrUnavailable wraps storage, limiter and key failures.
	ErrUnavailable = errors.New("identity backend unavailable")
	ErrInternal    = errors.New("internal error")

	ErrEngineNotReady = errors.New("engine not initialized")
)

// RateLimitError carries how long the caller should wait.
type RateLimitError struct {
	Policy     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// ErrorKind is the public classification of a failure.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindExpired
	KindMalformedSignature
	KindInvalidClaims
	KindSessionRevoked
	KindChallengeNotFound
	KindChallengeExpired
	KindAttemptsExhausted
	KindCodeInvalid
	KindMethodUnavailable
	KindReauthorizationRequired
	KindOperationNotAllowed
	KindRateLimited
	KindStateMismatch
	KindStateExpired
	KindInvalidCredentials
	KindEmailAlreadyExists
	KindProviderUnknown
	KindSetupNotFound
	KindPasswordPolicy
	KindIdentityNotFound
	KindUnavailable
	KindInternal
)

var kindNames = [...]string{
	KindNone:                    "none",
	KindExpired:                 "expired",
	KindMalformedSignature:      "malformed_signature",
	KindInvalidClaims:           "invalid_claims",
	KindSessionRevoked:          "session_revoked",
	KindChallengeNotFound:       "challenge_not_found",
	KindChallengeExpired:        "challenge_expired",
	KindAttemptsExhausted:       "attempts_exhausted",
	KindCodeInvalid:             "code_invalid",
	KindMethodUnavailable:       "method_unavailable",
	KindReauthorizationRequired: "reauthorization_required",
	KindOperationNotAllowed:     "operation_not_allowed",
	KindRateLimited:             "rate_limited",
	KindStateMismatch:           "state_mismatch",
	KindStateExpired:            "state_expired",
	KindInvalidCredentials:      "invalid_credentials",
	KindEmailAlreadyExists:      "email_already_exists",
	KindProviderUnknown:         "provider_unknown",
	KindSetupNotFound:           "setup_not_found",
	KindPasswordPolicy:          "password_policy",
	KindIdentityNotFound:        "identity_not_found",
	KindUnavailable:             "unavailable",
	KindInternal:                "internal",
}

func (k ErrorKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// kindTable is checked in order; the reauthorization wrapper comes first so
// that a wrapped expiry still reads as a reauthorization failure.
var kindTable = []struct {
	err  error
	kind ErrorKind
}{
	{ErrReauthorizationRequired, KindReauthorizationRequired},
	{ErrOperationNotAllowed, KindOperationNotAllowed},
	{ErrRateLimited, KindRateLimited},
	{ErrExpired, KindExpired},
	{ErrMalformedSignature, KindMalformedSignature},
	{ErrInvalidClaims, KindInvalidClaims},
	{ErrSessionRevoked, KindSessionRevoked},
	{ErrChallengeNotFound, KindChallengeNotFound},
	{ErrChallengeExpired, KindChallengeExpired},
	{ErrAttemptsExhausted, KindAttemptsExhausted},
	{ErrCodeInvalid, KindCodeInvalid},
	{ErrMethodUnavailable, KindMethodUnavailable},
	{ErrMFANotEnabled, KindMethodUnavailable},
	{ErrInvalidDestination, KindMethodUnavailable},
	{ErrStateMismatch, KindStateMismatch},
	{ErrStateExpired, KindStateExpired},
	{ErrRedirectNotAllowed, KindStateMismatch},
	{ErrProviderUnknown, KindProviderUnknown},
	{ErrProviderExchange, KindUnavailable},
	{ErrInvalidCredentials, KindInvalidCredentials},
	{ErrEmailAlreadyExists, KindEmailAlreadyExists},
	{ErrInvalidEmail, KindInvalidCredentials},
	{ErrSetupNotFound, KindSetupNotFound},
	{ErrEmailChangeNotFound, KindSetupNotFound},
	{ErrPasswordPolicy, KindPasswordPolicy},
	{ErrIdentityNotFound, KindIdentityNotFound},
	{ErrUnavailable, KindUnavailable},
	{ErrEngineNotReady, KindInternal},
	{ErrInternal, KindInternal},
}

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, row := range kindTable {
		if errors.Is(err, row.err) {
			return row.kind
		}
	}
	return KindInternal
}

// RetryAfter returns the wait carried by a rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

func unavailable(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// wrapDetail returns sentinel carrying detail for logs.
func wrapDetail(sentinel, detail error) error {
	if detail == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %v", sentinel, detail)
}
