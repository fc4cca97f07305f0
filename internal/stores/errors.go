package stores

import "errors"

var (
	ErrBackendUnavailable = errors.New("ephemeral store unavailable")
	ErrContention         = errors.New("ephemeral store contention")

	ErrChallengeNotFound = errors.New("mfa challenge not found")
	ErrChallengeExpired  = errors.New("mfa challenge expired")
	ErrAttemptsExhausted = errors.New("mfa challenge attempts exhausted")

	ErrStateNotFound  = errors.New("oauth state not found")
	ErrSetupNotFound  = errors.New("mfa setup not found")
	ErrChangeNotFound = errors.New("email change not found")

	errMissing = errors.New("missing")
	errCorrupt = errors.New("corrupt record")
)
