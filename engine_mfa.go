package goIdentity

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/internal/flows"
	"github.com/MrEthical07/goIdentity/internal/logging"
	"github.com/MrEthical07/goIdentity/internal/stores"
	"github.com/MrEthical07/goIdentity/mfa"
	"github.com/MrEthical07/goIdentity/notify"
)

func (e *Engine) createChallenge(ctx context.Context, identityID string, methods []string) (*stores.Challenge, error) {
	token, err := internal.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	now := e.now()
	c := &stores.Challenge{
		Token:             token,
		IdentityID:        identityID,
		Methods:           methods,
		CreatedAt:         now,
		ExpiresAt:         now.Add(e.config.MFA.ChallengeTTL),
		AttemptsRemaining: uint16(e.config.MFA.MaxAttempts),
	}
	if err := e.challenges.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// CreateChallenge starts a second-factor challenge for methods. Hosts that
// run their own first factor use it; Authenticate creates challenges itself.
func (e *Engine) CreateChallenge(ctx context.Context, identityID string, methods []mfa.Method) (Challenge, error) {
	if err := e.ready(); err != nil {
		return Challenge{}, err
	}
	if len(methods) == 0 {
		return Challenge{}, ErrMethodUnavailable
	}
	for _, m := range methods {
		if !m.Valid() {
			return Challenge{}, fmt.Errorf("%w: %q", ErrMethodUnavailable, m)
		}
	}
	c, err := e.createChallenge(ctx, identityID, mfa.MethodStrings(methods))
	if err != nil {
		return Challenge{}, publicError(err)
	}
	e.metricInc(MetricMFARequired)
	return challengeView(c), nil
}

// ResolveChallenge loads the server-side view of a URLChallenge.
func (e *Engine) ResolveChallenge(ctx context.Context, sessionToken string) (Challenge, error) {
	if err := e.ready(); err != nil {
		return Challenge{}, err
	}
	if !internal.ValidOpaqueToken(sessionToken) {
		return Challenge{}, ErrChallengeNotFound
	}
	c, err := e.challenges.Get(ctx, sessionToken)
	if err != nil {
		return Challenge{}, publicError(err)
	}
	return challengeView(c), nil
}

// MFAMethods lists the second factors the identity has enrolled.
func (e *Engine) MFAMethods(ctx context.Context, identityID string) ([]mfa.Method, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	enr, err := e.store.GetMFAEnrollment(ctx, identityID)
	if err != nil {
		return nil, publicError(err)
	}
	return enr.Methods(), nil
}

// VerifyChallenge checks code against the challenge using method. A wrong code
// spends one attempt; a method the challenge does not offer does not. Success
// consumes the challenge and returns a token pair.
func (e *Engine) VerifyChallenge(ctx context.Context, sessionToken string, method mfa.Method, code string) Result {
	if err := e.ready(); err != nil {
		return errorResult(err)
	}
	if !internal.ValidOpaqueToken(sessionToken) {
		return errorResult(ErrChallengeNotFound)
	}
	res := e.flow.VerifyChallenge(ctx, sessionToken, method, code)

	if res.Failure == flows.ChallengeFailureNone {
		e.metricInc(MetricMFASuccess)
		e.metricInc(MetricAuthSuccess)
		if method == mfa.MethodBackupCode {
			e.metricInc(MetricBackupCodeUsed)
			e.emitAudit(ctx, auditEventBackupCodeUsed, true, res.IdentityID, nil, nil)
		}
		e.emitAudit(ctx, auditEventMFASuccess, true, res.IdentityID, nil, func() map[string]string {
			return map[string]string{"method": string(method)}
		})
		if err := e.store.RecordLogin(ctx, res.IdentityID, e.now()); err != nil {
			e.warn("last login not recorded", logging.IdentityID(res.IdentityID), zap.Error(err))
		}
		r := successResult(res.IdentityID, tokenPair(res.Tokens))
		r.BackupCodesRemaining = res.BackupCodesRemaining
		return r
	}

	var err error
	switch res.Failure {
	case flows.ChallengeFailureNotFound:
		err = ErrChallengeNotFound
	case flows.ChallengeFailureExpired:
		err = ErrChallengeExpired
	case flows.ChallengeFailureExhausted:
		e.metricInc(MetricMFAAttemptsExhausted)
		err = ErrAttemptsExhausted
	case flows.ChallengeFailureMethodUnavailable:
		err = ErrMethodUnavailable
	case flows.ChallengeFailureCodeInvalid:
		if res.Replayed {
			e.metricInc(MetricMFAReplayRejected)
		}
		err = ErrCodeInvalid
		if res.AttemptsRemaining == 0 {
			e.metricInc(MetricMFAAttemptsExhausted)
		}
	case flows.ChallengeFailureRateLimited:
		err = publicError(res.Err)
	default:
		err = unavailable(res.Err)
		logging.From(ctx, e.log).Warn("mfa verification failed",
			logging.IdentityID(res.IdentityID),
			zap.String("method", string(method)),
			zap.Error(res.Err),
		)
	}

	e.metricInc(MetricMFAFailure)
	event := auditEventMFAFailure
	if res.Failure == flows.ChallengeFailureExhausted {
		event = auditEventMFAAttemptsExhausted
	}
	e.emitAudit(ctx, event, false, res.IdentityID, err, func() map[string]string {
		return map[string]string{"method": string(method)}
	})

	r := errorResult(err)
	r.IdentityID = res.IdentityID
	r.AttemptsRemaining = res.AttemptsRemaining
	return r
}

// SendChallengeCode delivers a fresh numeric code for an SMS or email
// challenge. The code's hash replaces any earlier one on the challenge.
// Delivery is asynchronous; a destination that asked for too many codes
// gets a *RateLimitError.
func (e *Engine) SendChallengeCode(ctx context.Context, sessionToken string, method mfa.Method) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !method.Delivered() {
		return ErrMethodUnavailable
	}
	if !internal.ValidOpaqueToken(sessionToken) {
		return ErrChallengeNotFound
	}
	c, err := e.challenges.Get(ctx, sessionToken)
	if err != nil {
		return publicError(err)
	}
	if c.AttemptsRemaining == 0 {
		return ErrAttemptsExhausted
	}
	if !c.Offers(string(method)) {
		return ErrMethodUnavailable
	}
	enr, err := e.store.GetMFAEnrollment(ctx, c.IdentityID)
	if err != nil {
		return publicError(err)
	}
	dest := enr.Destination(method)
	if dest == "" {
		return ErrMethodUnavailable
	}

	code, err := internal.NewOTP(e.config.MFA.CodeDigits)
	if err != nil {
		return publicError(err)
	}
	if err := e.challenges.SetCode(ctx, sessionToken, string(method), internal.HashCode(code)); err != nil {
		return publicError(err)
	}
	err = e.notifier.SendChallengeCode(ctx, notify.Code{
		IdentityID:  c.IdentityID,
		Channel:     channelFor(method),
		Destination: dest,
		Code:        code,
		ExpiresAt:   c.ExpiresAt,
	})
	if err != nil {
		return publicError(err)
	}
	e.metricInc(MetricMFACodeSent)
	e.emitAudit(ctx, auditEventMFACodeSent, true, c.IdentityID, nil, func() map[string]string {
		return map[string]string{"method": string(method)}
	})
	return nil
}

func channelFor(m mfa.Method) notify.Channel {
	if m == mfa.MethodSMS {
		return notify.ChannelSMS
	}
	return notify.ChannelEmail
}
