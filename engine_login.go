package goIdentity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/MrEthical07/goIdentity/internal/flows"
	"github.com/MrEthical07/goIdentity/internal/logging"
)

// Authenticate checks an email and password. The Result is a token pair, an
// MFA challenge, a rate-limit rejection or an error; wrong emails and wrong
// passwords are indistinguishable to the caller.
func (e *Engine) Authenticate(ctx context.Context, email, password string) Result {
	if err := e.ready(); err != nil {
		return errorResult(err)
	}
	email = normalizeEmail(email)
	res := e.flow.Authenticate(ctx, email, password)

	switch res.Failure {
	case flows.AuthenticateFailureNone:
		if res.Challenge != nil {
			ch := challengeView(res.Challenge)
			e.metricInc(MetricMFARequired)
			e.emitAudit(ctx, auditEventMFARequired, true, res.IdentityID, nil, nil)
			return mfaRequiredResult(ch)
		}
		e.metricInc(MetricAuthSuccess)
		e.emitAudit(ctx, auditEventLoginSuccess, true, res.IdentityID, nil, nil)
		return successResult(res.IdentityID, tokenPair(res.Tokens))

	case flows.AuthenticateFailureRateLimited:
		e.metricInc(MetricAuthRateLimited)
		err := publicError(res.Err)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", err, nil)
		return errorResult(err)

	case flows.AuthenticateFailureInvalidCredentials:
		e.metricInc(MetricAuthFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, res.IdentityID, ErrInvalidCredentials, nil)
		return errorResult(ErrInvalidCredentials)

	default:
		e.metricInc(MetricAuthFailure)
		err := unavailable(res.Err)
		logging.From(ctx, e.log).Warn("authentication failed",
			logging.IdentityID(res.IdentityID),
			logging.Operation("authenticate"),
			zap.Error(res.Err),
		)
		e.emitAudit(ctx, auditEventLoginFailure, false, res.IdentityID, err, nil)
		r := errorResult(err)
		r.IdentityID = res.IdentityID
		return r
	}
}

// CreateIdentity registers an email and password. The email is normalized
// and the password checked against Config.Password before hashing.
func (e *Engine) CreateIdentity(ctx context.Context, email, password string) (Identity, error) {
	if err := e.ready(); err != nil {
		return Identity{}, err
	}
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return Identity{}, err
	}

	subject := ClientIPFromContext(ctx)
	if subject == "" {
		subject = email
	}
	if err := e.attempt(ctx, e.limits.register, subject); err != nil {
		return Identity{}, publicError(err)
	}

	if err := e.checkPasswordPolicy(password); err != nil {
		return Identity{}, err
	}
	hash, err := e.hasher.Hash(password)
	if err != nil {
		return Identity{}, publicError(err)
	}

	ident, err := e.store.CreateIdentity(ctx, NewIdentity{Email: email, PasswordHash: hash})
	if err != nil {
		if errors.Is(err, ErrEmailAlreadyExists) {
			e.metricInc(MetricIdentityDuplicate)
			e.emitAudit(ctx, auditEventIdentityDuplicate, false, "", err, nil)
			return Identity{}, err
		}
		return Identity{}, publicError(err)
	}

	e.metricInc(MetricIdentityCreated)
	e.emitAudit(ctx, auditEventIdentityCreated, true, ident.ID, nil, nil)
	return ident, nil
}

func validateEmail(email string) error {
	if email == "" || len(email) > 254 {
		return ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}
	return nil
}

func (e *Engine) checkPasswordPolicy(password string) error {
	n := utf8.RuneCountInString(password)
	switch {
	case n < e.config.Password.MinLength:
		return fmt.Errorf("%w: shorter than %d characters", ErrPasswordPolicy, e.config.Password.MinLength)
	case len(password) > e.config.Password.MaxLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrPasswordPolicy, e.config.Password.MaxLength)
	}
	return nil
}
