package goIdentity

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/internal/logging"
	"github.com/MrEthical07/goIdentity/internal/stores"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/notify"
)

// errSubjectMismatch marks a reauthorization token minted for someone else.
var errSubjectMismatch = errors.New("reauthorization token belongs to another identity")

// Reauthenticate verifies the identity's password again and, on success,
// returns a reauthorization token for ops in Result.ReauthToken.
func (e *Engine) Reauthenticate(ctx context.Context, identityID, password, purpose string, ops []Operation) Result {
	if err := e.ready(); err != nil {
		return errorResult(err)
	}
	if err := e.attempt(ctx, e.limits.reauth, identityID); err != nil {
		e.metricInc(MetricReauthRejected)
		return errorResult(publicError(err))
	}

	ident, err := e.store.GetIdentityByID(ctx, identityID)
	if err != nil {
		if isNotFound(err) {
			e.dummyVerify(password)
			return errorResult(ErrInvalidCredentials)
		}
		return errorResult(publicError(err))
	}
	ok, err := e.verifyPassword(password, ident.PasswordHash)
	if err != nil {
		return errorResult(unavailable(err))
	}
	if !ok {
		if ferr := e.recordFailure(ctx, e.limits.reauth, identityID); ferr != nil {
			e.warn("reauth failure not recorded", logging.IdentityID(identityID), zap.Error(ferr))
		}
		e.metricInc(MetricReauthRejected)
		e.emitAudit(ctx, auditEventReauthFailure, false, identityID, ErrInvalidCredentials, nil)
		return errorResult(ErrInvalidCredentials)
	}
	if err := e.recordSuccess(ctx, e.limits.reauth, identityID); err != nil {
		e.warn("reauth success not recorded", logging.IdentityID(identityID), zap.Error(err))
	}

	token, err := e.IssueReauthorization(ctx, ident, purpose, ops)
	if err != nil {
		return errorResult(err)
	}
	e.emitAudit(ctx, auditEventReauthSuccess, true, identityID, nil, func() map[string]string {
		return map[string]string{"purpose": purpose}
	})
	return Result{Outcome: OutcomeSuccess, IdentityID: identityID, ReauthToken: token}
}

// RequireReauthorization is the gate in front of sensitive operations. A
// missing, expired, revoked, malformed or foreign token yields an error
// wrapping ErrReauthorizationRequired; a valid token that does not list op
// yields ErrOperationNotAllowed.
func (e *Engine) RequireReauthorization(ctx context.Context, identityID, token string, op Operation) (*jwt.ReauthClaims, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if token == "" {
		e.metricInc(MetricReauthRejected)
		return nil, ErrReauthorizationRequired
	}
	claims, err := e.verifyReauth(ctx, token, op, identityID)
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, ErrOperationNotAllowed), errors.Is(err, ErrUnavailable):
	default:
		err = fmt.Errorf("%w: %w", ErrReauthorizationRequired, err)
	}
	e.metricInc(MetricReauthRejected)
	e.emitAudit(ctx, auditEventReauthRejected, false, identityID, err, func() map[string]string {
		return map[string]string{"op": string(op)}
	})
	return nil, err
}

// ChangePassword sets a new password, revokes every outstanding token and
// returns a fresh pair for the caller's session.
func (e *Engine) ChangePassword(ctx context.Context, identityID, reauthToken, newPassword string) Result {
	if _, err := e.RequireReauthorization(ctx, identityID, reauthToken, OperationPasswordChange); err != nil {
		return errorResult(err)
	}
	if err := e.checkPasswordPolicy(newPassword); err != nil {
		return errorResult(err)
	}
	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return errorResult(publicError(err))
	}
	if err := e.store.UpdatePasswordHash(ctx, identityID, hash); err != nil {
		return errorResult(publicError(err))
	}
	if _, err := e.bump(ctx, identityID, "password_change"); err != nil {
		return errorResult(err)
	}

	ident, err := e.store.GetIdentityByID(ctx, identityID)
	if err != nil {
		return errorResult(publicError(err))
	}
	pair, err := e.issueTokens(ctx, ident.ID, ident.Email)
	if err != nil {
		return errorResult(publicError(err))
	}

	e.notifyBestEffort(identityID, e.notifier.SendPasswordChanged(ctx, notify.AccountNotice{
		IdentityID: identityID,
		Email:      ident.Email,
		At:         e.now(),
	}))
	e.metricInc(MetricPasswordChanged)
	e.emitAudit(ctx, auditEventPasswordChanged, true, identityID, nil, nil)
	return successResult(identityID, tokenPair(pair))
}

// RequestEmailChange stores a pending change and sends a confirmation link to
// newEmail. The change applies only once ConfirmEmailChange sees the token.
func (e *Engine) RequestEmailChange(ctx context.Context, identityID, reauthToken, newEmail string) (EmailChangeRequest, error) {
	if _, err := e.RequireReauthorization(ctx, identityID, reauthToken, OperationEmailChange); err != nil {
		return EmailChangeRequest{}, err
	}
	newEmail = normalizeEmail(newEmail)
	if err := validateEmail(newEmail); err != nil {
		return EmailChangeRequest{}, err
	}
	if err := e.emailAvailable(ctx, newEmail, identityID); err != nil {
		return EmailChangeRequest{}, err
	}

	ident, err := e.store.GetIdentityByID(ctx, identityID)
	if err != nil {
		return EmailChangeRequest{}, publicError(err)
	}
	token, err := internal.NewOpaqueToken()
	if err != nil {
		return EmailChangeRequest{}, publicError(err)
	}
	change := &stores.EmailChange{
		Token:      token,
		IdentityID: identityID,
		NewEmail:   newEmail,
		ExpiresAt:  e.now().Add(e.config.Reauth.EmailChangeTTL),
	}
	if err := e.emailChanges.Save(ctx, change); err != nil {
		return EmailChangeRequest{}, publicError(err)
	}

	err = e.notifier.SendEmailChangeConfirmation(ctx, notify.EmailChange{
		IdentityID: identityID,
		OldEmail:   ident.Email,
		NewEmail:   newEmail,
		Token:      token,
		ExpiresAt:  change.ExpiresAt,
	})
	if err != nil {
		return EmailChangeRequest{}, publicError(err)
	}

	e.metricInc(MetricEmailChangeRequested)
	e.emitAudit(ctx, auditEventEmailChangeRequested, true, identityID, nil, nil)
	return EmailChangeRequest{NewEmail: newEmail, ExpiresAt: change.ExpiresAt}, nil
}

// ConfirmEmailChange applies a pending change, marks the new address as
// verified and revokes every outstanding token. The Result carries a fresh
// pair minted for the new address.
func (e *Engine) ConfirmEmailChange(ctx context.Context, token string) Result {
	if err := e.ready(); err != nil {
		return errorResult(err)
	}
	if !internal.ValidOpaqueToken(token) {
		return errorResult(ErrEmailChangeNotFound)
	}
	change, err := e.emailChanges.Take(ctx, token)
	if err != nil {
		return errorResult(publicError(err))
	}
	if err := e.emailAvailable(ctx, change.NewEmail, change.IdentityID); err != nil {
		return errorResult(err)
	}
	if err := e.store.UpdateEmail(ctx, change.IdentityID, change.NewEmail, true); err != nil {
		return errorResult(publicError(err))
	}
	if _, err := e.bump(ctx, change.IdentityID, "email_change"); err != nil {
		return errorResult(err)
	}
	pair, err := e.issueTokens(ctx, change.IdentityID, change.NewEmail)
	if err != nil {
		return errorResult(publicError(err))
	}

	e.metricInc(MetricEmailChanged)
	e.emitAudit(ctx, auditEventEmailChanged, true, change.IdentityID, nil, nil)
	return successResult(change.IdentityID, tokenPair(pair))
}

// RequestAccountDeletion revokes every token and deletes the identity.
func (e *Engine) RequestAccountDeletion(ctx context.Context, identityID, reauthToken string) error {
	if _, err := e.RequireReauthorization(ctx, identityID, reauthToken, OperationAccountDeletion); err != nil {
		return err
	}
	ident, err := e.store.GetIdentityByID(ctx, identityID)
	if err != nil {
		return publicError(err)
	}
	if _, err := e.bump(ctx, identityID, "account_deletion"); err != nil {
		return err
	}
	if err := e.store.DeleteIdentity(ctx, identityID); err != nil {
		return publicError(err)
	}
	e.forgetVersion(ctx, identityID)

	e.notifyBestEffort(identityID, e.notifier.SendAccountDeleted(ctx, notify.AccountNotice{
		IdentityID: identityID,
		Email:      ident.Email,
		At:         e.now(),
	}))
	e.metricInc(MetricAccountDeleted)
	e.emitAudit(ctx, auditEventAccountDeleted, true, identityID, nil, nil)
	return nil
}

// emailAvailable fails with ErrEmailAlreadyExists when email belongs to an
// identity other than owner.
func (e *Engine) emailAvailable(ctx context.Context, email, owner string) error {
	other, err := e.store.GetIdentityByEmail(ctx, email)
	switch {
	case err != nil && isNotFound(err):
		return nil
	case err != nil:
		return publicError(err)
	case other.ID != owner:
		return ErrEmailAlreadyExists
	}
	return nil
}

func (e *Engine) notifyBestEffort(identityID string, err error) {
	if err != nil {
		e.warn("notification not queued", logging.IdentityID(identityID), zap.Error(err))
	}
}
