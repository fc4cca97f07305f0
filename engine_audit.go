package goIdentity

import (
	"context"

	"github.com/google/uuid"
)

const (
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventIdentityCreated      = "identity_created"
	auditEventIdentityDuplicate    = "identity_duplicate"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshFailure       = "refresh_failure"
	auditEventSessionRevoked       = "session_revoked"
	auditEventLogoutEverywhere     = "logout_everywhere"
	auditEventCompromiseReported   = "compromise_reported"
	auditEventRateLimitTriggered   = "rate_limit_triggered"
	auditEventMFARequired          = "mfa_required"
	auditEventMFASuccess           = "mfa_success"
	auditEventMFAFailure           = "mfa_failure"
	auditEventMFAAttemptsExhausted = "mfa_attempts_exhausted"
	auditEventMFACodeSent          = "mfa_code_sent"
	auditEventMFASetupStarted      = "mfa_setup_started"
	auditEventMFASetupConfirmed    = "mfa_setup_confirmed"
	auditEventMFADisabled          = "mfa_disabled"
	auditEventBackupCodesGenerated = "backup_codes_generated"
	auditEventBackupCodeUsed       = "backup_code_used"
	auditEventReauthSuccess        = "reauth_success"
	auditEventReauthFailure        = "reauth_failure"
	auditEventReauthRejected       = "reauth_rejected"
	auditEventPasswordChanged      = "password_changed"
	auditEventEmailChangeRequested = "email_change_requested"
	auditEventEmailChanged         = "email_changed"
	auditEventAccountDeleted       = "account_deleted"
	auditEventOAuthBegin           = "oauth_begin"
	auditEventOAuthSuccess         = "oauth_success"
	auditEventOAuthFailure         = "oauth_failure"
	auditEventOAuthLinked          = "oauth_linked"
)

// emitAudit records one decision. Metadata is built lazily so that a disabled
// dispatcher costs nothing.
func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	identityID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		ID:         uuid.NewString(),
		Timestamp:  e.now().UTC(),
		EventType:  eventType,
		IdentityID: identityID,
		IP:         ClientIPFromContext(ctx),
		UserAgent:  UserAgentFromContext(ctx),
		Success:    success,
		Metadata:   metadata,
	}
	if err != nil {
		event.Error = KindOf(err).String()
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope, subject string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", ErrRateLimited, func() map[string]string {
		return map[string]string{"scope": scope}
	})
}
