package goIdentity

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/MrEthical07/goIdentity/internal/logging"
	"github.com/MrEthical07/goIdentity/session"
)

// SessionVersion returns the identity's current session version.
func (e *Engine) SessionVersion(ctx context.Context, identityID string) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	v, err := e.versions.Current(ctx, identityID)
	if err != nil {
		return 0, publicError(err)
	}
	return v, nil
}

// bump moves the session version forward, revoking every token minted
// before. With Redis the new version is live before its durable copy is
// written; a failed durable write is still reported, because losing the
// Redis key would reseed the old version and revive the revoked tokens.
// Retrying the operation bumps again and persists the higher value.
func (e *Engine) bump(ctx context.Context, identityID, reason string) (uint64, error) {
	v, err := e.versions.Bump(ctx, identityID)
	if err != nil {
		return 0, publicError(err)
	}
	e.metricInc(MetricSessionVersionBumped)
	e.emitAudit(ctx, auditEventSessionRevoked, true, identityID, nil, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return v, nil
}

// LogoutEverywhere revokes every outstanding token of the identity.
func (e *Engine) LogoutEverywhere(ctx context.Context, identityID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if _, err := e.bump(ctx, identityID, "logout_everywhere"); err != nil {
		return err
	}
	e.emitAudit(ctx, auditEventLogoutEverywhere, true, identityID, nil, nil)
	return nil
}

// ReportCompromise revokes every token of the identity and records why.
func (e *Engine) ReportCompromise(ctx context.Context, identityID, reason string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if _, err := e.bump(ctx, identityID, "compromise"); err != nil {
		return err
	}
	e.emitAudit(ctx, auditEventCompromiseReported, true, identityID, nil, func() map[string]string {
		return map[string]string{"detail": strings.TrimSpace(reason)}
	})
	return nil
}

// forgetVersion drops a cached version after the identity is deleted.
func (e *Engine) forgetVersion(ctx context.Context, identityID string) {
	rs, ok := e.versions.(*session.RedisStore)
	if !ok {
		return
	}
	if err := rs.Forget(ctx, identityID); err != nil {
		e.warn("forget session version failed", logging.IdentityID(identityID), zap.Error(err))
	}
}
