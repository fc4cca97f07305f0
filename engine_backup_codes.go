package goIdentity

import (
	"context"

	"github.com/MrEthical07/goIdentity/mfa"
)

func (e *Engine) replaceBackupCodes(ctx context.Context, identityID string) ([]string, error) {
	set, err := mfa.GenerateBackupCodes(e.config.MFA.BackupCodeCount, e.config.MFA.BackupCodeLength)
	if err != nil {
		return nil, publicError(err)
	}
	if err := e.store.ReplaceBackupCodes(ctx, identityID, set.Hashes); err != nil {
		return nil, publicError(err)
	}
	e.metricInc(MetricBackupCodesGenerated)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, identityID, nil, nil)
	return set.Codes, nil
}

// GenerateBackupCodes replaces every backup code of the identity and returns
// the new ones in plaintext. It needs a reauthorization token allowing
// OperationMFAChange and an enrolled second factor.
func (e *Engine) GenerateBackupCodes(ctx context.Context, identityID, reauthToken string) ([]string, error) {
	if _, err := e.RequireReauthorization(ctx, identityID, reauthToken, OperationMFAChange); err != nil {
		return nil, err
	}
	enr, err := e.store.GetMFAEnrollment(ctx, identityID)
	if err != nil {
		return nil, publicError(err)
	}
	if enr.TOTPSecret == "" && enr.Phone == "" && enr.Email == "" {
		return nil, ErrMFANotEnabled
	}
	return e.replaceBackupCodes(ctx, identityID)
}

// BackupCodesRemaining counts unused backup codes.
func (e *Engine) BackupCodesRemaining(ctx context.Context, identityID string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	enr, err := e.store.GetMFAEnrollment(ctx, identityID)
	if err != nil {
		return 0, publicError(err)
	}
	return enr.BackupCodesRemaining, nil
}
