package goIdentity

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/internal/logging"
	"github.com/MrEthical07/goIdentity/internal/stores"
	"github.com/MrEthical07/goIdentity/mfa"
	"github.com/MrEthical07/goIdentity/notify"
)

// InitializeSetup starts enrolling method. For TOTP the result carries the
// secret, the otpauth URL and a QR code; for SMS and email a confirmation code
// is sent to identifier. Nothing is enabled until ConfirmSetup succeeds.
func (e *Engine) InitializeSetup(ctx context.Context, identityID string, method mfa.Method, identifier string) (Setup, error) {
	if err := e.ready(); err != nil {
		return Setup{}, err
	}
	if !method.Valid() || method == mfa.MethodBackupCode {
		return Setup{}, ErrMethodUnavailable
	}
	if err := e.attempt(ctx, e.limits.setup, identityID); err != nil {
		return Setup{}, publicError(err)
	}
	ident, err := e.store.GetIdentityByID(ctx, identityID)
	if err != nil {
		return Setup{}, publicError(err)
	}

	expires := e.now().Add(e.config.MFA.SetupTTL)
	pending := &stores.PendingSetup{
		IdentityID: identityID,
		Method:     string(method),
		ExpiresAt:  expires,
	}
	out := Setup{Method: method, ExpiresAt: expires}

	if method == mfa.MethodTOTP {
		enr, err := e.totp.Generate(ident.Email)
		if err != nil {
			return Setup{}, publicError(err)
		}
		pending.Secret = enr.Secret
		out.Secret, out.URL, out.QRPNG = enr.Secret, enr.URL, enr.QRPNG
		if err := e.setups.Save(ctx, pending); err != nil {
			return Setup{}, publicError(err)
		}
	} else {
		dest, err := destination(method, identifier)
		if err != nil {
			return Setup{}, err
		}
		code, err := internal.NewOTP(e.config.MFA.CodeDigits)
		if err != nil {
			return Setup{}, publicError(err)
		}
		pending.Destination = dest
		pending.CodeHash = internal.HashCode(code)
		pending.HasCode = true
		if err := e.setups.Save(ctx, pending); err != nil {
			return Setup{}, publicError(err)
		}
		err = e.notifier.SendSetupCode(ctx, notify.Code{
			IdentityID:  identityID,
			Channel:     channelFor(method),
			Destination: dest,
			Code:        code,
			ExpiresAt:   expires,
		})
		if err != nil {
			return Setup{}, publicError(err)
		}
		e.metricInc(MetricMFACodeSent)
		out.Destination = dest
	}

	e.emitAudit(ctx, auditEventMFASetupStarted, true, identityID, nil, func() map[string]string {
		return map[string]string{"method": string(method)}
	})
	return out, nil
}

// ConfirmSetup enables a pending method once code checks out. The first
// second factor an identity enables also gets a fresh set of backup codes,
// returned here in plaintext exactly once.
func (e *Engine) ConfirmSetup(ctx context.Context, identityID string, method mfa.Method, code string) (SetupResult, error) {
	if err := e.ready(); err != nil {
		return SetupResult{}, err
	}
	if !method.Valid() || method == mfa.MethodBackupCode {
		return SetupResult{}, ErrMethodUnavailable
	}
	if err := e.attempt(ctx, e.limits.setup, identityID); err != nil {
		return SetupResult{}, publicError(err)
	}

	pending, err := e.setups.Get(ctx, identityID, string(method))
	if err != nil {
		return SetupResult{}, publicError(err)
	}

	attempt := mfa.Attempt{
		IdentityID:    identityID,
		Code:          code,
		Now:           e.now(),
		Enrollment:    mfa.Enrollment{TOTPSecret: pending.Secret},
		DeliveredHash: pending.CodeHash,
		HasDelivered:  pending.HasCode,
	}
	res, err := e.verifiers[method].Verify(ctx, attempt)
	if err != nil && !errors.Is(err, mfa.ErrReplayed) {
		return SetupResult{}, publicError(err)
	}
	if err != nil || !res.OK {
		if ferr := e.recordFailure(ctx, e.limits.setup, identityID); ferr != nil {
			e.warn("setup failure not recorded", logging.IdentityID(identityID), zap.Error(ferr))
		}
		return SetupResult{}, ErrCodeInvalid
	}

	before, err := e.store.GetMFAEnrollment(ctx, identityID)
	if err != nil {
		return SetupResult{}, publicError(err)
	}
	if method == mfa.MethodTOTP {
		err = e.store.SaveTOTPSecret(ctx, identityID, pending.Secret)
	} else {
		err = e.store.SaveMFADestination(ctx, identityID, method, pending.Destination)
	}
	if err != nil {
		return SetupResult{}, publicError(err)
	}
	if err := e.setups.Delete(ctx, identityID, string(method)); err != nil {
		e.warn("pending setup not deleted", logging.IdentityID(identityID), zap.Error(err))
	}
	if err := e.recordSuccess(ctx, e.limits.setup, identityID); err != nil {
		e.warn("setup success not recorded", logging.IdentityID(identityID), zap.Error(err))
	}

	out := SetupResult{Method: method}
	if !before.Enabled() && before.BackupCodesRemaining == 0 {
		codes, err := e.replaceBackupCodes(ctx, identityID)
		if err != nil {
			return SetupResult{}, err
		}
		out.BackupCodes = codes
	}

	e.metricInc(MetricMFASetupConfirmed)
	e.emitAudit(ctx, auditEventMFASetupConfirmed, true, identityID, nil, func() map[string]string {
		return map[string]string{"method": string(method)}
	})
	return out, nil
}

// DisableMFA removes every second factor and backup code. It needs a
// reauthorization token allowing OperationMFAChange.
func (e *Engine) DisableMFA(ctx context.Context, identityID, reauthToken string) error {
	if _, err := e.RequireReauthorization(ctx, identityID, reauthToken, OperationMFAChange); err != nil {
		return err
	}
	if err := e.store.DisableMFA(ctx, identityID); err != nil {
		return publicError(err)
	}
	e.emitAudit(ctx, auditEventMFADisabled, true, identityID, nil, nil)
	return nil
}

// destination validates where a setup code is sent.
func destination(method mfa.Method, identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	switch method {
	case mfa.MethodEmail:
		email := normalizeEmail(identifier)
		if err := validateEmail(email); err != nil {
			return "", err
		}
		return email, nil
	case mfa.MethodSMS:
		if !validPhone(identifier) {
			return "", ErrInvalidDestination
		}
		return identifier, nil
	}
	return "", ErrMethodUnavailable
}

// validPhone accepts E.164 numbers: a plus sign and 8 to 15 digits.
func validPhone(s string) bool {
	if len(s) < 9 || len(s) > 16 || s[0] != '+' {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
