package goIdentity

import (
	"github.com/MrEthical07/goIdentity/internal/security"
	"github.com/MrEthical07/goIdentity/keys"
)

type SecurityReport = security.Report

// SecurityReport summarizes the engine's effective security posture and
// lists settings weaker than recommended.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	return buildSecurityReport(e.config, e.ring, e.backendMode, len(e.Providers()))
}

// ConfigReport is SecurityReport for a configuration that has not been
// built into an engine. ring may be nil.
func ConfigReport(cfg Config, ring *keys.Ring) SecurityReport {
	return buildSecurityReport(cfg, ring, "", 0)
}

func buildSecurityReport(cfg Config, ring *keys.Ring, backend string, providers int) SecurityReport {
	in := security.ReportInput{
		ProductionMode: cfg.Security.ProductionMode,
		AccessTTL:      cfg.Tokens.AccessTTL,
		RefreshTTL:     cfg.Tokens.RefreshTTL,
		ReauthTTL:      cfg.Reauth.TTL,
		Password: security.PasswordReport{
			Algorithm:   cfg.Password.Algorithm,
			BcryptCost:  cfg.Password.BcryptCost,
			Memory:      cfg.Password.Argon2.Memory,
			Time:        cfg.Password.Argon2.Time,
			Parallelism: cfg.Password.Argon2.Parallelism,
		},
		SessionBackend:       backend,
		PerIPLimits:          cfg.RateLimits.PerIP,
		MFAMaxAttempts:       cfg.MFA.MaxAttempts,
		TOTPReplayProtection: cfg.MFA.TOTP.ReplayProtection,
		BackupCodeCount:      cfg.MFA.BackupCodeCount,
		OAuthProviders:       providers,
		RedirectAllowList:    len(cfg.OAuth.AllowedRedirectURIs),
		SecureCookies:        cfg.Cookies.Secure,
		AuditEnabled:         cfg.Audit.Enabled,
	}
	for _, np := range cfg.RateLimits.named() {
		if np.p.Disabled {
			in.LimitsDisabled = append(in.LimitsDisabled, np.name)
		}
	}
	if ring != nil {
		in.SigningKeyID = ring.CurrentID()
		in.VerificationKeys = len(ring.KeyIDs())
		if k, err := ring.SigningKey(); err == nil {
			in.SigningAlgorithm = string(k.Algorithm)
		}
	}
	return security.BuildReport(in)
}
