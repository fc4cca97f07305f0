package security

import (
	"fmt"
	"time"
)

type PasswordReport struct {
	Algorithm   string
	BcryptCost  int
	Memory      uint32
	Time        uint32
	Parallelism uint8
}

type Report struct {
	ProductionMode       bool
	SigningAlgorithm     string
	SigningKeyID         string
	VerificationKeys     int
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	ReauthTTL            time.Duration
	Password             PasswordReport
	SessionBackend       string
	RateLimitingActive   bool
	PerIPLimits          bool
	MFAMaxAttempts       int
	TOTPReplayProtection bool
	BackupCodeCount      int
	OAuthProviders       int
	RedirectAllowList    bool
	SecureCookies        bool
	AuditEnabled         bool

	// Warnings lists settings that are legal but weaker than recommended.
	Warnings []string
}

type ReportInput struct {
	ProductionMode       bool
	SigningAlgorithm     string
	SigningKeyID         string
	VerificationKeys     int
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	ReauthTTL            time.Duration
	Password             PasswordReport
	SessionBackend       string
	LimitsDisabled       []string
	PerIPLimits          bool
	MFAMaxAttempts       int
	TOTPReplayProtection bool
	BackupCodeCount      int
	OAuthProviders       int
	RedirectAllowList    int
	SecureCookies        bool
	AuditEnabled         bool
}

func BuildReport(in ReportInput) Report {
	r := Report{
		ProductionMode:       in.ProductionMode,
		SigningAlgorithm:     in.SigningAlgorithm,
		SigningKeyID:         in.SigningKeyID,
		VerificationKeys:     in.VerificationKeys,
		AccessTTL:            in.AccessTTL,
		RefreshTTL:           in.RefreshTTL,
		ReauthTTL:            in.ReauthTTL,
		Password:             in.Password,
		SessionBackend:       in.SessionBackend,
		RateLimitingActive:   len(in.LimitsDisabled) == 0,
		PerIPLimits:          in.PerIPLimits,
		MFAMaxAttempts:       in.MFAMaxAttempts,
		TOTPReplayProtection: in.TOTPReplayProtection,
		BackupCodeCount:      in.BackupCodeCount,
		OAuthProviders:       in.OAuthProviders,
		RedirectAllowList:    in.RedirectAllowList > 0,
		SecureCookies:        in.SecureCookies,
		AuditEnabled:         in.AuditEnabled,
	}

	warn := func(format string, args ...any) {
		r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
	}
	if in.SigningAlgorithm == "HS256" {
		warn("tokens are signed with a shared secret; prefer EdDSA or ES256")
	}
	if in.SessionBackend == "memory" {
		warn("session versions are process-local; revocation does not reach other instances")
	}
	for _, name := range in.LimitsDisabled {
		warn("rate limit %q is disabled", name)
	}
	if !in.PerIPLimits {
		warn("per-IP login limits are off")
	}
	if !in.TOTPReplayProtection {
		warn("TOTP codes can be replayed within their window")
	}
	if in.OAuthProviders > 0 && in.RedirectAllowList == 0 {
		warn("OAuth accepts any redirect URI")
	}
	if !in.SecureCookies {
		warn("cookies are sent over plain HTTP")
	}
	if in.Password.Algorithm == "bcrypt" && in.Password.BcryptCost > 0 && in.Password.BcryptCost < 12 {
		warn("bcrypt cost %d is below 12", in.Password.BcryptCost)
	}
	if in.AccessTTL > 15*time.Minute {
		warn("access tokens live longer than 15m")
	}
	return r
}
