package goIdentity

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/internal/logging"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/password"
)

// Config is built once at startup and threaded through the Builder. Start
// from DefaultConfig, optionally overlay a file with LoadConfigFile, then
// adjust fields in code.
type Config struct {
	Tokens     TokenConfig     `yaml:"tokens" toml:"tokens"`
	Keys       KeysConfig      `yaml:"keys" toml:"keys"`
	Password   PasswordConfig  `yaml:"password" toml:"password"`
	MFA        MFAConfig       `yaml:"mfa" toml:"mfa"`
	RateLimits RateLimitConfig `yaml:"rate_limits" toml:"rate_limits"`
	Reauth     ReauthConfig    `yaml:"reauth" toml:"reauth"`
	OAuth      OAuthConfig     `yaml:"oauth" toml:"oauth"`
	Session    SessionConfig   `yaml:"session" toml:"session"`
	Cookies    CookieConfig    `yaml:"cookies" toml:"cookies"`
	Audit      AuditConfig     `yaml:"audit" toml:"audit"`
	Metrics    MetricsConfig   `yaml:"metrics" toml:"metrics"`
	Notify     NotifyConfig    `yaml:"notify" toml:"notify"`
	Logging    LoggingConfig   `yaml:"logging" toml:"logging"`
	Security   SecurityConfig  `yaml:"security" toml:"security"`
}

/*
====================================
TOKENS
====================================
*/

// TokenConfig sets token lifetimes. RefreshBuffer is the remaining access
// lifetime below which ShouldRefresh reports true.
type TokenConfig struct {
	Issuer        string        `yaml:"issuer" toml:"issuer"`
	AccessTTL     time.Duration `yaml:"access_ttl" toml:"access_ttl"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl" toml:"refresh_ttl"`
	RefreshBuffer time.Duration `yaml:"refresh_buffer" toml:"refresh_buffer"`
	Leeway        time.Duration `yaml:"leeway" toml:"leeway"`
}

// KeysConfig points at a directory of PEM keys. Keys given to the Builder
// directly take precedence.
type KeysConfig struct {
	Dir        string `yaml:"dir" toml:"dir"`
	CurrentKID string `yaml:"current_kid" toml:"current_kid"`
	Watch      bool   `yaml:"watch" toml:"watch"`
}

/*
====================================
PASSWORD
====================================
*/

type PasswordConfig struct {
	// Algorithm is "bcrypt" or "argon2id". Hashes in the other format still
	// verify and are upgraded on login when RehashOnLogin is set.
	Algorithm     string       `yaml:"algorithm" toml:"algorithm"`
	BcryptCost    int          `yaml:"bcrypt_cost" toml:"bcrypt_cost"`
	Argon2        Argon2Params `yaml:"argon2" toml:"argon2"`
	MinLength     int          `yaml:"min_length" toml:"min_length"`
	MaxLength     int          `yaml:"max_length" toml:"max_length"`
	RehashOnLogin bool         `yaml:"rehash_on_login" toml:"rehash_on_login"`
}

type Argon2Params struct {
	Memory      uint32 `yaml:"memory_kib" toml:"memory_kib"`
	Time        uint32 `yaml:"time" toml:"time"`
	Parallelism uint8  `yaml:"parallelism" toml:"parallelism"`
	SaltLength  uint32 `yaml:"salt_length" toml:"salt_length"`
	KeyLength   uint32 `yaml:"key_length" toml:"key_length"`
}

/*
====================================
MFA
====================================
*/

type MFAConfig struct {
	ChallengeTTL     time.Duration `yaml:"challenge_ttl" toml:"challenge_ttl"`
	MaxAttempts      int           `yaml:"max_attempts" toml:"max_attempts"`
	CodeDigits       int           `yaml:"code_digits" toml:"code_digits"`
	SetupTTL         time.Duration `yaml:"setup_ttl" toml:"setup_ttl"`
	BackupCodeCount  int           `yaml:"backup_code_count" toml:"backup_code_count"`
	BackupCodeLength int           `yaml:"backup_code_length" toml:"backup_code_length"`
	TOTP             TOTPConfig    `yaml:"totp" toml:"totp"`
}

type TOTPConfig struct {
	Issuer    string `yaml:"issuer" toml:"issuer"`
	Digits    int    `yaml:"digits" toml:"digits"`
	Period    uint   `yaml:"period" toml:"period"`
	Skew      uint   `yaml:"skew" toml:"skew"`
	Algorithm string `yaml:"algorithm" toml:"algorithm"`
	// ReplayProtection accepts each (identity, time step) pair once.
	ReplayProtection bool `yaml:"replay_protection" toml:"replay_protection"`
}

/*
====================================
RATE LIMITS
====================================
*/

// RateWindow allows Max attempts per Duration.
type RateWindow struct {
	Duration time.Duration `yaml:"duration" toml:"duration"`
	Max      int           `yaml:"max" toml:"max"`
}

// RatePolicy limits one operation. The caller is limited when any window
// is full; failures only count calls that ended in a wrong secret.
type RatePolicy struct {
	Attempts       []RateWindow `yaml:"attempts" toml:"attempts"`
	Failures       []RateWindow `yaml:"failures" toml:"failures"`
	ResetOnSuccess bool         `yaml:"reset_on_success" toml:"reset_on_success"`
	Disabled       bool         `yaml:"disabled" toml:"disabled"`
}

type RateLimitConfig struct {
	Login    RatePolicy `yaml:"login" toml:"login"`
	MFA      RatePolicy `yaml:"mfa" toml:"mfa"`
	Reauth   RatePolicy `yaml:"reauth" toml:"reauth"`
	Refresh  RatePolicy `yaml:"refresh" toml:"refresh"`
	OAuth    RatePolicy `yaml:"oauth" toml:"oauth"`
	Register RatePolicy `yaml:"register" toml:"register"`
	Setup    RatePolicy `yaml:"setup" toml:"setup"`
	// PerIP adds an IP-keyed login check when the client IP is known.
	PerIP bool `yaml:"per_ip" toml:"per_ip"`
}

func (c RateLimitConfig) named() []struct {
	name string
	p    RatePolicy
} {
	return []struct {
		name string
		p    RatePolicy
	}{
		{"login", c.Login},
		{"mfa", c.MFA},
		{"reauth", c.Reauth},
		{"refresh", c.Refresh},
		{"oauth", c.OAuth},
		{"register", c.Register},
		{"setup", c.Setup},
	}
}

func (p RatePolicy) policy(name string) rate.Policy {
	out := rate.Policy{Name: name, ResetOnSuccess: p.ResetOnSuccess}
	for _, w := range p.Attempts {
		out.Attempts = append(out.Attempts, rate.Window{Duration: w.Duration, Max: w.Max})
	}
	for _, w := range p.Failures {
		out.Failures = append(out.Failures, rate.Window{Duration: w.Duration, Max: w.Max})
	}
	return out
}

/*
====================================
REAUTH / OAUTH / SESSION
====================================
*/

type ReauthConfig struct {
	TTL time.Duration `yaml:"ttl" toml:"ttl"`
	// EmailChangeTTL bounds how long a confirmation link stays valid.
	EmailChangeTTL time.Duration `yaml:"email_change_ttl" toml:"email_change_ttl"`
}

type OAuthConfig struct {
	StateTTL time.Duration `yaml:"state_ttl" toml:"state_ttl"`
	// AllowedRedirectURIs restricts redirect URIs when non-empty.
	AllowedRedirectURIs   []string `yaml:"allowed_redirect_uris" toml:"allowed_redirect_uris"`
	AutoLinkVerifiedEmail bool     `yaml:"auto_link_verified_email" toml:"auto_link_verified_email"`
}

type SessionConfig struct {
	RedisPrefix string `yaml:"redis_prefix" toml:"redis_prefix"`
	// Direct reads session versions from the identity store even when Redis
	// is configured.
	Direct bool `yaml:"direct" toml:"direct"`
}

type CookieConfig struct {
	AccessName  string `yaml:"access_name" toml:"access_name"`
	RefreshName string `yaml:"refresh_name" toml:"refresh_name"`
	ReauthName  string `yaml:"reauth_name" toml:"reauth_name"`
	Domain      string `yaml:"domain" toml:"domain"`
	Path        string `yaml:"path" toml:"path"`
	RefreshPath string `yaml:"refresh_path" toml:"refresh_path"`
	Secure      bool   `yaml:"secure" toml:"secure"`
}

type AuditConfig struct {
	Enabled    bool `yaml:"enabled" toml:"enabled"`
	BufferSize int  `yaml:"buffer_size" toml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full" toml:"drop_if_full"`
}

type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled" toml:"enabled"`
	EnableLatencyHistograms bool `yaml:"latency_histograms" toml:"latency_histograms"`
}

// NotifyConfig sizes the delivery queue and the per-destination code
// throttle: ThrottleBurst codes at once, then one per ThrottleInterval.
type NotifyConfig struct {
	BufferSize       int           `yaml:"buffer_size" toml:"buffer_size"`
	Workers          int           `yaml:"workers" toml:"workers"`
	Timeout          time.Duration `yaml:"timeout" toml:"timeout"`
	ThrottleInterval time.Duration `yaml:"throttle_interval" toml:"throttle_interval"`
	ThrottleBurst    int           `yaml:"throttle_burst" toml:"throttle_burst"`
}

type LoggingConfig struct {
	Env         string `yaml:"env" toml:"env"`
	Level       string `yaml:"level" toml:"level"`
	ServiceName string `yaml:"service_name" toml:"service_name"`
	Version     string `yaml:"version" toml:"version"`
}

func (c LoggingConfig) logging() logging.Config {
	return logging.Config{Env: c.Env, Level: c.Level, ServiceName: c.ServiceName, Version: c.Version}
}

type SecurityConfig struct {
	// ProductionMode turns on the stricter checks at the end of Validate.
	ProductionMode bool `yaml:"production_mode" toml:"production_mode"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func window(d time.Duration, max int) RateWindow { return RateWindow{Duration: d, Max: max} }

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Tokens: TokenConfig{
			Issuer:        "goIdentity",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			RefreshBuffer: 5 * time.Minute,
			Leeway:        30 * time.Second,
		},
		Password: PasswordConfig{
			Algorithm:  "bcrypt",
			BcryptCost: 12,
			Argon2: Argon2Params{
				Memory:      64 * 1024,
				Time:        3,
				Parallelism: 2,
				SaltLength:  16,
				KeyLength:   32,
			},
			MinLength:     8,
			MaxLength:     72,
			RehashOnLogin: true,
		},
		MFA: MFAConfig{
			ChallengeTTL:     5 * time.Minute,
			MaxAttempts:      3,
			CodeDigits:       6,
			SetupTTL:         10 * time.Minute,
			BackupCodeCount:  10,
			BackupCodeLength: 10,
			TOTP: TOTPConfig{
				Issuer:           "goIdentity",
				Digits:           6,
				Period:           30,
				Skew:             1,
				Algorithm:        "SHA1",
				ReplayProtection: true,
			},
		},
		RateLimits: RateLimitConfig{
			Login: RatePolicy{
				Attempts:       []RateWindow{window(10*time.Second, 5), window(time.Minute, 20)},
				Failures:       []RateWindow{window(15*time.Minute, 10)},
				ResetOnSuccess: true,
			},
			MFA: RatePolicy{
				Attempts:       []RateWindow{window(time.Minute, 10)},
				Failures:       []RateWindow{window(15*time.Minute, 10)},
				ResetOnSuccess: true,
			},
			Reauth: RatePolicy{
				Attempts:       []RateWindow{window(time.Minute, 5)},
				Failures:       []RateWindow{window(15*time.Minute, 10)},
				ResetOnSuccess: true,
			},
			Refresh: RatePolicy{
				Attempts: []RateWindow{window(time.Minute, 60)},
			},
			OAuth: RatePolicy{
				Attempts: []RateWindow{window(time.Minute, 20)},
			},
			Register: RatePolicy{
				Attempts: []RateWindow{window(time.Hour, 10)},
			},
			Setup: RatePolicy{
				Attempts:       []RateWindow{window(10*time.Minute, 10)},
				Failures:       []RateWindow{window(10*time.Minute, 5)},
				ResetOnSuccess: true,
			},
			PerIP: true,
		},
		Reauth: ReauthConfig{
			TTL:            5 * time.Minute,
			EmailChangeTTL: 24 * time.Hour,
		},
		OAuth: OAuthConfig{
			StateTTL:              10 * time.Minute,
			AutoLinkVerifiedEmail: true,
		},
		Session: SessionConfig{RedisPrefix: "gi"},
		Cookies: CookieConfig{
			AccessName:  "gi_access",
			RefreshName: "gi_refresh",
			ReauthName:  "gi_reauth",
			Path:        "/",
			RefreshPath: "/auth/refresh",
			Secure:      true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Notify: NotifyConfig{
			BufferSize:       256,
			Workers:          2,
			Timeout:          10 * time.Second,
			ThrottleInterval: 30 * time.Second,
			ThrottleBurst:    3,
		},
		Logging: LoggingConfig{Env: "dev", Level: "info", ServiceName: "goIdentity"},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.OAuth.AllowedRedirectURIs = append([]string(nil), cfg.OAuth.AllowedRedirectURIs...)
	out.RateLimits.Login = clonePolicy(cfg.RateLimits.Login)
	out.RateLimits.MFA = clonePolicy(cfg.RateLimits.MFA)
	out.RateLimits.Reauth = clonePolicy(cfg.RateLimits.Reauth)
	out.RateLimits.Refresh = clonePolicy(cfg.RateLimits.Refresh)
	out.RateLimits.OAuth = clonePolicy(cfg.RateLimits.OAuth)
	out.RateLimits.Register = clonePolicy(cfg.RateLimits.Register)
	out.RateLimits.Setup = clonePolicy(cfg.RateLimits.Setup)
	return out
}

func clonePolicy(p RatePolicy) RatePolicy {
	p.Attempts = append([]RateWindow(nil), p.Attempts...)
	p.Failures = append([]RateWindow(nil), p.Failures...)
	return p
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first problem found in c.
func (c *Config) Validate() error {
	// Tokens
	if c.Tokens.Issuer == "" {
		return errors.New("Tokens Issuer is required")
	}
	if c.Tokens.AccessTTL <= 0 {
		return errors.New("Tokens AccessTTL must be > 0")
	}
	if c.Tokens.RefreshTTL <= c.Tokens.AccessTTL {
		return errors.New("Tokens RefreshTTL must be longer than AccessTTL")
	}
	if c.Tokens.RefreshBuffer < 0 || c.Tokens.RefreshBuffer >= c.Tokens.AccessTTL {
		return errors.New("Tokens RefreshBuffer must be >= 0 and shorter than AccessTTL")
	}
	if c.Tokens.Leeway < 0 || c.Tokens.Leeway > 2*time.Minute {
		return errors.New("Tokens Leeway must be between 0 and 2m")
	}

	// Password
	switch c.Password.Algorithm {
	case "bcrypt":
		if c.Password.BcryptCost != 0 && (c.Password.BcryptCost < 10 || c.Password.BcryptCost > 31) {
			return errors.New("Password BcryptCost must be between 10 and 31")
		}
	case "argon2id":
		if _, err := password.NewArgon2(c.Password.Argon2.toPassword()); err != nil {
			return fmt.Errorf("Password Argon2: %w", err)
		}
	default:
		return errors.New("Password Algorithm must be 'bcrypt' or 'argon2id'")
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}
	if c.Password.Algorithm == "bcrypt" && c.Password.MaxLength > 72 {
		return errors.New("Password MaxLength must be <= 72 with bcrypt")
	}

	// MFA
	if c.MFA.ChallengeTTL <= 0 {
		return errors.New("MFA ChallengeTTL must be > 0")
	}
	if c.MFA.MaxAttempts <= 0 || c.MFA.MaxAttempts > 10 {
		return errors.New("MFA MaxAttempts must be between 1 and 10")
	}
	if c.MFA.CodeDigits < 6 || c.MFA.CodeDigits > 10 {
		return errors.New("MFA CodeDigits must be between 6 and 10")
	}
	if c.MFA.SetupTTL <= 0 {
		return errors.New("MFA SetupTTL must be > 0")
	}
	if c.MFA.BackupCodeCount <= 0 {
		return errors.New("MFA BackupCodeCount must be > 0")
	}
	if c.MFA.BackupCodeLength < 6 {
		return errors.New("MFA BackupCodeLength must be >= 6")
	}
	if c.MFA.TOTP.Issuer == "" {
		return errors.New("MFA TOTP Issuer is required")
	}
	if c.MFA.TOTP.Digits != 6 && c.MFA.TOTP.Digits != 8 {
		return errors.New("MFA TOTP Digits must be 6 or 8")
	}
	if c.MFA.TOTP.Period < 15 {
		return errors.New("MFA TOTP Period must be >= 15 seconds")
	}
	switch strings.ToUpper(c.MFA.TOTP.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("MFA TOTP Algorithm must be SHA1, SHA256, or SHA512")
	}

	// Rate limits
	for _, np := range c.RateLimits.named() {
		if np.p.Disabled {
			continue
		}
		if err := np.p.policy(np.name).Validate(); err != nil {
			return fmt.Errorf("RateLimits: %w", err)
		}
	}

	if c.Reauth.TTL <= 0 || c.Reauth.TTL > 30*time.Minute {
		return errors.New("Reauth TTL must be between 0 and 30m")
	}
	if c.Reauth.EmailChangeTTL <= 0 {
		return errors.New("Reauth EmailChangeTTL must be > 0")
	}

	// OAuth
	if c.OAuth.StateTTL <= 0 {
		return errors.New("OAuth StateTTL must be > 0")
	}
	for _, raw := range c.OAuth.AllowedRedirectURIs {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("OAuth AllowedRedirectURIs entry %q is not an absolute URL", raw)
		}
	}

	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix is required")
	}

	if c.Cookies.AccessName == "" || c.Cookies.RefreshName == "" || c.Cookies.ReauthName == "" {
		return errors.New("Cookies names are required")
	}
	if c.Cookies.RefreshPath == "" || !strings.HasPrefix(c.Cookies.RefreshPath, "/") {
		return errors.New("Cookies RefreshPath must be an absolute path")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	if c.Notify.BufferSize <= 0 || c.Notify.Workers <= 0 {
		return errors.New("Notify BufferSize and Workers must be > 0")
	}
	if c.Notify.ThrottleInterval <= 0 || c.Notify.ThrottleBurst <= 0 {
		return errors.New("Notify throttle must be configured")
	}

	if c.Security.ProductionMode {
		if c.Tokens.AccessTTL > 15*time.Minute {
			return errors.New("ProductionMode requires Tokens AccessTTL <= 15m")
		}
		if c.Tokens.RefreshTTL > 30*24*time.Hour {
			return errors.New("ProductionMode requires Tokens RefreshTTL <= 30d")
		}
		if !c.Cookies.Secure {
			return errors.New("ProductionMode requires secure cookies")
		}
		if !c.MFA.TOTP.ReplayProtection {
			return errors.New("ProductionMode requires MFA TOTP ReplayProtection")
		}
		if c.MFA.MaxAttempts > 5 {
			return errors.New("ProductionMode requires MFA MaxAttempts <= 5")
		}
		if c.MFA.BackupCodeCount < 8 || c.MFA.BackupCodeLength < 8 {
			return errors.New("ProductionMode requires at least 8 backup codes of length >= 8")
		}
		if c.RateLimits.Login.Disabled || c.RateLimits.MFA.Disabled || c.RateLimits.Reauth.Disabled {
			return errors.New("ProductionMode requires login, mfa and reauth rate limits")
		}
		if c.Password.Algorithm == "argon2id" && c.Password.Argon2.Memory < 64*1024 {
			return errors.New("ProductionMode requires Password Argon2 Memory >= 65536 KiB")
		}
		if c.Password.Algorithm == "bcrypt" && c.Password.BcryptCost != 0 && c.Password.BcryptCost < 12 {
			return errors.New("ProductionMode requires Password BcryptCost >= 12")
		}
		if len(c.OAuth.AllowedRedirectURIs) == 0 {
			return errors.New("ProductionMode requires OAuth AllowedRedirectURIs")
		}
	}
	return nil
}

func (p Argon2Params) toPassword() password.Argon2Config {
	return password.Argon2Config{
		Memory:      p.Memory,
		Time:        p.Time,
		Parallelism: p.Parallelism,
		SaltLength:  p.SaltLength,
		KeyLength:   p.KeyLength,
	}
}
