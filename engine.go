package goIdentity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/goIdentity/internal/audit"
	"github.com/MrEthical07/goIdentity/internal/flows"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/internal/stores"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/keys"
	"github.com/MrEthical07/goIdentity/mfa"
	"github.com/MrEthical07/goIdentity/notify"
	"github.com/MrEthical07/goIdentity/oauth"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/session"
)

// Engine is the identity engine. It is safe for concurrent use; build it once
// with a Builder and share it.
type Engine struct {
	config Config
	log    *zap.Logger
	now    func() time.Time

	store     IdentityStore
	hasher    password.Hasher
	dummyHash string

	ring     *keys.Ring
	watcher  *keys.Watcher
	codec    *jwt.Codec
	versions session.VersionStore

	// backendMode is "redis", "redis+direct" or "memory".
	backendMode string

	limiter *rate.Limiter
	limits  limits

	challenges   *stores.ChallengeStore
	states       *stores.StateStore
	setups       *stores.SetupStore
	emailChanges *stores.EmailChangeStore

	totp      *mfa.TOTP
	verifiers map[mfa.Method]mfa.Verifier
	providers *oauth.Registry

	notifier notify.Notifier
	async    *notify.Async
	audit    *audit.Dispatcher
	metrics  *Metrics

	flow flows.Service
}

// Close drains the audit and notification queues.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.async != nil {
		e.async.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// WatchKeys reloads the key directory whenever it changes, until ctx is done.
// It returns immediately when the engine was built with WithKeys or without
// Keys.Watch.
func (e *Engine) WatchKeys(ctx context.Context) error {
	if e == nil || e.watcher == nil {
		return nil
	}
	return e.watcher.Run(ctx)
}

// Keys exposes the signing key ring for rotation.
func (e *Engine) Keys() *keys.Ring {
	return e.ring
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// NotificationsDropped counts notifications lost to a full queue.
func (e *Engine) NotificationsDropped() uint64 {
	if e == nil || e.async == nil {
		return 0
	}
	return e.async.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() error {
	if e == nil || !e.flow.Initialized() {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) warn(msg string, fields ...zap.Field) {
	e.log.Warn(msg, fields...)
}

/*
====================================
RATE LIMITS
====================================
*/

type limitPolicy struct {
	rate.Policy
	enabled bool
}

type limits struct {
	login    limitPolicy
	loginIP  limitPolicy
	mfa      limitPolicy
	reauth   limitPolicy
	refresh  limitPolicy
	oauth    limitPolicy
	register limitPolicy
	setup    limitPolicy
	perIP    bool
}

func newLimits(c RateLimitConfig) limits {
	mk := func(name string, p RatePolicy) limitPolicy {
		return limitPolicy{Policy: p.policy(name), enabled: !p.Disabled}
	}
	return limits{
		login:    mk("login", c.Login),
		loginIP:  mk("login_ip", c.Login),
		mfa:      mk("mfa", c.MFA),
		reauth:   mk("reauth", c.Reauth),
		refresh:  mk("refresh", c.Refresh),
		oauth:    mk("oauth", c.OAuth),
		register: mk("register", c.Register),
		setup:    mk("setup", c.Setup),
		perIP:    c.PerIP,
	}
}

// attempt checks and records one attempt. It returns a *rate.LimitedError when
// the subject is over a limit and a wrapped backend error when the limiter
// cannot answer.
func (e *Engine) attempt(ctx context.Context, p limitPolicy, subject string) error {
	if !p.enabled || subject == "" {
		return nil
	}
	d, err := e.limiter.Attempt(ctx, p.Policy, subject)
	if err != nil {
		return err
	}
	if d.Limited {
		e.emitRateLimit(ctx, p.Name, subject)
		return d.Err(p.Name)
	}
	return nil
}

func (e *Engine) recordFailure(ctx context.Context, p limitPolicy, subject string) error {
	if !p.enabled || subject == "" {
		return nil
	}
	return e.limiter.RecordFailure(ctx, p.Policy, subject)
}

func (e *Engine) recordSuccess(ctx context.Context, p limitPolicy, subject string) error {
	if !p.enabled || subject == "" {
		return nil
	}
	return e.limiter.RecordSuccess(ctx, p.Policy, subject)
}

/*
====================================
IDENTITY HELPERS
====================================
*/

// sessionPersister lets the session package read and write versions through
// the identity store.
type sessionPersister struct {
	store IdentityStore
}

func (p sessionPersister) SessionVersion(ctx context.Context, identityID string) (uint64, error) {
	ident, err := p.store.GetIdentityByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return 0, fmt.Errorf("%w: %w", session.ErrIdentityNotFound, err)
		}
		return 0, err
	}
	return ident.SessionVersion, nil
}

func (p sessionPersister) UpdateSessionVersion(ctx context.Context, identityID string, version uint64) error {
	err := p.store.UpdateSessionVersion(ctx, identityID, version)
	if errors.Is(err, ErrIdentityNotFound) {
		return fmt.Errorf("%w: %w", session.ErrIdentityNotFound, err)
	}
	return err
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrIdentityNotFound) || errors.Is(err, session.ErrIdentityNotFound)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func record(ident Identity) flows.IdentityRecord {
	return flows.IdentityRecord{ID: ident.ID, Email: ident.Email, PasswordHash: ident.PasswordHash}
}

func (e *Engine) getRecord(ctx context.Context, identityID string) (flows.IdentityRecord, error) {
	ident, err := e.store.GetIdentityByID(ctx, identityID)
	if err != nil {
		return flows.IdentityRecord{}, err
	}
	return record(ident), nil
}

func (e *Engine) getRecordByEmail(ctx context.Context, email string) (flows.IdentityRecord, error) {
	ident, err := e.store.GetIdentityByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return flows.IdentityRecord{}, err
	}
	return record(ident), nil
}

func tokenPair(p flows.TokenPair) TokenPair {
	return TokenPair{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
		SessionVersion:   p.SessionVersion,
	}
}

func challengeView(c *stores.Challenge) Challenge {
	methods := make([]mfa.Method, 0, len(c.Methods))
	for _, m := range c.Methods {
		methods = append(methods, mfa.Method(m))
	}
	return Challenge{
		SessionToken:      c.Token,
		IdentityID:        c.IdentityID,
		Methods:           methods,
		CreatedAt:         c.CreatedAt,
		ExpiresAt:         c.ExpiresAt,
		AttemptsRemaining: int(c.AttemptsRemaining),
	}
}

/*
====================================
ERROR TRANSLATION
====================================
*/

// publicError maps errors from the sub-packages onto the exported sentinels,
// keeping the original as detail. Anything unrecognized came from a backend
// and is reported as ErrUnavailable.
func publicError(err error) error {
	if err == nil {
		return nil
	}

	var limited *rate.LimitedError
	if errors.As(err, &limited) {
		return &RateLimitError{Policy: limited.Policy, RetryAfter: limited.RetryAfter}
	}
	var throttled *notify.ThrottledError
	if errors.As(err, &throttled) {
		return &RateLimitError{Policy: "notify", RetryAfter: throttled.RetryAfter}
	}

	for _, row := range errorMap {
		if errors.Is(err, row.from) {
			if errors.Is(err, row.to) {
				return err
			}
			return fmt.Errorf("%w: %v", row.to, err)
		}
	}
	if KindOf(err) == KindInternal && !errors.Is(err, ErrInternal) && !errors.Is(err, ErrEngineNotReady) {
		return unavailable(err)
	}
	return err
}

var errorMap = []struct {
	from error
	to   error
}{
	{jwt.ErrExpired, ErrExpired},
	{jwt.ErrMalformed, ErrMalformedSignature},
	{jwt.ErrInvalidClaims, ErrInvalidClaims},
	{keys.ErrUnknownKey, ErrMalformedSignature},
	{keys.ErrNoSigningKey, ErrUnavailable},
	{stores.ErrChallengeNotFound, ErrChallengeNotFound},
	{stores.ErrChallengeExpired, ErrChallengeExpired},
	{stores.ErrAttemptsExhausted, ErrAttemptsExhausted},
	{stores.ErrStateNotFound, ErrStateMismatch},
	{stores.ErrSetupNotFound, ErrSetupNotFound},
	{stores.ErrChangeNotFound, ErrEmailChangeNotFound},
	{stores.ErrBackendUnavailable, ErrUnavailable},
	{stores.ErrContention, ErrUnavailable},
	{rate.ErrRedisUnavailable, ErrUnavailable},
	{session.ErrUnavailable, ErrUnavailable},
	{session.ErrIdentityNotFound, ErrIdentityNotFound},
	{oauth.ErrUnknownProvider, ErrProviderUnknown},
	{password.ErrEmptyPassword, ErrPasswordPolicy},
	{password.ErrPasswordTooLong, ErrPasswordPolicy},
	{mfa.ErrReplayed, ErrCodeInvalid},
	{notify.ErrUnsupportedChannel, ErrMethodUnavailable},
}
