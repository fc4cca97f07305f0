package goIdentity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/goIdentity/internal/audit"
	"github.com/MrEthical07/goIdentity/internal/logging"
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

// dummyPassword is hashed once at build time so that lookups of unknown
// emails spend the same time in the hasher as real ones.
const dummyPassword = "goIdentity.dummy.password"

// Builder assembles an Engine. Configure it during initialization, call Build
// once, and discard it.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store     IdentityStore
	hasher    password.Hasher
	ring      *keys.Ring
	notifier  notify.Notifier
	providers []oauth.Provider
	auditSink AuditSink
	logger    *zap.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis moves session versions, rate-limit logs and every ephemeral
// record to Redis. Without it the engine keeps them in process memory, which
// is only correct for a single instance.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithIdentityStore(store IdentityStore) *Builder {
	b.store = store
	return b
}

// WithHasher replaces the hasher built from Config.Password.
func (b *Builder) WithHasher(h password.Hasher) *Builder {
	b.hasher = h
	return b
}

// WithKeys sets the signing key ring. Without it Build loads Config.Keys.Dir.
func (b *Builder) WithKeys(ring *keys.Ring) *Builder {
	b.ring = ring
	return b
}

// WithNotifier sets where codes and account notices go. The engine wraps it
// in a per-destination throttle and an asynchronous queue.
func (b *Builder) WithNotifier(n notify.Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithProviders(providers ...oauth.Provider) *Builder {
	b.providers = append(b.providers, providers...)
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger overrides the logger built from Config.Logging.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithClock replaces time.Now everywhere the engine reads the time.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	b.built = true

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("identity store required")
	}
	if b.redis == nil && cfg.Security.ProductionMode {
		return nil, errors.New("ProductionMode requires redis client")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	log := b.logger
	if log == nil {
		log = logging.New(cfg.Logging.logging())
	}

	// -------- KEYS / CODEC --------
	ring := b.ring
	var watcher *keys.Watcher
	if ring == nil {
		if cfg.Keys.Dir == "" {
			return nil, errors.New("signing keys required: use WithKeys or set Keys Dir")
		}
		set, err := keys.LoadDir(cfg.Keys.Dir, cfg.Keys.CurrentKID)
		if err != nil {
			return nil, fmt.Errorf("load keys: %w", err)
		}
		ring, err = keys.NewRing(set.Signing, set.Verify...)
		if err != nil {
			return nil, err
		}
		if cfg.Keys.Watch {
			watcher = keys.NewWatcher(keys.WatcherConfig{
				Dir:        cfg.Keys.Dir,
				CurrentKID: cfg.Keys.CurrentKID,
				Logger:     log,
			}, ring)
		}
	}
	codec, err := jwt.NewCodec(jwt.Config{
		Issuer: cfg.Tokens.Issuer,
		Leeway: cfg.Tokens.Leeway,
		Now:    now,
	}, ring)
	if err != nil {
		return nil, fmt.Errorf("token codec: %w", err)
	}

	// -------- PASSWORD --------
	hasher := b.hasher
	if hasher == nil {
		hasher, err = newHasher(cfg.Password)
		if err != nil {
			return nil, err
		}
	}
	dummyHash, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	// -------- EPHEMERAL STATE --------
	persister := sessionPersister{store: b.store}
	var (
		backend  stores.Backend
		limiter  *rate.Limiter
		versions session.VersionStore
		mode     = "memory"
	)
	if b.redis != nil {
		mode = "redis"
		backend = stores.NewRedisBackend(b.redis, cfg.Session.RedisPrefix)
		limiter = rate.NewRedis(b.redis, cfg.Session.RedisPrefix, now)
		if cfg.Session.Direct {
			mode = "redis+direct"
			versions = session.NewDirectStore(persister)
		} else {
			versions = session.NewRedisStore(b.redis, persister, cfg.Session.RedisPrefix, log)
		}
	} else {
		backend = stores.NewMemoryBackend()
		limiter = rate.NewMemory(now)
		versions = session.NewDirectStore(persister)
	}

	// -------- MFA --------
	totp, err := mfa.NewTOTP(totpConfig(cfg.MFA.TOTP))
	if err != nil {
		return nil, err
	}
	replay := stores.NewReplayGuard(backend)
	totpVerifier := mfa.TOTPVerifier{TOTP: totp}
	if cfg.MFA.TOTP.ReplayProtection {
		totpVerifier.Replay = replay
	}
	verifiers := map[mfa.Method]mfa.Verifier{
		mfa.MethodTOTP:       totpVerifier,
		mfa.MethodSMS:        mfa.DeliveredCodeVerifier{},
		mfa.MethodEmail:      mfa.DeliveredCodeVerifier{},
		mfa.MethodBackupCode: mfa.BackupCodeVerifier{Store: b.store},
	}

	// -------- NOTIFY / AUDIT / METRICS --------
	metrics := NewMetrics(cfg.Metrics)

	inner := b.notifier
	if inner == nil {
		inner = notify.NewLog(log)
	}
	async := notify.NewAsync(inner, notify.AsyncConfig{
		BufferSize: cfg.Notify.BufferSize,
		Workers:    cfg.Notify.Workers,
		Timeout:    cfg.Notify.Timeout,
	}, log)
	async.OnFailure = func(kind string, dropped bool) {
		if dropped {
			metrics.Inc(MetricNotificationDropped)
			return
		}
		metrics.Inc(MetricNotificationFailed)
	}
	notifier := notify.NewThrottled(async, cfg.Notify.ThrottleInterval, cfg.Notify.ThrottleBurst)

	sink := b.auditSink
	if sink == nil {
		sink = audit.NewZapSink(log)
	}
	dispatcher := audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Logger:     log,
	}, sink)

	e := &Engine{
		config:       cfg,
		log:          log,
		now:          now,
		store:        b.store,
		hasher:       hasher,
		dummyHash:    dummyHash,
		ring:         ring,
		watcher:      watcher,
		codec:        codec,
		versions:     versions,
		backendMode:  mode,
		limiter:      limiter,
		limits:       newLimits(cfg.RateLimits),
		challenges:   stores.NewChallengeStore(backend, now),
		states:       stores.NewStateStore(backend, now),
		setups:       stores.NewSetupStore(backend, now),
		emailChanges: stores.NewEmailChangeStore(backend, now),
		totp:         totp,
		verifiers:    verifiers,
		providers:    oauth.NewRegistry(b.providers...),
		notifier:     notifier,
		async:        async,
		audit:        dispatcher,
		metrics:      metrics,
	}
	e.flow = e.buildFlows()
	return e, nil
}

// newHasher hashes with the configured algorithm and still verifies hashes
// written by the other one, so switching algorithms migrates on login.
func newHasher(cfg PasswordConfig) (password.Hasher, error) {
	bc, bcErr := password.NewBcrypt(cfg.BcryptCost)
	a2, a2Err := password.NewArgon2(cfg.Argon2.toPassword())

	if cfg.Algorithm == "argon2id" {
		if a2Err != nil {
			return nil, a2Err
		}
		if bcErr != nil {
			return password.NewMigrating(a2)
		}
		return password.NewMigrating(a2, bc)
	}
	if bcErr != nil {
		return nil, bcErr
	}
	if a2Err != nil {
		return password.NewMigrating(bc)
	}
	return password.NewMigrating(bc, a2)
}

func totpConfig(c TOTPConfig) mfa.TOTPConfig {
	out := mfa.DefaultTOTPConfig(c.Issuer)
	out.Period = c.Period
	out.Skew = c.Skew
	if c.Digits == 8 {
		out.Digits = otp.DigitsEight
	}
	switch strings.ToUpper(c.Algorithm) {
	case "SHA256":
		out.Algorithm = otp.AlgorithmSHA256
	case "SHA512":
		out.Algorithm = otp.AlgorithmSHA512
	}
	return out
}
