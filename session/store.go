package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("session version store unavailable")
	// ErrIdentityNotFound is returned by a Persister for unknown identities.
	ErrIdentityNotFound = errors.New("identity not found")
)

// VersionStore reads and bumps session versions.
type VersionStore interface {
	Current(ctx context.Context, identityID string) (uint64, error)
	Bump(ctx context.Context, identityID string) (uint64, error)
}

// Persister is the durable home of a session version, normally the identity
// store. UpdateSessionVersion must ignore values lower than the stored one.
type Persister interface {
	SessionVersion(ctx context.Context, identityID string) (uint64, error)
	UpdateSessionVersion(ctx context.Context, identityID string, version uint64) error
}

// incrExisting bumps only keys that were already seeded.
var incrExistingLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
return redis.call("INCR", KEYS[1])
`)

// seedIncr seeds a missing key with the durable value, then bumps it.
var seedIncrLua = redis.NewScript(`
redis.call("SET", KEYS[1], ARGV[1], "NX")
return redis.call("INCR", KEYS[1])
`)

var seedGetLua = redis.NewScript(`
redis.call("SET", KEYS[1], ARGV[1], "NX")
return redis.call("GET", KEYS[1])
`)

// RedisStore keeps the hot copy of each version in Redis.
type RedisStore struct {
	rdb     redis.UniversalClient
	durable Persister
	prefix  string
	log     *zap.Logger
	group   singleflight.Group
}

func NewRedisStore(rdb redis.UniversalClient, durable Persister, prefix string, log *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = "gi"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStore{rdb: rdb, durable: durable, prefix: prefix, log: log.Named("session")}
}

func (s *RedisStore) key(identityID string) string {
	return s.prefix + ":sv:" + identityID
}

func (s *RedisStore) Current(ctx context.Context, identityID string) (uint64, error) {
	raw, err := s.rdb.Get(ctx, s.key(identityID)).Result()
	if err == nil {
		return parseVersion(raw)
	}
	if !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// The reseed is shared by every caller waiting on identityID, so it must
	// not die with whichever caller happened to start it.
	flightCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(identityID, func() (interface{}, error) {
		persisted, err := s.durable.SessionVersion(flightCtx, identityID)
		if err != nil {
			return uint64(0), err
		}
		raw, err := seedGetLua.Run(flightCtx, s.rdb, []string{s.key(identityID)}, persisted).Text()
		if err != nil {
			return uint64(0), fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return parseVersion(raw)
	})
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(uint64), nil
	}
}

// Bump increments the version in Redis first, so revocation takes effect
// even if the durable write that follows fails. The durable error is still
// returned to the caller.
func (s *RedisStore) Bump(ctx context.Context, identityID string) (uint64, error) {
	key := s.key(identityID)
	n, err := incrExistingLua.Run(ctx, s.rdb, []string{key}).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n < 0 {
		persisted, err := s.durable.SessionVersion(ctx, identityID)
		if err != nil {
			return 0, err
		}
		n, err = seedIncrLua.Run(ctx, s.rdb, []string{key}, persisted).Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	version := uint64(n)
	if err := s.durable.UpdateSessionVersion(ctx, identityID, version); err != nil {
		s.log.Warn("session version write-through failed",
			zap.String("identity_id", identityID),
			zap.Uint64("version", version),
			zap.Error(err),
		)
		return version, fmt.Errorf("%w: persist session version: %v", ErrUnavailable, err)
	}
	return version, nil
}

// Forget drops the cached version of a deleted identity.
func (s *RedisStore) Forget(ctx context.Context, identityID string) error {
	if err := s.rdb.Del(ctx, s.key(identityID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func parseVersion(raw string) (uint64, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: corrupt session version %q", ErrUnavailable, raw)
	}
	return v, nil
}

// DirectStore uses the Persister alone. Bumps are serialized in-process, so
// it is only correct when a single engine instance writes the store.
type DirectStore struct {
	durable Persister
	mu      sync.Mutex
}

func NewDirectStore(durable Persister) *DirectStore {
	return &DirectStore{durable: durable}
}

func (s *DirectStore) Current(ctx context.Context, identityID string) (uint64, error) {
	return s.durable.SessionVersion(ctx, identityID)
}

func (s *DirectStore) Bump(ctx context.Context, identityID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.durable.SessionVersion(ctx, identityID)
	if err != nil {
		return 0, err
	}
	v++
	if err := s.durable.UpdateSessionVersion(ctx, identityID, v); err != nil {
		return 0, err
	}
	return v, nil
}
