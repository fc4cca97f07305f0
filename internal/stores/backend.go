package stores

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Bounds of the jittered pause between WATCH retries.
const (
	casBackoffBase = 500 * time.Microsecond
	casBackoffMax  = 20 * time.Millisecond
)

// mutator returns the replacement value and TTL for a record. A nil value
// deletes the record.
type mutator func(current []byte) (next []byte, ttl time.Duration, err error)

// Backend is the key-value surface every store is written against.
type Backend interface {
	put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	putNew(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	get(ctx context.Context, key string) ([]byte, error)
	take(ctx context.Context, key string) ([]byte, error)
	del(ctx context.Context, key string) error
	update(ctx context.Context, key string, fn mutator) error
}

type redisBackend struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisBackend stores records under prefix in rdb.
func NewRedisBackend(rdb redis.UniversalClient, prefix string) Backend {
	if prefix == "" {
		prefix = "gi"
	}
	return &redisBackend{rdb: rdb, prefix: prefix}
}

func (b *redisBackend) key(k string) string { return b.prefix + ":" + k }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

func (b *redisBackend) put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := b.rdb.Set(ctx, b.key(key), value, ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (b *redisBackend) putNew(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := b.rdb.SetNX(ctx, b.key(key), value, ttl).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}

func (b *redisBackend) get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.rdb.Get(ctx, b.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errMissing
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return data, nil
}

func (b *redisBackend) take(ctx context.Context, key string) ([]byte, error) {
	data, err := b.rdb.GetDel(ctx, b.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errMissing
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return data, nil
}

func (b *redisBackend) del(ctx context.Context, key string) error {
	if err := b.rdb.Del(ctx, b.key(key)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// update retries its WATCH transaction until it commits or ctx ends. A
// conflict means another writer committed, so every retry round lets at
// least one caller through and no mutation is lost to contention.
func (b *redisBackend) update(ctx context.Context, key string, fn mutator) error {
	k := b.key(key)

	for attempt := 0; ; attempt++ {
		var fnErr error
		err := b.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, k).Bytes()
			if errors.Is(err, redis.Nil) {
				fnErr = errMissing
				return nil
			}
			if err != nil {
				return err
			}

			next, ttl, err := fn(data)
			if err != nil {
				fnErr = err
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if next == nil {
					pipe.Del(ctx, k)
					return nil
				}
				pipe.Set(ctx, k, next, ttl)
				return nil
			})
			return err
		}, k)

		if errors.Is(err, redis.TxFailedErr) {
			if werr := casWait(ctx, attempt); werr != nil {
				return fmt.Errorf("%w: %v", ErrContention, werr)
			}
			continue
		}
		if err != nil {
			return unavailable(err)
		}
		return fnErr
	}
}

func casWait(ctx context.Context, attempt int) error {
	d := casBackoffBase << min(attempt, 6)
	if d > casBackoffMax {
		d = casBackoffMax
	}
	t := time.NewTimer(rand.N(d) + time.Microsecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type memoryBackend struct {
	mu    sync.Mutex
	items *gocache.Cache
}

// NewMemoryBackend keeps records in process. It is only suitable for a
// single engine instance.
func NewMemoryBackend() Backend {
	return &memoryBackend{items: gocache.New(10*time.Minute, time.Minute)}
}

func (b *memoryBackend) put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items.Set(key, clone(value), ttl)
	return nil
}

func (b *memoryBackend) putNew(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.items.Add(key, clone(value), ttl); err != nil {
		return false, nil
	}
	return true, nil
}

func (b *memoryBackend) get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.items.Get(key)
	if !ok {
		return nil, errMissing
	}
	return clone(v.([]byte)), nil
}

func (b *memoryBackend) take(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.items.Get(key)
	if !ok {
		return nil, errMissing
	}
	b.items.Delete(key)
	return v.([]byte), nil
}

func (b *memoryBackend) del(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items.Delete(key)
	return nil
}

func (b *memoryBackend) update(_ context.Context, key string, fn mutator) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	v, ok := b.items.Get(key)
	if !ok {
		return errMissing
	}
	next, ttl, err := fn(clone(v.([]byte)))
	if err != nil {
		return err
	}
	if next == nil {
		b.items.Delete(key)
		return nil
	}
	b.items.Set(key, clone(next), ttl)
	return nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
