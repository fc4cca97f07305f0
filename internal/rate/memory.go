package rate

import (
	"context"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type memoryBackend struct {
	mu   sync.Mutex
	logs *gocache.Cache
}

// NewMemory returns a Limiter that keeps logs in process. Idle keys are
// dropped by go-cache once their longest window has passed.
func NewMemory(now func() time.Time) *Limiter {
	return newLimiter(&memoryBackend{logs: gocache.New(time.Hour, time.Minute)}, now)
}

func (b *memoryBackend) load(key string) []time.Time {
	if v, ok := b.logs.Get(key); ok {
		return v.([]time.Time)
	}
	return nil
}

func (b *memoryBackend) store(key string, log []time.Time, retain time.Duration) {
	if len(log) == 0 {
		b.logs.Delete(key)
		return
	}
	b.logs.Set(key, log, retain)
}

// check evaluates windows against the log, which is sorted ascending.
func check(log []time.Time, windows []Window, now time.Time) (bool, time.Duration) {
	var (
		limited bool
		retry   time.Duration
	)
	for _, w := range windows {
		floor := now.Add(-w.Duration)
		first := sort.Search(len(log), func(i int) bool { return log[i].After(floor) })
		count := len(log) - first
		if count < w.Max {
			continue
		}
		limited = true
		oldest := log[first+count-w.Max]
		if wait := oldest.Add(w.Duration).Sub(now); wait > retry {
			retry = wait
		}
	}
	return limited, retry
}

func prune(log []time.Time, now time.Time, keep time.Duration) []time.Time {
	floor := now.Add(-keep)
	first := sort.Search(len(log), func(i int) bool { return log[i].After(floor) })
	return log[first:]
}

func (b *memoryBackend) evaluate(_ context.Context, req evalRequest) (Decision, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	keepA, keepF := longest(req.attempts), longest(req.failures)
	attempts := prune(b.load(req.attemptKey), req.now, keepA)
	failures := prune(b.load(req.failureKey), req.now, keepF)

	limitedA, retryA := check(attempts, req.attempts, req.now)
	limitedF, retryF := check(failures, req.failures, req.now)
	d := Decision{Limited: limitedA || limitedF, RetryAfter: max(retryA, retryF)}

	if !d.Limited && req.record && keepA > 0 {
		attempts = insert(attempts, req.now)
	}
	b.store(req.attemptKey, attempts, keepA)
	b.store(req.failureKey, failures, keepF)
	return d, nil
}

func (b *memoryBackend) append(_ context.Context, key string, at time.Time, retain time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	log := prune(b.load(key), at, retain)
	b.store(key, insert(log, at), retain)
	return nil
}

func (b *memoryBackend) clear(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		b.logs.Delete(k)
	}
	return nil
}

// insert keeps the log sorted and never aliases the stored slice.
func insert(log []time.Time, at time.Time) []time.Time {
	out := make([]time.Time, 0, len(log)+1)
	i := sort.Search(len(log), func(i int) bool { return log[i].After(at) })
	out = append(out, log[:i]...)
	out = append(out, at)
	return append(out, log[i:]...)
}
