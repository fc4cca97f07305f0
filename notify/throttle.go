package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// ThrottledError reports when the destination may receive a code again.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrThrottled, e.RetryAfter)
}

func (e *ThrottledError) Unwrap() error { return ErrThrottled }

// Throttled limits codes per destination with a token bucket: Burst codes
// at once, then one per Interval. Notices pass through untouched.
type Throttled struct {
	next     Notifier
	interval time.Duration
	burst    int

	mu       sync.Mutex
	limiters *gocache.Cache
}

func NewThrottled(next Notifier, interval time.Duration, burst int) *Throttled {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if burst <= 0 {
		burst = 1
	}
	idle := interval * time.Duration(burst+1)
	return &Throttled{
		next:     next,
		interval: interval,
		burst:    burst,
		limiters: gocache.New(idle, idle),
	}
}

func (t *Throttled) limiter(dest string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.limiters.Get(dest); ok {
		t.limiters.SetDefault(dest, v)
		return v.(*rate.Limiter)
	}
	l := rate.NewLimiter(rate.Every(t.interval), t.burst)
	t.limiters.SetDefault(dest, l)
	return l
}

func (t *Throttled) allow(c Code) error {
	r := t.limiter(string(c.Channel) + ":" + c.Destination).Reserve()
	if d := r.Delay(); d > 0 {
		r.Cancel()
		return &ThrottledError{RetryAfter: d}
	}
	return nil
}

func (t *Throttled) SendChallengeCode(ctx context.Context, c Code) error {
	if err := t.allow(c); err != nil {
		return err
	}
	return t.next.SendChallengeCode(ctx, c)
}

func (t *Throttled) SendSetupCode(ctx context.Context, c Code) error {
	if err := t.allow(c); err != nil {
		return err
	}
	return t.next.SendSetupCode(ctx, c)
}

func (t *Throttled) SendPasswordChanged(ctx context.Context, n AccountNotice) error {
	return t.next.SendPasswordChanged(ctx, n)
}

func (t *Throttled) SendEmailChangeConfirmation(ctx context.Context, n EmailChange) error {
	return t.next.SendEmailChangeConfirmation(ctx, n)
}

func (t *Throttled) SendAccountDeleted(ctx context.Context, n AccountNotice) error {
	return t.next.SendAccountDeleted(ctx, n)
}
