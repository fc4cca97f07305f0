package rate

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrRateLimited      = errors.New("rate limited")
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// LimitedError carries the wait a rejected caller should observe.
type LimitedError struct {
	Policy     string
	RetryAfter time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("%s: %s, retry after %s", ErrRateLimited, e.Policy, e.RetryAfter)
}

func (e *LimitedError) Unwrap() error { return ErrRateLimited }
