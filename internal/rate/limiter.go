package rate

import (
	"context"
	"errors"
	"time"
)

// Window allows at most Max entries per Duration.
type Window struct {
	Duration time.Duration
	Max      int
}

// Policy is the full rule set for one limited operation.
type Policy struct {
	Name           string
	Attempts       []Window
	Failures       []Window
	ResetOnSuccess bool
}

func (p Policy) Validate() error {
	if p.Name == "" {
		return errors.New("rate policy name is required")
	}
	if len(p.Attempts) == 0 && len(p.Failures) == 0 {
		return errors.New("rate policy " + p.Name + " has no windows")
	}
	for _, w := range append(append([]Window(nil), p.Attempts...), p.Failures...) {
		if w.Duration < time.Millisecond || w.Max <= 0 {
			return errors.New("rate policy " + p.Name + " has an invalid window")
		}
	}
	return nil
}

func longest(windows []Window) time.Duration {
	var d time.Duration
	for _, w := range windows {
		if w.Duration > d {
			d = w.Duration
		}
	}
	return d
}

// Decision is the outcome of a check.
type Decision struct {
	Limited    bool
	RetryAfter time.Duration
}

// Err returns a *LimitedError for limited decisions and nil otherwise.
func (d Decision) Err(policy string) error {
	if !d.Limited {
		return nil
	}
	return &LimitedError{Policy: policy, RetryAfter: d.RetryAfter}
}

type evalRequest struct {
	attemptKey string
	failureKey string
	attempts   []Window
	failures   []Window
	now        time.Time
	record     bool
}

type backend interface {
	evaluate(ctx context.Context, req evalRequest) (Decision, error)
	append(ctx context.Context, key string, at time.Time, retain time.Duration) error
	clear(ctx context.Context, keys ...string) error
}

// Limiter applies policies against a backend.
type Limiter struct {
	b   backend
	now func() time.Time
}

func newLimiter(b backend, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{b: b, now: now}
}

// Both logs of a subject share a hash tag so the evaluation script can touch
// them together on Redis Cluster.
func attemptKey(p Policy, subject string) string {
	return "rl:{" + p.Name + ":" + subject + "}:a"
}

func failureKey(p Policy, subject string) string {
	return "rl:{" + p.Name + ":" + subject + "}:f"
}

func (l *Limiter) request(p Policy, subject string, record bool) evalRequest {
	return evalRequest{
		attemptKey: attemptKey(p, subject),
		failureKey: failureKey(p, subject),
		attempts:   p.Attempts,
		failures:   p.Failures,
		now:        l.now(),
		record:     record,
	}
}

// Attempt checks every window and, when the caller is not limited, records
// the attempt in the same atomic step.
func (l *Limiter) Attempt(ctx context.Context, p Policy, subject string) (Decision, error) {
	return l.b.evaluate(ctx, l.request(p, subject, true))
}

// IsLimited checks every window without recording anything.
func (l *Limiter) IsLimited(ctx context.Context, p Policy, subject string) (Decision, error) {
	return l.b.evaluate(ctx, l.request(p, subject, false))
}

// RecordAttempt logs an attempt unconditionally.
func (l *Limiter) RecordAttempt(ctx context.Context, p Policy, subject string) error {
	if len(p.Attempts) == 0 {
		return nil
	}
	return l.b.append(ctx, attemptKey(p, subject), l.now(), longest(p.Attempts))
}

func (l *Limiter) RecordFailure(ctx context.Context, p Policy, subject string) error {
	if len(p.Failures) == 0 {
		return nil
	}
	return l.b.append(ctx, failureKey(p, subject), l.now(), longest(p.Failures))
}

// RecordSuccess clears the subject's logs when the policy resets on success.
func (l *Limiter) RecordSuccess(ctx context.Context, p Policy, subject string) error {
	if !p.ResetOnSuccess {
		return nil
	}
	return l.b.clear(ctx, attemptKey(p, subject), failureKey(p, subject))
}

// Reset clears the subject's logs regardless of policy.
func (l *Limiter) Reset(ctx context.Context, p Policy, subject string) error {
	return l.b.clear(ctx, attemptKey(p, subject), failureKey(p, subject))
}
