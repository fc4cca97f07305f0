package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// AsyncConfig sizes the delivery queue.
type AsyncConfig struct {
	BufferSize int
	Workers    int
	Timeout    time.Duration
}

type job struct {
	kind string
	run  func(ctx context.Context) error
}

// Async hands notifications to background workers. Sends never block: a full
// queue drops the message and counts it. OnFailure, when set, is called for
// drops and delivery errors.
type Async struct {
	next    Notifier
	cfg     AsyncConfig
	log     *zap.Logger
	jobs    chan job
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
	failed  atomic.Uint64

	OnFailure func(kind string, dropped bool)
}

func NewAsync(next Notifier, cfg AsyncConfig, l *zap.Logger) *Async {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if l == nil {
		l = zap.NewNop()
	}
	a := &Async{next: next, cfg: cfg, log: l.Named("notify"), jobs: make(chan job, cfg.BufferSize)}
	for i := 0; i < cfg.Workers; i++ {
		a.wg.Add(1)
		go a.work()
	}
	return a
}

func (a *Async) work() {
	defer a.wg.Done()
	for j := range a.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
		err := j.run(ctx)
		cancel()
		if err != nil {
			a.failed.Add(1)
			a.log.Warn("notification failed", zap.String("kind", j.kind), zap.Error(err))
			if a.OnFailure != nil {
				a.OnFailure(j.kind, false)
			}
		}
	}
}

func (a *Async) enqueue(kind string, run func(ctx context.Context) error) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil
	}
	select {
	case a.jobs <- job{kind: kind, run: run}:
	default:
		a.dropped.Add(1)
		a.log.Warn("notification dropped", zap.String("kind", kind))
		if a.OnFailure != nil {
			a.OnFailure(kind, true)
		}
	}
	return nil
}

func (a *Async) SendChallengeCode(_ context.Context, c Code) error {
	return a.enqueue("challenge_code", func(ctx context.Context) error { return a.next.SendChallengeCode(ctx, c) })
}

func (a *Async) SendSetupCode(_ context.Context, c Code) error {
	return a.enqueue("setup_code", func(ctx context.Context) error { return a.next.SendSetupCode(ctx, c) })
}

func (a *Async) SendPasswordChanged(_ context.Context, n AccountNotice) error {
	return a.enqueue("password_changed", func(ctx context.Context) error { return a.next.SendPasswordChanged(ctx, n) })
}

func (a *Async) SendEmailChangeConfirmation(_ context.Context, n EmailChange) error {
	return a.enqueue("email_change", func(ctx context.Context) error { return a.next.SendEmailChangeConfirmation(ctx, n) })
}

func (a *Async) SendAccountDeleted(_ context.Context, n AccountNotice) error {
	return a.enqueue("account_deleted", func(ctx context.Context) error { return a.next.SendAccountDeleted(ctx, n) })
}

// Close stops accepting messages and waits for queued ones.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.jobs)
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *Async) Dropped() uint64 { return a.dropped.Load() }
func (a *Async) Failed() uint64  { return a.failed.Load() }
