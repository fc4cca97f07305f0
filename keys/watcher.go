package keys

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the watcher waits after the last file event
// before reloading. Key tools usually write the private and public file back
// to back.
const DefaultDebounce = 300 * time.Millisecond

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Dir        string
	CurrentKID string
	Debounce   time.Duration
	Logger     *zap.Logger

	// OnReload runs after each reload attempt with its error, if any.
	OnReload func(error)
}

// Watcher reloads a key directory into a Ring whenever it changes. A reload
// that fails leaves the ring untouched.
type Watcher struct {
	cfg  WatcherConfig
	ring *Ring
	log  *zap.Logger

	mu    sync.Mutex
	timer *time.Timer
}

func NewWatcher(cfg WatcherConfig, ring *Ring) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	l := cfg.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return &Watcher{cfg: cfg, ring: ring, log: l.Named("keys")}
}

// Reload loads the directory once and installs it.
func (w *Watcher) Reload() error {
	set, err := LoadDir(w.cfg.Dir, w.cfg.CurrentKID)
	if err == nil {
		err = w.ring.Replace(set.Signing, set.Verify...)
	}
	if err != nil {
		w.log.Warn("key reload failed", zap.String("dir", w.cfg.Dir), zap.Error(err))
	} else {
		w.log.Info("keys reloaded", zap.String("current_kid", set.Signing.ID), zap.Int("verify_keys", len(set.Verify)))
	}
	if w.cfg.OnReload != nil {
		w.cfg.OnReload(err)
	}
	return err
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.cfg.Dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			w.schedule()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("fsnotify error", zap.Error(err))
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Base(ev.Name)
	return strings.HasSuffix(name, privateSuffix) || strings.HasSuffix(name, publicSuffix)
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.cfg.Debounce, func() { _ = w.Reload() })
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
