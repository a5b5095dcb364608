// Package scheduler triggers ingestion runs at startup, on a fixed interval,
// and optionally whenever a watched directory page changes on disk.
package scheduler

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Trigger performs one ingestion run.
type Trigger func(ctx context.Context) error

// Options configures a Scheduler.
type Options struct {
	Interval time.Duration
	// WatchPath, when set, triggers an extra run each time the file changes.
	WatchPath string
}

// Scheduler runs a Trigger periodically. Runs never overlap.
type Scheduler struct {
	trigger Trigger
	opts    Options
	clock   clockwork.Clock
	log     *zap.Logger
}

// New creates a Scheduler.
func New(trigger Trigger, opts Options, clk clockwork.Clock, log *zap.Logger) *Scheduler {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	return &Scheduler{
		trigger: trigger,
		opts:    opts,
		clock:   clk,
		log:     log.With(zap.String("component", "scheduler")),
	}
}

// Run triggers immediately, then every interval until ctx is done. Failed
// and panicking runs are logged and the loop continues. Run returns nil on
// cancellation and an error only when the file watch cannot be set up.
func (s *Scheduler) Run(ctx context.Context) error {
	changed := make(chan struct{}, 1)
	if s.opts.WatchPath != "" {
		if err := s.watch(ctx, changed); err != nil {
			return err
		}
	}

	s.log.Info("scheduler started",
		zap.Duration("interval", s.opts.Interval),
		zap.String("watch", s.opts.WatchPath),
	)
	s.runOnce(ctx, "startup")

	ticker := s.clock.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-ticker.Chan():
			s.runOnce(ctx, "interval")
		case <-changed:
			s.runOnce(ctx, "file changed")
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	start := s.clock.Now()
	log := s.log.With(zap.String("reason", reason))
	defer func() {
		if r := recover(); r != nil {
			log.Error("ingestion run panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	log.Info("triggering ingestion run")
	if err := s.trigger(ctx); err != nil {
		log.Error("ingestion run failed", zap.Error(err), zap.Duration("elapsed", s.clock.Since(start)))
		return
	}
	log.Info("ingestion run complete",
		zap.Duration("elapsed", s.clock.Since(start)),
		zap.Time("next_run", start.Add(s.opts.Interval).UTC()),
	)
}

// watch signals changed whenever WatchPath is written or replaced. Editors
// often replace files by rename, so the parent directory is watched.
func (s *Scheduler) watch(ctx context.Context, changed chan<- struct{}) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "scheduler: create watcher")
	}
	target := filepath.Clean(s.opts.WatchPath)
	if err := w.Add(filepath.Dir(target)); err != nil {
		_ = w.Close()
		return eris.Wrapf(err, "scheduler: watch %s", target)
	}

	go func() {
		defer w.Close() //nolint:errcheck
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != target || !evt.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				s.log.Debug("watched file changed", zap.String("path", evt.Name), zap.String("op", evt.Op.String()))
				select {
				case changed <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Warn("file watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
