package syncbus

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"certdesk/internal/logging"
	"certdesk/internal/persist"
	"certdesk/internal/repo"
)

// StampSource reports the durable revision of every collection.
type StampSource interface {
	CollectionStamps(ctx context.Context) (map[string]repo.Stamp, error)
}

// Reloader is the in-memory side that external changes are applied to.
type Reloader interface {
	// Seen returns the version of c this context last loaded or wrote.
	Seen(c persist.Collection) int64
	Reload(ctx context.Context, c persist.Collection) error
}

// Watcher detects collections rewritten by other contexts, re-hydrates them
// and publishes external signals. Checks run every Interval and, when Dir is
// set, shortly after any filesystem activity in Dir.
type Watcher struct {
	Bus      *Bus
	Source   StampSource
	Store    Reloader
	Interval time.Duration
	Debounce time.Duration
	Dir      string
	Logger   *zap.Logger
}

var watched = append(append([]persist.Collection{}, persist.Collections...), persist.CurrentUser)

// Check compares durable revisions with what the store has seen and reloads
// the stale collections.
func (w *Watcher) Check(ctx context.Context) ([]persist.Collection, error) {
	stamps, err := w.Source.CollectionStamps(ctx)
	if err != nil {
		return nil, err
	}
	logger := logging.OrNop(w.Logger)
	var changed []persist.Collection
	var signals []Signal
	for _, c := range watched {
		stamp := stamps[string(c)]
		if stamp.Version == w.Store.Seen(c) {
			continue
		}
		if err := w.Store.Reload(ctx, c); err != nil {
			logger.Warn("reload after external change failed", zap.String("collection", string(c)), zap.Error(err))
			continue
		}
		logger.Debug("external change applied",
			zap.String("collection", string(c)),
			zap.Int64("version", stamp.Version),
			zap.String("writer", stamp.Writer))
		changed = append(changed, c)
		signals = append(signals, SignalFor(c))
	}
	if len(signals) > 0 && w.Bus != nil {
		w.Bus.PublishExternal(signals...)
	}
	return changed, nil
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	logger := logging.OrNop(w.Logger)
	interval := w.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	var fsEvents <-chan fsnotify.Event
	var fsErrors <-chan error
	if w.Dir != "" {
		fw, err := fsnotify.NewWatcher()
		if err != nil {
			logger.Warn("file watch unavailable, polling only", zap.Error(err))
		} else {
			defer fw.Close()
			if err := os.MkdirAll(w.Dir, 0o755); err != nil {
				logger.Warn("create watch dir", zap.String("dir", w.Dir), zap.Error(err))
			}
			if err := fw.Add(w.Dir); err != nil {
				logger.Warn("initial watch failed, polling only", zap.String("dir", w.Dir), zap.Error(err))
			} else {
				fsEvents = fw.Events
				fsErrors = fw.Errors
			}
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var debounceC <-chan time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	check := func() {
		if _, err := w.Check(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("external change check failed", zap.Error(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			check()
		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				debounceC = timer.C
			}
		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			logger.Warn("file watch error", zap.Error(err))
		case <-debounceC:
			timer = nil
			debounceC = nil
			check()
		}
	}
}
