package catalogfile

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher re-syncs the catalog whenever the seed file changes on disk.
// It watches the parent directory so editors that save by rename and
// Kubernetes ConfigMap symlink swaps are both seen.
type Watcher struct {
	path     string
	syncer   *Syncer
	debounce time.Duration
	logger   *logrus.Logger

	// OnSync, when set, receives the result of every sync after the initial one
	OnSync func(*Report, error)

	mu       sync.Mutex
	lastHash string
	pending  time.Time
}

// NewWatcher creates a watcher for path
func NewWatcher(path string, syncer *Syncer, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		path:     filepath.Clean(path),
		syncer:   syncer,
		debounce: debounce,
		logger:   syncer.logger,
	}
}

// SyncNow loads the file and applies it unless its content matches the
// last fully successful sync
func (w *Watcher) SyncNow(ctx context.Context) (*Report, error) {
	f, err := Load(w.path)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	unchanged := f.Hash() == w.lastHash
	w.mu.Unlock()
	if unchanged {
		return &Report{}, nil
	}

	report, err := w.syncer.Sync(ctx, f)
	if err != nil {
		return report, err
	}
	// failed plans are retried on the next change event
	if report.Err() == nil {
		w.mu.Lock()
		w.lastHash = f.Hash()
		w.mu.Unlock()
	}
	return report, nil
}

// Run performs an initial sync and then watches the file until ctx is done.
// A broken initial file is returned as an error; later parse errors are
// logged and the previous catalog stays in place.
func (w *Watcher) Run(ctx context.Context) error {
	if _, err := w.SyncNow(ctx); err != nil {
		return fmt.Errorf("initial catalog sync: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.logger.WithField("path", w.path).Info("Watching catalog file")

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.mu.Lock()
			w.pending = time.Now()
			w.mu.Unlock()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Catalog watcher error")

		case <-ticker.C:
			if w.due(time.Now()) {
				w.reload(ctx)
			}
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Clean(event.Name)
	// ConfigMap updates swap the ..data symlink rather than the file itself
	return name == w.path || filepath.Base(name) == "..data"
}

// due reports whether a pending change has settled for the debounce interval
func (w *Watcher) due(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending.IsZero() || now.Sub(w.pending) < w.debounce {
		return false
	}
	w.pending = time.Time{}
	return true
}

func (w *Watcher) reload(ctx context.Context) {
	report, err := w.SyncNow(ctx)
	if err != nil {
		w.logger.WithError(err).WithField("path", w.path).Error("Catalog reload failed, keeping previous plans")
	}
	if w.OnSync != nil {
		w.OnSync(report, err)
	}
}
