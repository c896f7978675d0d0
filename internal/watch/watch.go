// Package watch runs the controller whenever new issues land in the open
// directory.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bueller/bueller/internal/logging"
	"github.com/bueller/bueller/internal/storage"
	"github.com/bueller/bueller/internal/storage/fsstore"
	"github.com/bueller/bueller/internal/types"
)

// DefaultDebounce is how long the directory must be quiet before a run.
const DefaultDebounce = 500 * time.Millisecond

// RunFunc processes the named open issues.
type RunFunc func(ctx context.Context, names []string) error

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a run.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = logging.OrDefault(l) }
}

// Watcher runs issues once each. An issue that fails stays open and is not
// retried until it leaves the open directory and comes back, or the watcher
// restarts.
type Watcher struct {
	store    storage.Store
	dir      string
	run      RunFunc
	debounce time.Duration
	logger   *slog.Logger

	attempted map[string]bool
}

// New returns a watcher over dir, the open lifecycle directory of store.
func New(store storage.Store, dir string, run RunFunc, opts ...Option) *Watcher {
	w := &Watcher{
		store:     store,
		dir:       dir,
		run:       run,
		debounce:  DefaultDebounce,
		logger:    slog.Default(),
		attempted: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes pending issues, then watches until ctx is done. It returns
// nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("watch: create %s: %w", w.dir, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: create watcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()
	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch: watch %s: %w", w.dir, err)
	}

	if err := w.processPending(ctx); err != nil {
		return err
	}
	w.logger.InfoContext(ctx, "watching for new issues", "dir", w.dir)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			w.logger.DebugContext(ctx, "issue file changed", "file", filepath.Base(event.Name), "op", event.Op.String())
			timer.Reset(w.debounce)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.WarnContext(ctx, "watcher error", "error", err)
		case <-timer.C:
			if err := w.processPending(ctx); err != nil {
				return err
			}
		}
	}
}

// processPending runs every open issue not yet attempted.
func (w *Watcher) processPending(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	names, err := w.store.Discover(ctx, types.LifecycleOpen)
	if err != nil {
		return fmt.Errorf("watch: discover: %w", err)
	}

	present := make(map[string]bool, len(names))
	var pending []string
	for _, n := range names {
		present[n] = true
		if !w.attempted[n] {
			pending = append(pending, n)
		}
	}
	// Names that left the directory may come back through a reopen.
	for n := range w.attempted {
		if !present[n] {
			delete(w.attempted, n)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	sort.Strings(pending)
	for _, n := range pending {
		w.attempted[n] = true
	}
	w.logger.InfoContext(ctx, "processing new issues", "count", len(pending))
	if err := w.run(ctx, pending); err != nil && ctx.Err() == nil {
		w.logger.WarnContext(ctx, "run failed", "error", err)
	}
	return nil
}

func relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Base(event.Name)
	return fsstore.IsIssueName(name) && !strings.HasPrefix(name, ".")
}
