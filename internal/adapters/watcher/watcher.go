// Package watcher provides file system watching for catalog hot-reload.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event describes a change to a catalog file.
type Event struct {
	Path      string
	Operation Operation
}

// Operation classifies a file change.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Handler receives debounced catalog events.
type Handler func(ctx context.Context, event Event) error

// pendingEvent is a coalesced event waiting out the debounce window.
type pendingEvent struct {
	timestamp time.Time
	op        Operation
}

// Watcher observes catalog directories and emits debounced events so that
// editors writing a file in several bursts trigger a single reload.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	handler   Handler
	logger    *slog.Logger
	paths     []string
	debounce  time.Duration
	mu        sync.Mutex
	pending   map[string]*pendingEvent
}

// Config holds watcher configuration.
type Config struct {
	Paths    []string
	Debounce time.Duration
}

// New creates a watcher for the given catalog paths.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if cfg.Debounce == 0 {
		cfg.Debounce = 500 * time.Millisecond
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		handler:   handler,
		logger:    logger,
		paths:     cfg.Paths,
		debounce:  cfg.Debounce,
		pending:   make(map[string]*pendingEvent),
	}, nil
}

// Start registers the configured paths and runs the event loops until ctx
// is canceled. Paths that cannot be watched are logged and skipped.
func (w *Watcher) Start(ctx context.Context) error {
	for _, path := range w.paths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			w.logger.Warn("invalid watch path", "path", path, "error", err)
			continue
		}

		if err := w.fsWatcher.Add(absPath); err != nil {
			w.logger.Warn("failed to watch path", "path", absPath, "error", err)
			continue
		}

		w.logger.Info("watching catalog directory", "path", absPath)
	}

	go w.eventLoop(ctx)
	go w.debounceLoop(ctx)

	return nil
}

// Stop closes the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	return w.fsWatcher.Close()
}

func (w *Watcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleFsEvent(event fsnotify.Event) {
	if !isCatalogFile(event.Name) {
		return
	}

	w.logger.Debug("file event", "path", event.Name, "op", event.Op.String())

	op := fsnotifyOpToOperation(event.Op)

	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.pending[event.Name]; ok {
		w.updatePendingEvent(existing, op)
		return
	}
	w.pending[event.Name] = &pendingEvent{timestamp: time.Now(), op: op}
}

// updatePendingEvent coalesces a new operation into an already-pending one.
// Delete followed by create collapses to create; a delete otherwise wins.
func (w *Watcher) updatePendingEvent(existing *pendingEvent, newOp Operation) {
	existing.timestamp = time.Now()

	switch {
	case existing.op == OpDelete && newOp == OpCreate:
		existing.op = OpCreate
	case newOp == OpDelete:
		existing.op = OpDelete
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			w.flushPending(ctx)
		}
	}
}

// flushPending dispatches events whose debounce window has elapsed.
func (w *Watcher) flushPending(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	for path, p := range w.pending {
		if now.Sub(p.timestamp) < w.debounce {
			continue
		}

		delete(w.pending, path)

		event := Event{Path: path, Operation: p.op}

		w.logger.Info("processing catalog event",
			"path", path,
			"operation", p.op.String(),
		)

		// Handlers may reload the catalog, so keep them off the flush path.
		go func(e Event) {
			if err := w.handler(ctx, e); err != nil {
				w.logger.Error("catalog event handler failed",
					"path", e.Path,
					"operation", e.Operation.String(),
					"error", err,
				)
			}
		}(event)
	}
}

// fsnotifyOpToOperation maps fsnotify flags onto our coarser Operation.
// Renames count as deletes because the file left its watched location.
func fsnotifyOpToOperation(op fsnotify.Op) Operation {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return OpDelete
	case op.Has(fsnotify.Create):
		return OpCreate
	default:
		return OpModify
	}
}

// isCatalogFile reports whether path looks like a tile catalog document.
func isCatalogFile(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}
