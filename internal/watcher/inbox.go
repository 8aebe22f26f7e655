package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// InboxWatcher watches an evidence inbox with fsnotify, falling back to
// snapshot polling where kernel notification is unavailable. Events are
// filtered to ingestable evidence, debounced per path, and delivered as
// batches suited to one ingest pipeline run each.
type InboxWatcher struct {
	fsw     *fsnotify.Watcher
	scanner *pollingScanner
	deb     *debouncer
	logger  *slog.Logger
	opts    Options

	events       chan []FileEvent
	errs         chan error
	stopCh       chan struct{}
	dropped      atomic.Uint64
	usesFsnotify bool

	mu      sync.RWMutex
	root    string
	stopped bool
}

var _ Watcher = (*InboxWatcher)(nil)

// NewInboxWatcher builds a watcher for one inbox directory. fsnotify is
// preferred; if the platform refuses a watch handle the polling scanner
// takes over transparently.
func NewInboxWatcher(opts Options, logger *slog.Logger) (*InboxWatcher, error) {
	opts = opts.WithDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	w := &InboxWatcher{
		deb:    newDebouncer(opts.DebounceWindow, logger),
		logger: logger,
		opts:   opts,
		events: make(chan []FileEvent, opts.EventBufferSize),
		errs:   make(chan error, 8),
		stopCh: make(chan struct{}),
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("fsnotify unavailable, inbox falls back to polling",
			slog.String("error", err.Error()))
		w.scanner = newPollingScanner(opts.PollInterval, logger)
		return w, nil
	}
	w.fsw = fsw
	w.usesFsnotify = true
	return w, nil
}

// Start begins watching and blocks until the watcher stops.
func (w *InboxWatcher) Start(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve inbox path: %w", err)
	}
	if info, err := os.Stat(abs); err != nil {
		return fmt.Errorf("stat inbox: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("inbox path %s is not a directory", abs)
	}

	w.mu.Lock()
	w.root = abs
	w.mu.Unlock()

	go w.forwardBatches(ctx)

	w.logger.Info("watching evidence inbox",
		slog.String("path", abs),
		slog.String("mode", w.Mode()))

	if w.usesFsnotify {
		return w.runFsnotify(ctx)
	}
	return w.runScanner(ctx)
}

func (w *InboxWatcher) runFsnotify(ctx context.Context) error {
	if err := w.watchTree(w.root); err != nil {
		return fmt.Errorf("register inbox watches: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleRaw(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.reportError(err)
		}
	}
}

func (w *InboxWatcher) runScanner(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case ev, ok := <-w.scanner.Events():
				if !ok {
					return
				}
				if w.wanted(ev.Path, ev.IsDir) {
					w.deb.add(ev)
				}
			case err, ok := <-w.scanner.Errors():
				if !ok {
					return
				}
				w.reportError(err)
			}
		}
	}()
	return w.scanner.Start(ctx, w.root)
}

// handleRaw converts one fsnotify event, filters it, and feeds the
// debouncer. New directories are added to the watch set immediately so
// files dropped into a fresh case folder are not missed.
func (w *InboxWatcher) handleRaw(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		rel = ev.Name
	}

	isDir := false
	if info, err := os.Stat(ev.Name); err == nil {
		isDir = info.IsDir()
	}

	var op Operation
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = OpCreate
		if isDir {
			_ = w.fsw.Add(ev.Name)
		}
	case ev.Op&fsnotify.Write != 0:
		op = OpModify
	case ev.Op&fsnotify.Remove != 0:
		op = OpDelete
	case ev.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		// Chmod and friends carry no ingest signal.
		return
	}

	if !w.wanted(rel, isDir) {
		return
	}
	w.deb.add(FileEvent{Path: rel, Operation: op, IsDir: isDir, Timestamp: time.Now()})
}

// wanted applies the staging and accept filters.
func (w *InboxWatcher) wanted(rel string, isDir bool) bool {
	if rel == "" || rel == "." {
		return false
	}
	if hiddenDir(rel) {
		return false
	}
	if isDir {
		return true
	}
	if isStagingFile(rel) {
		return false
	}
	if w.opts.Accept != nil && !w.opts.Accept(rel) {
		return false
	}
	return true
}

// watchTree registers the root and every visible subdirectory.
func (w *InboxWatcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if rel != "." && hiddenDir(rel) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *InboxWatcher) forwardBatches(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case batch, ok := <-w.deb.output():
			if !ok {
				return
			}
			if len(batch) == 0 {
				continue
			}
			w.deliver(batch)
		}
	}
}

func (w *InboxWatcher) deliver(batch []FileEvent) {
	w.mu.RLock()
	stopped := w.stopped
	w.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case w.events <- batch:
	default:
		n := w.dropped.Add(1)
		w.logger.Warn("inbox event buffer full, dropping batch",
			slog.Int("batch_size", len(batch)),
			slog.Uint64("dropped_batches", n))
	}
}

func (w *InboxWatcher) reportError(err error) {
	w.mu.RLock()
	stopped := w.stopped
	w.mu.RUnlock()
	if stopped {
		return
	}
	select {
	case w.errs <- err:
	default:
	}
}

// Stop releases the watch handles and closes the channels.
func (w *InboxWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)

	w.deb.stop()
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
	if w.scanner != nil {
		_ = w.scanner.Stop()
	}

	close(w.events)
	close(w.errs)
	return nil
}

// Events returns the batched event channel.
func (w *InboxWatcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns the non-fatal error channel.
func (w *InboxWatcher) Errors() <-chan error {
	return w.errs
}

// Mode reports the active watch strategy.
func (w *InboxWatcher) Mode() string {
	if w.usesFsnotify {
		return "fsnotify"
	}
	return "polling"
}

// DroppedBatches reports batches lost to a full event buffer.
func (w *InboxWatcher) DroppedBatches() uint64 {
	return w.dropped.Load()
}

// Root returns the resolved inbox path being watched.
func (w *InboxWatcher) Root() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.root
}
