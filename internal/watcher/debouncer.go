package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// debouncer coalesces the event storm a large evidence drop produces
// into one batch per quiet window. Per-path merge rules:
//
//	CREATE then MODIFY  -> CREATE   (still a new file)
//	CREATE then DELETE  -> dropped  (never really landed)
//	MODIFY then DELETE  -> DELETE
//	DELETE then CREATE  -> MODIFY   (file was replaced)
//
// Copy tools write evidence in many small chunks; without this a single
// deposition PDF would trigger the ingest pipeline dozens of times.
type debouncer struct {
	window time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*trackedEvent
	timer   *time.Timer
	out     chan []FileEvent
	stopped bool
}

type trackedEvent struct {
	event   FileEvent
	firstOp Operation
}

func newDebouncer(window time.Duration, logger *slog.Logger) *debouncer {
	return &debouncer{
		window:  window,
		logger:  logger,
		pending: make(map[string]*trackedEvent),
		out:     make(chan []FileEvent, 16),
	}
}

// add records an event and restarts the quiet window.
func (d *debouncer) add(ev FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if cur, ok := d.pending[ev.Path]; ok {
		merged, keep := mergeEvents(cur, ev)
		if !keep {
			delete(d.pending, ev.Path)
		} else {
			cur.event = merged
		}
	} else {
		d.pending[ev.Path] = &trackedEvent{event: ev, firstOp: ev.Operation}
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// mergeEvents applies the coalescing rules. keep=false means the pair
// cancelled out.
func mergeEvents(cur *trackedEvent, next FileEvent) (merged FileEvent, keep bool) {
	switch cur.firstOp {
	case OpCreate:
		switch next.Operation {
		case OpModify:
			return cur.event, true
		case OpDelete:
			return FileEvent{}, false
		}
	case OpDelete:
		if next.Operation == OpCreate {
			next.Operation = OpModify
			return next, true
		}
	}
	return next, true
}

func (d *debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]FileEvent, 0, len(d.pending))
	for _, te := range d.pending {
		batch = append(batch, te.event)
	}
	d.pending = make(map[string]*trackedEvent)

	select {
	case d.out <- batch:
	default:
		d.logger.Warn("inbox debouncer backlog full, dropping batch",
			slog.Int("batch_size", len(batch)))
	}
}

// output yields settled batches.
func (d *debouncer) output() <-chan []FileEvent {
	return d.out
}

// stop closes the output channel. Safe to call more than once.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.out)
}
