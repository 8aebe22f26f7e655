package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

// pollingScanner detects inbox changes by diffing directory snapshots.
// It is the fallback for filesystems where inotify does not fire, which
// in practice means evidence inboxes on SMB/NFS shares.
//
// A file is only reported once its size and mtime are identical across
// two consecutive scans, so slow copies over the wire surface exactly
// once, after they finish.
type pollingScanner struct {
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	root     string
	settled  map[string]snapshot
	inFlight map[string]snapshot
	events   chan FileEvent
	errs     chan error
	stopCh   chan struct{}
	stopped  bool
}

type snapshot struct {
	modTime time.Time
	size    int64
	isDir   bool
}

func newPollingScanner(interval time.Duration, logger *slog.Logger) *pollingScanner {
	return &pollingScanner{
		interval: interval,
		logger:   logger,
		settled:  make(map[string]snapshot),
		inFlight: make(map[string]snapshot),
		events:   make(chan FileEvent, 256),
		errs:     make(chan error, 8),
		stopCh:   make(chan struct{}),
	}
}

// Start scans until the context ends or Stop is called. The first scan
// establishes the baseline without emitting events.
func (p *pollingScanner) Start(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve inbox path: %w", err)
	}
	p.mu.Lock()
	p.root = abs
	p.mu.Unlock()

	baseline, err := p.snapshotTree()
	if err != nil {
		return fmt.Errorf("baseline inbox scan: %w", err)
	}
	p.mu.Lock()
	p.settled = baseline
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.diff(); err != nil {
				select {
				case p.errs <- err:
				default:
				}
			}
		}
	}
}

// Stop closes the scanner's channels. Safe to call more than once.
func (p *pollingScanner) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errs)
	return nil
}

// Events yields individual settled changes.
func (p *pollingScanner) Events() <-chan FileEvent {
	return p.events
}

// Errors yields non-fatal scan errors.
func (p *pollingScanner) Errors() <-chan error {
	return p.errs
}

// snapshotTree walks the inbox and records every visible entry.
// Unreadable entries are skipped; a vanished file mid-walk is normal.
func (p *pollingScanner) snapshotTree() (map[string]snapshot, error) {
	p.mu.Lock()
	root := p.root
	p.mu.Unlock()

	tree := make(map[string]snapshot)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		tree[rel] = snapshot{modTime: info.ModTime(), size: info.Size(), isDir: d.IsDir()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tree, nil
}

// diff compares the current tree against the settled state, holding
// changed entries in flight until they stop moving.
func (p *pollingScanner) diff() error {
	current, err := p.snapshotTree()
	if err != nil {
		return fmt.Errorf("scan inbox for changes: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}

	now := time.Now()
	for rel, snap := range current {
		prev, known := p.settled[rel]
		if known && prev == snap {
			delete(p.inFlight, rel)
			continue
		}

		// Directories settle immediately; files must hold still for a
		// full interval first.
		if !snap.isDir {
			if held, ok := p.inFlight[rel]; !ok || held != snap {
				p.inFlight[rel] = snap
				continue
			}
			delete(p.inFlight, rel)
		}

		op := OpModify
		if !known {
			op = OpCreate
		}
		p.settled[rel] = snap
		p.emit(FileEvent{Path: rel, Operation: op, IsDir: snap.isDir, Timestamp: now})
	}

	for rel, snap := range p.settled {
		if _, exists := current[rel]; !exists {
			delete(p.settled, rel)
			delete(p.inFlight, rel)
			p.emit(FileEvent{Path: rel, Operation: OpDelete, IsDir: snap.isDir, Timestamp: now})
		}
	}
	return nil
}

// emit sends without blocking the scan loop. Must hold p.mu.
func (p *pollingScanner) emit(ev FileEvent) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("inbox scanner backlog full, dropping event",
			slog.String("path", ev.Path),
			slog.String("op", ev.Operation.String()))
	}
}
