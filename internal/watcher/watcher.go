package watcher

import (
	"context"
	"path/filepath"
	"strings"
	"time"
)

// Operation is the kind of change observed on an inbox entry.
type Operation int

const (
	// OpCreate indicates a new file or directory appeared in the inbox.
	OpCreate Operation = iota
	// OpModify indicates an existing file changed.
	OpModify
	// OpDelete indicates a file or directory was removed.
	OpDelete
	// OpRename indicates a file or directory was renamed away.
	OpRename
)

// String returns the operation name used in logs.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one observed change, with Path relative to the inbox root.
type FileEvent struct {
	Path string

	// OldPath is the previous path for renames, empty otherwise.
	OldPath string

	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// Watcher observes an evidence inbox directory and reports settled
// change batches. Implementations run until Stop or context cancel.
type Watcher interface {
	// Start watches the directory recursively and blocks until the
	// watcher stops or ctx is cancelled.
	Start(ctx context.Context, path string) error

	// Stop releases resources. Safe to call more than once.
	Stop() error

	// Events yields debounced event batches. Closed on stop.
	Events() <-chan []FileEvent

	// Errors yields non-fatal watch errors. Closed on stop.
	Errors() <-chan error
}

// AcceptFunc decides whether a relative file path is worth reporting.
// Directories bypass the filter so new case folders are still tracked.
type AcceptFunc func(relPath string) bool

// Options tunes inbox watching.
type Options struct {
	// DebounceWindow is how long a path must stay quiet before its
	// coalesced event is emitted. Matters for files still being copied
	// into the inbox.
	DebounceWindow time.Duration

	// PollInterval drives the fallback scanner when inotify-style
	// watching is unavailable (network shares, some container mounts).
	PollInterval time.Duration

	// EventBufferSize bounds the outbound batch channel.
	EventBufferSize int

	// Accept filters file events. Nil accepts every non-staging file.
	Accept AcceptFunc
}

// DefaultOptions returns the defaults used by the ingest command.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  500 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 1024,
	}
}

// WithDefaults fills zero values from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = d.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = d.EventBufferSize
	}
	return o
}

// stagingSuffixes are extensions used by copy tools and editors for
// files that have not finished landing. Never reported.
var stagingSuffixes = []string{
	".tmp", ".temp", ".part", ".partial", ".crdownload", ".download", ".swp",
}

// isStagingFile reports whether a path names an in-flight or scratch
// file that the ingest pipeline must not pick up.
func isStagingFile(relPath string) bool {
	base := filepath.Base(relPath)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~$") {
		return true
	}
	if strings.HasSuffix(base, "~") {
		return true
	}
	ext := strings.ToLower(filepath.Ext(base))
	for _, s := range stagingSuffixes {
		if ext == s {
			return true
		}
	}
	return false
}

// hiddenDir reports whether any segment of the relative path is hidden.
// Hidden directories hold tooling state, never evidence.
func hiddenDir(relPath string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(relPath), "/") {
		if strings.HasPrefix(seg, ".") && seg != "." {
			return true
		}
	}
	return false
}
