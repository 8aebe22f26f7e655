// Package preflight validates the host environment before caseweave
// starts serving or ingesting evidence.
//
// Checks cover disk space under the data directory, available memory,
// write permissions, file descriptor limits, embeddings configuration,
// and governor (Redis) reachability. Results carry a Required flag:
// a failed required check should abort startup, while optional
// failures degrade gracefully (the governor falls back to a local
// semaphore, for example).
//
// A marker file under the data directory records the last successful
// run so repeated invocations can skip the checks for a grace period.
package preflight
