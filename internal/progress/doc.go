// Package progress tracks run-level counters shared by every worker: items
// processed, failures, throughput, and an ETA derived from the remaining queue
// depth. Snapshots are safe to take from any goroutine and back both the
// per-item progress log line and the /progress status endpoint.
package progress
