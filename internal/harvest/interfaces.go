package harvest

import (
	"context"
	"time"
)

// Extractor converts a URL into a Rating. Implementations signal throttling by
// returning an error wrapping ErrRateLimited. The context deadline carries the
// per-attempt timeout budget.
type Extractor interface {
	Extract(ctx context.Context, url string) (Rating, error)
}

// ResultStore is the durable append-only output of a run.
type ResultStore interface {
	// Prepare creates the output with its fixed schema if it does not exist.
	Prepare(ctx context.Context) error
	// Seen returns the URLs already present in durable output. Corrupt rows are
	// skipped; unreadable output degrades to an empty set rather than failing.
	Seen(ctx context.Context) (map[string]struct{}, error)
	// Append durably writes one record per result, in order.
	Append(ctx context.Context, results []Result) error
	Close() error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper blocks for a duration. Retry delays go through it so tests can
// observe the schedule without waiting.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
