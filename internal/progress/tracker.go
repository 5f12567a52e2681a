package progress

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/ratingharvest/internal/harvest"
)

// Tracker owns the shared run counters. Workers mutate it only through
// Record; readers take Snapshots, which may be momentarily stale but are
// never torn.
type Tracker struct {
	clock     harvest.Clock
	startMu   sync.RWMutex
	start     time.Time
	processed atomic.Int64
	errors    atomic.Int64
	remaining func() int
}

// Snapshot is a point-in-time view of run progress.
type Snapshot struct {
	Processed int64         `json:"processed"`
	Errors    int64         `json:"errors"`
	Remaining int           `json:"remaining"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	// Rate is processed items per second since Start.
	Rate float64 `json:"rate"`
	// ETA is only meaningful when ETAKnown is true.
	ETA      time.Duration `json:"eta_ns"`
	ETAKnown bool          `json:"eta_known"`
}

// NewTracker builds a Tracker. remaining reports the queue depth and may be
// nil.
func NewTracker(clock harvest.Clock, remaining func() int) *Tracker {
	if remaining == nil {
		remaining = func() int { return 0 }
	}
	return &Tracker{
		clock:     clock,
		start:     clock.Now(),
		remaining: remaining,
	}
}

// Start resets the elapsed-time origin. Call it when workers begin.
func (t *Tracker) Start() {
	t.startMu.Lock()
	defer t.startMu.Unlock()
	t.start = t.clock.Now()
}

// Record counts one completed result and returns the snapshot it produced.
func (t *Tracker) Record(res harvest.Result) Snapshot {
	processed := t.processed.Add(1)
	var errs int64
	if res.Success {
		errs = t.errors.Load()
	} else {
		errs = t.errors.Add(1)
	}
	return t.build(processed, errs)
}

// Snapshot returns the current counters without mutating them.
func (t *Tracker) Snapshot() Snapshot {
	return t.build(t.processed.Load(), t.errors.Load())
}

func (t *Tracker) build(processed, errs int64) Snapshot {
	t.startMu.RLock()
	start := t.start
	t.startMu.RUnlock()

	elapsed := t.clock.Now().Sub(start)
	snap := Snapshot{
		Processed: processed,
		Errors:    errs,
		Remaining: t.remaining(),
		Elapsed:   elapsed,
	}
	if elapsed > 0 {
		snap.Rate = float64(processed) / elapsed.Seconds()
	}
	if snap.Rate > 0 {
		eta := float64(snap.Remaining) / snap.Rate
		if eta < math.MaxInt64/float64(time.Second) {
			snap.ETA = time.Duration(eta * float64(time.Second))
			snap.ETAKnown = true
		}
	}
	return snap
}
