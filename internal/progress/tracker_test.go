package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ratingharvest/internal/harvest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTrackerRateAndETA(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	remaining := 6
	tracker := NewTracker(clock, func() int { return remaining })
	tracker.Start()

	clock.Advance(2 * time.Second)
	tracker.Record(harvest.Result{URL: "a", Success: true})
	tracker.Record(harvest.Result{URL: "b"})
	clock.Advance(2 * time.Second)
	tracker.Record(harvest.Result{URL: "c", Success: true})
	tracker.Record(harvest.Result{URL: "d", Success: true})
	snap := tracker.Snapshot()

	require.EqualValues(t, 4, snap.Processed)
	require.EqualValues(t, 1, snap.Errors)
	require.Equal(t, 6, snap.Remaining)
	require.Equal(t, 4*time.Second, snap.Elapsed)
	require.InDelta(t, 1.0, snap.Rate, 1e-9)
	require.True(t, snap.ETAKnown)
	require.Equal(t, 6*time.Second, snap.ETA)
}

func TestTrackerETAUnknownWithoutProgress(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	tracker := NewTracker(clock, nil)

	snap := tracker.Snapshot()
	require.Zero(t, snap.Rate)
	require.False(t, snap.ETAKnown)

	clock.Advance(time.Second)
	snap = tracker.Snapshot()
	require.Zero(t, snap.Rate)
	require.False(t, snap.ETAKnown)
}

func TestTrackerConcurrentRecord(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	tracker := NewTracker(clock, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tracker.Record(harvest.Result{Success: i%5 != 0})
		}(i)
	}
	wg.Wait()

	snap := tracker.Snapshot()
	require.EqualValues(t, 50, snap.Processed)
	require.EqualValues(t, 10, snap.Errors)
}
