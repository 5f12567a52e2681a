// Package dispatcher manages worker fan-out over the work queue.
package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
)

// Runner is one member of the pool.
type Runner interface {
	Run(ctx context.Context) int
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	workers []Runner
}

// New creates a Dispatcher.
func New(workers []Runner) *Dispatcher {
	return &Dispatcher{workers: workers}
}

// Size returns the pool size.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Run starts all workers and blocks until every one of them has returned. It
// returns the total number of items the pool completed.
func (d *Dispatcher) Run(ctx context.Context) int {
	var (
		wg    sync.WaitGroup
		total atomic.Int64
	)
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk Runner) {
			defer wg.Done()
			total.Add(int64(wk.Run(ctx)))
		}(w)
	}
	wg.Wait()
	return int(total.Load())
}
