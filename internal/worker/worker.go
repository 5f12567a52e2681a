// Package worker implements the per-item extraction loop run by each member
// of the pool.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/ratingharvest/internal/harvest"
	"github.com/JakeFAU/ratingharvest/internal/metrics"
	"github.com/JakeFAU/ratingharvest/internal/progress"
)

// Queue is the consuming side of the work queue.
type Queue interface {
	Dequeue(ctx context.Context) (harvest.WorkItem, error)
}

// Attempter runs one URL through the retry policy.
type Attempter interface {
	Attempt(ctx context.Context, url string) harvest.Result
}

// Sink receives every completed result.
type Sink interface {
	Append(res harvest.Result)
}

// Recorder counts completed results.
type Recorder interface {
	Record(res harvest.Result) progress.Snapshot
}

// Gate reports whether new items may be started.
type Gate interface {
	Running() bool
}

// Worker consumes queue items until it receives the stop sentinel.
type Worker struct {
	id        int
	queue     Queue
	attempter Attempter
	sink      Sink
	recorder  Recorder
	gate      Gate
	logger    *zap.Logger
}

// New constructs a Worker. gate may be nil, in which case only the sentinel
// stops the worker.
func New(
	id int,
	queue Queue,
	attempter Attempter,
	sink Sink,
	recorder Recorder,
	gate Gate,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:        id,
		queue:     queue,
		attempter: attempter,
		sink:      sink,
		recorder:  recorder,
		gate:      gate,
		logger:    logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, processing items until the sentinel arrives, the gate closes,
// or the queue fails. It returns the number of items this worker completed.
func (w *Worker) Run(ctx context.Context) int {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	done := 0
	for {
		if w.gate != nil && !w.gate.Running() {
			w.logger.Debug("stop requested; worker exiting", zap.Int("completed", done))
			return done
		}
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("queue dequeue failed", zap.Error(err))
			}
			return done
		}
		if item.IsStop() {
			w.logger.Debug("received stop sentinel", zap.Int("completed", done))
			return done
		}
		w.process(ctx, item.URL)
		done++
	}
}

func (w *Worker) process(ctx context.Context, url string) {
	res := w.attempter.Attempt(ctx, url)
	w.sink.Append(res)
	snap := w.recorder.Record(res)

	metrics.ObserveResult(res.Success)
	metrics.SetQueueDepth(snap.Remaining)

	fields := []zap.Field{
		zap.String("url", url),
		zap.Bool("success", res.Success),
		zap.Int("attempts", res.Attempts),
		zap.Int64("processed", snap.Processed),
		zap.Int64("errors", snap.Errors),
		zap.Int("remaining", snap.Remaining),
		zap.Float64("rate_per_sec", snap.Rate),
	}
	if snap.ETAKnown {
		fields = append(fields, zap.Duration("eta", snap.ETA))
	} else {
		fields = append(fields, zap.String("eta", "unknown"))
	}
	w.logger.Info("progress", fields...)
}
