// Package pipeline runs one extraction pass: reconcile input against durable
// output, fan the remaining URLs out to the worker pool, checkpoint results
// while the pool runs, and report a summary.
package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/ratingharvest/internal/checkpoint"
	"github.com/JakeFAU/ratingharvest/internal/dedup"
	"github.com/JakeFAU/ratingharvest/internal/dispatcher"
	"github.com/JakeFAU/ratingharvest/internal/harvest"
	"github.com/JakeFAU/ratingharvest/internal/metrics"
	"github.com/JakeFAU/ratingharvest/internal/progress"
	"github.com/JakeFAU/ratingharvest/internal/queue/memory"
	"github.com/JakeFAU/ratingharvest/internal/retry"
	"github.com/JakeFAU/ratingharvest/internal/worker"
)

// Config controls a run.
type Config struct {
	Workers            int
	Retry              retry.Config
	CheckpointInterval time.Duration
}

// Gate reports whether new work may start.
type Gate interface {
	Running() bool
}

// Summary describes a finished run.
type Summary struct {
	RunID       string        `json:"run_id"`
	Input       int           `json:"input"`
	AlreadyDone int           `json:"already_done"`
	Duplicates  int           `json:"duplicates"`
	Queued      int           `json:"queued"`
	Processed   int64         `json:"processed"`
	Errors      int64         `json:"errors"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	Rate        float64       `json:"rate"`
	Interrupted bool          `json:"interrupted"`
}

// Runner wires the pipeline components for a single run.
type Runner struct {
	store     harvest.ResultStore
	extractor harvest.Extractor
	sleeper   harvest.Sleeper
	clock     harvest.Clock
	ids       harvest.IDGenerator
	gate      Gate
	cfg       Config
	logger    *zap.Logger

	tracker *progress.Tracker
	queue   atomic.Pointer[memory.Queue]
}

// NewRunner constructs a Runner. gate may be nil.
func NewRunner(
	store harvest.ResultStore,
	extractor harvest.Extractor,
	sleeper harvest.Sleeper,
	clock harvest.Clock,
	ids harvest.IDGenerator,
	gate Gate,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		store:     store,
		extractor: extractor,
		sleeper:   sleeper,
		clock:     clock,
		ids:       ids,
		gate:      gate,
		cfg:       cfg,
		logger:    logger,
	}
	r.tracker = progress.NewTracker(clock, r.remaining)
	return r
}

// Tracker exposes live progress, e.g. to the status server.
func (r *Runner) Tracker() *progress.Tracker {
	return r.tracker
}

func (r *Runner) remaining() int {
	if q := r.queue.Load(); q != nil {
		return q.Len()
	}
	return 0
}

func (r *Runner) running() bool {
	return r.gate == nil || r.gate.Running()
}

// Run processes urls. Every URL not already present in the store is attempted
// at most once and its result is durably appended before Run returns, also
// when the gate closes mid-run. The returned error is non-nil only when the
// store cannot be prepared or read, or the final checkpoint fails.
func (r *Runner) Run(ctx context.Context, urls []string) (Summary, error) {
	runID, err := r.ids.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	logger := r.logger.With(zap.String("run_id", runID))
	summary := Summary{RunID: runID, Input: len(urls)}

	if err := r.store.Prepare(ctx); err != nil {
		return summary, fmt.Errorf("prepare output: %w", err)
	}
	seen, err := r.store.Seen(ctx)
	if err != nil {
		return summary, fmt.Errorf("load completed urls: %w", err)
	}
	set := dedup.NewSet(seen)
	fresh, done, dupes := set.Filter(urls)
	summary.AlreadyDone = done
	summary.Duplicates = dupes
	summary.Queued = len(fresh)
	logger.Info("reconciled input against output",
		zap.Int("input", len(urls)),
		zap.Int("output_records", set.Len()),
		zap.Int("already_done", done),
		zap.Int("duplicates", dupes),
		zap.Int("pending", len(fresh)),
	)
	if len(fresh) == 0 {
		logger.Info("nothing to do")
		return summary, nil
	}
	if !r.running() {
		logger.Info("stop requested before workers started")
		summary.Interrupted = true
		return summary, nil
	}

	q := memory.NewQueue(len(fresh) + r.cfg.Workers)
	defer q.Close()
	for _, u := range fresh {
		if err := q.Enqueue(ctx, harvest.Item(u)); err != nil {
			return summary, fmt.Errorf("enqueue %s: %w", u, err)
		}
	}
	if err := q.EnqueueStop(ctx, r.cfg.Workers); err != nil {
		return summary, fmt.Errorf("enqueue stop: %w", err)
	}
	r.queue.Store(q)
	metrics.SetQueueDepth(q.Len())

	buf := checkpoint.NewBuffer()
	writer := checkpoint.NewWriter(buf, r.store, r.cfg.CheckpointInterval, logger)
	controller := retry.New(r.extractor, r.sleeper, r.cfg.Retry, logger)
	pool := make([]dispatcher.Runner, 0, r.cfg.Workers)
	for i := 1; i <= r.cfg.Workers; i++ {
		pool = append(pool, worker.New(i, q, controller, buf, r.tracker, r.gate, logger))
	}
	dispatch := dispatcher.New(pool)

	logger.Info("starting workers", zap.Int("workers", dispatch.Size()))
	r.tracker.Start()

	writerCtx, stopWriter := context.WithCancel(ctx)
	defer stopWriter()

	var g errgroup.Group
	g.Go(func() error {
		return writer.Run(writerCtx)
	})
	g.Go(func() error {
		defer stopWriter()
		dispatch.Run(ctx)
		return nil
	})
	runErr := g.Wait()

	snap := r.tracker.Snapshot()
	summary.Processed = snap.Processed
	summary.Errors = snap.Errors
	summary.Elapsed = snap.Elapsed
	summary.Rate = snap.Rate
	summary.Interrupted = !r.running() && q.Len() > 0

	logger.Info("run complete",
		zap.Int64("processed", summary.Processed),
		zap.Int64("errors", summary.Errors),
		zap.Duration("elapsed", summary.Elapsed),
		zap.Float64("rate_per_sec", summary.Rate),
		zap.Bool("interrupted", summary.Interrupted),
		zap.Int("left_for_next_run", q.Len()),
	)
	if runErr != nil {
		return summary, fmt.Errorf("checkpoint: %w", runErr)
	}
	return summary, nil
}
