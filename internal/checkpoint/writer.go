package checkpoint

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ratingharvest/internal/harvest"
	"github.com/JakeFAU/ratingharvest/internal/metrics"
)

const defaultInterval = 5 * time.Second

// Appender durably writes a batch of results.
type Appender interface {
	Append(ctx context.Context, results []harvest.Result) error
}

// Writer flushes a Buffer on a fixed interval and once more on shutdown.
type Writer struct {
	buf      *Buffer
	store    Appender
	interval time.Duration
	logger   *zap.Logger
}

// NewWriter constructs a Writer. A non-positive interval falls back to 5s.
func NewWriter(buf *Buffer, store Appender, interval time.Duration, logger *zap.Logger) *Writer {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		buf:      buf,
		store:    store,
		interval: interval,
		logger:   logger,
	}
}

// Run flushes every interval until ctx ends, then performs a final flush with
// a context detached from ctx's cancellation. Only the final flush error is
// returned; periodic failures are retried on the next tick.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.Flush(ctx); err != nil {
				w.logger.Warn("checkpoint flush failed; will retry", zap.Error(err))
			}
		case <-ctx.Done():
			if err := w.Flush(context.WithoutCancel(ctx)); err != nil {
				return fmt.Errorf("final checkpoint: %w", err)
			}
			w.logger.Info("final checkpoint written")
			return nil
		}
	}
}

// Flush swaps the buffer and appends its contents. On failure the batch is
// requeued so it is not lost.
func (w *Writer) Flush(ctx context.Context) error {
	batch := w.buf.Swap()
	if len(batch) == 0 {
		return nil
	}
	err := w.store.Append(ctx, batch)
	metrics.ObserveCheckpoint(len(batch), err)
	if err != nil {
		w.buf.Requeue(batch)
		return fmt.Errorf("append %d results: %w", len(batch), err)
	}
	w.logger.Debug("checkpoint flushed", zap.Int("records", len(batch)))
	return nil
}
