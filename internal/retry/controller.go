// Package retry wraps Extractor calls with the per-URL attempt policy:
// randomized pre-attempt jitter, bounded retries on rate limiting with an
// escalating backoff schedule, and conversion of every other failure into a
// failed result.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ratingharvest/internal/harvest"
	"github.com/JakeFAU/ratingharvest/internal/metrics"
)

// Config controls the attempt policy.
type Config struct {
	MaxAttempts  int
	Backoff      []time.Duration
	JitterMin    time.Duration
	JitterMax    time.Duration
	FetchTimeout time.Duration
}

// DefaultConfig mirrors the defaults loaded by internal/config.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		Backoff:      []time.Duration{5 * time.Second, 30 * time.Second, 300 * time.Second},
		JitterMin:    time.Second,
		JitterMax:    3 * time.Second,
		FetchTimeout: 10 * time.Second,
	}
}

// Controller runs the attempt loop for one URL at a time. It holds no per-URL
// state, so one Controller is shared by every worker.
type Controller struct {
	extractor harvest.Extractor
	sleeper   harvest.Sleeper
	cfg       Config
	logger    *zap.Logger
	jitterFn  func(lo, hi time.Duration) time.Duration
}

// New constructs a Controller.
func New(extractor harvest.Extractor, sleeper harvest.Sleeper, cfg Config, logger *zap.Logger) *Controller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		extractor: extractor,
		sleeper:   sleeper,
		cfg:       cfg,
		logger:    logger,
		jitterFn:  randomBetween,
	}
}

// Attempt extracts a rating for url and always returns a Result. Failures of
// the extractor, including panics, never propagate to the caller.
func (c *Controller) Attempt(ctx context.Context, url string) harvest.Result {
	for attempt := 1; ; attempt++ {
		if err := c.sleeper.Sleep(ctx, c.jitterFn(c.cfg.JitterMin, c.cfg.JitterMax)); err != nil {
			return harvest.Failed(url, attempt-1, fmt.Errorf("jitter wait: %w", err))
		}

		rating, err := c.extract(ctx, url)
		outcome := harvest.Classify(err)
		metrics.ObserveAttempt(outcome)

		switch outcome {
		case harvest.OutcomeOK:
			return harvest.Succeeded(url, rating, attempt)
		case harvest.OutcomeRateLimited:
			if attempt >= c.cfg.MaxAttempts {
				c.logger.Error("retries exhausted",
					zap.String("url", url),
					zap.Int("attempts", attempt),
					zap.Error(err),
				)
				return harvest.Failed(url, attempt, fmt.Errorf("retries exhausted: %w", err))
			}
			delay := c.Backoff(attempt)
			c.logger.Warn("rate limited; backing off",
				zap.String("url", url),
				zap.Duration("delay", delay),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", c.cfg.MaxAttempts),
			)
			metrics.ObserveRateLimitDelay(delay)
			if err := c.sleeper.Sleep(ctx, delay); err != nil {
				return harvest.Failed(url, attempt, fmt.Errorf("backoff wait: %w", err))
			}
		default:
			c.logger.Error("extraction failed",
				zap.String("url", url),
				zap.String("class", string(outcome)),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return harvest.Failed(url, attempt, err)
		}
	}
}

// Backoff returns the wait after the given rate-limited attempt (1-based),
// clamped to the last entry of the schedule.
func (c *Controller) Backoff(attempt int) time.Duration {
	n := len(c.cfg.Backoff)
	if n == 0 {
		return 0
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return c.cfg.Backoff[idx]
}

func (c *Controller) extract(ctx context.Context, url string) (rating harvest.Rating, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extractor panic: %v", r)
		}
	}()
	attemptCtx := ctx
	if c.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.FetchTimeout)
		defer cancel()
	}
	return c.extractor.Extract(attemptCtx, url)
}

func randomBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return max(lo, 0)
	}
	bound := big.NewInt(int64(hi - lo))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return lo + (hi-lo)/2
	}
	return lo + time.Duration(n.Int64())
}
