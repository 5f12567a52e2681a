// Package collyextractor implements harvest.Extractor on top of a gocolly
// collector, reading review ratings out of the fetched HTML.
package collyextractor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	neturl "net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/ratingharvest/internal/harvest"
	"github.com/JakeFAU/ratingharvest/internal/policy/blocklist"
)

// DefaultUserAgent is a desktop browser string; many review sites reject the
// Go default.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// Timeout bounds a single HTTP exchange. The context deadline passed to
	// Extract applies on top of it.
	Timeout time.Duration
	// BlockedDomains are never fetched; see internal/policy/blocklist.
	BlockedDomains []string
}

// Waiter throttles outbound requests; see internal/policy/ratelimit.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Extractor fetches a page with colly and parses its rating.
type Extractor struct {
	cfg           Config
	limiter       Waiter
	blocked       *blocklist.List
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds an Extractor. limiter may be nil.
func New(cfg Config, limiter Waiter, logger *zap.Logger) *Extractor {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.UserAgent(cfg.UserAgent),
	)
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	blocked := blocklist.New(cfg.BlockedDomains)
	if blocked.Len() > 0 {
		logger.Info("host blocklist active", zap.Int("patterns", blocked.Len()))
	}
	return &Extractor{
		cfg:           cfg,
		limiter:       limiter,
		blocked:       blocked,
		baseCollector: c,
		logger:        logger,
	}
}

// Extract fetches url and returns the rating it advertises. A 429 response
// yields an error matching harvest.ErrRateLimited; network failures are
// wrapped in harvest.TransientError; a page without a score yields
// harvest.ErrNoRating. Blocklisted hosts fail with blocklist.ErrBlocked
// without any request.
func (e *Extractor) Extract(ctx context.Context, url string) (harvest.Rating, error) {
	if host := hostOf(url); e.blocked.Blocked(host) {
		return harvest.Rating{}, fmt.Errorf("%w: %s", blocklist.ErrBlocked, host)
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, url); err != nil {
			return harvest.Rating{}, &harvest.TransientError{Err: err}
		}
	}

	var (
		body     []byte
		fetchErr error
	)
	collector := e.baseCollector.Clone()
	e.configureCollectorHooks(collector, url, &body, &fetchErr)

	if err := runCollector(ctx, collector, url, &fetchErr); err != nil {
		return harvest.Rating{}, err
	}

	rating, err := Parse(body)
	if err != nil {
		return harvest.Rating{}, fmt.Errorf("parse %s: %w", url, err)
	}
	e.logger.Debug("rating extracted",
		zap.String("url", url),
		zap.String("score", derefString(rating.Score)),
		zap.Bool("has_review_count", rating.ReviewCount != nil),
	)
	return rating, nil
}

func (e *Extractor) configureCollectorHooks(hooks collectorHooks, url string, body *[]byte, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*body = append([]byte(nil), r.Body...)
	})
	hooks.OnError(func(r *colly.Response, err error) {
		*fetchErr = classifyFetchError(url, r, err)
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return &harvest.TransientError{Err: fmt.Errorf("colly fetch canceled: %w", ctx.Err())}
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			return &harvest.TransientError{Err: fmt.Errorf("colly visit failed: %w", err)}
		}
		return nil
	}
}

// classifyFetchError maps colly's error callback onto the harvest taxonomy.
func classifyFetchError(url string, r *colly.Response, err error) error {
	if r != nil && r.StatusCode != 0 {
		return &harvest.StatusError{Code: r.StatusCode, URL: url}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &harvest.TransientError{Err: err}
	}
	return fmt.Errorf("fetch %s: %w", url, err)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

func hostOf(raw string) string {
	u, err := neturl.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
