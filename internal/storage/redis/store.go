// Package redis keeps run results in a Redis hash keyed by URL.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/ratingharvest/internal/harvest"
)

// Config controls the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

type client interface {
	Ping(ctx context.Context) *goredis.StatusCmd
	HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd
	HSetNX(ctx context.Context, key, field string, value any) *goredis.BoolCmd
	Close() error
}

// record is the JSON value stored under each URL field.
type record struct {
	Score       *string `json:"score"`
	ReviewCount *int    `json:"review_count"`
	Success     bool    `json:"success"`
	Attempts    int     `json:"attempts"`
	Error       string  `json:"error,omitempty"`
}

// Store implements harvest.ResultStore on a single Redis hash.
type Store struct {
	client client
	key    string
	logger *zap.Logger
}

// New connects a client using cfg.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required")
	}
	c := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewWithClient(c, cfg.Key, logger), nil
}

// NewWithClient wraps an existing client (primarily for testing).
func NewWithClient(c client, key string, logger *zap.Logger) *Store {
	if key == "" {
		key = "ratingharvest:results"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: c, key: key, logger: logger}
}

// Prepare checks connectivity; the hash is created on first write.
func (s *Store) Prepare(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Seen returns every URL field in the hash. A value that cannot be decoded
// is logged but still counts as done, since HSETNX would never replace it.
func (s *Store) Seen(ctx context.Context) (map[string]struct{}, error) {
	seen := make(map[string]struct{})
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		s.logger.Warn("cannot read existing results; processing everything",
			zap.String("key", s.key), zap.Error(err))
		return seen, nil
	}
	failed, corrupt := 0, 0
	for u, v := range values {
		if u == "" {
			continue
		}
		seen[u] = struct{}{}
		res, err := decode(u, []byte(v))
		if err != nil {
			corrupt++
			s.logger.Warn("stored result is corrupt", zap.String("url", u), zap.Error(err))
			continue
		}
		if !res.Success {
			failed++
		}
	}
	s.logger.Info("loaded already processed URLs",
		zap.Int("count", len(seen)), zap.Int("failed", failed), zap.Int("corrupt", corrupt))
	return seen, nil
}

// Append writes each result unless its URL is already present.
func (s *Store) Append(ctx context.Context, results []harvest.Result) error {
	for _, res := range results {
		payload, err := encode(res)
		if err != nil {
			return err
		}
		added, err := s.client.HSetNX(ctx, s.key, res.URL, payload).Result()
		if err != nil {
			return fmt.Errorf("hsetnx %s: %w", res.URL, err)
		}
		if !added {
			s.logger.Debug("result already stored", zap.String("url", res.URL))
		}
	}
	return nil
}

// Close closes the Redis client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}

func encode(res harvest.Result) ([]byte, error) {
	payload, err := json.Marshal(record{
		Score:       res.Score,
		ReviewCount: res.ReviewCount,
		Success:     res.Success,
		Attempts:    res.Attempts,
		Error:       res.Err,
	})
	if err != nil {
		return nil, fmt.Errorf("encode result for %s: %w", res.URL, err)
	}
	return payload, nil
}

// decode turns a stored hash value back into a Result for url.
func decode(url string, value []byte) (harvest.Result, error) {
	var rec record
	if err := json.Unmarshal(value, &rec); err != nil {
		return harvest.Result{}, fmt.Errorf("decode result for %s: %w", url, err)
	}
	return harvest.Result{
		URL:         url,
		Score:       rec.Score,
		ReviewCount: rec.ReviewCount,
		Success:     rec.Success,
		Attempts:    rec.Attempts,
		Err:         rec.Error,
	}, nil
}
