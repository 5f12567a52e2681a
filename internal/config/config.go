// Package config loads and validates run configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	collyextractor "github.com/JakeFAU/ratingharvest/internal/extractor/colly"
	"github.com/JakeFAU/ratingharvest/internal/pipeline"
	"github.com/JakeFAU/ratingharvest/internal/policy/ratelimit"
	"github.com/JakeFAU/ratingharvest/internal/retry"
	"github.com/JakeFAU/ratingharvest/internal/storage/gcs"
	"github.com/JakeFAU/ratingharvest/internal/storage/postgres"
	"github.com/JakeFAU/ratingharvest/internal/storage/redis"
)

// Output backends.
const (
	BackendCSV      = "csv"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendGCS      = "gcs"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Input      InputConfig      `mapstructure:"input"`
	Output     OutputConfig     `mapstructure:"output"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Extractor  ExtractorConfig  `mapstructure:"extractor"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Redis      RedisConfig      `mapstructure:"redis"`
	GCS        GCSConfig        `mapstructure:"gcs"`
	Status     StatusConfig     `mapstructure:"status"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// InputConfig locates the URL list.
type InputConfig struct {
	Path string `mapstructure:"path"`
}

// OutputConfig selects where results are appended.
type OutputConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// PipelineConfig sizes the worker pool.
type PipelineConfig struct {
	Workers int `mapstructure:"workers"`
}

// RetryConfig is the per-URL attempt policy.
type RetryConfig struct {
	MaxAttempts  int             `mapstructure:"max_attempts"`
	Backoff      []time.Duration `mapstructure:"backoff"`
	JitterMin    time.Duration   `mapstructure:"jitter_min"`
	JitterMax    time.Duration   `mapstructure:"jitter_max"`
	FetchTimeout time.Duration   `mapstructure:"fetch_timeout"`
}

// CheckpointConfig controls how often buffered results are flushed.
type CheckpointConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// ExtractorConfig tunes the HTTP collector.
type ExtractorConfig struct {
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	BlockedDomains    []string      `mapstructure:"blocked_domains"`
}

// PostgresConfig is used when output.backend is postgres.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// RedisConfig is used when output.backend is redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// GCSConfig is used when output.backend is gcs.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// StatusConfig enables the HTTP status server when Addr is set.
type StatusConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"input":   "input.path",
	"output":  "output.path",
	"backend": "output.backend",
	"workers": "pipeline.workers",
	"status":  "status.addr",
}

// Load builds a Config from disk, environment (HARVEST_ prefix) and any flags
// in flags that were set explicitly. path and flags may be empty.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input.path", "")
	v.SetDefault("output.backend", BackendCSV)
	v.SetDefault("output.path", "ratings.csv")
	v.SetDefault("pipeline.workers", 5)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.backoff", []time.Duration{5 * time.Second, 30 * time.Second, 300 * time.Second})
	v.SetDefault("retry.jitter_min", time.Second)
	v.SetDefault("retry.jitter_max", 3*time.Second)
	v.SetDefault("retry.fetch_timeout", 10*time.Second)
	v.SetDefault("checkpoint.interval", 5*time.Second)
	v.SetDefault("extractor.user_agent", collyextractor.DefaultUserAgent)
	v.SetDefault("extractor.timeout", 10*time.Second)
	v.SetDefault("extractor.requests_per_second", 0)
	v.SetDefault("extractor.burst", 1)
	v.SetDefault("extractor.blocked_domains", []string{})
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.table", "ratings")
	v.SetDefault("postgres.max_conns", 0)
	v.SetDefault("postgres.min_conns", 0)
	v.SetDefault("postgres.max_conn_lifetime", time.Duration(0))
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "ratingharvest:results")
	v.SetDefault("gcs.bucket", "")
	v.SetDefault("gcs.prefix", "ratings")
	v.SetDefault("status.addr", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Input.Path) == "" {
		return fmt.Errorf("input.path is required")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if len(c.Retry.Backoff) == 0 {
		return fmt.Errorf("retry.backoff must list at least one delay")
	}
	for i, d := range c.Retry.Backoff {
		if d < 0 {
			return fmt.Errorf("retry.backoff[%d] must be >= 0", i)
		}
	}
	if c.Retry.JitterMin < 0 || c.Retry.JitterMax < c.Retry.JitterMin {
		return fmt.Errorf("retry.jitter_min must be >= 0 and <= retry.jitter_max")
	}
	if c.Retry.FetchTimeout <= 0 {
		return fmt.Errorf("retry.fetch_timeout must be > 0")
	}
	if c.Checkpoint.Interval <= 0 {
		return fmt.Errorf("checkpoint.interval must be > 0")
	}
	if c.Extractor.Timeout <= 0 || c.Extractor.Timeout > c.Retry.FetchTimeout {
		return fmt.Errorf("extractor.timeout must be > 0 and <= retry.fetch_timeout")
	}
	if c.Postgres.MinConns < 0 || c.Postgres.MaxConns < 0 ||
		(c.Postgres.MaxConns > 0 && c.Postgres.MinConns > c.Postgres.MaxConns) {
		return fmt.Errorf("postgres.min_conns must be >= 0 and <= postgres.max_conns")
	}
	if c.Extractor.RequestsPerSecond < 0 {
		return fmt.Errorf("extractor.requests_per_second must be >= 0")
	}
	switch c.Output.Backend {
	case BackendCSV:
		if strings.TrimSpace(c.Output.Path) == "" {
			return fmt.Errorf("output.path is required for the csv backend")
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required for the postgres backend")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis backend")
		}
	case BackendGCS:
		if strings.TrimSpace(c.GCS.Bucket) == "" {
			return fmt.Errorf("gcs.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown output.backend %q", c.Output.Backend)
	}
	return nil
}

// RetryPolicy converts the retry section for the retry controller.
func (c Config) RetryPolicy() retry.Config {
	return retry.Config{
		MaxAttempts:  c.Retry.MaxAttempts,
		Backoff:      append([]time.Duration(nil), c.Retry.Backoff...),
		JitterMin:    c.Retry.JitterMin,
		JitterMax:    c.Retry.JitterMax,
		FetchTimeout: c.Retry.FetchTimeout,
	}
}

// PipelineOptions converts the run-level settings for the pipeline runner.
func (c Config) PipelineOptions() pipeline.Config {
	return pipeline.Config{
		Workers:            c.Pipeline.Workers,
		Retry:              c.RetryPolicy(),
		CheckpointInterval: c.Checkpoint.Interval,
	}
}

// ExtractorOptions converts the extractor section for the colly extractor.
func (c Config) ExtractorOptions() collyextractor.Config {
	return collyextractor.Config{
		UserAgent:      c.Extractor.UserAgent,
		Timeout:        c.Extractor.Timeout,
		BlockedDomains: append([]string(nil), c.Extractor.BlockedDomains...),
	}
}

// RateLimit converts the extractor throttle settings.
func (c Config) RateLimit() ratelimit.Config {
	return ratelimit.Config{
		RequestsPerSecond: c.Extractor.RequestsPerSecond,
		Burst:             c.Extractor.Burst,
	}
}

// PostgresOptions converts the postgres section for the result store.
func (c Config) PostgresOptions() postgres.Config {
	return postgres.Config{
		DSN:             c.Postgres.DSN,
		Table:           c.Postgres.Table,
		MaxConns:        c.Postgres.MaxConns,
		MinConns:        c.Postgres.MinConns,
		MaxConnLifetime: c.Postgres.MaxConnLifetime,
	}
}

// RedisOptions converts the redis section for the result store.
func (c Config) RedisOptions() redis.Config {
	return redis.Config{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		Key:      c.Redis.Key,
	}
}

// GCSOptions converts the gcs section for the result store.
func (c Config) GCSOptions() gcs.Config {
	return gcs.Config{
		Bucket: c.GCS.Bucket,
		Prefix: c.GCS.Prefix,
	}
}
