package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	flags := runFlags()
	require.NoError(t, flags.Parse([]string{"--input", "urls.csv"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)

	require.Equal(t, "urls.csv", cfg.Input.Path)
	require.Equal(t, BackendCSV, cfg.Output.Backend)
	require.Equal(t, "ratings.csv", cfg.Output.Path)
	require.Equal(t, 5, cfg.Pipeline.Workers)
	require.Equal(t, 3, cfg.Retry.MaxAttempts)
	require.Equal(t, []time.Duration{5 * time.Second, 30 * time.Second, 300 * time.Second}, cfg.Retry.Backoff)
	require.Equal(t, time.Second, cfg.Retry.JitterMin)
	require.Equal(t, 3*time.Second, cfg.Retry.JitterMax)
	require.Equal(t, 10*time.Second, cfg.Retry.FetchTimeout)
	require.Equal(t, 5*time.Second, cfg.Checkpoint.Interval)
	require.LessOrEqual(t, cfg.Extractor.Timeout, cfg.Retry.FetchTimeout)
	require.True(t, cfg.Logging.Development)

	policy := cfg.RetryPolicy()
	require.Equal(t, cfg.Retry.Backoff, policy.Backoff)
	require.Equal(t, 5, cfg.PipelineOptions().Workers)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	configYAML := `
input:
  path: companies.csv
output:
  backend: postgres
pipeline:
  workers: 8
retry:
  max_attempts: 4
  backoff: ["1s", "2s"]
  jitter_min: 0s
  jitter_max: 500ms
checkpoint:
  interval: 2s
extractor:
  requests_per_second: 2.5
  burst: 3
  blocked_domains: ["*.internal", "ads.example"]
postgres:
  dsn: postgres://harvest@localhost/harvest
  table: trust_scores
  min_conns: 2
  max_conn_lifetime: 30m
logging:
  development: false
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	require.Equal(t, BackendPostgres, cfg.Output.Backend)
	require.Equal(t, 8, cfg.Pipeline.Workers)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, cfg.Retry.Backoff)
	require.Equal(t, 500*time.Millisecond, cfg.Retry.JitterMax)
	require.Equal(t, 2*time.Second, cfg.Checkpoint.Interval)
	require.InDelta(t, 2.5, cfg.RateLimit().RequestsPerSecond, 1e-9)
	require.Equal(t, 3, cfg.RateLimit().Burst)
	require.Equal(t, []string{"*.internal", "ads.example"}, cfg.ExtractorOptions().BlockedDomains)
	require.Equal(t, "trust_scores", cfg.PostgresOptions().Table)
	require.Equal(t, int32(2), cfg.PostgresOptions().MinConns)
	require.Equal(t, 30*time.Minute, cfg.PostgresOptions().MaxConnLifetime)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestFlagsOverrideFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("input:\n  path: a.csv\npipeline:\n  workers: 2\n"), 0o600))

	flags := runFlags()
	require.NoError(t, flags.Parse([]string{"--workers", "9", "--output", "out/b.csv"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	require.Equal(t, "a.csv", cfg.Input.Path)
	require.Equal(t, 9, cfg.Pipeline.Workers)
	require.Equal(t, "out/b.csv", cfg.Output.Path)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("HARVEST_INPUT_PATH", "env.csv")
	t.Setenv("HARVEST_OUTPUT_BACKEND", "redis")
	t.Setenv("HARVEST_REDIS_ADDR", "localhost:6379")
	t.Setenv("HARVEST_PIPELINE_WORKERS", "3")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, "env.csv", cfg.Input.Path)
	require.Equal(t, BackendRedis, cfg.Output.Backend)
	require.Equal(t, "localhost:6379", cfg.RedisOptions().Addr)
	require.Equal(t, 3, cfg.Pipeline.Workers)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			Input:      InputConfig{Path: "urls.csv"},
			Output:     OutputConfig{Backend: BackendCSV, Path: "out.csv"},
			Pipeline:   PipelineConfig{Workers: 1},
			Retry:      RetryConfig{MaxAttempts: 3, Backoff: []time.Duration{time.Second}, FetchTimeout: time.Second},
			Checkpoint: CheckpointConfig{Interval: time.Second},
			Extractor:  ExtractorConfig{Timeout: time.Second},
		}
	}
	require.NoError(t, valid().Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no input", func(c *Config) { c.Input.Path = " " }, "input.path"},
		{"no workers", func(c *Config) { c.Pipeline.Workers = 0 }, "pipeline.workers"},
		{"no attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"empty backoff", func(c *Config) { c.Retry.Backoff = nil }, "retry.backoff"},
		{"negative backoff", func(c *Config) { c.Retry.Backoff = []time.Duration{-time.Second} }, "retry.backoff[0]"},
		{"inverted jitter", func(c *Config) { c.Retry.JitterMin = 2 * time.Second }, "retry.jitter_min"},
		{"no fetch timeout", func(c *Config) { c.Retry.FetchTimeout = 0 }, "retry.fetch_timeout"},
		{"extractor outlives fetch", func(c *Config) { c.Extractor.Timeout = 2 * time.Second }, "extractor.timeout"},
		{"no extractor timeout", func(c *Config) { c.Extractor.Timeout = 0 }, "extractor.timeout"},
		{"min conns above max", func(c *Config) { c.Postgres.MinConns, c.Postgres.MaxConns = 4, 2 }, "postgres.min_conns"},
		{"no interval", func(c *Config) { c.Checkpoint.Interval = 0 }, "checkpoint.interval"},
		{"csv without path", func(c *Config) { c.Output.Path = "" }, "output.path"},
		{"postgres without dsn", func(c *Config) { c.Output.Backend = BackendPostgres }, "postgres.dsn"},
		{"redis without addr", func(c *Config) { c.Output.Backend = BackendRedis }, "redis.addr"},
		{"gcs without bucket", func(c *Config) { c.Output.Backend = BackendGCS }, "gcs.bucket"},
		{"unknown backend", func(c *Config) { c.Output.Backend = "s3" }, "unknown output.backend"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tc.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}
}

func runFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.String("input", "", "")
	fs.String("output", "", "")
	fs.String("backend", "", "")
	fs.Int("workers", 0, "")
	fs.String("status", "", "")
	return fs
}
