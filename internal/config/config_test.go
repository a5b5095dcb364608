package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "wildfire_incidents.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "http://www.wildcad.net/WildCADWeb.asp", cfg.Source.DirectoryURL)
	assert.Equal(t, "https://www.wildwebe.net", cfg.Source.IncidentBaseURL)
	assert.Equal(t, "execute-api", cfg.Source.APIHostPattern)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 1920, cfg.Browser.WindowWidth)
	assert.Equal(t, 30*time.Second, cfg.Browser.RenderTimeout)
	assert.Equal(t, "auto", cfg.Extract.Strategy)
	assert.Equal(t, 250, cfg.Grid.DefaultTarget)
	assert.Equal(t, 100, cfg.Grid.MaxScrolls)
	assert.Equal(t, 50, cfg.Grid.TargetStep)
	assert.Equal(t, 15, cfg.Grid.NearTargetStall)
	assert.Equal(t, 20, cfg.Grid.MaxStall)
	assert.Equal(t, 500*time.Millisecond, cfg.Grid.ScrollPause)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 1, cfg.Ingest.Workers)
	assert.Equal(t, 2*time.Second, cfg.Ingest.CourtesyDelay)
	assert.Equal(t, time.Hour, cfg.Schedule.Interval)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "wildfire-incidents", cfg.Kafka.Topic)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/wildfire
log:
  level: debug
  format: console
extract:
  strategy: grid
ingest:
  workers: 3
schedule:
  interval: 15m
kafka:
  brokers: ["k1:9092", "k2:9092"]
source:
  rate_limits:
    - host: www.wildwebe.net
      rps: 0.5
      burst: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "grid", cfg.Extract.Strategy)
	assert.Equal(t, 3, cfg.Ingest.Workers)
	assert.Equal(t, 15*time.Minute, cfg.Schedule.Interval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []HostRateLimit{{Host: "www.wildwebe.net", RPS: 0.5, Burst: 2}}, cfg.Source.RateLimits)
	assert.Equal(t, "http://www.wildcad.net/WildCADWeb.asp", cfg.Source.DirectoryURL)
	// Defaults still apply for unset values
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("WILDFIRE_STORE_DRIVER", "postgres")
	t.Setenv("WILDFIRE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadLegacyScrapeInterval(t *testing.T) {
	chdirTemp(t)
	t.Setenv("SCRAPE_INTERVAL", "600")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.Schedule.Interval)
}

func TestLoadLegacyScrapeInterval_Invalid(t *testing.T) {
	chdirTemp(t)
	t.Setenv("SCRAPE_INTERVAL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.Schedule.Interval)
}

func TestLoadRejectsUnknownStrategy(t *testing.T) {
	chdirTemp(t)
	t.Setenv("WILDFIRE_EXTRACT_STRATEGY", "magic")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extract.strategy")
}

func TestValidate_Workers(t *testing.T) {
	cfg := &Config{
		Extract:  ExtractConfig{Strategy: "auto"},
		Ingest:   IngestConfig{Workers: 5},
		Retry:    RetryConfig{MaxAttempts: 5},
		Schedule: ScheduleConfig{Interval: time.Hour},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest.workers")

	cfg.Ingest.Workers = 4
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RateLimits(t *testing.T) {
	cfg := &Config{
		Source:   SourceConfig{RateLimits: []HostRateLimit{{Host: "www.wildwebe.net"}}},
		Extract:  ExtractConfig{Strategy: "auto"},
		Ingest:   IngestConfig{Workers: 1},
		Retry:    RetryConfig{MaxAttempts: 5},
		Schedule: ScheduleConfig{Interval: time.Hour},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source.rate_limits")

	cfg.Source.RateLimits[0].RPS = 1
	assert.NoError(t, cfg.Validate())
}

func TestInitLoggerConsole(t *testing.T) {
	logger, err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, logger)
	assert.Same(t, logger, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	logger, err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	_, err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
