package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Source   SourceConfig   `yaml:"source" mapstructure:"source"`
	Browser  BrowserConfig  `yaml:"browser" mapstructure:"browser"`
	Extract  ExtractConfig  `yaml:"extract" mapstructure:"extract"`
	Grid     GridConfig     `yaml:"grid" mapstructure:"grid"`
	Retry    RetryConfig    `yaml:"retry" mapstructure:"retry"`
	Ingest   IngestConfig   `yaml:"ingest" mapstructure:"ingest"`
	Schedule ScheduleConfig `yaml:"schedule" mapstructure:"schedule"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Kafka    KafkaConfig    `yaml:"kafka" mapstructure:"kafka"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// SourceConfig locates the upstream directory, grid UI and API gateway.
type SourceConfig struct {
	DirectoryURL    string          `yaml:"directory_url" mapstructure:"directory_url"`
	IncidentBaseURL string          `yaml:"incident_base_url" mapstructure:"incident_base_url"`
	APIHostPattern  string          `yaml:"api_host_pattern" mapstructure:"api_host_pattern"`
	APIPathPattern  string          `yaml:"api_path_pattern" mapstructure:"api_path_pattern"`
	UserAgent       string          `yaml:"user_agent" mapstructure:"user_agent"`
	HTTPTimeout     time.Duration   `yaml:"http_timeout" mapstructure:"http_timeout"`
	RateLimits      []HostRateLimit `yaml:"rate_limits" mapstructure:"rate_limits"`
}

// HostRateLimit pins a fixed request rate for one upstream host. Hosts
// without an entry get an adaptive limiter.
type HostRateLimit struct {
	Host  string  `yaml:"host" mapstructure:"host"`
	RPS   float64 `yaml:"rps" mapstructure:"rps"`
	Burst int     `yaml:"burst" mapstructure:"burst"`
}

// BrowserConfig configures the headless browser session.
type BrowserConfig struct {
	ExecPath      string        `yaml:"exec_path" mapstructure:"exec_path"`
	Headless      bool          `yaml:"headless" mapstructure:"headless"`
	WindowWidth   int           `yaml:"window_width" mapstructure:"window_width"`
	WindowHeight  int           `yaml:"window_height" mapstructure:"window_height"`
	RenderTimeout time.Duration `yaml:"render_timeout" mapstructure:"render_timeout"`
	SettleDelay   time.Duration `yaml:"settle_delay" mapstructure:"settle_delay"`
}

// ExtractConfig selects the extraction strategy: auto, api or grid.
type ExtractConfig struct {
	Strategy string `yaml:"strategy" mapstructure:"strategy"`
}

// GridConfig tunes the grid walker termination rules.
type GridConfig struct {
	DefaultTarget   int           `yaml:"default_target" mapstructure:"default_target"`
	MaxScrolls      int           `yaml:"max_scrolls" mapstructure:"max_scrolls"`
	TargetStep      int           `yaml:"target_step" mapstructure:"target_step"`
	RecoverAfter    int           `yaml:"recover_after" mapstructure:"recover_after"`
	NearTargetStall int           `yaml:"near_target_stall" mapstructure:"near_target_stall"`
	MaxStall        int           `yaml:"max_stall" mapstructure:"max_stall"`
	ScrollPause     time.Duration `yaml:"scroll_pause" mapstructure:"scroll_pause"`
}

// RetryConfig configures per-center fetch retries.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
}

// IngestConfig configures a single ingestion run.
type IngestConfig struct {
	Workers       int           `yaml:"workers" mapstructure:"workers"`
	CourtesyDelay time.Duration `yaml:"courtesy_delay" mapstructure:"courtesy_delay"`
}

// ScheduleConfig configures the periodic trigger.
type ScheduleConfig struct {
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// KafkaConfig configures the optional incident event publisher.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`
}

// Load reads config.yaml from the working directory (if any), then applies
// WILDFIRE_* environment overrides on top of defaults.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("WILDFIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "wildfire_incidents.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("source.directory_url", "http://www.wildcad.net/WildCADWeb.asp")
	v.SetDefault("source.incident_base_url", "https://www.wildwebe.net")
	v.SetDefault("source.api_host_pattern", "execute-api")
	v.SetDefault("source.api_path_pattern", "/centers/")
	v.SetDefault("source.user_agent", "wildfire-cli/1.0")
	v.SetDefault("source.http_timeout", 30*time.Second)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.render_timeout", 30*time.Second)
	v.SetDefault("browser.settle_delay", 10*time.Second)
	v.SetDefault("extract.strategy", "auto")
	v.SetDefault("grid.default_target", 250)
	v.SetDefault("grid.max_scrolls", 100)
	v.SetDefault("grid.target_step", 50)
	v.SetDefault("grid.recover_after", 3)
	v.SetDefault("grid.near_target_stall", 15)
	v.SetDefault("grid.max_stall", 20)
	v.SetDefault("grid.scroll_pause", 500*time.Millisecond)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.base_delay", 5*time.Second)
	v.SetDefault("ingest.workers", 1)
	v.SetDefault("ingest.courtesy_delay", 2*time.Second)
	v.SetDefault("schedule.interval", legacyInterval(time.Hour))
	v.SetDefault("server.port", 8080)
	v.SetDefault("kafka.topic", "wildfire-incidents")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the ingestion engine cannot run with.
func (c *Config) Validate() error {
	switch c.Extract.Strategy {
	case "auto", "api", "grid":
	default:
		return eris.Errorf("config: unknown extract.strategy %q", c.Extract.Strategy)
	}
	if c.Ingest.Workers < 1 || c.Ingest.Workers > 4 {
		return eris.Errorf("config: ingest.workers must be between 1 and 4, got %d", c.Ingest.Workers)
	}
	if c.Retry.MaxAttempts < 1 {
		return eris.Errorf("config: retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	for _, rl := range c.Source.RateLimits {
		if rl.Host == "" || rl.RPS <= 0 {
			return eris.Errorf("config: source.rate_limits entry needs a host and positive rps, got %+v", rl)
		}
	}
	if c.Schedule.Interval <= 0 {
		return eris.Errorf("config: schedule.interval must be positive, got %s", c.Schedule.Interval)
	}
	return nil
}

// legacyInterval honors the SCRAPE_INTERVAL variable (whole seconds) used by
// older deployments.
func legacyInterval(fallback time.Duration) time.Duration {
	raw := os.Getenv("SCRAPE_INTERVAL")
	if raw == "" {
		return fallback
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

// InitLogger builds the process logger and installs it as the zap global.
func InitLogger(cfg LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return logger, nil
}
