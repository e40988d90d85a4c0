// Package config loads the collector configuration from a YAML file and HN_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/typesarecool/myhn/pkg/collector"
	"github.com/typesarecool/myhn/pkg/logging"
	"github.com/typesarecool/myhn/pkg/scheduler"
	"github.com/typesarecool/myhn/pkg/source"
	"github.com/typesarecool/myhn/pkg/store/backend"
	"github.com/typesarecool/myhn/pkg/store/objectstore"
)

// Config is the root configuration.
// Precedence, lowest first: defaults, YAML file, environment, command-line flags.
type Config struct {
	Run       RunConfig       `yaml:"run"`
	Source    SourceConfig    `yaml:"source"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Store     StoreConfig     `yaml:"store"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// RunConfig selects what to collect.
type RunConfig struct {
	Mode  string  `yaml:"mode"  env:"HN_MODE"  env-default:"range"`
	Count int64   `yaml:"count" env:"HN_COUNT" env-default:"5"`
	Seeds []int64 `yaml:"seeds" env:"HN_SEEDS" env-separator:","`

	// MaxDepth bounds the graph walk below the seeds; 0 means unbounded.
	MaxDepth int `yaml:"max_depth" env:"HN_MAX_DEPTH" env-default:"0"`
	MaxItems int `yaml:"max_items" env:"HN_MAX_ITEMS" env-default:"0"`

	Incremental   bool `yaml:"incremental"    env:"HN_INCREMENTAL"    env-default:"false"`
	ProgressEvery int  `yaml:"progress_every" env:"HN_PROGRESS_EVERY" env-default:"100"`
}

// SourceConfig locates the item API.
type SourceConfig struct {
	BaseURL        string        `yaml:"base_url"        env:"HN_BASE_URL"        env-default:"https://hacker-news.firebaseio.com/v0"`
	UserAgent      string        `yaml:"user_agent"      env:"HN_USER_AGENT"      env-default:"myhn-collector/0.1"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"HN_REQUEST_TIMEOUT" env-default:"30s"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"  env:"HN_MAX_BODY_BYTES"  env-default:"1048576"`
}

// SchedulerConfig paces fetches.
type SchedulerConfig struct {
	Workers           int           `yaml:"workers"            env:"HN_WORKERS"            env-default:"4"`
	MinInterval       time.Duration `yaml:"min_interval"       env:"HN_MIN_INTERVAL"       env-default:"100ms"`
	MaxAttempts       int           `yaml:"max_attempts"       env:"HN_MAX_ATTEMPTS"       env-default:"5"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"    env:"HN_INITIAL_BACKOFF"    env-default:"500ms"`
	MaxBackoff        time.Duration `yaml:"max_backoff"        env:"HN_MAX_BACKOFF"        env-default:"30s"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" env:"HN_BACKOFF_MULTIPLIER" env-default:"2"`
	BackoffJitter     float64       `yaml:"backoff_jitter"     env:"HN_BACKOFF_JITTER"     env-default:"0.1"`
}

// StoreConfig selects the backend.
type StoreConfig struct {
	Backend     string   `yaml:"backend"      env:"HN_BACKEND"      env-default:"file"`
	Target      string   `yaml:"target"       env:"HN_TARGET"       env-default:"data.json"`
	RedisPrefix string   `yaml:"redis_prefix" env:"HN_REDIS_PREFIX" env-default:"hn"`
	S3          S3Config `yaml:"s3"`
}

// S3Config locates the snapshot object for the s3 backend.
type S3Config struct {
	Endpoint     string `yaml:"endpoint"      env:"HN_S3_ENDPOINT"`
	AccessKey    string `yaml:"access_key"    env:"HN_S3_ACCESS_KEY"`
	SecretKey    string `yaml:"secret_key"    env:"HN_S3_SECRET_KEY"`
	Bucket       string `yaml:"bucket"        env:"HN_S3_BUCKET"`
	Object       string `yaml:"object"        env:"HN_S3_OBJECT"        env-default:"items.json"`
	CreateBucket bool   `yaml:"create_bucket" env:"HN_S3_CREATE_BUCKET" env-default:"false"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"  env:"HN_LOG_LEVEL"  env-default:"info"`
	Pretty bool   `yaml:"pretty" env:"HN_LOG_PRETTY" env-default:"false"`
}

// MetricsConfig enables the /metrics endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr" env:"HN_METRICS_ADDR"`
}

// Load reads path (or CONFIG_PATH when path is empty) and overlays the
// environment. Without a file, only defaults and environment apply.
// The result is not validated; call Validate after applying flags.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %q: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
		return &cfg, nil
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration as a whole.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Scheduler.Workers < 1 || c.Scheduler.Workers > 64 {
		return fmt.Errorf("scheduler.workers must be within 1..64, got %d", c.Scheduler.Workers)
	}
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if c.Run.MaxDepth < 0 {
		return fmt.Errorf("run.max_depth must not be negative, got %d", c.Run.MaxDepth)
	}
	if c.Source.RequestTimeout < 0 {
		return fmt.Errorf("source.request_timeout must not be negative")
	}
	if err := c.CollectorConfig().Validate(); err != nil {
		return err
	}
	return c.BackendConfig().Validate()
}

// CollectorConfig maps the run and scheduler sections.
func (c *Config) CollectorConfig() collector.Config {
	maxDepth := c.Run.MaxDepth
	if maxDepth == 0 {
		maxDepth = -1
	}
	return collector.Config{
		Mode:          collector.Mode(c.Run.Mode),
		Count:         c.Run.Count,
		Incremental:   c.Run.Incremental,
		Seeds:         c.Run.Seeds,
		MaxDepth:      maxDepth,
		MaxItems:      c.Run.MaxItems,
		ProgressEvery: c.Run.ProgressEvery,
		Scheduler:     c.SchedulerConfig(),
	}
}

// SchedulerConfig maps the scheduler section.
func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Workers:           c.Scheduler.Workers,
		MinInterval:       c.Scheduler.MinInterval,
		MaxAttempts:       c.Scheduler.MaxAttempts,
		InitialBackoff:    c.Scheduler.InitialBackoff,
		MaxBackoff:        c.Scheduler.MaxBackoff,
		BackoffMultiplier: c.Scheduler.BackoffMultiplier,
		Jitter:            c.Scheduler.BackoffJitter,
	}
}

// SourceConfig maps the API root.
func (c *Config) SourceConfig() source.Config {
	return source.Config{BaseURL: c.Source.BaseURL}
}

// TransportConfig maps the HTTP transport settings.
func (c *Config) TransportConfig() source.TransportConfig {
	return source.TransportConfig{
		UserAgent:    c.Source.UserAgent,
		Timeout:      c.Source.RequestTimeout,
		MaxBodyBytes: c.Source.MaxBodyBytes,
	}
}

// BackendConfig maps the store section.
func (c *Config) BackendConfig() backend.Config {
	return backend.Config{
		Name:        c.Store.Backend,
		Target:      c.Store.Target,
		RedisPrefix: c.Store.RedisPrefix,
		S3: objectstore.Config{
			Endpoint:     c.Store.S3.Endpoint,
			AccessKey:    c.Store.S3.AccessKey,
			SecretKey:    c.Store.S3.SecretKey,
			Bucket:       c.Store.S3.Bucket,
			Object:       c.Store.S3.Object,
			CreateBucket: c.Store.S3.CreateBucket,
		},
	}
}

// LoggingConfig maps the log section. Output defaults to stderr.
func (c *Config) LoggingConfig() logging.Config {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Pretty = c.Log.Pretty
	return cfg
}
