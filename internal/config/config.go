// Package config loads and validates taskshell configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/taskshell/internal/storage/gcs"
	"github.com/JakeFAU/taskshell/internal/storage/local"
	"github.com/JakeFAU/taskshell/internal/storage/mio"
	"github.com/JakeFAU/taskshell/internal/storage/postgres"
	"github.com/JakeFAU/taskshell/internal/storage/redis"
)

// Storage providers accepted by storage.provider.
const (
	ProviderMemory   = "memory"
	ProviderLocal    = "local"
	ProviderRedis    = "redis"
	ProviderGCS      = "gcs"
	ProviderMinIO    = "minio"
	ProviderPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Poller  PollerConfig  `mapstructure:"poller" yaml:"poller"`
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// AuthConfig guards the cache admin routes.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development" yaml:"development"`
	Level       string `mapstructure:"level" yaml:"level"`
}

// PollerConfig drives `taskshell watch`.
type PollerConfig struct {
	StatusURL      string        `mapstructure:"status_url" yaml:"status_url"`
	IndexURL       string        `mapstructure:"index_url" yaml:"index_url"`
	Interval       time.Duration `mapstructure:"interval" yaml:"interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	RedirectDelay  time.Duration `mapstructure:"redirect_delay" yaml:"redirect_delay"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// CacheConfig describes the current app shell generation.
type CacheConfig struct {
	Version          string        `mapstructure:"version" yaml:"version"`
	AppShell         []string      `mapstructure:"app_shell" yaml:"app_shell"`
	Origin           string        `mapstructure:"origin" yaml:"origin"`
	StoreOnMiss      bool          `mapstructure:"store_on_miss" yaml:"store_on_miss"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	FetchConcurrency int           `mapstructure:"fetch_concurrency" yaml:"fetch_concurrency"`
	FetchRPS         float64       `mapstructure:"fetch_rps" yaml:"fetch_rps"`
	FetchBurst       int           `mapstructure:"fetch_burst" yaml:"fetch_burst"`
	UserAgent        string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// StorageConfig selects and parameterizes the cache storage backend.
type StorageConfig struct {
	Provider string          `mapstructure:"provider" yaml:"provider"`
	Local    local.Config    `mapstructure:"local" yaml:"local"`
	Redis    redis.Config    `mapstructure:"redis" yaml:"redis"`
	GCS      gcs.Config      `mapstructure:"gcs" yaml:"gcs"`
	MinIO    mio.Config      `mapstructure:"minio" yaml:"minio"`
	Postgres postgres.Config `mapstructure:"postgres" yaml:"postgres"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TASKSHELL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")

	v.SetDefault("poller.status_url", "http://localhost:8000/export/status")
	v.SetDefault("poller.index_url", "/")
	v.SetDefault("poller.interval", 500*time.Millisecond)
	v.SetDefault("poller.request_timeout", 450*time.Millisecond)
	v.SetDefault("poller.redirect_delay", 500*time.Millisecond)
	v.SetDefault("poller.user_agent", "taskshell/0.1")

	v.SetDefault("cache.version", "shell-v1")
	v.SetDefault("cache.app_shell", []string{})
	v.SetDefault("cache.origin", "")
	v.SetDefault("cache.store_on_miss", false)
	v.SetDefault("cache.fetch_timeout", 10*time.Second)
	v.SetDefault("cache.fetch_concurrency", 4)
	v.SetDefault("cache.fetch_rps", 0.0)
	v.SetDefault("cache.fetch_burst", 4)
	v.SetDefault("cache.user_agent", "taskshell/0.1")

	// Keys must be registered for AutomaticEnv to reach them during Unmarshal.
	v.SetDefault("storage.provider", ProviderMemory)
	v.SetDefault("storage.local.base_dir", "./cache")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.prefix", redis.DefaultPrefix)
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.prefix", "taskshell")
	v.SetDefault("storage.minio.endpoint", "")
	v.SetDefault("storage.minio.access_key_id", "")
	v.SetDefault("storage.minio.secret_access_key", "")
	v.SetDefault("storage.minio.use_ssl", false)
	v.SetDefault("storage.minio.bucket", "")
	v.SetDefault("storage.minio.prefix", "taskshell")
	v.SetDefault("storage.minio.retry.max_retries", 5)
	v.SetDefault("storage.minio.retry.initial_interval", time.Second)
	v.SetDefault("storage.minio.retry.max_interval", 30*time.Second)
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.table", "cache_entries")
	v.SetDefault("storage.postgres.max_conns", 4)
	v.SetDefault("storage.postgres.min_conns", 0)
	v.SetDefault("storage.postgres.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("storage.postgres.auto_migrate", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval must be > 0")
	}
	if c.Poller.RequestTimeout <= 0 {
		return fmt.Errorf("poller.request_timeout must be > 0")
	}
	if c.Poller.RequestTimeout >= c.Poller.Interval {
		return fmt.Errorf("poller.request_timeout must be shorter than poller.interval")
	}
	if c.Poller.RedirectDelay < 0 {
		return fmt.Errorf("poller.redirect_delay must be >= 0")
	}
	if strings.TrimSpace(c.Cache.Version) == "" {
		return fmt.Errorf("cache.version must be set")
	}
	if c.Cache.FetchTimeout <= 0 {
		return fmt.Errorf("cache.fetch_timeout must be > 0")
	}
	if c.Cache.FetchRPS < 0 {
		return fmt.Errorf("cache.fetch_rps must be >= 0")
	}
	return c.Storage.validate()
}

func (s StorageConfig) validate() error {
	switch s.Provider {
	case ProviderMemory:
	case ProviderLocal:
		if s.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local provider")
		}
	case ProviderRedis:
		if s.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr must be set for the redis provider")
		}
	case ProviderGCS:
		if s.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set for the gcs provider")
		}
	case ProviderMinIO:
		if s.MinIO.Endpoint == "" || s.MinIO.Bucket == "" {
			return fmt.Errorf("storage.minio.endpoint and storage.minio.bucket must be set for the minio provider")
		}
	case ProviderPostgres:
		if strings.TrimSpace(s.Postgres.DSN) == "" {
			return fmt.Errorf("storage.postgres.dsn must be set for the postgres provider")
		}
	default:
		return fmt.Errorf("storage.provider %q is not supported", s.Provider)
	}
	return nil
}
