// Package config loads and validates audit service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Sitemap SitemapConfig `mapstructure:"sitemap"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Inspect InspectConfig `mapstructure:"inspect"`
	Store   StoreConfig   `mapstructure:"store"`
	Archive ArchiveConfig `mapstructure:"archive"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
}

// ServerConfig controls the report HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SitemapConfig governs sitemap resolution.
type SitemapConfig struct {
	MaxDepth            int   `mapstructure:"max_depth"`
	FetchTimeoutSeconds int   `mapstructure:"fetch_timeout_seconds"`
	MaxBodyBytes        int64 `mapstructure:"max_body_bytes"`
}

// CrawlerConfig governs the internal-link crawler.
type CrawlerConfig struct {
	MaxDepth       int    `mapstructure:"max_depth"`
	MaxPages       int    `mapstructure:"max_pages"`
	Concurrency    int    `mapstructure:"concurrency"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// InspectConfig holds quota and credential settings for index inspection.
type InspectConfig struct {
	Endpoint     string  `mapstructure:"endpoint"`
	Token        string  `mapstructure:"token"`
	SustainedRPS float64 `mapstructure:"sustained_rps"`
	Burst        int     `mapstructure:"burst"`
	Concurrency  int     `mapstructure:"concurrency"`
}

// StoreConfig selects and configures the audit store backend.
type StoreConfig struct {
	// Backend is "postgres" or "memory".
	Backend         string `mapstructure:"backend"`
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// ArchiveConfig selects where raw artifacts (sitemap XML, inspection
// payloads) are archived.
type ArchiveConfig struct {
	// Backend is "gcs", "local", "memory", or "" to disable archiving.
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	BaseDir   string `mapstructure:"base_dir"`
}

// PubSubConfig holds metadata for run-sealed event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SEOAUDIT")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("sitemap.max_depth", 5)
	v.SetDefault("sitemap.fetch_timeout_seconds", 15)
	v.SetDefault("sitemap.max_body_bytes", 50<<20)
	v.SetDefault("crawler.max_depth", 3)
	v.SetDefault("crawler.max_pages", 1000)
	v.SetDefault("crawler.concurrency", 8)
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.user_agent", "seo-audit-bot/0.1")
	v.SetDefault("inspect.sustained_rps", 1.0)
	v.SetDefault("inspect.burst", 5)
	v.SetDefault("inspect.concurrency", 4)
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.max_conns", 8)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("store.conn_lifetime_minutes", 30)
	v.SetDefault("archive.backend", "")
	v.SetDefault("pubsub.topic_name", "audit-runs")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Sitemap.MaxDepth <= 0 {
		return fmt.Errorf("sitemap.max_depth must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Inspect.SustainedRPS <= 0 {
		return fmt.Errorf("inspect.sustained_rps must be > 0")
	}
	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set when store.backend is postgres")
		}
	default:
		return fmt.Errorf("store.backend must be postgres or memory, got %q", c.Store.Backend)
	}
	switch c.Archive.Backend {
	case "", "memory":
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.backend is gcs")
		}
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set when archive.backend is local")
		}
	default:
		return fmt.Errorf("archive.backend must be gcs, local, memory, or empty, got %q", c.Archive.Backend)
	}
	return nil
}

// CrawlTimeout converts the crawler timeout to a duration.
func (c Config) CrawlTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// SitemapFetchTimeout converts the sitemap fetch timeout to a duration.
func (c Config) SitemapFetchTimeout() time.Duration {
	return time.Duration(c.Sitemap.FetchTimeoutSeconds) * time.Second
}

// StoreConnLifetime converts the pool lifetime setting to a duration.
func (c Config) StoreConnLifetime() time.Duration {
	return time.Duration(c.Store.ConnLifetimeMin) * time.Minute
}
