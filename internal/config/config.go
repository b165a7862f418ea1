// Package config loads and validates ingestion pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Discover  DiscoverConfig  `mapstructure:"discover"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Normalize NormalizeConfig `mapstructure:"normalize"`
	Cleaner   CleanerConfig   `mapstructure:"cleaner"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DiscoverConfig governs keyword search.
type DiscoverConfig struct {
	Keywords             []string `mapstructure:"keywords"`
	MaxResults           int      `mapstructure:"max_results"`
	SiteFilter           string   `mapstructure:"site_filter"`
	BlockedDomains       []string `mapstructure:"blocked_domains"`
	SearchBaseURL        string   `mapstructure:"search_base_url"`
	QueryIntervalSeconds int      `mapstructure:"query_interval_seconds"`
}

// FetchConfig governs plain HTTP fetching.
type FetchConfig struct {
	UserAgent      string  `mapstructure:"user_agent"`
	RespectRobots  bool    `mapstructure:"respect_robots"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RPS            float64 `mapstructure:"rps"`
	Burst          int     `mapstructure:"burst"`
}

// HeadlessConfig configures the headless rendering fallback.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// ExtractConfig tunes article text extraction.
type ExtractConfig struct {
	MinTextChars  int  `mapstructure:"min_text_chars"`
	IncludeTables bool `mapstructure:"include_tables"`
}

// NormalizeConfig tunes chunked text normalization.
type NormalizeConfig struct {
	BlockSize           int    `mapstructure:"block_size"`
	MinCleanedWords     int    `mapstructure:"min_cleaned_words"`
	BlockTimeoutSeconds int    `mapstructure:"block_timeout_seconds"`
	Topic               string `mapstructure:"topic"`
}

// CleanerConfig points at an OpenAI-compatible cleaning endpoint. When
// disabled, blocks pass through normalization unchanged.
type CleanerConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	MaxTokens      int    `mapstructure:"max_tokens"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// StorageConfig selects and parameterizes the blob store backend.
type StorageConfig struct {
	// Provider is one of memory, local, gcs.
	Provider    string `mapstructure:"provider"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig selects and parameterizes the record store backend.
type DBConfig struct {
	// Provider is one of memory, postgres.
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for normalized-record announcements.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// PipelineConfig governs the orchestrator loops.
type PipelineConfig struct {
	BatchSize              int `mapstructure:"batch_size"`
	Parallelism            int `mapstructure:"parallelism"`
	TickIntervalSeconds    int `mapstructure:"tick_interval_seconds"`
	ReclaimAfterMinutes    int `mapstructure:"reclaim_after_minutes"`
	ReclaimIntervalSeconds int `mapstructure:"reclaim_interval_seconds"`
	StageTimeoutSeconds    int `mapstructure:"stage_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INGEST")
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
	v.SetDefault("discover.max_results", 5)
	v.SetDefault("discover.query_interval_seconds", 1)
	v.SetDefault("fetch.user_agent", "quake-ingest-bot/0.1")
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.rps", 1)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("extract.min_text_chars", 200)
	v.SetDefault("normalize.block_size", 3000)
	v.SetDefault("normalize.min_cleaned_words", 30)
	v.SetDefault("normalize.block_timeout_seconds", 60)
	v.SetDefault("normalize.topic", "normalized")
	v.SetDefault("cleaner.model", "gpt-4")
	v.SetDefault("cleaner.max_tokens", 1024)
	v.SetDefault("cleaner.timeout_seconds", 60)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.table", "resources")
	v.SetDefault("pipeline.batch_size", 20)
	v.SetDefault("pipeline.parallelism", 4)
	v.SetDefault("pipeline.tick_interval_seconds", 30)
	v.SetDefault("pipeline.reclaim_after_minutes", 15)
	v.SetDefault("pipeline.reclaim_interval_seconds", 60)
	v.SetDefault("pipeline.stage_timeout_seconds", 60)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be > 0")
	}
	if c.Normalize.BlockSize <= 0 {
		return fmt.Errorf("normalize.block_size must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Storage.Provider {
	case "memory", "local", "gcs":
	default:
		return fmt.Errorf("storage.provider must be one of memory, local, gcs")
	}
	if c.Storage.Provider == "local" && c.Storage.LocalDir == "" {
		return fmt.Errorf("storage.local_dir must be set for the local provider")
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set for the gcs provider")
	}
	switch c.DB.Provider {
	case "memory", "postgres":
	default:
		return fmt.Errorf("db.provider must be one of memory, postgres")
	}
	if c.DB.Provider == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set for the postgres provider")
	}
	if c.Cleaner.Enabled && c.Cleaner.BaseURL == "" {
		return fmt.Errorf("cleaner.base_url must be set when the cleaner is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// FetchTimeout returns the fetch timeout as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// StageTimeout returns the per-record collaborator budget as a duration.
func (c Config) StageTimeout() time.Duration {
	return time.Duration(c.Pipeline.StageTimeoutSeconds) * time.Second
}
