// Package config provides configuration management for Mnemos.
package config

import (
	"fmt"
	"time"
)

// Config is the global configuration for the memory engine. It is built
// once at startup and treated as immutable afterwards.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Storage is the vector store configuration.
	Storage StorageConfig `mapstructure:"storage"`

	// Cache is the distributed cache configuration.
	Cache CacheConfig `mapstructure:"cache"`

	// Embedding configures the embedding capability.
	Embedding EmbeddingConfig `mapstructure:"embedding"`

	// Retrieval configures hybrid retrieval.
	Retrieval RetrievalConfig `mapstructure:"retrieval"`

	// Episodic configures the lifecycle pipeline.
	Episodic EpisodicConfig `mapstructure:"episodic"`

	// Optimizer configures the context optimizer.
	Optimizer OptimizerConfig `mapstructure:"optimizer"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the distributed tracing configuration.
	Tracing TracingConfig `mapstructure:"tracing"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"oneof=development staging production"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// StorageConfig holds vector store settings.
type StorageConfig struct {
	// Type is the store backend (memory, badger, chromem).
	Type string `mapstructure:"type" validate:"oneof=memory badger chromem"`

	// Badger is the BadgerDB configuration.
	Badger BadgerConfig `mapstructure:"badger"`
}

// BadgerConfig holds BadgerDB-specific settings.
type BadgerConfig struct {
	// Path is the database directory path.
	Path string `mapstructure:"path"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `mapstructure:"sync_writes"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	// Type is the cache backend (memory, redis).
	Type string `mapstructure:"type" validate:"oneof=memory redis"`

	// Redis is the Redis configuration.
	Redis RedisConfig `mapstructure:"redis"`

	// PersonaTTLSeconds is the persona snapshot TTL.
	PersonaTTLSeconds int `mapstructure:"persona_ttl_s" validate:"min=60"`

	// QueryTTLSeconds is the query result TTL.
	QueryTTLSeconds int `mapstructure:"query_ttl_s" validate:"min=60"`

	// SemanticMatchThreshold is the minimum cosine similarity for a
	// semantic cache hit.
	SemanticMatchThreshold float64 `mapstructure:"semantic_match_threshold" validate:"gte=0.80,lte=0.95"`

	// MaxQueryPerUser caps cached query entries per user.
	MaxQueryPerUser int `mapstructure:"max_query_per_user" validate:"min=1,max=100"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	// Address is the Redis server address.
	Address string `mapstructure:"address"`

	// Password is the Redis password.
	Password string `mapstructure:"password"`

	// DB is the Redis database number.
	DB int `mapstructure:"db"`
}

// EmbeddingConfig holds embedding capability settings.
type EmbeddingConfig struct {
	// Provider selects the embedder (hash, openai).
	Provider string `mapstructure:"provider" validate:"oneof=hash openai"`

	// APIKey authenticates against the provider.
	APIKey string `mapstructure:"api_key"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `mapstructure:"base_url"`

	// Model is the provider model identifier.
	Model string `mapstructure:"model"`

	// DimSemantic is the semantic-layer vector dimension.
	DimSemantic int `mapstructure:"dim_semantic" validate:"min=32"`

	// DimEpisodic is the episodic-layer vector dimension.
	DimEpisodic int `mapstructure:"dim_episodic" validate:"min=32"`
}

// RetrievalConfig holds hybrid retrieval settings.
type RetrievalConfig struct {
	// KFetchMin is the minimum store fetch per subquery.
	KFetchMin int `mapstructure:"k_fetch_min" validate:"min=10,max=500"`

	// VectorWeight and LexWeight are the fusion weights; their sum must
	// not exceed 1.
	VectorWeight float64 `mapstructure:"vector_weight" validate:"gte=0,lte=1"`
	LexWeight    float64 `mapstructure:"lex_weight" validate:"gte=0,lte=1"`

	// FreshnessHalfLifeDays enables the freshness factor when positive.
	FreshnessHalfLifeDays float64 `mapstructure:"freshness_half_life_days" validate:"gte=0"`
}

// EpisodicConfig holds lifecycle pipeline settings.
type EpisodicConfig struct {
	// IntervalSeconds is the episodization run interval.
	IntervalSeconds int `mapstructure:"interval_s" validate:"min=60"`

	// InstancizeAt is the daily instancization time ("HH:MM").
	InstancizeAt string `mapstructure:"instancize_at"`

	// WindowSeconds is the wall-clock group window.
	WindowSeconds int `mapstructure:"window_seconds" validate:"min=60"`

	// SessionGapSeconds splits a group on larger intra-conversation gaps.
	SessionGapSeconds int `mapstructure:"session_gap_s" validate:"min=1"`

	// IdleGapSeconds is the quiet period before a trailing group closes.
	IdleGapSeconds int `mapstructure:"idle_gap_s" validate:"min=1"`

	// SuperChatCap and DeepDiveCap bound messages per group.
	SuperChatCap int `mapstructure:"super_chat_cap" validate:"min=1"`
	DeepDiveCap  int `mapstructure:"deep_dive_cap" validate:"min=1"`

	// RetentionDays promotes episodes to instances after this age.
	RetentionDays int `mapstructure:"retention_days" validate:"min=1"`

	// CompressAfterDays marks instances for compression.
	CompressAfterDays int `mapstructure:"compress_after_days" validate:"min=1"`

	// EmbedRatePerSecond throttles embedding calls; zero is unlimited.
	EmbedRatePerSecond float64 `mapstructure:"embed_rate_per_s" validate:"gte=0"`
}

// OptimizerConfig holds context optimizer settings.
type OptimizerConfig struct {
	// Profile is the preset bundle (conservative, balanced, aggressive, quality).
	Profile string `mapstructure:"profile" validate:"oneof=conservative balanced aggressive quality"`

	// SimilarityThreshold is the semantic dedup threshold.
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" validate:"gte=0.70,lte=0.85"`

	// MaxPerSource is the diversity cap.
	MaxPerSource int `mapstructure:"max_per_source" validate:"min=2,max=5"`

	// RerankThresholdBase is the base re-rank threshold.
	RerankThresholdBase float64 `mapstructure:"rerank_threshold_base" validate:"gte=0.50,lte=0.80"`

	// MaxIterations bounds re-rank passes.
	MaxIterations int `mapstructure:"max_iterations" validate:"min=1,max=5"`

	// ContextWindow is the sentences of context kept in compression.
	ContextWindow int `mapstructure:"context_window" validate:"min=0,max=3"`

	// MaxContextTokens is the hard token cap.
	MaxContextTokens int `mapstructure:"max_context_tokens" validate:"gte=0"`

	// MinKept floors the surviving count.
	MinKept int `mapstructure:"min_kept" validate:"min=1"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled enables metrics collection.
	Enabled bool `mapstructure:"enabled"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`

	// Port is the metrics server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// TracingConfig holds distributed tracing settings.
type TracingConfig struct {
	// Enabled enables distributed tracing.
	Enabled bool `mapstructure:"enabled"`

	// Endpoint is the OTLP collector endpoint.
	Endpoint string `mapstructure:"endpoint"`

	// SampleRate is the fraction of traces to sample (0.0-1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// Validate performs validation on the configuration, including the
// cross-field rules a tag cannot express.
func (c *Config) Validate() error {
	if err := ValidateWithDetails(c); err != nil {
		return err
	}
	if c.Retrieval.VectorWeight+c.Retrieval.LexWeight > 1 {
		return fmt.Errorf("config validation failed: retrieval weights sum above 1")
	}
	if c.Episodic.CompressAfterDays < c.Episodic.RetentionDays {
		return fmt.Errorf("config validation failed: compress_after_days below retention_days")
	}
	return nil
}

// Interval returns the run interval as a duration.
func (c *EpisodicConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Window returns the group window as a duration.
func (c *EpisodicConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// SessionGap returns the group-splitting gap as a duration.
func (c *EpisodicConfig) SessionGap() time.Duration {
	return time.Duration(c.SessionGapSeconds) * time.Second
}

// IdleGap returns the trailing-group quiet period as a duration.
func (c *EpisodicConfig) IdleGap() time.Duration {
	return time.Duration(c.IdleGapSeconds) * time.Second
}

// String returns a redacted one-line representation.
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Store: %s, Cache: %s, Env: %s}",
		c.App.Name, c.Storage.Type, c.Cache.Type, c.App.Environment)
}
