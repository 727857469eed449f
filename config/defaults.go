package config

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "mnemos",
			Version:     "dev",
			Environment: "development",
			Debug:       false,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Storage: StorageConfig{
			Type: "badger",
			Badger: BadgerConfig{
				Path:       "./data/mnemos",
				SyncWrites: false,
			},
		},
		Cache: CacheConfig{
			Type: "memory",
			Redis: RedisConfig{
				Address: "localhost:6379",
			},
			PersonaTTLSeconds:      3600,
			QueryTTLSeconds:        1800,
			SemanticMatchThreshold: 0.85,
			MaxQueryPerUser:        10,
		},
		Embedding: EmbeddingConfig{
			Provider:    "hash",
			Model:       "text-embedding-3-small",
			DimSemantic: 1536,
			DimEpisodic: 384,
		},
		Retrieval: RetrievalConfig{
			KFetchMin:    50,
			VectorWeight: 0.7,
			LexWeight:    0.3,
		},
		Episodic: EpisodicConfig{
			IntervalSeconds:   21600,
			InstancizeAt:      "03:00",
			WindowSeconds:     21600,
			SessionGapSeconds: 900,
			IdleGapSeconds:    120,
			SuperChatCap:      50,
			DeepDiveCap:       30,
			RetentionDays:     30,
			CompressAfterDays: 90,
		},
		Optimizer: OptimizerConfig{
			Profile:             "balanced",
			SimilarityThreshold: 0.80,
			MaxPerSource:        3,
			RerankThresholdBase: 0.65,
			MaxIterations:       3,
			ContextWindow:       1,
			MaxContextTokens:    4000,
			MinKept:             3,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9091,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Endpoint:   "localhost:4317",
			SampleRate: 0.1,
		},
	}
}
