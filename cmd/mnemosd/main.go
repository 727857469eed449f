package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mnemos/mnemos/config"
	"github.com/mnemos/mnemos/pkg/cache"
	"github.com/mnemos/mnemos/pkg/capability"
	"github.com/mnemos/mnemos/pkg/engine"
	"github.com/mnemos/mnemos/pkg/episodic"
	"github.com/mnemos/mnemos/pkg/logger"
	"github.com/mnemos/mnemos/pkg/metrics"
	"github.com/mnemos/mnemos/pkg/optimizer"
	"github.com/mnemos/mnemos/pkg/retriever"
	"github.com/mnemos/mnemos/pkg/semcache"
	"github.com/mnemos/mnemos/pkg/store"
	"github.com/mnemos/mnemos/pkg/telemetry/tracing"
	"github.com/mnemos/mnemos/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	logLevel    = flag.String("log-level", "", "Override log level")
	debugMode   = flag.Bool("debug", false, "Enable debug mode")
)

func main() {
	flag.Parse()

	if *versionFlag {
		for k, v := range version.Info() {
			fmt.Printf("%s: %s\n", k, v)
		}
		os.Exit(0)
	}

	overrides := map[string]interface{}{}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *debugMode {
		overrides["app.debug"] = true
	}

	cfg, err := config.Load(*configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)

	log.Info("starting mnemos",
		"version", version.Version,
		"environment", cfg.App.Environment,
		"config", cfg.String(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.App.Name, version.Version)
	if err != nil {
		log.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	dims := map[string]int{
		store.TablePersona:   cfg.Embedding.DimSemantic,
		store.TableKnowledge: cfg.Embedding.DimSemantic,
		store.TableEpisodes:  cfg.Embedding.DimEpisodic,
		store.TableInstances: cfg.Embedding.DimEpisodic,
	}

	var vs store.VectorStore
	switch cfg.Storage.Type {
	case "badger":
		vs, err = store.OpenBadger(cfg.Storage.Badger.Path, dims, cfg.Storage.Badger.SyncWrites)
		if err != nil {
			log.Error("failed to open badger store", "path", cfg.Storage.Badger.Path, "error", err)
			os.Exit(1)
		}
	case "chromem":
		vs = store.NewChromemStore(dims)
	default:
		vs = store.NewMemStore(dims)
	}
	defer vs.Close()

	var backend cache.Cache
	if cfg.Cache.Type == "redis" {
		backend = cache.DialRedis(cfg.Cache.Redis.Address, cfg.Cache.Redis.Password, cfg.Cache.Redis.DB)
	} else {
		backend = cache.NewMemoryCache()
	}
	defer backend.Close()

	sem, err := semcache.New(backend, semcache.Config{
		PersonaTTL:      time.Duration(cfg.Cache.PersonaTTLSeconds) * time.Second,
		QueryTTL:        time.Duration(cfg.Cache.QueryTTLSeconds) * time.Second,
		Threshold:       cfg.Cache.SemanticMatchThreshold,
		MaxQueryPerUser: cfg.Cache.MaxQueryPerUser,
	}, log)
	if err != nil {
		log.Error("failed to create semantic cache", "error", err)
		os.Exit(1)
	}
	defer sem.Close()

	embedSem, embedEpi := buildEmbedders(cfg.Embedding, log)

	metricsMgr := metrics.NewManager(metrics.Config{
		Enabled:                  cfg.Metrics.Enabled,
		Port:                     cfg.Metrics.Port,
		Path:                     cfg.Metrics.Path,
		RetrievalDurationBuckets: metrics.DefaultConfig().RetrievalDurationBuckets,
	})

	eng, err := engine.New(engine.Options{
		Store:       vs,
		Cache:       sem,
		EmbedderSem: embedSem,
		EmbedderEpi: embedEpi,
		Metrics:     metricsMgr,
		Logger:      log,
		Retriever: retriever.Config{
			KFetchMin:             cfg.Retrieval.KFetchMin,
			VectorWeight:          cfg.Retrieval.VectorWeight,
			LexWeight:             cfg.Retrieval.LexWeight,
			FreshnessHalfLifeDays: cfg.Retrieval.FreshnessHalfLifeDays,
		},
		Optimizer: &optimizer.Config{
			SimilarityThreshold: cfg.Optimizer.SimilarityThreshold,
			MaxPerSource:        cfg.Optimizer.MaxPerSource,
			RerankBase:          cfg.Optimizer.RerankThresholdBase,
			AdaptiveThreshold:   true,
			MaxIterations:       cfg.Optimizer.MaxIterations,
			ContextWindow:       cfg.Optimizer.ContextWindow,
			MaxContextTokens:    cfg.Optimizer.MaxContextTokens,
			MinKept:             cfg.Optimizer.MinKept,
		},
		Config: engine.Config{
			Profile: optimizer.Profile(cfg.Optimizer.Profile),
		},
	})
	if err != nil {
		log.Error("failed to build engine", "error", err)
		os.Exit(1)
	}
	eng.SetOverload(engine.OverloadNone)
	log.Info("memory engine ready", "profile", cfg.Optimizer.Profile)

	pipeline := episodic.New(vs, embedEpi, nil, episodic.Config{
		Interval:          cfg.Episodic.Interval(),
		InstancizeAt:      cfg.Episodic.InstancizeAt,
		Window:            cfg.Episodic.Window(),
		SessionGap:        cfg.Episodic.SessionGap(),
		IdleGap:           cfg.Episodic.IdleGap(),
		SuperChatCap:      cfg.Episodic.SuperChatCap,
		DeepDiveCap:       cfg.Episodic.DeepDiveCap,
		RetentionDays:     cfg.Episodic.RetentionDays,
		CompressAfterDays: cfg.Episodic.CompressAfterDays,
		EmbedRate:         cfg.Episodic.EmbedRatePerSecond,
	}, log)
	go pipeline.Run(ctx)

	if cfg.Metrics.Enabled {
		go func() {
			if err := metricsMgr.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	if *configPath != "" {
		go watchConfig(ctx, *configPath, log)
	}

	<-sigChan
	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown failed", "error", err)
	}
	log.Info("shutdown complete")
}

// buildEmbedders selects the configured provider with the hash fallback.
// The fallback is never chosen silently when a provider was requested.
func buildEmbedders(cfg config.EmbeddingConfig, log logger.Logger) (capability.Embedder, capability.Embedder) {
	if cfg.Provider == "openai" {
		if cfg.APIKey == "" {
			log.Error("embedding provider openai requested but no api key configured")
			os.Exit(1)
		}
		return capability.NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.DimSemantic),
			capability.NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.DimEpisodic)
	}
	log.Warn("using deterministic hash embedder; retrieval quality is not semantic")
	return capability.NewHashEmbedder(cfg.DimSemantic), capability.NewHashEmbedder(cfg.DimEpisodic)
}

// watchConfig hot-reloads the log level. The reloaded optimizer profile is
// logged but not applied to the running engine.
func watchConfig(ctx context.Context, path string, log logger.Logger) {
	watcher, err := config.NewWatcher(path, config.NewLoader())
	if err != nil {
		log.Warn("config watcher unavailable", "error", err)
		return
	}
	watcher.OnChange(func(cfg *config.Config) {
		hot := config.ExtractHotReloadable(cfg)
		logger.SetLevel(logger.ParseLevel(hot.LogLevel))
		log.Info("configuration reloaded", "log_level", hot.LogLevel, "profile", hot.OptimizerProfile)
	})
	if err := watcher.Watch(ctx); err != nil && ctx.Err() == nil {
		log.Warn("config watcher stopped", "error", err)
	}
}
