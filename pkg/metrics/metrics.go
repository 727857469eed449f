// Package metrics provides Prometheus metrics instrumentation for Mnemos.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager manages all Prometheus metrics for the memory engine.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	// Retrieval metrics
	retrievals        *prometheus.CounterVec
	retrievalDuration *prometheus.HistogramVec
	retrievalResults  prometheus.Histogram

	// Cache metrics
	cacheLookups *prometheus.CounterVec
	cacheEvicted prometheus.Counter

	// Optimizer metrics
	optimizerRemoved    *prometheus.CounterVec
	optimizerDuration   prometheus.Histogram
	contradictionsFound prometheus.Counter

	// Episodic metrics
	episodicRuns     *prometheus.CounterVec
	episodesCreated  prometheus.Counter
	instancesCreated prometheus.Counter

	// Ingestion metrics
	ingests *prometheus.CounterVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Port    int
	Path    string

	RetrievalDurationBuckets []float64
}

// DefaultConfig returns default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:                  true,
		Port:                     9091,
		Path:                     "/metrics",
		RetrievalDurationBuckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}
}

// NewManager creates a new metrics manager.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{enabled: false}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Manager{registry: registry, enabled: true}

	m.retrievals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mnemos_retrievals_total",
		Help: "Retrievals by table and outcome.",
	}, []string{"table", "outcome"})
	m.retrievalDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mnemos_retrieval_duration_seconds",
		Help:    "Retrieval latency by table.",
		Buckets: cfg.RetrievalDurationBuckets,
	}, []string{"table"})
	m.retrievalResults = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mnemos_retrieval_results",
		Help:    "Result count per retrieval.",
		Buckets: []float64{0, 1, 3, 5, 10, 25, 50, 100},
	})
	m.cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mnemos_cache_lookups_total",
		Help: "Cache lookups by namespace and hit kind.",
	}, []string{"namespace", "kind"})
	m.cacheEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mnemos_cache_evictions_total",
		Help: "Query cache LRU evictions.",
	})
	m.optimizerRemoved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mnemos_optimizer_removed_total",
		Help: "Entries removed by optimizer step.",
	}, []string{"step"})
	m.optimizerDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mnemos_optimizer_duration_seconds",
		Help:    "Optimizer pipeline latency.",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1},
	})
	m.contradictionsFound = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mnemos_contradictions_total",
		Help: "Contradiction pairs flagged.",
	})
	m.episodicRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mnemos_episodic_runs_total",
		Help: "Episodic job runs by job and outcome.",
	}, []string{"job", "outcome"})
	m.episodesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mnemos_episodes_created_total",
		Help: "Episodes created.",
	})
	m.instancesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mnemos_instances_created_total",
		Help: "Instances created.",
	})
	m.ingests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mnemos_ingests_total",
		Help: "Ingested memories by layer.",
	}, []string{"layer"})

	registry.MustRegister(
		m.retrievals, m.retrievalDuration, m.retrievalResults,
		m.cacheLookups, m.cacheEvicted,
		m.optimizerRemoved, m.optimizerDuration, m.contradictionsFound,
		m.episodicRuns, m.episodesCreated, m.instancesCreated,
		m.ingests,
	)
	return m
}

// NoOpManager returns a disabled manager.
func NoOpManager() *Manager { return &Manager{enabled: false} }

// Enabled reports whether collection is on.
func (m *Manager) Enabled() bool { return m.enabled }

// RecordRetrieval counts one retrieval with its latency and result count.
func (m *Manager) RecordRetrieval(table, outcome string, d time.Duration, results int) {
	if !m.enabled {
		return
	}
	m.retrievals.WithLabelValues(table, outcome).Inc()
	m.retrievalDuration.WithLabelValues(table).Observe(d.Seconds())
	m.retrievalResults.Observe(float64(results))
}

// RecordCacheLookup counts a cache lookup by namespace and hit kind.
func (m *Manager) RecordCacheLookup(namespace, kind string) {
	if !m.enabled {
		return
	}
	m.cacheLookups.WithLabelValues(namespace, kind).Inc()
}

// RecordCacheEviction counts one query-cache eviction.
func (m *Manager) RecordCacheEviction() {
	if !m.enabled {
		return
	}
	m.cacheEvicted.Inc()
}

// RecordOptimizer records per-step removals and pipeline latency.
func (m *Manager) RecordOptimizer(removedByStep map[string]int, contradictions int, d time.Duration) {
	if !m.enabled {
		return
	}
	for step, n := range removedByStep {
		if n > 0 {
			m.optimizerRemoved.WithLabelValues(step).Add(float64(n))
		}
	}
	if contradictions > 0 {
		m.contradictionsFound.Add(float64(contradictions))
	}
	m.optimizerDuration.Observe(d.Seconds())
}

// RecordEpisodicRun counts one background job run.
func (m *Manager) RecordEpisodicRun(job, outcome string, created int) {
	if !m.enabled {
		return
	}
	m.episodicRuns.WithLabelValues(job, outcome).Inc()
	switch job {
	case "episodize":
		m.episodesCreated.Add(float64(created))
	case "instancize":
		m.instancesCreated.Add(float64(created))
	}
}

// RecordIngest counts one ingested memory by layer.
func (m *Manager) RecordIngest(layer string) {
	if !m.enabled {
		return
	}
	m.ingests.WithLabelValues(layer).Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Manager) Handler() http.Handler {
	if !m.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves the metrics endpoint until the context is cancelled.
func (m *Manager) StartServer(ctx context.Context, port int, path string) error {
	if !m.enabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	return server.ListenAndServe()
}
