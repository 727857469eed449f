// Package engine exposes the unified memory API: ingestion with layer
// classification, cache-first hybrid retrieval with context optimization,
// structured context assembly, and the filter-building search wrappers.
package engine

import (
	"sync/atomic"
	"time"

	"github.com/mnemos/mnemos/pkg/capability"
	"github.com/mnemos/mnemos/pkg/errs"
	"github.com/mnemos/mnemos/pkg/filter"
	"github.com/mnemos/mnemos/pkg/metrics"
	"github.com/mnemos/mnemos/pkg/model"
	"github.com/mnemos/mnemos/pkg/optimizer"
	"github.com/mnemos/mnemos/pkg/retriever"
	"github.com/mnemos/mnemos/pkg/semcache"
	"github.com/mnemos/mnemos/pkg/store"
)

// Overload levels for the degradation ladder.
const (
	OverloadNone = iota
	// OverloadVectorOnly skips the lexical subquery.
	OverloadVectorOnly
	// OverloadSkipOptimizer additionally returns raw retriever output.
	OverloadSkipOptimizer
)

// Config tunes the facade.
type Config struct {
	// DefaultK is used when a caller passes k <= 0.
	DefaultK int

	// MaxCandidates bounds the list handed to the optimizer.
	MaxCandidates int

	// RecentMessages is how many raw messages GetContext includes.
	RecentMessages int

	// Profile selects the default optimizer preset.
	Profile optimizer.Profile
}

func (c Config) withDefaults() Config {
	if c.DefaultK <= 0 {
		c.DefaultK = 10
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 200
	}
	if c.RecentMessages <= 0 {
		c.RecentMessages = 10
	}
	if c.Profile == "" {
		c.Profile = optimizer.ProfileBalanced
	}
	return c
}

type logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Engine is the memory facade.
type Engine struct {
	store      store.VectorStore
	cache      *semcache.SemanticCache
	semantic   *retriever.Retriever // knowledge_base, semantic dimension
	episodic   *retriever.Retriever // episodes, episodic dimension
	optimizers map[optimizer.Profile]*optimizer.Optimizer
	embedSem   capability.Embedder
	embedEpi   capability.Embedder
	classifier capability.Classifier
	metrics    *metrics.Manager
	logger     logger
	types      *filter.TypeRegistry
	cfg        Config

	overload atomic.Int32
}

// Options carries the injected collaborators.
type Options struct {
	Store       store.VectorStore
	Cache       *semcache.SemanticCache
	EmbedderSem capability.Embedder
	EmbedderEpi capability.Embedder
	Classifier  capability.Classifier
	NLI         optimizer.NLI

	// Optimizer overrides the selected profile's preset with explicit
	// tunables when non-nil.
	Optimizer *optimizer.Config

	Metrics   *metrics.Manager
	Logger    logger
	Retriever retriever.Config
	Config    Config
}

// New wires the facade. Store, Cache, and EmbedderSem are required;
// everything else has a working default.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errs.New(errs.KindValidation, "engine.new", "store is required")
	}
	if opts.Cache == nil {
		return nil, errs.New(errs.KindValidation, "engine.new", "cache is required")
	}
	if opts.EmbedderSem == nil {
		return nil, errs.New(errs.KindValidation, "engine.new", "semantic embedder is required")
	}
	if opts.EmbedderEpi == nil {
		opts.EmbedderEpi = opts.EmbedderSem
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NoOpManager()
	}
	cfg := opts.Config.withDefaults()
	types := filter.CoreRegistry()

	optimizers := make(map[optimizer.Profile]*optimizer.Optimizer, 4)
	for _, p := range []optimizer.Profile{
		optimizer.ProfileConservative, optimizer.ProfileBalanced,
		optimizer.ProfileAggressive, optimizer.ProfileQuality,
	} {
		optimizers[p] = optimizer.New(optimizer.ForProfile(p), opts.NLI, opts.Logger)
	}
	if opts.Optimizer != nil {
		optimizers[cfg.Profile] = optimizer.New(*opts.Optimizer, opts.NLI, opts.Logger)
	}

	return &Engine{
		store:      opts.Store,
		cache:      opts.Cache,
		semantic:   retriever.New(opts.Store, opts.EmbedderSem, types, opts.Retriever, opts.Logger),
		episodic:   retriever.New(opts.Store, opts.EmbedderEpi, types, opts.Retriever, opts.Logger),
		optimizers: optimizers,
		embedSem:   opts.EmbedderSem,
		embedEpi:   opts.EmbedderEpi,
		classifier: opts.Classifier,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		types:      types,
		cfg:        cfg,
	}, nil
}

// SetOverload moves the degradation ladder; called by whoever watches
// store and cache health.
func (e *Engine) SetOverload(level int32) {
	e.overload.Store(level)
}

func (e *Engine) optimizerFor(p optimizer.Profile) *optimizer.Optimizer {
	if o, ok := e.optimizers[p]; ok {
		return o
	}
	return e.optimizers[optimizer.ProfileBalanced]
}

// Item is one retrieval result as consumers see it.
type Item struct {
	ID               string         `json:"id"`
	SourceID         string         `json:"source_id,omitempty"`
	Title            string         `json:"title,omitempty"`
	Content          string         `json:"content"`
	Tags             []string       `json:"tags,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Score            float64        `json:"score"`
	VectorScore      float64        `json:"vector_score,omitempty"`
	LexScore         float64        `json:"lex_score,omitempty"`
	FusedScore       float64        `json:"fused_score,omitempty"`
	Importance       float64        `json:"importance,omitempty"`
	HasContradiction bool           `json:"has_contradiction,omitempty"`
	ContradictsWith  []int          `json:"contradicts_with,omitempty"`
	Compressed       bool           `json:"compressed,omitempty"`
	CreatedAt        time.Time      `json:"created_at,omitempty"`
	Reasons          []string       `json:"reasons,omitempty"`
}

// RetrievalResult is the facade's retrieval response.
type RetrievalResult struct {
	Items            []Item           `json:"items"`
	CacheHitKind     semcache.HitKind `json:"cache_hit_kind,omitempty"`
	Stats            *optimizer.Stats `json:"stats,omitempty"`
	OptimizerSkipped bool             `json:"optimizer_skipped,omitempty"`
	Truncated        bool             `json:"truncated,omitempty"`
}

// StoreOutcome reports what an ingest wrote.
type StoreOutcome struct {
	IDs            []string                  `json:"ids"`
	Classification capability.Classification `json:"classification"`
}

// Context is the structured context object GetContext assembles.
type Context struct {
	Persona        *model.Persona      `json:"persona,omitempty"`
	Semantic       []Item              `json:"semantic,omitempty"`
	RecentMessages []model.ChatMessage `json:"recent_messages,omitempty"`
	Episodes       []Item              `json:"episodes,omitempty"`
	Stats          *optimizer.Stats    `json:"stats,omitempty"`
	Truncated      bool                `json:"truncated,omitempty"`
}
