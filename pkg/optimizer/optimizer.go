// Package optimizer post-processes retrieved candidate lists before they
// reach a consumer: deduplication, source diversity, contradiction
// flagging, entropy filtering, query-focused compression, adaptive
// re-ranking, and token-budget enforcement, in that fixed order.
package optimizer

import (
	"context"
	"time"

	"github.com/mnemos/mnemos/pkg/model"
)

// Candidate is one entry moving through the pipeline.
type Candidate struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding,omitempty"`

	// Score is the relevance score; clamped to [0, 1] on entry.
	Score      float64   `json:"score"`
	Importance float64   `json:"importance,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`

	// Keep protects the entry from dedup drops.
	Keep bool `json:"keep,omitempty"`

	HasContradiction bool  `json:"has_contradiction,omitempty"`
	ContradictsWith  []int `json:"contradicts_with,omitempty"`
	Compressed       bool  `json:"compressed,omitempty"`
}

// Stats records what each step removed and the parameters the run used.
type Stats struct {
	OriginalCount int `json:"original_count"`
	FinalCount    int `json:"final_count"`

	RemovedExactDup    int `json:"removed_exact_dup"`
	RemovedSemanticDup int `json:"removed_semantic_dup"`
	RemovedDiversity   int `json:"removed_diversity"`
	RemovedLowEntropy  int `json:"removed_low_entropy"`
	RemovedRerank      int `json:"removed_rerank"`
	RemovedBudget      int `json:"removed_budget"`

	CompressedCount    int     `json:"compressed_count"`
	ContradictionCount int     `json:"contradiction_count"`
	AdaptiveThreshold  float64 `json:"adaptive_threshold"`
	RerankIterations   int     `json:"rerank_iterations"`
	FinalTokens        int     `json:"final_tokens"`

	// Truncated marks a partial result after cancellation.
	Truncated bool `json:"truncated,omitempty"`
}

// NLI is the optional contradiction-judging capability. When absent the
// negation-pattern heuristic is used.
type NLI interface {
	Contradicts(ctx context.Context, a, b string) (bool, error)
}

type logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

// Optimizer runs the pipeline with a fixed configuration.
type Optimizer struct {
	cfg    Config
	nli    NLI
	logger logger
}

// New creates an optimizer. nli may be nil.
func New(cfg Config, nli NLI, log logger) *Optimizer {
	if log == nil {
		log = nopLogger{}
	}
	return &Optimizer{cfg: cfg.clamped(), nli: nli, logger: log}
}

// Optimize runs every step in order. Cancellation between steps returns
// the partial list with Truncated set; it never errors the caller.
func (o *Optimizer) Optimize(ctx context.Context, query string, cands []*Candidate) ([]*Candidate, *Stats) {
	stats := &Stats{OriginalCount: len(cands)}
	if len(cands) == 0 {
		return cands, stats
	}
	if o.cfg.MaxContextTokens == 0 {
		stats.FinalCount = 0
		return []*Candidate{}, stats
	}

	for _, c := range cands {
		c.Score = model.Clamp01(c.Score)
		c.Importance = model.Clamp01(c.Importance)
	}

	steps := []func(context.Context, string, []*Candidate, *Stats) []*Candidate{
		o.dedupExact,
		o.dedupSemantic,
		o.diversity,
		o.contradictions,
		o.entropyFilter,
		o.compress,
		o.rerank,
		o.enforceBudget,
	}
	for _, step := range steps {
		if ctx.Err() != nil {
			stats.Truncated = true
			break
		}
		cands = step(ctx, query, cands, stats)
	}

	stats.FinalCount = len(cands)
	stats.FinalTokens = 0
	for _, c := range cands {
		stats.FinalTokens += estimateTokens(c.Content)
	}
	return cands, stats
}
