// Package retriever implements hybrid retrieval over the vector store:
// parallel ANN and lexical subqueries with the compiled filter pushed
// down, fused by reciprocal rank fusion (or weighted scores), with
// optional freshness and importance factors. Orderings are deterministic
// for a fixed store state.
package retriever

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/mnemos/mnemos/pkg/capability"
	"github.com/mnemos/mnemos/pkg/errs"
	"github.com/mnemos/mnemos/pkg/filter"
	"github.com/mnemos/mnemos/pkg/model"
	"github.com/mnemos/mnemos/pkg/store"
)

// Config tunes fusion and fetch behavior.
type Config struct {
	// KFetchMin is the minimum per-subquery fetch size.
	KFetchMin int

	// VectorWeight and LexWeight fuse the two lists; their sum is at most 1.
	VectorWeight float64
	LexWeight    float64

	// RRFC is the rank-fusion constant.
	RRFC float64

	// FreshnessHalfLifeDays enables the exp(-lambda*age) factor when > 0.
	FreshnessHalfLifeDays float64

	// MinVectorScore drops ANN hits below this similarity before fusion,
	// keeping unrelated rows out of rank-based scoring.
	MinVectorScore float64

	// UseImportance multiplies fused scores by clamped importance.
	UseImportance bool
}

// DefaultConfig returns the standard fusion parameters.
func DefaultConfig() Config {
	return Config{
		KFetchMin:      50,
		VectorWeight:   0.7,
		LexWeight:      0.3,
		RRFC:           60,
		MinVectorScore: 0.05,
	}
}

// Hit is one retrieval result with its per-subquery and fused scores.
type Hit struct {
	Record      *store.Record `json:"record"`
	VectorScore float64       `json:"vector_score"`
	LexScore    float64       `json:"lex_score"`
	FusedScore  float64       `json:"fused_score"`
	Reasons     []string      `json:"reasons,omitempty"`
}

// Request describes one retrieval.
type Request struct {
	UserID string
	Query  string
	Filter *filter.Expr
	K      int

	// Weighted selects the weighted-score fusion variant instead of RRF.
	Weighted bool

	// RelaxOrder lists field paths to drop from the filter, tightest
	// first, when fewer than K results pass. Empty disables relaxation.
	RelaxOrder []string

	// VectorOnly skips the lexical subquery (degraded mode).
	VectorOnly bool
}

type logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

// Retriever runs hybrid retrievals against one table.
type Retriever struct {
	store    store.VectorStore
	embedder capability.Embedder
	types    *filter.TypeRegistry
	cfg      Config
	logger   logger
}

// New creates a retriever. A nil registry gets the core schema registry.
func New(st store.VectorStore, emb capability.Embedder, types *filter.TypeRegistry, cfg Config, log logger) *Retriever {
	if types == nil {
		types = filter.CoreRegistry()
	}
	if log == nil {
		log = nopLogger{}
	}
	if cfg.KFetchMin <= 0 {
		cfg.KFetchMin = 50
	}
	if cfg.RRFC <= 0 {
		cfg.RRFC = 60
	}
	if cfg.VectorWeight == 0 && cfg.LexWeight == 0 {
		cfg.VectorWeight, cfg.LexWeight = 0.7, 0.3
	}
	return &Retriever{store: st, embedder: emb, types: types, cfg: cfg, logger: log}
}

// Compile scopes the request filter to its user and compiles it once.
func (r *Retriever) Compile(req Request) (*filter.Compiled, error) {
	scoped := filter.Eq("user_id", filter.String(req.UserID))
	tree := scoped
	if req.Filter != nil {
		tree = filter.And(scoped, req.Filter)
	}
	return filter.Compile(tree, r.types, filter.Options{})
}

// Retrieve runs the hybrid pipeline against the table. K = 0 returns an
// empty list without touching the store; an empty query with a filter
// degrades to a pure filter scan.
func (r *Retriever) Retrieve(ctx context.Context, table string, req Request) ([]Hit, error) {
	if req.K < 0 {
		return nil, errs.New(errs.KindValidation, "retriever", "negative k")
	}
	if req.K == 0 {
		return []Hit{}, nil
	}

	compiled, err := r.Compile(req)
	if err != nil {
		return nil, err
	}

	hits, err := r.retrieveOnce(ctx, table, req, compiled)
	if err != nil {
		return nil, err
	}

	// Relax the filter along the caller-provided order while results fall
	// short of K.
	remaining := req.Filter
	for _, field := range req.RelaxOrder {
		if len(hits) >= req.K || remaining == nil {
			break
		}
		remaining = remaining.Prune(field)
		relaxedReq := req
		relaxedReq.Filter = remaining
		relaxed, err := r.Compile(relaxedReq)
		if err != nil {
			return nil, err
		}
		r.logger.Debug("relaxing filter", "dropped_field", field, "have", len(hits), "want", req.K)
		hits, err = r.retrieveOnce(ctx, table, relaxedReq, relaxed)
		if err != nil {
			return nil, err
		}
	}
	return hits, nil
}

func (r *Retriever) retrieveOnce(ctx context.Context, table string, req Request, pred *filter.Compiled) ([]Hit, error) {
	if req.Query == "" {
		return r.filterScan(ctx, table, req, pred)
	}

	embedding, err := r.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	fetch := req.K
	if fetch < r.cfg.KFetchMin {
		fetch = r.cfg.KFetchMin
	}

	var (
		wg      sync.WaitGroup
		annHits []store.Hit
		annErr  error
		lexHits []store.Hit
		lexErr  error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		annHits, annErr = r.store.ANN(ctx, table, embedding, fetch, pred)
	}()
	if !req.VectorOnly {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lexHits, lexErr = r.store.Lex(ctx, table, req.Query, fetch, pred)
		}()
	}
	wg.Wait()

	filtered := annHits[:0]
	for _, h := range annHits {
		if h.Score >= r.cfg.MinVectorScore {
			filtered = append(filtered, h)
		}
	}
	annHits = filtered

	// Graceful degradation: one failing subquery leaves the other usable.
	if annErr != nil && lexErr != nil {
		return nil, annErr
	}
	if annErr != nil {
		r.logger.Warn("vector subquery failed, using lexical only", "error", annErr)
		annHits = nil
	}
	if lexErr != nil {
		r.logger.Warn("lexical subquery failed, using vector only", "error", lexErr)
		lexHits = nil
	}

	fused := r.fuse(req, annHits, lexHits)
	if len(fused) > req.K {
		fused = fused[:req.K]
	}
	return fused, nil
}

// filterScan serves empty-query requests as a pure scan ordered by
// importance, recency, id.
func (r *Retriever) filterScan(ctx context.Context, table string, req Request, pred *filter.Compiled) ([]Hit, error) {
	recs, err := r.store.Scan(ctx, table, pred, store.ScanOptions{
		Limit:   req.K,
		OrderBy: "importance",
		Desc:    true,
	})
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, len(recs))
	for i, rec := range recs {
		hits[i] = Hit{Record: rec, Reasons: []string{"filter_scan"}}
	}
	return hits, nil
}

// fuse combines the two subquery lists with RRF or weighted scores, then
// applies freshness and importance factors and the deterministic
// tie-break order: fused score, importance, recency, id.
func (r *Retriever) fuse(req Request, annHits, lexHits []store.Hit) []Hit {
	type acc struct {
		rec         *store.Record
		vectorScore float64
		lexScore    float64
		vectorRank  int // 1-based, 0 = absent
		lexRank     int
	}
	byID := make(map[string]*acc, len(annHits)+len(lexHits))
	order := make([]string, 0, len(annHits)+len(lexHits))

	get := func(rec *store.Record) *acc {
		a, ok := byID[rec.ID]
		if !ok {
			a = &acc{rec: rec}
			byID[rec.ID] = a
			order = append(order, rec.ID)
		}
		return a
	}

	// Normalize lexical scores by the query-specific maximum; vector
	// similarities are already in [0, 1].
	maxLex := 0.0
	for _, h := range lexHits {
		if h.Score > maxLex {
			maxLex = h.Score
		}
	}
	for rank, h := range annHits {
		a := get(h.Record)
		a.vectorScore = h.Score
		a.vectorRank = rank + 1
	}
	for rank, h := range lexHits {
		a := get(h.Record)
		a.lexScore = 0
		if maxLex > 0 {
			a.lexScore = h.Score / maxLex
		}
		a.lexRank = rank + 1
	}

	now := time.Now()
	hits := make([]Hit, 0, len(order))
	for _, id := range order {
		a := byID[id]
		var fusedScore float64
		reasons := make([]string, 0, 3)
		if req.Weighted {
			fusedScore = r.cfg.VectorWeight*a.vectorScore + r.cfg.LexWeight*a.lexScore
			reasons = append(reasons, "weighted_fusion")
		} else {
			if a.vectorRank > 0 {
				fusedScore += r.cfg.VectorWeight / (r.cfg.RRFC + float64(a.vectorRank))
			}
			if a.lexRank > 0 {
				fusedScore += r.cfg.LexWeight / (r.cfg.RRFC + float64(a.lexRank))
			}
			reasons = append(reasons, "rrf_fusion")
		}
		if a.vectorRank > 0 {
			reasons = append(reasons, "vector_match")
		}
		if a.lexRank > 0 {
			reasons = append(reasons, "lexical_match")
		}

		if r.cfg.FreshnessHalfLifeDays > 0 {
			lambda := math.Ln2 / r.cfg.FreshnessHalfLifeDays
			ageDays := now.Sub(a.rec.CreatedAt).Hours() / 24
			if ageDays < 0 {
				ageDays = 0
			}
			fusedScore *= math.Exp(-lambda * ageDays)
		}
		if r.cfg.UseImportance {
			fusedScore *= model.Clamp01(a.rec.Importance)
		}

		hits = append(hits, Hit{
			Record:      a.rec,
			VectorScore: a.vectorScore,
			LexScore:    a.lexScore,
			FusedScore:  fusedScore,
			Reasons:     reasons,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].FusedScore != hits[j].FusedScore {
			return hits[i].FusedScore > hits[j].FusedScore
		}
		if hits[i].Record.Importance != hits[j].Record.Importance {
			return hits[i].Record.Importance > hits[j].Record.Importance
		}
		if !hits[i].Record.CreatedAt.Equal(hits[j].Record.CreatedAt) {
			return hits[i].Record.CreatedAt.After(hits[j].Record.CreatedAt)
		}
		return hits[i].Record.ID < hits[j].Record.ID
	})
	return hits
}
