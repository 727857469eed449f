package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mnemos/mnemos/pkg/errs"
	"github.com/mnemos/mnemos/pkg/filter"
	"github.com/mnemos/mnemos/pkg/model"
	"github.com/mnemos/mnemos/pkg/optimizer"
	"github.com/mnemos/mnemos/pkg/retriever"
	"github.com/mnemos/mnemos/pkg/semcache"
	"github.com/mnemos/mnemos/pkg/store"
)

// Retrieve runs a cache-first hybrid retrieval over the knowledge base
// followed by the context optimizer. k <= 0 takes the configured default;
// k == 0 is honored as "no results, no store calls" when passed
// explicitly via RetrieveK.
func (e *Engine) Retrieve(ctx context.Context, user, query string, f *filter.Expr, k int, profile optimizer.Profile) (*RetrievalResult, error) {
	if k <= 0 {
		k = e.cfg.DefaultK
	}
	return e.RetrieveK(ctx, user, query, f, k, profile)
}

// RetrieveK is Retrieve with an exact k, including k == 0.
func (e *Engine) RetrieveK(ctx context.Context, user, query string, f *filter.Expr, k int, profile optimizer.Profile) (*RetrievalResult, error) {
	if user == "" {
		return nil, errs.New(errs.KindValidation, "engine.retrieve", "user is required")
	}
	if k < 0 {
		return nil, errs.New(errs.KindValidation, "engine.retrieve", "negative k")
	}
	if k == 0 {
		return &RetrievalResult{Items: []Item{}}, nil
	}
	if profile == "" {
		profile = e.cfg.Profile
	}
	start := time.Now()

	req := retriever.Request{
		UserID:     user,
		Query:      query,
		Filter:     f,
		K:          k,
		VectorOnly: e.overload.Load() >= OverloadVectorOnly,
	}
	compiled, err := e.semantic.Compile(req)
	if err != nil {
		return nil, err
	}
	where, args := compiled.Where()
	fp := semcache.Fingerprint(query, where, args)

	// The query embedding serves both the semantic cache lookup and the
	// vector subquery; it is computed once per retrieval.
	var embedding []float32
	if query != "" {
		embedding, err = e.embedSem.Embed(ctx, query)
		if err != nil && !errs.IsCancelled(err) {
			e.logger.Warn("query embedding failed", "error", err)
			embedding = nil
			err = nil
		} else if err != nil {
			return nil, err
		}
	}

	if entry, kind := e.cache.GetQuery(ctx, user, fp, embedding); kind != semcache.HitNone {
		var items []Item
		if err := json.Unmarshal(entry.Results, &items); err == nil {
			e.metrics.RecordCacheLookup("query", string(kind))
			e.metrics.RecordRetrieval(store.TableKnowledge, "cache_hit", time.Since(start), len(items))
			return &RetrievalResult{Items: items, CacheHitKind: kind}, nil
		}
	}
	e.metrics.RecordCacheLookup("query", "miss")

	hits, err := e.semantic.Retrieve(ctx, store.TableKnowledge, req)
	if err != nil {
		e.metrics.RecordRetrieval(store.TableKnowledge, "error", time.Since(start), 0)
		return nil, err
	}

	result := e.optimize(ctx, query, hits, profile)

	if data, err := json.Marshal(result.Items); err == nil {
		e.cache.PutQuery(ctx, user, &semcache.QueryEntry{
			Fingerprint: fp,
			Query:       query,
			Embedding:   embedding,
			Results:     data,
			CreatedAt:   time.Now().UTC(),
		})
	}
	e.metrics.RecordRetrieval(store.TableKnowledge, "ok", time.Since(start), len(result.Items))
	e.touchAccessed(ctx, result.Items)
	return result, nil
}

// optimize runs the profile's optimizer over the retriever hits, honoring
// the degradation ladder.
func (e *Engine) optimize(ctx context.Context, query string, hits []retriever.Hit, profile optimizer.Profile) *RetrievalResult {
	if e.overload.Load() >= OverloadSkipOptimizer {
		items := make([]Item, len(hits))
		for i, h := range hits {
			items[i] = hitItem(h)
		}
		return &RetrievalResult{Items: items, OptimizerSkipped: true}
	}

	cands := make([]*optimizer.Candidate, 0, len(hits))
	for i, h := range hits {
		if i >= e.cfg.MaxCandidates {
			break
		}
		cands = append(cands, &optimizer.Candidate{
			ID:         h.Record.ID,
			SourceID:   sourceOf(h.Record),
			Title:      h.Record.Title,
			Content:    h.Record.Content,
			Embedding:  h.Record.Embedding,
			Score:      h.FusedScore,
			Importance: h.Record.Importance,
			CreatedAt:  h.Record.CreatedAt,
		})
	}

	optStart := time.Now()
	final, stats := e.optimizerFor(profile).Optimize(ctx, query, cands)
	e.metrics.RecordOptimizer(map[string]int{
		"exact_dup":    stats.RemovedExactDup,
		"semantic_dup": stats.RemovedSemanticDup,
		"diversity":    stats.RemovedDiversity,
		"low_entropy":  stats.RemovedLowEntropy,
		"rerank":       stats.RemovedRerank,
		"budget":       stats.RemovedBudget,
	}, stats.ContradictionCount, time.Since(optStart))

	byID := make(map[string]retriever.Hit, len(hits))
	for _, h := range hits {
		byID[h.Record.ID] = h
	}
	items := make([]Item, len(final))
	for i, c := range final {
		item := Item{
			ID:               c.ID,
			SourceID:         c.SourceID,
			Title:            c.Title,
			Content:          c.Content,
			Score:            c.Score,
			Importance:       c.Importance,
			HasContradiction: c.HasContradiction,
			ContradictsWith:  c.ContradictsWith,
			Compressed:       c.Compressed,
			CreatedAt:        c.CreatedAt,
		}
		if h, ok := byID[c.ID]; ok {
			item.Tags = h.Record.Tags
			item.Metadata = h.Record.Metadata
			item.VectorScore = h.VectorScore
			item.LexScore = h.LexScore
			item.FusedScore = h.FusedScore
			item.Reasons = h.Reasons
		}
		items[i] = item
	}
	return &RetrievalResult{Items: items, Stats: stats, Truncated: stats.Truncated}
}

func hitItem(h retriever.Hit) Item {
	return Item{
		ID:          h.Record.ID,
		SourceID:    sourceOf(h.Record),
		Title:       h.Record.Title,
		Content:     h.Record.Content,
		Tags:        h.Record.Tags,
		Metadata:    h.Record.Metadata,
		Score:       h.FusedScore,
		VectorScore: h.VectorScore,
		LexScore:    h.LexScore,
		FusedScore:  h.FusedScore,
		Importance:  h.Record.Importance,
		CreatedAt:   h.Record.CreatedAt,
		Reasons:     h.Reasons,
	}
}

func sourceOf(rec *store.Record) string {
	if s, ok := rec.Attrs["source_id"].(string); ok {
		return s
	}
	return ""
}

// touchAccessed bumps last_accessed_at on returned knowledge items.
func (e *Engine) touchAccessed(ctx context.Context, items []Item) {
	now := time.Now().UTC()
	for _, item := range items {
		err := e.store.Update(ctx, store.TableKnowledge, item.ID, func(rec *store.Record) error {
			rec.LastAccessedAt = now
			return nil
		})
		if err != nil && !errs.IsNotFound(err) {
			e.logger.Debug("access-time update failed", "id", item.ID, "error", err)
		}
	}
}

// GetContext assembles the structured context: persona, optimizer-trimmed
// semantic hits, recent raw messages, and top episodic hits.
func (e *Engine) GetContext(ctx context.Context, user, query string, k int) (*Context, error) {
	if user == "" {
		return nil, errs.New(errs.KindValidation, "engine.context", "user is required")
	}
	if k <= 0 {
		k = e.cfg.DefaultK
	}
	out := &Context{}

	if p, err := e.GetPersona(ctx, user); err == nil {
		out.Persona = p
	} else if !errs.IsNotFound(err) {
		return nil, err
	}

	semRes, err := e.RetrieveK(ctx, user, query, nil, k, e.cfg.Profile)
	if err != nil {
		if errs.IsCancelled(err) {
			out.Truncated = true
			return out, nil
		}
		return nil, err
	}
	out.Semantic = semRes.Items
	out.Stats = semRes.Stats
	out.Truncated = semRes.Truncated

	out.RecentMessages, err = e.recentMessages(ctx, user, e.cfg.RecentMessages)
	if err != nil {
		e.logger.Warn("recent messages unavailable", "user", user, "error", err)
	}

	if query != "" {
		epHits, err := e.episodic.Retrieve(ctx, store.TableEpisodes, retriever.Request{
			UserID: user,
			Query:  query,
			K:      k,
		})
		if err != nil {
			e.logger.Warn("episodic retrieval failed", "user", user, "error", err)
		} else {
			out.Episodes = make([]Item, len(epHits))
			for i, h := range epHits {
				out.Episodes[i] = hitItem(h)
			}
		}
	}
	return out, nil
}

func (e *Engine) recentMessages(ctx context.Context, user string, limit int) ([]model.ChatMessage, error) {
	pred, err := filter.Compile(filter.Eq("user_id", filter.String(user)), e.types, filter.Options{})
	if err != nil {
		return nil, err
	}
	recs, err := e.store.Scan(ctx, store.TableSuperChatMessages, pred, store.ScanOptions{
		Limit:   limit,
		OrderBy: "created_at",
		Desc:    true,
	})
	if err != nil {
		return nil, err
	}
	msgs := make([]model.ChatMessage, 0, len(recs))
	for _, rec := range recs {
		var msg model.ChatMessage
		if err := rec.UnmarshalPayload(&msg); err == nil {
			msgs = append(msgs, msg)
		}
	}
	// Oldest first for consumers building a transcript.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
