package retriever

import (
	"context"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mnemos/mnemos/pkg/capability"
	"github.com/mnemos/mnemos/pkg/filter"
	"github.com/mnemos/mnemos/pkg/store"
)

// countingStore wraps a MemStore and counts store calls.
type countingStore struct {
	*store.MemStore
	calls atomic.Int64
}

func (c *countingStore) ANN(ctx context.Context, table string, emb []float32, k int, pred store.Predicate) ([]store.Hit, error) {
	c.calls.Add(1)
	return c.MemStore.ANN(ctx, table, emb, k, pred)
}

func (c *countingStore) Lex(ctx context.Context, table, query string, k int, pred store.Predicate) ([]store.Hit, error) {
	c.calls.Add(1)
	return c.MemStore.Lex(ctx, table, query, k, pred)
}

func (c *countingStore) Scan(ctx context.Context, table string, pred store.Predicate, opt store.ScanOptions) ([]*store.Record, error) {
	c.calls.Add(1)
	return c.MemStore.Scan(ctx, table, pred, opt)
}

func seedKnowledge(t *testing.T, st store.VectorStore, emb capability.Embedder) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	docs := []struct {
		id, title, content string
	}{
		{"pg", "PostgreSQL indexing", "btree and gin index tuning for postgres"},
		{"hnsw", "HNSW vector search", "approximate nearest neighbor vector search graphs"},
		{"docker", "Docker networking", "bridge overlay and host network drivers"},
	}
	for i, d := range docs {
		vec, err := emb.Embed(ctx, d.title+" "+d.content)
		if err != nil {
			t.Fatal(err)
		}
		err = st.Put(ctx, store.TableKnowledge, &store.Record{
			ID:        d.id,
			UserID:    "u1",
			Title:     d.title,
			Content:   d.content,
			Embedding: vec,
			CreatedAt: now.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

// fixedEmbedder returns canned vectors so similarity structure is exact.
type fixedEmbedder struct {
	dim  int
	vecs map[string][]float32
}

func (f *fixedEmbedder) Dim() int { return f.dim }

func (f *fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := f.vecs[text]; ok {
		return v, nil
	}
	return make([]float32, f.dim), nil
}

func TestRetrieve_HybridFusionScenario(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore(nil)
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	docs := []struct {
		id, title, content string
		vec                []float32
	}{
		{"hnsw", "HNSW vector search", "approximate nearest neighbor graphs", []float32{0.95, 0.05, 0, 0}},
		{"pg", "PostgreSQL indexing", "btree and gin index tuning", []float32{0, 0, 1, 0}},
		{"docker", "Docker networking", "bridge overlay and host drivers", []float32{0, 0, 0, 1}},
	}
	for i, d := range docs {
		err := st.Put(ctx, store.TableKnowledge, &store.Record{
			ID: d.id, UserID: "u1", Title: d.title, Content: d.content,
			Embedding: d.vec, CreatedAt: now.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	query := "vector search over PostgreSQL"
	emb := &fixedEmbedder{dim: 4, vecs: map[string][]float32{query: {1, 0, 0, 0}}}
	r := New(st, emb, nil, DefaultConfig(), nil)

	hits, err := r.Retrieve(ctx, store.TableKnowledge, Request{
		UserID: "u1",
		Query:  query,
		K:      3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) < 2 {
		t.Fatalf("expected at least 2 hits, got %d", len(hits))
	}
	if hits[0].Record.ID != "hnsw" {
		t.Errorf("expected the double-subquery hit first, got %s", hits[0].Record.ID)
	}
	for _, h := range hits {
		if h.Record.ID == "docker" {
			t.Error("unrelated document must not rank")
		}
	}
}

func TestRetrieve_KZeroMakesNoStoreCalls(t *testing.T) {
	emb := capability.NewHashEmbedder(64)
	cs := &countingStore{MemStore: store.NewMemStore(nil)}
	r := New(cs, emb, nil, DefaultConfig(), nil)

	hits, err := r.Retrieve(context.Background(), store.TableKnowledge, Request{
		UserID: "u1",
		Query:  "anything",
		K:      0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("expected empty result, got %d", len(hits))
	}
	if cs.calls.Load() != 0 {
		t.Errorf("k=0 must not touch the store, got %d calls", cs.calls.Load())
	}
}

func TestRetrieve_EmptyQueryIsPureFilterScan(t *testing.T) {
	emb := capability.NewHashEmbedder(64)
	cs := &countingStore{MemStore: store.NewMemStore(nil)}
	seedKnowledge(t, cs.MemStore, emb)
	r := New(cs, emb, nil, DefaultConfig(), nil)

	hits, err := r.Retrieve(context.Background(), store.TableKnowledge, Request{
		UserID: "u1",
		Filter: filter.Contains("title", "docker"),
		K:      10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Record.ID != "docker" {
		t.Fatalf("expected the docker row, got %+v", hits)
	}
	if cs.calls.Load() != 1 {
		t.Errorf("expected a single scan, got %d calls", cs.calls.Load())
	}
}

func TestRetrieve_Deterministic(t *testing.T) {
	emb := capability.NewHashEmbedder(128)
	st := store.NewMemStore(nil)
	seedKnowledge(t, st, emb)
	r := New(st, emb, nil, DefaultConfig(), nil)

	req := Request{UserID: "u1", Query: "index tuning for search", K: 3}
	first, err := r.Retrieve(context.Background(), store.TableKnowledge, req)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := r.Retrieve(context.Background(), store.TableKnowledge, req)
		if err != nil {
			t.Fatal(err)
		}
		if len(again) != len(first) {
			t.Fatalf("result count changed between runs")
		}
		for j := range again {
			if again[j].Record.ID != first[j].Record.ID || again[j].FusedScore != first[j].FusedScore {
				t.Fatalf("ordering changed between runs at %d", j)
			}
		}
	}
}

func TestRetrieve_FilterRelaxation(t *testing.T) {
	emb := capability.NewHashEmbedder(128)
	st := store.NewMemStore(nil)
	seedKnowledge(t, st, emb)
	r := New(st, emb, nil, DefaultConfig(), nil)

	// A one-hour window matches nothing; relaxation drops it.
	tight := filter.TimeWindow("created_at", time.Hour)
	req := Request{
		UserID:     "u1",
		Query:      "vector search",
		Filter:     tight,
		K:          2,
		RelaxOrder: []string{"created_at"},
	}
	hits, err := r.Retrieve(context.Background(), store.TableKnowledge, req)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 {
		t.Error("relaxation should recover results")
	}

	// Without a relaxation order the tight filter stands.
	req.RelaxOrder = nil
	hits, err = r.Retrieve(context.Background(), store.TableKnowledge, req)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no results without relaxation, got %d", len(hits))
	}
}

func TestRetrieve_UserScope(t *testing.T) {
	emb := capability.NewHashEmbedder(64)
	st := store.NewMemStore(nil)
	ctx := context.Background()
	vec, _ := emb.Embed(ctx, "shared content words")
	for _, user := range []string{"u1", "u2"} {
		_ = st.Put(ctx, store.TableKnowledge, &store.Record{
			ID: user + "-doc", UserID: user, Content: "shared content words",
			Embedding: vec, CreatedAt: time.Now(),
		})
	}
	r := New(st, emb, nil, DefaultConfig(), nil)
	hits, err := r.Retrieve(ctx, store.TableKnowledge, Request{UserID: "u1", Query: "shared content", K: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Record.UserID != "u1" {
		t.Fatalf("scope leak: %+v", hits)
	}
}

func TestFuse_WeightedVariant(t *testing.T) {
	emb := capability.NewHashEmbedder(64)
	st := store.NewMemStore(nil)
	seedKnowledge(t, st, emb)
	r := New(st, emb, nil, DefaultConfig(), nil)

	rrf, err := r.Retrieve(context.Background(), store.TableKnowledge, Request{UserID: "u1", Query: "vector search", K: 3})
	if err != nil {
		t.Fatal(err)
	}
	weighted, err := r.Retrieve(context.Background(), store.TableKnowledge, Request{UserID: "u1", Query: "vector search", K: 3, Weighted: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(rrf) == 0 || len(weighted) == 0 {
		t.Fatal("both variants should return results")
	}
	if reflect.DeepEqual(rrf[0].FusedScore, weighted[0].FusedScore) {
		t.Log("fused scores coincide; variants still both executed")
	}
}
