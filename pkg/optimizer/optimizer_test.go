package optimizer

import (
	"context"
	"strings"
	"testing"
	"time"
)

func balanced() *Optimizer { return New(ForProfile(ProfileBalanced), nil, nil) }

func cand(id, content string, score float64, emb []float32) *Candidate {
	return &Candidate{ID: id, Content: content, Score: score, Embedding: emb, CreatedAt: time.Now()}
}

func TestOptimize_EmptyInput(t *testing.T) {
	out, stats := balanced().Optimize(context.Background(), "q", nil)
	if len(out) != 0 || stats.OriginalCount != 0 || stats.FinalCount != 0 {
		t.Fatalf("unexpected: %v %+v", out, stats)
	}
}

func TestOptimize_ZeroBudgetReturnsEmpty(t *testing.T) {
	cfg := ForProfile(ProfileBalanced)
	cfg.MaxContextTokens = 0
	// Zero budget survives clamping: it means "return nothing".
	o := New(cfg, nil, nil)
	out, stats := o.Optimize(context.Background(), "q", []*Candidate{
		cand("a", "some reasonably informative content here", 0.9, nil),
	})
	if len(out) != 0 {
		t.Errorf("expected empty result, got %d", len(out))
	}
	if stats.FinalCount != 0 {
		t.Errorf("stats disagree: %+v", stats)
	}
}

func TestDedupExact(t *testing.T) {
	o := balanced()
	cands := []*Candidate{
		cand("a", "Python is a Programming language.", 0.9, nil),
		cand("b", "python is a programming language.", 0.5, nil),
		cand("c", "Go is a compiled language.", 0.7, nil),
	}
	out := o.dedupExact(context.Background(), "", cands, &Stats{})
	if len(out) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(out))
	}
	for _, c := range out {
		if c.ID == "b" {
			t.Error("lower-scoring exact duplicate survived")
		}
	}
}

// Scenario: two near-identical statements and one unrelated; one of the
// pair drops, the unrelated entry survives.
func TestDedupSemantic_Scenario(t *testing.T) {
	cfg := ForProfile(ProfileBalanced)
	cfg.SimilarityThreshold = 0.85
	o := New(cfg, nil, nil)

	cands := []*Candidate{
		cand("ml1", "Machine learning is a subset of AI.", 0.9, []float32{1, 0, 0.05}),
		cand("ml2", "ML is a subset of artificial intelligence.", 0.8, []float32{0.99, 0.02, 0.05}),
		cand("py", "Python is a programming language.", 0.7, []float32{0, 1, 0}),
	}
	out := o.dedupSemantic(context.Background(), "", cands, &Stats{})
	if len(out) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(out))
	}
	ids := map[string]bool{}
	for _, c := range out {
		ids[c.ID] = true
	}
	if !ids["ml1"] || !ids["py"] {
		t.Errorf("wrong survivors: %v", ids)
	}
}

func TestDedupSemantic_KeepProtects(t *testing.T) {
	o := balanced()
	a := cand("a", "fact one", 0.9, []float32{1, 0})
	b := cand("b", "fact one reworded", 0.2, []float32{0.999, 0.01})
	b.Keep = true
	out := o.dedupSemantic(context.Background(), "", []*Candidate{a, b}, &Stats{})
	if len(out) != 1 || out[0].ID != "b" {
		// The unprotected higher-scoring entry drops because the lower one
		// is pinned.
		t.Fatalf("keep flag not honored: %+v", out)
	}
}

func TestDiversity_CapsPerSource(t *testing.T) {
	o := balanced() // cap 3
	var cands []*Candidate
	for i := 0; i < 5; i++ {
		c := cand(string(rune('a'+i)), "content", float64(i)/10, nil)
		c.SourceID = "conv-1"
		cands = append(cands, c)
	}
	other := cand("z", "content", 0.9, nil)
	other.SourceID = "conv-2"
	cands = append(cands, other)

	stats := &Stats{}
	out := o.diversity(context.Background(), "", cands, stats)
	perSource := map[string]int{}
	for _, c := range out {
		perSource[c.SourceID]++
	}
	if perSource["conv-1"] != 3 || perSource["conv-2"] != 1 {
		t.Fatalf("cap violated: %v", perSource)
	}
	if stats.RemovedDiversity != 2 {
		t.Errorf("expected 2 removed, got %d", stats.RemovedDiversity)
	}
}

// Scenario: similar statements where exactly one negates are flagged,
// both survive.
func TestContradiction_Scenario(t *testing.T) {
	o := balanced()
	a := cand("up", "The service is online.", 0.9, []float32{1, 0})
	b := cand("down", "The service is offline.", 0.8, []float32{0.8, 0.6})

	stats := &Stats{}
	out := o.contradictions(context.Background(), "", []*Candidate{a, b}, stats)
	if len(out) != 2 {
		t.Fatalf("contradiction step must not drop entries, got %d", len(out))
	}
	if !a.HasContradiction || !b.HasContradiction {
		t.Error("both entries must be flagged")
	}
	if len(a.ContradictsWith) != 1 || a.ContradictsWith[0] != 1 {
		t.Errorf("cross reference wrong: %v", a.ContradictsWith)
	}
	if stats.ContradictionCount != 1 {
		t.Errorf("expected 1 contradiction pair, got %d", stats.ContradictionCount)
	}
}

func TestEntropyFilter(t *testing.T) {
	o := balanced()
	cands := []*Candidate{
		cand("low", "aaaaaaaaaaaaaaaaaaaa", 0.9, nil),
		cand("short", "tiny", 0.9, nil),
		cand("ok", "A genuinely informative sentence about databases.", 0.9, nil),
	}
	stats := &Stats{}
	out := o.entropyFilter(context.Background(), "", cands, stats)
	if len(out) != 1 || out[0].ID != "ok" {
		t.Fatalf("entropy filter wrong: %+v", out)
	}
	if stats.RemovedLowEntropy != 2 {
		t.Errorf("expected 2 removed, got %d", stats.RemovedLowEntropy)
	}
}

func TestCompress_LongEntryGetsExtracted(t *testing.T) {
	cfg := ForProfile(ProfileBalanced)
	cfg.MaxContextTokens = 100 // compression threshold 25 tokens
	o := New(cfg, nil, nil)

	long := "Databases store rows. Vector search finds neighbors quickly. " +
		"Cooking pasta needs salted water. Gardens grow best in spring. " +
		"The weather was nice last tuesday. Nothing else matters here."
	cands := []*Candidate{cand("a", long, 0.9, nil)}
	stats := &Stats{}
	out := o.compress(context.Background(), "vector search neighbors", cands, stats)
	if !out[0].Compressed {
		t.Fatal("entry above threshold should compress")
	}
	if !strings.Contains(out[0].Content, "Vector search") {
		t.Error("query-relevant sentence must survive")
	}
	if len(out[0].Content) >= len(long) {
		t.Error("compression did not shrink the entry")
	}
	if stats.CompressedCount != 1 {
		t.Errorf("stats: %+v", stats)
	}
}

func TestAdaptiveThreshold_QuartileRules(t *testing.T) {
	base := 0.65
	// Wide spread: IQR > 0.3 lowers the threshold.
	wide := []float64{0.1, 0.2, 0.5, 0.9, 0.95}
	if got := adaptiveThreshold(wide, base); got >= base {
		t.Errorf("wide spread should lower threshold, got %f", got)
	}
	// Tight spread: IQR < 0.15 raises it, capped by q50*0.95.
	tight := []float64{0.70, 0.71, 0.72, 0.73}
	got := adaptiveThreshold(tight, base)
	if got <= base {
		t.Errorf("tight spread should raise threshold, got %f", got)
	}
	// Fewer than four scores: base unchanged.
	if got := adaptiveThreshold([]float64{0.5, 0.6}, base); got != base {
		t.Errorf("small samples keep the base, got %f", got)
	}
}

func TestRerank_MinKeptFloor(t *testing.T) {
	cfg := ForProfile(ProfileBalanced)
	cfg.AdaptiveThreshold = false
	cfg.RerankBase = 0.80
	cfg.MinKept = 3
	o := New(cfg, nil, nil)

	cands := []*Candidate{
		cand("a", "nothing in common alpha", 0.9, nil),
		cand("b", "nothing in common beta", 0.8, nil),
		cand("c", "nothing in common gamma", 0.7, nil),
		cand("d", "nothing in common delta", 0.6, nil),
	}
	stats := &Stats{}
	out := o.rerank(context.Background(), "completely different query terms", cands, stats)
	if len(out) != 3 {
		t.Fatalf("min-kept floor violated: %d survivors", len(out))
	}
}

func TestEnforceBudget_Monotonic(t *testing.T) {
	cfg := ForProfile(ProfileBalanced)
	cfg.MaxContextTokens = 30
	o := New(cfg, nil, nil)

	cands := []*Candidate{
		cand("a", "First sentence here. Second sentence follows. Third one too.", 0.9, nil),
		cand("b", "Another block of text. With more sentences. And even more.", 0.8, nil),
		cand("c", "Trailing entry that should be discarded entirely by budget.", 0.7, nil),
	}
	stats := &Stats{}
	out := o.enforceBudget(context.Background(), "", cands, stats)

	total := 0
	for _, c := range out {
		total += estimateTokens(c.Content)
	}
	if total > 30 {
		t.Errorf("budget exceeded: %d tokens", total)
	}
	if len(out) > len(cands) {
		t.Error("budget step grew the list")
	}
	// Truncation must end at a sentence boundary, never mid-word.
	for _, c := range out {
		trimmed := strings.TrimSpace(c.Content)
		if trimmed != "" && !strings.ContainsAny(trimmed[len(trimmed)-1:], ".!?") {
			t.Errorf("entry not sentence-aligned: %q", c.Content)
		}
	}
}

func TestOptimize_FullPipelinePreservation(t *testing.T) {
	o := balanced()
	cands := []*Candidate{
		cand("a", "Vector indexes accelerate nearest neighbor search in databases.", 0.9, []float32{1, 0}),
		cand("b", "Relational databases organize data into tables and rows.", 0.7, []float32{0, 1}),
		cand("c", "Vector search with indexes speeds up neighbor lookups a lot.", 0.8, []float32{0.5, 0.5}),
	}
	out, stats := o.Optimize(context.Background(), "vector search databases", cands)
	if stats.FinalCount > stats.OriginalCount {
		t.Error("optimizer grew the list")
	}
	if stats.FinalCount != len(out) {
		t.Error("stats disagree with result")
	}
	if stats.OriginalCount > 0 && stats.FinalCount < 1 {
		t.Error("preservation floor violated for clean inputs")
	}
}

func TestOptimize_CancellationReturnsPartial(t *testing.T) {
	o := balanced()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, stats := o.Optimize(ctx, "q", []*Candidate{
		cand("a", "Reasonably informative content for the pipeline.", 0.9, nil),
	})
	if !stats.Truncated {
		t.Error("cancelled run must flag truncation")
	}
	if out == nil {
		t.Error("partial result expected, not nil")
	}
}
