package semcache

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/mnemos/mnemos/pkg/cache"
)

func newTestCache(t *testing.T, cfg Config) *SemanticCache {
	t.Helper()
	sc, err := New(cache.NewMemoryCache(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(sc.Close)
	return sc
}

func entry(fp string, emb []float32, created time.Time) *QueryEntry {
	results, _ := json.Marshal([]map[string]any{{"id": "x"}})
	return &QueryEntry{
		Fingerprint: fp,
		Query:       "q-" + fp,
		Embedding:   emb,
		Results:     results,
		CreatedAt:   created,
	}
}

func TestFingerprint_NormalizesQueryText(t *testing.T) {
	a := Fingerprint("  What Are   Best Practices? ", "c = ?", []any{"x"})
	b := Fingerprint("what are best practices?", "c = ?", []any{"x"})
	if a != b {
		t.Error("whitespace and case must not change the fingerprint")
	}
	if a == Fingerprint("what are best practices?", "c = ?", []any{"y"}) {
		t.Error("different filter args must change the fingerprint")
	}
}

func TestGetQuery_ExactHit(t *testing.T) {
	sc := newTestCache(t, Config{})
	ctx := context.Background()

	sc.PutQuery(ctx, "u1", entry("fp1", []float32{1, 0}, time.Now()))
	got, kind := sc.GetQuery(ctx, "u1", "fp1", nil)
	if kind != HitExact || got == nil || got.Fingerprint != "fp1" {
		t.Fatalf("expected exact hit, got %v %v", kind, got)
	}
}

func TestGetQuery_SemanticHitAboveThreshold(t *testing.T) {
	sc := newTestCache(t, Config{Threshold: 0.85})
	ctx := context.Background()

	sc.PutQuery(ctx, "u1", entry("stored", []float32{1, 0}, time.Now()))

	// cos(stored, probe) = 0.87: a semantic match for a reworded query.
	probe := []float32{0.87, float32(math.Sqrt(1 - 0.87*0.87))}
	got, kind := sc.GetQuery(ctx, "u1", "different-fp", probe)
	if kind != HitSemantic || got == nil || got.Fingerprint != "stored" {
		t.Fatalf("expected semantic hit, got %v %v", kind, got)
	}

	// cos = 0.5: below threshold, a miss.
	weak := []float32{0.5, float32(math.Sqrt(1 - 0.25))}
	if _, kind := sc.GetQuery(ctx, "u1", "another-fp", weak); kind != HitNone {
		t.Fatalf("expected miss below threshold, got %v", kind)
	}
}

func TestGetQuery_UserIsolation(t *testing.T) {
	sc := newTestCache(t, Config{})
	ctx := context.Background()

	sc.PutQuery(ctx, "u1", entry("fp1", []float32{1, 0}, time.Now()))
	if _, kind := sc.GetQuery(ctx, "u2", "fp1", []float32{1, 0}); kind != HitNone {
		t.Fatalf("cross-user hit: %v", kind)
	}
}

func TestPutQuery_EvictsLowestAccessCount(t *testing.T) {
	sc := newTestCache(t, Config{MaxQueryPerUser: 2})
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	sc.PutQuery(ctx, "u1", entry("old-accessed", nil, base))
	sc.PutQuery(ctx, "u1", entry("idle", nil, base.Add(time.Hour)))

	// Access bumps the first entry's count above the idle one.
	if _, kind := sc.GetQuery(ctx, "u1", "old-accessed", nil); kind != HitExact {
		t.Fatal("setup access failed")
	}

	sc.PutQuery(ctx, "u1", entry("new", nil, base.Add(2*time.Hour)))

	if _, kind := sc.GetQuery(ctx, "u1", "idle", nil); kind != HitNone {
		t.Error("lowest-access entry should have been evicted")
	}
	if _, kind := sc.GetQuery(ctx, "u1", "old-accessed", nil); kind != HitExact {
		t.Error("accessed entry should have survived eviction")
	}
}

func TestInvalidateUser(t *testing.T) {
	sc := newTestCache(t, Config{})
	ctx := context.Background()

	sc.SetPersona(ctx, "u1", map[string]string{"payload": "{}"})
	sc.PutQuery(ctx, "u1", entry("fp1", []float32{1, 0}, time.Now()))

	sc.InvalidateUser(ctx, "u1", true)

	if _, ok := sc.GetPersona(ctx, "u1"); ok {
		t.Error("persona survived invalidation")
	}
	if _, kind := sc.GetQuery(ctx, "u1", "fp1", []float32{1, 0}); kind != HitNone {
		t.Error("query entry survived invalidation")
	}
}

func TestInvalidateUser_PersonaUntouchedKeepsSnapshot(t *testing.T) {
	sc := newTestCache(t, Config{})
	ctx := context.Background()

	sc.SetPersona(ctx, "u1", map[string]string{"payload": "{}"})
	sc.InvalidateUser(ctx, "u1", false)
	if _, ok := sc.GetPersona(ctx, "u1"); !ok {
		t.Error("persona dropped although not touched")
	}
}

func TestInputFingerprint(t *testing.T) {
	sc := newTestCache(t, Config{})
	ctx := context.Background()

	if _, ok := sc.GetInput(ctx, "u1", "hello world"); ok {
		t.Fatal("unexpected hit before set")
	}
	sc.SetInput(ctx, "u1", "hello world", `{"layer":"knowledge"}`)
	got, ok := sc.GetInput(ctx, "u1", "hello world")
	if !ok || got != `{"layer":"knowledge"}` {
		t.Fatalf("expected stored classification, got %v %q", ok, got)
	}
}
