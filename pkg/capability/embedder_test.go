package capability

import (
	"context"
	"math"
	"testing"
)

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	a, err := e.Embed(context.Background(), "vector search over PostgreSQL")
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Embed(context.Background(), "vector search over PostgreSQL")
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("identical inputs produced different vectors at %d", i)
		}
	}
}

func TestHashEmbedder_EmptyInputIsZeroVector(t *testing.T) {
	e := NewHashEmbedder(32)
	vec, err := e.Embed(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 32 {
		t.Fatalf("expected dim 32, got %d", len(vec))
	}
	for i, v := range vec {
		if v != 0 {
			t.Fatalf("expected zero vector, got %f at %d", v, i)
		}
	}
}

func TestHashEmbedder_UnitNorm(t *testing.T) {
	e := NewHashEmbedder(128)
	vec, err := e.Embed(context.Background(), "some text with several distinct tokens")
	if err != nil {
		t.Fatal(err)
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm < 0.999 || norm > 1.001 {
		t.Errorf("expected unit norm, got %f", norm)
	}
}

func TestHashEmbedder_OverlapScoresHigher(t *testing.T) {
	e := NewHashEmbedder(256)
	base, _ := e.Embed(context.Background(), "python best practices")
	near, _ := e.Embed(context.Background(), "python coding best practices")
	far, _ := e.Embed(context.Background(), "docker networking bridge")

	if cos(base, near) <= cos(base, far) {
		t.Error("token overlap should score higher than disjoint text")
	}
}

func cos(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
