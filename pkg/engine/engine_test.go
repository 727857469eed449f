package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mnemos/mnemos/pkg/cache"
	"github.com/mnemos/mnemos/pkg/capability"
	"github.com/mnemos/mnemos/pkg/errs"
	"github.com/mnemos/mnemos/pkg/filter"
	"github.com/mnemos/mnemos/pkg/model"
	"github.com/mnemos/mnemos/pkg/semcache"
	"github.com/mnemos/mnemos/pkg/store"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	sem, err := semcache.New(cache.NewMemoryCache(), semcache.Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(sem.Close)

	eng, err := New(Options{
		Store:       store.NewMemStore(nil),
		Cache:       sem,
		EmbedderSem: capability.NewHashEmbedder(128),
		EmbedderEpi: capability.NewHashEmbedder(64),
	})
	require.NoError(t, err)
	return eng
}

func TestIngest_WriteThenFilterSearchFindsIt(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	out, err := eng.IngestMemory(ctx, "u1", "PostgreSQL uses B-tree indexes by default.", nil)
	require.NoError(t, err)
	require.Len(t, out.IDs, 1)
	require.Equal(t, capability.LayerKnowledge, out.Classification.Layer)

	res, err := eng.Retrieve(ctx, "u1", "", filter.Eq("id", filter.String(out.IDs[0])), 5, "")
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	require.Equal(t, out.IDs[0], res.Items[0].ID)
}

func TestIngest_Validation(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.IngestMemory(ctx, "", "text", nil)
	require.True(t, errs.Is(err, errs.KindValidation))
	_, err = eng.IngestMemory(ctx, "u1", "   ", nil)
	require.True(t, errs.Is(err, errs.KindValidation))
}

func TestIngest_RuleRouting(t *testing.T) {
	cases := []struct {
		text string
		want capability.Layer
	}{
		{"I am a backend engineer from Berlin", capability.LayerPersona},
		{"I know how to tune Postgres indexes", capability.LayerSkill},
		{"Yesterday we migrated the cluster", capability.LayerEpisodic},
		{"On 2026-03-01 the outage started", capability.LayerEpisodic},
		{"Redis pipelines batch commands", capability.LayerKnowledge},
	}
	for _, tc := range cases {
		got := ruleClassify(tc.text)
		if got.Layer != tc.want {
			t.Errorf("%q routed to %s, want %s", tc.text, got.Layer, tc.want)
		}
	}
}

func TestIngest_PersonaUpsertAndCacheInvalidation(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.IngestMemory(ctx, "u1", "I am a data engineer", nil)
	require.NoError(t, err)

	p, err := eng.GetPersona(ctx, "u1")
	require.NoError(t, err)
	require.Contains(t, p.RawContent, "data engineer")

	// The second write must be visible immediately: the snapshot cached by
	// GetPersona is invalidated by the write.
	_, err = eng.IngestMemory(ctx, "u1", "I like chess and I prefer tea", nil)
	require.NoError(t, err)

	p, err = eng.GetPersona(ctx, "u1")
	require.NoError(t, err)
	require.Contains(t, p.RawContent, "chess")
}

func TestRetrieve_CacheHitOnSecondCall(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.IngestMemory(ctx, "u1", "Vector indexes accelerate similarity search.", nil)
	require.NoError(t, err)

	first, err := eng.Retrieve(ctx, "u1", "vector similarity search", nil, 5, "")
	require.NoError(t, err)
	require.Equal(t, semcache.HitNone, first.CacheHitKind)

	second, err := eng.Retrieve(ctx, "u1", "vector similarity search", nil, 5, "")
	require.NoError(t, err)
	require.Equal(t, semcache.HitExact, second.CacheHitKind)
	require.Equal(t, len(first.Items), len(second.Items))
}

func TestRetrieve_IngestInvalidatesQueryCache(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.IngestMemory(ctx, "u1", "Golang channels synchronize goroutines.", nil)
	require.NoError(t, err)

	_, err = eng.Retrieve(ctx, "u1", "goroutine synchronization channels", nil, 5, "")
	require.NoError(t, err)

	// A new write for the same user invalidates cached queries.
	_, err = eng.IngestMemory(ctx, "u1", "Buffered channels decouple producers from consumers.", nil)
	require.NoError(t, err)

	res, err := eng.Retrieve(ctx, "u1", "goroutine synchronization channels", nil, 5, "")
	require.NoError(t, err)
	require.Equal(t, semcache.HitNone, res.CacheHitKind)
}

func TestRetrieve_KZero(t *testing.T) {
	eng := newTestEngine(t)
	res, err := eng.RetrieveK(context.Background(), "u1", "anything", nil, 0, "")
	require.NoError(t, err)
	require.Empty(t, res.Items)
}

func TestSearchWrappers(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.IngestMemory(ctx, "u1", "Kubernetes schedules pods onto nodes.", map[string]string{
		"tags": "k8s,infra",
	})
	require.NoError(t, err)

	byTags, err := eng.SearchByTags(ctx, "u1", "", []string{"k8s"}, 10)
	require.NoError(t, err)
	require.Len(t, byTags.Items, 1)

	byCat, err := eng.SearchByCategory(ctx, "u1", "", model.CategoryKnowledge, 10)
	require.NoError(t, err)
	require.Len(t, byCat.Items, 1)

	none, err := eng.SearchByCategory(ctx, "u1", "", model.CategorySkill, 10)
	require.NoError(t, err)
	require.Empty(t, none.Items)
}

func TestGetContext_AssemblesSections(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.IngestMemory(ctx, "u1", "I am a platform engineer", nil)
	require.NoError(t, err)
	_, err = eng.IngestMemory(ctx, "u1", "Terraform plans show resource diffs.", nil)
	require.NoError(t, err)
	_, err = eng.IngestMemory(ctx, "u1", "Yesterday the deploy failed twice", nil)
	require.NoError(t, err)

	c, err := eng.GetContext(ctx, "u1", "terraform resource diffs", 5)
	require.NoError(t, err)
	require.NotNil(t, c.Persona)
	require.NotEmpty(t, c.Semantic)
	require.NotEmpty(t, c.RecentMessages)
}

func TestOverload_SkipsOptimizer(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.IngestMemory(ctx, "u1", "Caches trade freshness for latency.", nil)
	require.NoError(t, err)

	eng.SetOverload(OverloadSkipOptimizer)
	res, err := eng.Retrieve(ctx, "u1", "cache freshness latency", nil, 5, "")
	require.NoError(t, err)
	require.True(t, res.OptimizerSkipped)
	require.Nil(t, res.Stats)
}
