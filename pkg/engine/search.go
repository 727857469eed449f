package engine

import (
	"context"
	"sort"
	"time"

	"github.com/mnemos/mnemos/pkg/filter"
	"github.com/mnemos/mnemos/pkg/model"
)

// SearchByTimeWindow retrieves items created within the trailing window.
func (e *Engine) SearchByTimeWindow(ctx context.Context, user, query string, window time.Duration, k int) (*RetrievalResult, error) {
	return e.Retrieve(ctx, user, query, filter.TimeWindow("created_at", window), k, "")
}

// SearchByCategory retrieves items of one category.
func (e *Engine) SearchByCategory(ctx context.Context, user, query string, category model.Category, k int) (*RetrievalResult, error) {
	return e.Retrieve(ctx, user, query, filter.Eq("category", filter.String(string(category))), k, "")
}

// SearchByTags retrieves items carrying any of the tags.
func (e *Engine) SearchByTags(ctx context.Context, user, query string, tags []string, k int) (*RetrievalResult, error) {
	return e.Retrieve(ctx, user, query, filter.AnyOf("tags", filter.Strings(tags...)), k, "")
}

// SearchImportantItems retrieves items at or above an importance floor.
func (e *Engine) SearchImportantItems(ctx context.Context, user, query string, minImportance float64, k int) (*RetrievalResult, error) {
	return e.Retrieve(ctx, user, query, filter.Gte("importance", filter.Number(minImportance)), k, "")
}

// SearchWithMetadata retrieves items whose nested metadata matches every
// given path.
func (e *Engine) SearchWithMetadata(ctx context.Context, user, query string, meta map[string]filter.Value, k int) (*RetrievalResult, error) {
	paths := make([]string, 0, len(meta))
	for path := range meta {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	leaves := make([]*filter.Expr, 0, len(paths))
	for _, path := range paths {
		leaves = append(leaves, filter.Eq("metadata."+path, meta[path]))
	}
	var f *filter.Expr
	switch len(leaves) {
	case 0:
		f = nil
	case 1:
		f = leaves[0]
	default:
		f = filter.And(leaves...)
	}
	return e.Retrieve(ctx, user, query, f, k, "")
}
