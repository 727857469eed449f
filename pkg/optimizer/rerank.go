package optimizer

import (
	"context"
	"sort"
)

// Ranker optionally replaces the Jaccard relevance scorer.
type Ranker func(query, content string) float64

// rerank scores survivors against the query and drops entries below an
// adaptive threshold derived from the score distribution, never reducing
// the list below MinKept. Iterates until a pass drops nothing or the
// iteration cap is hit.
func (o *Optimizer) rerank(_ context.Context, query string, cands []*Candidate, stats *Stats) []*Candidate {
	if len(cands) == 0 {
		return cands
	}
	queryTokens := tokenSet(query)
	for _, c := range cands {
		c.Score = jaccard(queryTokens, tokenSet(c.Content))
	}

	threshold := o.cfg.RerankBase
	for iter := 0; iter < o.cfg.MaxIterations; iter++ {
		stats.RerankIterations = iter + 1
		if o.cfg.AdaptiveThreshold {
			threshold = adaptiveThreshold(scoresOf(cands), o.cfg.RerankBase)
		}
		stats.AdaptiveThreshold = threshold

		survivors := make([]*Candidate, 0, len(cands))
		for _, c := range cands {
			if c.Score >= threshold {
				survivors = append(survivors, c)
			}
		}
		if len(survivors) < o.cfg.MinKept {
			// Keep the top MinKept regardless of threshold.
			top := append([]*Candidate(nil), cands...)
			sort.SliceStable(top, func(i, j int) bool { return top[i].Score > top[j].Score })
			if o.cfg.MinKept < len(top) {
				top = top[:o.cfg.MinKept]
			}
			kept := make(map[*Candidate]bool, len(top))
			for _, c := range top {
				kept[c] = true
			}
			survivors = survivors[:0]
			for _, c := range cands {
				if kept[c] {
					survivors = append(survivors, c)
				}
			}
			stats.RemovedRerank += len(cands) - len(survivors)
			return survivors
		}

		dropped := len(cands) - len(survivors)
		stats.RemovedRerank += dropped
		cands = survivors
		if dropped == 0 {
			break
		}
	}
	return cands
}

// adaptiveThreshold derives the active threshold from the quartiles of
// the score distribution: wide spread lowers it, tight spread raises it.
func adaptiveThreshold(scores []float64, base float64) float64 {
	if len(scores) < 4 {
		return base
	}
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	q25 := quantile(sorted, 0.25)
	q50 := quantile(sorted, 0.50)
	q75 := quantile(sorted, 0.75)
	iqr := q75 - q25

	var t float64
	switch {
	case iqr > 0.3:
		t = max2(base-0.1, q50*0.8)
	case iqr < 0.15:
		t = min2(base+0.05, q50*0.95)
	default:
		t = (base + q50) / 2
	}
	// The active threshold stays inside the configured band.
	if t < 0.50 {
		t = 0.50
	}
	if t > 0.80 {
		t = 0.80
	}
	return t
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func scoresOf(cands []*Candidate) []float64 {
	out := make([]float64, len(cands))
	for i, c := range cands {
		out[i] = c.Score
	}
	return out
}

func max2(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min2(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
