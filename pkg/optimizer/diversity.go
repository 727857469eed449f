package optimizer

import (
	"context"
	"sort"
)

// diversity caps survivors per source id by dropping the lowest-scoring
// excess entries. Entries without a source id are never capped.
func (o *Optimizer) diversity(_ context.Context, _ string, cands []*Candidate, stats *Stats) []*Candidate {
	bySource := make(map[string][]int)
	for i, c := range cands {
		if c.SourceID == "" {
			continue
		}
		bySource[c.SourceID] = append(bySource[c.SourceID], i)
	}

	drop := make(map[int]bool)
	for _, idxs := range bySource {
		if len(idxs) <= o.cfg.MaxPerSource {
			continue
		}
		// Highest score first; original order breaks ties.
		sort.SliceStable(idxs, func(a, b int) bool {
			return cands[idxs[a]].Score > cands[idxs[b]].Score
		})
		for _, i := range idxs[o.cfg.MaxPerSource:] {
			drop[i] = true
		}
	}
	if len(drop) == 0 {
		return cands
	}
	out := make([]*Candidate, 0, len(cands)-len(drop))
	for i, c := range cands {
		if drop[i] {
			stats.RemovedDiversity++
			continue
		}
		out = append(out, c)
	}
	return out
}
