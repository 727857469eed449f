package optimizer

import (
	"context"
	"crypto/sha256"
	"strings"

	"github.com/mnemos/mnemos/pkg/store"
)

// dedupExact removes entries whose trimmed lowercased content hashes
// equal, keeping the higher-scoring one (earlier on ties).
func (o *Optimizer) dedupExact(_ context.Context, _ string, cands []*Candidate, stats *Stats) []*Candidate {
	type slot struct {
		idx   int
		score float64
	}
	seen := make(map[[32]byte]slot, len(cands))
	drop := make(map[int]bool)
	for i, c := range cands {
		key := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(c.Content))))
		prev, ok := seen[key]
		if !ok {
			seen[key] = slot{idx: i, score: c.Score}
			continue
		}
		if c.Score > prev.score {
			drop[prev.idx] = true
			seen[key] = slot{idx: i, score: c.Score}
		} else {
			drop[i] = true
		}
	}
	if len(drop) == 0 {
		return cands
	}
	out := make([]*Candidate, 0, len(cands)-len(drop))
	for i, c := range cands {
		if drop[i] {
			stats.RemovedExactDup++
			continue
		}
		out = append(out, c)
	}
	return out
}

// dedupSemantic drops the lower-scoring member of any pair whose
// embeddings cosine at or above the similarity threshold. When one member
// is marked Keep the other one drops; when both are, both stay.
func (o *Optimizer) dedupSemantic(_ context.Context, _ string, cands []*Candidate, stats *Stats) []*Candidate {
	drop := make(map[int]bool)
	for i := 0; i < len(cands); i++ {
		if drop[i] || len(cands[i].Embedding) == 0 {
			continue
		}
		for j := i + 1; j < len(cands); j++ {
			if drop[j] || len(cands[j].Embedding) == 0 {
				continue
			}
			sim := store.CosineSimilarity(cands[i].Embedding, cands[j].Embedding)
			if sim < o.cfg.SimilarityThreshold {
				continue
			}
			if cands[i].Keep && cands[j].Keep {
				continue
			}
			// Drop the lower-scoring one; on ties, the later entry.
			lower := j
			if cands[j].Score > cands[i].Score {
				lower = i
			}
			if cands[lower].Keep {
				if lower == i {
					lower = j
				} else {
					lower = i
				}
			}
			drop[lower] = true
			if lower == i {
				break
			}
		}
	}
	if len(drop) == 0 {
		return cands
	}
	out := make([]*Candidate, 0, len(cands)-len(drop))
	for i, c := range cands {
		if drop[i] {
			stats.RemovedSemanticDup++
			continue
		}
		out = append(out, c)
	}
	return out
}
