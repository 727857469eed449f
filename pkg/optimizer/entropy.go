package optimizer

import (
	"context"
	"math"
)

// entropyFilter drops entries with low normalized character entropy or
// too-short content; both indicate no usable information.
func (o *Optimizer) entropyFilter(_ context.Context, _ string, cands []*Candidate, stats *Stats) []*Candidate {
	out := make([]*Candidate, 0, len(cands))
	for _, c := range cands {
		if len([]rune(c.Content)) < o.cfg.MinLength {
			stats.RemovedLowEntropy++
			continue
		}
		if normalizedEntropy(c.Content) < o.cfg.EntropyMin {
			stats.RemovedLowEntropy++
			continue
		}
		out = append(out, c)
	}
	return out
}

// normalizedEntropy is the Shannon entropy of the character distribution
// divided by its maximum for the observed alphabet, yielding [0, 1].
func normalizedEntropy(text string) float64 {
	runes := []rune(text)
	if len(runes) == 0 {
		return 0
	}
	freq := make(map[rune]int, len(runes))
	for _, r := range runes {
		freq[r]++
	}
	if len(freq) <= 1 {
		return 0
	}
	n := float64(len(runes))
	h := 0.0
	for _, count := range freq {
		p := float64(count) / n
		h -= p * math.Log2(p)
	}
	return h / math.Log2(float64(len(freq)))
}
