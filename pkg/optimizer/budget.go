package optimizer

import (
	"context"
	"sort"
	"strings"
)

// estimateTokens approximates token counts at four characters per token.
func estimateTokens(text string) int {
	n := len([]rune(text))
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// enforceBudget accumulates entries in descending score order until the
// token budget would be exceeded. The first overflowing entry is truncated
// at the nearest sentence boundary; the rest are discarded.
func (o *Optimizer) enforceBudget(_ context.Context, _ string, cands []*Candidate, stats *Stats) []*Candidate {
	budget := o.cfg.MaxContextTokens
	if budget <= 0 {
		stats.RemovedBudget += len(cands)
		return []*Candidate{}
	}

	ordered := append([]*Candidate(nil), cands...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Score > ordered[j].Score })

	used := 0
	out := make([]*Candidate, 0, len(ordered))
	for i, c := range ordered {
		tokens := estimateTokens(c.Content)
		if used+tokens <= budget {
			used += tokens
			out = append(out, c)
			continue
		}
		remaining := budget - used
		if truncated := truncateAtSentence(c.Content, remaining); truncated != "" {
			c.Content = truncated
			c.Compressed = true
			out = append(out, c)
		} else {
			stats.RemovedBudget++
		}
		stats.RemovedBudget += len(ordered) - i - 1
		break
	}
	return out
}

// truncateAtSentence keeps whole sentences fitting in the token budget;
// empty when not even the first sentence fits.
func truncateAtSentence(text string, budgetTokens int) string {
	if budgetTokens <= 0 {
		return ""
	}
	sentences := splitSentences(text)
	used := 0
	var kept []string
	for _, s := range sentences {
		tokens := estimateTokens(s)
		if used+tokens > budgetTokens {
			break
		}
		used += tokens
		kept = append(kept, s)
	}
	return strings.Join(kept, " ")
}
