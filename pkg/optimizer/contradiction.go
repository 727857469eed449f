package optimizer

import (
	"context"
	"strings"

	"github.com/mnemos/mnemos/pkg/store"
)

// negationMarkers are the surface patterns the heuristic keys on.
var negationMarkers = []string{
	"not ", "no ", "never ", "n't ", "cannot ", "without ",
	"offline", "disabled", "false", "unavailable", "inactive",
}

// contradictions flags pairs whose similarity falls inside the
// contradiction band and that disagree per the NLI capability or the
// negation-pattern heuristic. Both members are flagged and
// cross-referenced; neither is dropped.
func (o *Optimizer) contradictions(ctx context.Context, _ string, cands []*Candidate, stats *Stats) []*Candidate {
	for i := 0; i < len(cands); i++ {
		if len(cands[i].Embedding) == 0 {
			continue
		}
		for j := i + 1; j < len(cands); j++ {
			if len(cands[j].Embedding) == 0 {
				continue
			}
			sim := store.CosineSimilarity(cands[i].Embedding, cands[j].Embedding)
			if sim < o.cfg.ContradictionLow || sim > o.cfg.ContradictionHigh {
				continue
			}
			if !o.pairContradicts(ctx, cands[i].Content, cands[j].Content) {
				continue
			}
			if !cands[i].HasContradiction || !cands[j].HasContradiction {
				stats.ContradictionCount++
			}
			cands[i].HasContradiction = true
			cands[j].HasContradiction = true
			cands[i].ContradictsWith = append(cands[i].ContradictsWith, j)
			cands[j].ContradictsWith = append(cands[j].ContradictsWith, i)
		}
	}
	return cands
}

func (o *Optimizer) pairContradicts(ctx context.Context, a, b string) bool {
	if o.nli != nil {
		verdict, err := o.nli.Contradicts(ctx, a, b)
		if err == nil {
			return verdict
		}
		o.logger.Warn("nli capability failed, using heuristic", "error", err)
	}
	// XOR of negation patterns: similar statements where exactly one side
	// negates are treated as contradictory.
	return hasNegation(a) != hasNegation(b)
}

func hasNegation(text string) bool {
	t := " " + strings.ToLower(text) + " "
	for _, marker := range negationMarkers {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}
