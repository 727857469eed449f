package capability

import "context"

// Layer names the memory layer a piece of text routes to.
type Layer string

const (
	LayerPersona   Layer = "persona"
	LayerKnowledge Layer = "knowledge"
	LayerSkill     Layer = "skill"
	LayerProcess   Layer = "process"
	LayerEpisodic  Layer = "episodic"
)

// Classification is the routing decision for ingested text.
type Classification struct {
	Layer      Layer   `json:"layer"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// Classifier routes text to a memory layer. Optional: when absent the
// facade falls back to its rule-based router.
type Classifier interface {
	Classify(ctx context.Context, text, personaHint string) (Classification, error)
}
