package engine

import (
	"encoding/json"

	"github.com/mnemos/mnemos/pkg/model"
	"github.com/mnemos/mnemos/pkg/store"
)

// knowledgeRecord encodes a knowledge item as a store row.
func knowledgeRecord(item *model.KnowledgeItem) *store.Record {
	payload, _ := json.Marshal(item)
	return &store.Record{
		ID:             item.ID,
		UserID:         item.UserID,
		Title:          item.Title,
		Content:        item.Content,
		Tags:           item.Tags,
		Metadata:       item.Metadata,
		Importance:     item.Importance,
		Confidence:     item.Confidence,
		Embedding:      item.Embedding,
		CreatedAt:      item.CreatedAt,
		UpdatedAt:      item.UpdatedAt,
		LastAccessedAt: item.LastAccessedAt,
		Attrs:          map[string]any{"category": string(item.Category)},
		Payload:        payload,
	}
}

func knowledgeFromRecord(rec *store.Record) (*model.KnowledgeItem, error) {
	var item model.KnowledgeItem
	if err := rec.UnmarshalPayload(&item); err != nil {
		return nil, err
	}
	return &item, nil
}

// personaRecord encodes a persona; the row id is the user id since there
// is at most one persona per user.
func personaRecord(p *model.Persona) *store.Record {
	payload, _ := json.Marshal(p)
	return &store.Record{
		ID:        p.UserID,
		UserID:    p.UserID,
		Content:   p.RawContent,
		Embedding: p.Embedding,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
		Payload:   payload,
	}
}

func personaFromRecord(rec *store.Record) (*model.Persona, error) {
	var p model.Persona
	if err := rec.UnmarshalPayload(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// personaCacheFields flattens a persona into the cache hash snapshot.
func personaCacheFields(p *model.Persona) map[string]string {
	payload, _ := json.Marshal(p)
	return map[string]string{
		"user_id": p.UserID,
		"name":    p.Name,
		"payload": string(payload),
	}
}

func personaFromCacheFields(fields map[string]string) (*model.Persona, bool) {
	raw, ok := fields["payload"]
	if !ok {
		return nil, false
	}
	var p model.Persona
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, false
	}
	return &p, true
}
