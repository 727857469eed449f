package episodic

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mnemos/mnemos/pkg/model"
	"github.com/mnemos/mnemos/pkg/store"
)

// auditRecord builds one append-only lifecycle audit row.
func auditRecord(action model.AuditAction, entityID, userID, detail string, at time.Time) *store.Record {
	ev := &model.AuditEvent{
		ID:        uuid.New().String(),
		Action:    action,
		EntityID:  entityID,
		UserID:    userID,
		Detail:    detail,
		CreatedAt: at,
	}
	payload, _ := json.Marshal(ev)
	return &store.Record{
		ID:        ev.ID,
		UserID:    userID,
		Content:   string(action),
		CreatedAt: at,
		Attrs: map[string]any{
			"action":    string(action),
			"entity_id": entityID,
		},
		Payload: payload,
	}
}

// AuditRecord exposes the audit row builder to the facade's invalidation
// trail.
func AuditRecord(action model.AuditAction, entityID, userID, detail string, at time.Time) *store.Record {
	return auditRecord(action, entityID, userID, detail, at)
}
