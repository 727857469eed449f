package episodic

import (
	"encoding/json"
	"strings"

	"github.com/mnemos/mnemos/pkg/model"
	"github.com/mnemos/mnemos/pkg/store"
)

// MessageRecord encodes a chat message as a store row. The filterable
// lifecycle columns ride in Attrs; the full entity in Payload.
func MessageRecord(msg *model.ChatMessage) *store.Record {
	payload, _ := json.Marshal(msg)
	attrs := map[string]any{
		"conversation_id": msg.ConversationID,
		"role":            string(msg.Role),
		"episodized":      msg.Episodized,
	}
	if msg.EpisodizedAt != nil {
		attrs["episodized_at"] = *msg.EpisodizedAt
	}
	return &store.Record{
		ID:        msg.ID,
		UserID:    msg.UserID,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
		Attrs:     attrs,
		Payload:   payload,
	}
}

// MessageFromRecord decodes a chat message row.
func MessageFromRecord(rec *store.Record) (*model.ChatMessage, error) {
	var msg model.ChatMessage
	if err := json.Unmarshal(rec.Payload, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ConversationRecord encodes a conversation row.
func ConversationRecord(conv *model.Conversation) *store.Record {
	payload, _ := json.Marshal(conv)
	return &store.Record{
		ID:        conv.ID,
		UserID:    conv.UserID,
		Title:     conv.Title,
		CreatedAt: conv.CreatedAt,
		Attrs: map[string]any{
			"source_kind": string(conv.Kind),
			"tenant_id":   conv.TenantID,
		},
		Payload: payload,
	}
}

// EpisodeRecord encodes an episode row. Content carries the concatenated
// snapshot text so episodes participate in lexical search.
func EpisodeRecord(ep *model.Episode) *store.Record {
	payload, _ := json.Marshal(ep)
	return &store.Record{
		ID:         ep.ID,
		UserID:     ep.UserID,
		Content:    episodeText(ep.Messages),
		Tags:       ep.Tags,
		Metadata:   ep.Metadata,
		Importance: ep.Importance,
		Embedding:  ep.Embedding,
		CreatedAt:  ep.CreatedAt,
		Attrs: map[string]any{
			"source_kind":   string(ep.SourceKind),
			"source_id":     ep.SourceID,
			"message_count": ep.MessageCount,
			"date_from":     ep.DateFrom,
			"date_to":       ep.DateTo,
			"tenant_id":     ep.TenantID,
		},
		Payload: payload,
	}
}

// EpisodeFromRecord decodes an episode row.
func EpisodeFromRecord(rec *store.Record) (*model.Episode, error) {
	var ep model.Episode
	if err := json.Unmarshal(rec.Payload, &ep); err != nil {
		return nil, err
	}
	return &ep, nil
}

// InstanceRecord encodes an archived episode.
func InstanceRecord(inst *model.Instance) *store.Record {
	rec := EpisodeRecord(&inst.Episode)
	payload, _ := json.Marshal(inst)
	rec.Payload = payload
	rec.Attrs["original_episode_id"] = inst.OriginalEpisodeID
	rec.Attrs["instancized_at"] = inst.InstancizedAt
	rec.Attrs["compressed"] = inst.Compressed
	return rec
}

// InstanceFromRecord decodes an instance row.
func InstanceFromRecord(rec *store.Record) (*model.Instance, error) {
	var inst model.Instance
	if err := json.Unmarshal(rec.Payload, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// episodeText joins non-empty snapshot contents with single spaces.
func episodeText(msgs []model.MessageSnapshot) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if s := strings.TrimSpace(m.Content); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// sampleForEmbedding bounds the embedding input: when the concatenation
// exceeds maxChars, messages are sampled evenly across the group.
func sampleForEmbedding(msgs []model.MessageSnapshot, maxChars int) string {
	full := episodeText(msgs)
	if maxChars <= 0 || len(full) <= maxChars {
		return full
	}
	for stride := 2; stride <= len(msgs); stride++ {
		var sampled []model.MessageSnapshot
		for i := 0; i < len(msgs); i += stride {
			sampled = append(sampled, msgs[i])
		}
		text := episodeText(sampled)
		if len(text) <= maxChars {
			return text
		}
	}
	runes := []rune(full)
	if len(runes) > maxChars {
		runes = runes[:maxChars]
	}
	return string(runes)
}

// messageTables maps a source kind onto its message and conversation tables.
func messageTables(kind model.SourceKind) (msgTable, convTable string) {
	if kind == model.SourceDeepDive {
		return store.TableDeepDiveMessages, store.TableDeepDives
	}
	return store.TableSuperChatMessages, store.TableSuperChats
}
