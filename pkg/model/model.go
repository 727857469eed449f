// Package model defines the persistent entities of the layered memory
// engine: personas and knowledge items on the semantic side, conversations,
// messages, episodes, and instances on the episodic side.
package model

import "time"

// Category classifies a knowledge item.
type Category string

const (
	CategoryKnowledge Category = "knowledge"
	CategorySkill     Category = "skill"
	CategoryProcess   Category = "process"
	CategoryOther     Category = "other"
)

// Role is a chat message author role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// SourceKind discriminates the two conversation shapes.
type SourceKind string

const (
	SourceSuperChat SourceKind = "super_chat"
	SourceDeepDive  SourceKind = "deep_dive"
)

// Persona is the per-user profile used to contextualize retrievals.
type Persona struct {
	UserID      string         `json:"user_id"`
	Name        string         `json:"name,omitempty"`
	Preferences map[string]any `json:"preferences,omitempty"`
	Interests   []string       `json:"interests,omitempty"`
	Expertise   []string       `json:"expertise,omitempty"`
	RawContent  string         `json:"raw_content,omitempty"`
	Embedding   []float32      `json:"embedding,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// KnowledgeItem is a long-lived factual record.
type KnowledgeItem struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	Category       Category       `json:"category"`
	Title          string         `json:"title,omitempty"`
	Content        string         `json:"content"`
	Tags           []string       `json:"tags,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Importance     float64        `json:"importance"`
	Confidence     float64        `json:"confidence"`
	Embedding      []float32      `json:"embedding,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	LastAccessedAt time.Time      `json:"last_accessed_at,omitempty"`
}

// ChatMessage is one turn in a conversation. Immutable after write except
// for the episodized flag and its timestamp.
type ChatMessage struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	UserID         string     `json:"user_id"`
	Role           Role       `json:"role"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"created_at"`
	Episodized     bool       `json:"episodized"`
	EpisodizedAt   *time.Time `json:"episodized_at,omitempty"`
}

// Conversation is a message container: the per-user SuperChat timeline or
// a per-topic DeepDive thread.
type Conversation struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Kind      SourceKind `json:"kind"`
	Title     string     `json:"title,omitempty"`
	TenantID  string     `json:"tenant_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// MessageSnapshot is the frozen form of a message inside an episode.
type MessageSnapshot struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Episode is a consolidated run of messages from one conversation.
type Episode struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	TenantID     string            `json:"tenant_id,omitempty"`
	SourceKind   SourceKind        `json:"source_kind"`
	SourceID     string            `json:"source_id"`
	Messages     []MessageSnapshot `json:"messages"`
	MessageCount int               `json:"message_count"`
	DateFrom     time.Time         `json:"date_from"`
	DateTo       time.Time         `json:"date_to"`
	Embedding    []float32         `json:"embedding,omitempty"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Importance   float64           `json:"importance"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Instance is an archived episode past the retention window. An episode
// and its instance never coexist.
type Instance struct {
	Episode
	OriginalEpisodeID string    `json:"original_episode_id"`
	InstancizedAt     time.Time `json:"instancized_at"`
	Compressed        bool      `json:"compressed"`
	CompressedBlob    []byte    `json:"compressed_blob,omitempty"`
}

// AuditAction names a lifecycle audit event.
type AuditAction string

const (
	AuditEpisodized  AuditAction = "episodized"
	AuditInstancized AuditAction = "instancized"
	AuditCompressed  AuditAction = "compressed"
	AuditInvalidated AuditAction = "invalidated"
	AuditSkipped     AuditAction = "skipped"
)

// AuditEvent is one append-only lifecycle record.
type AuditEvent struct {
	ID        string      `json:"id"`
	Action    AuditAction `json:"action"`
	EntityID  string      `json:"entity_id"`
	UserID    string      `json:"user_id"`
	Detail    string      `json:"detail,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Clamp01 clamps scores, importance, and confidence into [0, 1].
func Clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
