// Package store defines the vector store contract the engine persists
// against — keyed rows with embeddings, approximate nearest-neighbor and
// field-weighted lexical search, filtered scans, and bounded transactions —
// together with three backends: a pure in-memory store for tests, a
// Badger-backed persistent store, and a chromem-go-backed variant.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mnemos/mnemos/pkg/errs"
)

// Logical tables. Every backend serves the same set.
const (
	TablePersona           = "user_persona"
	TableKnowledge         = "knowledge_base"
	TableSuperChats        = "super_chat"
	TableSuperChatMessages = "super_chat_messages"
	TableDeepDives         = "deepdive_conversations"
	TableDeepDiveMessages  = "deepdive_messages"
	TableEpisodes          = "episodes"
	TableInstances         = "instances"
	TableAudit             = "lifecycle_audit"
)

// Record is one stored row. The typed columns cover every field the
// engine filters or ranks on; Attrs carries entity-specific scalar
// columns (episodized flags, source ids) and Payload the full entity
// snapshot.
type Record struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Title          string          `json:"title,omitempty"`
	Content        string          `json:"content,omitempty"`
	Tags           []string        `json:"tags,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	Importance     float64         `json:"importance,omitempty"`
	Confidence     float64         `json:"confidence,omitempty"`
	Embedding      []float32       `json:"embedding,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at,omitempty"`
	LastAccessedAt time.Time       `json:"last_accessed_at,omitempty"`
	Attrs          map[string]any  `json:"attrs,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Fields exposes the record as a document for predicate evaluation.
func (r *Record) Fields() map[string]any {
	f := map[string]any{
		"id":         r.ID,
		"user_id":    r.UserID,
		"title":      r.Title,
		"content":    r.Content,
		"importance": r.Importance,
		"confidence": r.Confidence,
		"created_at": r.CreatedAt,
		"updated_at": r.UpdatedAt,
	}
	if !r.LastAccessedAt.IsZero() {
		f["last_accessed_at"] = r.LastAccessedAt
	}
	if r.Tags != nil {
		f["tags"] = r.Tags
	}
	if r.Metadata != nil {
		f["metadata"] = r.Metadata
	}
	for k, v := range r.Attrs {
		f[k] = v
	}
	return f
}

// Clone returns a shallow-data deep-structure copy safe to hand to callers.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Tags = append([]string(nil), r.Tags...)
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	if r.Attrs != nil {
		out.Attrs = make(map[string]any, len(r.Attrs))
		for k, v := range r.Attrs {
			out.Attrs[k] = v
		}
	}
	out.Embedding = append([]float32(nil), r.Embedding...)
	return &out
}

// UnmarshalPayload decodes the entity snapshot carried by the record.
func (r *Record) UnmarshalPayload(v any) error {
	return json.Unmarshal(r.Payload, v)
}

// Predicate is a compiled filter evaluated against record fields.
// filter.Compiled satisfies it; nil matches everything.
type Predicate interface {
	Eval(fields map[string]any) bool
}

func match(p Predicate, r *Record) bool {
	if p == nil {
		return true
	}
	return p.Eval(r.Fields())
}

// Hit is a scored search result. ANN scores are cosine similarities in
// [0, 1]; Lex scores are raw BM25 relevance and are not normalized.
type Hit struct {
	Record *Record
	Score  float64
}

// ScanOptions page and order filter-only queries.
type ScanOptions struct {
	Limit  int
	Offset int

	// OrderBy is one of "created_at", "importance", "id". Empty means
	// "created_at".
	OrderBy string
	Desc    bool
}

// Tx is a bounded transaction. Operations stage and apply atomically when
// the transaction function returns nil.
type Tx interface {
	Put(table string, rec *Record) error
	Update(table, id string, patch func(*Record) error) error
	Delete(table, id string) error
	Get(table, id string) (*Record, error)
}

// VectorStore is the persistence contract: keyed rows, ANN by cosine
// similarity, field-weighted lexical relevance (title over content over
// tags), filtered scans, and transactions.
type VectorStore interface {
	Put(ctx context.Context, table string, rec *Record) error
	Update(ctx context.Context, table, id string, patch func(*Record) error) error
	Delete(ctx context.Context, table, id string) error
	Get(ctx context.Context, table, id string) (*Record, error)

	// ANN returns the top-k rows by cosine similarity among rows matching
	// the predicate. Similarities are clamped to [0, 1].
	ANN(ctx context.Context, table string, embedding []float32, k int, pred Predicate) ([]Hit, error)

	// Lex returns the top-k rows by BM25 relevance over weighted fields
	// among rows matching the predicate.
	Lex(ctx context.Context, table string, query string, k int, pred Predicate) ([]Hit, error)

	// Scan returns rows matching the predicate, paged and ordered.
	Scan(ctx context.Context, table string, pred Predicate, opt ScanOptions) ([]*Record, error)

	// Tx runs fn inside a transaction; all staged writes commit atomically
	// or not at all.
	Tx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// ErrNotFound is returned for missing rows.
var ErrNotFound = errs.New(errs.KindNotFound, "store", "record not found")
