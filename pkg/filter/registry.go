package filter

import "sync"

// TypeRegistry tracks the value kind of each queryable field path. Compile
// rejects leaves whose value kind does not match a declared or learned type.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]ValueKind

	// indexed marks fields backed by a store index; unbounded regexes are
	// refused on unindexed fields unless the compiler is told otherwise.
	indexed map[string]bool
}

// NewTypeRegistry creates an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		types:   make(map[string]ValueKind),
		indexed: make(map[string]bool),
	}
}

// Declare fixes the type of a field path.
func (r *TypeRegistry) Declare(field string, kind ValueKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[field] = kind
}

// DeclareIndexed fixes the type of a field path and marks it indexed.
func (r *TypeRegistry) DeclareIndexed(field string, kind ValueKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[field] = kind
	r.indexed[field] = true
}

// Learn records the type of a field the first time it is seen; an already
// declared field keeps its declared type.
func (r *TypeRegistry) Learn(field string, kind ValueKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[field]; !ok {
		r.types[field] = kind
	}
}

// KindOf returns the registered kind of a field path.
func (r *TypeRegistry) KindOf(field string) (ValueKind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.types[field]
	return k, ok
}

// Indexed reports whether a field path is backed by an index.
func (r *TypeRegistry) Indexed(field string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.indexed[field]
}

// CoreRegistry returns a registry pre-declared with the engine's storage
// schema: persona, knowledge, message, episode, and instance columns.
func CoreRegistry() *TypeRegistry {
	r := NewTypeRegistry()
	r.DeclareIndexed("id", KindString)
	r.DeclareIndexed("user_id", KindString)
	r.DeclareIndexed("category", KindString)
	r.Declare("title", KindString)
	r.Declare("content", KindString)
	r.DeclareIndexed("tags", KindArray)
	r.DeclareIndexed("importance", KindNumber)
	r.Declare("confidence", KindNumber)
	r.DeclareIndexed("created_at", KindTime)
	r.Declare("updated_at", KindTime)
	r.Declare("last_accessed_at", KindTime)
	r.DeclareIndexed("source_kind", KindString)
	r.DeclareIndexed("source_id", KindString)
	r.Declare("message_count", KindNumber)
	r.Declare("date_from", KindTime)
	r.Declare("date_to", KindTime)
	r.Declare("episodized", KindBool)
	r.Declare("episodized_at", KindTime)
	r.Declare("instancized_at", KindTime)
	r.Declare("compressed", KindBool)
	r.Declare("original_episode_id", KindString)
	r.Declare("conversation_id", KindString)
	r.Declare("role", KindString)
	return r
}