package store

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/mnemos/mnemos/pkg/errs"
)

// MemStore is the in-memory VectorStore: the test backend, and the live
// mirror the Badger backend searches against.
type MemStore struct {
	mu     sync.RWMutex
	tables map[string]*memTable
	dims   map[string]int
}

type memTable struct {
	recs map[string]*Record
	lex  *lexIndex
}

// NewMemStore creates an empty in-memory store. dims optionally pins the
// embedding dimension per table; writes with a different dimension are
// rejected.
func NewMemStore(dims map[string]int) *MemStore {
	return &MemStore{
		tables: make(map[string]*memTable),
		dims:   dims,
	}
}

func (s *MemStore) table(name string) *memTable {
	t, ok := s.tables[name]
	if !ok {
		t = &memTable{recs: make(map[string]*Record), lex: newLexIndex()}
		s.tables[name] = t
	}
	return t
}

func (s *MemStore) checkDim(table string, rec *Record) error {
	want, ok := s.dims[table]
	if !ok || len(rec.Embedding) == 0 {
		return nil
	}
	if len(rec.Embedding) != want {
		return errs.Newf(errs.KindValidation, "store.put",
			"table %s expects embedding dimension %d, got %d", table, want, len(rec.Embedding))
	}
	return nil
}

// Put inserts or replaces a record.
func (s *MemStore) Put(ctx context.Context, table string, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return errs.New(errs.KindValidation, "store.put", "record requires an id")
	}
	if err := s.checkDim(table, rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(table, rec)
	return nil
}

func (s *MemStore) putLocked(table string, rec *Record) {
	t := s.table(table)
	cl := rec.Clone()
	t.recs[cl.ID] = cl
	t.lex.index(cl)
}

// Update applies a patch function to an existing record.
func (s *MemStore) Update(ctx context.Context, table, id string, patch func(*Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(table, id, patch)
}

func (s *MemStore) updateLocked(table, id string, patch func(*Record) error) error {
	t := s.table(table)
	cur, ok := t.recs[id]
	if !ok {
		return ErrNotFound
	}
	next := cur.Clone()
	if err := patch(next); err != nil {
		return err
	}
	next.ID = id
	if err := s.checkDim(table, next); err != nil {
		return err
	}
	t.recs[id] = next
	t.lex.index(next)
	return nil
}

// Delete removes a record. Deleting a missing record is not an error.
func (s *MemStore) Delete(ctx context.Context, table, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(table, id)
	return nil
}

func (s *MemStore) deleteLocked(table, id string) {
	t := s.table(table)
	if _, ok := t.recs[id]; ok {
		delete(t.recs, id)
		t.lex.remove(id)
	}
}

// Get returns a copy of a record by id.
func (s *MemStore) Get(ctx context.Context, table, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.table(table)
	rec, ok := t.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// ANN returns the top-k rows by cosine similarity among rows matching pred.
func (s *MemStore) ANN(ctx context.Context, table string, embedding []float32, k int, pred Predicate) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.table(table)

	hits := make([]Hit, 0, len(t.recs))
	for _, rec := range t.recs {
		if len(rec.Embedding) == 0 || !match(pred, rec) {
			continue
		}
		sim := CosineSimilarity(embedding, rec.Embedding)
		if sim < 0 {
			sim = 0
		}
		hits = append(hits, Hit{Record: rec.Clone(), Score: sim})
	}
	sortHits(hits)
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Lex returns the top-k rows by BM25 relevance among rows matching pred.
func (s *MemStore) Lex(ctx context.Context, table string, query string, k int, pred Predicate) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.table(table)

	scores := t.lex.search(query, func(id string) bool {
		rec, ok := t.recs[id]
		return ok && match(pred, rec)
	})
	hits := make([]Hit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, Hit{Record: t.recs[id].Clone(), Score: score})
	}
	sortHits(hits)
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Scan returns rows matching pred, ordered and paged.
func (s *MemStore) Scan(ctx context.Context, table string, pred Predicate, opt ScanOptions) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.table(table)

	out := make([]*Record, 0, len(t.recs))
	for _, rec := range t.recs {
		if match(pred, rec) {
			out = append(out, rec.Clone())
		}
	}
	orderRecords(out, opt)
	if opt.Offset > 0 {
		if opt.Offset >= len(out) {
			return nil, nil
		}
		out = out[opt.Offset:]
	}
	if opt.Limit > 0 && opt.Limit < len(out) {
		out = out[:opt.Limit]
	}
	return out, nil
}

// Tx stages writes through a transaction view and applies them atomically.
func (s *MemStore) Tx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{store: s, overlay: make(map[string]map[string]*Record)}
	if err := fn(tx); err != nil {
		return err
	}
	tx.apply()
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemStore) Close() error { return nil }

// --- transaction view ---

type txOp struct {
	table  string
	rec    *Record // nil means delete
	id     string
}

type memTx struct {
	store   *MemStore
	ops     []txOp
	overlay map[string]map[string]*Record // staged state, nil value = deleted
}

func (tx *memTx) stage(table string, id string, rec *Record) {
	if tx.overlay[table] == nil {
		tx.overlay[table] = make(map[string]*Record)
	}
	tx.overlay[table][id] = rec
	tx.ops = append(tx.ops, txOp{table: table, rec: rec, id: id})
}

func (tx *memTx) Put(table string, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return errs.New(errs.KindValidation, "store.tx", "record requires an id")
	}
	if err := tx.store.checkDim(table, rec); err != nil {
		return err
	}
	tx.stage(table, rec.ID, rec.Clone())
	return nil
}

func (tx *memTx) Get(table, id string) (*Record, error) {
	if staged, ok := tx.overlay[table][id]; ok {
		if staged == nil {
			return nil, ErrNotFound
		}
		return staged.Clone(), nil
	}
	t := tx.store.table(table)
	rec, ok := t.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (tx *memTx) Update(table, id string, patch func(*Record) error) error {
	cur, err := tx.Get(table, id)
	if err != nil {
		return err
	}
	if err := patch(cur); err != nil {
		return err
	}
	cur.ID = id
	if err := tx.store.checkDim(table, cur); err != nil {
		return err
	}
	tx.stage(table, id, cur)
	return nil
}

func (tx *memTx) Delete(table, id string) error {
	tx.stage(table, id, nil)
	return nil
}

func (tx *memTx) apply() {
	for _, op := range tx.ops {
		if op.rec == nil {
			tx.store.deleteLocked(op.table, op.id)
		} else {
			tx.store.putLocked(op.table, op.rec)
		}
	}
}

// --- ordering helpers ---

// sortHits orders by score descending, then recency, then id, so equal
// store states always produce equal orderings.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].Record.CreatedAt.Equal(hits[j].Record.CreatedAt) {
			return hits[i].Record.CreatedAt.After(hits[j].Record.CreatedAt)
		}
		return hits[i].Record.ID < hits[j].Record.ID
	})
}

func orderRecords(recs []*Record, opt ScanOptions) {
	less := func(i, j int) bool {
		a, b := recs[i], recs[j]
		switch opt.OrderBy {
		case "importance":
			if a.Importance != b.Importance {
				return a.Importance < b.Importance
			}
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
		case "id":
			return a.ID < b.ID
		default:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
		}
		return a.ID < b.ID
	}
	if opt.Desc {
		sort.SliceStable(recs, func(i, j int) bool { return less(j, i) })
	} else {
		sort.SliceStable(recs, less)
	}
}

// CosineSimilarity computes the cosine similarity of two vectors; zero for
// mismatched lengths or zero norms.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
