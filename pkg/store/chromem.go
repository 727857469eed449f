package store

import (
	"context"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/mnemos/mnemos/pkg/errs"
)

// ChromemStore is the embedded-vector-database VectorStore variant: ANN
// queries run against chromem-go collections (one per table), while
// records, lexical search, scans, and transactions are served by the
// in-memory core. Useful when the engine should lean on a real vector
// index without an external store process.
type ChromemStore struct {
	mu   sync.Mutex
	db   *chromem.DB
	cols map[string]*chromem.Collection
	core *MemStore
}

// NewChromemStore creates an empty chromem-backed store.
func NewChromemStore(dims map[string]int) *ChromemStore {
	return &ChromemStore{
		db:   chromem.NewDB(),
		cols: make(map[string]*chromem.Collection),
		core: NewMemStore(dims),
	}
}

func (s *ChromemStore) collection(table string) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.cols[table]; ok {
		return col, nil
	}
	// Embeddings are always provided by the caller, so no embedding func.
	col, err := s.db.CreateCollection(table, nil, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "store.chromem", err)
	}
	s.cols[table] = col
	return col, nil
}

func (s *ChromemStore) indexVector(ctx context.Context, table string, rec *Record) error {
	if len(rec.Embedding) == 0 {
		return nil
	}
	col, err := s.collection(table)
	if err != nil {
		return err
	}
	return errs.Wrap(errs.KindInternal, "store.chromem", col.AddDocument(ctx, chromem.Document{
		ID:        rec.ID,
		Content:   rec.Content,
		Embedding: rec.Embedding,
		Metadata:  map[string]string{"user_id": rec.UserID},
	}))
}

func (s *ChromemStore) dropVector(ctx context.Context, table, id string) error {
	s.mu.Lock()
	col, ok := s.cols[table]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return errs.Wrap(errs.KindInternal, "store.chromem", col.Delete(ctx, nil, nil, id))
}

// Put writes the record and (re)indexes its embedding.
func (s *ChromemStore) Put(ctx context.Context, table string, rec *Record) error {
	if err := s.core.Put(ctx, table, rec); err != nil {
		return err
	}
	return s.indexVector(ctx, table, rec)
}

// Update patches the record and refreshes the vector index.
func (s *ChromemStore) Update(ctx context.Context, table, id string, patch func(*Record) error) error {
	if err := s.core.Update(ctx, table, id, patch); err != nil {
		return err
	}
	rec, err := s.core.Get(ctx, table, id)
	if err != nil {
		return err
	}
	if err := s.dropVector(ctx, table, id); err != nil {
		return err
	}
	return s.indexVector(ctx, table, rec)
}

// Delete removes the record and its vector.
func (s *ChromemStore) Delete(ctx context.Context, table, id string) error {
	if err := s.core.Delete(ctx, table, id); err != nil {
		return err
	}
	return s.dropVector(ctx, table, id)
}

// Get reads from the core.
func (s *ChromemStore) Get(ctx context.Context, table, id string) (*Record, error) {
	return s.core.Get(ctx, table, id)
}

// ANN queries the chromem collection, over-fetching so the pushed-down
// predicate can filter before trimming to k.
func (s *ChromemStore) ANN(ctx context.Context, table string, embedding []float32, k int, pred Predicate) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	col, ok := s.cols[table]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	fetch := k * 4
	if fetch > count {
		fetch = count
	}
	results, err := col.QueryEmbedding(ctx, embedding, fetch, nil, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "store.chromem", err)
	}
	hits := make([]Hit, 0, len(results))
	for _, res := range results {
		rec, err := s.core.Get(ctx, table, res.ID)
		if err != nil {
			continue
		}
		if !match(pred, rec) {
			continue
		}
		sim := float64(res.Similarity)
		if sim < 0 {
			sim = 0
		}
		hits = append(hits, Hit{Record: rec, Score: sim})
	}
	sortHits(hits)
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Lex delegates to the core's BM25 index.
func (s *ChromemStore) Lex(ctx context.Context, table string, query string, k int, pred Predicate) ([]Hit, error) {
	return s.core.Lex(ctx, table, query, k, pred)
}

// Scan delegates to the core.
func (s *ChromemStore) Scan(ctx context.Context, table string, pred Predicate, opt ScanOptions) ([]*Record, error) {
	return s.core.Scan(ctx, table, pred, opt)
}

// Tx runs against the core, then replays vector index changes.
func (s *ChromemStore) Tx(ctx context.Context, fn func(tx Tx) error) error {
	var staged []txOp
	err := s.core.Tx(ctx, func(tx Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		staged = append(staged, tx.(*memTx).ops...)
		return nil
	})
	if err != nil {
		return err
	}
	for _, op := range staged {
		if op.rec == nil {
			if err := s.dropVector(ctx, op.table, op.id); err != nil {
				return err
			}
			continue
		}
		if err := s.dropVector(ctx, op.table, op.id); err != nil {
			return err
		}
		if err := s.indexVector(ctx, op.table, op.rec); err != nil {
			return err
		}
	}
	return nil
}

// Close releases nothing; chromem keeps everything in memory.
func (s *ChromemStore) Close() error { return nil }
