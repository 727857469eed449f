package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/mnemos/mnemos/pkg/errs"
)

// BadgerStore is the persistent VectorStore: rows live in Badger as JSON
// under "<table>/<id>", and a full in-memory mirror serves ANN, lexical,
// and scan queries. The mirror is rebuilt from Badger on open and kept
// write-through afterwards.
type BadgerStore struct {
	db     *badger.DB
	mirror *MemStore
}

// OpenBadger opens (or creates) a Badger-backed store at path and loads
// the mirror. dims pins embedding dimensions per table.
func OpenBadger(path string, dims map[string]int, syncWrites bool) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(syncWrites).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "store.open", err)
	}
	s := &BadgerStore{db: db, mirror: NewMemStore(dims)}
	if err := s.loadMirror(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewBadgerStore wraps an externally managed Badger DB.
func NewBadgerStore(db *badger.DB, dims map[string]int) (*BadgerStore, error) {
	s := &BadgerStore{db: db, mirror: NewMemStore(dims)}
	if err := s.loadMirror(); err != nil {
		return nil, err
	}
	return s, nil
}

func rowKey(table, id string) []byte {
	return []byte(table + "/" + id)
}

func (s *BadgerStore) loadMirror() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			slash := strings.IndexByte(key, '/')
			if slash < 0 {
				continue
			}
			table := key[:slash]
			var rec Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("store: decode %s: %w", key, err)
			}
			s.mirror.putLocked(table, &rec)
		}
		return nil
	})
}

func (s *BadgerStore) persist(table string, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "store.persist", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(rowKey(table, rec.ID), data)
	})
	return errs.Wrap(errs.KindTransient, "store.persist", err)
}

// Put writes through Badger then the mirror.
func (s *BadgerStore) Put(ctx context.Context, table string, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return errs.New(errs.KindValidation, "store.put", "record requires an id")
	}
	if err := s.mirror.checkDim(table, rec); err != nil {
		return err
	}
	if err := s.persist(table, rec); err != nil {
		return err
	}
	return s.mirror.Put(ctx, table, rec)
}

// Update patches the mirrored record and persists the result.
func (s *BadgerStore) Update(ctx context.Context, table, id string, patch func(*Record) error) error {
	cur, err := s.mirror.Get(ctx, table, id)
	if err != nil {
		return err
	}
	if err := patch(cur); err != nil {
		return err
	}
	cur.ID = id
	return s.Put(ctx, table, cur)
}

// Delete removes the row from Badger and the mirror.
func (s *BadgerStore) Delete(ctx context.Context, table, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(rowKey(table, id))
	})
	if err != nil {
		return errs.Wrap(errs.KindTransient, "store.delete", err)
	}
	return s.mirror.Delete(ctx, table, id)
}

// Get reads from the mirror.
func (s *BadgerStore) Get(ctx context.Context, table, id string) (*Record, error) {
	return s.mirror.Get(ctx, table, id)
}

// ANN delegates to the mirror.
func (s *BadgerStore) ANN(ctx context.Context, table string, embedding []float32, k int, pred Predicate) ([]Hit, error) {
	return s.mirror.ANN(ctx, table, embedding, k, pred)
}

// Lex delegates to the mirror.
func (s *BadgerStore) Lex(ctx context.Context, table string, query string, k int, pred Predicate) ([]Hit, error) {
	return s.mirror.Lex(ctx, table, query, k, pred)
}

// Scan delegates to the mirror.
func (s *BadgerStore) Scan(ctx context.Context, table string, pred Predicate, opt ScanOptions) ([]*Record, error) {
	return s.mirror.Scan(ctx, table, pred, opt)
}

// Tx stages writes against the mirror view, commits them to Badger in one
// write batch, then applies them to the mirror. Either every staged write
// lands or none does.
func (s *BadgerStore) Tx(ctx context.Context, fn func(tx Tx) error) error {
	s.mirror.mu.Lock()
	defer s.mirror.mu.Unlock()

	mtx := &memTx{store: s.mirror, overlay: make(map[string]map[string]*Record)}
	if err := fn(mtx); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, op := range mtx.ops {
			if op.rec == nil {
				if err := txn.Delete(rowKey(op.table, op.id)); err != nil {
					return err
				}
				continue
			}
			data, err := json.Marshal(op.rec)
			if err != nil {
				return err
			}
			if err := txn.Set(rowKey(op.table, op.rec.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errs.Wrap(errs.KindTransient, "store.tx", err)
	}
	mtx.apply()
	return nil
}

// Close closes the underlying Badger DB.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
