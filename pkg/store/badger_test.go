package store

import (
	"context"
	"testing"
	"time"
)

func openTestBadger(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenBadger(t.TempDir(), nil, false)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenBadger(dir, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	err = s.Put(ctx, TableKnowledge, rec("a", "u1", "title", "body", []float32{1, 0}, time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenBadger(dir, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, TableKnowledge, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "body" {
		t.Errorf("content lost across reopen: %q", got.Content)
	}
	// The rebuilt mirror serves searches.
	hits, err := reopened.ANN(ctx, TableKnowledge, []float32{1, 0}, 5, nil)
	if err != nil || len(hits) != 1 {
		t.Errorf("mirror not rebuilt: %v %d", err, len(hits))
	}
}

func TestBadgerStore_TxCommitsAtomically(t *testing.T) {
	s := openTestBadger(t)
	ctx := context.Background()

	err := s.Tx(ctx, func(tx Tx) error {
		if err := tx.Put(TableEpisodes, rec("e1", "u1", "", "snapshot", nil, time.Now())); err != nil {
			return err
		}
		return tx.Put(TableAudit, rec("a1", "u1", "", "episodized", nil, time.Now()))
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, TableEpisodes, "e1"); err != nil {
		t.Error("episode missing after commit")
	}
	if _, err := s.Get(ctx, TableAudit, "a1"); err != nil {
		t.Error("audit row missing after commit")
	}
}
