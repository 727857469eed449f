package cache

import (
	"context"
	"testing"
	"time"
)

func testCache() (*MemoryCache, func(time.Duration)) {
	c := NewMemoryCache()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	advance := func(d time.Duration) { now = now.Add(d) }
	return c, advance
}

func TestMemoryCache_SetGetTTL(t *testing.T) {
	c, advance := testCache()
	ctx := context.Background()

	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := c.Get(ctx, "k"); !ok || v != "v" {
		t.Fatalf("expected hit, got %v %q", ok, v)
	}
	advance(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("expired key still readable")
	}
}

func TestMemoryCache_SetNX(t *testing.T) {
	c, advance := testCache()
	ctx := context.Background()

	ok, _ := c.SetNX(ctx, "k", "first", time.Minute)
	if !ok {
		t.Fatal("first SetNX should win")
	}
	ok, _ = c.SetNX(ctx, "k", "second", time.Minute)
	if ok {
		t.Fatal("second SetNX should lose")
	}
	advance(2 * time.Minute)
	ok, _ = c.SetNX(ctx, "k", "third", time.Minute)
	if !ok {
		t.Fatal("SetNX after expiry should win")
	}
}

func TestMemoryCache_HashAndExpire(t *testing.T) {
	c, advance := testCache()
	ctx := context.Background()

	_ = c.HSet(ctx, "h", map[string]string{"a": "1", "b": "2"}, time.Minute)
	fields, ok, _ := c.HGetAll(ctx, "h")
	if !ok || fields["a"] != "1" || fields["b"] != "2" {
		t.Fatalf("hash mismatch: %v", fields)
	}
	_ = c.Expire(ctx, "h", 10*time.Minute)
	advance(5 * time.Minute)
	if _, ok, _ := c.HGetAll(ctx, "h"); !ok {
		t.Error("refreshed TTL should keep the hash alive")
	}
}

func TestMemoryCache_SortedSet(t *testing.T) {
	c, _ := testCache()
	ctx := context.Background()

	_ = c.ZIncrBy(ctx, "z", "a", 1)
	_ = c.ZIncrBy(ctx, "z", "a", 2)
	_ = c.ZIncrBy(ctx, "z", "b", 1)
	scores, _ := c.ZScores(ctx, "z")
	if scores["a"] != 3 || scores["b"] != 1 {
		t.Fatalf("scores: %v", scores)
	}
	_ = c.ZRem(ctx, "z", "a")
	scores, _ = c.ZScores(ctx, "z")
	if _, ok := scores["a"]; ok {
		t.Error("removed member still present")
	}
}

func TestMemoryCache_PrefixOps(t *testing.T) {
	c, _ := testCache()
	ctx := context.Background()

	_ = c.Set(ctx, "query:u1:a", "1", 0)
	_ = c.Set(ctx, "query:u1:b", "2", 0)
	_ = c.Set(ctx, "query:u2:a", "3", 0)

	keys, _ := c.ScanPrefix(ctx, "query:u1:")
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %v", keys)
	}
	n, _ := c.DelPrefix(ctx, "query:u1:")
	if n != 2 {
		t.Fatalf("expected 2 deletions, got %d", n)
	}
	if _, ok, _ := c.Get(ctx, "query:u2:a"); !ok {
		t.Error("unrelated key deleted")
	}
}
