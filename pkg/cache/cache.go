// Package cache defines the ephemeral cache contract — KV with TTLs,
// hashes, sorted sets, and prefix scans — with Redis and in-memory
// backends. The engine treats every cache as best-effort: callers wrap
// each call in a store-fallback path and never surface cache failures.
package cache

import (
	"context"
	"time"
)

// Cache is the minimal surface the semantic cache layer needs.
type Cache interface {
	// Get returns the value and whether the key existed.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores a value with a TTL. A zero TTL means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX stores the value only if the key is absent; reports whether it
	// was stored.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Del removes keys. Missing keys are ignored.
	Del(ctx context.Context, keys ...string) error

	// Expire refreshes a key's TTL.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// HSet stores hash fields and applies a TTL to the key.
	HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error

	// HGetAll returns all hash fields and whether the key existed.
	HGetAll(ctx context.Context, key string) (map[string]string, bool, error)

	// ZIncrBy increments a sorted-set member's score.
	ZIncrBy(ctx context.Context, key, member string, delta float64) error

	// ZScores returns every member with its score.
	ZScores(ctx context.Context, key string) (map[string]float64, error)

	// ZRem removes sorted-set members.
	ZRem(ctx context.Context, key string, members ...string) error

	// ScanPrefix returns every key with the prefix.
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)

	// DelPrefix removes every key with the prefix, batched, and returns
	// the number deleted.
	DelPrefix(ctx context.Context, prefix string) (int, error)

	Close() error
}
