// Package semcache implements the per-user semantic cache layer: persona
// snapshots, ranked query results with semantic-match lookups over stored
// query embeddings, and short-lived input fingerprints. Every operation is
// best-effort: failures degrade to the store path and are logged once per
// transition, never surfaced.
package semcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/mnemos/mnemos/pkg/cache"
	"github.com/mnemos/mnemos/pkg/store"
)

// HitKind reports how a cache lookup was satisfied.
type HitKind string

const (
	HitNone     HitKind = ""
	HitExact    HitKind = "exact"
	HitSemantic HitKind = "semantic"
)

// Config tunes the cache layer. Zero fields take defaults.
type Config struct {
	PersonaTTL      time.Duration
	QueryTTL        time.Duration
	InputTTL        time.Duration
	Threshold       float64 // min cosine similarity for a semantic hit
	MaxQueryPerUser int
}

func (c Config) withDefaults() Config {
	if c.PersonaTTL <= 0 {
		c.PersonaTTL = time.Hour
	}
	if c.QueryTTL <= 0 {
		c.QueryTTL = 30 * time.Minute
	}
	if c.InputTTL <= 0 {
		c.InputTTL = 5 * time.Minute
	}
	if c.Threshold == 0 {
		c.Threshold = 0.85
	}
	if c.Threshold < 0.80 {
		c.Threshold = 0.80
	}
	if c.Threshold > 0.95 {
		c.Threshold = 0.95
	}
	if c.MaxQueryPerUser <= 0 {
		c.MaxQueryPerUser = 10
	}
	return c
}

// QueryEntry is one cached query result with the embedding that produced
// it, so semantic-match lookups need no re-embedding.
type QueryEntry struct {
	Fingerprint string          `json:"fingerprint"`
	Query       string          `json:"query"`
	Embedding   []float32       `json:"embedding,omitempty"`
	Results     json.RawMessage `json:"results"`
	CreatedAt   time.Time       `json:"created_at"`
}

type logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

// SemanticCache is the cache layer facade.
type SemanticCache struct {
	cache    cache.Cache
	inputs   *ristretto.Cache
	cfg      Config
	logger   logger
	degraded atomic.Bool
}

// New creates the cache layer over a backend cache.
func New(backend cache.Cache, cfg Config, log logger) (*SemanticCache, error) {
	if log == nil {
		log = nopLogger{}
	}
	inputs, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1 << 16,
		MaxCost:     1 << 22,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &SemanticCache{
		cache:  backend,
		inputs: inputs,
		cfg:    cfg.withDefaults(),
		logger: log,
	}, nil
}

func personaKey(user string) string    { return "persona:" + user }
func queryKey(user, fp string) string  { return "query:" + user + ":" + fp }
func queryPrefix(user string) string   { return "query:" + user + ":" }
func queryIndexKey(user string) string { return "queryidx:" + user }
func inputKey(user, fp string) string  { return "input:" + user + ":" + fp }

// Fingerprint builds the stable key for a query: normalized query text
// plus the compiled filter clause and its bound arguments.
func Fingerprint(query, where string, args []any) string {
	norm := strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(query))), " ")
	h := sha256.New()
	h.Write([]byte(norm))
	h.Write([]byte{0})
	h.Write([]byte(where))
	for _, a := range args {
		fmt.Fprintf(h, "\x00%v", a)
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// fallback logs a cache failure once per degradation transition.
func (s *SemanticCache) fallback(op string, err error) {
	if err == nil {
		s.degraded.Store(false)
		return
	}
	if s.degraded.CompareAndSwap(false, true) {
		s.logger.Warn("cache degraded, falling back to store", "op", op, "error", err)
	}
}

// --- persona namespace ---

// GetPersona returns the cached persona snapshot fields.
func (s *SemanticCache) GetPersona(ctx context.Context, user string) (map[string]string, bool) {
	fields, ok, err := s.cache.HGetAll(ctx, personaKey(user))
	if err != nil {
		s.fallback("persona.get", err)
		return nil, false
	}
	return fields, ok
}

// SetPersona stores the persona snapshot.
func (s *SemanticCache) SetPersona(ctx context.Context, user string, fields map[string]string) {
	if err := s.cache.HSet(ctx, personaKey(user), fields, s.cfg.PersonaTTL); err != nil {
		s.fallback("persona.set", err)
	}
}

// --- query namespace ---

// GetQuery looks up a cached result: exact fingerprint first, then a
// semantic match over the user's stored query embeddings. Hits refresh
// TTLs and bump access counts.
func (s *SemanticCache) GetQuery(ctx context.Context, user, fp string, embedding []float32) (*QueryEntry, HitKind) {
	raw, ok, err := s.cache.Get(ctx, queryKey(user, fp))
	if err != nil {
		s.fallback("query.get", err)
		return nil, HitNone
	}
	if ok {
		var entry QueryEntry
		if err := json.Unmarshal([]byte(raw), &entry); err == nil {
			s.touch(ctx, user, fp)
			return &entry, HitExact
		}
	}
	if len(embedding) == 0 {
		return nil, HitNone
	}
	return s.semanticLookup(ctx, user, embedding)
}

// semanticLookup scans the user's query namespace and returns the best
// entry at or above the similarity threshold.
func (s *SemanticCache) semanticLookup(ctx context.Context, user string, embedding []float32) (*QueryEntry, HitKind) {
	keys, err := s.cache.ScanPrefix(ctx, queryPrefix(user))
	if err != nil {
		s.fallback("query.scan", err)
		return nil, HitNone
	}
	sort.Strings(keys)

	var best *QueryEntry
	bestSim := 0.0
	for _, key := range keys {
		raw, ok, err := s.cache.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		var entry QueryEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		sim := store.CosineSimilarity(embedding, entry.Embedding)
		if sim > bestSim {
			bestSim = sim
			e := entry
			best = &e
		}
	}
	if best == nil || bestSim < s.cfg.Threshold {
		return nil, HitNone
	}
	s.touch(ctx, user, best.Fingerprint)
	s.logger.Debug("semantic cache hit", "user", user, "similarity", bestSim)
	return best, HitSemantic
}

func (s *SemanticCache) touch(ctx context.Context, user, fp string) {
	if err := s.cache.ZIncrBy(ctx, queryIndexKey(user), fp, 1); err != nil {
		s.fallback("query.touch", err)
		return
	}
	_ = s.cache.Expire(ctx, queryKey(user, fp), s.cfg.QueryTTL)
	_ = s.cache.Expire(ctx, queryIndexKey(user), s.cfg.QueryTTL)
}

// PutQuery stores a result entry, evicting beyond the per-user cap: the
// entry with the lowest access count goes first, oldest on ties.
func (s *SemanticCache) PutQuery(ctx context.Context, user string, entry *QueryEntry) {
	scores, err := s.cache.ZScores(ctx, queryIndexKey(user))
	if err != nil {
		s.fallback("query.put", err)
		return
	}
	if len(scores) >= s.cfg.MaxQueryPerUser {
		if victim := s.pickVictim(ctx, user, scores); victim != "" {
			_ = s.cache.Del(ctx, queryKey(user, victim))
			_ = s.cache.ZRem(ctx, queryIndexKey(user), victim)
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, queryKey(user, entry.Fingerprint), string(data), s.cfg.QueryTTL); err != nil {
		s.fallback("query.put", err)
		return
	}
	if err := s.cache.ZIncrBy(ctx, queryIndexKey(user), entry.Fingerprint, 0); err != nil {
		s.fallback("query.put", err)
	}
	_ = s.cache.Expire(ctx, queryIndexKey(user), s.cfg.QueryTTL)
}

// pickVictim finds the eviction candidate among indexed fingerprints.
func (s *SemanticCache) pickVictim(ctx context.Context, user string, scores map[string]float64) string {
	minScore := 0.0
	first := true
	for _, sc := range scores {
		if first || sc < minScore {
			minScore = sc
			first = false
		}
	}
	var lowest []string
	for fp, sc := range scores {
		if sc == minScore {
			lowest = append(lowest, fp)
		}
	}
	sort.Strings(lowest)
	if len(lowest) == 1 {
		return lowest[0]
	}
	// Tie: evict the oldest entry.
	victim := lowest[0]
	var oldest time.Time
	for i, fp := range lowest {
		raw, ok, err := s.cache.Get(ctx, queryKey(user, fp))
		if err != nil || !ok {
			// An index entry without a value is already gone; evict it.
			return fp
		}
		var entry QueryEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return fp
		}
		if i == 0 || entry.CreatedAt.Before(oldest) {
			oldest = entry.CreatedAt
			victim = fp
		}
	}
	return victim
}

// --- input fingerprint namespace ---

// GetInput returns a cached classification for an identical recent input.
func (s *SemanticCache) GetInput(ctx context.Context, user, text string) (string, bool) {
	fp := Fingerprint(text, "", nil)
	if v, ok := s.inputs.Get(inputKey(user, fp)); ok {
		if sv, ok := v.(string); ok {
			return sv, true
		}
	}
	raw, ok, err := s.cache.Get(ctx, inputKey(user, fp))
	if err != nil {
		s.fallback("input.get", err)
		return "", false
	}
	if ok {
		s.inputs.SetWithTTL(inputKey(user, fp), raw, int64(len(raw)), s.cfg.InputTTL)
	}
	return raw, ok
}

// SetInput records an input's classification for the dedup window.
func (s *SemanticCache) SetInput(ctx context.Context, user, text, value string) {
	fp := Fingerprint(text, "", nil)
	s.inputs.SetWithTTL(inputKey(user, fp), value, int64(len(value)), s.cfg.InputTTL)
	if err := s.cache.Set(ctx, inputKey(user, fp), value, s.cfg.InputTTL); err != nil {
		s.fallback("input.set", err)
	}
}

// --- invalidation ---

// InvalidateUser removes the user's query namespace and, when the persona
// was touched, the persona snapshot. Best-effort prefix delete; a ghost
// read is bounded by the TTL.
func (s *SemanticCache) InvalidateUser(ctx context.Context, user string, personaTouched bool) {
	if _, err := s.cache.DelPrefix(ctx, queryPrefix(user)); err != nil {
		s.fallback("invalidate", err)
	}
	if err := s.cache.Del(ctx, queryIndexKey(user)); err != nil {
		s.fallback("invalidate", err)
	}
	if personaTouched {
		if err := s.cache.Del(ctx, personaKey(user)); err != nil {
			s.fallback("invalidate", err)
		}
	}
}

// Close releases the input-fingerprint cache.
func (s *SemanticCache) Close() {
	s.inputs.Close()
}
