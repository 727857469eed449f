package store

import (
	"math"
	"strings"
	"sync"
	"unicode"
)

// Field weights for lexical indexing: title outranks content outranks
// tags. Realized as token multiplicity in the term frequencies.
const (
	weightTitle   = 4
	weightContent = 2
	weightTags    = 1
)

// lexIndex is a per-table BM25 inverted index over weighted fields.
type lexIndex struct {
	mu sync.RWMutex

	k1 float64
	b  float64

	inverted   map[string]map[string]struct{} // term -> doc ids
	termFreqs  map[string]map[string]int      // doc id -> term -> weighted freq
	docLengths map[string]int

	totalDocs int
	totalLen  int
}

func newLexIndex() *lexIndex {
	return &lexIndex{
		k1:         1.5,
		b:          0.75,
		inverted:   make(map[string]map[string]struct{}),
		termFreqs:  make(map[string]map[string]int),
		docLengths: make(map[string]int),
	}
}

// index adds or replaces a document built from the record's weighted fields.
func (idx *lexIndex) index(rec *Record) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.termFreqs[rec.ID]; ok {
		idx.removeLocked(rec.ID)
	}

	freqs := make(map[string]int)
	length := 0
	add := func(text string, weight int) {
		for _, tok := range lexTokenize(text) {
			freqs[tok] += weight
			length += weight
		}
	}
	add(rec.Title, weightTitle)
	add(rec.Content, weightContent)
	add(strings.Join(rec.Tags, " "), weightTags)

	if len(freqs) == 0 {
		return
	}

	idx.termFreqs[rec.ID] = freqs
	idx.docLengths[rec.ID] = length
	idx.totalDocs++
	idx.totalLen += length
	for term := range freqs {
		if idx.inverted[term] == nil {
			idx.inverted[term] = make(map[string]struct{})
		}
		idx.inverted[term][rec.ID] = struct{}{}
	}
}

func (idx *lexIndex) remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(id)
}

func (idx *lexIndex) removeLocked(id string) {
	freqs, ok := idx.termFreqs[id]
	if !ok {
		return
	}
	for term := range freqs {
		if docs, ok := idx.inverted[term]; ok {
			delete(docs, id)
			if len(docs) == 0 {
				delete(idx.inverted, term)
			}
		}
	}
	idx.totalLen -= idx.docLengths[id]
	idx.totalDocs--
	delete(idx.termFreqs, id)
	delete(idx.docLengths, id)
}

// search scores documents against the query, calling accept to apply the
// pushed-down predicate before a document is considered.
func (idx *lexIndex) search(query string, accept func(id string) bool) map[string]float64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.totalDocs == 0 {
		return nil
	}
	queryTokens := lexTokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}
	avgDL := float64(idx.totalLen) / float64(idx.totalDocs)

	candidates := make(map[string]struct{})
	for _, tok := range queryTokens {
		for id := range idx.inverted[tok] {
			candidates[id] = struct{}{}
		}
	}

	scores := make(map[string]float64, len(candidates))
	for id := range candidates {
		if !accept(id) {
			continue
		}
		score := idx.scoreLocked(id, queryTokens, avgDL)
		if score > 0 {
			scores[id] = score
		}
	}
	return scores
}

func (idx *lexIndex) scoreLocked(id string, queryTokens []string, avgDL float64) float64 {
	docLen := float64(idx.docLengths[id])
	freqs := idx.termFreqs[id]
	score := 0.0
	for _, term := range queryTokens {
		tf := float64(freqs[term])
		if tf == 0 {
			continue
		}
		n := float64(len(idx.inverted[term]))
		idf := math.Log((float64(idx.totalDocs)-n+0.5)/(n+0.5) + 1.0)
		score += idf * tf * (idx.k1 + 1) / (tf + idx.k1*(1-idx.b+idx.b*docLen/avgDL))
	}
	return score
}

// lexTokenize lowercases and splits on non-alphanumerics; CJK runes index
// individually.
func lexTokenize(text string) []string {
	text = strings.ToLower(text)
	tokens := make([]string, 0, len(text)/4)
	var cur strings.Builder
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
			continue
		}
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
		if unicode.Is(unicode.Han, r) {
			tokens = append(tokens, string(r))
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}
