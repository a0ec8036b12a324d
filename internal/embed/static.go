package embed

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"
)

const (
	// tokenWeight is the contribution of whole-word hashes.
	tokenWeight = 0.7

	// ngramWeight is the contribution of character trigram hashes.
	// Trigrams give partial-word matches (plural forms, typos).
	ngramWeight = 0.3

	ngramSize = 3
)

// stopWords are dropped during tokenization. High-frequency function
// words add no signal and would dominate the hash buckets.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "in": {},
	"is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "or": {},
	"that": {}, "the": {}, "to": {}, "was": {}, "were": {}, "with": {},
}

// StaticEmbedder produces deterministic hash-based embeddings with no
// model download and no network dependency. Retrieval quality is far
// below a real model; it exists as the offline fallback and as a test
// double with stable output.
type StaticEmbedder struct {
	dimensions int

	mu     sync.RWMutex
	closed bool
}

// NewStaticEmbedder creates a static embedder with the default width.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{dimensions: StaticDimensions}
}

// Embed generates a deterministic embedding for the text.
func (s *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrEmbedderClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.embedText(text), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (s *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrEmbedderClosed
	}

	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vecs[i] = s.embedText(text)
	}
	return vecs, nil
}

// Dimensions returns the embedding width.
func (s *StaticEmbedder) Dimensions() int {
	return s.dimensions
}

// ModelName identifies this embedder in manifests.
func (s *StaticEmbedder) ModelName() string {
	return "static-hash-384"
}

// Available always reports true; there is no backend to probe.
func (s *StaticEmbedder) Available(ctx context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// Close marks the embedder closed.
func (s *StaticEmbedder) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// embedText hashes tokens and trigrams into a fixed-width vector and
// L2-normalizes the result. Identical text always yields an identical
// vector.
func (s *StaticEmbedder) embedText(text string) []float32 {
	vec := make([]float32, s.dimensions)
	if strings.TrimSpace(text) == "" {
		return vec
	}

	for _, tok := range tokenize(text) {
		vec[s.hashToIndex(tok)] += tokenWeight
	}
	for _, gram := range extractNgrams(text, ngramSize) {
		vec[s.hashToIndex(gram)] += ngramWeight
	}

	normalizeVector(vec)
	return vec
}

// hashToIndex maps a string to a bucket via FNV-1a.
func (s *StaticEmbedder) hashToIndex(str string) int {
	h := fnv.New64a()
	h.Write([]byte(str))
	return int(h.Sum64() % uint64(s.dimensions))
}

// tokenize lowercases text, splits on non-alphanumeric runes, and drops
// stop words and single-rune fragments.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// extractNgrams returns character n-grams over the normalized text.
// Whitespace runs collapse to a single space so formatting does not
// change the gram set.
func extractNgrams(text string, n int) []string {
	norm := []rune(strings.Join(strings.Fields(strings.ToLower(text)), " "))
	if len(norm) < n {
		return nil
	}
	grams := make([]string, 0, len(norm)-n+1)
	for i := 0; i+n <= len(norm); i++ {
		grams = append(grams, string(norm[i:i+n]))
	}
	return grams
}
