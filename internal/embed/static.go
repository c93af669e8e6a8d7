package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const (
	staticTokenWeight = 0.7
	staticNgramWeight = 0.3
	staticNgramSize   = 3
)

// Static is a deterministic hash-based embedding provider. It needs no
// network or model files and produces stable vectors for identical input,
// at reduced semantic quality. Tokens and character trigrams are hashed
// into buckets and the result is L2-normalized.
type Static struct {
	dims int
}

// NewStatic creates a static provider with the given dimension.
func NewStatic(dims int) *Static {
	if dims <= 0 {
		dims = 256
	}
	return &Static{dims: dims}
}

func (s *Static) Embed(_ context.Context, text string) ([]float32, error) {
	vector := make([]float32, s.dims)
	trimmed := strings.TrimSpace(strings.ToLower(text))
	if trimmed == "" {
		return vector, nil
	}

	for _, token := range splitAlnum(trimmed) {
		vector[hashToBucket(token, s.dims)] += staticTokenWeight
	}
	compact := compactAlnum(trimmed)
	for i := 0; i+staticNgramSize <= len(compact); i++ {
		ngram := compact[i : i+staticNgramSize]
		vector[hashToBucket(ngram, s.dims)] += staticNgramWeight
	}

	normalizeInPlace(vector)
	return vector, nil
}

func (s *Static) Dimensions() int { return s.dims }

func (s *Static) Name() string { return "static" }

func (s *Static) Close() error { return nil }

func splitAlnum(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func compactAlnum(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func hashToBucket(s string, buckets int) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32() % uint32(buckets))
}

func normalizeInPlace(vector []float32) {
	var norm float64
	for _, x := range vector {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return
	}
	inv := 1 / math.Sqrt(norm)
	for i, x := range vector {
		vector[i] = float32(float64(x) * inv)
	}
}
