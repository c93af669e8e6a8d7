// Package rank implements the scoring layer: BM25 keyword relevance,
// cosine vector similarity, and weighted score fusion.
package rank

import (
	"math"

	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/internal/index"
)

const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

// BM25Scorer computes keyword relevance scores against an inverted index.
type BM25Scorer struct {
	idx *index.Index
	k1  float64
	b   float64
}

// NewBM25 creates a scorer with the given constants. Non-positive k1 or
// out-of-range b fall back to the defaults.
func NewBM25(idx *index.Index, k1, b float64) *BM25Scorer {
	if k1 <= 0 {
		k1 = DefaultK1
	}
	if b < 0 || b > 1 {
		b = DefaultB
	}
	return &BM25Scorer{idx: idx, k1: k1, b: b}
}

// Score returns the BM25 score per document for the given query terms.
// Terms absent from the index contribute zero; documents with no matching
// term do not appear in the result.
func (s *BM25Scorer) Score(terms []string) map[string]float64 {
	totalDocs := s.idx.DocCount()
	avgDocLen := s.idx.AvgDocLength()
	scores := make(map[string]float64)
	if totalDocs == 0 {
		return scores
	}
	for _, term := range terms {
		stats := s.idx.Stats(term)
		if stats.DocumentFreq == 0 {
			continue
		}
		idf := computeIDF(totalDocs, stats.DocumentFreq)
		for _, posting := range stats.Postings {
			docLen := s.idx.DocLength(posting.DocID)
			scores[posting.DocID] += idf * s.tfNorm(float64(posting.Frequency), float64(docLen), avgDocLen)
		}
	}
	return scores
}

// computeIDF is ln((N - n + 0.5)/(n + 0.5) + 1).
func computeIDF(totalDocs, docFreq int) float64 {
	numerator := float64(totalDocs) - float64(docFreq) + 0.5
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

// tfNorm is f·(k1+1) / (f + k1·(1 - b + b·|d|/avgdl)).
func (s *BM25Scorer) tfNorm(termFreq, docLen, avgDocLen float64) float64 {
	if avgDocLen == 0 {
		return 0
	}
	lengthRatio := docLen / avgDocLen
	denominator := termFreq + s.k1*(1-s.b+s.b*lengthRatio)
	return (termFreq * (s.k1 + 1)) / denominator
}
