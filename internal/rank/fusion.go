package rank

import (
	"math"
	"sort"
)

const (
	DefaultWeightBM25   = 0.7
	DefaultWeightVector = 0.3
)

// Weights are the fusion coefficients. They need not sum to 1, though
// fused scores are easiest to read when they do.
type Weights struct {
	BM25   float64
	Vector float64
}

// DefaultWeights returns the 0.7/0.3 keyword-leaning default.
func DefaultWeights() Weights {
	return Weights{BM25: DefaultWeightBM25, Vector: DefaultWeightVector}
}

// Candidate is one document entering fusion with its raw signals.
type Candidate struct {
	DocID     string
	BM25      float64
	Vector    float64
	HasVector bool
}

// ScoredResult is one fused, ranked document.
type ScoredResult struct {
	DocID       string  `json:"doc_id"`
	BM25Score   float64 `json:"bm25_score"`
	VectorScore float64 `json:"vector_score"`
	FusedScore  float64 `json:"fused_score"`
	Rank        int     `json:"rank"`
}

// Fuse min-max normalizes each signal across the candidate set, combines
// them as w.BM25·nBM25 + w.Vector·nVec, and returns results sorted by fused
// score descending with ties broken by ascending DocID. Candidates without
// a vector signal contribute zero on the vector side. A positive limit
// truncates the output.
func Fuse(candidates []Candidate, w Weights, limit int) []ScoredResult {
	if len(candidates) == 0 {
		return []ScoredResult{}
	}

	bm25Min, bm25Max := math.Inf(1), math.Inf(-1)
	vecMin, vecMax := math.Inf(1), math.Inf(-1)
	anyVector := false
	for _, c := range candidates {
		if c.BM25 < bm25Min {
			bm25Min = c.BM25
		}
		if c.BM25 > bm25Max {
			bm25Max = c.BM25
		}
		if c.HasVector {
			anyVector = true
			if c.Vector < vecMin {
				vecMin = c.Vector
			}
			if c.Vector > vecMax {
				vecMax = c.Vector
			}
		}
	}

	results := make([]ScoredResult, 0, len(candidates))
	for _, c := range candidates {
		nBM25 := normalize(c.BM25, bm25Min, bm25Max)
		nVec := 0.0
		if c.HasVector && anyVector {
			nVec = normalize(c.Vector, vecMin, vecMax)
		}
		results = append(results, ScoredResult{
			DocID:       c.DocID,
			BM25Score:   c.BM25,
			VectorScore: c.Vector,
			FusedScore:  w.BM25*nBM25 + w.Vector*nVec,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].FusedScore != results[j].FusedScore {
			return results[i].FusedScore > results[j].FusedScore
		}
		return results[i].DocID < results[j].DocID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

// normalize maps v into [0,1] across [min,max]. A degenerate range maps
// every positive value to 1 so that equal raw scores stay tied instead of
// collapsing to zero.
func normalize(v, min, max float64) float64 {
	if max <= min {
		if max > 0 {
			return 1
		}
		return 0
	}
	return (v - min) / (max - min)
}
