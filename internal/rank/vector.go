package rank

import (
	"fmt"
	"math"

	apperrors "github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/errors"
)

// CheckDimensions validates a vector against the configured embedding
// dimension.
func CheckDimensions(vec []float32, want int) error {
	if len(vec) != want {
		return fmt.Errorf("%w: got %d, want %d", apperrors.ErrDimensionMismatch, len(vec), want)
	}
	return nil
}

// Cosine returns the cosine similarity of u and v in [-1,1]. Vectors of
// differing length or zero norm yield 0; dimension policy is enforced by
// the caller via CheckDimensions.
func Cosine(u, v []float32) float64 {
	if len(u) != len(v) || len(u) == 0 {
		return 0
	}
	var dot, normU, normV float64
	for i := range u {
		dot += float64(u[i]) * float64(v[i])
		normU += float64(u[i]) * float64(u[i])
		normV += float64(v[i]) * float64(v[i])
	}
	if normU == 0 || normV == 0 {
		return 0
	}
	return dot / (math.Sqrt(normU) * math.Sqrt(normV))
}

// Normalize returns an L2-normalized copy of vec, or nil for a zero vector.
func Normalize(vec []float32) []float32 {
	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return nil
	}
	inv := 1 / math.Sqrt(norm)
	out := make([]float32, len(vec))
	for i, x := range vec {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
