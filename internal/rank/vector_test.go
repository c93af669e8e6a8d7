package rank

import (
	"errors"
	"math"
	"testing"

	apperrors "github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/errors"
)

func TestCosineSelfSimilarity(t *testing.T) {
	vecs := [][]float32{
		{1, 0, 0},
		{0.3, -0.7, 0.2},
		{5, 5, 5, 5},
	}
	for _, v := range vecs {
		if got := Cosine(v, v); math.Abs(got-1.0) > 1e-6 {
			t.Errorf("Cosine(v,v) = %v for %v, want 1.0", got, v)
		}
	}
}

func TestCosineOrthogonalAndOpposite(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); math.Abs(got) > 1e-9 {
		t.Errorf("orthogonal similarity = %v, want 0", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{-1, 0}); math.Abs(got+1) > 1e-9 {
		t.Errorf("opposite similarity = %v, want -1", got)
	}
}

func TestCosineDegenerateInputs(t *testing.T) {
	if got := Cosine([]float32{1, 2}, []float32{1, 2, 3}); got != 0 {
		t.Errorf("mismatched lengths = %v, want 0", got)
	}
	if got := Cosine([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Errorf("zero vector = %v, want 0", got)
	}
	if got := Cosine(nil, nil); got != 0 {
		t.Errorf("nil vectors = %v, want 0", got)
	}
}

func TestCheckDimensions(t *testing.T) {
	if err := CheckDimensions([]float32{1, 2, 3}, 3); err != nil {
		t.Errorf("matching dims: %v", err)
	}
	err := CheckDimensions([]float32{1, 2}, 3)
	if !errors.Is(err, apperrors.ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestNormalize(t *testing.T) {
	out := Normalize([]float32{3, 4})
	if out == nil {
		t.Fatal("Normalize returned nil for nonzero vector")
	}
	var norm float64
	for _, x := range out {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-6 {
		t.Errorf("norm = %v, want 1", norm)
	}
	if Normalize([]float32{0, 0}) != nil {
		t.Error("Normalize of zero vector should be nil")
	}
}
