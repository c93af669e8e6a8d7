package vectorstore

import (
	"errors"
	"math"
	"testing"

	apperrors "github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/errors"
)

func TestAddAndSimilarity(t *testing.T) {
	s := New(3)
	if err := s.Add("d1", []float32{1, 0, 0}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	sim, ok := s.Similarity("d1", []float32{1, 0, 0})
	if !ok {
		t.Fatal("Similarity: d1 not found")
	}
	if math.Abs(sim-1) > 1e-6 {
		t.Errorf("self similarity = %v, want 1", sim)
	}
	if _, ok := s.Similarity("missing", []float32{1, 0, 0}); ok {
		t.Error("Similarity should report missing documents")
	}
}

func TestAddDimensionMismatch(t *testing.T) {
	s := New(3)
	err := s.Add("d1", []float32{1, 0})
	if !errors.Is(err, apperrors.ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after rejected add, want 0", s.Len())
	}
}

func TestNearestOrdersBySimilarity(t *testing.T) {
	s := New(2)
	vectors := map[string][]float32{
		"east":      {1, 0},
		"northeast": {1, 1},
		"north":     {0, 1},
	}
	for id, v := range vectors {
		if err := s.Add(id, v); err != nil {
			t.Fatalf("Add(%s): %v", id, err)
		}
	}
	matches, err := s.Nearest([]float32{1, 0.1}, 3)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("len = %d, want 3", len(matches))
	}
	if matches[0].DocID != "east" {
		t.Errorf("closest = %s, want east (matches: %+v)", matches[0].DocID, matches)
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Similarity > matches[i-1].Similarity+1e-9 {
			t.Errorf("matches not in descending similarity: %+v", matches)
		}
	}
}

func TestNearestTruncationKeepsBest(t *testing.T) {
	s := New(2)
	vectors := map[string][]float32{
		"east":      {1, 0},
		"eastish":   {1, 0.2},
		"northeast": {1, 1},
		"north":     {0, 1},
	}
	for id, v := range vectors {
		if err := s.Add(id, v); err != nil {
			t.Fatalf("Add(%s): %v", id, err)
		}
	}
	matches, err := s.Nearest([]float32{1, 0.1}, 2)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("len = %d, want 2", len(matches))
	}
	got := map[string]bool{matches[0].DocID: true, matches[1].DocID: true}
	if !got["east"] || !got["eastish"] {
		t.Errorf("top 2 = %+v, want east and eastish", matches)
	}
}

func TestNearestQueryDimensionMismatch(t *testing.T) {
	s := New(3)
	_ = s.Add("d1", []float32{1, 0, 0})
	_, err := s.Nearest([]float32{1, 0}, 1)
	if !errors.Is(err, apperrors.ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestRemoveExcludesFromSearch(t *testing.T) {
	s := New(2)
	_ = s.Add("keep", []float32{1, 0})
	_ = s.Add("drop", []float32{0.9, 0.1})
	s.Remove("drop")

	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	matches, err := s.Nearest([]float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	for _, m := range matches {
		if m.DocID == "drop" {
			t.Errorf("removed document returned from Nearest: %+v", matches)
		}
	}
}

func TestAddReplacesExisting(t *testing.T) {
	s := New(2)
	_ = s.Add("d1", []float32{1, 0})
	_ = s.Add("d1", []float32{0, 1})

	sim, ok := s.Similarity("d1", []float32{0, 1})
	if !ok || math.Abs(sim-1) > 1e-6 {
		t.Errorf("similarity after replace = %v (ok=%v), want 1", sim, ok)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestNearestEmptyStore(t *testing.T) {
	s := New(4)
	matches, err := s.Nearest([]float32{1, 0, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("matches = %v, want empty", matches)
	}
}
