// Package vectorstore holds document embeddings and answers nearest-neighbor
// queries. An HNSW graph provides approximate candidate generation; exact
// cosine similarity is recomputed from the stored vectors for scoring, so
// the graph only decides which documents are considered, never their score.
package vectorstore

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/internal/rank"
	apperrors "github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/errors"
)

// Match is one nearest-neighbor result with its exact cosine similarity.
type Match struct {
	DocID      string
	Similarity float64
}

// Store maps document ids to embeddings. String ids are translated to
// monotonically increasing graph keys; removal orphans the old key instead
// of deleting from the graph, and orphans are filtered out of search
// results.
type Store struct {
	mu      sync.RWMutex
	dims    int
	graph   *hnsw.Graph[uint64]
	vectors map[string][]float32
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
	logger  *slog.Logger
}

// New creates a Store for embeddings of the given dimension.
func New(dims int) *Store {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25
	return &Store{
		dims:    dims,
		graph:   graph,
		vectors: make(map[string][]float32),
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		logger:  slog.Default().With("component", "vectorstore"),
	}
}

// Add stores the embedding for docID, replacing any previous one. It fails
// with ErrDimensionMismatch when the vector has the wrong length.
func (s *Store) Add(docID string, vec []float32) error {
	if len(vec) != s.dims {
		return fmt.Errorf("adding %q: %w: got %d, want %d",
			docID, apperrors.ErrDimensionMismatch, len(vec), s.dims)
	}
	normalized := rank.Normalize(vec)
	if normalized == nil {
		return fmt.Errorf("adding %q: %w: zero vector", docID, apperrors.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if oldKey, exists := s.idMap[docID]; exists {
		delete(s.keyMap, oldKey)
	}
	key := s.nextKey
	s.nextKey++

	stored := make([]float32, len(vec))
	copy(stored, vec)
	s.vectors[docID] = stored
	s.idMap[docID] = key
	s.keyMap[key] = docID
	s.graph.Add(hnsw.MakeNode(key, normalized))
	return nil
}

// Remove drops the embedding for docID. Unknown ids are a no-op; the graph
// node is orphaned lazily.
func (s *Store) Remove(docID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key, exists := s.idMap[docID]; exists {
		delete(s.keyMap, key)
		delete(s.idMap, docID)
		delete(s.vectors, docID)
	}
}

// Get returns the stored embedding for docID.
func (s *Store) Get(docID string) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vec, ok := s.vectors[docID]
	return vec, ok
}

// Similarity computes the exact cosine similarity between query and the
// stored embedding for docID. The second return is false when the document
// has no embedding.
func (s *Store) Similarity(docID string, query []float32) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vec, ok := s.vectors[docID]
	if !ok {
		return 0, false
	}
	return rank.Cosine(query, vec), true
}

// Nearest returns up to k documents closest to query by cosine similarity,
// highest first. Queries of the wrong dimension fail with
// ErrDimensionMismatch; callers are expected to degrade to keyword-only
// scoring.
func (s *Store) Nearest(query []float32, k int) ([]Match, error) {
	if len(query) != s.dims {
		return nil, fmt.Errorf("nearest: %w: got %d, want %d",
			apperrors.ErrDimensionMismatch, len(query), s.dims)
	}
	normalized := rank.Normalize(query)
	if normalized == nil {
		return []Match{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.vectors) == 0 {
		return []Match{}, nil
	}
	// Over-fetch to compensate for orphaned graph nodes left by removals.
	fetch := k + (int(s.nextKey) - len(s.idMap))
	nodes := s.graph.Search(normalized, fetch)

	// graph.Search only guarantees the first node is nearest; the rest
	// arrive heap-ordered. Score every live node exactly, then order and
	// cut here.
	matches := make([]Match, 0, len(nodes))
	for _, node := range nodes {
		docID, live := s.keyMap[node.Key]
		if !live {
			continue
		}
		matches = append(matches, Match{
			DocID:      docID,
			Similarity: rank.Cosine(query, s.vectors[docID]),
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].DocID < matches[j].DocID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Len returns the number of stored embeddings.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

// Dimensions returns the configured embedding dimension.
func (s *Store) Dimensions() int {
	return s.dims
}
