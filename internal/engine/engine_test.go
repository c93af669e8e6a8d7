package engine

import (
	"context"
	stderrors "errors"
	"math"
	"testing"
	"time"

	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/internal/docstore"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/internal/embed"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/config"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/errors"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/metrics"
)

// Prometheus collectors register globally, so the package shares one set.
var testMetrics = metrics.New()

const testDims = 4

func testConfig() config.Config {
	return config.Config{
		Engine: config.EngineConfig{
			BM25K1:         1.2,
			BM25B:          0.75,
			WeightBM25:     0.7,
			WeightVector:   0.3,
			Thresholds:     []float64{0.75, 0.70, 0.65, 0.60},
			DefaultK:       10,
			MaxK:           100,
			MinResults:     1,
			CandidateLimit: 500,
		},
		Cache: config.CacheConfig{
			TTL:                 time.Hour,
			MaxEntries:          100,
			SimilarityThreshold: 0.85,
		},
		Embedding: config.EmbeddingConfig{
			Provider:   "static",
			Dimensions: testDims,
			CacheSize:  16,
		},
	}
}

// mapProvider returns fixed embeddings for known texts and fails for
// unknown ones, which exercises the keyword-only degrade path.
type mapProvider struct {
	vectors map[string][]float32
}

func (p mapProvider) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := p.vectors[text]; ok {
		return v, nil
	}
	return nil, errors.ErrEmbeddingUnavailable
}
func (p mapProvider) Dimensions() int { return testDims }
func (p mapProvider) Name() string    { return "map" }
func (p mapProvider) Close() error    { return nil }

var diag = float32(math.Sqrt2 / 2)

func testProvider() embed.Provider {
	return mapProvider{vectors: map[string][]float32{
		"cat":           {1, 0, 0, 0},
		"mat":           {1, 0, 0, 0},
		"cats and dogs": {diag, diag, 0, 0},
		"cats dogs":     {diag, diag, 0, 0},
		"dog yard":      {0, 1, 0, 0},
	}}
}

func newTestEngine(t *testing.T, provider embed.Provider) *Engine {
	t.Helper()
	if provider == nil {
		provider = testProvider()
	}
	return New(testConfig(), provider, docstore.NewMemory(), testMetrics)
}

// seedCorpus indexes four documents with hand-placed embeddings: "cats"
// and "dogs" on orthogonal axes, "both" on the diagonal, "none" off in a
// third direction.
func seedCorpus(t *testing.T, e *Engine) {
	t.Helper()
	ctx := context.Background()
	docs := []IndexRequest{
		{ID: "cats", Text: "the cat sat on the mat watching other cats", Embedding: []float32{1, 0, 0, 0}},
		{ID: "dogs", Text: "a dog ran across the yard chasing dogs", Embedding: []float32{0, 1, 0, 0}},
		{ID: "both", Text: "cats and dogs living together", Embedding: []float32{diag, diag, 0, 0}},
		{ID: "none", Text: "completely unrelated quantum chromodynamics paper", Embedding: []float32{0, 0, 1, 0}},
	}
	for _, doc := range docs {
		if _, err := e.IndexDocument(ctx, doc); err != nil {
			t.Fatalf("IndexDocument(%s): %v", doc.ID, err)
		}
	}
}

func TestSearchEndToEnd(t *testing.T) {
	e := newTestEngine(t, nil)
	seedCorpus(t, e)

	// Query "cat" sits on the cats axis: similarity 1.0 clears the first
	// tier, "both" at ~0.707 does not.
	resp, err := e.Search(context.Background(), "cat", SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Cached {
		t.Error("first search should not be a cache hit")
	}
	if resp.State != "found" || resp.Tier != 0 {
		t.Errorf("State=%s Tier=%d, want found at tier 0", resp.State, resp.Tier)
	}
	if len(resp.Results) != 1 || resp.Results[0].DocID != "cats" {
		t.Fatalf("Results = %+v, want exactly [cats]", resp.Results)
	}
	if resp.Results[0].Text == "" {
		t.Error("result not hydrated with stored text")
	}
	if resp.Results[0].Rank != 1 {
		t.Errorf("Rank = %d, want 1", resp.Results[0].Rank)
	}
}

func TestSearchRelaxesTiers(t *testing.T) {
	e := newTestEngine(t, nil)
	seedCorpus(t, e)
	ctx := context.Background()

	if err := e.RemoveDocument(ctx, "cats"); err != nil {
		t.Fatal(err)
	}
	// With "cats" gone the best match for "mat" is "both" at ~0.707,
	// admitted only once the ladder relaxes to 0.70.
	resp, err := e.Search(ctx, "mat", SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.State != "found" || resp.Tier != 1 {
		t.Errorf("State=%s Tier=%d, want found at tier 1", resp.State, resp.Tier)
	}
	if resp.TiersVisited != 2 {
		t.Errorf("TiersVisited = %d, want 2", resp.TiersVisited)
	}
	if len(resp.Results) != 1 || resp.Results[0].DocID != "both" {
		t.Errorf("Results = %+v, want [both]", resp.Results)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	e := newTestEngine(t, nil)
	if _, err := e.Search(context.Background(), "   ", SearchOptions{}); !stderrors.Is(err, errors.ErrEmptyQuery) {
		t.Errorf("err = %v, want ErrEmptyQuery", err)
	}
}

func TestSearchStopwordOnlyQuery(t *testing.T) {
	e := newTestEngine(t, nil)
	seedCorpus(t, e)

	resp, err := e.Search(context.Background(), "the and of", SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("stopword-only query returned %d results", len(resp.Results))
	}
}

func TestSearchCacheHit(t *testing.T) {
	e := newTestEngine(t, nil)
	seedCorpus(t, e)
	ctx := context.Background()

	first, err := e.Search(ctx, "cats and dogs", SearchOptions{})
	if err != nil {
		t.Fatalf("first Search: %v", err)
	}
	if first.Cached || len(first.Results) == 0 {
		t.Fatalf("first search: Cached=%v results=%d", first.Cached, len(first.Results))
	}

	second, err := e.Search(ctx, "cats and dogs", SearchOptions{})
	if err != nil {
		t.Fatalf("second Search: %v", err)
	}
	if !second.Cached || second.CacheTier != "memory" {
		t.Errorf("second search Cached=%v tier=%q, want memory hit", second.Cached, second.CacheTier)
	}
	if len(first.Results) != len(second.Results) {
		t.Fatalf("cached result count %d != original %d", len(second.Results), len(first.Results))
	}
	for i := range first.Results {
		if first.Results[i].DocID != second.Results[i].DocID {
			t.Errorf("cached ordering diverges at %d: %s vs %s",
				i, first.Results[i].DocID, second.Results[i].DocID)
		}
	}
}

func TestSearchSimilarQueryHitsCache(t *testing.T) {
	e := newTestEngine(t, nil)
	seedCorpus(t, e)
	ctx := context.Background()

	if _, err := e.Search(ctx, "cats and dogs", SearchOptions{}); err != nil {
		t.Fatal(err)
	}
	// Different text, identical embedding: similarity 1.0 clears the 0.85
	// cache threshold.
	resp, err := e.Search(ctx, "cats dogs", SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Cached {
		t.Error("near-identical query should hit the semantic cache")
	}
}

func TestDegradedSearch(t *testing.T) {
	e := newTestEngine(t, nil)
	seedCorpus(t, e)

	// "chromodynamics" is not in the provider map, so the query embedding
	// fails and scoring falls back to keywords alone.
	resp, err := e.Search(context.Background(), "chromodynamics", SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !resp.Degraded {
		t.Error("search without query embedding should be flagged degraded")
	}
	if len(resp.Results) != 1 || resp.Results[0].DocID != "none" {
		t.Fatalf("Results = %+v, want keyword match [none]", resp.Results)
	}
	if resp.Results[0].VectorScore != 0 {
		t.Errorf("degraded result has vector score %v", resp.Results[0].VectorScore)
	}
}

func TestIndexDocumentGeneratesID(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	id1, err := e.IndexDocument(ctx, IndexRequest{Text: "some document body"})
	if err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	if id1 == "" {
		t.Fatal("empty generated ID")
	}
	// Same content maps to the same ID: re-index, not duplicate.
	id2, err := e.IndexDocument(ctx, IndexRequest{Text: "some document body"})
	if err != nil {
		t.Fatalf("re-IndexDocument: %v", err)
	}
	if id1 != id2 {
		t.Errorf("content IDs differ: %s vs %s", id1, id2)
	}
	if e.Stats().Documents != 1 {
		t.Errorf("Documents = %d, want 1", e.Stats().Documents)
	}
}

func TestIndexDocumentRejectsEmpty(t *testing.T) {
	e := newTestEngine(t, nil)
	if _, err := e.IndexDocument(context.Background(), IndexRequest{Text: "  "}); !stderrors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestIndexDocumentRejectsBadDimensions(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.IndexDocument(context.Background(), IndexRequest{
		Text:      "doc with wrong embedding",
		Embedding: []float32{1, 2, 3},
	})
	if !stderrors.Is(err, errors.ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestReindexReplaces(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := e.IndexDocument(ctx, IndexRequest{ID: "d", Text: "original penguin habitat"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.IndexDocument(ctx, IndexRequest{ID: "d", Text: "replacement walrus colony"}); err != nil {
		t.Fatal(err)
	}

	resp, err := e.Search(ctx, "penguin", SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("stale terms still match after replacement: %+v", resp.Results)
	}
	resp, err = e.Search(ctx, "walrus", SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].DocID != "d" {
		t.Errorf("replacement not searchable: %+v", resp.Results)
	}
}

func TestRemoveDocument(t *testing.T) {
	e := newTestEngine(t, nil)
	seedCorpus(t, e)
	ctx := context.Background()

	if err := e.RemoveDocument(ctx, "cats"); err != nil {
		t.Fatalf("RemoveDocument: %v", err)
	}
	if err := e.RemoveDocument(ctx, "cats"); !stderrors.Is(err, errors.ErrDocumentNotFound) {
		t.Errorf("second remove err = %v, want ErrDocumentNotFound", err)
	}

	resp, err := e.Search(ctx, "cat", SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range resp.Results {
		if r.DocID == "cats" {
			t.Error("removed document still in results")
		}
	}
}

func TestLoadFromStore(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	cfg := testConfig()
	provider := testProvider()

	seed := New(cfg, provider, store, testMetrics)
	seedCorpus(t, seed)

	// A fresh engine over the same store rebuilds to the same answers.
	rebuilt := New(cfg, provider, store, testMetrics)
	if err := rebuilt.LoadFromStore(ctx); err != nil {
		t.Fatalf("LoadFromStore: %v", err)
	}
	if got, want := rebuilt.Stats().Documents, seed.Stats().Documents; got != want {
		t.Fatalf("rebuilt Documents = %d, want %d", got, want)
	}
	if got, want := rebuilt.Stats().Vectors, seed.Stats().Vectors; got != want {
		t.Fatalf("rebuilt Vectors = %d, want %d", got, want)
	}

	a, err := seed.Search(ctx, "dog yard", SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := rebuilt.Search(ctx, "dog yard", SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Results) != len(b.Results) {
		t.Fatalf("result counts diverge: %d vs %d", len(a.Results), len(b.Results))
	}
	for i := range a.Results {
		if a.Results[i].DocID != b.Results[i].DocID {
			t.Errorf("ordering diverges at %d: %s vs %s", i, a.Results[i].DocID, b.Results[i].DocID)
		}
	}
}

func TestPurgeCache(t *testing.T) {
	e := newTestEngine(t, nil)
	seedCorpus(t, e)
	ctx := context.Background()

	if _, err := e.Search(ctx, "cat", SearchOptions{}); err != nil {
		t.Fatal(err)
	}
	if e.Stats().CacheEntries == 0 {
		t.Fatal("search did not populate the cache")
	}
	e.PurgeCache(ctx)
	if e.Stats().CacheEntries != 0 {
		t.Errorf("CacheEntries = %d after purge", e.Stats().CacheEntries)
	}
}

func TestSearchThresholdAndMinResultsOverride(t *testing.T) {
	e := newTestEngine(t, nil)
	seedCorpus(t, e)

	// The first tier admits only "cats" (similarity 1.0); demanding two
	// results forces the ladder down to 0.5 where "both" (~0.707) joins.
	resp, err := e.Search(context.Background(), "cat", SearchOptions{
		MinResults: 2,
		Thresholds: []float64{0.99, 0.5},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.State != "found" || resp.Tier != 1 {
		t.Errorf("State=%s Tier=%d, want found at tier 1", resp.State, resp.Tier)
	}
	if resp.Threshold != 0.5 || resp.TiersVisited != 2 {
		t.Errorf("Threshold=%v TiersVisited=%d, want 0.5 and 2", resp.Threshold, resp.TiersVisited)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("Results = %+v, want 2 hits", resp.Results)
	}
	got := map[string]bool{resp.Results[0].DocID: true, resp.Results[1].DocID: true}
	if !got["cats"] || !got["both"] {
		t.Errorf("Results = %+v, want cats and both", resp.Results)
	}
}

func TestSearchWeightsOverride(t *testing.T) {
	e := newTestEngine(t, nil)
	seedCorpus(t, e)
	ctx := context.Background()

	// Query text matches "both" by keywords while the supplied embedding
	// sits on the dogs axis, so the two signals rank the tier's two
	// admitted documents in opposite orders. ("cats" carries similarity 0
	// against this embedding and is gated out of the 0.5 tier.)
	opts := SearchOptions{
		Thresholds: []float64{0.5},
		Embedding:  []float32{0, 1, 0, 0},
	}
	resp, err := e.Search(ctx, "cat", opts)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) != 2 || resp.Results[0].DocID != "both" {
		t.Fatalf("default weights: Results = %+v, want [both dogs]", resp.Results)
	}

	// The semantic tier matches on embedding alone, so clear it before
	// re-running with different weights.
	e.PurgeCache(ctx)

	opts.Weights = &SearchWeights{BM25: 0.1, Vector: 0.9}
	resp, err = e.Search(ctx, "cat", opts)
	if err != nil {
		t.Fatalf("Search with weights: %v", err)
	}
	if len(resp.Results) != 2 || resp.Results[0].DocID != "dogs" {
		t.Fatalf("vector-heavy weights: Results = %+v, want [dogs both]", resp.Results)
	}
}

func TestSearchPrecomputedEmbeddingSkipsProvider(t *testing.T) {
	e := newTestEngine(t, nil)
	seedCorpus(t, e)

	// The provider cannot embed this text; the supplied embedding keeps
	// the query on the full hybrid path instead of degrading.
	resp, err := e.Search(context.Background(), "submarine", SearchOptions{
		Embedding: []float32{1, 0, 0, 0},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Degraded {
		t.Error("precomputed embedding should avoid keyword-only degrade")
	}
	if resp.State != "found" || resp.Tier != 0 {
		t.Errorf("State=%s Tier=%d, want found at tier 0", resp.State, resp.Tier)
	}
	if len(resp.Results) != 1 || resp.Results[0].DocID != "cats" {
		t.Fatalf("Results = %+v, want exactly [cats]", resp.Results)
	}
}

func TestSearchRejectsBadQueryEmbedding(t *testing.T) {
	e := newTestEngine(t, nil)
	seedCorpus(t, e)

	_, err := e.Search(context.Background(), "cat", SearchOptions{
		Embedding: []float32{1, 0},
	})
	if !stderrors.Is(err, errors.ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestQueryFingerprintCoversOverrides(t *testing.T) {
	terms := []string{"cat"}
	base := queryFingerprint(terms, 10, SearchOptions{})
	variants := []SearchOptions{
		{MinResults: 2},
		{Thresholds: []float64{0.5}},
		{Weights: &SearchWeights{BM25: 0.1, Vector: 0.9}},
	}
	for i, opts := range variants {
		if got := queryFingerprint(terms, 10, opts); got == base {
			t.Errorf("variant %d: fingerprint matches the unoverridden query", i)
		}
	}
	if a, b := queryFingerprint(terms, 10, SearchOptions{}), queryFingerprint(terms, 10, SearchOptions{}); a != b {
		t.Error("fingerprint not stable for identical inputs")
	}
}
