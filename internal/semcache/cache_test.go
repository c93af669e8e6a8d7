package semcache

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/config"
)

func testConfig() config.CacheConfig {
	return config.CacheConfig{
		TTL:                 time.Hour,
		MaxEntries:          3,
		SimilarityThreshold: 0.85,
	}
}

func TestRoundTripExactEmbedding(t *testing.T) {
	c := New[[]string](testConfig())
	emb := []float32{0.5, 0.5, 0.1}
	want := []string{"d1", "d2"}

	c.Put("fp1", emb, want)
	entry, ok := c.Get(emb)
	if !ok {
		t.Fatal("expected hit for identical embedding")
	}
	if !reflect.DeepEqual(entry.Value, want) {
		t.Errorf("Value = %v, want %v", entry.Value, want)
	}
}

func TestSimilarityThreshold(t *testing.T) {
	c := New[string](testConfig())
	c.Put("fp1", []float32{1, 0}, "cached")

	// cos(30°) ≈ 0.866 ≥ 0.85: hit.
	if _, ok := c.Get([]float32{0.866, 0.5}); !ok {
		t.Error("embedding at similarity ~0.87 should hit")
	}
	// cos(60°) = 0.5 < 0.85: miss.
	if _, ok := c.Get([]float32{0.5, 0.866}); ok {
		t.Error("embedding at similarity 0.5 should miss")
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New[string](testConfig())
	current := time.Unix(1000, 0)
	c.now = func() time.Time { return current }

	emb := []float32{1, 0}
	c.Put("fp1", emb, "cached")
	if _, ok := c.Get(emb); !ok {
		t.Fatal("fresh entry should hit")
	}

	current = current.Add(time.Hour + time.Second)
	if _, ok := c.Get(emb); ok {
		t.Error("expired entry should miss")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be dropped, Len = %d", c.Len())
	}
}

func TestExpiryNotCountedAsEviction(t *testing.T) {
	c := New[string](testConfig())
	current := time.Unix(1000, 0)
	c.now = func() time.Time { return current }

	emb := []float32{1, 0}
	c.Put("fp1", emb, "cached")
	current = current.Add(time.Hour + time.Second)
	if _, ok := c.Get(emb); ok {
		t.Fatal("expired entry should miss")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be dropped, Len = %d", c.Len())
	}
	if _, _, evictions := c.Stats(); evictions != 0 {
		t.Errorf("evictions = %d, want 0; TTL drops are not capacity evictions", evictions)
	}
}

func TestLRUEvictionAtCapacity(t *testing.T) {
	c := New[string](testConfig()) // capacity 3
	embs := [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	for i, emb := range embs {
		c.Put(fmt.Sprintf("fp%d", i), emb, fmt.Sprintf("v%d", i))
	}
	// Touch fp0 so fp1 becomes the least recently accessed.
	if _, ok := c.Get(embs[0]); !ok {
		t.Fatal("fp0 should hit")
	}

	c.Put("fp3", []float32{0.7, 0.7, 0}, "v3")
	if got := c.Len(); got != 3 {
		t.Fatalf("Len = %d, want 3 (exactly one eviction)", got)
	}
	if _, ok := c.Get(embs[1]); ok {
		t.Error("least-recently-accessed entry fp1 should have been evicted")
	}
	if _, ok := c.Get(embs[0]); !ok {
		t.Error("recently accessed fp0 should survive eviction")
	}
	if _, _, evictions := c.Stats(); evictions != 1 {
		t.Errorf("evictions = %d, want 1", evictions)
	}
}

func TestPutReplacesWholesale(t *testing.T) {
	c := New[string](testConfig())
	emb := []float32{1, 0}
	c.Put("fp1", emb, "old")
	c.Put("fp1", emb, "new")
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
	entry, ok := c.Get(emb)
	if !ok || entry.Value != "new" {
		t.Errorf("entry = %+v (ok=%v), want replaced value", entry, ok)
	}
}

func TestGetOrComputeSingleFlight(t *testing.T) {
	cfg := testConfig()
	cfg.MaxEntries = 100
	c := New[string](cfg)
	emb := []float32{1, 0}

	var computations atomic.Int64
	release := make(chan struct{})
	var wg sync.WaitGroup
	results := make([]string, 16)

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			val, _, err := c.GetOrCompute(context.Background(), "fp1", emb, func(context.Context) (string, error) {
				computations.Add(1)
				<-release
				return "computed", nil
			})
			if err != nil {
				t.Errorf("GetOrCompute: %v", err)
				return
			}
			results[i] = val
		}(i)
	}
	// Let the goroutines pile up on the flight before releasing it.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := computations.Load(); got != 1 {
		t.Errorf("computations = %d, want 1", got)
	}
	for i, r := range results {
		if r != "computed" {
			t.Errorf("results[%d] = %q, want %q", i, r, "computed")
		}
	}
}

func TestGetOrComputeErrorNotCached(t *testing.T) {
	c := New[string](testConfig())
	emb := []float32{1, 0}
	wantErr := errors.New("engine down")

	_, _, err := c.GetOrCompute(context.Background(), "fp1", emb, func(context.Context) (string, error) {
		return "", wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if c.Len() != 0 {
		t.Errorf("failed computation must not populate the cache, Len = %d", c.Len())
	}

	// A later call should compute successfully.
	val, _, err := c.GetOrCompute(context.Background(), "fp1", emb, func(context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || val != "ok" {
		t.Errorf("retry = (%q, %v), want (ok, nil)", val, err)
	}
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint("cat", "dog", "k=10")
	b := Fingerprint("cat", "dog", "k=10")
	if a != b {
		t.Errorf("fingerprint not stable: %s vs %s", a, b)
	}
	if a == Fingerprint("cat", "dog", "k=20") {
		t.Error("different options must produce different fingerprints")
	}
	if Fingerprint("ab", "c") == Fingerprint("a", "bc") {
		t.Error("fingerprint must separate parts")
	}
}
