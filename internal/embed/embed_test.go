package embed

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/internal/rank"
)

func TestStaticDeterministic(t *testing.T) {
	p := NewStatic(128)
	ctx := context.Background()

	first, err := p.Embed(ctx, "hybrid retrieval engine")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(first) != 128 {
		t.Fatalf("len = %d, want 128", len(first))
	}
	for i := 0; i < 5; i++ {
		again, err := p.Embed(ctx, "hybrid retrieval engine")
		if err != nil {
			t.Fatalf("Embed: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatal("static embedding not deterministic")
		}
	}
}

func TestStaticNormalized(t *testing.T) {
	p := NewStatic(64)
	vec, err := p.Embed(context.Background(), "some text to embed")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("norm = %v, want 1", norm)
	}
}

func TestStaticEmptyText(t *testing.T) {
	p := NewStatic(32)
	vec, err := p.Embed(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for _, x := range vec {
		if x != 0 {
			t.Fatalf("blank text should produce a zero vector, got %v", vec)
		}
	}
}

func TestStaticSimilarTextsCloserThanUnrelated(t *testing.T) {
	p := NewStatic(256)
	ctx := context.Background()
	a, _ := p.Embed(ctx, "the cat sat on the mat")
	b, _ := p.Embed(ctx, "a cat sat on a mat")
	c, _ := p.Embed(ctx, "quarterly revenue forecast spreadsheet")

	simAB := rank.Cosine(a, b)
	simAC := rank.Cosine(a, c)
	if simAB <= simAC {
		t.Errorf("similar texts should score higher: sim(a,b)=%v sim(a,c)=%v", simAB, simAC)
	}
}

type countingProvider struct {
	*Static
	calls int
}

func (c *countingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.Static.Embed(ctx, text)
}

func TestCachedAvoidsRecomputation(t *testing.T) {
	inner := &countingProvider{Static: NewStatic(64)}
	cached := NewCached(inner, 10)
	ctx := context.Background()

	first, err := cached.Embed(ctx, "query text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	second, err := cached.Embed(ctx, "query text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("cached embedding differs from original")
	}
}

type failingProvider struct{ *Static }

var errProviderDown = errors.New("provider down")

func (f *failingProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, errProviderDown
}

func TestCachedDoesNotCacheErrors(t *testing.T) {
	cached := NewCached(&failingProvider{Static: NewStatic(8)}, 10)
	if _, err := cached.Embed(context.Background(), "x"); !errors.Is(err, errProviderDown) {
		t.Fatalf("err = %v, want errProviderDown", err)
	}
	if cached.cache.Len() != 0 {
		t.Errorf("errors must not populate the cache, len = %d", cached.cache.Len())
	}
}
