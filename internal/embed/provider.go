// Package embed abstracts embedding generation behind a Provider interface
// so the engine can score vectors without knowing where they come from. A
// remote HTTP provider is used in production; the deterministic static
// provider serves tests and offline operation.
package embed

import (
	"context"
)

// Provider generates fixed-dimension embedding vectors for text.
type Provider interface {
	// Embed returns the embedding for text, or ErrEmbeddingUnavailable when
	// the provider cannot serve the request.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the fixed embedding dimension.
	Dimensions() int

	// Name identifies the provider/model for logging.
	Name() string

	// Close releases provider resources.
	Close() error
}
