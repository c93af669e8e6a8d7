// Package docstore persists the documents behind the search index. The
// engine treats it as the system of record: the inverted index and the
// vector store are rebuilt from it at startup.
package docstore

import (
	"context"
	"time"
)

// Document is a stored document with its optional embedding. Metadata is
// opaque to the engine and returned verbatim in search results.
type Document struct {
	ID        string            `json:"id"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float32         `json:"embedding,omitempty"`
	IndexedAt time.Time         `json:"indexed_at"`
}

// Store is the persistence contract. Put overwrites any existing document
// with the same ID. Get and Delete return errors.ErrDocumentNotFound for
// unknown IDs.
type Store interface {
	Put(ctx context.Context, doc Document) error
	Get(ctx context.Context, id string) (Document, error)
	Delete(ctx context.Context, id string) error
	// Walk visits every stored document. Iteration stops at the first
	// error returned by fn.
	Walk(ctx context.Context, fn func(Document) error) error
	Count(ctx context.Context) (int, error)
	Close() error
}
