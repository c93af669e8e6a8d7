package docstore

import (
	"context"
	"sync"

	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/errors"
)

// Memory is the in-process Store used when no database is configured and
// in tests. All returned documents are copies.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]Document
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]Document)}
}

func (m *Memory) Put(ctx context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = copyDoc(doc)
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return Document{}, errors.ErrDocumentNotFound
	}
	return copyDoc(doc), nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return errors.ErrDocumentNotFound
	}
	delete(m.docs, id)
	return nil
}

func (m *Memory) Walk(ctx context.Context, fn func(Document) error) error {
	m.mu.RLock()
	snapshot := make([]Document, 0, len(m.docs))
	for _, doc := range m.docs {
		snapshot = append(snapshot, copyDoc(doc))
	}
	m.mu.RUnlock()

	for _, doc := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs), nil
}

func (m *Memory) Close() error { return nil }

func copyDoc(doc Document) Document {
	out := doc
	if doc.Metadata != nil {
		out.Metadata = make(map[string]string, len(doc.Metadata))
		for k, v := range doc.Metadata {
			out.Metadata[k] = v
		}
	}
	if doc.Embedding != nil {
		out.Embedding = append([]float32(nil), doc.Embedding...)
	}
	return out
}
