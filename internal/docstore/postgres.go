package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/errors"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/postgres"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/resilience"
)

// Postgres persists documents in PostgreSQL.
//
// It requires a `documents` table:
//
//	CREATE TABLE documents (
//	    id         TEXT PRIMARY KEY,
//	    body       TEXT NOT NULL,
//	    metadata   JSONB,
//	    embedding  JSONB,
//	    indexed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type Postgres struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewPostgres(db *postgres.Client) *Postgres {
	return &Postgres{
		db:     db,
		logger: slog.Default().With("component", "docstore"),
	}
}

func (p *Postgres) Put(ctx context.Context, doc Document) error {
	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	var embedding []byte
	if doc.Embedding != nil {
		embedding, err = json.Marshal(doc.Embedding)
		if err != nil {
			return fmt.Errorf("marshaling embedding: %w", err)
		}
	}
	indexedAt := doc.IndexedAt
	if indexedAt.IsZero() {
		indexedAt = time.Now().UTC()
	}

	// Writes come from the async ingest path, so transient connection
	// drops are worth a short retry before surfacing.
	err = resilience.Retry(ctx, "docstore-put", resilience.RetryConfig{MaxAttempts: 3}, func() error {
		_, execErr := p.db.DB.ExecContext(ctx,
			`INSERT INTO documents (id, body, metadata, embedding, indexed_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO UPDATE
			 SET body = EXCLUDED.body,
			     metadata = EXCLUDED.metadata,
			     embedding = EXCLUDED.embedding,
			     indexed_at = EXCLUDED.indexed_at`,
			doc.ID, doc.Text, metadata, embedding, indexedAt,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("saving document %s: %w", doc.ID, err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (Document, error) {
	row := p.db.DB.QueryRowContext(ctx,
		`SELECT id, body, metadata, embedding, indexed_at FROM documents WHERE id = $1`,
		id,
	)
	doc, err := scanDocument(row.Scan)
	if err == sql.ErrNoRows {
		return Document{}, errors.ErrDocumentNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("querying document %s: %w", id, err)
	}
	return doc, nil
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	result, err := p.db.DB.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	if affected == 0 {
		return errors.ErrDocumentNotFound
	}
	return nil
}

func (p *Postgres) Walk(ctx context.Context, fn func(Document) error) error {
	rows, err := p.db.DB.QueryContext(ctx,
		`SELECT id, body, metadata, embedding, indexed_at FROM documents ORDER BY id`,
	)
	if err != nil {
		return fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			p.logger.Warn("skipping corrupt document row", "error", err)
			continue
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (p *Postgres) Count(ctx context.Context) (int, error) {
	var n int
	err := p.db.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

func (p *Postgres) Close() error { return nil }

func scanDocument(scan func(...any) error) (Document, error) {
	var (
		doc       Document
		metadata  []byte
		embedding []byte
	)
	if err := scan(&doc.ID, &doc.Text, &metadata, &embedding, &doc.IndexedAt); err != nil {
		return Document{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
			return Document{}, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	if len(embedding) > 0 {
		if err := json.Unmarshal(embedding, &doc.Embedding); err != nil {
			return Document{}, fmt.Errorf("unmarshaling embedding: %w", err)
		}
	}
	return doc, nil
}
