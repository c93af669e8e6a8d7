// Package ingest reads document events from Kafka and feeds them to the
// engine, publishing completion events so downstream consumers can track
// indexing progress.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/internal/engine"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/kafka"
)

// DocumentEvent is one ingest message. Op is "index" (default) or
// "remove". Embedding is optional; absent embeddings are computed by the
// engine's provider.
type DocumentEvent struct {
	Op        string            `json:"op,omitempty"`
	ID        string            `json:"id,omitempty"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float32         `json:"embedding,omitempty"`
}

// CompletionEvent is published after each processed document.
type CompletionEvent struct {
	DocID     string    `json:"docId"`
	Op        string    `json:"op"`
	Status    string    `json:"status"` // "ok" or "failed"
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Consumer drives the engine from a Kafka topic.
type Consumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New wraps a Kafka consumer for the ingest pipeline.
func New(kafkaConsumer *kafka.Consumer) *Consumer {
	return &Consumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "ingest-consumer"),
	}
}

// Start begins consuming. It blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("ingest consumer starting")
	return c.consumer.Start(ctx)
}

// HandleMessage returns a Kafka MessageHandler that applies each document
// event to the engine. Malformed events are logged and skipped rather
// than retried; indexing failures are reported through the completion
// topic when a producer is configured.
func HandleMessage(e *engine.Engine, completions *kafka.Producer) kafka.MessageHandler {
	logger := slog.Default().With("component", "ingest-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[DocumentEvent](value)
		if err != nil {
			logger.Error("failed to decode document event",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		op := event.Op
		if op == "" {
			op = "index"
		}

		var docID string
		switch op {
		case "index":
			docID, err = e.IndexDocument(ctx, engine.IndexRequest{
				ID:        event.ID,
				Text:      event.Text,
				Metadata:  event.Metadata,
				Embedding: event.Embedding,
			})
		case "remove":
			docID = event.ID
			err = e.RemoveDocument(ctx, event.ID)
		default:
			logger.Error("unknown document event op", "op", event.Op, "key", string(key))
			return nil
		}

		if err != nil {
			publishCompletion(ctx, completions, logger, CompletionEvent{
				DocID:     docID,
				Op:        op,
				Status:    "failed",
				Error:     err.Error(),
				Timestamp: time.Now().UTC(),
			})
			return fmt.Errorf("%s document %s: %w", op, docID, err)
		}

		publishCompletion(ctx, completions, logger, CompletionEvent{
			DocID:     docID,
			Op:        op,
			Status:    "ok",
			Timestamp: time.Now().UTC(),
		})
		logger.Info("document event processed", "op", op, "doc_id", docID)
		return nil
	}
}

func publishCompletion(ctx context.Context, producer *kafka.Producer, logger *slog.Logger, event CompletionEvent) {
	if producer == nil {
		return
	}
	if err := producer.Publish(ctx, kafka.Event{Key: event.DocID, Value: event}); err != nil {
		logger.Error("failed to publish completion event",
			"doc_id", event.DocID,
			"error", err,
		)
	}
}
