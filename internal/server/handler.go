// Package server exposes the engine over HTTP: search, document CRUD,
// cache administration, and health endpoints.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/internal/engine"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/errors"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/logger"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/middleware"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/tracing"
)

type Handler struct {
	engine *engine.Engine
	logger *slog.Logger
}

func NewHandler(e *engine.Engine) *Handler {
	return &Handler{
		engine: e,
		logger: slog.Default().With("component", "http-handler"),
	}
}

// Search handles GET /api/v1/search?q=...&k=N.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}

	opts := engine.SearchOptions{}
	if kStr := r.URL.Query().Get("k"); kStr != "" {
		k, err := strconv.Atoi(kStr)
		if err != nil || k < 1 {
			h.writeError(w, http.StatusBadRequest, "k must be a positive integer")
			return
		}
		opts.K = k
	}

	ctx, span := tracing.StartSpan(ctx, "search", middleware.GetRequestID(ctx))
	defer func() {
		span.End()
		span.Log()
	}()

	resp, err := h.engine.Search(ctx, query, opts)
	if err != nil {
		log.Error("search failed", "query", query, "error", err)
		h.writeError(w, errors.HTTPStatusCode(err), err.Error())
		return
	}

	span.SetAttr("results", len(resp.Results))
	span.SetAttr("cached", resp.Cached)

	log.Info("search completed",
		"query", query,
		"returned", len(resp.Results),
		"state", resp.State,
		"tier", resp.Tier,
		"cached", resp.Cached,
		"degraded", resp.Degraded,
		"took_ms", resp.Took.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, resp)
}

// IndexDocument handles POST /api/v1/documents.
func (h *Handler) IndexDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req engine.IndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	docID, err := h.engine.IndexDocument(ctx, req)
	if err != nil {
		log.Error("indexing failed", "doc_id", req.ID, "error", err)
		h.writeError(w, errors.HTTPStatusCode(err), err.Error())
		return
	}

	log.Info("document indexed", "doc_id", docID)
	h.writeJSON(w, http.StatusCreated, map[string]string{"docId": docID})
}

// GetDocument handles GET /api/v1/documents/{id}.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("id")
	doc, err := h.engine.GetDocument(r.Context(), docID)
	if err != nil {
		h.writeError(w, errors.HTTPStatusCode(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

// RemoveDocument handles DELETE /api/v1/documents/{id}.
func (h *Handler) RemoveDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	docID := r.PathValue("id")
	if err := h.engine.RemoveDocument(ctx, docID); err != nil {
		log.Error("removal failed", "doc_id", docID, "error", err)
		h.writeError(w, errors.HTTPStatusCode(err), err.Error())
		return
	}
	log.Info("document removed", "doc_id", docID)
	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /api/v1/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Stats())
}

// CacheInvalidate handles POST /api/v1/cache/invalidate.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	h.engine.PurgeCache(r.Context())
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
