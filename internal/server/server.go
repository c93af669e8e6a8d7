package server

import (
	"net/http"
	"time"

	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/health"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/metrics"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/middleware"
)

// NewRouter wires the API routes and middleware chain. The metrics
// middleware is innermost so it observes the status the handler actually
// wrote, and RequestID is outermost so every log line carries an ID.
func NewRouter(h *Handler, checker *health.Checker, m *metrics.Metrics, requestTimeout time.Duration) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("POST /api/v1/documents", h.IndexDocument)
	mux.HandleFunc("GET /api/v1/documents/{id}", h.GetDocument)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", h.RemoveDocument)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	if requestTimeout > 0 {
		chain = middleware.Timeout(requestTimeout)(chain)
	}
	chain = middleware.RequestID(chain)
	return chain
}
