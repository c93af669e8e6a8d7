package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/config"
	apperrors "github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/errors"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/resilience"
)

// Remote calls an embedding service over HTTP. Failures and timeouts are
// reported as ErrEmbeddingUnavailable so callers can degrade to
// keyword-only scoring; a circuit breaker stops hammering a dead service.
type Remote struct {
	client   *http.Client
	endpoint string
	model    string
	dims     int
	timeout  time.Duration
	breaker  *resilience.CircuitBreaker
	logger   *slog.Logger
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewRemote creates a Remote provider from config.
func NewRemote(cfg config.EmbeddingConfig) *Remote {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Remote{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		dims:     cfg.Dimensions,
		timeout:  timeout,
		breaker:  resilience.NewCircuitBreaker("embedding", resilience.CircuitBreakerConfig{}),
		logger:   slog.Default().With("component", "embed-remote"),
	}
}

func (r *Remote) Embed(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := r.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, r.timeout, "embed", func(ctx context.Context) error {
			var err error
			vector, err = r.doEmbed(ctx, text)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrEmbeddingUnavailable, err)
	}
	if len(vector) != r.dims {
		return nil, fmt.Errorf("%w: provider returned %d dims, want %d",
			apperrors.ErrDimensionMismatch, len(vector), r.dims)
	}
	return vector, nil
}

func (r *Remote) doEmbed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: r.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling embedding service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, data)
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}
	return decoded.Embedding, nil
}

func (r *Remote) Dimensions() int { return r.dims }

func (r *Remote) Name() string { return "http:" + r.model }

func (r *Remote) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
