// Package engine composes the tokenizer, inverted index, vector store,
// progressive retriever, and semantic result cache into the search engine
// behind the HTTP and Kafka surfaces. All mutation and query paths go
// through Engine so index and vector state stay consistent.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/internal/docstore"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/internal/embed"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/internal/index"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/internal/rank"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/internal/retriever"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/internal/semcache"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/internal/tokenizer"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/internal/vectorstore"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/config"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/errors"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/metrics"
	pkgredis "github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/redis"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/tracing"
)

// errCancelledPartial marks a retrieval that was cut short between tiers.
// It keeps partial outcomes out of the result cache.
var errCancelledPartial = stderrors.New("retrieval cancelled with partial results")

// cachedResponse is the cacheable part of a search answer. Per-request
// fields (cache status, latency) are layered on afterwards.
type cachedResponse struct {
	Results      []SearchResult `json:"results"`
	State        string         `json:"state"`
	Tier         int            `json:"tier"`
	Threshold    float64        `json:"threshold,omitempty"`
	TiersVisited int            `json:"tiersVisited"`
	Degraded     bool           `json:"degraded,omitempty"`
	cancelled    bool
}

func (p cachedResponse) toResponse(cached bool, cacheTier string, took time.Duration) SearchResponse {
	return SearchResponse{
		Results:      p.Results,
		State:        p.State,
		Tier:         p.Tier,
		Threshold:    p.Threshold,
		TiersVisited: p.TiersVisited,
		Degraded:     p.Degraded,
		Cached:       cached,
		CacheTier:    cacheTier,
		Took:         took,
	}
}

type Engine struct {
	cfg      config.Config
	tok      *tokenizer.Tokenizer
	idx      *index.Index
	vectors  *vectorstore.Store
	store    docstore.Store
	provider embed.Provider
	ret      *retriever.Retriever
	cache    *semcache.Cache[cachedResponse]
	remote   *semcache.Remote[cachedResponse]
	metrics  *metrics.Metrics
	logger   *slog.Logger

	// mu orders compound index+vector mutations against candidate
	// assembly. The index and vector store have their own locks; this
	// one keeps a search from seeing a document in one but not the other.
	mu sync.RWMutex

	lastEvictions atomic.Int64
}

// New builds an engine from configuration. The docstore is the system of
// record; call LoadFromStore before serving to rebuild in-memory state.
func New(cfg config.Config, provider embed.Provider, store docstore.Store, m *metrics.Metrics) *Engine {
	weights := rank.Weights{BM25: cfg.Engine.WeightBM25, Vector: cfg.Engine.WeightVector}
	return &Engine{
		cfg:      cfg,
		tok:      tokenizer.New(cfg.Engine.Stopwords...),
		idx:      index.New(),
		vectors:  vectorstore.New(cfg.Embedding.Dimensions),
		store:    store,
		provider: provider,
		ret:      retriever.New(cfg.Engine.Thresholds, cfg.Engine.MinResults, weights),
		cache:    semcache.New[cachedResponse](cfg.Cache),
		metrics:  m,
		logger:   slog.Default().With("component", "engine"),
	}
}

// AttachRemoteCache adds a Redis-backed exact-fingerprint cache tier
// behind the in-memory semantic cache.
func (e *Engine) AttachRemoteCache(client *pkgredis.Client) {
	e.remote = semcache.NewRemote[cachedResponse](client, e.cfg.Redis)
}

// LoadFromStore rebuilds the inverted index and vector store from the
// document store. Corrupt documents are skipped, not fatal.
func (e *Engine) LoadFromStore(ctx context.Context) error {
	loaded := 0
	err := e.store.Walk(ctx, func(doc docstore.Document) error {
		tokens := e.tok.Tokenize(doc.Text)
		e.mu.Lock()
		if err := e.idx.Insert(doc.ID, tokens); err != nil {
			e.mu.Unlock()
			e.logger.Warn("skipping document during rebuild", "doc_id", doc.ID, "error", err)
			return nil
		}
		if doc.Embedding != nil {
			if err := e.vectors.Add(doc.ID, doc.Embedding); err != nil {
				e.logger.Warn("document rebuilt keyword-only", "doc_id", doc.ID, "error", err)
			}
		}
		e.mu.Unlock()
		loaded++
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuilding index from store: %w", err)
	}
	e.logger.Info("index rebuilt from document store", "documents", loaded, "vectors", e.vectors.Len())
	return nil
}

// IndexDocument tokenizes, embeds, and indexes one document, then persists
// it. Re-indexing an existing ID replaces the previous version wholesale.
// Embedding failure is not fatal; the document is indexed keyword-only.
func (e *Engine) IndexDocument(ctx context.Context, req IndexRequest) (string, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", fmt.Errorf("%w: empty document text", errors.ErrInvalidInput)
	}
	docID := req.ID
	if docID == "" {
		docID = contentID(text)
	}

	embedding := req.Embedding
	if embedding != nil {
		if err := rank.CheckDimensions(embedding, e.vectors.Dimensions()); err != nil {
			return "", err
		}
	} else {
		embedding = e.embed(ctx, text)
	}

	tokens := e.tok.Tokenize(text)

	e.mu.Lock()
	if e.idx.Has(docID) {
		if err := e.idx.Remove(docID); err != nil {
			e.mu.Unlock()
			return "", err
		}
		e.vectors.Remove(docID)
	}
	if err := e.idx.Insert(docID, tokens); err != nil {
		e.mu.Unlock()
		return "", err
	}
	if embedding != nil {
		if err := e.vectors.Add(docID, embedding); err != nil {
			e.logger.Warn("vector add failed, document is keyword-only", "doc_id", docID, "error", err)
			embedding = nil
		}
	}
	e.mu.Unlock()

	err := e.store.Put(ctx, docstore.Document{
		ID:        docID,
		Text:      text,
		Metadata:  req.Metadata,
		Embedding: embedding,
		IndexedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("persisting document %s: %w", docID, err)
	}

	e.metrics.DocsIndexedTotal.Inc()
	e.logger.Debug("document indexed",
		"doc_id", docID,
		"tokens", len(tokens),
		"has_vector", embedding != nil,
	)
	return docID, nil
}

// GetDocument returns one stored document by ID.
func (e *Engine) GetDocument(ctx context.Context, docID string) (docstore.Document, error) {
	return e.store.Get(ctx, docID)
}

// RemoveDocument deletes a document from the index, vector store, and
// document store. Cached results referencing it expire via TTL.
func (e *Engine) RemoveDocument(ctx context.Context, docID string) error {
	e.mu.Lock()
	if err := e.idx.Remove(docID); err != nil {
		e.mu.Unlock()
		return err
	}
	e.vectors.Remove(docID)
	e.mu.Unlock()

	if err := e.store.Delete(ctx, docID); err != nil && !stderrors.Is(err, errors.ErrDocumentNotFound) {
		return fmt.Errorf("deleting document %s: %w", docID, err)
	}
	e.metrics.DocsRemovedTotal.Inc()
	return nil
}

// Search answers a query through the cache hierarchy: in-memory semantic
// cache, optional Redis tier, then a full retrieval pass. A failed query
// embedding degrades the query to keyword-only scoring instead of failing
// it.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) (SearchResponse, error) {
	start := time.Now()
	if strings.TrimSpace(query) == "" {
		e.metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
		return SearchResponse{}, errors.ErrEmptyQuery
	}
	terms := e.tok.Terms(query)
	if len(terms) == 0 {
		// Stopword-only query: well-formed but can never match.
		resp := SearchResponse{
			Results: []SearchResult{},
			State:   retriever.StateExhausted.String(),
			Tier:    -1,
			Took:    time.Since(start),
		}
		e.observe(resp, "miss")
		return resp, nil
	}

	plan := e.planQuery(terms, opts)

	queryEmb := opts.Embedding
	if queryEmb != nil {
		if err := rank.CheckDimensions(queryEmb, e.cfg.Embedding.Dimensions); err != nil {
			e.metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
			return SearchResponse{}, err
		}
	} else {
		queryEmb = e.embed(ctx, query)
	}

	if queryEmb == nil {
		e.metrics.DegradedQueriesTotal.Inc()
		return e.searchDegraded(ctx, start, terms, plan)
	}

	var (
		partial   *cachedResponse
		remoteHit bool
	)
	payload, hit, err := e.cache.GetOrCompute(ctx, plan.fingerprint, queryEmb, func(ctx context.Context) (cachedResponse, error) {
		if e.remote != nil {
			if p, ok := e.remote.Get(ctx, plan.fingerprint); ok {
				remoteHit = true
				return p, nil
			}
		}
		p := e.execute(ctx, terms, queryEmb, plan)
		if p.cancelled {
			partial = &p
			return cachedResponse{}, errCancelledPartial
		}
		if e.remote != nil {
			e.remote.Set(ctx, plan.fingerprint, p)
		}
		return p, nil
	})
	e.syncCacheMetrics()

	if err != nil {
		if partial != nil {
			resp := partial.toResponse(false, "", time.Since(start))
			e.observe(resp, "miss")
			return resp, nil
		}
		if stderrors.Is(err, errCancelledPartial) {
			// A waiter collapsed onto a flight that was cancelled by its
			// originator.
			err = context.Canceled
		}
		e.metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
		return SearchResponse{}, err
	}

	cacheTier := ""
	cacheStatus := "miss"
	switch {
	case hit:
		cacheTier = "memory"
		cacheStatus = "hit"
		e.metrics.CacheHitsTotal.WithLabelValues("memory").Inc()
	case remoteHit:
		cacheTier = "remote"
		cacheStatus = "hit"
		e.metrics.CacheHitsTotal.WithLabelValues("remote").Inc()
	default:
		e.metrics.CacheMissesTotal.Inc()
	}

	resp := payload.toResponse(cacheTier != "", cacheTier, time.Since(start))
	e.observe(resp, cacheStatus)
	return resp, nil
}

// searchDegraded is the keyword-only path taken when no query embedding is
// available. The semantic cache needs an embedding to match against, so
// only the exact-fingerprint Redis tier applies.
func (e *Engine) searchDegraded(ctx context.Context, start time.Time, terms []string, plan queryPlan) (SearchResponse, error) {
	if e.remote != nil {
		if p, ok := e.remote.Get(ctx, plan.fingerprint); ok {
			e.metrics.CacheHitsTotal.WithLabelValues("remote").Inc()
			resp := p.toResponse(true, "remote", time.Since(start))
			resp.Degraded = true
			e.observe(resp, "hit")
			return resp, nil
		}
	}
	e.metrics.CacheMissesTotal.Inc()

	p := e.execute(ctx, terms, nil, plan)
	p.Degraded = true
	if !p.cancelled && e.remote != nil {
		e.remote.Set(ctx, plan.fingerprint, p)
	}
	resp := p.toResponse(false, "", time.Since(start))
	e.observe(resp, "miss")
	return resp, nil
}

// queryPlan is one query's effective retrieval parameters after option
// fallback. The fingerprint covers every override so distinct plans never
// collapse onto one flight or one Redis entry.
type queryPlan struct {
	k           int
	ret         *retriever.Retriever
	fingerprint string
}

// planQuery resolves per-query options against configuration. A query with
// no retrieval overrides reuses the engine's shared retriever.
func (e *Engine) planQuery(terms []string, opts SearchOptions) queryPlan {
	k := opts.K
	if k <= 0 {
		k = e.cfg.Engine.DefaultK
	}
	if e.cfg.Engine.MaxK > 0 && k > e.cfg.Engine.MaxK {
		k = e.cfg.Engine.MaxK
	}

	ret := e.ret
	if opts.MinResults > 0 || len(opts.Thresholds) > 0 || opts.Weights != nil {
		minResults := opts.MinResults
		if minResults <= 0 {
			minResults = e.cfg.Engine.MinResults
		}
		thresholds := opts.Thresholds
		if len(thresholds) == 0 {
			thresholds = e.cfg.Engine.Thresholds
		}
		weights := rank.Weights{BM25: e.cfg.Engine.WeightBM25, Vector: e.cfg.Engine.WeightVector}
		if opts.Weights != nil {
			weights = rank.Weights{BM25: opts.Weights.BM25, Vector: opts.Weights.Vector}
		}
		ret = retriever.New(thresholds, minResults, weights)
	}

	return queryPlan{k: k, ret: ret, fingerprint: queryFingerprint(terms, k, opts)}
}

// execute runs one full retrieval pass: BM25 scoring and vector search in
// parallel, candidate assembly, then the progressive threshold ladder.
func (e *Engine) execute(ctx context.Context, terms []string, queryEmb []float32, plan queryPlan) cachedResponse {
	ctx, span := tracing.StartChildSpan(ctx, "retrieval-pass")
	defer span.End()

	e.mu.RLock()
	scorer := rank.NewBM25(e.idx, e.cfg.Engine.BM25K1, e.cfg.Engine.BM25B)

	var (
		g       errgroup.Group
		bm25    map[string]float64
		matches []vectorstore.Match
	)
	g.Go(func() error {
		bm25 = scorer.Score(terms)
		return nil
	})
	if queryEmb != nil {
		g.Go(func() error {
			m, err := e.vectors.Nearest(queryEmb, e.cfg.Engine.CandidateLimit)
			if err != nil {
				e.logger.Warn("vector search failed, continuing keyword-only", "error", err)
				return nil
			}
			matches = m
			return nil
		})
	}
	g.Wait()

	candidates := e.assembleCandidates(bm25, matches, queryEmb)
	e.mu.RUnlock()

	outcome := plan.ret.Retrieve(ctx, candidates, plan.k)
	span.SetAttr("candidates", len(candidates))
	span.SetAttr("tiers_visited", outcome.TiersVisited)
	return cachedResponse{
		Results:      e.hydrate(ctx, outcome.Results),
		State:        outcome.State.String(),
		Tier:         outcome.Tier,
		Threshold:    outcome.Threshold,
		TiersVisited: outcome.TiersVisited,
		cancelled:    outcome.Cancelled,
	}
}

// assembleCandidates unions the keyword and vector candidate sets. Called
// with the engine read lock held.
func (e *Engine) assembleCandidates(bm25 map[string]float64, matches []vectorstore.Match, queryEmb []float32) []rank.Candidate {
	ids := make([]string, 0, len(bm25))
	for id := range bm25 {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if bm25[ids[i]] != bm25[ids[j]] {
			return bm25[ids[i]] > bm25[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if limit := e.cfg.Engine.CandidateLimit; limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	candidates := make([]rank.Candidate, 0, len(ids)+len(matches))
	seen := make(map[string]int, len(ids))
	for _, id := range ids {
		c := rank.Candidate{DocID: id, BM25: bm25[id]}
		if queryEmb != nil {
			if sim, ok := e.vectors.Similarity(id, queryEmb); ok {
				c.Vector = sim
				c.HasVector = true
			}
		}
		seen[id] = len(candidates)
		candidates = append(candidates, c)
	}
	for _, m := range matches {
		if _, ok := seen[m.DocID]; ok {
			continue
		}
		candidates = append(candidates, rank.Candidate{
			DocID:     m.DocID,
			Vector:    m.Similarity,
			HasVector: true,
		})
	}
	return candidates
}

// hydrate attaches stored text and metadata to ranked results. A missing
// document keeps its scores; the store may lag the index briefly.
func (e *Engine) hydrate(ctx context.Context, scored []rank.ScoredResult) []SearchResult {
	results := make([]SearchResult, 0, len(scored))
	for _, s := range scored {
		r := SearchResult{
			DocID:       s.DocID,
			BM25Score:   s.BM25Score,
			VectorScore: s.VectorScore,
			FusedScore:  s.FusedScore,
			Rank:        s.Rank,
		}
		if doc, err := e.store.Get(ctx, s.DocID); err == nil {
			r.Text = doc.Text
			r.Metadata = doc.Metadata
		}
		results = append(results, r)
	}
	return results
}

// embed computes an embedding with the configured timeout. Failures are
// reported through metrics and logged; the caller degrades to keyword-only.
func (e *Engine) embed(ctx context.Context, text string) []float32 {
	if e.provider == nil {
		return nil
	}
	ctx, span := tracing.StartChildSpan(ctx, "embedding")
	defer span.End()
	if timeout := e.cfg.Embedding.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	vec, err := e.provider.Embed(ctx, text)
	if err != nil {
		reason := "unavailable"
		if stderrors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		e.metrics.EmbeddingFailures.WithLabelValues(reason).Inc()
		e.logger.Warn("embedding failed", "provider", e.provider.Name(), "error", err)
		return nil
	}
	if err := rank.CheckDimensions(vec, e.vectors.Dimensions()); err != nil {
		e.metrics.EmbeddingFailures.WithLabelValues("dimension").Inc()
		e.logger.Warn("embedding rejected", "provider", e.provider.Name(), "error", err)
		return nil
	}
	return vec
}

func (e *Engine) observe(resp SearchResponse, cacheStatus string) {
	outcome := resp.State
	if resp.Cached {
		outcome = "cached"
	}
	e.metrics.SearchQueriesTotal.WithLabelValues(outcome).Inc()
	e.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(resp.Took.Seconds())
	e.metrics.SearchResultsCount.Observe(float64(len(resp.Results)))
	if !resp.Cached && resp.State == retriever.StateFound.String() && resp.Tier >= 0 {
		e.metrics.ThresholdTier.WithLabelValues(strconv.Itoa(resp.Tier)).Inc()
	}
	e.metrics.CacheEntries.Set(float64(e.cache.Len()))
}

// syncCacheMetrics forwards the cache's eviction count delta to Prometheus.
func (e *Engine) syncCacheMetrics() {
	_, _, evictions := e.cache.Stats()
	prev := e.lastEvictions.Swap(evictions)
	if delta := evictions - prev; delta > 0 {
		e.metrics.CacheEvictionsTotal.Add(float64(delta))
	}
}

// PurgeCache drops both cache tiers. Used by the admin surface after bulk
// re-indexing.
func (e *Engine) PurgeCache(ctx context.Context) {
	e.cache.Purge()
	if e.remote != nil {
		if _, err := e.remote.Invalidate(ctx); err != nil {
			e.logger.Warn("remote cache purge failed", "error", err)
		}
	}
	e.metrics.CacheEntries.Set(0)
}

// Stats reports current engine state for health and introspection.
func (e *Engine) Stats() Stats {
	hits, misses, evictions := e.cache.Stats()
	return Stats{
		Documents:      e.idx.DocCount(),
		Vectors:        e.vectors.Len(),
		CacheEntries:   e.cache.Len(),
		CacheHits:      hits,
		CacheMisses:    misses,
		CacheEvictions: evictions,
		ReadOnly:       e.idx.ReadOnly(),
	}
}

// Healthy reports whether the engine can serve writes. A corrupted index
// leaves reads available but fails readiness for indexing.
func (e *Engine) Healthy() error {
	if e.idx.ReadOnly() {
		return errors.ErrIndexCorrupted
	}
	return nil
}

func (e *Engine) Close() error {
	var errs []error
	if e.provider != nil {
		if err := e.provider.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return stderrors.Join(errs...)
}

func contentID(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "doc-" + hex.EncodeToString(sum[:8])
}

// queryFingerprint identifies a query for exact-match caching and
// single-flight collapse. Term order is irrelevant to scoring, so terms
// are sorted first; retrieval overrides are folded in so queries that
// differ only in options stay distinct.
func queryFingerprint(terms []string, k int, opts SearchOptions) string {
	sorted := append([]string(nil), terms...)
	sort.Strings(sorted)
	parts := append(sorted, "k="+strconv.Itoa(k))
	if opts.MinResults > 0 {
		parts = append(parts, "min="+strconv.Itoa(opts.MinResults))
	}
	for _, t := range opts.Thresholds {
		parts = append(parts, "t="+strconv.FormatFloat(t, 'f', -1, 64))
	}
	if opts.Weights != nil {
		parts = append(parts,
			"w="+strconv.FormatFloat(opts.Weights.BM25, 'f', -1, 64)+
				","+strconv.FormatFloat(opts.Weights.Vector, 'f', -1, 64))
	}
	return semcache.Fingerprint(parts...)
}
