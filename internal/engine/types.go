package engine

import "time"

// IndexRequest is one document to index. ID is optional; when empty a
// content-derived ID is assigned. Embedding is optional; when absent the
// configured provider computes one, and on provider failure the document
// is indexed keyword-only.
type IndexRequest struct {
	ID        string            `json:"id,omitempty"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float32         `json:"embedding,omitempty"`
}

// SearchOptions tunes one query. Zero values fall back to configuration.
type SearchOptions struct {
	K          int            `json:"k,omitempty"`
	MinResults int            `json:"minResults,omitempty"`
	Thresholds []float64      `json:"thresholds,omitempty"`
	Weights    *SearchWeights `json:"weights,omitempty"`
	// Embedding is a precomputed query embedding. When present the
	// provider is not consulted for this query.
	Embedding []float32 `json:"embedding,omitempty"`
}

// SearchWeights overrides the fusion weights for one query.
type SearchWeights struct {
	BM25   float64 `json:"bm25"`
	Vector float64 `json:"vector"`
}

// SearchResult is one ranked hit.
type SearchResult struct {
	DocID       string            `json:"docId"`
	Text        string            `json:"text,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	BM25Score   float64           `json:"bm25Score"`
	VectorScore float64           `json:"vectorScore"`
	FusedScore  float64           `json:"fusedScore"`
	Rank        int               `json:"rank"`
}

// SearchResponse is the full answer to a query, including how it was
// obtained. Tier is -1 when the threshold ladder was exhausted or never
// entered.
type SearchResponse struct {
	Results      []SearchResult `json:"results"`
	State        string         `json:"state"`
	Tier         int            `json:"tier"`
	Threshold    float64        `json:"threshold,omitempty"`
	TiersVisited int            `json:"tiersVisited"`
	Degraded     bool           `json:"degraded,omitempty"`
	Cached       bool           `json:"cached"`
	CacheTier    string         `json:"cacheTier,omitempty"`
	Took         time.Duration  `json:"took"`
}

// Stats is a point-in-time snapshot for health and introspection endpoints.
type Stats struct {
	Documents      int   `json:"documents"`
	Vectors        int   `json:"vectors"`
	CacheEntries   int   `json:"cacheEntries"`
	CacheHits      int64 `json:"cacheHits"`
	CacheMisses    int64 `json:"cacheMisses"`
	CacheEvictions int64 `json:"cacheEvictions"`
	ReadOnly       bool  `json:"readOnly"`
}
