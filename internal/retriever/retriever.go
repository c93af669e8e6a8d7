// Package retriever implements the progressive threshold state machine. A
// query runs one fusion pass per similarity tier, walking a descending
// threshold list until enough results accumulate or the list is exhausted.
// The state machine is explicit so cancellation between tiers and
// observability of the satisfying tier are first-class.
package retriever

import (
	"context"
	"log/slog"

	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/internal/rank"
)

// State is the retriever's phase. Searching is the only non-terminal state.
type State int

const (
	StateSearching State = iota
	StateFound
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateSearching:
		return "searching"
	case StateFound:
		return "found"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// DefaultThresholds is the descending relaxation ladder used when none is
// configured.
var DefaultThresholds = []float64{0.75, 0.70, 0.65, 0.60}

// Outcome is the result of one retrieval run. Tier is the 0-based index of
// the threshold that satisfied the query, or -1 when the ladder was
// exhausted or the query had no vector signal.
type Outcome struct {
	Results      []rank.ScoredResult
	State        State
	Tier         int
	Threshold    float64
	TiersVisited int
	Cancelled    bool
}

// Retriever runs progressive fusion passes.
type Retriever struct {
	thresholds []float64
	minResults int
	weights    rank.Weights
	logger     *slog.Logger
}

// New creates a Retriever. An empty threshold list falls back to
// DefaultThresholds; minResults below 1 is raised to 1.
func New(thresholds []float64, minResults int, weights rank.Weights) *Retriever {
	if len(thresholds) == 0 {
		thresholds = DefaultThresholds
	}
	if minResults < 1 {
		minResults = 1
	}
	return &Retriever{
		thresholds: thresholds,
		minResults: minResults,
		weights:    weights,
		logger:     slog.Default().With("component", "retriever"),
	}
}

// Retrieve walks the threshold ladder over the candidate set. Candidates
// carrying a vector signal are admitted to a tier only when their
// similarity reaches that tier's threshold; candidates without a vector
// signal cannot be similarity-gated and participate in every tier with a
// zero vector contribution. Tiers are visited strictly in order and never
// revisited. Cancellation is checked before each tier and yields a
// partial-result outcome, not an error.
func (r *Retriever) Retrieve(ctx context.Context, candidates []rank.Candidate, limit int) Outcome {
	if !hasVectorSignal(candidates) {
		// Keyword-only: a single pass over all candidates, no ladder.
		results := rank.Fuse(candidates, r.weights, limit)
		state := StateFound
		if len(results) < r.minResults {
			state = StateExhausted
		}
		return Outcome{Results: results, State: state, Tier: -1}
	}

	outcome := Outcome{State: StateSearching, Tier: -1, Results: []rank.ScoredResult{}}
	for i, threshold := range r.thresholds {
		if err := ctx.Err(); err != nil {
			outcome.Cancelled = true
			r.logger.Debug("retrieval cancelled between tiers",
				"tiers_visited", outcome.TiersVisited,
				"results", len(outcome.Results),
			)
			return outcome
		}

		tier := filterByThreshold(candidates, threshold)
		outcome.Results = rank.Fuse(tier, r.weights, limit)
		outcome.TiersVisited = i + 1
		outcome.Threshold = threshold

		if len(outcome.Results) >= r.minResults {
			outcome.State = StateFound
			outcome.Tier = i
			r.logger.Debug("retrieval satisfied",
				"tier", i,
				"threshold", threshold,
				"results", len(outcome.Results),
			)
			return outcome
		}
	}

	outcome.State = StateExhausted
	outcome.Tier = -1
	return outcome
}

func hasVectorSignal(candidates []rank.Candidate) bool {
	for _, c := range candidates {
		if c.HasVector {
			return true
		}
	}
	return false
}

func filterByThreshold(candidates []rank.Candidate, threshold float64) []rank.Candidate {
	out := make([]rank.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.HasVector && c.Vector < threshold {
			continue
		}
		out = append(out, c)
	}
	return out
}
