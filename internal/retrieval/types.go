// Package retrieval defines the strategy abstraction the router chooses
// between, and its three implementations: structured lookup, filtered
// semantic (hybrid), and pure semantic search.
package retrieval

import (
	"context"
	"errors"

	"github.com/finsight-ai/finsight/internal/knowledge"
	"github.com/finsight-ai/finsight/internal/models"
	"github.com/finsight-ai/finsight/internal/vectordb"
)

// StrategyTag names one retrieval strategy.
type StrategyTag string

const (
	StrategyStructured StrategyTag = "structured"
	StrategyHybrid     StrategyTag = "hybrid"
	StrategySemantic   StrategyTag = "semantic"
)

// Status is the backend-reported outcome of one retrieval.
type Status string

const (
	StatusOK          Status = "ok"
	StatusEmpty       Status = "empty"
	StatusUnavailable Status = "unavailable"
)

// ErrBackendUnavailable marks transport or connectivity failure. The
// orchestrator advances to the next fallback immediately on this error,
// without consulting the validator. "No results" is never this error.
var ErrBackendUnavailable = errors.New("retrieval backend unavailable")

// Evidence is a single retrieved unit with its citation metadata.
type Evidence struct {
	Source   string  // source identifier used for citation dedup
	Text     string  // snippet
	Score    float64 // relevance in [0,1]
	DocID    string
	Section  string
	Filtered bool // hybrid only: true when metadata filtering was applied
}

// Result is the ordered outcome of one strategy execution, most relevant
// evidence first.
type Result struct {
	Strategy StrategyTag
	Evidence []Evidence
	Status   Status
}

// Strategy is the common contract. Execute never errors for "no results";
// it returns StatusEmpty. The only error it returns wraps
// ErrBackendUnavailable.
type Strategy interface {
	Tag() StrategyTag
	Execute(ctx context.Context, qc models.QueryContext) (*Result, error)
}

// KnowledgeStore is the structured lookup capability the strategies consume.
type KnowledgeStore interface {
	Lookup(ctx context.Context, key knowledge.Key) ([]knowledge.Passage, error)
}

// VectorIndex is the similarity search capability.
type VectorIndex interface {
	Query(ctx context.Context, embedding []float32, topK int, filter map[string]interface{}) ([]vectordb.Match, error)
}

// Embedder turns query text into a vector for the index.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// unavailable wraps a transport error into the sentinel class.
func unavailable(err error) error {
	return errors.Join(ErrBackendUnavailable, err)
}

// clampScore keeps backend scores inside [0,1].
func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
