package retrieval

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/finsight-ai/finsight/internal/models"
)

// PureSemantic ranks the whole corpus by vector similarity, then drops
// near-duplicate snippets so the synthesizer does not cite the same text
// twice under different ids.
type PureSemantic struct {
	index          VectorIndex
	embedder       Embedder
	topK           int
	dedupThreshold float64 // Jaccard token overlap above which snippets are duplicates
	logger         *zap.Logger
}

// NewPureSemantic wires the pure semantic strategy.
func NewPureSemantic(index VectorIndex, embedder Embedder, topK int, logger *zap.Logger) *PureSemantic {
	if topK <= 0 {
		topK = 10
	}
	return &PureSemantic{
		index:          index,
		embedder:       embedder,
		topK:           topK,
		dedupThreshold: 0.8,
		logger:         logger,
	}
}

func (p *PureSemantic) Tag() StrategyTag { return StrategySemantic }

func (p *PureSemantic) Execute(ctx context.Context, qc models.QueryContext) (*Result, error) {
	embedding, err := p.embedder.Embed(ctx, qc.RawQuery)
	if err != nil {
		return &Result{Strategy: p.Tag(), Status: StatusUnavailable}, unavailable(err)
	}

	// Over-fetch so dedup still leaves topK results.
	matches, err := p.index.Query(ctx, embedding, p.topK*2, nil)
	if err != nil {
		return &Result{Strategy: p.Tag(), Status: StatusUnavailable}, unavailable(err)
	}
	if len(matches) == 0 {
		return &Result{Strategy: p.Tag(), Status: StatusEmpty}, nil
	}

	evidence := make([]Evidence, 0, p.topK)
	kept := make([][]string, 0, p.topK)
	for _, m := range matches {
		tokens := tokenize(m.Text)
		dup := false
		for _, prev := range kept {
			if jaccard(tokens, prev) >= p.dedupThreshold {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		kept = append(kept, tokens)
		evidence = append(evidence, Evidence{
			Source:  m.DocID,
			Text:    m.Text,
			Score:   clampScore(m.Similarity),
			DocID:   m.DocID,
			Section: m.Section,
		})
		if len(evidence) >= p.topK {
			break
		}
	}
	return &Result{Strategy: p.Tag(), Evidence: evidence, Status: StatusOK}, nil
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// jaccard computes token-set overlap between two snippets.
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	inter := 0
	bset := make(map[string]struct{}, len(b))
	for _, t := range b {
		if _, dup := bset[t]; dup {
			continue
		}
		bset[t] = struct{}{}
		if _, ok := set[t]; ok {
			inter++
		}
	}
	union := len(set) + len(bset) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
