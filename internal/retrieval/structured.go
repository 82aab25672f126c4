package retrieval

import (
	"context"

	"go.uber.org/zap"

	"github.com/finsight-ai/finsight/internal/knowledge"
	"github.com/finsight-ai/finsight/internal/models"
)

// StructuredLookup answers from the structured knowledge base by exact
// hierarchical key. Results are exact matches and carry full relevance;
// an absent key segment simply narrows to nothing.
type StructuredLookup struct {
	store  KnowledgeStore
	logger *zap.Logger
}

// NewStructuredLookup wires the strategy to a knowledge store.
func NewStructuredLookup(store KnowledgeStore, logger *zap.Logger) *StructuredLookup {
	return &StructuredLookup{store: store, logger: logger}
}

func (s *StructuredLookup) Tag() StrategyTag { return StrategyStructured }

func (s *StructuredLookup) Execute(ctx context.Context, qc models.QueryContext) (*Result, error) {
	key := knowledge.Key{
		CompanyID: qc.CompanyID,
		Year:      qc.Year,
		Quarter:   qc.Quarter,
		DocType:   qc.DocType,
	}
	passages, err := s.store.Lookup(ctx, key)
	if err != nil {
		return &Result{Strategy: s.Tag(), Status: StatusUnavailable}, unavailable(err)
	}
	if len(passages) == 0 {
		s.logger.Debug("structured lookup empty",
			zap.String("company", qc.CompanyID),
			zap.Int("year", qc.Year),
			zap.String("quarter", qc.Quarter),
		)
		return &Result{Strategy: s.Tag(), Status: StatusEmpty}, nil
	}

	// Store ordering is already recency then section order.
	evidence := make([]Evidence, 0, len(passages))
	for _, p := range passages {
		evidence = append(evidence, Evidence{
			Source:  p.DocID,
			Text:    p.Text,
			Score:   1.0, // exact key match
			DocID:   p.DocID,
			Section: sectionLabel(p),
		})
	}
	return &Result{Strategy: s.Tag(), Evidence: evidence, Status: StatusOK}, nil
}

func sectionLabel(p knowledge.Passage) string {
	if p.SectionName != "" {
		return p.SectionName
	}
	return p.Section
}
