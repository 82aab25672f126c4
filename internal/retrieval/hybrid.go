package retrieval

import (
	"context"

	"go.uber.org/zap"

	"github.com/finsight-ai/finsight/internal/models"
	"github.com/finsight-ai/finsight/internal/vectordb"
)

// FilteredSemantic pre-filters the vector index by entity/period metadata
// and ranks what remains by similarity. When the filtered pool comes back
// empty it retries unfiltered over the full corpus, so an over-narrow
// metadata combination still gives the validator something to judge; the
// evidence is annotated with whether filtering applied.
type FilteredSemantic struct {
	index    VectorIndex
	embedder Embedder
	topK     int
	logger   *zap.Logger
}

// NewFilteredSemantic wires the hybrid strategy.
func NewFilteredSemantic(index VectorIndex, embedder Embedder, topK int, logger *zap.Logger) *FilteredSemantic {
	if topK <= 0 {
		topK = 10
	}
	return &FilteredSemantic{index: index, embedder: embedder, topK: topK, logger: logger}
}

func (h *FilteredSemantic) Tag() StrategyTag { return StrategyHybrid }

func (h *FilteredSemantic) Execute(ctx context.Context, qc models.QueryContext) (*Result, error) {
	embedding, err := h.embedder.Embed(ctx, qc.RawQuery)
	if err != nil {
		return &Result{Strategy: h.Tag(), Status: StatusUnavailable}, unavailable(err)
	}

	filter := vectordb.Filter(qc.CompanyID, qc.Year, qc.Quarter, qc.DocType)
	matches, err := h.index.Query(ctx, embedding, h.topK, filter)
	if err != nil {
		return &Result{Strategy: h.Tag(), Status: StatusUnavailable}, unavailable(err)
	}

	filtered := filter != nil
	if len(matches) == 0 && filtered {
		h.logger.Debug("filtered pool empty, widening to full corpus",
			zap.String("company", qc.CompanyID),
			zap.Int("year", qc.Year),
		)
		matches, err = h.index.Query(ctx, embedding, h.topK, nil)
		if err != nil {
			return &Result{Strategy: h.Tag(), Status: StatusUnavailable}, unavailable(err)
		}
		filtered = false
	}
	if len(matches) == 0 {
		return &Result{Strategy: h.Tag(), Status: StatusEmpty}, nil
	}

	evidence := make([]Evidence, 0, len(matches))
	for _, m := range matches {
		evidence = append(evidence, Evidence{
			Source:   m.DocID,
			Text:     m.Text,
			Score:    clampScore(m.Similarity),
			DocID:    m.DocID,
			Section:  m.Section,
			Filtered: filtered,
		})
	}
	return &Result{Strategy: h.Tag(), Evidence: evidence, Status: StatusOK}, nil
}
