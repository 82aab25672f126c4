// Package validator scores retrieval results and decides whether the
// orchestrator may proceed to synthesis or must advance down the fallback
// chain. Thresholds and weights live in configuration; the score model is
// deliberately simple and tunable.
package validator

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/metrics"
	"github.com/finsight-ai/finsight/internal/models"
	"github.com/finsight-ai/finsight/internal/retrieval"
)

// Reason codes carried on a verdict.
const (
	ReasonAccepted             = "accepted"
	ReasonInsufficientEvidence = "insufficient-evidence"
	ReasonLowRelevance         = "low-relevance"
	ReasonLowCoverage          = "low-coverage"
)

// Verdict is the validator's decision about one retrieval result.
type Verdict struct {
	Score  float64 // 0..1
	Accept bool
	Reason string

	// CoverageGaps lists declared query aspects the evidence does not
	// reflect. The synthesizer surfaces these explicitly in the answer.
	CoverageGaps []string
}

// Completer is the optional language-model coverage judge.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Validator scores results against their originating context.
type Validator struct {
	cfg       config.ValidationConfig
	completer Completer // nil disables the model judgment
	logger    *zap.Logger
}

// New builds a validator. completer may be nil.
func New(cfg config.ValidationConfig, completer Completer, logger *zap.Logger) *Validator {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.CountCeiling <= 0 {
		cfg.CountCeiling = 3
	}
	return &Validator{cfg: cfg, completer: completer, logger: logger}
}

// Validate scores res for qc against the configured accept threshold.
// Score components: mean relevance of the top-K evidence items, coverage of
// the query's declared aspects, and an evidence-count factor that saturates
// at the configured ceiling.
func (v *Validator) Validate(ctx context.Context, res *retrieval.Result, qc models.QueryContext) Verdict {
	return v.ValidateThreshold(ctx, res, qc, 0)
}

// ValidateThreshold is Validate with a per-call accept threshold. A
// threshold <= 0 uses the configured one.
func (v *Validator) ValidateThreshold(ctx context.Context, res *retrieval.Result, qc models.QueryContext, threshold float64) Verdict {
	if threshold <= 0 {
		threshold = v.cfg.AcceptThreshold
	}
	count := len(res.Evidence)
	if count == 0 {
		metrics.ValidationRejections.WithLabelValues(ReasonInsufficientEvidence).Inc()
		return Verdict{Score: 0, Accept: false, Reason: ReasonInsufficientEvidence}
	}

	rel := v.meanRelevance(res.Evidence)
	cov, gaps := v.coverage(ctx, res, qc)
	cnt := countFactor(count, v.cfg.CountCeiling)

	wTotal := v.cfg.RelevanceWeight + v.cfg.CoverageWeight + v.cfg.CountWeight
	if wTotal <= 0 {
		wTotal = 1
	}
	score := (v.cfg.RelevanceWeight*rel + v.cfg.CoverageWeight*cov + v.cfg.CountWeight*cnt) / wTotal
	metrics.ValidationScores.Observe(score)

	verdict := Verdict{Score: score, CoverageGaps: gaps}
	switch {
	case count < v.cfg.MinEvidence:
		verdict.Reason = ReasonInsufficientEvidence
	case score >= threshold:
		verdict.Accept = true
		verdict.Reason = ReasonAccepted
	case cov < rel:
		verdict.Reason = ReasonLowCoverage
	default:
		verdict.Reason = ReasonLowRelevance
	}

	if !verdict.Accept {
		metrics.ValidationRejections.WithLabelValues(verdict.Reason).Inc()
	}
	v.logger.Debug("validated retrieval result",
		zap.String("strategy", string(res.Strategy)),
		zap.Float64("score", score),
		zap.Float64("relevance", rel),
		zap.Float64("coverage", cov),
		zap.Int("evidence", count),
		zap.Bool("accept", verdict.Accept),
		zap.String("reason", verdict.Reason),
	)
	return verdict
}

func (v *Validator) meanRelevance(evidence []retrieval.Evidence) float64 {
	k := v.cfg.TopK
	if k > len(evidence) {
		k = len(evidence)
	}
	sum := 0.0
	for _, e := range evidence[:k] {
		sum += e.Score
	}
	return sum / float64(k)
}

// coverage estimates the fraction of the query's declared aspects that the
// evidence reflects. The model judgment, when enabled and reachable,
// replaces the keyword estimate; its failure silently falls back.
func (v *Validator) coverage(ctx context.Context, res *retrieval.Result, qc models.QueryContext) (float64, []string) {
	kw, gaps := keywordCoverage(res, qc)
	if v.cfg.UseLLMJudgment && v.completer != nil {
		if score, ok := v.judge(ctx, res, qc); ok {
			return score, gaps
		}
	}
	return kw, gaps
}

// aspect is one declared facet of the query the evidence should reflect.
type aspect struct {
	label string
	terms []string // any match counts the aspect covered
}

func declaredAspects(qc models.QueryContext) []aspect {
	var aspects []aspect
	if qc.HasEntity() {
		aspects = append(aspects, aspect{label: "entity " + qc.CompanyID, terms: []string{strings.ToLower(qc.CompanyID)}})
	}
	if qc.Year != 0 {
		aspects = append(aspects, aspect{label: fmt.Sprintf("year %d", qc.Year), terms: []string{strconv.Itoa(qc.Year)}})
	}
	if qc.Quarter != "" {
		aspects = append(aspects, aspect{label: "quarter " + qc.Quarter, terms: []string{strings.ToLower(qc.Quarter)}})
	}
	if qc.HasMetric() {
		aspects = append(aspects, aspect{label: "metric " + qc.Metric, terms: strings.Fields(strings.ToLower(qc.Metric))})
	}
	for _, t := range qc.Topics {
		aspects = append(aspects, aspect{label: "topic " + t.Label(), terms: strings.Fields(t.Label())})
	}
	return aspects
}

func keywordCoverage(res *retrieval.Result, qc models.QueryContext) (float64, []string) {
	aspects := declaredAspects(qc)
	if len(aspects) == 0 {
		// Nothing declared to cover; non-empty evidence counts as covered.
		return 1, nil
	}

	var all strings.Builder
	for _, e := range res.Evidence {
		all.WriteString(strings.ToLower(e.Text))
		all.WriteByte(' ')
	}
	haystack := all.String()

	covered := 0
	var gaps []string
	for _, a := range aspects {
		hit := false
		for _, term := range a.terms {
			if strings.Contains(haystack, term) {
				hit = true
				break
			}
		}
		if hit {
			covered++
		} else {
			gaps = append(gaps, a.label)
		}
	}
	return float64(covered) / float64(len(aspects)), gaps
}

const judgePrompt = `Rate from 0 to 10 how well the evidence below answers the question.
Respond with only the number.

Question: %s

Evidence:
%s`

// judge asks the model for a 0-10 relevance rating and normalizes it.
func (v *Validator) judge(ctx context.Context, res *retrieval.Result, qc models.QueryContext) (float64, bool) {
	var sb strings.Builder
	for i, e := range res.Evidence {
		if i >= v.cfg.TopK {
			break
		}
		fmt.Fprintf(&sb, "- %s\n", e.Text)
	}
	out, err := v.completer.Complete(ctx, fmt.Sprintf(judgePrompt, qc.RawQuery, sb.String()))
	if err != nil {
		v.logger.Debug("coverage judgment unavailable", zap.Error(err))
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil || n < 0 || n > 10 {
		v.logger.Debug("coverage judgment unparseable", zap.String("output", out))
		return 0, false
	}
	return n / 10, true
}

// countFactor rises linearly with evidence count and saturates at ceiling.
func countFactor(count, ceiling int) float64 {
	if count >= ceiling {
		return 1
	}
	return float64(count) / float64(ceiling)
}
