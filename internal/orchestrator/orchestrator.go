// Package orchestrator wires extraction, planning, retrieval, validation,
// and synthesis into one state machine per query. Single-topic queries run
// one sequential pipeline; decomposed queries fan out one pipeline per topic
// and merge the results deterministically.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/metrics"
	"github.com/finsight-ai/finsight/internal/models"
	"github.com/finsight-ai/finsight/internal/planner"
	"github.com/finsight-ai/finsight/internal/retrieval"
	"github.com/finsight-ai/finsight/internal/synthesis"
	"github.com/finsight-ai/finsight/internal/validator"
)

// Extractor produces a structured context from raw query text.
type Extractor interface {
	Extract(ctx context.Context, raw string) models.QueryContext
}

// Orchestrator runs queries end to end. All collaborators are fixed at
// construction; a built orchestrator is safe for concurrent use.
type Orchestrator struct {
	extractor   Extractor
	planner     *planner.Planner
	validator   *validator.Validator
	synthesizer *synthesis.Synthesizer
	strategies  map[retrieval.StrategyTag]retrieval.Strategy
	cfg         config.ExecutionConfig
	logger      *zap.Logger
}

// New validates the wiring and builds an orchestrator. Construction is the
// only place a non-retryable configuration error can surface; once built,
// every query reaches a terminal answer.
func New(
	extractor Extractor,
	p *planner.Planner,
	v *validator.Validator,
	s *synthesis.Synthesizer,
	strategies []retrieval.Strategy,
	cfg config.ExecutionConfig,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if extractor == nil {
		return nil, &config.ValidationError{Field: "extractor", Reason: "required"}
	}
	if p == nil {
		return nil, &config.ValidationError{Field: "planner", Reason: "required"}
	}
	if v == nil {
		return nil, &config.ValidationError{Field: "validator", Reason: "required"}
	}
	if s == nil {
		return nil, &config.ValidationError{Field: "synthesizer", Reason: "required"}
	}
	if len(strategies) == 0 {
		return nil, &config.ValidationError{Field: "strategies", Reason: "at least one retrieval strategy required"}
	}
	byTag := make(map[retrieval.StrategyTag]retrieval.Strategy, len(strategies))
	for _, st := range strategies {
		if _, dup := byTag[st.Tag()]; dup {
			return nil, &config.ValidationError{Field: "strategies", Reason: "duplicate strategy tag " + string(st.Tag())}
		}
		byTag[st.Tag()] = st
	}
	return &Orchestrator{
		extractor:   extractor,
		planner:     p,
		validator:   v,
		synthesizer: s,
		strategies:  byTag,
		cfg:         cfg,
		logger:      logger,
	}, nil
}

// Options are per-query overrides over the configured execution and
// validation defaults. The zero value changes nothing.
type Options struct {
	Timeout         time.Duration // whole-query deadline; > 0 overrides execution.query_timeout
	MaxSubTasks     int           // decomposition fan-out cap; > 0 overrides execution.max_subtasks
	AcceptThreshold float64       // validation accept threshold; > 0 overrides validation.accept_threshold
}

// Answer runs one query to completion. It always returns an answer —
// possibly degraded — for any input; the error return is reserved for a
// cancelled or expired parent context.
func (o *Orchestrator) Answer(ctx context.Context, raw string, opts Options) (*AggregatedAnswer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	metrics.QueriesStarted.Inc()
	start := time.Now()

	timeout := o.cfg.QueryTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	qc := o.extractor.Extract(ctx, raw)
	decision := o.planner.Plan(qc)

	var agg *AggregatedAnswer
	if decision.Multi {
		plans := decision.SubPlans
		if opts.MaxSubTasks > 0 && len(plans) > opts.MaxSubTasks {
			plans = plans[:opts.MaxSubTasks]
		}
		agg = o.fanOut(ctx, plans, opts)
	} else {
		res := o.runPipeline(ctx, qc, decision, opts)
		agg = aggregate([]SubTaskResult{res}, false)
	}

	metrics.QueryDuration.Observe(time.Since(start).Seconds())
	metrics.QueriesCompleted.WithLabelValues(agg.statusLabel(), boolLabel(agg.Decomposed)).Inc()
	o.logger.Info("query completed",
		zap.Bool("decomposed", agg.Decomposed),
		zap.Bool("degraded", agg.Degraded),
		zap.Float64("confidence", agg.Confidence),
		zap.Duration("elapsed", time.Since(start)),
	)
	return agg, nil
}

// runPipeline is the sequential Retrieve -> Validate loop for one context,
// bounded by the decision's fallback list, followed by synthesis. A
// strategy is never attempted twice for the same context; exhaustion
// accepts the best-scoring result seen, degraded.
func (o *Orchestrator) runPipeline(ctx context.Context, qc models.QueryContext, d planner.Decision, opts Options) SubTaskResult {
	chain := append([]retrieval.StrategyTag{d.Primary}, d.Fallbacks...)

	var (
		best        *retrieval.Result
		bestVerdict validator.Verdict
		bestDepth   int
		attempted   = make(map[retrieval.StrategyTag]bool)
	)
	for depth, tag := range chain {
		if ctx.Err() != nil {
			return timeoutResult(qc)
		}
		if attempted[tag] {
			continue
		}
		attempted[tag] = true

		strategy, ok := o.strategies[tag]
		if !ok {
			o.logger.Warn("route names an unconfigured strategy", zap.String("strategy", string(tag)))
			continue
		}

		attemptStart := time.Now()
		res, err := strategy.Execute(ctx, qc)
		metrics.RetrievalDuration.WithLabelValues(string(tag)).Observe(time.Since(attemptStart).Seconds())
		if err != nil {
			if ctx.Err() != nil {
				return timeoutResult(qc)
			}
			// Transport failure advances the chain without a verdict.
			if errors.Is(err, retrieval.ErrBackendUnavailable) {
				metrics.RetrievalAttempts.WithLabelValues(string(tag), "unavailable").Inc()
				o.logger.Warn("retrieval backend unavailable, advancing fallback",
					zap.String("strategy", string(tag)), zap.Error(err))
				continue
			}
			metrics.RetrievalAttempts.WithLabelValues(string(tag), "error").Inc()
			o.logger.Error("retrieval failed", zap.String("strategy", string(tag)), zap.Error(err))
			continue
		}
		metrics.RetrievalAttempts.WithLabelValues(string(tag), string(res.Status)).Inc()

		verdict := o.validator.ValidateThreshold(ctx, res, qc, opts.AcceptThreshold)
		if verdict.Accept {
			metrics.FallbackDepth.Observe(float64(depth))
			answer := o.synthesizer.Synthesize(ctx, res, qc, verdict.CoverageGaps)
			return SubTaskResult{
				Topic:         primaryTopic(qc),
				Context:       qc,
				Retrieval:     res,
				Verdict:       verdict,
				Answer:        answer,
				Status:        StatusSucceeded,
				Confidence:    confidence(verdict, d),
				FallbackDepth: depth,
			}
		}
		if best == nil || verdict.Score > bestVerdict.Score {
			best, bestVerdict, bestDepth = res, verdict, depth
		}
	}

	if best == nil || len(best.Evidence) == 0 {
		return noEvidenceResult(qc, o.synthesizer.Synthesize(ctx, &retrieval.Result{}, qc, nil))
	}

	// Fallbacks exhausted: answer from the best rejected result rather
	// than failing the query outright.
	metrics.FallbackDepth.Observe(float64(bestDepth))
	answer := o.synthesizer.Synthesize(ctx, best, qc, bestVerdict.CoverageGaps)
	return SubTaskResult{
		Topic:         primaryTopic(qc),
		Context:       qc,
		Retrieval:     best,
		Verdict:       bestVerdict,
		Answer:        answer,
		Status:        StatusDegraded,
		Confidence:    confidence(bestVerdict, d),
		FallbackDepth: bestDepth,
	}
}

// confidence combines how sure the router was about the route with how well
// the evidence validated. Either factor alone overstates certainty.
func confidence(v validator.Verdict, d planner.Decision) float64 {
	return v.Score * d.Confidence
}

func primaryTopic(qc models.QueryContext) models.Topic {
	if len(qc.Topics) > 0 {
		return qc.Topics[0]
	}
	return ""
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
