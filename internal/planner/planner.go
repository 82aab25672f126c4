// Package planner maps a structured query context to a retrieval route:
// one primary strategy, an ordered fallback chain, and a confidence score.
// For multi-topic queries it decomposes the context into per-topic sub-tasks
// and plans each one independently.
package planner

import (
	"go.uber.org/zap"

	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/metrics"
	"github.com/finsight-ai/finsight/internal/models"
	"github.com/finsight-ai/finsight/internal/retrieval"
)

// SubPlan pairs a decomposed sub-task context with its own routing decision.
type SubPlan struct {
	Context  models.QueryContext
	Decision Decision
}

// Decision is the planner's output. The fallback list is strictly ordered
// and never repeats the primary; downstream the attempt loop is bounded by
// its length.
type Decision struct {
	Primary    retrieval.StrategyTag
	Fallbacks  []retrieval.StrategyTag
	Confidence float64

	// Multi marks a decomposed query. SubPlans is non-empty iff Multi.
	Multi    bool
	SubPlans []SubPlan
}

// Planner derives routing decisions. It is stateless apart from its
// configuration and never fails: the worst case is a pure semantic route
// with low confidence.
type Planner struct {
	cfg         config.RoutingConfig
	maxSubTasks int
	logger      *zap.Logger
}

// New builds a planner. maxSubTasks caps decomposition fan-out.
func New(cfg config.RoutingConfig, maxSubTasks int, logger *zap.Logger) *Planner {
	if maxSubTasks < 1 {
		maxSubTasks = 1
	}
	return &Planner{cfg: cfg, maxSubTasks: maxSubTasks, logger: logger}
}

// Plan routes qc. Decomposable contexts produce a multi decision whose
// sub-plans are planned recursively; everything else falls through the
// single-route decision table.
func (p *Planner) Plan(qc models.QueryContext) Decision {
	if qc.Decomposable && len(qc.Topics) >= 2 {
		return p.planMulti(qc)
	}
	d := p.planSingle(qc)

	metrics.RoutesPlanned.WithLabelValues(string(d.Primary)).Inc()
	metrics.RouterConfidence.Observe(d.Confidence)
	p.logger.Debug("planned route",
		zap.String("primary", string(d.Primary)),
		zap.Float64("confidence", d.Confidence),
	)
	return d
}

// planSingle is the decision table for one context.
func (p *Planner) planSingle(qc models.QueryContext) Decision {
	switch {
	case qc.HasEntity() && qc.HasPeriod() && qc.HasMetric():
		return Decision{
			Primary:    retrieval.StrategyStructured,
			Fallbacks:  []retrieval.StrategyTag{retrieval.StrategyHybrid, retrieval.StrategySemantic},
			Confidence: qc.Completeness * p.cfg.FullMatchFactor,
		}
	case qc.HasEntity():
		return Decision{
			Primary:    retrieval.StrategyHybrid,
			Fallbacks:  []retrieval.StrategyTag{retrieval.StrategySemantic, retrieval.StrategyStructured},
			Confidence: qc.Completeness * p.cfg.PartialMatchFactor,
		}
	default:
		return Decision{
			Primary:    retrieval.StrategySemantic,
			Fallbacks:  []retrieval.StrategyTag{retrieval.StrategyHybrid},
			Confidence: qc.Completeness * p.cfg.MinimalMatchFactor,
		}
	}
}

func (p *Planner) planMulti(qc models.QueryContext) Decision {
	topics := qc.Topics
	if len(topics) > p.maxSubTasks {
		p.logger.Warn("decomposition fan-out capped",
			zap.Int("topics", len(topics)),
			zap.Int("max", p.maxSubTasks),
		)
		topics = topics[:p.maxSubTasks]
	}

	subs := make([]SubPlan, 0, len(topics))
	minConf := 1.0
	for _, t := range topics {
		sub := qc.WithTopic(t)
		d := p.planSingle(sub)
		metrics.RoutesPlanned.WithLabelValues(string(d.Primary)).Inc()
		if d.Confidence < minConf {
			minConf = d.Confidence
		}
		subs = append(subs, SubPlan{Context: sub, Decision: d})
	}

	metrics.RouterConfidence.Observe(minConf)
	p.logger.Debug("planned multi-topic route",
		zap.Int("subtasks", len(subs)),
		zap.Float64("confidence", minConf),
	)
	return Decision{
		Primary:    subs[0].Decision.Primary,
		Fallbacks:  subs[0].Decision.Fallbacks,
		Confidence: minConf,
		Multi:      true,
		SubPlans:   subs,
	}
}
