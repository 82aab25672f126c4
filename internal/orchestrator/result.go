package orchestrator

import (
	"sort"

	"github.com/finsight-ai/finsight/internal/models"
	"github.com/finsight-ai/finsight/internal/retrieval"
	"github.com/finsight-ai/finsight/internal/synthesis"
	"github.com/finsight-ai/finsight/internal/validator"
)

// SubTaskStatus is the terminal state of one pipeline run.
type SubTaskStatus string

const (
	StatusSucceeded     SubTaskStatus = "succeeded"
	StatusDegraded      SubTaskStatus = "degraded"
	StatusFailedTimeout SubTaskStatus = "failed-timeout"
	StatusNoEvidence    SubTaskStatus = "failed-no-evidence"
)

// Failed reports whether the pipeline produced no usable evidence at all.
func (s SubTaskStatus) Failed() bool {
	return s == StatusFailedTimeout || s == StatusNoEvidence
}

// SubTaskResult is the complete outcome of one pipeline run, whether it ran
// standalone or as one topic of a decomposed query. FallbackDepth records
// which position in the strategy chain produced the answer, 0 being the
// primary route.
type SubTaskResult struct {
	Topic         models.Topic        `json:"topic,omitempty"`
	Context       models.QueryContext `json:"-"`
	Retrieval     *retrieval.Result   `json:"-"`
	Verdict       validator.Verdict   `json:"verdict"`
	Answer        synthesis.Answer    `json:"answer"`
	Status        SubTaskStatus       `json:"status"`
	Confidence    float64             `json:"confidence"`
	FallbackDepth int                 `json:"fallback_depth"`
}

// AggregatedAnswer is the final answer for a query. For single-topic
// queries it carries exactly one result and Decomposed is false. Ordering
// of Results is fixed by topic priority, never by completion time.
type AggregatedAnswer struct {
	Results    []SubTaskResult      `json:"results"`
	Citations  []synthesis.Citation `json:"citations"`
	Confidence float64              `json:"confidence"`
	Degraded   bool                 `json:"degraded"`
	Decomposed bool                 `json:"decomposed"`
}

// Text joins the sub-answers in their fixed order.
func (a *AggregatedAnswer) Text() string {
	if len(a.Results) == 1 {
		return a.Results[0].Answer.Text
	}
	out := ""
	for _, r := range a.Results {
		if out != "" {
			out += "\n\n"
		}
		if r.Topic != "" {
			out += r.Topic.Label() + ": "
		}
		out += r.Answer.Text
	}
	return out
}

func (a *AggregatedAnswer) statusLabel() string {
	if a.Degraded {
		return "degraded"
	}
	return "ok"
}

// aggregate merges sub-task results into the final answer. Results are
// ordered by declared topic priority, citations deduplicated by source id
// across sub-answers, and overall confidence is the minimum over non-failed
// sub-confidences.
func aggregate(results []SubTaskResult, decomposed bool) *AggregatedAnswer {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Topic.Priority() < results[j].Topic.Priority()
	})

	agg := &AggregatedAnswer{Results: results, Decomposed: decomposed}

	seen := make(map[string]bool)
	confidence := 1.0
	anyScored := false
	for _, r := range results {
		for _, c := range r.Answer.Citations {
			if seen[c.Source] {
				continue
			}
			seen[c.Source] = true
			agg.Citations = append(agg.Citations, c)
		}
		if r.Status.Failed() {
			agg.Degraded = true
			continue
		}
		if r.Status == StatusDegraded {
			agg.Degraded = true
		}
		anyScored = true
		if r.Confidence < confidence {
			confidence = r.Confidence
		}
	}
	if anyScored {
		agg.Confidence = confidence
	}
	return agg
}

// timeoutResult is the placeholder for a pipeline cut off by its deadline.
func timeoutResult(qc models.QueryContext) SubTaskResult {
	return SubTaskResult{
		Topic:   primaryTopic(qc),
		Context: qc,
		Answer: synthesis.Answer{
			Text:       "Insufficient data: retrieval for " + subjectLabel(qc) + " did not complete in time.",
			Extractive: true,
		},
		Status: StatusFailedTimeout,
	}
}

func noEvidenceResult(qc models.QueryContext, answer synthesis.Answer) SubTaskResult {
	return SubTaskResult{
		Topic:   primaryTopic(qc),
		Context: qc,
		Answer:  answer,
		Status:  StatusNoEvidence,
	}
}

func subjectLabel(qc models.QueryContext) string {
	if t := primaryTopic(qc); t != "" {
		return t.Label()
	}
	return "this query"
}
