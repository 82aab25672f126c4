package models

import "strings"

// Topic is one category of the fixed financial topic taxonomy. Topics are
// mutually exclusive when used as decomposition keys.
type Topic string

const (
	TopicMarketRisk           Topic = "market_risk"
	TopicCreditRisk           Topic = "credit_risk"
	TopicOperationalRisk      Topic = "operational_risk"
	TopicLiquidityRisk        Topic = "liquidity_risk"
	TopicRegulatoryRisk       Topic = "regulatory_risk"
	TopicBusinessStrategy     Topic = "business_strategy"
	TopicFinancialPerformance Topic = "financial_performance"
	TopicCompetitivePosition  Topic = "competitive_position"
)

// topicPriority fixes the order in which sub-answers appear in an aggregated
// answer. It is a property of the taxonomy, never of execution order.
var topicPriority = map[Topic]int{
	TopicMarketRisk:           1,
	TopicCreditRisk:           2,
	TopicOperationalRisk:      3,
	TopicLiquidityRisk:        4,
	TopicRegulatoryRisk:       5,
	TopicBusinessStrategy:     6,
	TopicFinancialPerformance: 7,
	TopicCompetitivePosition:  8,
}

// Priority returns the declared ordering rank of a topic. Unknown topics
// sort after all known ones.
func (t Topic) Priority() int {
	if p, ok := topicPriority[t]; ok {
		return p
	}
	return len(topicPriority) + 1
}

// Label returns a human-readable form of the topic tag.
func (t Topic) Label() string {
	return strings.ReplaceAll(string(t), "_", " ")
}

// AllTopics lists the taxonomy in priority order.
func AllTopics() []Topic {
	return []Topic{
		TopicMarketRisk,
		TopicCreditRisk,
		TopicOperationalRisk,
		TopicLiquidityRisk,
		TopicRegulatoryRisk,
		TopicBusinessStrategy,
		TopicFinancialPerformance,
		TopicCompetitivePosition,
	}
}

// QueryContext is the structured form of one query or sub-task. It is
// created once by the extractor and treated as immutable afterwards; every
// entity reference it carries is already normalized to a canonical ticker.
type QueryContext struct {
	RawQuery string

	// Extracted fields. Zero values mean "not present in the query".
	CompanyID string // canonical ticker, e.g. "WFC"
	Year      int
	Quarter   string // "Q1".."Q4"
	DocType   string // "10-K", "10-Q", "8-K"
	Metric    string // named metric keyword, e.g. "capital ratio"

	Topics       []Topic
	Decomposable bool

	// Completeness scores how much structured context was recovered from
	// the raw text; it feeds directly into router confidence.
	Completeness float64
}

// HasEntity reports whether a canonical company id was resolved.
func (q QueryContext) HasEntity() bool { return q.CompanyID != "" }

// HasPeriod reports whether any fiscal period field was extracted.
func (q QueryContext) HasPeriod() bool { return q.Year != 0 || q.Quarter != "" }

// HasMetric reports whether a specific named metric was detected.
func (q QueryContext) HasMetric() bool { return q.Metric != "" }

// WithTopic derives a sub-task context for a single topic, keeping the
// parent's shared entity and period fields.
func (q QueryContext) WithTopic(t Topic) QueryContext {
	sub := q
	sub.Topics = []Topic{t}
	sub.Decomposable = false
	return sub
}
