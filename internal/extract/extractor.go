// Package extract turns raw query text into a structured QueryContext.
// Rule-based patterns run first; a language-model assist fills gaps the
// rules miss. Extraction never fails: absent fields stay unset and only
// lower the completeness score.
package extract

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/models"
)

// Normalizer resolves entity mentions to canonical tickers.
type Normalizer interface {
	Normalize(raw string) (string, bool)
	FindMention(text string) (string, bool)
}

// Completer is the optional language-model assist.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Extractor builds QueryContexts.
type Extractor struct {
	normalizer Normalizer
	completer  Completer // nil disables the assist
	cfg        config.ExtractionConfig
	logger     *zap.Logger
}

// New creates an extractor. completer may be nil.
func New(normalizer Normalizer, completer Completer, cfg config.ExtractionConfig, logger *zap.Logger) *Extractor {
	return &Extractor{normalizer: normalizer, completer: completer, cfg: cfg, logger: logger}
}

var (
	yearRe    = regexp.MustCompile(`\b(20[2-3]\d)\b`)
	quarterRe = regexp.MustCompile(`(?i)\b(?:(Q[1-4])|quarter\s+([1-4]))\b`)
	docTypeRe = regexp.MustCompile(`(?i)\b(10-K|10-Q|8-K)\b`)
)

// metricKeywords name specific financial figures; longest patterns first so
// "tier 1 capital ratio" wins over "capital ratio".
var metricKeywords = []string{
	"tier 1 capital ratio",
	"common equity tier 1",
	"net interest margin",
	"earnings per share",
	"return on equity",
	"efficiency ratio",
	"capital ratios",
	"capital ratio",
	"net income",
	"total assets",
	"cet1",
	"revenue",
	"deposits",
	"eps",
}

// topicKeywords drive rule-based topic tagging.
var topicKeywords = map[models.Topic][]string{
	models.TopicMarketRisk:           {"market risk", "interest rate risk", "trading risk"},
	models.TopicCreditRisk:           {"credit risk", "credit losses", "loan losses", "charge-offs", "defaults"},
	models.TopicOperationalRisk:      {"operational risk", "cyber", "fraud", "operational losses"},
	models.TopicLiquidityRisk:        {"liquidity risk", "liquidity", "funding risk"},
	models.TopicRegulatoryRisk:       {"regulatory risk", "regulatory", "compliance", "regulation"},
	models.TopicBusinessStrategy:     {"business strategy", "business model", "strategy", "expansion"},
	models.TopicFinancialPerformance: {"financial performance", "earnings", "profitability", "performance"},
	models.TopicCompetitivePosition:  {"competitive position", "market share", "competitors", "competitive"},
}

// Extract parses raw into a QueryContext. It never returns an error;
// malformed input simply produces a sparse context.
func (e *Extractor) Extract(ctx context.Context, raw string) models.QueryContext {
	qc := models.QueryContext{RawQuery: raw}
	lower := strings.ToLower(raw)

	if m := yearRe.FindString(raw); m != "" {
		qc.Year, _ = strconv.Atoi(m)
	}
	if m := quarterRe.FindStringSubmatch(raw); m != nil {
		if m[1] != "" {
			qc.Quarter = strings.ToUpper(m[1])
		} else {
			qc.Quarter = "Q" + m[2]
		}
	}
	if m := docTypeRe.FindString(raw); m != "" {
		qc.DocType = strings.ToUpper(m)
	}
	for _, kw := range metricKeywords {
		if strings.Contains(lower, kw) {
			qc.Metric = kw
			break
		}
	}
	if id, ok := e.normalizer.FindMention(raw); ok {
		qc.CompanyID = id
	}
	qc.Topics = tagTopics(lower)

	// The assist only runs when the rules left gaps worth filling.
	if e.completer != nil && e.cfg.UseLLMAssist && (qc.CompanyID == "" || len(qc.Topics) == 0) {
		e.assist(ctx, raw, &qc)
	}

	qc.Decomposable = len(qc.Topics) >= 2
	qc.Completeness = e.completeness(qc)

	e.logger.Debug("extracted query context",
		zap.String("company", qc.CompanyID),
		zap.Int("year", qc.Year),
		zap.String("quarter", qc.Quarter),
		zap.String("metric", qc.Metric),
		zap.Int("topics", len(qc.Topics)),
		zap.Float64("completeness", qc.Completeness),
	)
	return qc
}

func tagTopics(lower string) []models.Topic {
	var topics []models.Topic
	for _, t := range models.AllTopics() {
		for _, kw := range topicKeywords[t] {
			if strings.Contains(lower, kw) {
				topics = append(topics, t)
				break
			}
		}
	}
	return topics
}

const assistPrompt = `Extract structured fields from this financial question.
Respond with only a JSON object with keys:
  company : the company's stock ticker, or "" if none is named
  topics  : array drawn from [market_risk, credit_risk, operational_risk,
            liquidity_risk, regulatory_risk, business_strategy,
            financial_performance, competitive_position]

Question:
`

// assistResponse is the JSON shape the assist prompt requests.
type assistResponse struct {
	Company string   `json:"company"`
	Topics  []string `json:"topics"`
}

// assist asks the model for the fields the rules missed. Failures and
// unusable answers are absorbed: ambiguous metadata lowers confidence, it
// never blocks planning.
func (e *Extractor) assist(ctx context.Context, raw string, qc *models.QueryContext) {
	out, err := e.completer.Complete(ctx, assistPrompt+raw)
	if err != nil {
		e.logger.Debug("extraction assist unavailable", zap.Error(err))
		return
	}
	var resp assistResponse
	if err := json.Unmarshal([]byte(stripFences(out)), &resp); err != nil {
		e.logger.Debug("extraction assist returned unparseable output", zap.Error(err))
		return
	}
	// A proposed ticker still has to resolve through the normalization
	// table; unresolvable proposals are dropped, not guessed.
	if qc.CompanyID == "" && resp.Company != "" {
		if id, ok := e.normalizer.Normalize(resp.Company); ok {
			qc.CompanyID = id
		}
	}
	if len(qc.Topics) == 0 {
		known := make(map[models.Topic]bool)
		for _, t := range models.AllTopics() {
			known[t] = true
		}
		for _, s := range resp.Topics {
			t := models.Topic(s)
			if !known[t] {
				continue
			}
			// The model may repeat a tag; each topic appears at most once.
			known[t] = false
			qc.Topics = append(qc.Topics, t)
		}
	}
}

func (e *Extractor) completeness(qc models.QueryContext) float64 {
	total := e.cfg.EntityWeight + e.cfg.PeriodWeight + e.cfg.MetricWeight
	if total <= 0 {
		return 0
	}
	score := 0.0
	if qc.HasEntity() {
		score += e.cfg.EntityWeight
	}
	if qc.HasPeriod() {
		score += e.cfg.PeriodWeight
	}
	if qc.HasMetric() {
		score += e.cfg.MetricWeight
	}
	return score / total
}

// stripFences removes a markdown code fence if the model wrapped its JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
