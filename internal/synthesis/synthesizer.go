// Package synthesis turns an accepted retrieval result into a cited
// natural-language answer. Claims come strictly from evidence text; when the
// model cannot be reached, a plain extractive answer is produced instead of
// failing the query.
package synthesis

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/models"
	"github.com/finsight-ai/finsight/internal/retrieval"
)

// Citation points an answer claim at its evidence.
type Citation struct {
	Source  string `json:"source"`
	DocID   string `json:"doc_id"`
	Section string `json:"section,omitempty"`
}

// Answer is the synthesizer's output. Citations are ordered by first use in
// the text and deduplicated by source id.
type Answer struct {
	Text       string     `json:"text"`
	Citations  []Citation `json:"citations"`
	Extractive bool       `json:"extractive,omitempty"` // true when the model was bypassed
}

// Completer generates the answer text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Synthesizer builds answers from evidence.
type Synthesizer struct {
	completer Completer
	cfg       config.SynthesisConfig
	logger    *zap.Logger
}

// New builds a synthesizer. completer may be nil, forcing extractive answers.
func New(completer Completer, cfg config.SynthesisConfig, logger *zap.Logger) *Synthesizer {
	if cfg.MaxAnswerChars <= 0 {
		cfg.MaxAnswerChars = 2000
	}
	if cfg.MaxPassages <= 0 {
		cfg.MaxPassages = 8
	}
	if cfg.MaxPassageChars <= 0 {
		cfg.MaxPassageChars = 800
	}
	return &Synthesizer{completer: completer, cfg: cfg, logger: logger}
}

const answerPrompt = `Answer the question using ONLY the numbered passages below.
Cite each claim with the passage number in brackets, e.g. [1].
Do not state anything the passages do not support.

Question: %s

Passages:
%s`

var citationRe = regexp.MustCompile(`\[(\d+)\]`)

// Synthesize produces an answer for res. gaps are query aspects the
// validator found uncovered; each is called out explicitly rather than
// silently omitted.
func (s *Synthesizer) Synthesize(ctx context.Context, res *retrieval.Result, qc models.QueryContext, gaps []string) Answer {
	passages := res.Evidence
	if len(passages) > s.cfg.MaxPassages {
		passages = passages[:s.cfg.MaxPassages]
	}
	if len(passages) == 0 {
		return Answer{Text: insufficientText(qc), Extractive: true}
	}

	answer, ok := s.generate(ctx, qc, passages)
	if !ok {
		answer = s.extractive(passages)
	}

	for _, gap := range gaps {
		answer.Text += " The available filings do not provide sufficient evidence regarding " + gap + "."
	}
	answer.Text = truncate(answer.Text, s.cfg.MaxAnswerChars)
	return answer
}

// generate asks the model for a cited answer and maps its [n] markers back
// onto the passages. An answer with no parseable citation is unusable:
// claims would be unattributable, so the caller falls back to extraction.
func (s *Synthesizer) generate(ctx context.Context, qc models.QueryContext, passages []retrieval.Evidence) (Answer, bool) {
	if s.completer == nil {
		return Answer{}, false
	}
	var sb strings.Builder
	for i, e := range passages {
		text := cutRunes(e.Text, s.cfg.MaxPassageChars)
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, text)
	}

	out, err := s.completer.Complete(ctx, fmt.Sprintf(answerPrompt, qc.RawQuery, sb.String()))
	if err != nil {
		s.logger.Warn("synthesis completion failed, answering extractively", zap.Error(err))
		return Answer{}, false
	}

	citations := citationsInUseOrder(out, passages)
	if len(citations) == 0 {
		s.logger.Warn("synthesis output carried no citations, answering extractively")
		return Answer{}, false
	}
	return Answer{Text: strings.TrimSpace(out), Citations: citations}, true
}

// citationsInUseOrder resolves [n] markers to citations, ordered by first
// use and deduplicated by source id. Markers out of range are ignored.
func citationsInUseOrder(text string, passages []retrieval.Evidence) []Citation {
	var citations []Citation
	seen := make(map[string]bool)
	for _, m := range citationRe.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(passages) {
			continue
		}
		e := passages[n-1]
		if seen[e.Source] {
			continue
		}
		seen[e.Source] = true
		citations = append(citations, Citation{Source: e.Source, DocID: e.DocID, Section: e.Section})
	}
	return citations
}

// extractive stitches the top passages together verbatim.
func (s *Synthesizer) extractive(passages []retrieval.Evidence) Answer {
	var sb strings.Builder
	var citations []Citation
	seen := make(map[string]bool)
	for i, e := range passages {
		if i >= 3 {
			break
		}
		sb.WriteString(strings.TrimSpace(e.Text))
		fmt.Fprintf(&sb, " [%d] ", i+1)
		if !seen[e.Source] {
			seen[e.Source] = true
			citations = append(citations, Citation{Source: e.Source, DocID: e.DocID, Section: e.Section})
		}
	}
	return Answer{Text: strings.TrimSpace(sb.String()), Citations: citations, Extractive: true}
}

func insufficientText(qc models.QueryContext) string {
	subject := qc.RawQuery
	if len(qc.Topics) == 1 {
		subject = qc.Topics[0].Label()
	}
	return "The available filings do not provide sufficient evidence to answer: " + subject + "."
}

// truncate bounds text at max bytes, cutting on a sentence boundary when
// one exists.
func truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := cutRunes(text, max)
	if i := strings.LastIndexByte(cut, '.'); i > 0 {
		return cut[:i+1]
	}
	return cut
}

// cutRunes bounds s at max bytes without splitting a multi-byte rune.
func cutRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
