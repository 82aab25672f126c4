package synthesis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/models"
	"github.com/finsight-ai/finsight/internal/retrieval"
)

type fakeCompleter struct {
	out    string
	err    error
	prompt string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.out, f.err
}

func passages() []retrieval.Evidence {
	return []retrieval.Evidence{
		{Source: "wfc-10q-2025q1/item2", DocID: "wfc-10q-2025q1", Section: "item2", Text: "CET1 capital ratio was 11.2% as of March 31, 2025.", Score: 0.95},
		{Source: "wfc-10q-2025q1/item1", DocID: "wfc-10q-2025q1", Section: "item1", Text: "Total capital ratio was 14.8%.", Score: 0.9},
		{Source: "wfc-10k-2024/item7", DocID: "wfc-10k-2024", Section: "item7", Text: "Capital levels remained strong through 2024.", Score: 0.8},
	}
}

func synthUnderTest(c Completer) *Synthesizer {
	return New(c, config.SynthesisConfig{MaxAnswerChars: 2000, MaxPassages: 8, MaxPassageChars: 800}, zap.NewNop())
}

func TestCitationsOrderedByFirstUse(t *testing.T) {
	c := &fakeCompleter{out: "Total capital was 14.8% [2] while CET1 stood at 11.2% [1]. Levels stayed strong [2]."}
	s := synthUnderTest(c)

	ans := s.Synthesize(context.Background(), &retrieval.Result{Evidence: passages()}, models.QueryContext{RawQuery: "capital ratios?"}, nil)

	require.Len(t, ans.Citations, 2)
	assert.Equal(t, "wfc-10q-2025q1/item1", ans.Citations[0].Source, "first-used passage cited first")
	assert.Equal(t, "wfc-10q-2025q1/item2", ans.Citations[1].Source)
	assert.False(t, ans.Extractive)
	assert.Contains(t, c.prompt, "[1] CET1 capital ratio")
}

func TestCitationsDeduplicatedBySource(t *testing.T) {
	c := &fakeCompleter{out: "Claim one [1]. Claim two [1]. Claim three [3]."}
	s := synthUnderTest(c)

	ans := s.Synthesize(context.Background(), &retrieval.Result{Evidence: passages()}, models.QueryContext{}, nil)

	require.Len(t, ans.Citations, 2)
	assert.Equal(t, "wfc-10q-2025q1/item2", ans.Citations[0].Source)
	assert.Equal(t, "wfc-10k-2024/item7", ans.Citations[1].Source)
}

func TestOutOfRangeMarkersIgnored(t *testing.T) {
	c := &fakeCompleter{out: "Valid claim [1]. Hallucinated claim [9]."}
	s := synthUnderTest(c)

	ans := s.Synthesize(context.Background(), &retrieval.Result{Evidence: passages()}, models.QueryContext{}, nil)
	require.Len(t, ans.Citations, 1)
}

func TestModelFailureFallsBackToExtractive(t *testing.T) {
	c := &fakeCompleter{err: errors.New("llm down")}
	s := synthUnderTest(c)

	ans := s.Synthesize(context.Background(), &retrieval.Result{Evidence: passages()}, models.QueryContext{}, nil)

	assert.True(t, ans.Extractive)
	assert.Contains(t, ans.Text, "CET1 capital ratio was 11.2%")
	assert.NotEmpty(t, ans.Citations)
}

func TestUncitedOutputFallsBackToExtractive(t *testing.T) {
	c := &fakeCompleter{out: "An answer with no citation markers at all."}
	s := synthUnderTest(c)

	ans := s.Synthesize(context.Background(), &retrieval.Result{Evidence: passages()}, models.QueryContext{}, nil)
	assert.True(t, ans.Extractive, "unattributable claims are replaced with extracted text")
}

func TestCoverageGapsCalledOutExplicitly(t *testing.T) {
	c := &fakeCompleter{out: "CET1 was 11.2% [1]."}
	s := synthUnderTest(c)

	ans := s.Synthesize(context.Background(), &retrieval.Result{Evidence: passages()}, models.QueryContext{}, []string{"quarter Q2"})

	assert.Contains(t, ans.Text, "do not provide sufficient evidence regarding quarter Q2")
}

func TestAnswerLengthBoundedAtSentence(t *testing.T) {
	long := strings.Repeat("This sentence pads the answer body. ", 40) + "[1]"
	c := &fakeCompleter{out: long}
	s := New(c, config.SynthesisConfig{MaxAnswerChars: 200}, zap.NewNop())

	ans := s.Synthesize(context.Background(), &retrieval.Result{Evidence: passages()}, models.QueryContext{}, nil)

	assert.LessOrEqual(t, len(ans.Text), 200)
	assert.True(t, strings.HasSuffix(ans.Text, "."), "truncation lands on a sentence boundary")
}

// Byte limits must never cut through a multi-byte character, neither in the
// final answer nor in the passages placed into the prompt.
func TestTruncationKeepsValidUTF8(t *testing.T) {
	long := strings.Repeat("é", 150) + " [1]"
	c := &fakeCompleter{out: long}
	s := New(c, config.SynthesisConfig{MaxAnswerChars: 101, MaxPassageChars: 31}, zap.NewNop())

	wide := []retrieval.Evidence{
		{Source: "ubs-ar-2024/risiko", DocID: "ubs-ar-2024", Text: strings.Repeat("ü", 40), Score: 0.9},
	}
	ans := s.Synthesize(context.Background(), &retrieval.Result{Evidence: wide}, models.QueryContext{}, nil)

	assert.True(t, utf8.ValidString(ans.Text))
	assert.LessOrEqual(t, len(ans.Text), 101)
	assert.True(t, utf8.ValidString(c.prompt), "prompt passages cut on rune boundaries")
}

func TestEmptyEvidenceYieldsInsufficientAnswer(t *testing.T) {
	s := synthUnderTest(&fakeCompleter{})
	qc := models.QueryContext{RawQuery: "anything", Topics: []models.Topic{models.TopicCreditRisk}}

	ans := s.Synthesize(context.Background(), &retrieval.Result{}, qc, nil)

	assert.Contains(t, ans.Text, "do not provide sufficient evidence")
	assert.Contains(t, ans.Text, "credit risk")
	assert.Empty(t, ans.Citations)
}

func TestPassageCountCapped(t *testing.T) {
	many := make([]retrieval.Evidence, 12)
	for i := range many {
		many[i] = retrieval.Evidence{Source: "s", Text: "snippet", Score: 0.5}
	}
	c := &fakeCompleter{out: "answer [1]"}
	s := New(c, config.SynthesisConfig{MaxPassages: 4}, zap.NewNop())

	s.Synthesize(context.Background(), &retrieval.Result{Evidence: many}, models.QueryContext{}, nil)

	assert.NotContains(t, c.prompt, "[5]")
	assert.Contains(t, c.prompt, "[4]")
}
