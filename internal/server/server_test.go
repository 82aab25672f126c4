package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/orchestrator"
	"github.com/finsight-ai/finsight/internal/synthesis"
)

type fakeAnswerer struct {
	agg  *orchestrator.AggregatedAnswer
	err  error
	opts orchestrator.Options
}

func (f *fakeAnswerer) Answer(_ context.Context, _ string, opts orchestrator.Options) (*orchestrator.AggregatedAnswer, error) {
	f.opts = opts
	return f.agg, f.err
}

func muxFor(a Answerer) *http.ServeMux {
	s := New(a, config.ServiceConfig{Port: 0, MetricsPort: 0}, zap.NewNop())
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func TestAnswerEndpoint(t *testing.T) {
	agg := &orchestrator.AggregatedAnswer{
		Results: []orchestrator.SubTaskResult{{
			Answer:     synthesis.Answer{Text: "CET1 was 11.2% [1]."},
			Status:     orchestrator.StatusSucceeded,
			Confidence: 0.8,
		}},
		Confidence: 0.8,
	}
	mux := muxFor(&fakeAnswerer{agg: agg})

	req := httptest.NewRequest(http.MethodPost, "/v1/answer", strings.NewReader(`{"query":"capital ratios?"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp answerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.QueryID)
	assert.Equal(t, "CET1 was 11.2% [1].", resp.Text)
	assert.InDelta(t, 0.8, resp.Result.Confidence, 1e-9)
}

func TestAnswerForwardsQueryOverrides(t *testing.T) {
	fake := &fakeAnswerer{agg: &orchestrator.AggregatedAnswer{}}
	mux := muxFor(fake)

	body := `{"query":"q","timeout_ms":2500,"max_subtasks":2,"accept_threshold":0.4}`
	req := httptest.NewRequest(http.MethodPost, "/v1/answer", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2500*time.Millisecond, fake.opts.Timeout)
	assert.Equal(t, 2, fake.opts.MaxSubTasks)
	assert.InDelta(t, 0.4, fake.opts.AcceptThreshold, 1e-9)
}

func TestAnswerOmittedOverridesStayZero(t *testing.T) {
	fake := &fakeAnswerer{agg: &orchestrator.AggregatedAnswer{}}
	mux := muxFor(fake)

	req := httptest.NewRequest(http.MethodPost, "/v1/answer", strings.NewReader(`{"query":"q"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orchestrator.Options{}, fake.opts)
}

func TestAnswerRejectsEmptyQuery(t *testing.T) {
	mux := muxFor(&fakeAnswerer{})
	req := httptest.NewRequest(http.MethodPost, "/v1/answer", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnswerRejectsGet(t *testing.T) {
	mux := muxFor(&fakeAnswerer{})
	req := httptest.NewRequest(http.MethodGet, "/v1/answer", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAnswerTimeoutMapsToGatewayTimeout(t *testing.T) {
	mux := muxFor(&fakeAnswerer{err: context.DeadlineExceeded})
	req := httptest.NewRequest(http.MethodPost, "/v1/answer", strings.NewReader(`{"query":"q"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestAnswerInternalError(t *testing.T) {
	mux := muxFor(&fakeAnswerer{err: errors.New("boom")})
	req := httptest.NewRequest(http.MethodPost, "/v1/answer", strings.NewReader(`{"query":"q"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthz(t *testing.T) {
	mux := muxFor(&fakeAnswerer{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
