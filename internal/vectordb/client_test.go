package vectordb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finsight-ai/finsight/internal/config"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.VectorDBConfig{Collection: "filing_chunks", TopK: 5}
	return NewClientWithBase(cfg, srv.URL, zap.NewNop())
}

func TestQueryParsesMatches(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/filing_chunks/points/query", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.EqualValues(t, 5, req["limit"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"points": []map[string]any{
					{
						"id":    "p1",
						"score": 0.91,
						"payload": map[string]any{
							"doc_id":  "WFC-2025-Q1-10Q",
							"section": "item2",
							"text":    "CET1 capital ratio of 11.2%",
							"company": "WFC",
						},
					},
					{
						"id":      "p2",
						"score":   0.62,
						"payload": map[string]any{"text": "liquidity coverage"},
					},
				},
			},
			"status": "ok",
		})
	})

	got, err := c.Query(context.Background(), []float32{0.1, 0.2}, 0, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "WFC-2025-Q1-10Q", got[0].DocID)
	assert.Equal(t, 0.91, got[0].Similarity)
	assert.Equal(t, "p2", got[1].DocID, "falls back to point id without doc_id payload")
}

func TestQuerySendsFilter(t *testing.T) {
	var gotFilter map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotFilter, _ = req["filter"].(map[string]any)
		_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"points": []any{}}})
	})

	filter := Filter("JPM", 2024, "Q3", "")
	_, err := c.Query(context.Background(), []float32{0.5}, 3, filter)
	require.NoError(t, err)
	require.NotNil(t, gotFilter)
	must := gotFilter["must"].([]any)
	assert.Len(t, must, 3)
}

func TestFilterNilWhenEmpty(t *testing.T) {
	assert.Nil(t, Filter("", 0, "", ""))
	assert.NotNil(t, Filter("WFC", 0, "", ""))
}

func TestQueryServerError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	})
	_, err := c.Query(context.Background(), []float32{0.1}, 5, nil)
	require.Error(t, err)
}
