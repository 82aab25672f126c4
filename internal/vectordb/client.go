// Package vectordb is a minimal Qdrant HTTP client exposing the one
// capability the retrieval strategies need: similarity search with an
// optional metadata filter.
package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/finsight-ai/finsight/internal/circuitbreaker"
	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/metrics"
)

// Match is one search hit.
type Match struct {
	DocID      string
	Section    string
	Text       string
	Similarity float64
	Payload    map[string]interface{}
}

// Client talks to one Qdrant collection.
type Client struct {
	cfg   config.VectorDBConfig
	base  string
	httpw *circuitbreaker.HTTPWrapper
	log   *zap.Logger
}

// NewClient builds a client from configuration.
func NewClient(cfg config.VectorDBConfig, logger *zap.Logger) *Client {
	if cfg.Port == 0 {
		cfg.Port = 6333
	}
	if cfg.TopK == 0 {
		cfg.TopK = 10
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &Client{
		cfg:   cfg,
		base:  fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		httpw: circuitbreaker.NewHTTPWrapper(httpClient, "qdrant", logger),
		log:   logger,
	}
}

// NewClientWithBase builds a client against an explicit base URL; tests use
// it with httptest servers.
func NewClientWithBase(cfg config.VectorDBConfig, base string, logger *zap.Logger) *Client {
	c := NewClient(cfg, logger)
	c.base = base
	return c
}

type queryRequest struct {
	Query          []float32              `json:"query"`
	Limit          int                    `json:"limit"`
	ScoreThreshold *float64               `json:"score_threshold,omitempty"`
	WithPayload    bool                   `json:"with_payload"`
	Filter         map[string]interface{} `json:"filter,omitempty"`
}

type point struct {
	ID      interface{}            `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

type queryResponse struct {
	Result struct {
		Points []point `json:"points"`
	} `json:"result"`
	Status string `json:"status"`
}

// Query searches the collection, optionally constrained by a metadata
// filter built with Filter. Results come back ordered by descending
// similarity. Transport failures and open breakers surface as errors.
func (c *Client) Query(ctx context.Context, embedding []float32, topK int, filter map[string]interface{}) ([]Match, error) {
	if topK <= 0 {
		topK = c.cfg.TopK
	}
	var thr *float64
	if c.cfg.Threshold > 0 {
		t := c.cfg.Threshold
		thr = &t
	}
	body := queryRequest{
		Query:          embedding,
		Limit:          topK,
		ScoreThreshold: thr,
		WithPayload:    true,
		Filter:         filter,
	}
	buf, _ := json.Marshal(body)

	url := fmt.Sprintf("%s/collections/%s/points/query", c.base, c.cfg.Collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpw.Do(req)
	if err != nil {
		metrics.VectorSearchDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("vector query: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		metrics.VectorSearchDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("vector query status %d", resp.StatusCode)
	}
	var qr queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		metrics.VectorSearchDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, err
	}
	metrics.VectorSearchDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	out := make([]Match, 0, len(qr.Result.Points))
	for _, p := range qr.Result.Points {
		m := Match{Similarity: p.Score, Payload: p.Payload}
		if p.ID != nil {
			m.DocID = fmt.Sprintf("%v", p.ID)
		}
		if v, ok := p.Payload["doc_id"].(string); ok && v != "" {
			m.DocID = v
		}
		if v, ok := p.Payload["section"].(string); ok {
			m.Section = v
		}
		if v, ok := p.Payload["text"].(string); ok {
			m.Text = v
		}
		out = append(out, m)
	}
	return out, nil
}

// Filter builds a Qdrant must-clause filter from metadata fields. Zero
// values are skipped; a filter with no clauses is returned as nil.
func Filter(company string, year int, quarter, docType string) map[string]interface{} {
	must := make([]map[string]interface{}, 0, 4)
	clause := func(key string, value interface{}) map[string]interface{} {
		return map[string]interface{}{"key": key, "match": map[string]interface{}{"value": value}}
	}
	if company != "" {
		must = append(must, clause("company", company))
	}
	if year != 0 {
		must = append(must, clause("year", year))
	}
	if quarter != "" {
		must = append(must, clause("quarter", quarter))
	}
	if docType != "" {
		must = append(must, clause("doc_type", docType))
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]interface{}{"must": must}
}
