// Package llm is the client for the embedding/completion sidecar service.
// The orchestration core never talks to a model provider directly; it calls
// this service for embeddings (retrieval), topic assists (extraction),
// coverage judgments (validation), and answer synthesis.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/finsight-ai/finsight/internal/circuitbreaker"
	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/metrics"
)

// Embedder produces a vector for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer produces a completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Client implements Embedder and Completer over the HTTP LLM service, with
// an in-process LRU plus optional Redis cache for embeddings and a token
// bucket limiting the completion rate.
type Client struct {
	cfg     config.LLMConfig
	httpw   *circuitbreaker.HTTPWrapper
	lru     *localLRU
	cache   VectorCache
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient builds a client. cache may be nil; the client then runs with
// the in-process LRU only.
func NewClient(cfg config.LLMConfig, cache VectorCache, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxLRU == 0 {
		cfg.MaxLRU = 2048
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 10
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &Client{
		cfg:     cfg,
		httpw:   circuitbreaker.NewHTTPWrapper(httpClient, "llm", logger),
		lru:     newLocalLRU(cfg.MaxLRU),
		cache:   cache,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger,
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
	ModelUsed  string      `json:"model_used"`
}

// Embed returns the vector for text, consulting the LRU and Redis caches
// before calling the service.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(c.cfg.EmbeddingModel, text)

	if v, ok := c.lru.Get(key); ok {
		metrics.EmbeddingRequests.WithLabelValues("lru_hit").Inc()
		return v, nil
	}
	if c.cache != nil {
		if v, ok := c.cache.Get(ctx, key); ok {
			c.lru.Set(key, v, 30*time.Minute)
			metrics.EmbeddingRequests.WithLabelValues("cache_hit").Inc()
			return v, nil
		}
	}

	url := fmt.Sprintf("%s/embeddings", c.cfg.BaseURL)
	payload := embedRequest{Texts: []string{text}, Model: c.cfg.EmbeddingModel}
	buf, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpw.Do(req)
	if err != nil {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("embed http status %d", resp.StatusCode)
	}
	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	if len(er.Embeddings) == 0 {
		metrics.EmbeddingRequests.WithLabelValues("empty").Inc()
		return nil, fmt.Errorf("no embeddings returned")
	}
	out := make([]float32, len(er.Embeddings[0]))
	for i, f := range er.Embeddings[0] {
		out[i] = float32(f)
	}
	metrics.EmbeddingRequests.WithLabelValues("ok").Inc()

	c.lru.Set(key, out, 30*time.Minute)
	if c.cache != nil {
		c.cache.Set(ctx, key, out, c.cfg.CacheTTL)
	}
	return out, nil
}

type completeRequest struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
}

type completeResponse struct {
	Text      string `json:"text"`
	ModelUsed string `json:"model_used"`
}

// Complete sends a prompt through the rate limiter to the completion
// endpoint and returns the raw text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/completions", c.cfg.BaseURL)
	payload := completeRequest{Prompt: prompt, Model: c.cfg.CompletionModel, Temperature: 0}
	buf, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpw.Do(req)
	if err != nil {
		metrics.CompletionRequests.WithLabelValues("error").Inc()
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		metrics.CompletionRequests.WithLabelValues("error").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("completion http status %d: %s", resp.StatusCode, string(body))
	}
	var cr completeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		metrics.CompletionRequests.WithLabelValues("error").Inc()
		return "", err
	}
	metrics.CompletionRequests.WithLabelValues("ok").Inc()
	return cr.Text, nil
}
