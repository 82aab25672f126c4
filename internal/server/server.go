// Package server exposes the orchestrator over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/orchestrator"
)

// Answerer is the query entry point the server fronts.
type Answerer interface {
	Answer(ctx context.Context, raw string, opts orchestrator.Options) (*orchestrator.AggregatedAnswer, error)
}

// Server handles the query API plus health and metrics endpoints.
type Server struct {
	answerer Answerer
	cfg      config.ServiceConfig
	logger   *zap.Logger

	api     *http.Server
	metrics *http.Server
}

// New builds the server around an answerer.
func New(answerer Answerer, cfg config.ServiceConfig, logger *zap.Logger) *Server {
	s := &Server{answerer: answerer, cfg: cfg, logger: logger}

	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	s.api = &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	mmux := http.NewServeMux()
	mmux.Handle("/metrics", promhttp.Handler())
	s.metrics = &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.MetricsPort),
		Handler:      mmux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// RegisterRoutes registers the API endpoints with an HTTP mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/answer", s.handleAnswer)
	mux.HandleFunc("/healthz", s.handleHealthz)
}

// Start runs the API and metrics listeners. It returns when the API
// listener stops.
func (s *Server) Start() error {
	go func() {
		s.logger.Info("starting metrics server", zap.String("addr", s.metrics.Addr))
		if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	s.logger.Info("starting api server", zap.String("addr", s.api.Addr))
	if err := s.api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains both listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.api.Shutdown(ctx)
	if merr := s.metrics.Shutdown(ctx); err == nil {
		err = merr
	}
	return err
}

type answerRequest struct {
	Query string `json:"query"`

	// Optional per-query overrides; zero keeps the configured defaults.
	TimeoutMS       int     `json:"timeout_ms,omitempty"`
	MaxSubTasks     int     `json:"max_subtasks,omitempty"`
	AcceptThreshold float64 `json:"accept_threshold,omitempty"`
}

func (r answerRequest) options() orchestrator.Options {
	return orchestrator.Options{
		Timeout:         time.Duration(r.TimeoutMS) * time.Millisecond,
		MaxSubTasks:     r.MaxSubTasks,
		AcceptThreshold: r.AcceptThreshold,
	}
}

type answerResponse struct {
	QueryID string                         `json:"query_id"`
	Text    string                         `json:"text"`
	Result  *orchestrator.AggregatedAnswer `json:"result"`
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		s.writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	queryID := uuid.NewString()
	logger := s.logger.With(zap.String("query_id", queryID))
	logger.Info("answering query", zap.Int("query_chars", len(req.Query)))

	agg, err := s.answerer.Answer(r.Context(), req.Query, req.options())
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.writeError(w, http.StatusGatewayTimeout, "query cancelled")
			return
		}
		logger.Error("query failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(answerResponse{
		QueryID: queryID,
		Text:    agg.Text(),
		Result:  agg,
	}); err != nil {
		logger.Error("failed to encode answer response", zap.Error(err))
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":     message,
		"timestamp": time.Now().Unix(),
	})
}
