package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Query lifecycle
	QueriesStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finsight_queries_started_total",
			Help: "Total number of queries accepted by the orchestrator",
		},
	)

	QueriesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_queries_completed_total",
			Help: "Total number of queries completed",
		},
		[]string{"status", "decomposed"},
	)

	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "finsight_query_duration_seconds",
			Help:    "End-to-end query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Routing
	RoutesPlanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_routes_planned_total",
			Help: "Primary routes chosen by the planner",
		},
		[]string{"strategy"},
	)

	RouterConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "finsight_router_confidence",
			Help:    "Planner confidence per routing decision",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	// Retrieval
	RetrievalAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_retrieval_attempts_total",
			Help: "Retrieval strategy executions by strategy and outcome",
		},
		[]string{"strategy", "status"},
	)

	RetrievalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finsight_retrieval_duration_seconds",
			Help:    "Retrieval strategy execution duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"strategy"},
	)

	FallbackDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "finsight_fallback_depth",
			Help:    "Fallback depth at which a result was accepted",
			Buckets: []float64{0, 1, 2, 3},
		},
	)

	RetrievalCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_retrieval_cache_total",
			Help: "Read-through retrieval cache lookups",
		},
		[]string{"result"},
	)

	// Validation
	ValidationScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "finsight_validation_score",
			Help:    "Validator quality scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	ValidationRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_validation_rejections_total",
			Help: "Validator rejections by reason",
		},
		[]string{"reason"},
	)

	// Sub-tasks
	SubTasksStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finsight_subtasks_started_total",
			Help: "Sub-task pipelines started for decomposed queries",
		},
	)

	SubTaskTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finsight_subtask_timeouts_total",
			Help: "Sub-tasks that exceeded their timeout",
		},
	)

	// External collaborators
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_embedding_requests_total",
			Help: "Embedding service calls by outcome",
		},
		[]string{"outcome"},
	)

	CompletionRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_completion_requests_total",
			Help: "Completion service calls by outcome",
		},
		[]string{"outcome"},
	)

	VectorSearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finsight_vector_search_duration_seconds",
			Help:    "Vector index search duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"status"},
	)

	KnowledgeLookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finsight_knowledge_lookup_duration_seconds",
			Help:    "Structured knowledge store lookup duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"status"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "finsight_circuit_breaker_state",
			Help: "Circuit breaker state per backend (0=closed, 1=half-open, 2=open)",
		},
		[]string{"backend"},
	)
)
