package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// ValidationError is the only fatal error class in the system. It is
// surfaced when the orchestrator is constructed, never mid-query.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: invalid %s: %s", e.Field, e.Reason)
}

// Config is the immutable configuration passed into the orchestrator at
// construction and threaded through every component. There is no ambient
// global state; components receive the sections they need.
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Knowledge  KnowledgeConfig  `mapstructure:"knowledge"`
	VectorDB   VectorDBConfig   `mapstructure:"vectordb"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Entities   EntitiesConfig   `mapstructure:"entities"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Routing    RoutingConfig    `mapstructure:"routing"`
	Validation ValidationConfig `mapstructure:"validation"`
	Synthesis  SynthesisConfig  `mapstructure:"synthesis"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
}

// ServiceConfig contains the HTTP service settings.
type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	MetricsPort     int           `mapstructure:"metrics_port"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or console
}

// KnowledgeConfig configures the Postgres-backed structured knowledge store.
// The password is read from FINSIGHT_DB_PASSWORD.
type KnowledgeConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
	LookupLimit     int           `mapstructure:"lookup_limit"`
}

// VectorDBConfig configures the Qdrant vector index client.
type VectorDBConfig struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Collection string        `mapstructure:"collection"`
	TopK       int           `mapstructure:"top_k"`
	Threshold  float64       `mapstructure:"threshold"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// LLMConfig configures the embedding/completion service client.
type LLMConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	CompletionModel string        `mapstructure:"completion_model"`
	Timeout         time.Duration `mapstructure:"timeout"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	MaxLRU          int           `mapstructure:"max_lru"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	RateBurst       int           `mapstructure:"rate_burst"`
}

// CacheConfig configures the optional Redis caches. Leaving Addr empty
// disables Redis; the system then runs with in-process caching only.
type CacheConfig struct {
	Addr         string        `mapstructure:"addr"`
	DB           int           `mapstructure:"db"`
	RetrievalTTL time.Duration `mapstructure:"retrieval_ttl"`
}

// EntitiesConfig configures the entity normalization table.
type EntitiesConfig struct {
	AliasFile string `mapstructure:"alias_file"`
	HotReload bool   `mapstructure:"hot_reload"`
}

// ExtractionConfig holds extractor weights and knobs.
type ExtractionConfig struct {
	EntityWeight float64 `mapstructure:"entity_weight"`
	PeriodWeight float64 `mapstructure:"period_weight"`
	MetricWeight float64 `mapstructure:"metric_weight"`
	UseLLMAssist bool    `mapstructure:"use_llm_assist"`
}

// RoutingConfig holds the planner's intent-match factors.
type RoutingConfig struct {
	FullMatchFactor    float64 `mapstructure:"full_match_factor"`
	PartialMatchFactor float64 `mapstructure:"partial_match_factor"`
	MinimalMatchFactor float64 `mapstructure:"minimal_match_factor"`
}

// ValidationConfig holds the validator's tunable thresholds. The source
// system tuned these ad hoc; they are deliberately configuration, not code.
type ValidationConfig struct {
	AcceptThreshold float64 `mapstructure:"accept_threshold"`
	MinEvidence     int     `mapstructure:"min_evidence"`
	RelevanceWeight float64 `mapstructure:"relevance_weight"`
	CoverageWeight  float64 `mapstructure:"coverage_weight"`
	CountWeight     float64 `mapstructure:"count_weight"`
	CountCeiling    int     `mapstructure:"count_ceiling"`
	TopK            int     `mapstructure:"top_k"`
	UseLLMJudgment  bool    `mapstructure:"use_llm_judgment"`
}

// SynthesisConfig bounds the synthesizer output.
type SynthesisConfig struct {
	MaxAnswerChars  int `mapstructure:"max_answer_chars"`
	MaxPassages     int `mapstructure:"max_passages"`
	MaxPassageChars int `mapstructure:"max_passage_chars"`
}

// ExecutionConfig controls the per-query and per-sub-task execution limits.
type ExecutionConfig struct {
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
	SubTaskTimeout time.Duration `mapstructure:"subtask_timeout"`
	MaxSubTasks    int           `mapstructure:"max_subtasks"`
}

// Load reads the configuration file named by FINSIGHT_CONFIG (default
// ./finsight.yaml), applies defaults, and validates the result. Secrets
// (database password, LLM API key) are taken from the environment by the
// components that need them, never from the file.
func Load() (*Config, error) {
	path := os.Getenv("FINSIGHT_CONFIG")
	if path == "" {
		path = "finsight.yaml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		// A missing file is acceptable: defaults carry a usable local setup.
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration, used by tests and as the base
// for file overrides.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.port", 8080)
	v.SetDefault("service.metrics_port", 2112)
	v.SetDefault("service.graceful_timeout", "10s")
	v.SetDefault("service.read_timeout", "15s")
	v.SetDefault("service.write_timeout", "60s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("knowledge.host", "localhost")
	v.SetDefault("knowledge.port", 5432)
	v.SetDefault("knowledge.user", "finsight")
	v.SetDefault("knowledge.database", "filings")
	v.SetDefault("knowledge.ssl_mode", "disable")
	v.SetDefault("knowledge.max_connections", 25)
	v.SetDefault("knowledge.idle_connections", 5)
	v.SetDefault("knowledge.max_lifetime", "5m")
	v.SetDefault("knowledge.lookup_limit", 20)

	v.SetDefault("vectordb.host", "localhost")
	v.SetDefault("vectordb.port", 6333)
	v.SetDefault("vectordb.collection", "filing_chunks")
	v.SetDefault("vectordb.top_k", 10)
	v.SetDefault("vectordb.threshold", 0.0)
	v.SetDefault("vectordb.timeout", "5s")

	v.SetDefault("llm.base_url", "http://localhost:8000")
	v.SetDefault("llm.embedding_model", "text-embedding-3-small")
	v.SetDefault("llm.completion_model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", "30s")
	v.SetDefault("llm.cache_ttl", "1h")
	v.SetDefault("llm.max_lru", 2048)
	v.SetDefault("llm.rate_per_second", 5.0)
	v.SetDefault("llm.rate_burst", 10)

	v.SetDefault("cache.addr", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.retrieval_ttl", "10m")

	v.SetDefault("entities.alias_file", "config/companies.yaml")
	v.SetDefault("entities.hot_reload", false)

	v.SetDefault("extraction.entity_weight", 0.4)
	v.SetDefault("extraction.period_weight", 0.3)
	v.SetDefault("extraction.metric_weight", 0.3)
	v.SetDefault("extraction.use_llm_assist", true)

	v.SetDefault("routing.full_match_factor", 1.0)
	v.SetDefault("routing.partial_match_factor", 0.6)
	v.SetDefault("routing.minimal_match_factor", 0.3)

	v.SetDefault("validation.accept_threshold", 0.5)
	v.SetDefault("validation.min_evidence", 1)
	v.SetDefault("validation.relevance_weight", 0.5)
	v.SetDefault("validation.coverage_weight", 0.3)
	v.SetDefault("validation.count_weight", 0.2)
	v.SetDefault("validation.count_ceiling", 5)
	v.SetDefault("validation.top_k", 5)
	v.SetDefault("validation.use_llm_judgment", true)

	v.SetDefault("synthesis.max_answer_chars", 2400)
	v.SetDefault("synthesis.max_passages", 8)
	v.SetDefault("synthesis.max_passage_chars", 800)

	v.SetDefault("execution.query_timeout", "90s")
	v.SetDefault("execution.subtask_timeout", "30s")
	v.SetDefault("execution.max_subtasks", 4)
}

// Validate checks the fatal invariants. Everything else is tolerated and
// degrades at runtime instead.
func (c *Config) Validate() error {
	if c.Validation.AcceptThreshold < 0 || c.Validation.AcceptThreshold > 1 {
		return &ValidationError{Field: "validation.accept_threshold", Reason: "must be in [0,1]"}
	}
	if c.Validation.MinEvidence < 0 {
		return &ValidationError{Field: "validation.min_evidence", Reason: "must be >= 0"}
	}
	if c.Execution.MaxSubTasks < 1 {
		return &ValidationError{Field: "execution.max_subtasks", Reason: "must be >= 1"}
	}
	if c.Execution.SubTaskTimeout <= 0 {
		return &ValidationError{Field: "execution.subtask_timeout", Reason: "must be positive"}
	}
	w := c.Extraction.EntityWeight + c.Extraction.PeriodWeight + c.Extraction.MetricWeight
	if w <= 0 {
		return &ValidationError{Field: "extraction weights", Reason: "must sum to a positive value"}
	}
	if c.LLM.BaseURL == "" {
		return &ValidationError{Field: "llm.base_url", Reason: "must be set"}
	}
	return nil
}
