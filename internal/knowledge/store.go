// Package knowledge is the structured side of the knowledge base: filing
// sections keyed by (company, year, quarter, doc type). Lookups are exact;
// an absent key segment yields an empty result, never an error.
package knowledge

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/finsight-ai/finsight/internal/circuitbreaker"
	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/metrics"
)

// Passage is one stored filing section.
type Passage struct {
	DocID       string    `db:"doc_id"`
	Section     string    `db:"section"`
	SectionName string    `db:"section_name"`
	Text        string    `db:"snippet"`
	Company     string    `db:"company"`
	Year        int       `db:"year"`
	Quarter     string    `db:"quarter"`
	DocType     string    `db:"doc_type"`
	FiledAt     time.Time `db:"filed_at"`
}

// Key identifies one hierarchical lookup. Zero values relax that segment.
type Key struct {
	CompanyID string
	Year      int
	Quarter   string
	DocType   string
}

// Store answers structured lookups against Postgres.
type Store struct {
	db      *sqlx.DB
	breaker *circuitbreaker.Breaker
	limit   int
	logger  *zap.Logger
}

// NewStore opens the connection pool and verifies connectivity. The
// password comes from FINSIGHT_DB_PASSWORD.
func NewStore(cfg config.KnowledgeConfig, logger *zap.Logger) (*Store, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, os.Getenv("FINSIGHT_DB_PASSWORD"), cfg.Database, cfg.SSLMode,
	)
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open knowledge store: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.IdleConnections)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping knowledge store: %w", err)
	}

	logger.Info("knowledge store connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
	)
	return newStore(db, cfg.LookupLimit, logger), nil
}

// newStore wires a store around an existing pool; tests use it with sqlmock.
func newStore(db *sqlx.DB, limit int, logger *zap.Logger) *Store {
	if limit <= 0 {
		limit = 20
	}
	return &Store{
		db:      db,
		breaker: circuitbreaker.New("postgres", circuitbreaker.DefaultSettings(), logger),
		limit:   limit,
		logger:  logger,
	}
}

// NewStoreWithDB is the test seam around newStore.
func NewStoreWithDB(db *sqlx.DB, limit int, logger *zap.Logger) *Store {
	return newStore(db, limit, logger)
}

// Lookup returns sections matching every present key segment, ordered by
// filing recency then section order. An empty slice means the key is not in
// the index, which is an expected outcome, not a failure.
func (s *Store) Lookup(ctx context.Context, key Key) ([]Passage, error) {
	conds := make([]string, 0, 4)
	args := make([]interface{}, 0, 4)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if key.CompanyID != "" {
		add("company = $%d", key.CompanyID)
	}
	if key.Year != 0 {
		add("year = $%d", key.Year)
	}
	if key.Quarter != "" {
		add("quarter = $%d", key.Quarter)
	}
	if key.DocType != "" {
		add("doc_type = $%d", key.DocType)
	}

	query := `SELECT doc_id, section, section_name, snippet, company, year, quarter, doc_type, filed_at
		FROM filing_sections`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY filed_at DESC, section ASC LIMIT %d", s.limit)

	start := time.Now()
	var rows []Passage
	err := s.breaker.Do(func() error {
		return s.db.SelectContext(ctx, &rows, query, args...)
	})
	if err != nil {
		metrics.KnowledgeLookupDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("knowledge lookup: %w", err)
	}
	metrics.KnowledgeLookupDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	s.logger.Debug("knowledge lookup",
		zap.String("company", key.CompanyID),
		zap.Int("year", key.Year),
		zap.String("quarter", key.Quarter),
		zap.Int("sections", len(rows)),
	)
	return rows, nil
}

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }
