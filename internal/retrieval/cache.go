package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/finsight-ai/finsight/internal/metrics"
	"github.com/finsight-ai/finsight/internal/models"
)

// CachedStrategy fronts another strategy with a read-through Redis cache
// keyed by the normalized query context. Entries are immutable snapshots
// with an explicit TTL; they are never mutated in place. Only successful
// non-empty results are cached, so a recovering backend is retried.
type CachedStrategy struct {
	inner  Strategy
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedStrategy wraps inner. A nil client disables caching entirely.
func NewCachedStrategy(inner Strategy, client *redis.Client, ttl time.Duration, logger *zap.Logger) Strategy {
	if client == nil {
		return inner
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedStrategy{inner: inner, client: client, ttl: ttl, logger: logger}
}

func (c *CachedStrategy) Tag() StrategyTag { return c.inner.Tag() }

func (c *CachedStrategy) Execute(ctx context.Context, qc models.QueryContext) (*Result, error) {
	key := resultKey(c.inner.Tag(), qc)

	if data, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var cached Result
		if err := json.Unmarshal(data, &cached); err == nil {
			metrics.RetrievalCacheHits.WithLabelValues("hit").Inc()
			return &cached, nil
		}
	}
	metrics.RetrievalCacheHits.WithLabelValues("miss").Inc()

	res, err := c.inner.Execute(ctx, qc)
	if err != nil || res == nil || res.Status != StatusOK {
		return res, err
	}

	if data, merr := json.Marshal(res); merr == nil {
		if serr := c.client.Set(ctx, key, data, c.ttl).Err(); serr != nil {
			c.logger.Debug("retrieval cache write failed", zap.Error(serr))
		}
	}
	return res, nil
}

// resultKey hashes the normalized context fields that determine a result.
// RawQuery participates because the semantic strategies embed it.
func resultKey(tag StrategyTag, qc models.QueryContext) string {
	topics := ""
	for _, t := range qc.Topics {
		topics += string(t) + ","
	}
	payload := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s",
		tag, qc.CompanyID, qc.Year, qc.Quarter, qc.DocType, qc.Metric, topics, qc.RawQuery)
	h := sha256.Sum256([]byte(payload))
	return "ret:" + hex.EncodeToString(h[:16])
}
