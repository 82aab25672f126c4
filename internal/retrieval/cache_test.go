package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finsight-ai/finsight/internal/models"
)

type countingStrategy struct {
	tag   StrategyTag
	res   *Result
	err   error
	calls int
}

func (c *countingStrategy) Tag() StrategyTag { return c.tag }

func (c *countingStrategy) Execute(_ context.Context, _ models.QueryContext) (*Result, error) {
	c.calls++
	return c.res, c.err
}

func newCacheUnderTest(t *testing.T, inner Strategy) Strategy {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewCachedStrategy(inner, client, time.Minute, zap.NewNop())
}

func TestCacheReadThrough(t *testing.T) {
	inner := &countingStrategy{
		tag: StrategySemantic,
		res: &Result{Strategy: StrategySemantic, Status: StatusOK, Evidence: []Evidence{
			{Source: "d1", Text: "snippet", Score: 0.8, DocID: "d1"},
		}},
	}
	c := newCacheUnderTest(t, inner)
	qc := models.QueryContext{RawQuery: "capital ratios", CompanyID: "WFC"}

	first, err := c.Execute(context.Background(), qc)
	require.NoError(t, err)
	second, err := c.Execute(context.Background(), qc)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls, "second execution must be served from cache")
	assert.Equal(t, first.Evidence, second.Evidence)
}

func TestCacheKeyVariesWithContext(t *testing.T) {
	inner := &countingStrategy{
		tag: StrategySemantic,
		res: &Result{Strategy: StrategySemantic, Status: StatusOK, Evidence: []Evidence{{Source: "d", Text: "t", Score: 0.5}}},
	}
	c := newCacheUnderTest(t, inner)

	_, _ = c.Execute(context.Background(), models.QueryContext{RawQuery: "q", CompanyID: "WFC"})
	_, _ = c.Execute(context.Background(), models.QueryContext{RawQuery: "q", CompanyID: "JPM"})
	assert.Equal(t, 2, inner.calls, "different entities are different cache entries")
}

func TestCacheSkipsEmptyResults(t *testing.T) {
	inner := &countingStrategy{tag: StrategyHybrid, res: &Result{Strategy: StrategyHybrid, Status: StatusEmpty}}
	c := newCacheUnderTest(t, inner)
	qc := models.QueryContext{RawQuery: "nothing matches"}

	_, _ = c.Execute(context.Background(), qc)
	_, _ = c.Execute(context.Background(), qc)
	assert.Equal(t, 2, inner.calls, "empty results are not cached")
}

func TestNilClientDisablesCaching(t *testing.T) {
	inner := &countingStrategy{tag: StrategySemantic, res: &Result{Status: StatusOK}}
	s := NewCachedStrategy(inner, nil, time.Minute, zap.NewNop())
	assert.Same(t, Strategy(inner), s)
}
