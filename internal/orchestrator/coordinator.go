package orchestrator

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/finsight-ai/finsight/internal/metrics"
	"github.com/finsight-ai/finsight/internal/planner"
)

// fanOut runs one pipeline per sub-plan concurrently and joins on all of
// them. Each sub-task gets its own deadline; one that exceeds it yields a
// placeholder without disturbing its siblings. Results land in a slice
// indexed by sub-plan position, so completion order never influences the
// aggregate.
func (o *Orchestrator) fanOut(ctx context.Context, plans []planner.SubPlan, opts Options) *AggregatedAnswer {
	results := make([]SubTaskResult, len(plans))

	var wg sync.WaitGroup
	for i, sp := range plans {
		wg.Add(1)
		metrics.SubTasksStarted.Inc()
		go func(i int, sp planner.SubPlan) {
			defer wg.Done()
			results[i] = o.runSubTask(ctx, sp, opts)
		}(i, sp)
	}
	wg.Wait()

	return aggregate(results, true)
}

// runSubTask runs one pipeline under the per-sub-task deadline. The
// pipeline executes in its own goroutine so a strategy that ignores
// cancellation still cannot hold up the join.
func (o *Orchestrator) runSubTask(ctx context.Context, sp planner.SubPlan, opts Options) SubTaskResult {
	tctx, cancel := context.WithTimeout(ctx, o.cfg.SubTaskTimeout)
	defer cancel()

	done := make(chan SubTaskResult, 1)
	go func() {
		done <- o.runPipeline(tctx, sp.Context, sp.Decision, opts)
	}()

	select {
	case res := <-done:
		return res
	case <-tctx.Done():
		metrics.SubTaskTimeouts.Inc()
		o.logger.Warn("sub-task timed out",
			zap.String("topic", string(primaryTopic(sp.Context))),
			zap.Duration("timeout", o.cfg.SubTaskTimeout),
		)
		return timeoutResult(sp.Context)
	}
}
