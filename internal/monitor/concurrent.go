package monitor

import (
	"context"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Dicklesworthstone/watchmux/internal/agent"
	"github.com/Dicklesworthstone/watchmux/internal/health"
)

func init() {
	RegisterStrategy("concurrent", func(opts StrategyOptions) Strategy {
		limit := opts.ConcurrencyLimit
		if limit < 1 {
			limit = 1
		}
		return &concurrentStrategy{limit: limit, timeout: opts.CheckTimeout}
	})
}

// concurrentStrategy fans checks out across a bounded goroutine pool. The
// limit must not exceed the tmux pool size or waiting checks would burn their
// timeout queuing for a handle.
type concurrentStrategy struct {
	limit   int
	timeout time.Duration
}

func (c *concurrentStrategy) Name() string { return "concurrent" }

func (c *concurrentStrategy) Run(ctx context.Context, targets []agent.Target, check CheckFunc) []health.Verdict {
	// Results land by index: no result mutex, and the output keeps target
	// order no matter which check finishes first.
	verdicts := make([]health.Verdict, len(targets))

	p := pool.New().WithMaxGoroutines(c.limit)
	for i, target := range targets {
		i, target := i, target
		p.Go(func() {
			verdicts[i] = checkWithTimeout(ctx, c.timeout, target, check)
		})
	}
	p.Wait()
	return verdicts
}
