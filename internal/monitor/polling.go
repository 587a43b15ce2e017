package monitor

import (
	"context"
	"time"

	"github.com/Dicklesworthstone/watchmux/internal/agent"
	"github.com/Dicklesworthstone/watchmux/internal/health"
)

func init() {
	RegisterStrategy("polling", func(opts StrategyOptions) Strategy {
		return &pollingStrategy{timeout: opts.CheckTimeout}
	})
}

// pollingStrategy checks targets one at a time in target order. The simplest
// possible execution model: predictable load on the tmux server, one pooled
// handle in use at a time, and deterministic check ordering.
type pollingStrategy struct {
	timeout time.Duration
}

func (p *pollingStrategy) Name() string { return "polling" }

func (p *pollingStrategy) Run(ctx context.Context, targets []agent.Target, check CheckFunc) []health.Verdict {
	verdicts := make([]health.Verdict, 0, len(targets))
	for _, target := range targets {
		if ctx.Err() != nil {
			// Cycle budget exhausted: remaining targets go unchecked this
			// cycle rather than piling into the next one.
			break
		}
		verdicts = append(verdicts, checkWithTimeout(ctx, p.timeout, target, check))
	}
	return verdicts
}
