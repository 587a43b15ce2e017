// Package monitor orchestrates health-check cycles: discover the fleet, run
// every check under a pluggable execution strategy, and feed the results to
// recovery and alerting.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Dicklesworthstone/watchmux/internal/agent"
	"github.com/Dicklesworthstone/watchmux/internal/health"
)

// CheckFunc runs one health check. The strategy owns the per-check timeout.
type CheckFunc func(ctx context.Context, target agent.Target) health.Verdict

// Strategy executes the checks of one cycle. Verdicts come back in target
// order; a cycle whose budget expires may return fewer verdicts, leaving the
// remaining targets unchecked until the next cycle.
type Strategy interface {
	Name() string
	Run(ctx context.Context, targets []agent.Target, check CheckFunc) []health.Verdict
}

// StrategyOptions parameterizes strategy construction.
type StrategyOptions struct {
	// ConcurrencyLimit caps in-flight checks for concurrent strategies.
	ConcurrencyLimit int
	// CheckTimeout bounds each individual check.
	CheckTimeout time.Duration
}

type strategyFactory func(StrategyOptions) Strategy

var (
	registryMu sync.RWMutex
	registry   = map[string]strategyFactory{}
)

// RegisterStrategy makes a strategy constructible by name. Built-ins register
// from init; external callers may add their own before building a service.
func RegisterStrategy(name string, factory strategyFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// NewStrategy builds the named strategy.
func NewStrategy(name string, opts StrategyOptions) (Strategy, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown monitor strategy %q (have %v)", name, StrategyNames())
	}
	return factory(opts), nil
}

// StrategyNames lists registered strategies, sorted.
func StrategyNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// checkWithTimeout applies the per-check budget around one check.
func checkWithTimeout(ctx context.Context, timeout time.Duration, target agent.Target, check CheckFunc) health.Verdict {
	if timeout <= 0 {
		return check(ctx, target)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return check(cctx, target)
}
