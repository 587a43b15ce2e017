package agent

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/Dicklesworthstone/watchmux/internal/cache"
	"github.com/Dicklesworthstone/watchmux/internal/tmux"
)

// Lister supplies the raw window list. Satisfied by *tmux.PooledClient.
type Lister interface {
	ListWindows(ctx context.Context) ([]tmux.WindowInfo, error)
}

// Cache keys for the fleet-wide window list and the derived target list.
const (
	windowListKey = "windows"
	targetListKey = "targets"
)

// Discoverer enumerates monitored agents from the tmux window list. The raw
// list goes through the sessions cache tier and the classified, filtered
// target list through the status tier, so repeated discovery within the TTLs
// costs nothing.
type Discoverer struct {
	lister     Lister
	cache      *cache.Cache
	classifier *Classifier
	filter     *regexp.Regexp
}

// NewDiscoverer builds a discoverer. sessionFilter is an optional regex
// limiting discovery to matching session names; empty means all sessions.
func NewDiscoverer(lister Lister, c *cache.Cache, classifier *Classifier, sessionFilter string) (*Discoverer, error) {
	d := &Discoverer{lister: lister, cache: c, classifier: classifier}
	if sessionFilter != "" {
		re, err := regexp.Compile(sessionFilter)
		if err != nil {
			return nil, fmt.Errorf("session filter: %w", err)
		}
		d.filter = re
	}
	return d, nil
}

// Discover returns the current targets, sorted by ID for deterministic cycle
// order. Windows with dead panes are included: a dead pane is exactly the
// kind of agent the monitor exists to notice.
func (d *Discoverer) Discover(ctx context.Context) ([]Target, error) {
	targets, err := cache.GetOrCompute(ctx, d.cache, cache.TierStatus, targetListKey,
		func(ctx context.Context) ([]Target, error) {
			return d.derive(ctx)
		})
	if err != nil {
		return nil, fmt.Errorf("discover agents: %w", err)
	}
	return targets, nil
}

func (d *Discoverer) derive(ctx context.Context) ([]Target, error) {
	windows, err := cache.GetOrCompute(ctx, d.cache, cache.TierSessions, windowListKey,
		func(ctx context.Context) ([]tmux.WindowInfo, error) {
			return d.lister.ListWindows(ctx)
		})
	if err != nil {
		return nil, err
	}

	targets := make([]Target, 0, len(windows))
	for _, w := range windows {
		if d.filter != nil && !d.filter.MatchString(w.Session) {
			continue
		}
		targets = append(targets, Target{
			Session:  w.Session,
			Window:   w.Name,
			Index:    w.Index,
			Role:     d.classifier.Classify(w.Name),
			PaneDead: w.PaneDead,
		})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].ID() < targets[j].ID() })
	return targets, nil
}

// InvalidateList drops the cached window and target lists so the next
// Discover hits tmux. Called after recovery actions that change window
// composition or pane liveness.
func (d *Discoverer) InvalidateList() {
	d.cache.Invalidate(cache.TierStatus, targetListKey)
	d.cache.Invalidate(cache.TierSessions, windowListKey)
}
