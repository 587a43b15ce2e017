// Package state tracks per-agent health history across monitoring cycles.
// The tracker is the single writer-serialized home for everything that must
// survive between cycles: failure streaks, lifecycle phase, recovery
// bookkeeping.
package state

import (
	"sync"
	"time"

	"github.com/Dicklesworthstone/watchmux/internal/agent"
)

// Phase is an agent's position in the monitoring lifecycle.
type Phase string

const (
	// PhaseUnknown is the initial phase before any verdict.
	PhaseUnknown Phase = "unknown"
	// PhaseHealthy means the last check passed.
	PhaseHealthy Phase = "healthy"
	// PhaseSuspected means failures are accumulating below the threshold.
	PhaseSuspected Phase = "suspected"
	// PhaseCrashed means the failure threshold was reached.
	PhaseCrashed Phase = "crashed"
	// PhaseRecovering means a recovery action is in flight or cooling down.
	PhaseRecovering Phase = "recovering"
	// PhaseUnrecoverable means recovery attempts are exhausted. Only a
	// healthy verdict leaves this phase.
	PhaseUnrecoverable Phase = "unrecoverable"
)

// AgentStatus is the tracked record for one agent.
type AgentStatus struct {
	Target              agent.Target
	Phase               Phase
	ConsecutiveFailures int
	LastHealthyAt       time.Time
	LastCheckedAt       time.Time
	LastState           string // detector verdict from the last check

	// Recovery bookkeeping, meaningful for supervisor targets.
	AttemptCount  int
	CooldownUntil time.Time

	// missedCycles counts consecutive cycles the agent was absent from
	// discovery. Reset on reappearance.
	missedCycles int
}

// Tracker holds AgentStatus records keyed by target ID. Safe for concurrent
// use; mutations go through Update so each record changes atomically.
type Tracker struct {
	mu          sync.RWMutex
	agents      map[string]*AgentStatus
	graceCycles int
}

// NewTracker creates a tracker. graceCycles is how many cycles a departed
// agent keeps its record before it is pruned.
func NewTracker(graceCycles int) *Tracker {
	if graceCycles < 1 {
		graceCycles = 1
	}
	return &Tracker{
		agents:      make(map[string]*AgentStatus),
		graceCycles: graceCycles,
	}
}

// Get returns a copy of the record for id.
func (t *Tracker) Get(id string) (AgentStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.agents[id]
	if !ok {
		return AgentStatus{}, false
	}
	return *s, true
}

// Update applies fn to the record for target, creating it in PhaseUnknown if
// absent. fn runs under the tracker lock and must not block.
func (t *Tracker) Update(target agent.Target, fn func(*AgentStatus)) AgentStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.agents[target.ID()]
	if !ok {
		s = &AgentStatus{Target: target, Phase: PhaseUnknown}
		t.agents[target.ID()] = s
	}
	s.Target = target
	fn(s)
	return *s
}

// BeginCycle reconciles tracked records against this cycle's discovered
// targets: new agents get records, departed agents age toward pruning, and
// reappearing agents keep their history. Returns the IDs pruned this cycle.
func (t *Tracker) BeginCycle(discovered []agent.Target) (pruned []string) {
	present := make(map[string]bool, len(discovered))
	for _, tgt := range discovered {
		present[tgt.ID()] = true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, tgt := range discovered {
		s, ok := t.agents[tgt.ID()]
		if !ok {
			t.agents[tgt.ID()] = &AgentStatus{Target: tgt, Phase: PhaseUnknown}
			continue
		}
		s.Target = tgt
		s.missedCycles = 0
	}

	for id, s := range t.agents {
		if present[id] {
			continue
		}
		s.missedCycles++
		if s.missedCycles >= t.graceCycles {
			delete(t.agents, id)
			pruned = append(pruned, id)
		}
	}
	return pruned
}

// All returns copies of every tracked record.
func (t *Tracker) All() []AgentStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]AgentStatus, 0, len(t.agents))
	for _, s := range t.agents {
		out = append(out, *s)
	}
	return out
}

// Len returns the number of tracked agents.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.agents)
}
