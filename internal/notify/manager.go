// Package notify queues, dedups, and delivers alerts raised by the monitor.
// The Manager owns the queuing/dedup contract; delivery channels hand alerts
// off to the outside world.
package notify

import (
	"sync"
	"time"
)

// Kind categorizes an alert.
type Kind string

const (
	KindCrash              Kind = "crash"
	KindRecovered          Kind = "recovered"
	KindRecovery           Kind = "recovery"
	KindRecoveryFailed     Kind = "recovery_failed"
	KindManualIntervention Kind = "manual_intervention"
)

// Severity ranks an alert for delivery channels.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one queued notification. Agent is the "session:window" identity of
// the monitored unit the alert concerns.
type Alert struct {
	Kind      Kind              `json:"kind"`
	Severity  Severity          `json:"severity"`
	Session   string            `json:"session"`
	Window    string            `json:"window"`
	Agent     string            `json:"agent"`
	Message   string            `json:"message"`
	FirstAt   time.Time         `json:"first_at"`
	LastAt    time.Time         `json:"last_at"`
	Count     int               `json:"count"`
	Details   map[string]string `json:"details,omitempty"`
}

// Manager collects alerts and collapses repeats. Two alerts for the same
// (agent, kind) within the dedup window become one, keeping the latest
// payload and timestamp. Enqueue and Drain are safe to call concurrently.
type Manager struct {
	mu          sync.Mutex
	window      time.Duration
	now         func() time.Time
	pending     []*Alert
	pendingIdx  map[string]*Alert
	lastDrained map[string]time.Time
}

// NewManager creates a Manager with the given dedup window.
func NewManager(window time.Duration) *Manager {
	return &Manager{
		window:      window,
		now:         time.Now,
		pendingIdx:  make(map[string]*Alert),
		lastDrained: make(map[string]time.Time),
	}
}

func dedupKey(a Alert) string {
	return a.Agent + ":" + string(a.Kind)
}

// Enqueue records an alert, collapsing it into an existing one for the same
// (agent, kind) when inside the dedup window. A repeat arriving within the
// window of an already-drained alert is suppressed entirely; this is what
// stops a flapping agent from generating an alert storm.
func (m *Manager) Enqueue(a Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	key := dedupKey(a)

	if p, ok := m.pendingIdx[key]; ok {
		if now.Sub(p.LastAt) < m.window {
			// Collapse: refresh the latest occurrence's payload.
			p.Message = a.Message
			p.Severity = a.Severity
			p.Details = a.Details
			p.LastAt = now
			p.Count++
			return
		}
		// Outside the window: a fresh alert for the same key.
	} else if last, ok := m.lastDrained[key]; ok && now.Sub(last) < m.window {
		return
	}

	queued := a
	queued.FirstAt = now
	queued.LastAt = now
	queued.Count = 1
	m.pending = append(m.pending, &queued)
	m.pendingIdx[key] = &queued
}

// Drain returns all pending alerts and clears the queue. It is the sole
// hand-off point to the delivery collaborator.
func (m *Manager) Drain() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) == 0 {
		return nil
	}

	out := make([]Alert, len(m.pending))
	for i, p := range m.pending {
		out[i] = *p
		m.lastDrained[dedupKey(*p)] = p.LastAt
	}
	m.pending = nil
	m.pendingIdx = make(map[string]*Alert)
	return out
}

// Len reports the number of pending alerts.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Reset clears dedup history for an agent, so the next alert for it fires
// immediately. Called after a successful recovery.
func (m *Manager) Reset(agent string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.lastDrained {
		if len(key) > len(agent) && key[:len(agent)+1] == agent+":" {
			delete(m.lastDrained, key)
		}
	}
}
