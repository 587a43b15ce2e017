// Package recovery implements the supervisor recovery state machine: bounded
// retry with backoff, a cooldown between attempts, and a hard stop into
// Unrecoverable when the attempt budget runs out.
package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Dicklesworthstone/watchmux/internal/agent"
	"github.com/Dicklesworthstone/watchmux/internal/notify"
	"github.com/Dicklesworthstone/watchmux/internal/state"
)

// Remediator performs the actual restart action against the multiplexer.
type Remediator interface {
	Recover(ctx context.Context, target agent.Target) error
}

// RemediatorFunc adapts a function to the Remediator interface.
type RemediatorFunc func(ctx context.Context, target agent.Target) error

func (f RemediatorFunc) Recover(ctx context.Context, target agent.Target) error {
	return f(ctx, target)
}

// BackoffFunc returns the cooldown after attempt n (1-based).
type BackoffFunc func(n int) time.Duration

// LinearBackoff grows the cooldown by base per attempt, capped at max.
func LinearBackoff(base, max time.Duration) BackoffFunc {
	return func(n int) time.Duration {
		d := time.Duration(n) * base
		if d > max {
			return max
		}
		return d
	}
}

// ExponentialBackoff doubles the cooldown each attempt, capped at max.
func ExponentialBackoff(base, max time.Duration) BackoffFunc {
	return func(n int) time.Duration {
		d := base
		for i := 1; i < n; i++ {
			d *= 2
			if d >= max {
				return max
			}
		}
		if d > max {
			return max
		}
		return d
	}
}

// PolicyBackoff maps a configured policy name to a BackoffFunc. The policy
// string is validated at config load; unknown values fall back to linear.
func PolicyBackoff(policy string, base, max time.Duration) BackoffFunc {
	if policy == "exponential" {
		return ExponentialBackoff(base, max)
	}
	return LinearBackoff(base, max)
}

// Attempt records one recovery action for the history log.
type Attempt struct {
	Agent  string        `json:"agent"`
	Number int           `json:"number"`
	At     time.Time     `json:"at"`
	Err    string        `json:"error,omitempty"`
	Next   time.Duration `json:"cooldown"`
}

// Outcome says what MaybeRecover did.
type Outcome int

const (
	// OutcomeNone: not eligible (wrong phase, wrong role, or cooling down).
	OutcomeNone Outcome = iota
	// OutcomeAttempted: a recovery action ran and succeeded.
	OutcomeAttempted
	// OutcomeFailed: a recovery action ran and errored.
	OutcomeFailed
	// OutcomeExhausted: the attempt budget ran out; the agent is now
	// unrecoverable and a manual-intervention alert was raised.
	OutcomeExhausted
)

// historyCap bounds the retained attempt log.
const historyCap = 64

// Manager drives recovery for crashed supervisor agents.
type Manager struct {
	remediator  Remediator
	tracker     *state.Tracker
	alerts      *notify.Manager
	maxAttempts int
	backoff     BackoffFunc
	now         func() time.Time

	mu      sync.Mutex
	history []Attempt
}

// NewManager builds a recovery manager.
func NewManager(remediator Remediator, tracker *state.Tracker, alerts *notify.Manager, maxAttempts int, backoff BackoffFunc) *Manager {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Manager{
		remediator:  remediator,
		tracker:     tracker,
		alerts:      alerts,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		now:         time.Now,
	}
}

// MaybeRecover inspects one post-check status and runs a recovery action when
// all gates pass: the agent is a supervisor, its phase is Crashed, its
// cooldown has elapsed, and its attempt budget is not spent. At the budget it
// transitions the agent to Unrecoverable and raises exactly one critical
// manual-intervention alert; thereafter nothing fires until a healthy check
// resets the machine.
func (m *Manager) MaybeRecover(ctx context.Context, st state.AgentStatus) Outcome {
	if st.Target.Role != agent.RoleSupervisor || st.Phase != state.PhaseCrashed {
		return OutcomeNone
	}
	now := m.now()
	if now.Before(st.CooldownUntil) {
		return OutcomeNone
	}
	if st.AttemptCount >= m.maxAttempts {
		m.exhaust(st)
		return OutcomeExhausted
	}

	// Claim the attempt before acting: the cooldown starts at the action,
	// so attempt windows never overlap even if the action is slow.
	var attemptNo int
	var cooldown time.Duration
	m.tracker.Update(st.Target, func(s *state.AgentStatus) {
		s.AttemptCount++
		attemptNo = s.AttemptCount
		cooldown = m.backoff(attemptNo)
		s.CooldownUntil = now.Add(cooldown)
		s.Phase = state.PhaseRecovering
	})

	err := m.remediator.Recover(ctx, st.Target)
	m.record(Attempt{
		Agent:  st.Target.ID(),
		Number: attemptNo,
		At:     now,
		Next:   cooldown,
		Err:    errString(err),
	})

	if err != nil {
		m.alerts.Enqueue(notify.Alert{
			Kind:     notify.KindRecoveryFailed,
			Severity: notify.SeverityWarning,
			Session:  st.Target.Session,
			Window:   st.Target.Window,
			Agent:    st.Target.ID(),
			Message: fmt.Sprintf("recovery attempt %d/%d for %s failed: %v",
				attemptNo, m.maxAttempts, st.Target.ID(), err),
			Details: map[string]string{"attempt": fmt.Sprint(attemptNo)},
		})
		return OutcomeFailed
	}

	m.alerts.Enqueue(notify.Alert{
		Kind:     notify.KindRecovery,
		Severity: notify.SeverityWarning,
		Session:  st.Target.Session,
		Window:   st.Target.Window,
		Agent:    st.Target.ID(),
		Message: fmt.Sprintf("restarted %s (attempt %d/%d, next retry in %s if it stays down)",
			st.Target.ID(), attemptNo, m.maxAttempts, cooldown),
		Details: map[string]string{"attempt": fmt.Sprint(attemptNo)},
	})
	return OutcomeAttempted
}

// exhaust moves the agent to Unrecoverable and raises the one-shot
// manual-intervention alert.
func (m *Manager) exhaust(st state.AgentStatus) {
	m.tracker.Update(st.Target, func(s *state.AgentStatus) {
		s.Phase = state.PhaseUnrecoverable
	})
	m.alerts.Enqueue(notify.Alert{
		Kind:     notify.KindManualIntervention,
		Severity: notify.SeverityCritical,
		Session:  st.Target.Session,
		Window:   st.Target.Window,
		Agent:    st.Target.ID(),
		Message: fmt.Sprintf("%s is down after %d recovery attempts; manual intervention required",
			st.Target.ID(), m.maxAttempts),
	})
}

func (m *Manager) record(a Attempt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, a)
	if len(m.history) > historyCap {
		m.history = m.history[len(m.history)-historyCap:]
	}
}

// History returns a copy of the retained attempt log, oldest first.
func (m *Manager) History() []Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Attempt, len(m.history))
	copy(out, m.history)
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
