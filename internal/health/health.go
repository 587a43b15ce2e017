// Package health turns pane captures into per-agent verdicts and maintains
// the failure-streak state machine: Healthy resets the streak, each failed
// check extends it, and the threshold tips Suspected into Crashed.
package health

import (
	"context"
	"time"

	"github.com/Dicklesworthstone/watchmux/internal/agent"
	"github.com/Dicklesworthstone/watchmux/internal/detect"
	"github.com/Dicklesworthstone/watchmux/internal/state"
)

// ContentFunc fetches the pane content for a target. Implemented by the
// cached capture path; errors (pool exhaustion, capture timeout, tmux
// failure) count as one failed check.
type ContentFunc func(ctx context.Context, target agent.Target) (string, error)

// Verdict is the outcome of one health check.
type Verdict struct {
	Target agent.Target
	State  detect.State
	// Healthy is the pass/fail reduction of State. A check that errored is
	// unhealthy with Err set.
	Healthy bool
	Err     error
	// Status is the tracked record after applying this verdict.
	Status state.AgentStatus
}

// Checker runs individual health checks.
type Checker struct {
	content   ContentFunc
	detector  *detect.Detector
	tracker   *state.Tracker
	threshold int
	now       func() time.Time
}

// NewChecker builds a checker. threshold is the consecutive-failure count at
// which an agent is declared crashed.
func NewChecker(content ContentFunc, detector *detect.Detector, tracker *state.Tracker, threshold int) *Checker {
	if threshold < 1 {
		threshold = 1
	}
	return &Checker{
		content:   content,
		detector:  detector,
		tracker:   tracker,
		threshold: threshold,
		now:       time.Now,
	}
}

// Check runs one health check against target and folds the result into the
// tracker. A dead pane is a crash without needing a capture; a capture error
// is an unhealthy verdict, never a skipped one.
func (c *Checker) Check(ctx context.Context, target agent.Target) Verdict {
	v := Verdict{Target: target}

	switch {
	case target.PaneDead:
		v.State = detect.StateCrashed
	default:
		content, err := c.content(ctx, target)
		if err != nil {
			v.Err = err
			v.State = detect.StateCrashed
		} else {
			v.State = c.detector.Classify(target.ID(), content)
		}
	}
	v.Healthy = v.Err == nil && v.State.IsHealthy()

	now := c.now()
	v.Status = c.tracker.Update(target, func(s *state.AgentStatus) {
		s.LastCheckedAt = now
		s.LastState = string(v.State)
		if v.Healthy {
			s.ConsecutiveFailures = 0
			s.LastHealthyAt = now
			s.AttemptCount = 0
			s.CooldownUntil = time.Time{}
			s.Phase = state.PhaseHealthy
			return
		}
		s.ConsecutiveFailures++
		if s.Phase == state.PhaseUnrecoverable {
			return
		}
		if s.ConsecutiveFailures >= c.threshold {
			s.Phase = state.PhaseCrashed
		} else if s.Phase != state.PhaseRecovering {
			s.Phase = state.PhaseSuspected
		}
	})
	return v
}

// Threshold returns the configured failure threshold.
func (c *Checker) Threshold() int {
	return c.threshold
}
