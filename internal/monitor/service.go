package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Dicklesworthstone/watchmux/internal/agent"
	"github.com/Dicklesworthstone/watchmux/internal/detect"
	"github.com/Dicklesworthstone/watchmux/internal/health"
	"github.com/Dicklesworthstone/watchmux/internal/notify"
	"github.com/Dicklesworthstone/watchmux/internal/recovery"
	"github.com/Dicklesworthstone/watchmux/internal/state"
	"github.com/Dicklesworthstone/watchmux/internal/tmux"
)

// ErrCycleInProgress is returned when a cycle is requested while the previous
// one is still running. Cycles never overlap; a slow cycle delays the next.
var ErrCycleInProgress = errors.New("monitor: cycle already in progress")

// CycleStatus summarizes one completed cycle.
type CycleStatus struct {
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	AgentsChecked int           `json:"agents_checked"`
	Healthy       int           `json:"healthy"`
	Suspected     int           `json:"suspected"`
	Crashed       int           `json:"crashed"`
	Recovered     int           `json:"recovered"`
	CheckErrors   int           `json:"check_errors"`
}

// ServiceConfig wires a Service's collaborators.
type ServiceConfig struct {
	Discoverer   *agent.Discoverer
	Tracker      *state.Tracker
	Checker      *health.Checker
	Recovery     *recovery.Manager
	Alerts       *notify.Manager
	Detector     *detect.Detector
	Strategy     Strategy
	SoftDeadline time.Duration
}

// Service runs monitoring cycles: discover, check, recover, alert. One
// Service instance serializes its cycles.
type Service struct {
	discoverer   *agent.Discoverer
	tracker      *state.Tracker
	checker      *health.Checker
	recovery     *recovery.Manager
	alerts       *notify.Manager
	detector     *detect.Detector
	strategy     Strategy
	softDeadline time.Duration

	cycleMu sync.Mutex

	lastMu sync.RWMutex
	last   CycleStatus
	cycles int
}

// NewService assembles a Service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		discoverer:   cfg.Discoverer,
		tracker:      cfg.Tracker,
		checker:      cfg.Checker,
		recovery:     cfg.Recovery,
		alerts:       cfg.Alerts,
		detector:     cfg.Detector,
		strategy:     cfg.Strategy,
		softDeadline: cfg.SoftDeadline,
	}
}

// RunCycle executes one full monitoring cycle. Safe to call from a ticker: if
// the previous cycle is still running it returns ErrCycleInProgress instead
// of stacking up.
func (s *Service) RunCycle(ctx context.Context) (CycleStatus, error) {
	if !s.cycleMu.TryLock() {
		return CycleStatus{}, ErrCycleInProgress
	}
	defer s.cycleMu.Unlock()

	started := time.Now()
	status := CycleStatus{StartedAt: started}

	if s.softDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.softDeadline)
		defer cancel()
	}

	targets, err := s.discoverer.Discover(ctx)
	if err != nil {
		if errors.Is(err, tmux.ErrNoServer) {
			// Nothing to monitor. An empty cycle, not a failure.
			status.Duration = time.Since(started)
			s.finish(status)
			return status, nil
		}
		return status, fmt.Errorf("cycle discovery: %w", err)
	}

	prevPhases := s.snapshotPhases()
	for _, id := range s.tracker.BeginCycle(targets) {
		s.detector.Forget(id)
	}

	verdicts := s.strategy.Run(ctx, targets, s.checker.Check)
	status.AgentsChecked = len(verdicts)

	for _, v := range verdicts {
		s.applyVerdict(ctx, v, prevPhases, &status)
	}

	status.Duration = time.Since(started)
	s.finish(status)
	log.Printf("cycle done: %d checked, %d healthy, %d crashed, %d recovery actions in %s",
		status.AgentsChecked, status.Healthy, status.Crashed, status.Recovered,
		status.Duration.Round(time.Millisecond))
	return status, nil
}

// applyVerdict folds one check result into alerts, recovery, and counters.
func (s *Service) applyVerdict(ctx context.Context, v health.Verdict, prevPhases map[string]state.Phase, status *CycleStatus) {
	id := v.Target.ID()
	prev := prevPhases[id]

	if v.Err != nil {
		status.CheckErrors++
	}

	switch v.Status.Phase {
	case state.PhaseHealthy:
		status.Healthy++
		if prev == state.PhaseCrashed || prev == state.PhaseRecovering || prev == state.PhaseUnrecoverable {
			s.alerts.Reset(id)
			s.alerts.Enqueue(notify.Alert{
				Kind:     notify.KindRecovered,
				Severity: notify.SeverityInfo,
				Session:  v.Target.Session,
				Window:   v.Target.Window,
				Agent:    id,
				Message:  fmt.Sprintf("%s is healthy again", id),
			})
		}
	case state.PhaseSuspected:
		status.Suspected++
	case state.PhaseCrashed, state.PhaseRecovering, state.PhaseUnrecoverable:
		status.Crashed++
		newlyCrashed := v.Status.Phase == state.PhaseCrashed &&
			prev != state.PhaseCrashed && prev != state.PhaseRecovering && prev != state.PhaseUnrecoverable
		if newlyCrashed {
			s.alerts.Enqueue(notify.Alert{
				Kind:     notify.KindCrash,
				Severity: crashSeverity(v.Target.Role),
				Session:  v.Target.Session,
				Window:   v.Target.Window,
				Agent:    id,
				Message: fmt.Sprintf("%s crashed after %d consecutive failed checks (last state: %s)",
					id, v.Status.ConsecutiveFailures, v.Status.LastState),
				Details: map[string]string{"role": string(v.Target.Role)},
			})
		}
		if out := s.recovery.MaybeRecover(ctx, v.Status); out == recovery.OutcomeAttempted || out == recovery.OutcomeFailed {
			status.Recovered++
		}
	}
}

// crashSeverity: the whole fleet stalls without its supervisor, so its crash
// outranks a worker's.
func crashSeverity(role agent.Role) notify.Severity {
	if role == agent.RoleSupervisor {
		return notify.SeverityCritical
	}
	return notify.SeverityWarning
}

func (s *Service) snapshotPhases() map[string]state.Phase {
	all := s.tracker.All()
	phases := make(map[string]state.Phase, len(all))
	for _, st := range all {
		phases[st.Target.ID()] = st.Phase
	}
	return phases
}

func (s *Service) finish(status CycleStatus) {
	s.lastMu.Lock()
	s.last = status
	s.cycles++
	s.lastMu.Unlock()
}

// LastCycle returns the most recent cycle summary and how many cycles have
// completed.
func (s *Service) LastCycle() (CycleStatus, int) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.last, s.cycles
}

// Snapshot returns the current tracked fleet state, for status reporting.
func (s *Service) Snapshot() []state.AgentStatus {
	return s.tracker.All()
}

// RecoveryHistory exposes the recovery attempt log.
func (s *Service) RecoveryHistory() []recovery.Attempt {
	return s.recovery.History()
}
