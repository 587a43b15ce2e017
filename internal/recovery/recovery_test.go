package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Dicklesworthstone/watchmux/internal/agent"
	"github.com/Dicklesworthstone/watchmux/internal/notify"
	"github.com/Dicklesworthstone/watchmux/internal/state"
)

var supervisor = agent.Target{Session: "dev", Window: "dev__pm_1", Index: 0, Role: agent.RoleSupervisor}

type fakeRemediator struct {
	calls []agent.Target
	err   error
}

func (f *fakeRemediator) Recover(ctx context.Context, target agent.Target) error {
	f.calls = append(f.calls, target)
	return f.err
}

type fixture struct {
	mgr     *Manager
	rem     *fakeRemediator
	tracker *state.Tracker
	alerts  *notify.Manager
	now     time.Time
}

func newFixture(t *testing.T, maxAttempts int, backoff BackoffFunc) *fixture {
	t.Helper()
	f := &fixture{
		rem:     &fakeRemediator{},
		tracker: state.NewTracker(3),
		alerts:  notify.NewManager(time.Minute),
		now:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.mgr = NewManager(f.rem, f.tracker, f.alerts, maxAttempts, backoff)
	f.mgr.now = func() time.Time { return f.now }
	return f
}

// crashed marks the supervisor crashed in the tracker and returns its status.
func (f *fixture) crashed() state.AgentStatus {
	return f.tracker.Update(supervisor, func(s *state.AgentStatus) {
		s.Phase = state.PhaseCrashed
		s.ConsecutiveFailures = 3
	})
}

func TestBackoffFuncs(t *testing.T) {
	lin := LinearBackoff(30*time.Second, 300*time.Second)
	exp := ExponentialBackoff(30*time.Second, 300*time.Second)

	tests := []struct {
		name    string
		backoff BackoffFunc
		n       int
		want    time.Duration
	}{
		{"linear 1", lin, 1, 30 * time.Second},
		{"linear 3", lin, 3, 90 * time.Second},
		{"linear capped", lin, 20, 300 * time.Second},
		{"exp 1", exp, 1, 30 * time.Second},
		{"exp 2", exp, 2, 60 * time.Second},
		{"exp 3", exp, 3, 120 * time.Second},
		{"exp capped", exp, 8, 300 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.backoff(tt.n); got != tt.want {
				t.Errorf("backoff(%d) = %v, want %v", tt.n, got, tt.want)
			}
		})
	}
}

func TestBackoffNonDecreasing(t *testing.T) {
	for _, backoff := range []BackoffFunc{
		LinearBackoff(30*time.Second, 300*time.Second),
		ExponentialBackoff(30*time.Second, 300*time.Second),
	} {
		prev := time.Duration(0)
		for n := 1; n <= 12; n++ {
			d := backoff(n)
			if d < prev {
				t.Errorf("backoff(%d) = %v < backoff(%d) = %v", n, d, n-1, prev)
			}
			if d > 300*time.Second {
				t.Errorf("backoff(%d) = %v exceeds cap", n, d)
			}
			prev = d
		}
	}
}

func TestMaybeRecoverAttempts(t *testing.T) {
	f := newFixture(t, 3, ExponentialBackoff(30*time.Second, 300*time.Second))

	out := f.mgr.MaybeRecover(context.Background(), f.crashed())
	if out != OutcomeAttempted {
		t.Fatalf("outcome = %v, want attempted", out)
	}
	if len(f.rem.calls) != 1 || f.rem.calls[0].ID() != supervisor.ID() {
		t.Fatalf("remediator calls = %v", f.rem.calls)
	}

	st, _ := f.tracker.Get(supervisor.ID())
	if st.Phase != state.PhaseRecovering {
		t.Errorf("Phase = %v, want recovering", st.Phase)
	}
	if st.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", st.AttemptCount)
	}
	if want := f.now.Add(30 * time.Second); !st.CooldownUntil.Equal(want) {
		t.Errorf("CooldownUntil = %v, want %v", st.CooldownUntil, want)
	}

	if got := f.alerts.Len(); got != 1 {
		t.Errorf("queued alerts = %d, want 1 recovery alert", got)
	}
}

func TestMaybeRecoverRespectsCooldown(t *testing.T) {
	f := newFixture(t, 3, LinearBackoff(30*time.Second, 300*time.Second))
	ctx := context.Background()

	f.mgr.MaybeRecover(ctx, f.crashed())

	// Still cooling down: re-crash does not trigger a second attempt.
	f.now = f.now.Add(10 * time.Second)
	if out := f.mgr.MaybeRecover(ctx, f.crashed()); out != OutcomeNone {
		t.Fatalf("outcome during cooldown = %v, want none", out)
	}
	if len(f.rem.calls) != 1 {
		t.Fatalf("remediator ran during cooldown: %d calls", len(f.rem.calls))
	}

	// Past the cooldown: the next attempt fires.
	f.now = f.now.Add(30 * time.Second)
	if out := f.mgr.MaybeRecover(ctx, f.crashed()); out != OutcomeAttempted {
		t.Fatalf("outcome past cooldown = %v, want attempted", out)
	}
	if len(f.rem.calls) != 2 {
		t.Errorf("remediator calls = %d, want 2", len(f.rem.calls))
	}
}

func TestMaybeRecoverIntervalsNeverOverlap(t *testing.T) {
	f := newFixture(t, 3, ExponentialBackoff(30*time.Second, 300*time.Second))
	ctx := context.Background()

	var attemptTimes []time.Time
	for len(attemptTimes) < 3 {
		if out := f.mgr.MaybeRecover(ctx, f.crashed()); out == OutcomeAttempted {
			attemptTimes = append(attemptTimes, f.now)
		}
		f.now = f.now.Add(15 * time.Second)
	}

	// Attempt n+1 must start no earlier than attempt n plus its cooldown.
	cooldowns := []time.Duration{30 * time.Second, 60 * time.Second}
	for i := 1; i < len(attemptTimes); i++ {
		gap := attemptTimes[i].Sub(attemptTimes[i-1])
		if gap < cooldowns[i-1] {
			t.Errorf("attempt %d started %v after attempt %d, want >= %v",
				i+1, gap, i, cooldowns[i-1])
		}
	}
}

func TestMaybeRecoverExhaustsBudget(t *testing.T) {
	f := newFixture(t, 2, LinearBackoff(time.Second, time.Minute))
	ctx := context.Background()

	for attempt := 0; attempt < 2; attempt++ {
		if out := f.mgr.MaybeRecover(ctx, f.crashed()); out != OutcomeAttempted {
			t.Fatalf("attempt %d outcome = %v", attempt+1, out)
		}
		f.now = f.now.Add(time.Minute)
	}

	out := f.mgr.MaybeRecover(ctx, f.crashed())
	if out != OutcomeExhausted {
		t.Fatalf("outcome = %v, want exhausted", out)
	}
	if len(f.rem.calls) != 2 {
		t.Errorf("remediator calls = %d, want exactly max_attempts 2", len(f.rem.calls))
	}

	st, _ := f.tracker.Get(supervisor.ID())
	if st.Phase != state.PhaseUnrecoverable {
		t.Errorf("Phase = %v, want unrecoverable", st.Phase)
	}

	alerts := f.alerts.Drain()
	var manual int
	for _, a := range alerts {
		if a.Kind == notify.KindManualIntervention {
			manual++
			if a.Severity != notify.SeverityCritical {
				t.Errorf("manual-intervention severity = %v, want critical", a.Severity)
			}
		}
	}
	if manual != 1 {
		t.Errorf("manual-intervention alerts = %d, want 1", manual)
	}

	// Unrecoverable halts everything: no further attempts, no further alerts.
	f.now = f.now.Add(time.Hour)
	st, _ = f.tracker.Get(supervisor.ID())
	if out := f.mgr.MaybeRecover(ctx, st); out != OutcomeNone {
		t.Errorf("outcome after unrecoverable = %v, want none", out)
	}
	if len(f.rem.calls) != 2 {
		t.Errorf("remediator ran after exhaustion: %d calls", len(f.rem.calls))
	}
}

func TestMaybeRecoverIgnoresWorkers(t *testing.T) {
	f := newFixture(t, 3, LinearBackoff(time.Second, time.Minute))
	worker := agent.Target{Session: "dev", Window: "dev__cc_1", Role: agent.RoleWorker}
	st := f.tracker.Update(worker, func(s *state.AgentStatus) {
		s.Phase = state.PhaseCrashed
	})
	if out := f.mgr.MaybeRecover(context.Background(), st); out != OutcomeNone {
		t.Errorf("outcome for worker = %v, want none", out)
	}
	if len(f.rem.calls) != 0 {
		t.Error("remediator must never run for workers")
	}
}

func TestMaybeRecoverIgnoresNonCrashedPhases(t *testing.T) {
	f := newFixture(t, 3, LinearBackoff(time.Second, time.Minute))
	for _, phase := range []state.Phase{state.PhaseHealthy, state.PhaseSuspected, state.PhaseRecovering, state.PhaseUnrecoverable} {
		st := f.tracker.Update(supervisor, func(s *state.AgentStatus) { s.Phase = phase })
		if out := f.mgr.MaybeRecover(context.Background(), st); out != OutcomeNone {
			t.Errorf("outcome for phase %v = %v, want none", phase, out)
		}
	}
}

func TestMaybeRecoverRemediatorFailure(t *testing.T) {
	f := newFixture(t, 3, LinearBackoff(time.Second, time.Minute))
	f.rem.err = errors.New("respawn-window: no such window")

	out := f.mgr.MaybeRecover(context.Background(), f.crashed())
	if out != OutcomeFailed {
		t.Fatalf("outcome = %v, want failed", out)
	}

	// A failed action still consumes an attempt and starts its cooldown.
	st, _ := f.tracker.Get(supervisor.ID())
	if st.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", st.AttemptCount)
	}

	alerts := f.alerts.Drain()
	if len(alerts) != 1 || alerts[0].Kind != notify.KindRecoveryFailed {
		t.Errorf("alerts = %+v, want one recovery_failed", alerts)
	}

	hist := f.mgr.History()
	if len(hist) != 1 || hist[0].Err == "" {
		t.Errorf("history = %+v, want one errored attempt", hist)
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t, 3, LinearBackoff(time.Second, time.Minute))
	ctx := context.Background()

	f.mgr.MaybeRecover(ctx, f.crashed())
	f.now = f.now.Add(time.Minute)
	f.mgr.MaybeRecover(ctx, f.crashed())

	hist := f.mgr.History()
	if len(hist) != 2 {
		t.Fatalf("history length = %d, want 2", len(hist))
	}
	if hist[0].Number != 1 || hist[1].Number != 2 {
		t.Errorf("attempt numbers = %d, %d, want 1, 2", hist[0].Number, hist[1].Number)
	}
}
