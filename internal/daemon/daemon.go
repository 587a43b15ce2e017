// Package daemon runs the monitoring loop as a long-lived process: pidfile
// management, the cycle ticker, alert hand-off to delivery, and a state file
// other invocations read for status reporting.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/Dicklesworthstone/watchmux/internal/monitor"
	"github.com/Dicklesworthstone/watchmux/internal/notify"
	"github.com/Dicklesworthstone/watchmux/internal/state"
)

// Options configures a daemon run.
type Options struct {
	Interval   time.Duration
	PIDPath    string // empty disables the pidfile
	StatePath  string // empty disables the state file
	ConfigPath string
}

// Daemon owns the monitoring loop.
type Daemon struct {
	svc      *monitor.Service
	alerts   *notify.Manager
	notifier *notify.Notifier
	opts     Options
}

// New assembles a daemon around a monitor service.
func New(svc *monitor.Service, alerts *notify.Manager, notifier *notify.Notifier, opts Options) *Daemon {
	return &Daemon{svc: svc, alerts: alerts, notifier: notifier, opts: opts}
}

// Run executes cycles until ctx is cancelled. The first cycle runs
// immediately; after that the ticker paces them. A cycle that outlives the
// interval is never overlapped, the tick is skipped instead.
func (d *Daemon) Run(ctx context.Context) error {
	if d.opts.PIDPath != "" {
		if pid, ok := Running(d.opts.PIDPath); ok {
			return fmt.Errorf("watchmux already running (pid %d)", pid)
		}
		info := PIDFile{PID: os.Getpid(), StartedAt: time.Now(), ConfigPath: d.opts.ConfigPath}
		if err := WritePIDFile(d.opts.PIDPath, info); err != nil {
			return err
		}
		defer RemovePIDFile(d.opts.PIDPath)
	}

	log.Printf("watchmux started, cycle interval %s", d.opts.Interval)
	d.runOnce(ctx)

	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("watchmux shutting down")
			return nil
		case <-ticker.C:
			d.runOnce(ctx)
		}
	}
}

// runOnce runs a cycle, hands pending alerts to delivery, and refreshes the
// state file. Failures are logged, never fatal: the loop outlives bad cycles.
func (d *Daemon) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if _, err := d.svc.RunCycle(ctx); err != nil {
		if errors.Is(err, monitor.ErrCycleInProgress) {
			log.Printf("cycle still running, skipping tick")
			return
		}
		log.Printf("cycle failed: %v", err)
	}

	if drained := d.alerts.Drain(); len(drained) > 0 {
		if err := d.notifier.Deliver(ctx, drained); err != nil {
			log.Printf("alert delivery: %v", err)
		}
	}

	if d.opts.StatePath != "" {
		if err := d.writeState(); err != nil {
			log.Printf("write state file: %v", err)
		}
	}
}

// AgentSnapshot is the per-agent slice of the state file.
type AgentSnapshot struct {
	Agent         string    `json:"agent"`
	Role          string    `json:"role"`
	Phase         string    `json:"phase"`
	Failures      int       `json:"consecutive_failures"`
	LastState     string    `json:"last_state,omitempty"`
	LastHealthyAt time.Time `json:"last_healthy_at,omitempty"`
	LastCheckedAt time.Time `json:"last_checked_at,omitempty"`
	Attempts      int       `json:"recovery_attempts,omitempty"`
}

// State is what the daemon persists between cycles for status reporting.
type State struct {
	UpdatedAt time.Time           `json:"updated_at"`
	Cycles    int                 `json:"cycles"`
	LastCycle monitor.CycleStatus `json:"last_cycle"`
	Agents    []AgentSnapshot     `json:"agents"`
}

// SnapshotAgents converts tracked statuses to their state-file form. The CLI
// uses the same shape for live one-shot cycles.
func SnapshotAgents(statuses []state.AgentStatus) []AgentSnapshot {
	out := make([]AgentSnapshot, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, AgentSnapshot{
			Agent:         st.Target.ID(),
			Role:          string(st.Target.Role),
			Phase:         string(st.Phase),
			Failures:      st.ConsecutiveFailures,
			LastState:     st.LastState,
			LastHealthyAt: st.LastHealthyAt,
			LastCheckedAt: st.LastCheckedAt,
			Attempts:      st.AttemptCount,
		})
	}
	return out
}

// writeState writes the state file atomically via a temp file rename so a
// concurrent status command never reads a half-written file.
func (d *Daemon) writeState() error {
	last, cycles := d.svc.LastCycle()
	st := State{
		UpdatedAt: time.Now(),
		Cycles:    cycles,
		LastCycle: last,
		Agents:    SnapshotAgents(d.svc.Snapshot()),
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(d.opts.StatePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), d.opts.StatePath)
}

// DefaultStatePath returns the default state file location.
func DefaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "watchmux.state.json"
	}
	return filepath.Join(home, ".config", "watchmux", "state.json")
}

// ReadState reads a daemon state file.
func ReadState(path string) (State, error) {
	var st State
	data, err := os.ReadFile(path)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parse state file %s: %w", path, err)
	}
	return st, nil
}
