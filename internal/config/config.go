// Package config loads and validates watchmux configuration from TOML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Dicklesworthstone/watchmux/internal/notify"
)

// Config represents the main configuration.
type Config struct {
	Monitor       MonitorConfig  `toml:"monitor"`
	Pool          PoolConfig     `toml:"pool"`
	Cache         CacheConfig    `toml:"cache"`
	Health        HealthConfig   `toml:"health"`
	Recovery      RecoveryConfig `toml:"recovery"`
	Alerts        AlertsConfig   `toml:"alerts"`
	Detect        DetectConfig   `toml:"detect"`
	Roles         RolesConfig    `toml:"roles"`
	Tmux          TmuxConfig     `toml:"tmux"`
	Notifications notify.Config  `toml:"notifications"`
}

// MonitorConfig controls cycle execution.
type MonitorConfig struct {
	Strategy             string `toml:"strategy"`                // polling or concurrent
	ConcurrencyLimit     int    `toml:"concurrency_limit"`       // max checks in flight (concurrent strategy)
	CycleIntervalSec     int    `toml:"cycle_interval_sec"`      // seconds between cycle starts
	CycleSoftDeadlineSec int    `toml:"cycle_soft_deadline_sec"` // soft budget for one full cycle
	CheckTimeoutSec      int    `toml:"check_timeout_sec"`       // per-target check timeout
	SessionFilter        string `toml:"session_filter"`          // regex limiting monitored sessions
}

// PoolConfig controls the tmux connection pool.
type PoolConfig struct {
	MinSize          int `toml:"min_size"`
	MaxSize          int `toml:"max_size"`
	AcquireTimeoutMs int `toml:"acquire_timeout_ms"`
	IdleTimeoutSec   int `toml:"idle_timeout_sec"`
}

// CacheConfig holds per-tier TTLs. Shorter TTLs for more volatile data.
type CacheConfig struct {
	SessionsTTLSec int `toml:"sessions_ttl_sec"`
	PanesTTLSec    int `toml:"panes_ttl_sec"`
	StatusTTLSec   int `toml:"status_ttl_sec"`
	PanesCapacity  int `toml:"panes_capacity"` // max cached pane captures
}

// HealthConfig controls verdict thresholds and state retention.
type HealthConfig struct {
	FailureThreshold    int `toml:"failure_threshold"`     // consecutive failures before Crashed
	CaptureLines        int `toml:"capture_lines"`         // scrollback lines captured per check
	DepartedGraceCycles int `toml:"departed_grace_cycles"` // cycles a vanished agent keeps its state
}

// RecoveryConfig controls automatic recovery of the supervisory agent.
type RecoveryConfig struct {
	MaxAttempts    int      `toml:"max_attempts"`
	BackoffPolicy  string   `toml:"backoff_policy"` // linear or exponential
	BackoffBaseSec int      `toml:"backoff_base_sec"`
	BackoffMaxSec  int      `toml:"backoff_max_sec"`
	Mode           string   `toml:"mode"`         // respawn or send-keys
	RestartKeys    []string `toml:"restart_keys"` // key sequence for send-keys mode
}

// AlertsConfig controls alert queueing and dedup.
type AlertsConfig struct {
	Enabled        bool `toml:"enabled"`
	DedupWindowSec int  `toml:"dedup_window_sec"`
}

// DetectConfig controls the crash detector.
type DetectConfig struct {
	TailLines    int           `toml:"tail_lines"`    // trailing window inspected per capture
	PatternsFile string        `toml:"patterns_file"` // optional YAML pattern override file
	Patterns     PatternConfig `toml:"patterns"`
}

// RolesConfig maps window-name role tokens to agent roles.
type RolesConfig struct {
	SupervisorTokens []string `toml:"supervisor_tokens"`
	WorkerTokens     []string `toml:"worker_tokens"`
}

// TmuxConfig identifies the multiplexer to talk to.
type TmuxConfig struct {
	Remote     string `toml:"remote"`      // "user@host" for ssh, empty for local
	SocketName string `toml:"socket_name"` // tmux -L socket, empty for default
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Monitor: MonitorConfig{
			Strategy:             "concurrent",
			ConcurrencyLimit:     4,
			CycleIntervalSec:     15,
			CycleSoftDeadlineSec: 10,
			CheckTimeoutSec:      3,
		},
		Pool: PoolConfig{
			MinSize:          2,
			MaxSize:          4,
			AcquireTimeoutMs: 2000,
			IdleTimeoutSec:   120,
		},
		Cache: CacheConfig{
			SessionsTTLSec: 60,
			PanesTTLSec:    10,
			StatusTTLSec:   30,
			PanesCapacity:  256,
		},
		Health: HealthConfig{
			FailureThreshold:    3,
			CaptureLines:        100,
			DepartedGraceCycles: 3,
		},
		Recovery: RecoveryConfig{
			MaxAttempts:    3,
			BackoffPolicy:  "exponential",
			BackoffBaseSec: 30,
			BackoffMaxSec:  300,
			Mode:           "respawn",
		},
		Alerts: AlertsConfig{
			Enabled:        true,
			DedupWindowSec: 60,
		},
		Detect: DetectConfig{
			TailLines: 50,
			Patterns:  DefaultPatterns(),
		},
		Roles: RolesConfig{
			SupervisorTokens: []string{"pm", "supervisor", "lead"},
			WorkerTokens:     []string{"cc", "cod", "gmi", "worker"},
		},
		Notifications: notify.DefaultConfig(),
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".config", "watchmux", "config.toml")
}

// Load reads configuration from path. A missing file yields defaults; a
// malformed or invalid file is an error (never silently coerced).
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks configuration invariants. Violations are fatal at startup.
func (c *Config) Validate() error {
	if c.Pool.MinSize < 1 {
		return fmt.Errorf("pool.min_size must be >= 1, got %d", c.Pool.MinSize)
	}
	if c.Pool.MaxSize < c.Pool.MinSize {
		return fmt.Errorf("pool.max_size (%d) must be >= pool.min_size (%d)", c.Pool.MaxSize, c.Pool.MinSize)
	}
	if c.Monitor.Strategy == "" {
		return fmt.Errorf("monitor.strategy must not be empty")
	}
	if c.Monitor.ConcurrencyLimit < 1 {
		return fmt.Errorf("monitor.concurrency_limit must be >= 1, got %d", c.Monitor.ConcurrencyLimit)
	}
	if c.Monitor.ConcurrencyLimit > c.Pool.MaxSize {
		return fmt.Errorf("monitor.concurrency_limit (%d) must not exceed pool.max_size (%d)",
			c.Monitor.ConcurrencyLimit, c.Pool.MaxSize)
	}
	if c.Monitor.CycleIntervalSec < 1 {
		return fmt.Errorf("monitor.cycle_interval_sec must be >= 1, got %d", c.Monitor.CycleIntervalSec)
	}
	if c.Health.FailureThreshold < 1 {
		return fmt.Errorf("health.failure_threshold must be >= 1, got %d", c.Health.FailureThreshold)
	}
	if c.Health.DepartedGraceCycles < 1 {
		return fmt.Errorf("health.departed_grace_cycles must be >= 1, got %d", c.Health.DepartedGraceCycles)
	}
	if c.Recovery.MaxAttempts < 1 {
		return fmt.Errorf("recovery.max_attempts must be >= 1, got %d", c.Recovery.MaxAttempts)
	}
	switch c.Recovery.BackoffPolicy {
	case "linear", "exponential":
	default:
		return fmt.Errorf("recovery.backoff_policy must be \"linear\" or \"exponential\", got %q", c.Recovery.BackoffPolicy)
	}
	switch c.Recovery.Mode {
	case "respawn":
	case "send-keys":
		if len(c.Recovery.RestartKeys) == 0 {
			return fmt.Errorf("recovery.restart_keys required for send-keys mode")
		}
	default:
		return fmt.Errorf("recovery.mode must be \"respawn\" or \"send-keys\", got %q", c.Recovery.Mode)
	}
	if c.Monitor.SessionFilter != "" {
		if _, err := regexp.Compile(c.Monitor.SessionFilter); err != nil {
			return fmt.Errorf("monitor.session_filter: %w", err)
		}
	}
	if c.Alerts.DedupWindowSec < 1 {
		return fmt.Errorf("alerts.dedup_window_sec must be >= 1, got %d", c.Alerts.DedupWindowSec)
	}
	return nil
}

// Duration accessors. TOML carries integer seconds/milliseconds; callers get
// time.Duration.

func (m MonitorConfig) CycleInterval() time.Duration     { return time.Duration(m.CycleIntervalSec) * time.Second }
func (m MonitorConfig) CycleSoftDeadline() time.Duration { return time.Duration(m.CycleSoftDeadlineSec) * time.Second }
func (m MonitorConfig) CheckTimeout() time.Duration      { return time.Duration(m.CheckTimeoutSec) * time.Second }

func (p PoolConfig) AcquireTimeout() time.Duration { return time.Duration(p.AcquireTimeoutMs) * time.Millisecond }
func (p PoolConfig) IdleTimeout() time.Duration    { return time.Duration(p.IdleTimeoutSec) * time.Second }

func (c CacheConfig) SessionsTTL() time.Duration { return time.Duration(c.SessionsTTLSec) * time.Second }
func (c CacheConfig) PanesTTL() time.Duration    { return time.Duration(c.PanesTTLSec) * time.Second }
func (c CacheConfig) StatusTTL() time.Duration   { return time.Duration(c.StatusTTLSec) * time.Second }

func (r RecoveryConfig) BackoffBase() time.Duration { return time.Duration(r.BackoffBaseSec) * time.Second }
func (r RecoveryConfig) BackoffMax() time.Duration  { return time.Duration(r.BackoffMaxSec) * time.Second }

func (a AlertsConfig) DedupWindow() time.Duration { return time.Duration(a.DedupWindowSec) * time.Second }
