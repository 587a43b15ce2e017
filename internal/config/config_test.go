package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v, want nil", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if cfg.Monitor.Strategy != "concurrent" {
		t.Errorf("Strategy = %q, want %q", cfg.Monitor.Strategy, "concurrent")
	}
	if cfg.Pool.MaxSize != 4 {
		t.Errorf("Pool.MaxSize = %d, want 4", cfg.Pool.MaxSize)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[monitor]
strategy = "polling"
concurrency_limit = 2
cycle_interval_sec = 30

[pool]
min_size = 1
max_size = 2

[health]
failure_threshold = 5
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Monitor.Strategy != "polling" {
		t.Errorf("Strategy = %q, want polling", cfg.Monitor.Strategy)
	}
	if cfg.Pool.MaxSize != 2 {
		t.Errorf("Pool.MaxSize = %d, want 2", cfg.Pool.MaxSize)
	}
	if cfg.Health.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want 5", cfg.Health.FailureThreshold)
	}
	// Sections absent from the file keep defaults.
	if cfg.Recovery.MaxAttempts != 3 {
		t.Errorf("Recovery.MaxAttempts = %d, want 3", cfg.Recovery.MaxAttempts)
	}
	if got, want := cfg.Monitor.CycleInterval(), 30*time.Second; got != want {
		t.Errorf("CycleInterval() = %v, want %v", got, want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"max below min", func(c *Config) { c.Pool.MinSize = 4; c.Pool.MaxSize = 2 }, true},
		{"zero min", func(c *Config) { c.Pool.MinSize = 0 }, true},
		{"concurrency above pool", func(c *Config) { c.Monitor.ConcurrencyLimit = 10 }, true},
		{"zero threshold", func(c *Config) { c.Health.FailureThreshold = 0 }, true},
		{"bad backoff policy", func(c *Config) { c.Recovery.BackoffPolicy = "random" }, true},
		{"send-keys without keys", func(c *Config) { c.Recovery.Mode = "send-keys" }, true},
		{"send-keys with keys", func(c *Config) {
			c.Recovery.Mode = "send-keys"
			c.Recovery.RestartKeys = []string{"C-c", "Enter"}
		}, false},
		{"bad session filter", func(c *Config) { c.Monitor.SessionFilter = "([" }, true},
		{"zero dedup window", func(c *Config) { c.Alerts.DedupWindowSec = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadInvalidConfigFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[pool]
min_size = 4
max_size = 2
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() with max_size < min_size should fail")
	}
}

func TestLoadPatternsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.yaml")
	content := `
crash:
  - "boom:"
busy:
  - "churning "
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	base := DefaultPatterns()
	got, err := LoadPatternsFile(path, base)
	if err != nil {
		t.Fatalf("LoadPatternsFile() error = %v", err)
	}
	if len(got.Crash) != 1 || got.Crash[0] != "boom:" {
		t.Errorf("Crash = %v, want [boom:]", got.Crash)
	}
	if len(got.Busy) != 1 || got.Busy[0] != "churning " {
		t.Errorf("Busy = %v, want [churning ]", got.Busy)
	}
	// Fields absent from the file keep the base set.
	if len(got.Prompt) != len(base.Prompt) {
		t.Errorf("Prompt overridden unexpectedly: %v", got.Prompt)
	}
	if len(got.Exit) != len(base.Exit) {
		t.Errorf("Exit overridden unexpectedly: %v", got.Exit)
	}
}

func TestLoadPatternsFileMissing(t *testing.T) {
	base := DefaultPatterns()
	if _, err := LoadPatternsFile(filepath.Join(t.TempDir(), "missing.yaml"), base); err == nil {
		t.Error("LoadPatternsFile() on missing file should fail")
	}
}

func TestPatternWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.yaml")
	if err := os.WriteFile(path, []byte("crash:\n  - \"v1:\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	got := make(chan PatternConfig, 1)
	pw, err := NewPatternWatcher(path, DefaultPatterns(), func(p PatternConfig) {
		select {
		case got <- p:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewPatternWatcher() error = %v", err)
	}
	defer pw.Close()

	if err := os.WriteFile(path, []byte("crash:\n  - \"v2:\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case p := <-got:
		if len(p.Crash) != 1 || p.Crash[0] != "v2:" {
			t.Errorf("reloaded Crash = %v, want [v2:]", p.Crash)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for pattern reload")
	}
}
