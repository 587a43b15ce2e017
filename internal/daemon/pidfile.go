package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// PIDFile records a running daemon instance.
type PIDFile struct {
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	ConfigPath string    `json:"config_path,omitempty"`
}

// DefaultPIDPath returns the default pidfile location.
func DefaultPIDPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "watchmux.pid"
	}
	return filepath.Join(home, ".config", "watchmux", "watchmux.pid")
}

// WritePIDFile writes the pidfile, creating parent directories as needed.
func WritePIDFile(path string, info PIDFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create pidfile directory: %w", err)
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pidfile: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write pidfile: %w", err)
	}
	return nil
}

// ReadPIDFile reads a pidfile.
func ReadPIDFile(path string) (PIDFile, error) {
	var info PIDFile
	data, err := os.ReadFile(path)
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("parse pidfile %s: %w", path, err)
	}
	return info, nil
}

// RemovePIDFile deletes the pidfile, ignoring a missing file.
func RemovePIDFile(path string) {
	_ = os.Remove(path)
}

// processAlive reports whether a process with the given pid exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Running returns the pid of a live daemon recorded at path, if any.
func Running(path string) (int, bool) {
	info, err := ReadPIDFile(path)
	if err != nil {
		return 0, false
	}
	if !processAlive(info.PID) {
		return 0, false
	}
	return info.PID, true
}

// Stop signals the daemon recorded at path to shut down.
func Stop(path string) error {
	info, err := ReadPIDFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no pidfile at %s: daemon not running?", path)
		}
		return err
	}
	if !processAlive(info.PID) {
		RemovePIDFile(path)
		return fmt.Errorf("stale pidfile: process %d is gone", info.PID)
	}
	proc, err := os.FindProcess(info.PID)
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal pid %d: %w", info.PID, err)
	}
	return nil
}
