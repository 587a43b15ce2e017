// Package tmux wraps the tmux command-line interface behind a bounded
// connection pool. The rest of watchmux treats the multiplexer as an opaque
// service reachable only through pooled handles.
package tmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// fieldSep separates format fields in list output. Unit separator cannot
// appear in session or window names.
const fieldSep = "\x1f"

// Client identifies a tmux server, optionally on a remote host.
type Client struct {
	Remote string // "user@host" for ssh, empty for local
	Socket string // tmux -L socket name, empty for default
}

// NewClient creates a tmux client.
func NewClient(remote, socket string) *Client {
	return &Client{Remote: remote, Socket: socket}
}

// Run executes a tmux command and returns trimmed stdout.
func (c *Client) Run(ctx context.Context, args ...string) (string, error) {
	full := args
	if c.Socket != "" {
		full = append([]string{"-L", c.Socket}, args...)
	}

	var cmd *exec.Cmd
	if c.Remote == "" {
		cmd = exec.CommandContext(ctx, "tmux", full...)
	} else {
		// Remote execution via ssh. Args are concatenated by ssh; fine for
		// the simple commands watchmux issues.
		cmd = exec.CommandContext(ctx, "ssh", append([]string{c.Remote, "tmux"}, full...)...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("tmux %s: %w", strings.Join(args, " "), ctxErr)
		}
		return "", fmt.Errorf("tmux %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// IsInstalled checks if tmux is available on the target host.
func (c *Client) IsInstalled() bool {
	if c.Remote == "" {
		_, err := exec.LookPath("tmux")
		return err == nil
	}
	_, err := c.Run(context.Background(), "-V")
	return err == nil
}

// WindowInfo describes one window of one session.
type WindowInfo struct {
	Session  string
	Index    int
	Name     string
	PaneDead bool
}

// Target returns the tmux target spec for the window.
func (w WindowInfo) Target() string {
	return fmt.Sprintf("%s:%d", w.Session, w.Index)
}

// windowFormat is the -F format used by list-windows.
const windowFormat = "#{session_name}" + fieldSep + "#{window_index}" + fieldSep + "#{window_name}" + fieldSep + "#{pane_dead}"

// parseWindows parses list-windows output in windowFormat.
func parseWindows(out string) ([]WindowInfo, error) {
	if out == "" {
		return nil, nil
	}
	var windows []WindowInfo
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, fieldSep)
		if len(parts) != 4 {
			return nil, fmt.Errorf("malformed list-windows line: %q", line)
		}
		idx, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("malformed window index %q: %w", parts[1], err)
		}
		windows = append(windows, WindowInfo{
			Session:  parts[0],
			Index:    idx,
			Name:     parts[2],
			PaneDead: parts[3] == "1",
		})
	}
	return windows, nil
}

// ErrNoServer indicates no tmux server is running. This is a normal operating
// state (nothing to monitor), not a broken handle.
var ErrNoServer = errors.New("tmux: no server running")

// isNoServer reports whether err is tmux's "no server running" refusal.
func isNoServer(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no server running") || strings.Contains(msg, "error connecting to")
}

// isConnError reports whether err indicates the handle itself is unusable and
// should be discarded rather than returned to the pool.
func isConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"broken pipe", "lost server", "server exited", "connection reset"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
