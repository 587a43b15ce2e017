package tmux

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// RunFunc executes one tmux command. Tests substitute a fake.
type RunFunc func(ctx context.Context, args ...string) (string, error)

// Conn is one pooled handle to the multiplexer. A handle whose command fails
// irrecoverably is marked broken; the pool discards broken handles instead of
// reusing them.
type Conn struct {
	run RunFunc

	mu       sync.Mutex
	broken   bool
	lastUsed time.Time
}

// newConn creates a handle backed by the given client.
func newConn(client *Client) *Conn {
	return &Conn{run: client.Run, lastUsed: time.Now()}
}

// NewConnWithRunner creates a handle backed by an arbitrary runner. Used by
// tests to fake the multiplexer.
func NewConnWithRunner(run RunFunc) *Conn {
	return &Conn{run: run, lastUsed: time.Now()}
}

// Broken reports whether the handle has been marked unusable.
func (c *Conn) Broken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken
}

// MarkBroken flags the handle for discard on release.
func (c *Conn) MarkBroken() {
	c.mu.Lock()
	c.broken = true
	c.mu.Unlock()
}

func (c *Conn) touch() {
	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

func (c *Conn) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}

// do runs a command, classifying failures. Connection-level failures mark the
// handle broken; the caller still gets the error.
func (c *Conn) do(ctx context.Context, args ...string) (string, error) {
	out, err := c.run(ctx, args...)
	c.touch()
	if err != nil {
		if isNoServer(err) {
			return "", ErrNoServer
		}
		if isConnError(err) {
			c.MarkBroken()
		}
		return "", err
	}
	return out, nil
}

// Ping verifies the handle can reach the tmux binary.
func (c *Conn) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "-V")
	return err
}

// ListWindows enumerates all windows across all sessions.
func (c *Conn) ListWindows(ctx context.Context) ([]WindowInfo, error) {
	out, err := c.do(ctx, "list-windows", "-a", "-F", windowFormat)
	if err != nil {
		return nil, err
	}
	return parseWindows(out)
}

// CapturePane returns the trailing lines of the window's visible pane,
// including scrollback up to lines.
func (c *Conn) CapturePane(ctx context.Context, target string, lines int) (string, error) {
	if lines <= 0 {
		lines = 100
	}
	return c.do(ctx, "capture-pane", "-p", "-t", target, "-S", "-"+strconv.Itoa(lines))
}

// SendKeys sends a key sequence to the window.
func (c *Conn) SendKeys(ctx context.Context, target string, keys ...string) error {
	args := append([]string{"send-keys", "-t", target}, keys...)
	_, err := c.do(ctx, args...)
	return err
}

// RespawnWindow kills and reruns the window's original command. This is the
// default remediation action for a crashed supervisory agent.
func (c *Conn) RespawnWindow(ctx context.Context, target string) error {
	_, err := c.do(ctx, "respawn-window", "-k", "-t", target)
	return err
}

// DisplayMessage expands a format string in the server. Used as a liveness
// probe that exercises the socket, not just the binary.
func (c *Conn) DisplayMessage(ctx context.Context, format string) (string, error) {
	return c.do(ctx, "display-message", "-p", format)
}
