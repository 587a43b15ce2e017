package tmux

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestParseWindows(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		want    int
		wantErr bool
	}{
		{"empty", "", 0, false},
		{"single", "dev\x1f0\x1fdev__pm_0\x1f0", 1, false},
		{"multiple", "dev\x1f0\x1fdev__pm_0\x1f0\ndev\x1f1\x1fdev__cc_1\x1f1", 2, false},
		{"malformed fields", "dev\x1f0", 0, true},
		{"bad index", "dev\x1fx\x1fname\x1f0", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseWindows(tt.out)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseWindows() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Errorf("parseWindows() returned %d windows, want %d", len(got), tt.want)
			}
		})
	}
}

func TestParseWindowsFields(t *testing.T) {
	got, err := parseWindows("dev\x1f3\x1fdev__cc_1\x1f1")
	if err != nil {
		t.Fatal(err)
	}
	w := got[0]
	if w.Session != "dev" || w.Index != 3 || w.Name != "dev__cc_1" || !w.PaneDead {
		t.Errorf("parseWindows() = %+v, want dev/3/dev__cc_1/dead", w)
	}
	if w.Target() != "dev:3" {
		t.Errorf("Target() = %q, want dev:3", w.Target())
	}
}

func TestIsConnError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("tmux capture-pane: %w", context.DeadlineExceeded), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"lost server", errors.New("lost server"), true},
		{"ordinary failure", errors.New("can't find window: 7"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isConnError(tt.err); got != tt.want {
				t.Errorf("isConnError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestConnMarksBrokenOnConnError(t *testing.T) {
	conn := NewConnWithRunner(func(ctx context.Context, args ...string) (string, error) {
		return "", errors.New("write: broken pipe")
	})
	if _, err := conn.CapturePane(context.Background(), "dev:0", 50); err == nil {
		t.Fatal("expected error")
	}
	if !conn.Broken() {
		t.Error("handle should be marked broken after a connection error")
	}
}

func TestConnNoServerIsNotBroken(t *testing.T) {
	conn := NewConnWithRunner(func(ctx context.Context, args ...string) (string, error) {
		return "", errors.New("no server running on /tmp/tmux-1000/default")
	})
	_, err := conn.ListWindows(context.Background())
	if !errors.Is(err, ErrNoServer) {
		t.Errorf("error = %v, want ErrNoServer", err)
	}
	if conn.Broken() {
		t.Error("no-server is a normal state, handle should stay usable")
	}
}

func TestConnOrdinaryErrorKeepsHandle(t *testing.T) {
	conn := NewConnWithRunner(func(ctx context.Context, args ...string) (string, error) {
		return "", errors.New("can't find window: 9")
	})
	if err := conn.SendKeys(context.Background(), "dev:9", "Enter"); err == nil {
		t.Fatal("expected error")
	}
	if conn.Broken() {
		t.Error("ordinary command failure should not break the handle")
	}
}

func TestConnCapturePaneArgs(t *testing.T) {
	var gotArgs []string
	conn := NewConnWithRunner(func(ctx context.Context, args ...string) (string, error) {
		gotArgs = args
		return "content", nil
	})
	out, err := conn.CapturePane(context.Background(), "dev:2", 200)
	if err != nil {
		t.Fatal(err)
	}
	if out != "content" {
		t.Errorf("CapturePane() = %q, want content", out)
	}
	want := "capture-pane -p -t dev:2 -S -200"
	if got := strings.Join(gotArgs, " "); got != want {
		t.Errorf("args = %q, want %q", got, want)
	}
}
