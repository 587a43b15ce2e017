package detect

import (
	"testing"

	"github.com/Dicklesworthstone/watchmux/internal/config"
)

func newDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := New(config.DefaultPatterns(), 50)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    State
	}{
		{"prompt", "some output\n> ", StateIdle},
		{"question prompt", "Proceed? ", StateIdle},
		{"busy marker", "Running tests...\nexecuting step 3", StateBusy},
		{"code fence is busy", "```go\nfunc main() {}\n", StateBusy},
		{"crash no prompt", "goroutine 1 [running]:\npanic: nil pointer dereference", StateCrashed},
		{"python traceback", "Traceback (most recent call last):\n  File \"x.py\"", StateCrashed},
		{"oom kill", "signal: killed", StateCrashed},
		{"crash then prompt means recovered", "panic: something\nrestarted ok\n> ", StateIdle},
		{"exit marker beats everything", "Pane is dead\n> ", StateCrashed},
		{"alive banner", "Claude Opus ready to assist", StateHealthy},
		{"ansi stripped before matching", "\x1b[31mpanic:\x1b[0m boom", StateCrashed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDetector(t)
			if got := d.Classify("dev:w", tt.content); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.content, got, tt.want)
			}
		})
	}
}

func TestClassifyAmbiguousKeepsLastKnown(t *testing.T) {
	d := newDetector(t)

	if got := d.Classify("dev:w", "Claude Opus ready"); got != StateHealthy {
		t.Fatalf("Classify() = %v, want healthy", got)
	}
	// Nothing matches: stay on the last known verdict.
	if got := d.Classify("dev:w", "some unrecognizable noise"); got != StateHealthy {
		t.Errorf("ambiguous Classify() = %v, want last known healthy", got)
	}
}

func TestClassifyAmbiguousDefaultsIdle(t *testing.T) {
	d := newDetector(t)
	if got := d.Classify("dev:new", "some unrecognizable noise"); got != StateIdle {
		t.Errorf("first ambiguous Classify() = %v, want idle", got)
	}
}

func TestClassifyLastKnownIsPerAgent(t *testing.T) {
	d := newDetector(t)
	d.Classify("dev:a", "panic: boom")
	if got := d.Classify("dev:b", "noise"); got != StateIdle {
		t.Errorf("agent b inherited agent a's state: got %v, want idle", got)
	}
}

func TestClassifyOnlyInspectsTail(t *testing.T) {
	d, err := New(config.DefaultPatterns(), 5)
	if err != nil {
		t.Fatal(err)
	}

	// The crash marker is far above the inspected tail window.
	content := "panic: old crash\n"
	for i := 0; i < 20; i++ {
		content += "normal output line\n"
	}
	content += "> "
	if got := d.Classify("dev:w", content); got != StateIdle {
		t.Errorf("Classify() = %v, want idle (crash outside tail window)", got)
	}
}

func TestForget(t *testing.T) {
	d := newDetector(t)
	d.Classify("dev:w", "panic: boom")
	d.Forget("dev:w")
	if got := d.Classify("dev:w", "noise"); got != StateIdle {
		t.Errorf("Classify() after Forget = %v, want idle default", got)
	}
}

func TestSetPatterns(t *testing.T) {
	d := newDetector(t)

	custom := config.DefaultPatterns()
	custom.Crash = []string{"agent imploded"}
	if err := d.SetPatterns(custom); err != nil {
		t.Fatal(err)
	}

	if got := d.Classify("dev:w", "agent imploded"); got != StateCrashed {
		t.Errorf("Classify() with custom patterns = %v, want crashed", got)
	}
	// Prior defaults no longer apply. The stale marker keeps last known.
	d.Forget("dev:w")
	if got := d.Classify("dev:w", "panic: boom"); got != StateIdle {
		t.Errorf("Classify() = %v, want idle (old marker removed)", got)
	}
}

func TestSetPatternsRejectsInvalid(t *testing.T) {
	d := newDetector(t)
	bad := config.DefaultPatterns()
	bad.Prompt = []string{"("}
	if err := d.SetPatterns(bad); err == nil {
		t.Fatal("SetPatterns() with invalid regex should fail")
	}
	// Previous set still in effect.
	if got := d.Classify("dev:w", "output\n> "); got != StateIdle {
		t.Errorf("Classify() after failed SetPatterns = %v, want idle", got)
	}
}

func TestIsHealthy(t *testing.T) {
	for state, want := range map[State]bool{
		StateHealthy: true,
		StateBusy:    true,
		StateIdle:    true,
		StateCrashed: false,
	} {
		if got := state.IsHealthy(); got != want {
			t.Errorf("%v.IsHealthy() = %v, want %v", state, got, want)
		}
	}
}
