// Package detect classifies captured pane content into agent states by
// pattern matching, the same way a human eyeballs a terminal: look at the
// last screenful, not the whole scrollback.
package detect

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/Dicklesworthstone/watchmux/internal/config"
	"github.com/Dicklesworthstone/watchmux/internal/util"
)

// State is the detector's verdict on one capture.
type State string

const (
	// StateHealthy means a recognized agent banner is visible.
	StateHealthy State = "healthy"
	// StateBusy means the agent is actively producing output.
	StateBusy State = "busy"
	// StateIdle means an interactive prompt is waiting for input.
	StateIdle State = "idle"
	// StateCrashed means a crash marker matched with no prompt after it, or
	// the hosted process exited.
	StateCrashed State = "crashed"
)

// IsHealthy reports whether the state counts as a passing health check.
// Busy and Idle are healthy: a working or waiting agent is a live agent.
func (s State) IsHealthy() bool {
	return s == StateHealthy || s == StateBusy || s == StateIdle
}

// compiled holds the pattern sets in matchable form. Regex sets are compiled
// once per pattern load, substring sets are lowercased once.
type compiled struct {
	prompt []*regexp.Regexp
	alive  []*regexp.Regexp
	busy   []string
	crash  []string
	exit   []string
}

func compile(pc config.PatternConfig) (*compiled, error) {
	c := &compiled{
		busy:  lowerAll(pc.Busy),
		crash: lowerAll(pc.Crash),
		exit:  lowerAll(pc.Exit),
	}
	var err error
	if c.prompt, err = compileAll(pc.Prompt); err != nil {
		return nil, fmt.Errorf("prompt patterns: %w", err)
	}
	if c.alive, err = compileAll(pc.Alive); err != nil {
		return nil, fmt.Errorf("alive patterns: %w", err)
	}
	return c, nil
}

func compileAll(exprs []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", expr, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

// Detector classifies pane content. It remembers the last state per agent so
// an ambiguous capture (matching nothing) keeps the prior verdict instead of
// flapping. Safe for concurrent use.
type Detector struct {
	mu        sync.RWMutex
	patterns  *compiled
	tailLines int
	lastKnown map[string]State
}

// New builds a detector over the given pattern sets. tailLines bounds how
// much of each capture is inspected.
func New(pc config.PatternConfig, tailLines int) (*Detector, error) {
	c, err := compile(pc)
	if err != nil {
		return nil, err
	}
	if tailLines <= 0 {
		tailLines = 50
	}
	return &Detector{
		patterns:  c,
		tailLines: tailLines,
		lastKnown: make(map[string]State),
	}, nil
}

// SetPatterns swaps in a new pattern set. Invalid patterns leave the current
// set untouched. Used by hot reload.
func (d *Detector) SetPatterns(pc config.PatternConfig) error {
	c, err := compile(pc)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.patterns = c
	d.mu.Unlock()
	return nil
}

// Classify returns the state of the agent identified by key given its captured
// pane content. Matching precedence on the trailing lines:
//
//	exit marker          -> crashed, unconditionally
//	busy marker          -> busy (never interrupt a working agent)
//	crash without prompt -> crashed
//	prompt               -> idle (a prompt after an error means recovered)
//	alive banner         -> healthy
//	nothing              -> last known state for key, initially idle
func (d *Detector) Classify(key, content string) State {
	d.mu.RLock()
	p := d.patterns
	tail := d.tailLines
	d.mu.RUnlock()

	text := util.LastLines(util.StripANSI(content), tail)
	lower := strings.ToLower(text)

	state, decided := classify(p, text, lower)
	d.mu.Lock()
	defer d.mu.Unlock()
	if !decided {
		if prev, ok := d.lastKnown[key]; ok {
			return prev
		}
		state = StateIdle
	}
	d.lastKnown[key] = state
	return state
}

func classify(p *compiled, text, lower string) (State, bool) {
	if containsAny(lower, p.exit) {
		return StateCrashed, true
	}
	if containsAny(lower, p.busy) {
		return StateBusy, true
	}
	hasPrompt := matchAny(p.prompt, text)
	if containsAny(lower, p.crash) && !hasPrompt {
		return StateCrashed, true
	}
	if hasPrompt {
		return StateIdle, true
	}
	if matchAny(p.alive, text) {
		return StateHealthy, true
	}
	return StateIdle, false
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

func matchAny(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Forget drops the remembered state for key. Called when an agent departs.
func (d *Detector) Forget(key string) {
	d.mu.Lock()
	delete(d.lastKnown, key)
	d.mu.Unlock()
}
