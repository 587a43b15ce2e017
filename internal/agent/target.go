// Package agent identifies and classifies the monitored units: one agent per
// tmux window, discovered from the window list and classified by its naming
// convention.
package agent

import (
	"fmt"
	"regexp"
)

// Role tags what kind of agent a window hosts.
type Role string

const (
	// RoleWorker is an ordinary agent: crashes are reported, not recovered.
	RoleWorker Role = "worker"
	// RoleSupervisor is the distinguished agent subject to automatic recovery.
	RoleSupervisor Role = "supervisor"
	// RoleUnknown windows are still health-checked but excluded from
	// supervisory logic.
	RoleUnknown Role = "unknown"
)

// Target identifies one monitored unit as (session, window). Immutable once
// discovered within a cycle.
type Target struct {
	Session  string
	Window   string // window name
	Index    int    // window index, used for tmux addressing
	Role     Role
	PaneDead bool // the hosted process has exited
}

// ID returns the stable identity used for state tracking and alert dedup.
func (t Target) ID() string {
	return t.Session + ":" + t.Window
}

// TmuxTarget returns the target spec for tmux commands.
func (t Target) TmuxTarget() string {
	return fmt.Sprintf("%s:%d", t.Session, t.Index)
}

// windowNameRegex matches the watchmux window naming convention:
// session__role_index or session__role_index_variant.
var windowNameRegex = regexp.MustCompile(`^.+__([a-z]+)_\d+(?:_(\w+))?$`)

// Classifier maps window names to agent roles via configured role tokens.
type Classifier struct {
	supervisor map[string]bool
	worker     map[string]bool
}

// NewClassifier builds a classifier from role token lists.
func NewClassifier(supervisorTokens, workerTokens []string) *Classifier {
	c := &Classifier{
		supervisor: make(map[string]bool, len(supervisorTokens)),
		worker:     make(map[string]bool, len(workerTokens)),
	}
	for _, tok := range supervisorTokens {
		c.supervisor[tok] = true
	}
	for _, tok := range workerTokens {
		c.worker[tok] = true
	}
	return c
}

// Classify extracts the role token from a window name and maps it to a Role.
// Windows outside the naming convention, or with an unconfigured token, get
// RoleUnknown.
func (c *Classifier) Classify(windowName string) Role {
	matches := windowNameRegex.FindStringSubmatch(windowName)
	if matches == nil {
		return RoleUnknown
	}
	token := matches[1]
	switch {
	case c.supervisor[token]:
		return RoleSupervisor
	case c.worker[token]:
		return RoleWorker
	default:
		return RoleUnknown
	}
}
