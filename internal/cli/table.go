package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Dicklesworthstone/watchmux/internal/daemon"
	"github.com/Dicklesworthstone/watchmux/internal/monitor"
	"github.com/Dicklesworthstone/watchmux/internal/state"
	"github.com/Dicklesworthstone/watchmux/internal/util"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	phaseStyles = map[string]lipgloss.Style{
		string(state.PhaseHealthy):       lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		string(state.PhaseSuspected):     lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		string(state.PhaseCrashed):       lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		string(state.PhaseRecovering):    lipgloss.NewStyle().Foreground(lipgloss.Color("13")),
		string(state.PhaseUnrecoverable): lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Underline(true),
	}
)

func phaseStyle(phase string) lipgloss.Style {
	if s, ok := phaseStyles[phase]; ok {
		return s
	}
	return dimStyle
}

// terminalWidth returns the usable output width, falling back to 100 columns
// when stdout is not a terminal.
func terminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 100
	}
	return w
}

// renderFleetTable renders per-agent rows plus a one-line cycle summary.
func renderFleetTable(agents []daemon.AgentSnapshot, cycle monitor.CycleStatus) string {
	var b strings.Builder

	agentWidth := 24
	if w := terminalWidth(); w > 110 {
		agentWidth = 36
	}

	header := fmt.Sprintf("%-*s  %-10s  %-13s  %5s  %-8s  %s",
		agentWidth, "AGENT", "ROLE", "PHASE", "FAILS", "STATE", "LAST HEALTHY")
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")

	if len(agents) == 0 {
		b.WriteString(dimStyle.Render("no agents discovered"))
		b.WriteString("\n")
	}
	for _, a := range agents {
		row := fmt.Sprintf("%-*s  %-10s  %s  %5d  %-8s  %s",
			agentWidth, util.Truncate(a.Agent, agentWidth),
			a.Role,
			phaseStyle(a.Phase).Render(fmt.Sprintf("%-13s", a.Phase)),
			a.Failures,
			a.LastState,
			humanSince(a.LastHealthyAt))
		b.WriteString(row)
		b.WriteString("\n")
	}

	b.WriteString(dimStyle.Render(fmt.Sprintf(
		"cycle: %d %s checked, %d healthy, %d crashed, %d recovery actions, %s",
		cycle.AgentsChecked,
		util.Pluralize(cycle.AgentsChecked, "agent", "agents"),
		cycle.Healthy, cycle.Crashed, cycle.Recovered,
		cycle.Duration.Round(time.Millisecond))))
	b.WriteString("\n")
	return b.String()
}

// humanSince formats a timestamp as a rough age.
func humanSince(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("2006-01-02 15:04")
	}
}
