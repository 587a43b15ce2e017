// Package cli implements the watchmux command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/watchmux/internal/config"
)

var (
	cfgFile    string
	jsonOutput bool
	noColor    bool
	sshHost    string
	socketName string

	// Build information, set via ldflags at release time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "watchmux",
	Short: "Health monitor for fleets of AI coding agents in tmux",
	Long: `watchmux watches tmux windows that host AI coding agents, detects
crashed or wedged agents from their pane output, restarts the supervisory
agent automatically, and raises deduplicated alerts for everything else.

Quick start:
  watchmux check              # one monitoring cycle, print fleet health
  watchmux monitor            # monitor in the foreground
  watchmux daemon start       # monitor in the background
  watchmux status             # fleet status from the running daemon`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor || !isatty.IsTerminal(os.Stdout.Fd()) {
			lipgloss.SetColorProfile(termenv.Ascii)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/watchmux/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "machine-readable JSON output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&sshHost, "ssh", "", "monitor tmux on a remote host (user@host)")
	rootCmd.PersistentFlags().StringVar(&socketName, "socket", "", "tmux socket name (tmux -L)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if jsonOutput {
			fmt.Printf("{\"version\":%q,\"commit\":%q,\"date\":%q}\n", Version, Commit, Date)
			return
		}
		fmt.Printf("watchmux %s (commit %s, built %s)\n", Version, Commit, Date)
	},
}

// loadConfig loads the config file and applies command-line overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return cfg, err
	}
	if sshHost != "" {
		cfg.Tmux.Remote = sshHost
	}
	if socketName != "" {
		cfg.Tmux.SocketName = socketName
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		if !jsonOutput {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return err
	}
	return nil
}
