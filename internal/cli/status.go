package cli

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/watchmux/internal/daemon"
)

// staleStateAge is how old a state file may be before status falls back to a
// live cycle.
const staleStateAge = 5 * time.Minute

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show fleet health from the running daemon",
	Long: `Show per-agent health as last observed by the daemon. Without a
running daemon (or with a stale state file) a live one-shot cycle runs
instead, same as "watchmux check".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := daemon.ReadState(daemon.DefaultStatePath())
		if err == nil && time.Since(st.UpdatedAt) <= staleStateAge {
			agents := st.Agents
			sort.Slice(agents, func(i, j int) bool { return agents[i].Agent < agents[j].Agent })
			return printFleet(agents, st.LastCycle)
		}
		if err == nil {
			fmt.Fprintf(os.Stderr, "state file is stale (updated %s), running a live cycle\n",
				st.UpdatedAt.Format(time.RFC3339))
		}
		return checkCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
