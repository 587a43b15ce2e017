package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/watchmux/internal/daemon"
	"github.com/Dicklesworthstone/watchmux/internal/monitor"
)

var checkDeliver bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one monitoring cycle and print fleet health",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := buildApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		status, err := a.svc.RunCycle(ctx)
		if err != nil {
			return err
		}

		if drained := a.alerts.Drain(); len(drained) > 0 && checkDeliver {
			if err := a.notifier.Deliver(ctx, drained); err != nil {
				fmt.Fprintf(os.Stderr, "alert delivery: %v\n", err)
			}
		}

		agents := daemon.SnapshotAgents(a.svc.Snapshot())
		sort.Slice(agents, func(i, j int) bool { return agents[i].Agent < agents[j].Agent })
		return printFleet(agents, status)
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkDeliver, "deliver", false, "deliver queued alerts after the check")
	rootCmd.AddCommand(checkCmd)
}

func printFleet(agents []daemon.AgentSnapshot, cycle monitor.CycleStatus) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Cycle  monitor.CycleStatus    `json:"cycle"`
			Agents []daemon.AgentSnapshot `json:"agents"`
		}{cycle, agents})
	}
	fmt.Print(renderFleetTable(agents, cycle))
	return nil
}
