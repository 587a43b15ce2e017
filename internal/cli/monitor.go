package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/watchmux/internal/daemon"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Monitor the fleet continuously in the foreground",
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

		d := daemon.New(a.svc, a.alerts, a.notifier, daemon.Options{
			Interval:   cfg.Monitor.CycleInterval(),
			PIDPath:    daemon.DefaultPIDPath(),
			StatePath:  daemon.DefaultStatePath(),
			ConfigPath: cfgFile,
		})
		return d.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}
