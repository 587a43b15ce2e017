package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/watchmux/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the background monitoring daemon",
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start monitoring in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		pidPath := daemon.DefaultPIDPath()
		if pid, ok := daemon.Running(pidPath); ok {
			return fmt.Errorf("watchmux already running (pid %d)", pid)
		}

		// Re-exec ourselves as a detached foreground monitor. The child owns
		// the pidfile; we only confirm it came up.
		exe, err := os.Executable()
		if err != nil {
			return err
		}
		childArgs := []string{"monitor"}
		if cfgFile != "" {
			childArgs = append(childArgs, "--config", cfgFile)
		}
		if sshHost != "" {
			childArgs = append(childArgs, "--ssh", sshHost)
		}
		if socketName != "" {
			childArgs = append(childArgs, "--socket", socketName)
		}

		logPath := filepath.Join(filepath.Dir(pidPath), "watchmux.log")
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return err
		}
		logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		defer logFile.Close()

		child := exec.Command(exe, childArgs...)
		child.Stdout = logFile
		child.Stderr = logFile
		if err := child.Start(); err != nil {
			return fmt.Errorf("start daemon: %w", err)
		}
		if err := child.Process.Release(); err != nil {
			return err
		}

		for i := 0; i < 20; i++ {
			if pid, ok := daemon.Running(pidPath); ok {
				fmt.Printf("watchmux started (pid %d), logging to %s\n", pid, logPath)
				return nil
			}
			time.Sleep(100 * time.Millisecond)
		}
		return fmt.Errorf("daemon did not come up; see %s", logPath)
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		pidPath := daemon.DefaultPIDPath()
		if err := daemon.Stop(pidPath); err != nil {
			return err
		}

		for i := 0; i < 30; i++ {
			if _, ok := daemon.Running(pidPath); !ok {
				fmt.Println("watchmux stopped")
				return nil
			}
			time.Sleep(100 * time.Millisecond)
		}
		return fmt.Errorf("daemon did not exit within 3s")
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the daemon is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, ok := daemon.Running(daemon.DefaultPIDPath())
		if jsonOutput {
			fmt.Printf("{\"running\":%v,\"pid\":%d}\n", ok, pid)
			return nil
		}
		if !ok {
			fmt.Println("watchmux is not running")
			return nil
		}
		fmt.Printf("watchmux is running (pid %d)\n", pid)
		return nil
	},
}

func init() {
	daemonCmd.AddCommand(daemonStartCmd, daemonStopCmd, daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}
