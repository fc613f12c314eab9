package main

import (
	"errors"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/audioprio/internal/config"
	"github.com/jmylchreest/audioprio/internal/dbus"
	"github.com/jmylchreest/audioprio/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon status",
	Long: `Show whether audiopriod is running, when it last refreshed its endpoint
cache and what its last assignment pass did.

The live status is fetched over D-Bus. When the daemon cannot be reached the
last status it wrote to ~/.local/state/audioprio/status.json is shown.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	formatter, err := newFormatter()
	if err != nil {
		return err
	}

	status, err := daemonStatus()
	if err != nil {
		return err
	}
	return formatter.Status(os.Stdout, status)
}

// daemonStatus asks the daemon over D-Bus and falls back to the status
// file. A status whose process is gone has its PID cleared.
func daemonStatus() (*store.Status, error) {
	client, err := dbus.NewControlClient()
	if err == nil {
		status, err := client.Status()
		if err == nil {
			return status, nil
		}
		logger.Debug("daemon status over D-Bus failed", "error", err)
	} else if !errors.Is(err, dbus.ErrDaemonNotRunning) {
		logger.Debug("session bus unavailable", "error", err)
	}

	status, err := store.LoadStatus(config.StatusPath())
	if err != nil {
		return nil, err
	}
	if status.PID != 0 && !processAlive(status.PID) {
		status.PID = 0
	}
	return status, nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
