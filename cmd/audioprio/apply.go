package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/audioprio/internal/assign"
	"github.com/jmylchreest/audioprio/internal/dbus"
)

var applyOpts struct {
	daemon bool
	dryRun bool
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Set the default devices from the priority lists",
	Long: `Run one assignment pass: for every slot, make the highest priority
connected device the default.

With --daemon the pass is requested from the running audiopriod instead.
With --dry-run nothing is changed and the planned outcome is printed.`,
	Args: cobra.NoArgs,
	RunE: runApply,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Ask the daemon to re-enumerate devices",
	Long:  `Ask the running audiopriod to refresh its endpoint cache and reapply the priority lists.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dbus.NewControlClient()
		if err != nil {
			return err
		}
		return client.Refresh()
	},
}

func init() {
	rootCmd.AddCommand(applyCmd, refreshCmd)

	applyCmd.Flags().BoolVarP(&applyOpts.daemon, "daemon", "d", false,
		"Ask the running daemon to run the pass")
	applyCmd.Flags().BoolVarP(&applyOpts.dryRun, "dry-run", "n", false,
		"Show what would change without changing it")
}

func runApply(cmd *cobra.Command, args []string) error {
	if applyOpts.daemon {
		if applyOpts.dryRun {
			return errors.New("--dry-run cannot be combined with --daemon")
		}
		client, err := dbus.NewControlClient()
		if err != nil {
			return err
		}
		return client.Apply()
	}

	formatter, err := newFormatter()
	if err != nil {
		return err
	}

	lists, _, err := loadLists()
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	sys, closeBackend := openBackend()
	defer closeBackend()

	cache, err := loadEndpoints(ctx, sys)
	if err != nil {
		return err
	}

	assigner := assign.New(lists, cache, sys, logger)
	run := assigner.Run
	if applyOpts.dryRun {
		run = assigner.Plan
	}

	result := run(ctx)
	if result.RefreshWanted && !applyOpts.dryRun {
		// An endpoint vanished between enumeration and assignment.
		logger.Debug("stale endpoint during pass, refreshing once")
		if err := cache.Refresh(ctx); err != nil {
			return fmt.Errorf("failed to enumerate endpoints: %w", err)
		}
		result = run(ctx)
	}

	if err := formatter.Pass(os.Stdout, result); err != nil {
		return err
	}
	return result.Err()
}
