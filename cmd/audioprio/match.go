package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/audioprio/internal/core"
	"github.com/jmylchreest/audioprio/internal/store"
)

var matchCmd = &cobra.Command{
	Use:   "match <descriptor-id>",
	Short: "Explain which endpoint a descriptor matches",
	Long: `Show which live endpoint a descriptor resolves to, and for every other
endpoint of the same role, which identity fields differ.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)
}

func runMatch(cmd *cobra.Command, args []string) error {
	raw, err := argOrStdin(args, 0, cmd.InOrStdin())
	if err != nil {
		return err
	}
	id := extractDescriptorID(raw)

	lists, _, err := loadLists()
	if err != nil {
		return err
	}
	d, ok := lists.Find(id)
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrDescriptorNotFound, id)
	}

	formatter, err := newFormatter()
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
	return formatter.Match(os.Stdout, core.Diagnose(&d, cache.Endpoints()))
}
