package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/audioprio/internal/config"
	"github.com/jmylchreest/audioprio/internal/store"
)

var historyOpts struct {
	limit   int
	changed bool
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent assignment passes",
	Long: `Show the assignment passes recorded by audiopriod, oldest first.

Examples:
  # The last 5 passes that changed a default
  audioprio history --changed --limit 5`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyOpts.limit, "limit", "l", 20,
		"Show at most this many passes (0 = all)")
	historyCmd.Flags().BoolVar(&historyOpts.changed, "changed", false,
		"Only show passes that changed a default")
}

func runHistory(cmd *cobra.Command, args []string) error {
	formatter, err := newFormatter()
	if err != nil {
		return err
	}

	records, err := store.ReadPassHistory(config.HistoryPath())
	if err != nil {
		return err
	}
	return formatter.History(os.Stdout, selectRecords(records, historyOpts.changed, historyOpts.limit))
}

// selectRecords keeps the newest limit records, optionally only those that
// changed something.
func selectRecords(records []store.PassRecord, changedOnly bool, limit int) []store.PassRecord {
	if changedOnly {
		filtered := records[:0:0]
		for _, r := range records {
			if r.Changed > 0 {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records
}
