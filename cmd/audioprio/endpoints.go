package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/audioprio/internal/core"
	"github.com/jmylchreest/audioprio/internal/model"
)

var endpointsOpts struct {
	all    bool
	role   string
	search string
}

var endpointsCmd = &cobra.Command{
	Use:     "endpoints",
	Aliases: []string{"ls"},
	Short:   "List audio endpoints",
	Long: `List the playback and capture endpoints known to the audio system.

By default only active endpoints are shown. Use --all to include disabled,
unplugged and missing ones.

Examples:
  # Pick an endpoint with fuzzel and add it to the top of the playback list
  audioprio endpoints --role playback -f dmenu | fuzzel -d | audioprio priority add playback --at 1`,
	Args: cobra.NoArgs,
	RunE: runEndpoints,
}

func init() {
	rootCmd.AddCommand(endpointsCmd)

	endpointsCmd.Flags().BoolVarP(&endpointsOpts.all, "all", "a", false,
		"Include inactive endpoints")
	endpointsCmd.Flags().StringVarP(&endpointsOpts.role, "role", "r", "",
		"Only show endpoints of this role (playback, capture)")
	endpointsCmd.Flags().StringVarP(&endpointsOpts.search, "search", "s", "",
		"Only show endpoints whose id or name contains this text")
}

func runEndpoints(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	opts := core.FilterOptions{
		ActiveOnly: !endpointsOpts.all,
		Search:     endpointsOpts.search,
	}
	if endpointsOpts.role != "" {
		role, err := model.ParseRole(endpointsOpts.role)
		if err != nil {
			return err
		}
		opts.Role = &role
	}

	formatter, err := newFormatter()
	if err != nil {
		return err
	}

	sys, closeBackend := openBackend()
	defer closeBackend()

	cache, err := loadEndpoints(ctx, sys)
	if err != nil {
		return err
	}

	endpoints := core.SortForDisplay(core.Filter(cache.Endpoints(), opts))
	return formatter.Endpoints(os.Stdout, endpoints)
}
