// Package main provides the CLI entrypoint for audioprio.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/audioprio/internal/adapter/output"
	"github.com/jmylchreest/audioprio/internal/config"
	"github.com/jmylchreest/audioprio/internal/endpoint"
	"github.com/jmylchreest/audioprio/internal/model"
	"github.com/jmylchreest/audioprio/internal/store"
	"github.com/jmylchreest/audioprio/internal/system"
	"github.com/jmylchreest/audioprio/internal/system/pulse"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// commandTimeout bounds every audio subsystem and D-Bus round trip.
const commandTimeout = 10 * time.Second

// Global configuration and state
var (
	cfg        *config.Config
	globalOpts struct {
		verbose    bool
		noColor    bool
		configPath string
		format     string
		backend    string
	}
	logger *slog.Logger
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "audioprio",
	Short: "Keep the default audio devices in your preferred order",
	Long: `audioprio keeps the default playback and capture devices set to the
highest priority device that is currently connected.

Priority lists are stored in ~/.config/audioprio/priority.json. Edits made
with this command are picked up by a running audiopriod, which reapplies
them immediately.`,
	Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger()

		var err error
		cfg, err = config.LoadConfig(globalOpts.configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if globalOpts.backend != "" {
			cfg.Backend.Name = globalOpts.backend
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&globalOpts.verbose, "verbose", "v", false,
		"Enable verbose logging and detailed output")
	rootCmd.PersistentFlags().BoolVar(&globalOpts.noColor, "no-color", false,
		"Disable colored output")
	rootCmd.PersistentFlags().StringVar(&globalOpts.configPath, "config", "",
		"Path to config file (default: ~/.config/audioprio/config.toml)")
	rootCmd.PersistentFlags().StringVarP(&globalOpts.format, "format", "f", "plain",
		"Output format (plain, json, yaml, dmenu, ids)")
	rootCmd.PersistentFlags().StringVar(&globalOpts.backend, "backend", "",
		"Audio backend (pulse, memory; default from config)")
}

// setupLogger configures the global slog logger.
func setupLogger() {
	level := slog.LevelWarn
	if globalOpts.verbose {
		level = slog.LevelDebug
	}

	// Log to stderr so stdout is clean for output
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// newFormatter builds the formatter selected by --format.
func newFormatter() (output.Formatter, error) {
	format, err := output.ParseFormat(globalOpts.format)
	if err != nil {
		return nil, err
	}
	opts := output.DefaultFormatterOptions()
	opts.Color = !globalOpts.noColor
	opts.Verbose = globalOpts.verbose
	return output.NewFormatter(format, opts), nil
}

// commandContext returns a context bounded by commandTimeout.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, commandTimeout)
}

// openBackend creates the configured audio backend. The returned function
// releases it.
func openBackend() (system.AudioSystem, func()) {
	switch cfg.Backend.Name {
	case config.BackendMemory:
		return system.NewMemory(), func() {}
	default:
		b := pulse.New(logger)
		return b, b.Close
	}
}

// loadEndpoints refreshes a fresh cache from the backend.
func loadEndpoints(ctx context.Context, sys system.AudioSystem) (*endpoint.Cache, error) {
	cache := endpoint.NewCache(sys, logger)
	if err := cache.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("failed to enumerate endpoints: %w", err)
	}
	return cache, nil
}

// settingsFile returns the priority settings file for the loaded config.
func settingsFile() (*store.SettingsFile, error) {
	allowed, err := cfg.AllowedFlags()
	if err != nil {
		return nil, err
	}
	return store.NewSettingsFile(config.SettingsPath(), allowed, logger), nil
}

// loadLists reads the priority lists. Edits are not persisted until
// saveLists is called.
func loadLists() (*store.PriorityLists, *store.SettingsFile, error) {
	file, err := settingsFile()
	if err != nil {
		return nil, nil, err
	}
	settings, err := file.Load()
	if err != nil {
		return nil, nil, err
	}
	lists := store.NewPriorityLists(nil, logger)
	if err := lists.Replace(settings); err != nil {
		return nil, nil, err
	}
	return lists, file, nil
}

// saveLists writes the lists back to the settings file.
func saveLists(lists *store.PriorityLists, file *store.SettingsFile) error {
	if err := file.Save(lists.Settings()); err != nil {
		return fmt.Errorf("failed to save priority lists: %w", err)
	}
	return nil
}

// slotLists returns every slot's list for display. In unified mode the comms
// slots are marked as sharing their role's list.
func slotLists(lists *store.PriorityLists) []output.SlotList {
	separate := lists.SeparateComms()
	result := make([]output.SlotList, 0, len(model.AllSlots))
	for _, role := range model.Roles {
		for _, comms := range []bool{false, true} {
			slot := model.Slot{Role: role, Comms: comms}
			sl := output.SlotList{Slot: slot, Descriptors: lists.List(slot)}
			if comms && !separate {
				sl.Shared = role.String()
			}
			result = append(result, sl)
		}
	}
	return result
}
