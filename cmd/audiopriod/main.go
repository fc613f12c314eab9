// Package main is the entry point for the audiopriod daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmylchreest/audioprio/internal/chime"
	"github.com/jmylchreest/audioprio/internal/config"
	"github.com/jmylchreest/audioprio/internal/daemon"
	"github.com/jmylchreest/audioprio/internal/dbus"
	"github.com/jmylchreest/audioprio/internal/store"
	"github.com/jmylchreest/audioprio/internal/system"
	"github.com/jmylchreest/audioprio/internal/system/pulse"
)

var (
	// Build-time variables
	version = "dev"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ~/.config/audioprio/config.toml)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("audiopriod version", version)
		os.Exit(0)
	}

	// The level is adjusted once the config is loaded and on every reload.
	var level slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setLevel(&level, cfg, *debug)

	if err := run(cfg, *configPath, &level, *debug, logger); err != nil {
		logger.Error("audiopriod failed", "error", err)
		os.Exit(1)
	}
	logger.Info("audiopriod stopped")
}

func setLevel(level *slog.LevelVar, cfg *config.Config, debug bool) {
	if debug {
		level.Set(slog.LevelDebug)
		return
	}
	level.Set(cfg.LogLevel())
}

// run wires every component and blocks until SIGINT or SIGTERM.
func run(cfg *config.Config, configPath string, level *slog.LevelVar, debug bool, logger *slog.Logger) error {
	logger.Info("starting audiopriod", "version", version, "backend", cfg.Backend.Name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := config.EnsureStateDir(); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	// Audio backend and change detection
	var sys system.AudioSystem
	switch cfg.Backend.Name {
	case config.BackendMemory:
		sys = system.NewMemory()
	default:
		backend := pulse.New(logger)
		defer backend.Close()
		sys = backend
	}
	poller := system.NewPoller(sys, logger)
	poller.SetPollInterval(cfg.Backend.PollInterval.Duration())

	// Priority lists
	allowed, err := cfg.AllowedFlags()
	if err != nil {
		return err
	}
	settingsFile := store.NewSettingsFile(config.SettingsPath(), allowed, logger)
	settings, err := settingsFile.Load()
	if err != nil {
		return err
	}
	lists := store.NewPriorityLists(settingsFile, logger)
	defer lists.Close()
	if err := lists.Replace(settings); err != nil {
		return err
	}
	logger.Info("priority lists loaded", "path", settingsFile.Path(),
		"playback", len(settings.Playback), "capture", len(settings.Capture),
		"separate_comms", settings.SeparateCommsPriority)

	// Pass history
	var history *store.PassLog
	if cfg.History.Enabled {
		history, err = store.OpenPassLog(config.HistoryPath(), cfg.History.MaxEntries)
		if err != nil {
			logger.Warn("failed to open pass history", "error", err)
		} else {
			defer func() { _ = history.Close() }()
		}
	}

	engine := daemon.NewEngine(sys, lists, daemon.Options{
		Backend:           cfg.Backend.Name,
		ApplyOnStart:      cfg.Behavior.ApplyOnStart,
		StaleRefreshLimit: cfg.Behavior.StaleRefreshLimit,
		StatusPath:        config.StatusPath(),
		History:           history,
	}, logger)
	events := engine.Subscribe()

	// Side effects of passes
	chimePlayer := chime.New(cfg, logger)
	defer chimePlayer.Close()

	sender := dbus.NewNotificationSender()
	notifier := daemon.NewDesktopNotifier(func(n *dbus.DesktopNotification) error {
		_, err := sender.Send(n)
		return err
	}, logger)
	configureNotifier(notifier, cfg)

	var controlServer *dbus.ControlServer
	if cfg.Control.DBus {
		controlServer = dbus.NewControlServer(engine, logger)
		if err := controlServer.Start(); err != nil {
			logger.Warn("failed to start D-Bus control interface", "error", err)
			controlServer = nil
		} else {
			defer func() { _ = controlServer.Stop() }()
		}
	}

	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		for ev := range events {
			if ev.Type != daemon.EventDefaultsAssigned || ev.Pass == nil {
				continue
			}
			notifier.NotifyPass(*ev.Pass)
			if err := chimePlayer.PlayForPass(*ev.Pass); err != nil {
				notifier.NotifyChimeError(err)
			}
			if controlServer != nil {
				if err := controlServer.EmitPassCompleted(daemon.PassRecord(*ev.Pass)); err != nil {
					logger.Debug("failed to emit PassCompleted", "error", err)
				}
			}
		}
	}()

	if err := poller.Start(ctx); err != nil {
		return fmt.Errorf("failed to start audio poller: %w", err)
	}
	if err := engine.Start(ctx, poller.Notifications()); err != nil {
		poller.Stop()
		return fmt.Errorf("failed to start engine: %w", err)
	}

	// Reload the lists when the CLI edits them.
	reloadSettings := func() {
		s, err := settingsFile.Load()
		if err != nil {
			logger.Warn("failed to reload priority lists", "error", err)
			notifier.NotifyConfigError(err)
			return
		}
		if err := engine.ReloadSettings(ctx, s); err != nil {
			logger.Warn("failed to apply priority lists", "error", err)
			notifier.NotifyConfigError(err)
		}
	}
	settingsWatcher, err := store.NewFileWatcher(settingsFile.Path(), reloadSettings, logger)
	if err != nil {
		logger.Warn("failed to create settings watcher", "error", err)
	} else if err := settingsWatcher.Start(); err != nil {
		logger.Warn("failed to start settings watcher", "error", err)
	} else {
		defer func() { _ = settingsWatcher.Stop() }()
	}

	refreshOnResume := cfg.Behavior.RefreshOnResume

	// Config hot reload
	path := configPath
	if path == "" {
		path = config.ConfigPath()
	}
	configWatcher := daemon.NewConfigWatcher(path, logger)
	configWatcher.SetReloadCallback(func(newConfig *config.Config) {
		setLevel(level, newConfig, debug)
		chimePlayer.UpdateConfig(newConfig)
		configureNotifier(notifier, newConfig)

		newAllowed, err := newConfig.AllowedFlags()
		if err == nil && newAllowed != allowed {
			allowed = newAllowed
			settingsFile.SetAllowed(allowed)
			reloadSettings()
		}
		if newConfig.Backend != cfg.Backend || newConfig.Control != cfg.Control || newConfig.History != cfg.History {
			logger.Info("backend, control and history settings take effect after a restart")
		}
		cfg = newConfig
		notifier.NotifyConfigReloaded()
	})
	configWatcher.SetErrorCallback(func(err error) {
		notifier.NotifyConfigError(err)
	})
	if err := configWatcher.Start(cfg); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	} else {
		defer configWatcher.Stop()
	}

	// Refresh after suspend: devices may have come and gone while asleep.
	if refreshOnResume {
		sleepMonitor := dbus.NewSleepMonitor(logger)
		sleepMonitor.SetResumeHandler(func() {
			logger.Info("resumed from sleep, refreshing endpoints")
			engine.RequestRefresh()
		})
		if err := sleepMonitor.Start(); err != nil {
			logger.Warn("failed to watch for resume", "error", err)
		} else {
			defer func() { _ = sleepMonitor.Stop() }()
		}
	}

	logger.Info("audiopriod ready", "dbus", controlServer != nil)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)

	// The poller closes its channel, which lets the engine's router exit.
	poller.Stop()
	engine.Stop()
	<-eventsDone
	return nil
}

func configureNotifier(n *daemon.DesktopNotifier, cfg *config.Config) {
	n.Configure(cfg.Notify.Enabled, cfg.Notify.OnChange, cfg.Notify.OnFailure, cfg.Notify.MinInterval.Duration())
}
