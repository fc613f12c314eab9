// Package chime plays a short confirmation sound after an assignment pass
// changes a default endpoint. It uses the beep library to play WAV, OGG
// and MP3 files.
package chime

import (
	"log/slog"
	"sync"

	"github.com/jmylchreest/audioprio/internal/assign"
	"github.com/jmylchreest/audioprio/internal/config"
)

// Chime decides when to play the configured sound.
type Chime struct {
	mu      sync.RWMutex
	logger  *slog.Logger
	enabled bool
	file    string

	player *Player
	play   func(path string) error
}

// New creates a chime configured from cfg.
func New(cfg *config.Config, logger *slog.Logger) *Chime {
	if logger == nil {
		logger = slog.Default()
	}
	player := NewPlayer(logger)
	c := &Chime{logger: logger, player: player, play: player.Play}
	c.UpdateConfig(cfg)
	return c
}

// UpdateConfig applies a new configuration. It is called on hot reload.
func (c *Chime) UpdateConfig(cfg *config.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enabled = cfg.Chime.Enabled && cfg.Chime.File != ""
	c.file = cfg.ChimeFile()
	c.player.SetVolume(float64(cfg.Chime.Volume) / 100.0)

	c.logger.Debug("chime configured", "enabled", c.enabled, "file", c.file, "volume", cfg.Chime.Volume)
}

// PlayForPass plays the sound if the pass changed at least one default.
func (c *Chime) PlayForPass(result assign.PassResult) error {
	if result.DryRun || result.Count(assign.OutcomeChanged) == 0 {
		return nil
	}

	c.mu.RLock()
	enabled, file := c.enabled, c.file
	c.mu.RUnlock()

	if !enabled {
		return nil
	}
	if err := c.play(file); err != nil {
		c.logger.Warn("failed to play chime", "path", file, "error", err)
		return err
	}
	return nil
}

// Close releases the audio device.
func (c *Chime) Close() {
	c.player.Close()
}
