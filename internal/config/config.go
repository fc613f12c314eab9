// Package config handles configuration file loading and parsing.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml/v2"

	"github.com/jmylchreest/audioprio/internal/model"
)

// AppName is the directory name used under the XDG base directories.
const AppName = "audioprio"

// Backend names.
const (
	BackendPulse  = "pulse"
	BackendMemory = "memory"
)

// Default configuration values.
const (
	DefaultBackend           = BackendPulse
	DefaultPollInterval      = time.Second
	DefaultMethod            = "loose"
	DefaultStaleRefreshLimit = 1
	DefaultChimeVolume       = 60
	DefaultHistoryEntries    = 500
	DefaultNotifyInterval    = 5 * time.Second
	DefaultLogLevel          = "info"
)

// Duration is a time.Duration that can be unmarshaled from human-readable strings.
// Supports formats like "500ms", "1s", "1m", or integer milliseconds.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML parsing.
func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: must be like '500ms', '1s', '1m' or milliseconds: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalText implements encoding.TextMarshaler for TOML output.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config represents the audioprio configuration, shared by the daemon and
// the CLI. Loaded from $XDG_CONFIG_HOME/audioprio/config.toml.
type Config struct {
	Backend        BackendConfig        `toml:"backend"`
	Identification IdentificationConfig `toml:"identification"`
	Behavior       BehaviorConfig       `toml:"behavior"`
	Control        ControlConfig        `toml:"control"`
	Chime          ChimeConfig          `toml:"chime"`
	Notify         NotifyConfig         `toml:"notify"`
	History        HistoryConfig        `toml:"history"`
	Log            LogConfig            `toml:"log"`
}

// BackendConfig selects the audio subsystem.
type BackendConfig struct {
	Name         string   `toml:"name"`          // "pulse" or "memory"
	PollInterval Duration `toml:"poll_interval"` // change detection interval
}

// IdentificationConfig holds descriptor matching defaults.
type IdentificationConfig struct {
	DefaultMethod      string   `toml:"default_method"`       // strict, loose, custom
	AllowedCustomFlags []string `toml:"allowed_custom_flags"` // empty = all flags
}

// BehaviorConfig contains behavior settings.
type BehaviorConfig struct {
	ApplyOnStart      bool `toml:"apply_on_start"`
	RefreshOnResume   bool `toml:"refresh_on_resume"`
	StaleRefreshLimit int  `toml:"stale_refresh_limit"` // consecutive stale refreshes
}

// ControlConfig contains the daemon control surface settings.
type ControlConfig struct {
	DBus bool `toml:"dbus"`
}

// ChimeConfig contains the confirmation sound settings.
type ChimeConfig struct {
	Enabled bool   `toml:"enabled"`
	File    string `toml:"file"`   // WAV, OGG or MP3
	Volume  int    `toml:"volume"` // 0-100
}

// NotifyConfig contains desktop notification settings.
type NotifyConfig struct {
	Enabled     bool     `toml:"enabled"`
	OnChange    bool     `toml:"on_change"`
	OnFailure   bool     `toml:"on_failure"`
	MinInterval Duration `toml:"min_interval"`
}

// HistoryConfig controls the assignment pass log.
type HistoryConfig struct {
	Enabled    bool `toml:"enabled"`
	MaxEntries int  `toml:"max_entries"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			Name:         DefaultBackend,
			PollInterval: Duration(DefaultPollInterval),
		},
		Identification: IdentificationConfig{
			DefaultMethod: DefaultMethod,
		},
		Behavior: BehaviorConfig{
			ApplyOnStart:      true,
			RefreshOnResume:   true,
			StaleRefreshLimit: DefaultStaleRefreshLimit,
		},
		Control: ControlConfig{
			DBus: true,
		},
		Chime: ChimeConfig{
			Enabled: false,
			Volume:  DefaultChimeVolume,
		},
		Notify: NotifyConfig{
			Enabled:     false,
			OnChange:    true,
			OnFailure:   true,
			MinInterval: Duration(DefaultNotifyInterval),
		},
		History: HistoryConfig{
			Enabled:    true,
			MaxEntries: DefaultHistoryEntries,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
	}
}

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.toml")
}

// SettingsPath returns the path to the priority list file.
func SettingsPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "priority.json")
}

// StatePath returns the path to the state directory.
func StatePath() string {
	return filepath.Join(xdg.StateHome, AppName)
}

// StatusPath returns the path to the daemon status file.
func StatusPath() string {
	return filepath.Join(StatePath(), "status.json")
}

// HistoryPath returns the path to the assignment pass log.
func HistoryPath() string {
	return filepath.Join(StatePath(), "history.jsonl")
}

// EnsureStateDir creates the state directory if it doesn't exist.
func EnsureStateDir() error {
	return os.MkdirAll(StatePath(), 0700)
}

// LoadConfig loads configuration from the specified path.
// If path is empty, uses the default config path.
// Returns default config if file doesn't exist.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes TOML over the defaults and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the specified path.
// Creates parent directories if needed.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Backend.Name {
	case BackendPulse, BackendMemory:
	default:
		return fmt.Errorf("invalid backend %q, must be %q or %q", c.Backend.Name, BackendPulse, BackendMemory)
	}
	if c.Backend.PollInterval.Duration() < 50*time.Millisecond {
		return fmt.Errorf("poll_interval must be at least 50ms, got %s", c.Backend.PollInterval.Duration())
	}

	if _, err := c.Method(); err != nil {
		return err
	}
	if _, err := c.AllowedFlags(); err != nil {
		return err
	}

	if c.Behavior.StaleRefreshLimit < 0 {
		return fmt.Errorf("stale_refresh_limit cannot be negative, got %d", c.Behavior.StaleRefreshLimit)
	}

	if c.Chime.Volume < 0 || c.Chime.Volume > 100 {
		return fmt.Errorf("volume must be between 0 and 100, got %d", c.Chime.Volume)
	}

	if c.History.MaxEntries < 1 {
		return fmt.Errorf("history max_entries must be positive, got %d", c.History.MaxEntries)
	}

	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Method returns the identification method new descriptors default to.
func (c *Config) Method() (model.IdentificationMethod, error) {
	return model.ParseIdentificationMethod(c.Identification.DefaultMethod)
}

// AllowedFlags returns the custom flags descriptors may use. An empty list
// allows every flag.
func (c *Config) AllowedFlags() (model.IdentityFlags, error) {
	if len(c.Identification.AllowedCustomFlags) == 0 {
		return model.FlagsAll, nil
	}
	flags, err := model.ParseIdentityFlags(c.Identification.AllowedCustomFlags)
	if err != nil {
		return model.FlagsNone, fmt.Errorf("allowed_custom_flags: %w", err)
	}
	return flags, nil
}

// LogLevel returns the configured slog level, or Info if it is invalid.
func (c *Config) LogLevel() slog.Level {
	level, err := ParseLogLevel(c.Log.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// ChimeFile returns the chime path with ~ expanded.
func (c *Config) ChimeFile() string {
	return expandPath(c.Chime.File)
}

// ParseLogLevel parses debug, info, warn or error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
