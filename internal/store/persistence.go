package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/jmylchreest/audioprio/internal/model"
)

// SettingsSchemaVersion is the current settings file schema version.
const SettingsSchemaVersion = 1

// ErrUnsupportedSchema is returned for settings written by a newer version.
var ErrUnsupportedSchema = errors.New("unsupported settings schema version")

// Settings is the persisted form of the priority lists.
type Settings struct {
	SchemaVersion         int                `json:"schema_version"`
	SeparateCommsPriority bool               `json:"separate_comms_priority"`
	Playback              []model.Descriptor `json:"playback"`
	Capture               []model.Descriptor `json:"capture"`
	CommsPlayback         []model.Descriptor `json:"comms_playback,omitempty"`
	CommsCapture          []model.Descriptor `json:"comms_capture,omitempty"`
}

// DefaultSettings returns empty unified lists.
func DefaultSettings() *Settings {
	return &Settings{
		SchemaVersion: SettingsSchemaVersion,
		Playback:      []model.Descriptor{},
		Capture:       []model.Descriptor{},
	}
}

type slotList struct {
	slot model.Slot
	list []model.Descriptor
}

// Validate checks every descriptor and that each list only holds
// descriptors of its role, each at most once.
func (s *Settings) Validate() error {
	if s.SchemaVersion > SettingsSchemaVersion {
		return fmt.Errorf("%w: %d (max: %d)", ErrUnsupportedSchema, s.SchemaVersion, SettingsSchemaVersion)
	}

	lists := []slotList{
		{model.Slot{Role: model.RolePlayback}, s.Playback},
		{model.Slot{Role: model.RoleCapture}, s.Capture},
	}
	if s.SeparateCommsPriority {
		lists = append(lists,
			slotList{model.Slot{Role: model.RolePlayback, Comms: true}, s.CommsPlayback},
			slotList{model.Slot{Role: model.RoleCapture, Comms: true}, s.CommsCapture},
		)
	}

	for _, l := range lists {
		seen := make(map[string]bool, len(l.list))
		for i := range l.list {
			d := &l.list[i]
			if err := checkRole(l.slot, d); err != nil {
				return fmt.Errorf("%s[%d]: %w", l.slot, i, err)
			}
			if seen[d.ID] {
				return fmt.Errorf("%s[%d]: %w: %s", l.slot, i, ErrDuplicateDescriptor, d.ID)
			}
			seen[d.ID] = true
		}
	}
	return nil
}

// Equal reports whether both settings describe the same lists.
func (s *Settings) Equal(other *Settings) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.SeparateCommsPriority != other.SeparateCommsPriority {
		return false
	}
	if !slices.Equal(s.Playback, other.Playback) || !slices.Equal(s.Capture, other.Capture) {
		return false
	}
	if !s.SeparateCommsPriority {
		return true
	}
	return slices.Equal(s.CommsPlayback, other.CommsPlayback) && slices.Equal(s.CommsCapture, other.CommsCapture)
}

// maskCustomFlags removes custom flags outside allowed from every
// descriptor and logs what was dropped.
func (s *Settings) maskCustomFlags(allowed model.IdentityFlags, logger *slog.Logger) {
	for _, list := range [][]model.Descriptor{s.Playback, s.Capture, s.CommsPlayback, s.CommsCapture} {
		for i := range list {
			if dropped := list[i].MaskCustomFlags(allowed); dropped != model.FlagsNone {
				logger.Debug("custom identity flags not allowed, ignoring",
					"descriptor", list[i].ID, "flags", dropped.String())
			}
		}
	}
}

// SettingsFile reads and writes the priority settings JSON file.
type SettingsFile struct {
	mu      sync.Mutex
	path    string
	allowed model.IdentityFlags
	logger  *slog.Logger
}

// NewSettingsFile creates a SettingsFile. Custom identity flags outside
// allowed are dropped when loading.
func NewSettingsFile(path string, allowed model.IdentityFlags, logger *slog.Logger) *SettingsFile {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsFile{path: path, allowed: allowed, logger: logger}
}

// Path returns the file path.
func (f *SettingsFile) Path() string {
	return f.path
}

// SetAllowed changes the custom identity flags kept by later loads.
func (f *SettingsFile) SetAllowed(allowed model.IdentityFlags) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowed = allowed
}

// Load reads the settings. A missing file yields DefaultSettings; a
// corrupt one is an error.
func (f *SettingsFile) Load() (*Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, fmt.Errorf("read settings %s: %w", f.path, err)
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", f.path, err)
	}

	if s.SchemaVersion == 0 {
		s.SchemaVersion = SettingsSchemaVersion
	}
	if !s.SeparateCommsPriority {
		s.CommsPlayback, s.CommsCapture = nil, nil
	}

	s.maskCustomFlags(f.allowed, f.logger)

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings %s: %w", f.path, err)
	}
	return &s, nil
}

// Save writes the settings atomically.
func (f *SettingsFile) Save(s *Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s.SchemaVersion == 0 {
		s.SchemaVersion = SettingsSchemaVersion
	}

	out := *s
	if !out.SeparateCommsPriority {
		out.CommsPlayback, out.CommsCapture = nil, nil
	}
	if out.Playback == nil {
		out.Playback = []model.Descriptor{}
	}
	if out.Capture == nil {
		out.Capture = []model.Descriptor{}
	}

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(f.path, data)
}

// writeFileAtomic writes via a temp file in the same directory.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
