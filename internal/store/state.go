package store

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// StatusSchemaVersion is the current version of the status file schema.
const StatusSchemaVersion = 1

// SchedulerCounters mirrors the daemon scheduler's statistics.
type SchedulerCounters struct {
	Executed   uint64 `json:"executed" yaml:"executed"`
	Coalesced  uint64 `json:"coalesced" yaml:"coalesced"`
	Superseded uint64 `json:"superseded" yaml:"superseded"`
}

// Status is what the daemon publishes about itself for the CLI. It is
// persisted to $XDG_STATE_HOME/audioprio/status.json.
type Status struct {
	SchemaVersion int    `json:"schema_version" yaml:"schema_version"`
	PID           int    `json:"pid" yaml:"pid"`
	Backend       string `json:"backend" yaml:"backend"`
	StartedAt     int64  `json:"started_at" yaml:"started_at"`
	UpdatedAt     int64  `json:"updated_at" yaml:"updated_at"`

	LastRefreshAt    int64  `json:"last_refresh_at,omitempty" yaml:"last_refresh_at,omitempty"`
	LastRefreshError string `json:"last_refresh_error,omitempty" yaml:"last_refresh_error,omitempty"`
	EndpointCount    int    `json:"endpoint_count" yaml:"endpoint_count"`

	SeparateComms bool        `json:"separate_comms_priority" yaml:"separate_comms_priority"`
	LastPass      *PassRecord `json:"last_pass,omitempty" yaml:"last_pass,omitempty"`

	Scheduler SchedulerCounters `json:"scheduler" yaml:"scheduler"`
}

// statusFileMutex protects concurrent access to the status file.
var statusFileMutex sync.RWMutex

// DefaultStatus returns an empty status.
func DefaultStatus() *Status {
	return &Status{SchemaVersion: StatusSchemaVersion}
}

// LoadStatus loads the status from path. A missing or corrupt file yields
// the default status.
func LoadStatus(path string) (*Status, error) {
	statusFileMutex.RLock()
	defer statusFileMutex.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultStatus(), nil
		}
		return nil, err
	}

	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return DefaultStatus(), nil
	}

	if status.SchemaVersion == 0 {
		status.SchemaVersion = StatusSchemaVersion
	}
	return &status, nil
}

// SaveStatus writes the status to path atomically.
func SaveStatus(path string, status *Status) error {
	statusFileMutex.Lock()
	defer statusFileMutex.Unlock()

	if status.SchemaVersion == 0 {
		status.SchemaVersion = StatusSchemaVersion
	}
	status.UpdatedAt = time.Now().Unix()

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// Updated returns when the status was last written.
func (s *Status) Updated() time.Time {
	if s.UpdatedAt == 0 {
		return time.Time{}
	}
	return time.Unix(s.UpdatedAt, 0)
}

// LastRefresh returns when the endpoint cache was last refreshed.
func (s *Status) LastRefresh() time.Time {
	if s.LastRefreshAt == 0 {
		return time.Time{}
	}
	return time.Unix(s.LastRefreshAt, 0)
}
