package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/audioprio/internal/model"
)

func TestSettingsFile_MissingReturnsDefaults(t *testing.T) {
	f := NewSettingsFile(filepath.Join(t.TempDir(), "priority.json"), model.FlagsAll, nil)

	s, err := f.Load()
	require.NoError(t, err)
	assert.False(t, s.SeparateCommsPriority)
	assert.Empty(t, s.Playback)
	assert.Equal(t, SettingsSchemaVersion, s.SchemaVersion)
}

func TestSettingsFile_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "priority.json")
	f := NewSettingsFile(path, model.FlagsAll, nil)

	custom := testDescriptor(model.RoleCapture, "m")
	custom.Method = model.MethodCustom
	custom.CustomFlags = model.FlagDeviceDescription | model.FlagContainerID

	s := &Settings{
		SeparateCommsPriority: true,
		Playback:              []model.Descriptor{testDescriptor(model.RolePlayback, "a")},
		Capture:               []model.Descriptor{custom},
		CommsPlayback:         []model.Descriptor{},
		CommsCapture:          []model.Descriptor{custom},
	}
	require.NoError(t, f.Save(s))

	loaded, err := f.Load()
	require.NoError(t, err)
	assert.True(t, s.Equal(loaded))
	assert.Equal(t, model.FlagDeviceDescription|model.FlagContainerID, loaded.Capture[0].CustomFlags)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file is renamed away")
}

func TestSettingsFile_OmitsCommsWhenUnified(t *testing.T) {
	path := filepath.Join(t.TempDir(), "priority.json")
	f := NewSettingsFile(path, model.FlagsAll, nil)

	require.NoError(t, f.Save(&Settings{
		Playback:      []model.Descriptor{testDescriptor(model.RolePlayback, "a")},
		CommsPlayback: []model.Descriptor{testDescriptor(model.RolePlayback, "stale")},
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "comms_playback")
	assert.Contains(t, string(data), `"capture": []`)
}

func TestSettingsFile_IgnoresCommsListsWhenUnified(t *testing.T) {
	path := filepath.Join(t.TempDir(), "priority.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"schema_version": 1,
		"separate_comms_priority": false,
		"playback": [],
		"capture": [],
		"comms_playback": [{"id": "x", "role": "capture", "endpoint": {"role": "capture", "id": "e"}}]
	}`), 0600))

	s, err := NewSettingsFile(path, model.FlagsAll, nil).Load()
	require.NoError(t, err)
	assert.Nil(t, s.CommsPlayback)
}

func TestSettingsFile_RoleMismatchIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "priority.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"playback": [{"id": "m", "role": "capture", "endpoint": {"role": "capture", "id": "e"}}],
		"capture": []
	}`), 0600))

	_, err := NewSettingsFile(path, model.FlagsAll, nil).Load()
	assert.ErrorIs(t, err, model.ErrRoleMismatch)
}

func TestSettingsFile_CorruptIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "priority.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0600))

	_, err := NewSettingsFile(path, model.FlagsAll, nil).Load()
	assert.Error(t, err)
}

func TestSettingsFile_NewerSchemaRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "priority.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_version": 99, "playback": [], "capture": []}`), 0600))

	_, err := NewSettingsFile(path, model.FlagsAll, nil).Load()
	assert.ErrorIs(t, err, ErrUnsupportedSchema)
}

func TestSettingsFile_MasksCustomFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "priority.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"playback": [{
			"id": "a", "role": "playback", "enabled": true,
			"identification": "custom",
			"custom_flags": ["endpoint_id", "icon_path", "description"],
			"endpoint": {"role": "playback", "id": "e"}
		}],
		"capture": []
	}`), 0600))

	allowed := model.FlagsAll &^ model.FlagIconPath
	s, err := NewSettingsFile(path, allowed, nil).Load()
	require.NoError(t, err)
	require.Len(t, s.Playback, 1)
	assert.Equal(t, model.FlagEndpointID|model.FlagDeviceDescription, s.Playback[0].CustomFlags)
}

func TestSettingsFile_SetAllowed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "priority.json")
	f := NewSettingsFile(path, model.FlagsAll, nil)

	d := testDescriptor(model.RolePlayback, "a")
	d.Method = model.MethodCustom
	d.CustomFlags = model.FlagEndpointID | model.FlagContainerID
	require.NoError(t, f.Save(&Settings{Playback: []model.Descriptor{d}}))

	s, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, model.FlagEndpointID|model.FlagContainerID, s.Playback[0].CustomFlags)

	f.SetAllowed(model.FlagEndpointID)
	s, err = f.Load()
	require.NoError(t, err)
	assert.Equal(t, model.FlagEndpointID, s.Playback[0].CustomFlags)
}

func TestSettings_DuplicateRejected(t *testing.T) {
	s := &Settings{
		Playback: []model.Descriptor{
			testDescriptor(model.RolePlayback, "a"),
			testDescriptor(model.RolePlayback, "a"),
		},
	}
	assert.ErrorIs(t, s.Validate(), ErrDuplicateDescriptor)
}

func TestSettings_Equal(t *testing.T) {
	a := &Settings{Playback: []model.Descriptor{testDescriptor(model.RolePlayback, "a")}}
	b := &Settings{Playback: []model.Descriptor{testDescriptor(model.RolePlayback, "a")}}
	assert.True(t, a.Equal(b))

	b.Playback[0].Enabled = false
	assert.False(t, a.Equal(b))

	// Comms lists only count when split.
	c := &Settings{Playback: a.Playback, CommsCapture: []model.Descriptor{testDescriptor(model.RoleCapture, "m")}}
	assert.True(t, a.Equal(c))

	assert.False(t, a.Equal(nil))
}
