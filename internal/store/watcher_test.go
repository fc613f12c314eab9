package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/audioprio/internal/model"
)

func TestFileWatcher_AtomicSaveFires(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "priority.json")
	changes := make(chan struct{}, 16)

	fw, err := NewFileWatcher(path, func() { changes <- struct{}{} }, nil)
	require.NoError(t, err)
	require.NoError(t, fw.Start(), "missing directory is created")
	defer func() { _ = fw.Stop() }()
	assert.Equal(t, path, fw.Path())

	// Other files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.json"), []byte("{}"), 0600))

	file := NewSettingsFile(path, model.FlagsAll, nil)
	require.NoError(t, file.Save(&Settings{}))

	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported for the watched file")
	}
}

func TestFileWatcher_StopWithoutStart(t *testing.T) {
	fw, err := NewFileWatcher(filepath.Join(t.TempDir(), "priority.json"), nil, nil)
	require.NoError(t, err)
	assert.NoError(t, fw.Stop())
	assert.NoError(t, fw.Stop())
}
