package services

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/koinonia/backend/internal/config"
	"github.com/koinonia/backend/internal/models"
)

func TestWriteDeletedEvent(t *testing.T) {
	dir := t.TempDir()
	svc := NewSnapshotService(&config.Config{SnapshotPath: dir})

	bp := testBlueprint()
	instances := []models.EventInstance{*testInstance(bp)}

	path, err := svc.WriteDeletedEvent(bp, instances)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, bp.ID.String()+".json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var snap DeletedEventSnapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, bp.ID.String(), snap.EventID)
	require.NotNil(t, snap.Event)
	assert.Equal(t, bp.ID, snap.Event.ID)
	require.Len(t, snap.Instances, 1)
	assert.Equal(t, instances[0].ID, snap.Instances[0].ID)
	assert.False(t, snap.SnapshotTime.IsZero())

	// No temp file is left behind.
	_, err = os.Stat(path + ".part")
	assert.True(t, os.IsNotExist(err))
}

func TestWriteDeletedEventCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "snapshots")
	svc := NewSnapshotService(&config.Config{SnapshotPath: dir})

	bp := testBlueprint()
	_, err := svc.WriteDeletedEvent(bp, nil)
	require.NoError(t, err)
}

func TestWriteDeletedEventUnwritableDirectory(t *testing.T) {
	svc := &SnapshotService{dir: filepath.Join(t.TempDir(), "missing")}

	bp := testBlueprint()
	_, err := svc.WriteDeletedEvent(bp, nil)
	require.Error(t, err)
}
