package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/orkestra-dev/orkestra/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := New(filepath.Join(dir, "state.json"))

	state := &types.SystemState{
		Phase:     types.PhaseRunning,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
		Tasks:     []*types.Task{{ID: "t1", Title: "a"}},
		Workers:   []*types.Worker{{ID: "w1", Status: types.WorkerIdle}},
		Stats:     types.Stats{Pending: 1},
	}
	require.NoError(t, store.Save(state))
	assert.True(t, store.Exists())

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "t1", loaded.Tasks[0].ID)
	assert.Equal(t, types.PhaseRunning, loaded.Phase)
}

func TestLoadMissingFileErrors(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "missing.json"))
	assert.False(t, store.Exists())
	_, err := store.Load()
	assert.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestSaveOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	store := New(path)

	require.NoError(t, store.Save(&types.SystemState{Phase: types.PhaseIdle}))
	require.NoError(t, store.Save(&types.SystemState{Phase: types.PhaseCompleted}))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, types.PhaseCompleted, loaded.Phase)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}
