package boltlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndRecent(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "logs.db"), 1000)
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append("w1", "line", time.Now()))
	}
	entries, err := store.Recent("w1", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestAppendTrimsToCapacity(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "logs.db"), 3)
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, store.Append("w1", "line", time.Now()))
	}
	entries, err := store.Recent("w1", 100)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(entries), 3)
}

func TestRecentUnknownWorkerEmpty(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "logs.db"), 10)
	require.NoError(t, err)
	defer store.Close()

	entries, err := store.Recent("ghost", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
