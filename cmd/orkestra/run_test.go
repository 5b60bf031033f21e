package main

import (
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "run"}
	cmd.Flags().String("tasks", "", "")
	cmd.Flags().Int("workers", 0, "")
	cmd.Flags().String("strategy", "", "")
	cmd.Flags().Bool("fire-and-forget", false, "")
	return cmd
}

func TestLoadConfigAppliesFlagOverrides(t *testing.T) {
	cmd := newTestRunCmd()
	require.NoError(t, cmd.Flags().Set("tasks", "custom-tasks.json"))
	require.NoError(t, cmd.Flags().Set("workers", "7"))
	require.NoError(t, cmd.Flags().Set("strategy", "unlock"))
	require.NoError(t, cmd.Flags().Set("fire-and-forget", "true"))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "custom-tasks.json", cfg.TasksPath)
	assert.Equal(t, 7, cfg.MaxWorkers)
	assert.EqualValues(t, "unlock", cfg.Strategy)
	assert.True(t, cfg.FireAndForget)
}

func TestLoadConfigRejectsUnknownStrategy(t *testing.T) {
	cmd := newTestRunCmd()
	require.NoError(t, cmd.Flags().Set("strategy", "round-robin"))

	_, err := loadConfig(cmd)
	assert.Error(t, err)
}

func TestLoadConfigDefaultsAreValid(t *testing.T) {
	cmd := newTestRunCmd()
	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}

func TestPidFilePathSitsAlongsideStateFile(t *testing.T) {
	cmd := newTestRunCmd()
	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	cfg.StatePath = "/var/run/orkestra/state.json"

	assert.Equal(t, filepath.Join("/var/run/orkestra", "orkestra.pid"), pidFilePath(cfg))
}
