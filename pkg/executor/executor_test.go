package executor

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/orkestra-dev/orkestra/pkg/pane"
	"github.com/orkestra-dev/orkestra/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireTmux(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not available")
	}
}

func TestQuoteAllQuotesArgsWithSpaces(t *testing.T) {
	out := quoteAll([]string{"node", "--config=/tmp/a b.json"})
	assert.Equal(t, "node", out[0])
	assert.Equal(t, `"--config=/tmp/a b.json"`, out[1])
}

func TestExecuteFireAndForgetLaunchesRunner(t *testing.T) {
	requireTmux(t)
	dir := t.TempDir()
	ctrl := pane.New("orkestra-test-" + uuid.NewString()[:8])
	ctx := context.Background()

	worker := &types.Worker{ID: "w1", Pane: "w1", WorkingCopy: dir}
	require.NoError(t, ctrl.CreateSession(ctx, worker.Pane, dir))
	defer ctrl.KillSession(ctx, worker.Pane)

	e := New(ctrl, Config{
		RunnerCommand:   []string{"echo", "started"},
		FireAndForget:   true,
		RunnerConfigDir: dir,
		MasterEndpoint:  "127.0.0.1:4790",
		AllowedTools:    []string{"Read"},
		PermissionMode:  "acceptEdits",
	})

	task := &types.Task{ID: "t1", Title: "do a thing"}
	result, err := e.Execute(ctx, worker, task)
	require.NoError(t, err)
	assert.True(t, result.Started)

	time.Sleep(200 * time.Millisecond)
	out, err := ctrl.CaptureOutput(ctx, worker.Pane, 100)
	require.NoError(t, err)
	assert.Contains(t, out, "started")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var found bool
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".json" {
			found = true
			data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
			require.NoError(t, err)
			var cfg RunnerConfig
			require.NoError(t, json.Unmarshal(data, &cfg))
			assert.Equal(t, "w1", cfg.WorkerID)
			assert.Equal(t, "t1", cfg.Task.ID)
		}
	}
	assert.True(t, found, "expected a runner config json to be written")
}

func TestExecuteAwaitedModeRequiresAwaitFunc(t *testing.T) {
	requireTmux(t)
	dir := t.TempDir()
	ctrl := pane.New("orkestra-test-" + uuid.NewString()[:8])
	ctx := context.Background()
	worker := &types.Worker{ID: "w2", Pane: "w2", WorkingCopy: dir}
	require.NoError(t, ctrl.CreateSession(ctx, worker.Pane, dir))
	defer ctrl.KillSession(ctx, worker.Pane)

	e := New(ctrl, Config{RunnerCommand: []string{"true"}, FireAndForget: false, RunnerConfigDir: dir})
	_, err := e.Execute(ctx, worker, &types.Task{ID: "t2"})
	assert.Error(t, err)
}

func TestExecuteAwaitedModeReturnsAwaitResult(t *testing.T) {
	requireTmux(t)
	dir := t.TempDir()
	ctrl := pane.New("orkestra-test-" + uuid.NewString()[:8])
	ctx := context.Background()
	worker := &types.Worker{ID: "w3", Pane: "w3", WorkingCopy: dir}
	require.NoError(t, ctrl.CreateSession(ctx, worker.Pane, dir))
	defer ctrl.KillSession(ctx, worker.Pane)

	e := New(ctrl, Config{
		RunnerCommand:   []string{"true"},
		FireAndForget:   false,
		RunnerConfigDir: dir,
		Await: func(ctx context.Context, taskID string) (Result, error) {
			return Result{Succeeded: true, Output: "ok for " + taskID}, nil
		},
	})
	result, err := e.Execute(ctx, worker, &types.Task{ID: "t3"})
	require.NoError(t, err)
	assert.True(t, result.Succeeded)
	assert.Equal(t, "ok for t3", result.Output)
}
