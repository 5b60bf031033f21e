package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/orkestra-dev/orkestra/pkg/agent"
	"github.com/orkestra-dev/orkestra/pkg/bus"
	"github.com/orkestra-dev/orkestra/pkg/executor"
	"github.com/orkestra-dev/orkestra/pkg/status"
	"github.com/orkestra-dev/orkestra/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskPromptPrefersDescription(t *testing.T) {
	cfg := executor.RunnerConfig{Task: &types.Task{Title: "fix the thing", Description: "make the flaky test pass"}}
	assert.Equal(t, "make the flaky test pass", taskPrompt(cfg))
}

func TestTaskPromptFallsBackToTitle(t *testing.T) {
	cfg := executor.RunnerConfig{Task: &types.Task{Title: "fix the thing"}}
	assert.Equal(t, "fix the thing", taskPrompt(cfg))
}

func TestHandleMessageLogsAssistantTextBlocks(t *testing.T) {
	client, recorder := newRecordingPeer(t)
	defer client.Close()
	reporter := status.New("w-1", client)

	var lastResult string
	handleMessage(reporter, "t-1", agent.Message{
		Type: "assistant",
		Message: agent.AssistantMessage{
			Content: []agent.ContentBlock{{Type: "text", Text: "looking at the failing test"}},
		},
	}, &lastResult)

	events := recorder.drain(t, 1)
	assert.Equal(t, types.EventLog, events[0].Type)
}

func TestHandleMessageRecordsResult(t *testing.T) {
	client, recorder := newRecordingPeer(t)
	defer client.Close()
	reporter := status.New("w-1", client)

	var lastResult string
	handleMessage(reporter, "t-1", agent.Message{Type: "result", Result: "all tests passing"}, &lastResult)

	assert.Equal(t, "all tests passing", lastResult)
	events := recorder.drain(t, 1)
	assert.Equal(t, types.EventTaskProgress, events[0].Type)
}

func TestPrepareHooksSkipsWhenUnconfigured(t *testing.T) {
	path, err := prepareHooks(executor.RunnerConfig{})
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestPrepareHooksWritesSettingsAndEnv(t *testing.T) {
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit.jsonl")
	t.Cleanup(func() {
		os.Unsetenv(dangerPatternsEnv)
		os.Unsetenv(auditLogEnv)
	})

	path, err := prepareHooks(executor.RunnerConfig{
		DangerPatterns: []string{"rm -rf /*"},
		AuditLogPath:   auditPath,
	})
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, "rm -rf /*", os.Getenv(dangerPatternsEnv))
	assert.Equal(t, auditPath, os.Getenv(auditLogEnv))
}

func TestRunHookUnknownModeFails(t *testing.T) {
	assert.Equal(t, 1, runHook("sideways"))
}

// recordingPeer is a minimal bus server that captures every event a
// dialed client emits, so handleMessage's reporter calls can be
// observed without a real orchestrator process.
type recordingPeer struct {
	events chan *types.WorkerEvent
}

func (r *recordingPeer) drain(t *testing.T, n int) []*types.WorkerEvent {
	t.Helper()
	out := make([]*types.WorkerEvent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, <-r.events)
	}
	return out
}

func newRecordingPeer(t *testing.T) (*bus.Client, *recordingPeer) {
	t.Helper()
	srv, err := bus.NewServer(nil)
	require.NoError(t, err)

	rec := &recordingPeer{events: make(chan *types.WorkerEvent, 16)}
	srv.OnEvent(func(e *types.WorkerEvent) { rec.events <- e })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(func() { _ = srv.Close() })
	go func() { _ = srv.ServeListener(ctx, ln) }()

	client, err := bus.Dial(context.Background(), "tcp", ln.Addr().String(), "w-1", nil)
	require.NoError(t, err)
	return client, rec
}
