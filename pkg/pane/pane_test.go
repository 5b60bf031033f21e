package pane

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireTmux(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not available")
	}
}

func TestCreateSendCaptureKill(t *testing.T) {
	requireTmux(t)
	ctrl := New("orkestra-test-" + uuid.NewString()[:8])
	name := "w1"
	ctx := context.Background()

	require.NoError(t, ctrl.CreateSession(ctx, name, "/tmp"))
	defer ctrl.KillSession(ctx, name)

	assert.True(t, ctrl.SessionExists(ctx, name))

	require.NoError(t, ctrl.SendCommand(ctx, name, "echo hello-orkestra"))
	time.Sleep(200 * time.Millisecond)

	out, err := ctrl.CaptureOutput(ctx, name, 50)
	require.NoError(t, err)
	assert.Contains(t, out, "hello-orkestra")

	names, err := ctrl.ListSessions(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, name)

	require.NoError(t, ctrl.KillSession(ctx, name))
	assert.False(t, ctrl.SessionExists(ctx, name))
}

func TestSessionExistsFalseForUnknown(t *testing.T) {
	requireTmux(t)
	ctrl := New("orkestra-test-" + uuid.NewString()[:8])
	assert.False(t, ctrl.SessionExists(context.Background(), "nope"))
}

func TestOperationsSafeAgainstMissingSession(t *testing.T) {
	requireTmux(t)
	ctrl := New("orkestra-test-" + uuid.NewString()[:8])
	ctx := context.Background()
	name := "ghost"

	assert.NoError(t, ctrl.KillSession(ctx, name))
	assert.NoError(t, ctrl.SendCommand(ctx, name, "echo nope"))
	assert.NoError(t, ctrl.Interrupt(ctx, name))

	out, err := ctrl.CaptureOutput(ctx, name, 10)
	assert.NoError(t, err)
	assert.Empty(t, out)
}
