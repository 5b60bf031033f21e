package pool

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/orkestra-dev/orkestra/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeProvisioner struct {
	mu        sync.Mutex
	calls     int
	failNext  bool
	torndown  []string
}

func (f *fakeProvisioner) Provision(ctx context.Context, workerID string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failNext {
		f.failNext = false
		return "", "", fmt.Errorf("provision failed")
	}
	return "/tmp/" + workerID, "pane-" + workerID, nil
}

func (f *fakeProvisioner) Teardown(ctx context.Context, workerID, workingCopy, paneName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.torndown = append(f.torndown, workerID)
	return nil
}

func TestInitializeCreatesIdleWorkers(t *testing.T) {
	p := New(RecoveryPolicy{MaxRetries: 3, HeartbeatTimeout: time.Minute}, &fakeProvisioner{})
	require.NoError(t, p.Initialize(context.Background(), 3))
	assert.Len(t, p.All(), 3)
	w, ok := p.IdleWorker()
	require.True(t, ok)
	assert.Equal(t, types.WorkerIdle, w.Status)
}

func TestSetStatusMaintainsCurrentTaskInvariant(t *testing.T) {
	p := New(RecoveryPolicy{MaxRetries: 3, HeartbeatTimeout: time.Minute}, &fakeProvisioner{})
	require.NoError(t, p.Initialize(context.Background(), 1))

	require.NoError(t, p.SetStatus("w-1", types.WorkerBusy, "task-1"))
	w, _ := p.Get("w-1")
	assert.Equal(t, "task-1", w.CurrentTaskID)

	require.NoError(t, p.SetStatus("w-1", types.WorkerIdle, ""))
	w, _ = p.Get("w-1")
	assert.Empty(t, w.CurrentTaskID)
}

func TestBindResourcesSetIffBusy(t *testing.T) {
	p := New(RecoveryPolicy{MaxRetries: 3, HeartbeatTimeout: time.Minute}, &fakeProvisioner{})
	require.NoError(t, p.Initialize(context.Background(), 1))

	require.NoError(t, p.BindResources("w-1", "/tmp/t-1", "pane-t-1"))
	require.NoError(t, p.SetStatus("w-1", types.WorkerBusy, "t-1"))
	w, _ := p.Get("w-1")
	assert.Equal(t, "/tmp/t-1", w.WorkingCopy)
	assert.Equal(t, "pane-t-1", w.Pane)

	require.NoError(t, p.SetStatus("w-1", types.WorkerIdle, ""))
	w, _ = p.Get("w-1")
	assert.Empty(t, w.WorkingCopy)
	assert.Empty(t, w.Pane)
}

func TestDetectCrashedByHeartbeatTimeout(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	p := NewWithClock(RecoveryPolicy{MaxRetries: 3, HeartbeatTimeout: 90 * time.Second}, &fakeProvisioner{}, clock)
	require.NoError(t, p.Initialize(context.Background(), 1))

	assert.Empty(t, p.DetectCrashed())

	clock.Advance(2 * time.Minute)
	assert.Equal(t, []string{"w-1"}, p.DetectCrashed())
}

func TestDetectCrashedByErrorStatus(t *testing.T) {
	p := New(RecoveryPolicy{MaxRetries: 3, HeartbeatTimeout: time.Hour}, &fakeProvisioner{})
	require.NoError(t, p.Initialize(context.Background(), 1))
	require.NoError(t, p.SetStatus("w-1", types.WorkerError, ""))
	assert.Equal(t, []string{"w-1"}, p.DetectCrashed())
}

func TestRecoverWorkerResetsRecordAndRetryCounter(t *testing.T) {
	fp := &fakeProvisioner{}
	p := New(RecoveryPolicy{MaxRetries: 3, RetryDelay: time.Millisecond, HeartbeatTimeout: time.Hour}, fp)
	require.NoError(t, p.Initialize(context.Background(), 1))
	require.NoError(t, p.BindResources("w-1", "/tmp/t-1", "pane-t-1"))
	require.NoError(t, p.SetStatus("w-1", types.WorkerBusy, "t-1"))
	p.retries["w-1"] = 2

	recovered, err := p.RecoverWorker(context.Background(), "w-1")
	require.NoError(t, err)
	assert.True(t, recovered)

	w, _ := p.Get("w-1")
	assert.Equal(t, types.WorkerIdle, w.Status)
	assert.Empty(t, w.WorkingCopy)
	assert.Contains(t, fp.torndown, "t-1")
	assert.Equal(t, 0, p.retries["w-1"])
}

func TestRecoverWorkerExhaustsRetries(t *testing.T) {
	fp := &fakeProvisioner{}
	p := New(RecoveryPolicy{MaxRetries: 0, RetryDelay: time.Millisecond, HeartbeatTimeout: time.Hour}, fp)
	require.NoError(t, p.Initialize(context.Background(), 1))

	recovered, err := p.RecoverWorker(context.Background(), "w-1")
	require.NoError(t, err)
	assert.False(t, recovered)
}

func TestAutoRecoverAllRespectsFlag(t *testing.T) {
	p := New(RecoveryPolicy{MaxRetries: 3, HeartbeatTimeout: time.Millisecond, AutoRecover: false}, &fakeProvisioner{})
	require.NoError(t, p.Initialize(context.Background(), 2))
	time.Sleep(5 * time.Millisecond)

	result := p.AutoRecoverAll(context.Background())
	assert.Equal(t, 0, result.Attempted)
}

func TestCleanupTearsDownAndClears(t *testing.T) {
	fp := &fakeProvisioner{}
	p := New(RecoveryPolicy{MaxRetries: 3, HeartbeatTimeout: time.Hour}, fp)
	require.NoError(t, p.Initialize(context.Background(), 2))

	require.NoError(t, p.Cleanup(context.Background()))
	assert.Empty(t, p.All())
	assert.Len(t, fp.torndown, 2)
}
