package status

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/orkestra-dev/orkestra/pkg/bus"
	"github.com/orkestra-dev/orkestra/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) (*bus.Server, string) {
	t.Helper()
	srv, err := bus.NewServer(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(func() { _ = srv.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	go func() {
		_ = srv.ServeListener(ctx, ln)
	}()
	return srv, addr
}

func TestReporterEmitsTaskLifecycle(t *testing.T) {
	srv, addr := startServer(t)
	events := make(chan *types.WorkerEvent, 8)
	srv.OnEvent(func(e *types.WorkerEvent) { events <- e })

	client, err := bus.Dial(context.Background(), "tcp", addr, "w1", nil)
	require.NoError(t, err)
	defer client.Close()
	time.Sleep(100 * time.Millisecond)

	r := New("w1", client)
	require.NoError(t, r.TaskStarted("t1"))
	require.NoError(t, r.TaskCompleted("t1"))

	var seen []types.WorkerEventType
	for i := 0; i < 2; i++ {
		select {
		case e := <-events:
			seen = append(seen, e.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("missing expected event")
		}
	}
	assert.Contains(t, seen, types.EventTaskStarted)
	assert.Contains(t, seen, types.EventTaskCompleted)
}

func TestReporterTaskFailedCarriesReason(t *testing.T) {
	srv, addr := startServer(t)
	events := make(chan *types.WorkerEvent, 1)
	srv.OnEvent(func(e *types.WorkerEvent) { events <- e })

	client, err := bus.Dial(context.Background(), "tcp", addr, "w2", nil)
	require.NoError(t, err)
	defer client.Close()
	time.Sleep(100 * time.Millisecond)

	r := New("w2", client)
	require.NoError(t, r.TaskFailed("t9", "boom"))

	select {
	case e := <-events:
		assert.Equal(t, types.EventTaskFailed, e.Type)
		assert.Contains(t, string(e.Payload), "boom")
	case <-time.After(2 * time.Second):
		t.Fatal("missing task_failed event")
	}
}

func TestStartHeartbeatStopsOnCancel(t *testing.T) {
	srv, addr := startServer(t)
	_ = srv

	client, err := bus.Dial(context.Background(), "tcp", addr, "w3", nil)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	r := New("w3", client)
	done := make(chan struct{})
	go func() {
		r.StartHeartbeat(ctx, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat loop did not stop after cancel")
	}
}
