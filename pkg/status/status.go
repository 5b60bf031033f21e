// Package status wraps a bus.Client with the worker-side heartbeat
// loop and the convenience emitters the runner uses to report task
// lifecycle transitions to the master.
package status

import (
	"context"
	"encoding/json"
	"time"

	"github.com/orkestra-dev/orkestra/pkg/bus"
	"github.com/orkestra-dev/orkestra/pkg/log"
	"github.com/orkestra-dev/orkestra/pkg/types"
)

// Reporter emits lifecycle events and heartbeats for a single worker.
type Reporter struct {
	workerID string
	client   *bus.Client
}

// New wraps client for workerID.
func New(workerID string, client *bus.Client) *Reporter {
	return &Reporter{workerID: workerID, client: client}
}

// StartHeartbeat sends a heartbeat on the given interval until ctx is
// cancelled. Intended to run in its own goroutine for the lifetime of
// the worker process.
func (r *Reporter) StartHeartbeat(ctx context.Context, interval time.Duration) {
	if err := r.client.Heartbeat(); err != nil {
		log.Errorf("status: heartbeat failed", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.client.Heartbeat(); err != nil {
				log.Errorf("status: heartbeat failed", err)
			}
		}
	}
}

// Ready reports that the worker has finished provisioning and is
// waiting for its first task assignment.
func (r *Reporter) Ready() error {
	return r.emit(types.EventReady, "", nil)
}

// TaskStarted reports that taskID has begun executing.
func (r *Reporter) TaskStarted(taskID string) error {
	return r.emit(types.EventTaskStarted, taskID, nil)
}

// TaskProgress reports an incremental progress payload for taskID.
func (r *Reporter) TaskProgress(taskID string, payload interface{}) error {
	return r.emit(types.EventTaskProgress, taskID, payload)
}

// TaskCompleted reports that taskID finished successfully.
func (r *Reporter) TaskCompleted(taskID string) error {
	return r.emit(types.EventTaskCompleted, taskID, nil)
}

// TaskFailed reports that taskID failed, with reason as the error text.
func (r *Reporter) TaskFailed(taskID, reason string) error {
	return r.emit(types.EventTaskFailed, taskID, map[string]string{"error": reason})
}

// Log forwards a line of the agent's output for taskID.
func (r *Reporter) Log(taskID, line string) error {
	return r.emit(types.EventLog, taskID, map[string]string{"line": line})
}

func (r *Reporter) emit(kind types.WorkerEventType, taskID string, payload interface{}) error {
	var raw types.RawPayload
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}
	return r.client.Emit(&types.WorkerEvent{
		Type:      kind,
		WorkerID:  r.workerID,
		TaskID:    taskID,
		Payload:   raw,
		Timestamp: time.Now(),
	})
}
