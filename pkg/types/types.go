// Package types defines the shared domain model for the orchestration
// kernel: tasks, workers, RPC envelopes, worker events and the persisted
// system state snapshot.
package types

import "time"

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskReady     TaskStatus = "ready"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// WorkerStatus is the lifecycle state of a Worker.
type WorkerStatus string

const (
	WorkerIdle    WorkerStatus = "idle"
	WorkerBusy    WorkerStatus = "busy"
	WorkerError   WorkerStatus = "error"
	WorkerOffline WorkerStatus = "offline"
)

// Phase is the orchestrator's overall run phase.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// Task is one node of the dependency graph. Identity is the opaque,
// stable Id. Dependencies reference other Task.Id values.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Dependencies []string   `json:"dependencies"`
	Priority     int        `json:"priority"`
	Status       TaskStatus `json:"status"`
	Assigned     string     `json:"assignedWorker,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	Error        string     `json:"error,omitempty"`
	Subtasks     []*Task    `json:"subtasks,omitempty"`
}

// Clone returns a deep copy of the task, including subtasks, so callers
// that receive it from the graph cannot mutate graph-owned state.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Dependencies = append([]string(nil), t.Dependencies...)
	if t.StartedAt != nil {
		started := *t.StartedAt
		c.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		c.CompletedAt = &completed
	}
	if t.Subtasks != nil {
		c.Subtasks = make([]*Task, len(t.Subtasks))
		for i, st := range t.Subtasks {
			c.Subtasks[i] = st.Clone()
		}
	}
	return &c
}

// Worker is one slot in the worker pool: an id bound, over its lifetime,
// to a sequence of working copies, panes and tasks.
type Worker struct {
	ID            string       `json:"id"`
	Status        WorkerStatus `json:"status"`
	WorkingCopy   string       `json:"workingCopy,omitempty"`
	Pane          string       `json:"pane,omitempty"`
	CurrentTaskID string       `json:"currentTaskId,omitempty"`
	LastHeartbeat time.Time    `json:"lastHeartbeat"`
	Completed     int          `json:"completed"`
	Failed        int          `json:"failed"`
}

// Clone returns a defensive copy of the worker record.
func (w *Worker) Clone() *Worker {
	if w == nil {
		return nil
	}
	c := *w
	return &c
}

// RPCRequest is one call frame on the bus.
type RPCRequest struct {
	ID        string     `json:"id"`
	Method    string     `json:"method"`
	Params    RawPayload `json:"params"`
	Timestamp time.Time  `json:"timestamp"`
}

// RPCResponse answers exactly one RPCRequest, identified by ID.
type RPCResponse struct {
	ID        string     `json:"id"`
	Result    RawPayload `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// RawPayload is an opaque JSON payload, decoded lazily by handlers.
type RawPayload = []byte

// WorkerEventType enumerates the fire-and-forget event channel names
// carried over the bus.
type WorkerEventType string

const (
	EventReady         WorkerEventType = "ready"
	EventTaskStarted   WorkerEventType = "task_started"
	EventTaskProgress  WorkerEventType = "task_progress"
	EventTaskCompleted WorkerEventType = "task_completed"
	EventTaskFailed    WorkerEventType = "task_failed"
	EventStatusUpdate  WorkerEventType = "status_update"
	EventLog           WorkerEventType = "log"
	EventErr           WorkerEventType = "error"
	EventHeartbeat     WorkerEventType = "heartbeat"
)

// WorkerEvent is a one-way worker->master (or master->worker) message.
type WorkerEvent struct {
	Type      WorkerEventType `json:"type"`
	WorkerID  string          `json:"workerId"`
	TaskID    string          `json:"taskId,omitempty"`
	Payload   RawPayload      `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Stats summarizes task counts by status.
type Stats struct {
	Pending   int `json:"pending"`
	Ready     int `json:"ready"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// SystemState is the persisted orchestrator snapshot (component K).
type SystemState struct {
	Phase     Phase      `json:"phase"`
	StartedAt time.Time  `json:"startedAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	Tasks     []*Task    `json:"tasks"`
	Workers   []*Worker  `json:"workers"`
	Stats     Stats      `json:"stats"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
}

// ConflictType enumerates the kinds of merge conflict a file can carry.
type ConflictType string

const (
	ConflictContent ConflictType = "content"
	ConflictRename  ConflictType = "rename"
	ConflictDelete  ConflictType = "delete"
)

// ConflictSeverity ranks how much scrutiny a conflicting file needs.
type ConflictSeverity string

const (
	SeverityLow    ConflictSeverity = "low"
	SeverityMedium ConflictSeverity = "medium"
	SeverityHigh   ConflictSeverity = "high"
)

// Conflict records one unresolved (or resolved) merge conflict file.
type Conflict struct {
	TaskID      string           `json:"taskId"`
	Branch      string           `json:"branch"`
	File        string           `json:"file"`
	Type        ConflictType     `json:"type"`
	Severity    ConflictSeverity `json:"severity"`
	Description string           `json:"description"`
}

// Clock abstracts time.Now so timing-sensitive components (heartbeat
// timeouts, recovery backoff) are deterministically testable.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by the real wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }
