// Package orchestrator ties every other component together into the
// event-driven main loop: load tasks, initialize the pool, bind bus
// listeners, repeatedly match idle workers to the scheduler's next
// task, and finalize once nothing remains to run.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/orkestra-dev/orkestra/pkg/bus"
	"github.com/orkestra-dev/orkestra/pkg/config"
	"github.com/orkestra-dev/orkestra/pkg/executor"
	"github.com/orkestra-dev/orkestra/pkg/graph"
	"github.com/orkestra-dev/orkestra/pkg/log"
	"github.com/orkestra-dev/orkestra/pkg/merge"
	"github.com/orkestra-dev/orkestra/pkg/metrics"
	"github.com/orkestra-dev/orkestra/pkg/monitor"
	"github.com/orkestra-dev/orkestra/pkg/pane"
	"github.com/orkestra-dev/orkestra/pkg/pool"
	"github.com/orkestra-dev/orkestra/pkg/scheduler"
	"github.com/orkestra-dev/orkestra/pkg/snapshot"
	"github.com/orkestra-dev/orkestra/pkg/snapshot/boltlog"
	"github.com/orkestra-dev/orkestra/pkg/types"
	"github.com/orkestra-dev/orkestra/pkg/workspace"
)

type eventKind int

const (
	eventTaskCompleted eventKind = iota
	eventTaskFailed
	eventMergeRequest
	eventWorkerConnected
	eventWorkerDisconnected
	eventAutosave
	eventShutdown
)

type orchEvent struct {
	kind     eventKind
	workerID string
	taskID   string
	err      string
	branch   string
	title    string
	resp     chan mergeResult
}

type mergeResult struct {
	outcome merge.Outcome
	err     error
}

// provisioner adapts workspace.Service and pane.Controller to
// pool.Provisioner, so the pool can reclaim a crashed worker's
// in-flight resources (keyed by task id) without knowing about either
// concretely. Day-to-day per-task provisioning is owned directly by
// the Orchestrator, since it alone knows the task id a resource should
// be created under.
type provisioner struct {
	ws    *workspace.Service
	panes *pane.Controller
}

// NewProvisioner builds a pool.Provisioner backed by a workspace
// service (git worktrees) and a pane controller (tmux sessions).
func NewProvisioner(ws *workspace.Service, panes *pane.Controller) pool.Provisioner {
	return &provisioner{ws: ws, panes: panes}
}

func (p *provisioner) Teardown(ctx context.Context, taskID, workingCopy, paneName string) error {
	var errs []error
	if paneName != "" {
		if err := p.panes.KillSession(ctx, paneName); err != nil {
			errs = append(errs, err)
		}
	}
	if workingCopy != "" {
		if err := p.ws.Remove(ctx, taskID, false); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("teardown: %v", errs)
	}
	return nil
}

// Orchestrator owns the single event loop that coordinates the graph,
// scheduler, pool, executor, bus, and merge resolver.
type Orchestrator struct {
	cfg       *config.Config
	graph     *graph.Graph
	scheduler *scheduler.Scheduler
	pool      *pool.Pool
	bus       *bus.Server
	executor  *executor.Executor
	merger    *merge.Resolver
	snap      *snapshot.Store
	clock     types.Clock
	monitor   *monitor.Monitor
	logStore  *boltlog.Store
	ws        *workspace.Service
	panes     *pane.Controller

	mu        sync.Mutex
	phase     types.Phase
	startedAt time.Time
	conflicts []types.Conflict

	events chan orchEvent
	done   chan struct{}
}

// New wires every component into a single Orchestrator instance. ws
// and panes provision and tear down each task's working copy and
// tmux pane; the orchestrator owns that lifecycle directly since it
// alone knows which task a resource belongs to.
func New(cfg *config.Config, g *graph.Graph, p *pool.Pool, srv *bus.Server, exec *executor.Executor, merger *merge.Resolver, snap *snapshot.Store, ws *workspace.Service, panes *pane.Controller) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		graph:     g,
		scheduler: scheduler.New(g, cfg.Strategy),
		pool:      p,
		bus:       srv,
		executor:  exec,
		merger:    merger,
		snap:      snap,
		clock:     types.SystemClock{},
		phase:     types.PhaseIdle,
		ws:        ws,
		panes:     panes,
		events:    make(chan orchEvent, 64),
		done:      make(chan struct{}),
	}
	srv.OnEvent(o.handleBusEvent)
	srv.OnDisconnect(func(workerID string) {
		o.events <- orchEvent{kind: eventWorkerDisconnected, workerID: workerID}
	})
	srv.RegisterHandler("cancel_task", o.handleCancelRPC)
	srv.RegisterHandler("assign_task", o.handleAssignRPC)
	srv.RegisterHandler("request_merge", o.handleMergeRPC)
	return o
}

// SetMonitor attaches the host resource/log monitor, feeding it every
// log line a worker reports over the bus. Optional: a nil monitor
// (the default) simply drops log events instead of recording them.
func (o *Orchestrator) SetMonitor(m *monitor.Monitor) { o.monitor = m }

// SetLogStore attaches durable per-worker log persistence, so recent
// runner output survives an orchestrator restart. Optional.
func (o *Orchestrator) SetLogStore(s *boltlog.Store) { o.logStore = s }

type cancelRequest struct {
	TaskID string `json:"taskId"`
}

type assignRequest struct {
	TaskID   string `json:"taskId"`
	WorkerID string `json:"workerId"`
}

type mergeRequestRPC struct {
	TaskID string `json:"taskId"`
	Branch string `json:"branch"`
	Title  string `json:"title"`
}

// handleMergeRPC answers a worker's merge_request: a runner asks the
// orchestrator to integrate its task branch into trunk once the agent
// finishes, and blocks for the merge outcome.
func (o *Orchestrator) handleMergeRPC(ctx context.Context, params []byte) ([]byte, error) {
	var req mergeRequestRPC
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("orchestrator: decode request_merge: %w", err)
	}
	outcome, err := o.RequestMerge(ctx, req.TaskID, req.Branch, req.Title)
	if err != nil {
		return nil, err
	}
	return json.Marshal(outcome)
}

// handleCancelRPC answers the orkestra-cli "cancel" command: an admin
// override delivered over the same bus workers use, identified by a
// reserved worker id that never joins the pool.
func (o *Orchestrator) handleCancelRPC(ctx context.Context, params []byte) ([]byte, error) {
	var req cancelRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("orchestrator: decode cancel_task: %w", err)
	}
	task := o.graph.Get(req.TaskID)
	if task == nil {
		return nil, fmt.Errorf("orchestrator: unknown task %s", req.TaskID)
	}
	if task.Status == types.TaskRunning {
		// The task's pane is named after its id.
		if err := o.panes.Interrupt(ctx, req.TaskID); err != nil {
			log.Errorf("orchestrator: interrupt pane for cancelled task failed", err)
		}
	}
	o.Cancel(req.TaskID, 0)
	return json.Marshal(map[string]string{"status": "cancelling"})
}

// handleAssignRPC answers the orkestra-cli "assign" command: forces a
// specific worker onto a specific task, bypassing the scheduler.
func (o *Orchestrator) handleAssignRPC(ctx context.Context, params []byte) ([]byte, error) {
	var req assignRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("orchestrator: decode assign_task: %w", err)
	}
	task := o.graph.Get(req.TaskID)
	if task == nil {
		return nil, fmt.Errorf("orchestrator: unknown task %s", req.TaskID)
	}
	worker, ok := o.pool.Get(req.WorkerID)
	if !ok {
		return nil, fmt.Errorf("orchestrator: unknown worker %s", req.WorkerID)
	}
	if worker.Status != types.WorkerIdle {
		return nil, fmt.Errorf("orchestrator: worker %s is not idle", req.WorkerID)
	}
	if err := o.assignTask(ctx, worker, task); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"status": "assigned"})
}

// Run executes the full lifecycle: assigns work until the graph is
// drained, then finalizes. Blocks until the run completes or ctx is
// cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.phase = types.PhaseRunning
	o.startedAt = o.clock.Now()
	o.mu.Unlock()

	o.persist()

	autosave := time.NewTicker(o.cfg.AutosaveInterval())
	defer autosave.Stop()

	o.tryAssign(ctx)

	if stats := o.graph.Stats(); stats.Pending == 0 && stats.Ready == 0 && stats.Running == 0 {
		o.finalize(ctx)
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-autosave.C:
			o.persist()
		case ev := <-o.events:
			if done := o.handle(ctx, ev); done {
				return nil
			}
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, ev orchEvent) (finished bool) {
	switch ev.kind {
	case eventTaskCompleted:
		o.onTaskCompleted(ctx, ev.taskID)
	case eventTaskFailed:
		o.onTaskFailed(ctx, ev.taskID, ev.err)
	case eventMergeRequest:
		o.onMergeRequest(ctx, ev.taskID, ev.branch, ev.title, ev.resp)
	case eventWorkerDisconnected:
		log.Errorf("orchestrator: worker disconnected", fmt.Errorf("worker %s", ev.workerID))
	case eventShutdown:
		return true
	}

	stats := o.graph.Stats()
	if stats.Pending == 0 && stats.Ready == 0 && stats.Running == 0 {
		o.finalize(ctx)
		return true
	}
	o.tryAssign(ctx)
	return false
}

// tryAssign loops while an idle worker exists and the scheduler has a
// next task, assigning each pair in turn.
func (o *Orchestrator) tryAssign(ctx context.Context) {
	for {
		task := o.scheduler.Next()
		if task == nil {
			return
		}
		worker, ok := o.pool.IdleWorker()
		if !ok {
			return
		}
		if err := o.assignTask(ctx, worker, task); err != nil {
			log.Errorf("orchestrator: assign task failed, restoring worker to idle", err)
			_ = o.pool.SetStatus(worker.ID, types.WorkerIdle, "")
		}
	}
}

// assignTask provisions a fresh working copy and pane for the task,
// binds them to the worker, and launches the executor. Provisioning is
// per task, not per worker: a worker cycles through a different
// working copy and pane for every task it runs, each named after the
// task id so the runner's eventual merge request finds a matching
// branch.
func (o *Orchestrator) assignTask(ctx context.Context, worker *types.Worker, task *types.Task) error {
	copy, err := o.ws.Create(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("provision working copy: %w", err)
	}
	if err := o.panes.CreateSession(ctx, task.ID, copy.Path); err != nil {
		_ = o.ws.Remove(ctx, task.ID, false)
		return fmt.Errorf("provision pane: %w", err)
	}
	if err := o.pool.BindResources(worker.ID, copy.Path, task.ID); err != nil {
		_ = o.panes.KillSession(ctx, task.ID)
		_ = o.ws.Remove(ctx, task.ID, false)
		return fmt.Errorf("bind resources: %w", err)
	}
	if err := o.graph.MarkRunning(task.ID, worker.ID); err != nil {
		_ = o.panes.KillSession(ctx, task.ID)
		_ = o.ws.Remove(ctx, task.ID, false)
		return fmt.Errorf("mark running: %w", err)
	}
	if err := o.pool.SetStatus(worker.ID, types.WorkerBusy, task.ID); err != nil {
		_ = o.panes.KillSession(ctx, task.ID)
		_ = o.ws.Remove(ctx, task.ID, false)
		return fmt.Errorf("set worker busy: %w", err)
	}

	bound, ok := o.pool.Get(worker.ID)
	if !ok {
		return fmt.Errorf("worker %s vanished during assignment", worker.ID)
	}

	// The task became ready when its last dependency completed, or on
	// creation if it has none.
	readyAt := task.CreatedAt
	for _, dep := range task.Dependencies {
		if d := o.graph.Get(dep); d != nil && d.CompletedAt != nil && d.CompletedAt.After(readyAt) {
			readyAt = *d.CompletedAt
		}
	}
	metrics.SchedulingLatency.Observe(o.clock.Now().Sub(readyAt).Seconds())

	go func() {
		result, err := o.executor.Execute(ctx, bound, task)
		if err != nil {
			o.events <- orchEvent{kind: eventTaskFailed, taskID: task.ID, err: err.Error()}
			return
		}
		if result.Started {
			return // fire-and-forget: terminal status arrives via the bus
		}
		if result.Succeeded {
			o.events <- orchEvent{kind: eventTaskCompleted, taskID: task.ID}
		} else {
			o.events <- orchEvent{kind: eventTaskFailed, taskID: task.ID, err: result.Error}
		}
	}()
	return nil
}

// releaseTask tears down the pane and working copy provisioned for
// taskID. keepBranch preserves the task's branch for a merge that has
// already been requested, or is still expected, after the worktree
// itself is gone.
func (o *Orchestrator) releaseTask(ctx context.Context, taskID string, keepBranch bool) {
	if err := o.panes.KillSession(ctx, taskID); err != nil {
		log.Errorf("orchestrator: kill pane for task failed", err)
	}
	if err := o.ws.Remove(ctx, taskID, keepBranch); err != nil {
		log.Errorf("orchestrator: remove working copy for task failed", err)
	}
}

func (o *Orchestrator) onTaskCompleted(ctx context.Context, taskID string) {
	task := o.graph.Get(taskID)
	if task == nil {
		return
	}
	if task.Status == types.TaskCompleted {
		return // idempotent: duplicate completion events are a no-op
	}
	if err := o.graph.MarkCompleted(taskID); err != nil {
		log.Errorf("orchestrator: mark completed failed", err)
		return
	}
	if task.Assigned != "" {
		_ = o.pool.SetStatus(task.Assigned, types.WorkerIdle, "")
		o.pool.IncrementCompleted(task.Assigned)
	}
	o.releaseTask(ctx, taskID, true)
	metrics.TasksTotal.WithLabelValues("completed").Inc()
	o.persist()
}

func (o *Orchestrator) onTaskFailed(ctx context.Context, taskID, reason string) {
	task := o.graph.Get(taskID)
	if task == nil {
		return
	}
	if task.Status == types.TaskFailed {
		return
	}
	if err := o.graph.MarkFailed(taskID, reason); err != nil {
		log.Errorf("orchestrator: mark failed failed", err)
		return
	}
	if task.Assigned != "" {
		_ = o.pool.SetStatus(task.Assigned, types.WorkerIdle, "")
		o.pool.IncrementFailed(task.Assigned)
	}
	o.releaseTask(ctx, taskID, false)
	metrics.TasksTotal.WithLabelValues("failed").Inc()
	o.persist()
}

func (o *Orchestrator) onMergeRequest(ctx context.Context, taskID, branch, title string, resp chan mergeResult) {
	if o.merger == nil {
		if resp != nil {
			resp <- mergeResult{err: fmt.Errorf("orchestrator: no merge resolver configured")}
		}
		return
	}
	outcome, err := o.merger.Merge(ctx, taskID, branch, title)
	if err != nil {
		log.Errorf("orchestrator: merge failed", err)
		if resp != nil {
			resp <- mergeResult{err: err}
		}
		return
	}
	if len(outcome.UnresolvedFiles) > 0 || len(outcome.HumanReviewFiles) > 0 {
		o.mu.Lock()
		o.conflicts = append(o.conflicts, outcome.UnresolvedFiles...)
		o.conflicts = append(o.conflicts, outcome.HumanReviewFiles...)
		o.mu.Unlock()
	}
	o.persist()
	if resp != nil {
		resp <- mergeResult{outcome: outcome}
	}
}

// handleBusEvent translates wire events into orchestrator events.
func (o *Orchestrator) handleBusEvent(e *types.WorkerEvent) {
	switch e.Type {
	case types.EventTaskCompleted:
		o.events <- orchEvent{kind: eventTaskCompleted, taskID: e.TaskID, workerID: e.WorkerID}
	case types.EventTaskFailed:
		o.events <- orchEvent{kind: eventTaskFailed, taskID: e.TaskID, workerID: e.WorkerID}
	case types.EventHeartbeat:
		if err := o.pool.UpdateHeartbeat(e.WorkerID); err != nil {
			log.Errorf("orchestrator: heartbeat for unknown worker", err)
		}
	case types.EventLog:
		o.recordLog(e)
	}
}

type logPayload struct {
	Line string `json:"line"`
}

// recordLog fans a worker's reported output line out to the in-memory
// ring buffer and the durable log store, whichever are attached.
func (o *Orchestrator) recordLog(e *types.WorkerEvent) {
	var payload logPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		log.Errorf("orchestrator: decode log event", err)
		return
	}
	if o.monitor != nil {
		o.monitor.RecordLog(e.WorkerID, payload.Line)
	}
	if o.logStore != nil {
		if err := o.logStore.Append(e.WorkerID, payload.Line, o.clock.Now()); err != nil {
			log.Errorf("orchestrator: persist log line", err)
		}
	}
}

// RequestMerge enqueues a worker's merge_request for the single
// orchestrator loop to process, preserving the trunk's single-writer
// invariant, and blocks until the merge completes or ctx is done.
func (o *Orchestrator) RequestMerge(ctx context.Context, taskID, branch, title string) (merge.Outcome, error) {
	resp := make(chan mergeResult, 1)
	select {
	case o.events <- orchEvent{kind: eventMergeRequest, taskID: taskID, branch: branch, title: title, resp: resp}:
	case <-ctx.Done():
		return merge.Outcome{}, ctx.Err()
	}
	select {
	case result := <-resp:
		return result.outcome, result.err
	case <-ctx.Done():
		return merge.Outcome{}, ctx.Err()
	}
}

// Cancel transitions taskID to failed after the grace window, per the
// cancellation contract; the caller is responsible for sending the
// tool-interrupt to the owning pane.
func (o *Orchestrator) Cancel(taskID string, grace time.Duration) {
	go func() {
		time.Sleep(grace)
		o.events <- orchEvent{kind: eventTaskFailed, taskID: taskID, err: "cancelled"}
	}()
}

func (o *Orchestrator) finalize(ctx context.Context) {
	stats := o.graph.Stats()
	o.mu.Lock()
	if stats.Failed == 0 && len(o.conflicts) == 0 {
		o.phase = types.PhaseCompleted
	} else {
		o.phase = types.PhaseFailed
	}
	o.mu.Unlock()

	o.persist()
	_ = o.pool.Cleanup(ctx)
	close(o.done)
}

// AwaitFromGraph builds an executor.AwaitFunc that polls the graph
// for taskID to reach a terminal status, for use in awaited (non
// fire-and-forget) execution mode. Terminal status arrives via the
// bus event handlers, which call graph.MarkCompleted/MarkFailed
// independently of this poll.
func AwaitFromGraph(g *graph.Graph, pollInterval time.Duration) executor.AwaitFunc {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return func(ctx context.Context, taskID string) (executor.Result, error) {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return executor.Result{}, ctx.Err()
			case <-ticker.C:
				task := g.Get(taskID)
				if task == nil {
					return executor.Result{}, fmt.Errorf("orchestrator: unknown task %s", taskID)
				}
				switch task.Status {
				case types.TaskCompleted:
					return executor.Result{Succeeded: true}, nil
				case types.TaskFailed:
					return executor.Result{Succeeded: false, Error: task.Error}, nil
				}
			}
		}
	}
}

// Done returns a channel closed once finalize has run.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Shutdown requests the loop stop at its next iteration.
func (o *Orchestrator) Shutdown() {
	o.events <- orchEvent{kind: eventShutdown}
}

func (o *Orchestrator) persist() {
	o.mu.Lock()
	state := &types.SystemState{
		Phase:     o.phase,
		StartedAt: o.startedAt,
		UpdatedAt: o.clock.Now(),
		Tasks:     o.graph.All(),
		Workers:   o.pool.All(),
		Stats:     o.graph.Stats(),
		Conflicts: append([]types.Conflict{}, o.conflicts...),
	}
	o.mu.Unlock()

	if err := o.snap.Save(state); err != nil {
		log.Errorf("orchestrator: persist snapshot failed", err)
	}
}
