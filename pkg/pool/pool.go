// Package pool owns the worker records: their status, bound
// resources, and heartbeat-age crash detection against a configurable
// timeout.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/orkestra-dev/orkestra/pkg/log"
	"github.com/orkestra-dev/orkestra/pkg/metrics"
	"github.com/orkestra-dev/orkestra/pkg/types"
)

// Provisioner tears down the resources bound to a worker (working
// copy, pane), keyed by the task id they were provisioned for.
// Resources are provisioned per task by the orchestrator and bound
// via BindResources; Provisioner only ever reclaims them, on worker
// recovery or pool-wide cleanup.
type Provisioner interface {
	Teardown(ctx context.Context, taskID, workingCopy, pane string) error
}

// RecoveryPolicy bounds the pool's crash-recovery behavior.
type RecoveryPolicy struct {
	MaxRetries       int
	RetryDelay       time.Duration
	HeartbeatTimeout time.Duration
	AutoRecover      bool
}

// AutoRecoverResult summarizes one autoRecoverAll pass.
type AutoRecoverResult struct {
	Attempted int
	Recovered int
	Failed    int
}

// Pool owns the worker map and recovery bookkeeping.
type Pool struct {
	mu      sync.RWMutex
	workers map[string]*types.Worker
	retries map[string]int

	policy      RecoveryPolicy
	provisioner Provisioner
	clock       types.Clock
}

// New creates an empty pool.
func New(policy RecoveryPolicy, provisioner Provisioner) *Pool {
	return NewWithClock(policy, provisioner, types.SystemClock{})
}

// NewWithClock creates an empty pool using the given clock, for
// deterministic heartbeat-timeout tests.
func NewWithClock(policy RecoveryPolicy, provisioner Provisioner, clock types.Clock) *Pool {
	return &Pool{
		workers:     make(map[string]*types.Worker),
		retries:     make(map[string]int),
		policy:      policy,
		provisioner: provisioner,
		clock:       clock,
	}
}

// Initialize creates n idle worker records, named w-1..w-n. Workers
// start with no bound resources; each task binds its own working copy
// and pane via BindResources when assigned.
func (p *Pool) Initialize(ctx context.Context, n int) error {
	p.mu.Lock()
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("w-%d", i)
		p.workers[id] = &types.Worker{
			ID:            id,
			Status:        types.WorkerIdle,
			LastHeartbeat: p.clock.Now(),
		}
	}
	p.mu.Unlock()
	p.refreshMetrics()
	return nil
}

// IdleWorker returns any idle worker (first-found; no fairness requirement).
func (p *Pool) IdleWorker() (*types.Worker, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, w := range p.workers {
		if w.Status == types.WorkerIdle {
			return w.Clone(), true
		}
	}
	return nil, false
}

// Get returns a defensive copy of the worker record.
func (p *Pool) Get(id string) (*types.Worker, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	w, ok := p.workers[id]
	if !ok {
		return nil, false
	}
	return w.Clone(), true
}

// All returns defensive copies of every worker record.
func (p *Pool) All() []*types.Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*types.Worker, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w.Clone())
	}
	return out
}

// BindResources attaches a per-task working copy and pane to an idle
// worker, ahead of marking it busy. Callers provision these resources
// (one worktree, one tmux session) fresh for each task.
func (p *Pool) BindResources(id, workingCopy, pane string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[id]
	if !ok {
		return fmt.Errorf("pool: unknown worker %s", id)
	}
	w.WorkingCopy = workingCopy
	w.Pane = pane
	return nil
}

// SetStatus transitions a worker's status, clearing or setting
// CurrentTaskID to maintain the "currentTaskId set iff busy" invariant.
// Leaving busy also clears WorkingCopy/Pane, since those are bound
// fresh per task: "workingCopy/pane set iff busy".
func (p *Pool) SetStatus(id string, status types.WorkerStatus, taskID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[id]
	if !ok {
		return fmt.Errorf("pool: unknown worker %s", id)
	}
	w.Status = status
	if status == types.WorkerBusy {
		w.CurrentTaskID = taskID
	} else {
		w.CurrentTaskID = ""
		w.WorkingCopy = ""
		w.Pane = ""
	}
	p.refreshMetricsLocked()
	return nil
}

// UpdateHeartbeat records the latest heartbeat timestamp for a worker.
func (p *Pool) UpdateHeartbeat(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[id]
	if !ok {
		return fmt.Errorf("pool: unknown worker %s", id)
	}
	w.LastHeartbeat = p.clock.Now()
	return nil
}

// IncrementCompleted bumps a worker's completed-task counter.
func (p *Pool) IncrementCompleted(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.workers[id]; ok {
		w.Completed++
	}
}

// IncrementFailed bumps a worker's failed-task counter.
func (p *Pool) IncrementFailed(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.workers[id]; ok {
		w.Failed++
	}
}

// DetectCrashed returns the ids of workers in status=error or whose
// last heartbeat exceeds the configured timeout.
func (p *Pool) DetectCrashed() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	now := p.clock.Now()
	var crashed []string
	for id, w := range p.workers {
		if w.Status == types.WorkerError || now.Sub(w.LastHeartbeat) > p.policy.HeartbeatTimeout {
			crashed = append(crashed, id)
		}
	}
	return crashed
}

// RecoverWorker reclaims a crashed worker's resources (if any were
// bound) and resets it to idle, bounded by maxRetries. Returns false
// (without error) if the retry budget is exhausted. The worker's next
// task binds fresh resources via BindResources.
func (p *Pool) RecoverWorker(ctx context.Context, id string) (bool, error) {
	p.mu.Lock()
	if p.retries[id] >= p.policy.MaxRetries {
		p.mu.Unlock()
		log.Errorf("pool: recovery exhausted", fmt.Errorf("worker %s exceeded %d retries", id, p.policy.MaxRetries))
		return false, nil
	}
	w, ok := p.workers[id]
	if !ok {
		p.mu.Unlock()
		return false, fmt.Errorf("pool: unknown worker %s", id)
	}
	taskID, wc, pn := w.CurrentTaskID, w.WorkingCopy, w.Pane
	p.mu.Unlock()

	if err := p.provisioner.Teardown(ctx, taskID, wc, pn); err != nil {
		log.Errorf("pool: teardown during recovery failed", err)
	}

	time.Sleep(p.policy.RetryDelay)

	p.mu.Lock()
	p.workers[id] = &types.Worker{
		ID:            id,
		Status:        types.WorkerIdle,
		LastHeartbeat: p.clock.Now(),
	}
	p.retries[id] = 0
	p.refreshMetricsLocked()
	p.mu.Unlock()

	metrics.WorkerRestartsTotal.Inc()
	return true, nil
}

// AutoRecoverAll recovers every crashed worker, honoring AutoRecover.
func (p *Pool) AutoRecoverAll(ctx context.Context) AutoRecoverResult {
	var result AutoRecoverResult
	if !p.policy.AutoRecover {
		return result
	}
	for _, id := range p.DetectCrashed() {
		result.Attempted++
		recovered, err := p.RecoverWorker(ctx, id)
		if err != nil || !recovered {
			result.Failed++
			continue
		}
		result.Recovered++
	}
	return result
}

// Cleanup tears down every worker's resources and clears the pool.
func (p *Pool) Cleanup(ctx context.Context) error {
	p.mu.Lock()
	workers := make([]*types.Worker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	p.workers = make(map[string]*types.Worker)
	p.retries = make(map[string]int)
	p.mu.Unlock()

	var errs []error
	for _, w := range workers {
		if err := p.provisioner.Teardown(ctx, w.CurrentTaskID, w.WorkingCopy, w.Pane); err != nil {
			errs = append(errs, err)
		}
	}
	p.refreshMetrics()
	if len(errs) > 0 {
		return fmt.Errorf("pool: cleanup encountered %d error(s): %v", len(errs), errs)
	}
	return nil
}

func (p *Pool) refreshMetrics() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	p.refreshMetricsLocked()
}

func (p *Pool) refreshMetricsLocked() {
	counts := map[types.WorkerStatus]int{}
	for _, w := range p.workers {
		counts[w.Status]++
	}
	metrics.WorkersByStatus.WithLabelValues(string(types.WorkerIdle)).Set(float64(counts[types.WorkerIdle]))
	metrics.WorkersByStatus.WithLabelValues(string(types.WorkerBusy)).Set(float64(counts[types.WorkerBusy]))
	metrics.WorkersByStatus.WithLabelValues(string(types.WorkerError)).Set(float64(counts[types.WorkerError]))
	metrics.WorkersByStatus.WithLabelValues(string(types.WorkerOffline)).Set(float64(counts[types.WorkerOffline]))
}
