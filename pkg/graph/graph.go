// Package graph stores the task dependency DAG and computes the values
// the scheduler and orchestrator need from it: the ready set, cycle
// detection, topological order and per-status counts.
package graph

import (
	"fmt"
	"sync"

	"github.com/orkestra-dev/orkestra/pkg/types"
)

// Graph is a keyed container of tasks plus their dependency edges.
// All mutating and reading operations are safe for concurrent use; all
// getters return defensive copies so callers cannot mutate graph state.
type Graph struct {
	mu    sync.RWMutex
	tasks map[string]*types.Task
	order []string // insertion order, for stable tie-breaking
	clock types.Clock
}

// New creates an empty graph using the system clock.
func New() *Graph {
	return NewWithClock(types.SystemClock{})
}

// NewWithClock creates an empty graph using the given clock, for tests.
func NewWithClock(clock types.Clock) *Graph {
	return &Graph{
		tasks: make(map[string]*types.Task),
		clock: clock,
	}
}

// Add inserts task into the graph. It rejects a duplicate id.
func (g *Graph) Add(task *types.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.tasks[task.ID]; exists {
		return fmt.Errorf("graph: duplicate task id %q", task.ID)
	}
	if task.Status == "" {
		task.Status = types.TaskPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = g.clock.Now()
	}
	g.tasks[task.ID] = task.Clone()
	g.order = append(g.order, task.ID)
	return nil
}

// AddMany inserts tasks one at a time, returning the first error
// encountered (leaving prior successful adds in place).
func (g *Graph) AddMany(tasks []*types.Task) error {
	for _, t := range tasks {
		if err := g.Add(t); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a defensive copy of the task, or nil if not found.
func (g *Graph) Get(id string) *types.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tasks[id].Clone()
}

// All returns defensive copies of every task, in insertion order.
func (g *Graph) All() []*types.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*types.Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[id].Clone())
	}
	return out
}

// MarkRunning transitions a pending/ready task to running, bound to
// workerID. It is a defensive no-op (returns an error) if the task is
// not in a state from which running is reachable, or if a dependency
// has not completed.
func (g *Graph) MarkRunning(id, workerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("graph: unknown task %q", id)
	}
	if t.Status != types.TaskPending && t.Status != types.TaskReady {
		return fmt.Errorf("graph: task %q cannot start from status %q", id, t.Status)
	}
	for _, dep := range t.Dependencies {
		d, ok := g.tasks[dep]
		if !ok || d.Status != types.TaskCompleted {
			return fmt.Errorf("graph: task %q has unsatisfied dependency %q", id, dep)
		}
	}
	t.Status = types.TaskRunning
	t.Assigned = workerID
	now := g.clock.Now()
	t.StartedAt = &now
	return nil
}

// MarkCompleted transitions a running task to completed. Replaying a
// completed transition for an already-completed task is a no-op.
func (g *Graph) MarkCompleted(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("graph: unknown task %q", id)
	}
	if t.Status == types.TaskCompleted {
		return nil
	}
	t.Status = types.TaskCompleted
	t.Assigned = ""
	now := g.clock.Now()
	t.CompletedAt = &now
	return nil
}

// MarkFailed transitions a task to failed, recording errText.
func (g *Graph) MarkFailed(id, errText string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("graph: unknown task %q", id)
	}
	if t.Status == types.TaskFailed {
		return nil
	}
	t.Status = types.TaskFailed
	t.Assigned = ""
	t.Error = errText
	now := g.clock.Now()
	t.CompletedAt = &now
	return nil
}

// MarkCancelled transitions any non-completed task to cancelled.
func (g *Graph) MarkCancelled(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("graph: unknown task %q", id)
	}
	if t.Status == types.TaskCompleted {
		return fmt.Errorf("graph: task %q already completed, cannot cancel", id)
	}
	t.Status = types.TaskCancelled
	t.Assigned = ""
	now := g.clock.Now()
	t.CompletedAt = &now
	return nil
}

// ReadySet returns pending tasks whose every dependency has completed.
func (g *Graph) ReadySet() []*types.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var ready []*types.Task
	for _, id := range g.order {
		t := g.tasks[id]
		if t.Status != types.TaskPending {
			continue
		}
		if g.dependenciesSatisfiedLocked(t) {
			ready = append(ready, t.Clone())
		}
	}
	return ready
}

func (g *Graph) dependenciesSatisfiedLocked(t *types.Task) bool {
	for _, dep := range t.Dependencies {
		d, ok := g.tasks[dep]
		if !ok || d.Status != types.TaskCompleted {
			return false
		}
	}
	return true
}

// InProgressWithReadySubtasks returns, for every running task that
// carries subtasks, the subtasks whose in-task dependencies are
// satisfied and which are themselves still pending. Used by the
// scheduler's subtask fast path.
func (g *Graph) InProgressWithReadySubtasks() map[string][]*types.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string][]*types.Task)
	for _, id := range g.order {
		parent := g.tasks[id]
		if parent.Status != types.TaskRunning || len(parent.Subtasks) == 0 {
			continue
		}
		byID := make(map[string]*types.Task, len(parent.Subtasks))
		for _, st := range parent.Subtasks {
			byID[st.ID] = st
		}
		var ready []*types.Task
		for _, st := range parent.Subtasks {
			if st.Status != types.TaskPending {
				continue
			}
			satisfied := true
			for _, dep := range st.Dependencies {
				d, ok := byID[dep]
				if !ok || d.Status != types.TaskCompleted {
					satisfied = false
					break
				}
			}
			if satisfied {
				ready = append(ready, st.Clone())
			}
		}
		if len(ready) > 0 {
			out[id] = ready
		}
	}
	return out
}

// HasCycle reports whether the dependency graph contains a cycle, via
// depth-first search with a recursion stack (colour array).
func (g *Graph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	const (
		white = 0 // unvisited
		gray  = 1 // on recursion stack
		black = 2 // fully explored
	)
	color := make(map[string]int, len(g.tasks))

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, dep := range g.tasks[id].Dependencies {
			if _, ok := g.tasks[dep]; !ok {
				continue // dangling dependency is a load-time validation error, not a cycle
			}
			switch color[dep] {
			case gray:
				return true // back-edge
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for _, id := range g.order {
		if color[id] == white {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// TopologicalOrder returns task ids in dependency order (a task always
// precedes its dependents). Callers must check HasCycle first; passing
// a cyclic graph returns an error instead of looping forever.
func (g *Graph) TopologicalOrder() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.tasks))
	var post []string

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, dep := range g.tasks[id].Dependencies {
			if _, ok := g.tasks[dep]; !ok {
				continue
			}
			switch color[dep] {
			case gray:
				return fmt.Errorf("graph: cycle detected at %q", id)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		post = append(post, id)
		return nil
	}

	for _, id := range g.order {
		if color[id] == white {
			if err := visit(id); err != nil {
				return nil, err
			}
		}
	}

	// post is dependency-first already (a node is appended after all its
	// dependencies), so no reversal is needed: post[i] never depends on
	// post[j] for j > i.
	return post, nil
}

// Stats returns counts of tasks by status.
func (g *Graph) Stats() types.Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var s types.Stats
	for _, id := range g.order {
		switch g.tasks[id].Status {
		case types.TaskPending:
			s.Pending++
		case types.TaskReady:
			s.Ready++
		case types.TaskRunning:
			s.Running++
		case types.TaskCompleted:
			s.Completed++
		case types.TaskFailed:
			s.Failed++
		case types.TaskCancelled:
			s.Cancelled++
		}
	}
	return s
}

// Len returns the number of tasks in the graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.tasks)
}

// Clear removes every task from the graph.
func (g *Graph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tasks = make(map[string]*types.Task)
	g.order = nil
}

// ValidateReferences checks that every dependency id resolves to a task
// present in the graph. Called once at load time.
func (g *Graph) ValidateReferences() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, id := range g.order {
		for _, dep := range g.tasks[id].Dependencies {
			if _, ok := g.tasks[dep]; !ok {
				return fmt.Errorf("graph: task %q depends on unknown task %q", id, dep)
			}
		}
	}
	return nil
}
