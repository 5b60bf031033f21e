// Package scheduler orders a task graph's ready set under a configurable
// policy and hands out the next task(s) to run.
package scheduler

import (
	"sort"

	"github.com/orkestra-dev/orkestra/pkg/graph"
	"github.com/orkestra-dev/orkestra/pkg/types"
)

// Policy selects how the ready set is ordered.
type Policy string

const (
	// PriorityFirst orders strictly by ascending numeric priority,
	// ties broken by insertion order (stable sort).
	PriorityFirst Policy = "priority"
	// UnlockFirst orders by descending unlock count U(t) — the number
	// of pending tasks that directly depend on t — ties broken by
	// PriorityFirst.
	UnlockFirst Policy = "unlock"
)

// Scheduler orders a graph's ready set under Policy.
type Scheduler struct {
	g      *graph.Graph
	policy Policy
}

// New creates a Scheduler over g using policy. An unrecognised policy
// falls back to PriorityFirst.
func New(g *graph.Graph, policy Policy) *Scheduler {
	if policy != PriorityFirst && policy != UnlockFirst {
		policy = PriorityFirst
	}
	return &Scheduler{g: g, policy: policy}
}

// Schedule returns the ready set ordered per policy. Subtask fast
// path: when an in-progress parent has a pending subtask whose own
// dependencies are satisfied, Schedule instead returns only that one
// subtask (see subtaskFastPath), ahead of any fresh top-level task.
func (s *Scheduler) Schedule() []*types.Task {
	if fast := s.subtaskFastPath(); len(fast) > 0 {
		return fast
	}

	ready := s.g.ReadySet()
	switch s.policy {
	case UnlockFirst:
		s.sortUnlockFirst(ready)
	default:
		s.sortPriorityFirst(ready)
	}
	return ready
}

// Next returns the single highest-priority ready task, or nil if none
// is ready.
func (s *Scheduler) Next() *types.Task {
	scheduled := s.Schedule()
	if len(scheduled) == 0 {
		return nil
	}
	return scheduled[0]
}

// Batch returns up to n scheduled tasks.
func (s *Scheduler) Batch(n int) []*types.Task {
	scheduled := s.Schedule()
	if n >= len(scheduled) {
		return scheduled
	}
	return scheduled[:n]
}

// subtaskFastPath returns, across all in-progress parents, the
// highest-priority lowest-dependency-count ready subtask — one pane
// keeps progressing through its own plan before a fresh pane opens.
func (s *Scheduler) subtaskFastPath() []*types.Task {
	byParent := s.g.InProgressWithReadySubtasks()
	if len(byParent) == 0 {
		return nil
	}

	var candidates []*types.Task
	for _, subs := range byParent {
		candidates = append(candidates, subs...)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return len(candidates[i].Dependencies) < len(candidates[j].Dependencies)
	})

	return candidates[:1]
}

func (s *Scheduler) sortPriorityFirst(tasks []*types.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Priority < tasks[j].Priority
	})
}

func (s *Scheduler) sortUnlockFirst(tasks []*types.Task) {
	unlock := s.unlockCounts()
	sort.SliceStable(tasks, func(i, j int) bool {
		ui, uj := unlock[tasks[i].ID], unlock[tasks[j].ID]
		if ui != uj {
			return ui > uj
		}
		return tasks[i].Priority < tasks[j].Priority
	})
}

// unlockCounts computes U(t) for every task: the number of pending
// tasks that list t as a direct dependency.
func (s *Scheduler) unlockCounts() map[string]int {
	counts := make(map[string]int)
	for _, t := range s.g.All() {
		if t.Status != types.TaskPending {
			continue
		}
		for _, dep := range t.Dependencies {
			counts[dep]++
		}
	}
	return counts
}
