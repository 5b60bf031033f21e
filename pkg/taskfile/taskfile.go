// Package taskfile adapts the external tasks-file JSON format
// (numeric-or-string ids, enum-or-numeric priorities, six-state
// external status) onto the core's Task model.
package taskfile

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/orkestra-dev/orkestra/pkg/types"
)

// rawTask mirrors the external JSON shape exactly.
type rawTask struct {
	ID           json.RawMessage   `json:"id"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Status       string            `json:"status"`
	Dependencies []json.RawMessage `json:"dependencies"`
	Priority     json.RawMessage   `json:"priority"`
	Subtasks     []rawTask         `json:"subtasks"`
	Details      string            `json:"details"`
	TestStrategy string            `json:"testStrategy"`
}

type rawFile struct {
	Tasks []rawTask `json:"tasks"`
}

// Load reads and decodes the tasks file at path into core Task values.
func Load(path string) ([]*types.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("taskfile: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes raw JSON bytes into core Task values.
func Parse(data []byte) ([]*types.Task, error) {
	var f rawFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("taskfile: invalid JSON: %w", err)
	}
	tasks := make([]*types.Task, 0, len(f.Tasks))
	for _, rt := range f.Tasks {
		t, err := adapt(rt)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func adapt(rt rawTask) (*types.Task, error) {
	id, err := normalizeID(rt.ID)
	if err != nil {
		return nil, fmt.Errorf("taskfile: task id: %w", err)
	}
	deps := make([]string, 0, len(rt.Dependencies))
	for _, d := range rt.Dependencies {
		did, err := normalizeID(d)
		if err != nil {
			return nil, fmt.Errorf("taskfile: task %s dependency: %w", id, err)
		}
		deps = append(deps, did)
	}
	priority, err := normalizePriority(rt.Priority)
	if err != nil {
		return nil, fmt.Errorf("taskfile: task %s priority: %w", id, err)
	}
	status, err := normalizeStatus(rt.Status)
	if err != nil {
		return nil, fmt.Errorf("taskfile: task %s status: %w", id, err)
	}

	t := &types.Task{
		ID:           id,
		Title:        rt.Title,
		Description:  rt.Description,
		Dependencies: deps,
		Priority:     priority,
		Status:       status,
	}
	for _, rs := range rt.Subtasks {
		st, err := adapt(rs)
		if err != nil {
			return nil, err
		}
		t.Subtasks = append(t.Subtasks, st)
	}
	return t, nil
}

// normalizeID accepts either a JSON string or number and returns a
// stable string id, per the id: string|number contract.
func normalizeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("missing id")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("id must be a string or number, got %s", raw)
}

// normalizePriority maps high/medium/low (or bare numbers) onto the
// core's numeric priority where smaller is more urgent: high -> 1,
// medium -> 3, low -> 5.
func normalizePriority(raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return 3, nil // medium default
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "high":
			return 1, nil
		case "medium":
			return 3, nil
		case "low":
			return 5, nil
		default:
			if n, err := strconv.Atoi(s); err == nil {
				return n, nil
			}
			return 0, fmt.Errorf("unrecognised priority %q", s)
		}
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	return 0, fmt.Errorf("priority must be a string or number, got %s", raw)
}

// normalizeStatus maps the external six-state enum onto five of the
// core's TaskStatus values: pending/in-progress/done/blocked/cancelled/
// deferred -> pending/running/completed/failed/cancelled.
func normalizeStatus(s string) (types.TaskStatus, error) {
	switch s {
	case "", "pending":
		return types.TaskPending, nil
	case "in-progress":
		return types.TaskRunning, nil
	case "done":
		return types.TaskCompleted, nil
	case "blocked":
		return types.TaskFailed, nil
	case "cancelled":
		return types.TaskCancelled, nil
	case "deferred":
		return types.TaskPending, nil
	default:
		return "", fmt.Errorf("unrecognised status %q", s)
	}
}
