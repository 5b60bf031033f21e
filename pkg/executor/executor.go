// Package executor drives the agent subprocess for a single task: it
// writes the runner's config file, launches the runner inside the
// task's pane, and — unless running fire-and-forget — awaits the
// terminal bus event before returning.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/orkestra-dev/orkestra/pkg/log"
	"github.com/orkestra-dev/orkestra/pkg/pane"
	"github.com/orkestra-dev/orkestra/pkg/types"
)

// RunnerConfig is the JSON written for the runner process, matching
// the external runner-invocation contract.
type RunnerConfig struct {
	WorkerID       string      `json:"workerId"`
	Task           *types.Task `json:"task"`
	WorktreePath   string      `json:"worktreePath"`
	MasterEndpoint string      `json:"masterEndpoint"`
	PermissionMode string      `json:"permissionMode"`
	AllowedTools   []string    `json:"allowedTools"`
	MaxTurns       int         `json:"maxTurns,omitempty"`
	Model          string      `json:"model,omitempty"`
	EncryptionKey  string      `json:"encryptionKey,omitempty"`
	DangerPatterns []string    `json:"dangerPatterns,omitempty"`
	AuditLogPath   string      `json:"auditLogPath,omitempty"`
}

// Result is what execute() returns: either a "started" acknowledgement
// (fire-and-forget mode) or the terminal outcome (awaited mode).
type Result struct {
	Started   bool
	Succeeded bool
	Output    string
	Error     string
}

// AwaitFunc blocks until the given task reaches a terminal bus event
// (task_completed/task_failed), or ctx is done. It is supplied by the
// orchestrator, which is the component that actually observes the bus.
type AwaitFunc func(ctx context.Context, taskID string) (Result, error)

// Executor prepares and launches the runner for one task at a time
// per pane; callers ensure at most one outstanding execute per pane.
type Executor struct {
	pane            *pane.Controller
	runnerCommand   []string
	fireAndForget   bool
	taskTimeout     time.Duration
	allowedTools    []string
	permissionMode  string
	runnerConfigDir string
	masterEndpoint  string
	encryptionKey   string
	dangerPatterns  []string
	await           AwaitFunc
}

// Config bundles the Executor's construction-time options.
type Config struct {
	RunnerCommand   []string
	FireAndForget   bool
	TaskTimeout     time.Duration
	AllowedTools    []string
	PermissionMode  string
	RunnerConfigDir string
	MasterEndpoint  string
	EncryptionKey   string
	DangerPatterns  []string
	Await           AwaitFunc
}

// New constructs an Executor.
func New(p *pane.Controller, cfg Config) *Executor {
	return &Executor{
		pane:            p,
		runnerCommand:   cfg.RunnerCommand,
		fireAndForget:   cfg.FireAndForget,
		taskTimeout:     cfg.TaskTimeout,
		allowedTools:    cfg.AllowedTools,
		permissionMode:  cfg.PermissionMode,
		runnerConfigDir: cfg.RunnerConfigDir,
		masterEndpoint:  cfg.MasterEndpoint,
		encryptionKey:   cfg.EncryptionKey,
		dangerPatterns:  cfg.DangerPatterns,
		await:           cfg.Await,
	}
}

// Execute provisions the runner config, launches it in the worker's
// pane, and — unless fire-and-forget — awaits the terminal result.
func (e *Executor) Execute(ctx context.Context, worker *types.Worker, task *types.Task) (Result, error) {
	cfg := RunnerConfig{
		WorkerID:       worker.ID,
		Task:           task,
		WorktreePath:   worker.WorkingCopy,
		MasterEndpoint: e.masterEndpoint,
		PermissionMode: e.permissionMode,
		AllowedTools:   e.allowedTools,
		EncryptionKey:  e.encryptionKey,
		DangerPatterns: e.dangerPatterns,
		AuditLogPath:   filepath.Join(e.runnerConfigDir, fmt.Sprintf("audit-%s.jsonl", task.ID)),
	}

	path, err := e.writeConfig(cfg, task.ID)
	if err != nil {
		return Result{}, fmt.Errorf("executor: write runner config: %w", err)
	}

	command := append([]string{}, e.runnerCommand...)
	command = append(command, fmt.Sprintf("--config=%s", path))
	shellCmd := strings.Join(quoteAll(command), " ")

	if err := e.pane.SendCommand(ctx, worker.Pane, shellCmd); err != nil {
		return Result{}, fmt.Errorf("executor: launch runner in pane %s: %w", worker.Pane, err)
	}

	if e.fireAndForget {
		return Result{Started: true}, nil
	}

	if e.await == nil {
		return Result{}, fmt.Errorf("executor: awaited mode requires an Await function")
	}

	awaitCtx := ctx
	var cancel context.CancelFunc
	if e.taskTimeout > 0 {
		awaitCtx, cancel = context.WithTimeout(ctx, e.taskTimeout)
		defer cancel()
	}

	result, err := e.await(awaitCtx, task.ID)
	if err != nil {
		if awaitCtx.Err() != nil {
			log.Errorf("executor: task timed out, interrupting pane", err)
			e.interrupt(ctx, worker.Pane)
			return Result{Succeeded: false, Error: "task timed out"}, nil
		}
		return Result{}, err
	}
	return result, nil
}

// interrupt sends Ctrl-C into the pane on timeout or cancellation.
func (e *Executor) interrupt(ctx context.Context, paneName string) {
	if err := e.pane.Interrupt(ctx, paneName); err != nil {
		log.Errorf("executor: failed to send interrupt", err)
	}
}

func (e *Executor) writeConfig(cfg RunnerConfig, taskID string) (string, error) {
	if err := os.MkdirAll(e.runnerConfigDir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(e.runnerConfigDir, fmt.Sprintf("runner-%s-*.json", taskID))
	if err != nil {
		return "", err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		return "", err
	}
	return filepath.Clean(f.Name()), nil
}

func quoteAll(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if strings.ContainsAny(a, " \t\"'") {
			out[i] = fmt.Sprintf("%q", a)
		} else {
			out[i] = a
		}
	}
	return out
}
