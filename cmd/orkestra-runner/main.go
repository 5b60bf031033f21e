// Command orkestra-runner is launched by the orchestrator inside a
// worker's tmux pane. It reads its RunnerConfig, dials back to the
// orchestrator over the bus, drives a coding-agent query against the
// task's working copy, and streams lifecycle events as it goes.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/orkestra-dev/orkestra/pkg/agent"
	"github.com/orkestra-dev/orkestra/pkg/bus"
	"github.com/orkestra-dev/orkestra/pkg/executor"
	"github.com/orkestra-dev/orkestra/pkg/log"
	"github.com/orkestra-dev/orkestra/pkg/status"
)

// Environment variables a --hook invocation reads its danger-pattern
// list and audit log path from; the parent runner process sets these
// before launching the agent CLI, which inherits them into the
// hook subprocesses it spawns per tool call.
const (
	dangerPatternsEnv = "ORKESTRA_DANGER_PATTERNS"
	auditLogEnv       = "ORKESTRA_AUDIT_LOG"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the runner's JSON config file")
	agentCommand := flag.String("agent", "claude", "coding-agent CLI to invoke")
	heartbeatInterval := flag.Duration("heartbeat", 10*time.Second, "heartbeat interval")
	hookMode := flag.String("hook", "", "run as an external tool-use hook instead of driving a query: pre-tool-use or post-tool-use")
	flag.Parse()

	if *hookMode != "" {
		return runHook(*hookMode)
	}

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "orkestra-runner: --config is required")
		return 1
	}

	data, err := os.ReadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "orkestra-runner: read config: %v\n", err)
		return 1
	}
	var cfg executor.RunnerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "orkestra-runner: parse config: %v\n", err)
		return 1
	}

	var key []byte
	if cfg.EncryptionKey != "" {
		key, err = hex.DecodeString(cfg.EncryptionKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "orkestra-runner: decode encryption key: %v\n", err)
			return 1
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("orkestra-runner: interrupt received, cancelling query")
		cancel()
	}()

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	client, err := bus.Dial(dialCtx, "tcp", cfg.MasterEndpoint, cfg.WorkerID, key)
	dialCancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "orkestra-runner: dial %s: %v\n", cfg.MasterEndpoint, err)
		return 1
	}
	defer client.Close()

	reporter := status.New(cfg.WorkerID, client)
	go reporter.StartHeartbeat(ctx, *heartbeatInterval)

	if err := reporter.Ready(); err != nil {
		log.Errorf("orkestra-runner: failed to report ready", err)
	}

	if cfg.Task == nil {
		fmt.Fprintln(os.Stderr, "orkestra-runner: config carries no task")
		return 1
	}

	if err := reporter.TaskStarted(cfg.Task.ID); err != nil {
		log.Errorf("orkestra-runner: failed to report task_started", err)
	}

	settingsPath, err := prepareHooks(cfg)
	if err != nil {
		log.Errorf("orkestra-runner: failed to wire tool-use hooks, continuing without them", err)
	}

	cliAgent := agent.NewCLIAgent(*agentCommand)
	req := agent.Request{
		Prompt: taskPrompt(cfg),
		Options: agent.Options{
			Cwd:            cfg.WorktreePath,
			PermissionMode: agent.PermissionMode(cfg.PermissionMode),
			AllowedTools:   cfg.AllowedTools,
			MaxTurns:       cfg.MaxTurns,
			Model:          cfg.Model,
			SettingsPath:   settingsPath,
		},
	}

	messages, errs := cliAgent.Query(ctx, req)
	var lastResult string
	for messages != nil || errs != nil {
		select {
		case msg, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			handleMessage(reporter, cfg.Task.ID, msg, &lastResult)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				_ = reporter.TaskFailed(cfg.Task.ID, err.Error())
				fmt.Fprintf(os.Stderr, "orkestra-runner: agent query failed: %v\n", err)
				return 1
			}
		}
	}

	if err := reporter.TaskCompleted(cfg.Task.ID); err != nil {
		log.Errorf("orkestra-runner: failed to report task_completed", err)
	}

	mergeCtx, mergeCancel := context.WithTimeout(ctx, 2*time.Minute)
	defer mergeCancel()
	branch := fmt.Sprintf("orkestra/%s", cfg.Task.ID)
	if _, err := client.Call(mergeCtx, "request_merge", map[string]string{
		"taskId": cfg.Task.ID,
		"branch": branch,
		"title":  cfg.Task.Title,
	}); err != nil {
		log.Errorf("orkestra-runner: merge request failed", err)
	}
	return 0
}

// prepareHooks writes the agent CLI's --settings file routing
// PreToolUse/PostToolUse back to this same binary in --hook mode, and
// exports the danger-pattern list and audit log path so the hook
// subprocess (which shares no memory with this process) can recover
// them from its environment. Returns "" if the config carries neither.
func prepareHooks(cfg executor.RunnerConfig) (string, error) {
	if len(cfg.DangerPatterns) == 0 && cfg.AuditLogPath == "" {
		return "", nil
	}

	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve own executable path: %w", err)
	}

	if err := os.Setenv(dangerPatternsEnv, strings.Join(cfg.DangerPatterns, "\x1f")); err != nil {
		return "", err
	}
	if err := os.Setenv(auditLogEnv, cfg.AuditLogPath); err != nil {
		return "", err
	}

	dir := filepath.Dir(cfg.AuditLogPath)
	if dir == "" || dir == "." {
		dir = os.TempDir()
	}
	return executor.WriteHookSettings(dir, self)
}

// runHook runs this binary as the agent CLI's external hook command:
// decode the tool call from stdin and apply it. Returns 0 when the
// hook ran; returns 1 when the hook itself fails (the error is logged)
// or when mode is not a known hook mode.
func runHook(mode string) int {
	var patterns []string
	if raw := os.Getenv(dangerPatternsEnv); raw != "" {
		patterns = strings.Split(raw, "\x1f")
	}
	auditPath := os.Getenv(auditLogEnv)

	switch mode {
	case "pre-tool-use":
		if _, err := executor.RunPreToolUse(os.Stdin, os.Stdout, patterns); err != nil {
			fmt.Fprintf(os.Stderr, "orkestra-runner: pre-tool-use hook failed: %v\n", err)
			return 1
		}
	case "post-tool-use":
		if auditPath == "" {
			return 0
		}
		if err := executor.RunPostToolUse(os.Stdin, auditPath); err != nil {
			fmt.Fprintf(os.Stderr, "orkestra-runner: post-tool-use hook failed: %v\n", err)
			return 1
		}
	default:
		fmt.Fprintf(os.Stderr, "orkestra-runner: unknown hook mode %q\n", mode)
		return 1
	}
	return 0
}

func taskPrompt(cfg executor.RunnerConfig) string {
	if cfg.Task.Description != "" {
		return cfg.Task.Description
	}
	return cfg.Task.Title
}

func handleMessage(reporter *status.Reporter, taskID string, msg agent.Message, lastResult *string) {
	switch msg.Type {
	case "assistant":
		for _, block := range msg.Message.Content {
			if block.Type == "text" && block.Text != "" {
				_ = reporter.Log(taskID, block.Text)
			}
		}
	case "result":
		*lastResult = msg.Result
		_ = reporter.TaskProgress(taskID, msg.Result)
	default:
		_ = reporter.Log(taskID, fmt.Sprintf("[%s] %s", msg.Type, msg.Subtype))
	}
}
