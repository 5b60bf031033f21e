package executor

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ToolUse is the payload the before/after tool-use hooks inspect.
type ToolUse struct {
	ToolName  string
	ToolInput string // flattened command/args, e.g. a shell command string
}

// DangerGuard denies tool calls matching a configured list of
// dangerous command patterns (destructive filesystem ops, forced
// pushes, credential-file access). Denial aborts only the tool call,
// never the task.
type DangerGuard struct {
	patterns []string
}

// NewDangerGuard builds a guard from the configured pattern list.
func NewDangerGuard(patterns []string) *DangerGuard {
	return &DangerGuard{patterns: patterns}
}

// Check runs the before-tool-use hook: it returns a non-empty denial
// reason if the tool input matches a dangerous pattern.
func (g *DangerGuard) Check(use ToolUse) (deny bool, reason string) {
	input := strings.ToLower(use.ToolInput)
	for _, p := range g.patterns {
		pat := strings.ToLower(p)
		if matchesPattern(input, pat) {
			return true, fmt.Sprintf("denied: tool input matches dangerous pattern %q", p)
		}
	}
	return false, ""
}

// matchesPattern matches a dangerous-command pattern against a tool
// input line. Patterns may use '*' wildcards (matched per
// filepath.Match semantics over the whole string) or be a plain
// substring to catch anywhere in the command.
func matchesPattern(input, pattern string) bool {
	if strings.Contains(pattern, "*") {
		if ok, err := filepath.Match(pattern, input); err == nil && ok {
			return true
		}
		// filepath.Match requires a full-string match; also check each
		// whitespace-separated token and the raw substring form so a
		// pattern like "rm -rf /*" matches within a longer command line.
		for _, tok := range strings.Fields(input) {
			if ok, err := filepath.Match(pattern, tok); err == nil && ok {
				return true
			}
		}
		prefix := strings.TrimSuffix(pattern, "*")
		if prefix != pattern && strings.Contains(input, prefix) {
			return true
		}
		return false
	}
	return strings.Contains(input, pattern)
}

// AuditLog records tool usage after it completes (the after-tool-use hook).
type AuditLog struct {
	entries []ToolUse
}

// Record appends a completed tool use to the log.
func (a *AuditLog) Record(use ToolUse) {
	a.entries = append(a.entries, use)
}

// Entries returns every recorded tool use, in order.
func (a *AuditLog) Entries() []ToolUse {
	return append([]ToolUse{}, a.entries...)
}

// HookInput is what the agent CLI's external hook command reads from
// stdin for every tool call, matching the CLI's documented PreToolUse/
// PostToolUse payload.
type HookInput struct {
	ToolName  string `json:"tool_name"`
	ToolInput string `json:"tool_input"`
}

// AuditRecord is one line of the JSON-lines audit log a task's
// PostToolUse hook appends to.
type AuditRecord struct {
	ToolName  string    `json:"toolName"`
	ToolInput string    `json:"toolInput"`
	Timestamp time.Time `json:"timestamp"`
}

// RunPreToolUse decodes a HookInput from r, checks it against patterns,
// and writes the agent CLI's expected approve/block decision to w. The
// returned bool reports whether the call was denied.
func RunPreToolUse(r io.Reader, w io.Writer, patterns []string) (bool, error) {
	var in HookInput
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return false, fmt.Errorf("hooks: decode pre-tool-use input: %w", err)
	}
	guard := NewDangerGuard(patterns)
	deny, reason := guard.Check(ToolUse{ToolName: in.ToolName, ToolInput: in.ToolInput})

	decision := map[string]string{"decision": "approve"}
	if deny {
		decision["decision"] = "block"
		decision["reason"] = reason
	}
	if err := json.NewEncoder(w).Encode(decision); err != nil {
		return deny, fmt.Errorf("hooks: encode pre-tool-use decision: %w", err)
	}
	return deny, nil
}

// RunPostToolUse decodes a HookInput from r and appends it to the
// audit log file at path.
func RunPostToolUse(r io.Reader, path string) error {
	var in HookInput
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return fmt.Errorf("hooks: decode post-tool-use input: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("hooks: open audit log: %w", err)
	}
	defer f.Close()
	record := AuditRecord{ToolName: in.ToolName, ToolInput: in.ToolInput, Timestamp: time.Now()}
	if err := json.NewEncoder(f).Encode(record); err != nil {
		return fmt.Errorf("hooks: append audit record: %w", err)
	}
	return nil
}

type hookCommand struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

type hookMatcher struct {
	Matcher string        `json:"matcher"`
	Hooks   []hookCommand `json:"hooks"`
}

// WriteHookSettings writes the agent CLI's --settings JSON file,
// routing PreToolUse and PostToolUse to runnerPath invoked in the
// runner's own --hook mode, and returns the file's path.
func WriteHookSettings(dir, runnerPath string) (string, error) {
	settings := struct {
		Hooks map[string][]hookMatcher `json:"hooks"`
	}{
		Hooks: map[string][]hookMatcher{
			"PreToolUse":  {{Matcher: "*", Hooks: []hookCommand{{Type: "command", Command: runnerPath + " --hook=pre-tool-use"}}}},
			"PostToolUse": {{Matcher: "*", Hooks: []hookCommand{{Type: "command", Command: runnerPath + " --hook=post-tool-use"}}}},
		},
	}

	path := filepath.Join(dir, "settings.json")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("hooks: create settings file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(settings); err != nil {
		return "", fmt.Errorf("hooks: write settings file: %w", err)
	}
	return path, nil
}
