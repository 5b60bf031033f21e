// Package config defines the orchestrator's run configuration: worker
// pool sizing, timeouts, scheduling policy, filesystem layout and the
// conflict-resolution policy lists. Loadable from YAML, validated
// before use.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/orkestra-dev/orkestra/pkg/scheduler"
	"gopkg.in/yaml.v3"
)

// Config is the orchestrator's top-level run configuration.
type Config struct {
	TasksPath          string            `yaml:"tasksPath"`
	WorktreesDir        string            `yaml:"worktreesDir"`
	TmuxPrefix         string            `yaml:"tmuxPrefix"`
	MaxWorkers         int               `yaml:"maxWorkers"`
	Strategy           scheduler.Policy  `yaml:"strategy"`
	FireAndForget      bool              `yaml:"fireAndForget"`
	HeartbeatIntervalMs int              `yaml:"heartbeatIntervalMs"`
	HeartbeatTimeoutMs int               `yaml:"heartbeatTimeoutMs"`
	TaskTimeoutMs      int               `yaml:"taskTimeoutMs"`
	RPCTimeoutMs       int               `yaml:"rpcTimeoutMs"`
	MaxRetries         int               `yaml:"maxRetries"`
	RetryDelayMs       int               `yaml:"retryDelayMs"`
	AutosaveIntervalMs int               `yaml:"autosaveIntervalMs"`
	StatePath          string            `yaml:"statePath"`
	AutoRecover        bool              `yaml:"autoRecover"`
	BusAddr            string            `yaml:"busAddr"`
	EncryptionKeyPath  string            `yaml:"encryptionKeyPath,omitempty"`
	DangerousToolPatterns []string       `yaml:"dangerousToolPatterns"`
	SensitivePathGlobs []string          `yaml:"sensitivePathGlobs"`
	LockfilePatterns   []string          `yaml:"lockfilePatterns"`
	RunnerCommand      []string          `yaml:"runnerCommand"`
	AllowedTools       []string          `yaml:"allowedTools"`
	PermissionMode     string            `yaml:"permissionMode"`
	LogLevel           string            `yaml:"logLevel"`
	LogJSON            bool              `yaml:"logJSON"`
	MetricsAddr        string            `yaml:"metricsAddr,omitempty"`
}

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		TasksPath:           "tasks.json",
		WorktreesDir:        ".orkestra/worktrees",
		TmuxPrefix:          "orkestra",
		MaxWorkers:          4,
		Strategy:            scheduler.PriorityFirst,
		FireAndForget:       false,
		HeartbeatIntervalMs: 10_000,
		HeartbeatTimeoutMs:  90_000,
		TaskTimeoutMs:       1_800_000,
		RPCTimeoutMs:        30_000,
		MaxRetries:          3,
		RetryDelayMs:        5_000,
		AutosaveIntervalMs:  30_000,
		StatePath:           ".orkestra/state.json",
		AutoRecover:         true,
		BusAddr:             "127.0.0.1:4790",
		DangerousToolPatterns: []string{
			"rm -rf /*",
			"git push --force",
			"git push -f",
			":(){ :|:& };:",
			"dd if=*",
			"> /dev/sd*",
			"chmod -R 777 /",
		},
		SensitivePathGlobs: []string{
			"**/auth/**",
			"**/security/**",
			"**/*.key",
			"**/*.pem",
			"**/*password*",
			"**/*token*",
			"**/*secret*",
		},
		LockfilePatterns: []string{
			"package-lock.json",
			"yarn.lock",
			"pnpm-lock.yaml",
			"bun.lockb",
			"go.sum",
			"Cargo.lock",
		},
		RunnerCommand:  []string{"orkestra-runner"},
		AllowedTools:   []string{"Read", "Write", "Edit", "Bash", "Grep", "Glob"},
		PermissionMode: "acceptEdits",
		LogLevel:       "info",
	}
}

// Load reads and parses a YAML config file, merging it onto Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate enforces the documented boundaries: maxWorkers in [1,10],
// heartbeatInterval >= 5000ms, taskTimeout >= 60000ms.
func (c *Config) Validate() error {
	if c.MaxWorkers < 1 || c.MaxWorkers > 10 {
		return fmt.Errorf("config: maxWorkers must be in [1,10], got %d", c.MaxWorkers)
	}
	if c.HeartbeatIntervalMs < 5000 {
		return fmt.Errorf("config: heartbeatIntervalMs must be >= 5000, got %d", c.HeartbeatIntervalMs)
	}
	if c.TaskTimeoutMs < 60_000 {
		return fmt.Errorf("config: taskTimeoutMs must be >= 60000, got %d", c.TaskTimeoutMs)
	}
	if c.Strategy != scheduler.PriorityFirst && c.Strategy != scheduler.UnlockFirst {
		return fmt.Errorf("config: strategy must be %q or %q, got %q", scheduler.PriorityFirst, scheduler.UnlockFirst, c.Strategy)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: maxRetries must be >= 0, got %d", c.MaxRetries)
	}
	if c.TasksPath == "" {
		return fmt.Errorf("config: tasksPath is required")
	}
	return nil
}

// HeartbeatInterval returns the configured interval as a time.Duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

// HeartbeatTimeout returns the configured timeout as a time.Duration.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutMs) * time.Millisecond
}

// TaskTimeout returns the configured per-task wall clock as a time.Duration.
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutMs) * time.Millisecond
}

// RPCTimeout returns the configured per-call RPC timeout as a time.Duration.
func (c *Config) RPCTimeout() time.Duration {
	return time.Duration(c.RPCTimeoutMs) * time.Millisecond
}

// RetryDelay returns the configured worker-recovery backoff as a time.Duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// AutosaveInterval returns the configured snapshot interval as a time.Duration.
func (c *Config) AutosaveInterval() time.Duration {
	return time.Duration(c.AutosaveIntervalMs) * time.Millisecond
}
