package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/orkestra-dev/orkestra/pkg/bus"
	"github.com/orkestra-dev/orkestra/pkg/config"
	"github.com/orkestra-dev/orkestra/pkg/executor"
	"github.com/orkestra-dev/orkestra/pkg/graph"
	"github.com/orkestra-dev/orkestra/pkg/log"
	"github.com/orkestra-dev/orkestra/pkg/merge"
	"github.com/orkestra-dev/orkestra/pkg/metrics"
	"github.com/orkestra-dev/orkestra/pkg/monitor"
	"github.com/orkestra-dev/orkestra/pkg/orcherr"
	"github.com/orkestra-dev/orkestra/pkg/orchestrator"
	"github.com/orkestra-dev/orkestra/pkg/pane"
	"github.com/orkestra-dev/orkestra/pkg/pool"
	"github.com/orkestra-dev/orkestra/pkg/scheduler"
	"github.com/orkestra-dev/orkestra/pkg/snapshot"
	"github.com/orkestra-dev/orkestra/pkg/snapshot/boltlog"
	"github.com/orkestra-dev/orkestra/pkg/taskfile"
	"github.com/orkestra-dev/orkestra/pkg/workspace"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the orchestrator until every task completes or fails",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().String("tasks", "", "path to the task graph file (overrides config)")
	runCmd.Flags().Int("workers", 0, "worker pool size (overrides config)")
	runCmd.Flags().String("strategy", "", "scheduling strategy: priority or unlock (overrides config)")
	runCmd.Flags().Bool("fire-and-forget", false, "don't block waiting for each task's terminal event (overrides config)")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, orcherr.New(orcherr.Validation, err)
		}
		cfg = loaded
	}

	if v, _ := cmd.Flags().GetString("tasks"); v != "" {
		cfg.TasksPath = v
	}
	if v, _ := cmd.Flags().GetInt("workers"); v > 0 {
		cfg.MaxWorkers = v
	}
	if v, _ := cmd.Flags().GetString("strategy"); v != "" {
		switch v {
		case "priority":
			cfg.Strategy = scheduler.PriorityFirst
		case "unlock":
			cfg.Strategy = scheduler.UnlockFirst
		default:
			return nil, orcherr.New(orcherr.Validation, fmt.Errorf("unknown strategy %q", v))
		}
	}
	if v, _ := cmd.Flags().GetBool("fire-and-forget"); v {
		cfg.FireAndForget = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, orcherr.New(orcherr.Validation, err)
	}
	return cfg, nil
}

func pidFilePath(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.StatePath), "orkestra.pid")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	tasks, err := taskfile.Load(cfg.TasksPath)
	if err != nil {
		return orcherr.New(orcherr.Validation, err)
	}

	g := graph.New()
	if err := g.AddMany(tasks); err != nil {
		return orcherr.New(orcherr.Validation, err)
	}
	if g.HasCycle() {
		return orcherr.New(orcherr.Validation, fmt.Errorf("task graph contains a dependency cycle"))
	}

	repoRoot, err := os.Getwd()
	if err != nil {
		return orcherr.New(orcherr.Fatal, err)
	}

	ws := workspace.New(repoRoot, cfg.WorktreesDir, "HEAD")
	panes := pane.New(cfg.TmuxPrefix)
	provisioner := orchestrator.NewProvisioner(ws, panes)

	p := pool.New(pool.RecoveryPolicy{
		MaxRetries:       cfg.MaxRetries,
		RetryDelay:       cfg.RetryDelay(),
		HeartbeatTimeout: cfg.HeartbeatTimeout(),
		AutoRecover:      cfg.AutoRecover,
	}, provisioner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Initialize(ctx, cfg.MaxWorkers); err != nil {
		return orcherr.New(orcherr.Provisioning, err)
	}

	var key []byte
	if cfg.EncryptionKeyPath != "" {
		key, err = os.ReadFile(cfg.EncryptionKeyPath)
		if err != nil {
			return orcherr.New(orcherr.Validation, err)
		}
	}

	srv, err := bus.NewServer(key)
	if err != nil {
		return orcherr.New(orcherr.Fatal, err)
	}

	var awaitFn executor.AwaitFunc
	if !cfg.FireAndForget {
		awaitFn = orchestrator.AwaitFromGraph(g, time.Second)
	}

	exec := executor.New(panes, executor.Config{
		RunnerCommand:   cfg.RunnerCommand,
		FireAndForget:   cfg.FireAndForget,
		TaskTimeout:     cfg.TaskTimeout(),
		AllowedTools:    cfg.AllowedTools,
		PermissionMode:  cfg.PermissionMode,
		RunnerConfigDir: cfg.WorktreesDir,
		MasterEndpoint:  cfg.BusAddr,
		EncryptionKey:   hex.EncodeToString(key),
		DangerPatterns:  cfg.DangerousToolPatterns,
		Await:           awaitFn,
	})

	merger := merge.New(repoRoot, merge.ClassifyPolicy{
		LockfilePatterns:   cfg.LockfilePatterns,
		SensitivePathGlobs: cfg.SensitivePathGlobs,
	}, nil)

	snap := snapshot.New(cfg.StatePath)

	orch := orchestrator.New(cfg, g, p, srv, exec, merger, snap, ws, panes)

	mon := monitor.New(repoRoot, 1000, 15*time.Second)
	go mon.Start(ctx)
	orch.SetMonitor(mon)

	logStore, err := boltlog.Open(filepath.Join(filepath.Dir(cfg.StatePath), "logs.db"), 1000)
	if err != nil {
		log.Errorf("orkestra: failed to open log store, continuing without durable logs", err)
	} else {
		orch.SetLogStore(logStore)
		defer logStore.Close()
	}

	pidPath := pidFilePath(cfg)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		log.Errorf("orkestra: failed to write pid file", err)
	}
	defer os.Remove(pidPath)

	go func() {
		if err := srv.Serve(ctx, "tcp", cfg.BusAddr); err != nil {
			log.Errorf("orkestra: bus server stopped", err)
		}
	}()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("orkestra: metrics server stopped", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = metricsSrv.Close()
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("orkestra: shutdown signal received")
		orch.Shutdown()
	}()

	runErr := orch.Run(ctx)
	_ = srv.Close()
	if runErr != nil {
		return orcherr.New(orcherr.Fatal, runErr)
	}
	return nil
}
