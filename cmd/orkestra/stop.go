package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/orkestra-dev/orkestra/pkg/orcherr"
	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running orchestrator process",
	RunE:  runStop,
}

func init() {
	stopCmd.Flags().Bool("force", false, "send SIGKILL instead of a graceful shutdown request")
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(pidFilePath(cfg))
	if err != nil {
		return orcherr.New(orcherr.Validation, fmt.Errorf("no running orchestrator found: %w", err))
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return orcherr.New(orcherr.Validation, fmt.Errorf("malformed pid file: %w", err))
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return orcherr.New(orcherr.Fatal, err)
	}

	sig := syscall.SIGTERM
	if force, _ := cmd.Flags().GetBool("force"); force {
		sig = syscall.SIGKILL
	}
	if err := proc.Signal(sig); err != nil {
		return orcherr.New(orcherr.Fatal, fmt.Errorf("signal pid %d: %w", pid, err))
	}
	fmt.Printf("sent %s to orchestrator pid %d\n", sig, pid)
	return nil
}
