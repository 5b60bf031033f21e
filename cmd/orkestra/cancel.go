package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/orkestra-dev/orkestra/pkg/bus"
	"github.com/orkestra-dev/orkestra/pkg/orcherr"
	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a running or pending task",
	RunE:  runCancel,
}

func init() {
	cancelCmd.Flags().String("task-id", "", "id of the task to cancel (required)")
	_ = cancelCmd.MarkFlagRequired("task-id")
}

func dialAdmin(cmd *cobra.Command) (*bus.Client, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	var key []byte
	if cfg.EncryptionKeyPath != "" {
		key, err = os.ReadFile(cfg.EncryptionKeyPath)
		if err != nil {
			return nil, nil, orcherr.New(orcherr.Validation, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := bus.Dial(ctx, "tcp", cfg.BusAddr, "orkestra-cli", key)
	if err != nil {
		return nil, nil, orcherr.New(orcherr.Fatal, fmt.Errorf("connect to orchestrator at %s: %w", cfg.BusAddr, err))
	}
	return client, func() { _ = client.Close() }, nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	client, closeFn, err := dialAdmin(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	taskID, _ := cmd.Flags().GetString("task-id")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := client.Call(ctx, "cancel_task", map[string]string{"taskId": taskID})
	if err != nil {
		return orcherr.New(orcherr.Fatal, err)
	}
	fmt.Println(string(result))
	return nil
}
