package main

import (
	"context"
	"fmt"
	"time"

	"github.com/orkestra-dev/orkestra/pkg/orcherr"
	"github.com/spf13/cobra"
)

var assignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Force-assign a task to a specific idle worker",
	RunE:  runAssign,
}

func init() {
	assignCmd.Flags().String("task", "", "id of the task to assign (required)")
	assignCmd.Flags().String("worker", "", "id of the idle worker to assign it to (required)")
	_ = assignCmd.MarkFlagRequired("task")
	_ = assignCmd.MarkFlagRequired("worker")
}

func runAssign(cmd *cobra.Command, args []string) error {
	client, closeFn, err := dialAdmin(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	taskID, _ := cmd.Flags().GetString("task")
	workerID, _ := cmd.Flags().GetString("worker")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := client.Call(ctx, "assign_task", map[string]string{"taskId": taskID, "workerId": workerID})
	if err != nil {
		return orcherr.New(orcherr.Fatal, err)
	}
	fmt.Println(string(result))
	return nil
}
