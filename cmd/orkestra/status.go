package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/orkestra-dev/orkestra/pkg/config"
	"github.com/orkestra-dev/orkestra/pkg/orcherr"
	"github.com/orkestra-dev/orkestra/pkg/snapshot"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current run's phase, task, and worker status",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().String("format", "table", "output format: table or json")
}

func loadSnapshot(cmd *cobra.Command) (*snapshot.Store, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	store := snapshot.New(cfg.StatePath)
	if !store.Exists() {
		return nil, nil, orcherr.New(orcherr.Validation, fmt.Errorf("no run state found at %s", cfg.StatePath))
	}
	return store, cfg, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	store, _, err := loadSnapshot(cmd)
	if err != nil {
		return err
	}
	state, err := store.Load()
	if err != nil {
		return orcherr.New(orcherr.Fatal, err)
	}

	format, _ := cmd.Flags().GetString("format")
	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	}

	fmt.Printf("Phase: %s\n\n", state.Phase)
	fmt.Printf("Tasks: %d pending, %d ready, %d running, %d completed, %d failed, %d cancelled\n\n",
		state.Stats.Pending, state.Stats.Ready, state.Stats.Running, state.Stats.Completed, state.Stats.Failed, state.Stats.Cancelled)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WORKER\tSTATUS\tTASK\tCOMPLETED\tFAILED")
	for _, worker := range state.Workers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", worker.ID, worker.Status, worker.CurrentTaskID, worker.Completed, worker.Failed)
	}
	return w.Flush()
}
