package main

import (
	"os"

	"github.com/orkestra-dev/orkestra/pkg/orcherr"
	"github.com/orkestra-dev/orkestra/pkg/report"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render a run summary from the persisted state",
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().String("format", "md", "output format: md or json")
}

func runReport(cmd *cobra.Command, args []string) error {
	store, _, err := loadSnapshot(cmd)
	if err != nil {
		return err
	}
	state, err := store.Load()
	if err != nil {
		return orcherr.New(orcherr.Fatal, err)
	}

	format, _ := cmd.Flags().GetString("format")
	sink, err := report.SinkFor(format)
	if err != nil {
		return orcherr.New(orcherr.Validation, err)
	}

	summary := report.Summary{
		Phase:     state.Phase,
		StartedAt: state.StartedAt,
		EndedAt:   state.UpdatedAt,
		Stats:     state.Stats,
		Tasks:     state.Tasks,
		Workers:   state.Workers,
		Conflicts: state.Conflicts,
	}
	if err := sink.Write(os.Stdout, summary); err != nil {
		return orcherr.New(orcherr.Fatal, err)
	}
	return nil
}
