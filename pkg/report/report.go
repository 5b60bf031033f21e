// Package report writes the end-of-run summary to pluggable sinks
// (Markdown for humans, JSON for tooling) and defines the Notifier
// interface for external listeners; it ships no Notifier implementation.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/orkestra-dev/orkestra/pkg/types"
)

// Summary is the data a Sink renders.
type Summary struct {
	Phase     types.Phase
	StartedAt time.Time
	EndedAt   time.Time
	Stats     types.Stats
	Tasks     []*types.Task
	Workers   []*types.Worker
	Conflicts []types.Conflict
}

// Duration returns the run's wall-clock duration.
func (s Summary) Duration() time.Duration {
	return s.EndedAt.Sub(s.StartedAt)
}

// Sink renders a Summary to an output stream.
type Sink interface {
	Write(w io.Writer, summary Summary) error
}

// MarkdownSink renders a human-readable Markdown summary.
type MarkdownSink struct{}

// Write implements Sink.
func (MarkdownSink) Write(w io.Writer, s Summary) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run Summary\n\n")
	fmt.Fprintf(&b, "- **Phase:** %s\n", s.Phase)
	fmt.Fprintf(&b, "- **Duration:** %s\n", s.Duration().Round(time.Second))
	fmt.Fprintf(&b, "- **Tasks:** %d completed, %d failed, %d cancelled, %d pending\n",
		s.Stats.Completed, s.Stats.Failed, s.Stats.Cancelled, s.Stats.Pending)
	fmt.Fprintf(&b, "\n## Workers\n\n")
	for _, w := range s.Workers {
		fmt.Fprintf(&b, "- `%s`: %d completed, %d failed\n", w.ID, w.Completed, w.Failed)
	}
	if len(s.Conflicts) > 0 {
		fmt.Fprintf(&b, "\n## Unresolved Conflicts\n\n")
		for _, c := range s.Conflicts {
			fmt.Fprintf(&b, "- `%s` (%s, %s severity) on task `%s`: %s\n", c.File, c.Type, c.Severity, c.TaskID, c.Description)
		}
	}
	fmt.Fprintf(&b, "\n## Failed Tasks\n\n")
	any := false
	for _, t := range s.Tasks {
		if t.Status == types.TaskFailed {
			any = true
			fmt.Fprintf(&b, "- `%s` %s: %s\n", t.ID, t.Title, t.Error)
		}
	}
	if !any {
		fmt.Fprintf(&b, "(none)\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// JSONSink renders a machine-readable JSON summary.
type JSONSink struct{}

// Write implements Sink.
func (JSONSink) Write(w io.Writer, s Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// SinkFor resolves the named format to a concrete Sink.
func SinkFor(format string) (Sink, error) {
	switch format {
	case "md", "markdown", "":
		return MarkdownSink{}, nil
	case "json":
		return JSONSink{}, nil
	default:
		return nil, fmt.Errorf("report: unknown format %q", format)
	}
}

// Notifier is an external notification collaborator (e.g. a webhook
// or chat integration) invoked once a run finishes.
type Notifier interface {
	Notify(summary Summary) error
}
