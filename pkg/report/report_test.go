package report

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/orkestra-dev/orkestra/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSummary() Summary {
	return Summary{
		Phase:     types.PhaseCompleted,
		StartedAt: time.Now().Add(-time.Minute),
		EndedAt:   time.Now(),
		Stats:     types.Stats{Completed: 2, Failed: 1},
		Tasks: []*types.Task{
			{ID: "t1", Title: "ok", Status: types.TaskCompleted},
			{ID: "t2", Title: "broke", Status: types.TaskFailed, Error: "boom"},
		},
		Workers: []*types.Worker{{ID: "w1", Completed: 2, Failed: 1}},
	}
}

func TestMarkdownSinkIncludesFailedTasks(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, MarkdownSink{}.Write(&buf, sampleSummary()))
	out := buf.String()
	assert.Contains(t, out, "t2")
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "completed")
}

func TestMarkdownSinkNoFailedTasks(t *testing.T) {
	s := sampleSummary()
	s.Tasks = []*types.Task{{ID: "t1", Status: types.TaskCompleted}}
	var buf bytes.Buffer
	require.NoError(t, MarkdownSink{}.Write(&buf, s))
	assert.Contains(t, buf.String(), "(none)")
}

func TestJSONSinkRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSONSink{}.Write(&buf, sampleSummary()))
	var decoded Summary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, types.PhaseCompleted, decoded.Phase)
	assert.Len(t, decoded.Tasks, 2)
}

func TestSinkForResolvesFormats(t *testing.T) {
	md, err := SinkFor("md")
	require.NoError(t, err)
	assert.IsType(t, MarkdownSink{}, md)

	js, err := SinkFor("json")
	require.NoError(t, err)
	assert.IsType(t, JSONSink{}, js)

	_, err = SinkFor("yaml")
	assert.Error(t, err)
}
