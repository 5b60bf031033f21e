package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetResourceReportPopulatesFields(t *testing.T) {
	m := New(".", 10, time.Minute)
	report, err := m.getResourceReport()
	require.NoError(t, err)
	assert.False(t, report.Timestamp.IsZero())
	assert.GreaterOrEqual(t, report.MemTotal, uint64(0))
}

func TestStartPublishesToSubscribers(t *testing.T) {
	m := New(".", 10, 10*time.Millisecond)
	ch := m.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	go m.Start(ctx)

	select {
	case report := <-ch:
		assert.False(t, report.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no report published")
	}
}

func TestRecordLogAndRecentLogsRingBuffer(t *testing.T) {
	m := New(".", 3, time.Minute)
	for i := 0; i < 5; i++ {
		m.RecordLog("w1", "line")
	}
	entries := m.RecentLogs("w1", 10)
	assert.Len(t, entries, 3)
}

func TestRecentLogsUnknownWorkerEmpty(t *testing.T) {
	m := New(".", 10, time.Minute)
	assert.Empty(t, m.RecentLogs("ghost", 10))
}
