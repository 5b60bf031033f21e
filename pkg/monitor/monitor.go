// Package monitor polls host CPU, memory, and disk metrics and keeps
// a bounded per-worker log ring buffer fed by runner log events.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/orkestra-dev/orkestra/pkg/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Report summarizes host resource usage at one point in time.
type Report struct {
	Timestamp   time.Time
	CPUPercent  float64
	MemUsed     uint64
	MemTotal    uint64
	MemPercent  float64
	DiskUsed    uint64
	DiskTotal   uint64
	DiskPercent float64
}

// LogEntry is one line of a worker's output, bounded in a ring buffer.
type LogEntry struct {
	WorkerID  string
	Line      string
	Timestamp time.Time
}

// Monitor polls OS resource usage and fans out change notifications
// to subscribers, and retains a bounded ring buffer of recent log
// lines per worker.
type Monitor struct {
	diskPath     string
	ringSize     int
	pollInterval time.Duration

	mu          sync.RWMutex
	logs        map[string][]LogEntry
	latest      Report
	subscribers []chan Report
}

// New creates a Monitor polling disk usage for diskPath, keeping up
// to ringSize log lines per worker (default 1000 per spec).
func New(diskPath string, ringSize int, pollInterval time.Duration) *Monitor {
	if ringSize <= 0 {
		ringSize = 1000
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Monitor{
		diskPath:     diskPath,
		ringSize:     ringSize,
		pollInterval: pollInterval,
		logs:         make(map[string][]LogEntry),
	}
}

// Start polls resource usage on pollInterval until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	m.poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

func (m *Monitor) poll() {
	report, err := m.getResourceReport()
	if err != nil {
		log.Errorf("monitor: poll failed", err)
		return
	}
	m.mu.Lock()
	m.latest = report
	subs := append([]chan Report{}, m.subscribers...)
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- report:
		default: // slow subscriber, drop rather than block polling
		}
	}
}

// GetResourceReport returns the most recently polled report.
func (m *Monitor) GetResourceReport() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

func (m *Monitor) getResourceReport() (Report, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return Report{}, err
	}
	var cpuPct float64
	if len(percents) > 0 {
		cpuPct = percents[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return Report{}, err
	}

	var diskUsed, diskTotal uint64
	var diskPct float64
	if m.diskPath != "" {
		du, err := disk.Usage(m.diskPath)
		if err == nil {
			diskUsed, diskTotal, diskPct = du.Used, du.Total, du.UsedPercent
		}
	}

	return Report{
		Timestamp:   time.Now(),
		CPUPercent:  cpuPct,
		MemUsed:     vm.Used,
		MemTotal:    vm.Total,
		MemPercent:  vm.UsedPercent,
		DiskUsed:    diskUsed,
		DiskTotal:   diskTotal,
		DiskPercent: diskPct,
	}, nil
}

// Subscribe returns a channel receiving every future resource report.
func (m *Monitor) Subscribe() <-chan Report {
	ch := make(chan Report, 4)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}

// RecordLog appends a log line to workerID's ring buffer, trimming
// the oldest entry once the buffer exceeds ringSize.
func (m *Monitor) RecordLog(workerID, line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := append(m.logs[workerID], LogEntry{WorkerID: workerID, Line: line, Timestamp: time.Now()})
	if len(entries) > m.ringSize {
		entries = entries[len(entries)-m.ringSize:]
	}
	m.logs[workerID] = entries
}

// RecentLogs returns the last n log lines recorded for workerID.
func (m *Monitor) RecentLogs(workerID string, n int) []LogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.logs[workerID]
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	out := make([]LogEntry, len(entries))
	copy(out, entries)
	return out
}
