package service

import (
	"sort"
	"sync"
	"time"

	"github.com/bulk-loader/internal/errors"
	"github.com/bulk-loader/internal/types"
)

// RunMonitor tracks how many runs of each operation were started and how
// they ended
type RunMonitor struct {
	mu         sync.RWMutex
	operations map[types.Operation]int64
	durations  []time.Duration
	timeouts   int64
	failures   int64
	totalRuns  int64
	maxSamples int
}

// NewRunMonitor creates a new run monitor
func NewRunMonitor() *RunMonitor {
	return &RunMonitor{
		operations: make(map[types.Operation]int64),
		durations:  make([]time.Duration, 0, 256),
		maxSamples: 1000, // Keep last 1000 samples
	}
}

// RecordStart counts a run of op
func (m *RunMonitor) RecordStart(op types.Operation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations[op]++
	m.totalRuns++
}

// RecordFinish records how long a run took and whether it failed
func (m *RunMonitor) RecordFinish(duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.durations = append(m.durations, duration)
	if len(m.durations) > m.maxSamples {
		m.durations = m.durations[len(m.durations)-m.maxSamples:]
	}

	switch {
	case err == nil:
	case errors.IsTimeout(err):
		m.timeouts++
	default:
		m.failures++
	}
}

// Operations returns a copy of the per-operation run counts
func (m *RunMonitor) Operations() map[types.Operation]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[types.Operation]int64, len(m.operations))
	for op, n := range m.operations {
		out[op] = n
	}
	return out
}

// GetStats returns current run statistics
func (m *RunMonitor) GetStats() *RunStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &RunStats{
		TotalRuns: m.totalRuns,
		Timeouts:  m.timeouts,
		Failures:  m.failures,
	}

	if len(m.durations) > 0 {
		var total time.Duration
		for _, d := range m.durations {
			total += d
		}
		stats.AvgRunMs = float64(total.Milliseconds()) / float64(len(m.durations))

		sorted := make([]time.Duration, len(m.durations))
		copy(sorted, m.durations)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		p95Index := int(float64(len(sorted)) * 0.95)
		if p95Index >= len(sorted) {
			p95Index = len(sorted) - 1
		}
		stats.P95RunMs = float64(sorted[p95Index].Milliseconds())
	}

	return stats
}

// Reset resets all run metrics
func (m *RunMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.operations = make(map[types.Operation]int64)
	m.durations = make([]time.Duration, 0, 256)
	m.timeouts = 0
	m.failures = 0
	m.totalRuns = 0
}

// RunStats contains run statistics
type RunStats struct {
	TotalRuns int64   `json:"totalRuns"`
	Timeouts  int64   `json:"timeouts"`
	Failures  int64   `json:"failures"`
	AvgRunMs  float64 `json:"avgRunMs"`
	P95RunMs  float64 `json:"p95RunMs"`
}
