// File: internal/facade/metrics.go
package facade

import (
	"sync"
	"time"
)

// toolRecord accumulates call statistics for one tool.
type toolRecord struct {
	calls    int64
	failures int64
	total    time.Duration
	min      time.Duration
	max      time.Duration
}

// Metrics tracks per-tool call counts and latencies. Safe for
// concurrent use.
type Metrics struct {
	mu        sync.Mutex
	startedAt time.Time
	tools     map[string]*toolRecord
}

// NewMetrics builds an empty registry with the uptime clock started.
func NewMetrics() *Metrics {
	return &Metrics{
		startedAt: time.Now(),
		tools:     make(map[string]*toolRecord),
	}
}

// Observe records one tool invocation.
func (m *Metrics) Observe(tool string, elapsed time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.tools[tool]
	if rec == nil {
		rec = &toolRecord{min: elapsed, max: elapsed}
		m.tools[tool] = rec
	}
	rec.calls++
	if err != nil {
		rec.failures++
	}
	rec.total += elapsed
	if elapsed < rec.min {
		rec.min = elapsed
	}
	if elapsed > rec.max {
		rec.max = elapsed
	}
}

// ToolStats is the exported snapshot of one tool's counters.
type ToolStats struct {
	Calls     int64   `json:"calls"`
	Failures  int64   `json:"failures"`
	AvgMillis float64 `json:"avg_ms"`
	MinMillis float64 `json:"min_ms"`
	MaxMillis float64 `json:"max_ms"`
}

// Snapshot returns the uptime and a copy of every tool's stats.
func (m *Metrics) Snapshot() (uptime time.Duration, tools map[string]ToolStats) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tools = make(map[string]ToolStats, len(m.tools))
	for name, rec := range m.tools {
		stats := ToolStats{
			Calls:     rec.calls,
			Failures:  rec.failures,
			MinMillis: float64(rec.min.Microseconds()) / 1000,
			MaxMillis: float64(rec.max.Microseconds()) / 1000,
		}
		if rec.calls > 0 {
			avg := rec.total / time.Duration(rec.calls)
			stats.AvgMillis = float64(avg.Microseconds()) / 1000
		}
		tools[name] = stats
	}
	return time.Since(m.startedAt), tools
}
