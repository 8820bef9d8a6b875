package logging

import (
	"maps"
	"sync"
)

// Metrics is a set of named counters shared by the router and the server
// components. The zero value is ready to use.
type Metrics struct {
	mu       sync.Mutex
	counters map[string]uint64
}

func (m *Metrics) TelemetryAdd(key string, delta uint64) {
	if m == nil || key == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = make(map[string]uint64)
	}
	m.counters[key] += delta
}

func (m *Metrics) TelemetryStore(key string, value uint64) {
	if m == nil || key == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = make(map[string]uint64)
	}
	m.counters[key] = value
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return map[string]uint64{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make(map[string]uint64, len(m.counters))
	maps.Copy(snapshot, m.counters)
	return snapshot
}
