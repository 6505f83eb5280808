package sambung

import (
	"sort"
	"sync"
	"time"

	"github.com/ambiyansyah-risyal/sambung/internal/rolling"
)

const (
	// defaultMetricsCapacity bounds the per-key call history.
	defaultMetricsCapacity = 1000

	// unhealthyThreshold is the consecutive-failure count that marks an
	// instance unhealthy.
	unhealthyThreshold = 3
)

// CallStats is the rolling aggregate for one (service, instance) pair,
// derived from the bounded call history on every record.
type CallStats struct {
	Service    string
	Instance   string
	Total      int64
	Success    int64
	Failure    int64
	ErrorRate  float64
	MinLatency time.Duration
	AvgLatency time.Duration
	MaxLatency time.Duration
}

// InstanceHealth tracks the consecutive-failure health flag for one
// (service, instance) pair. An instance turns unhealthy after
// unhealthyThreshold consecutive failures and recovers on the next success.
type InstanceHealth struct {
	Service             string
	Instance            string
	Healthy             bool
	ConsecutiveFailures int
}

type lifetimeCounts struct {
	total   int64
	success int64
	failure int64
}

// CallMetrics records call outcomes per (service, instance): a bounded ring
// of recent calls feeding the rolling aggregates, monotonic lifetime counters
// feeding delta-based reporting, and the consecutive-failure health flag.
// Safe for concurrent use.
type CallMetrics struct {
	mu       sync.RWMutex
	capacity int
	rings    map[string]*rolling.Ring
	stats    map[string]*CallStats
	lifetime map[string]*lifetimeCounts
	health   map[string]*InstanceHealth
}

// NewCallMetrics creates a collector with the default per-key history of 1000
// calls.
func NewCallMetrics() *CallMetrics {
	return NewCallMetricsWithCapacity(defaultMetricsCapacity)
}

// NewCallMetricsWithCapacity creates a collector with a custom per-key
// history bound.
func NewCallMetricsWithCapacity(capacity int) *CallMetrics {
	if capacity <= 0 {
		capacity = defaultMetricsCapacity
	}
	return &CallMetrics{
		capacity: capacity,
		rings:    make(map[string]*rolling.Ring),
		stats:    make(map[string]*CallStats),
		lifetime: make(map[string]*lifetimeCounts),
		health:   make(map[string]*InstanceHealth),
	}
}

// RecordCall appends one call outcome and recomputes the aggregate and health
// for its (service, instance) key.
func (m *CallMetrics) RecordCall(service, instance string, success bool, latency time.Duration) {
	key := metricsKey(service, instance)

	m.mu.Lock()
	defer m.mu.Unlock()

	ring, ok := m.rings[key]
	if !ok {
		ring = rolling.NewRing(m.capacity)
		m.rings[key] = ring
	}
	ring.Push(rolling.Record{At: time.Now(), Success: success, Latency: latency})

	lt, ok := m.lifetime[key]
	if !ok {
		lt = &lifetimeCounts{}
		m.lifetime[key] = lt
	}
	lt.total++
	if success {
		lt.success++
	} else {
		lt.failure++
	}

	m.stats[key] = aggregate(service, instance, ring)

	h, ok := m.health[key]
	if !ok {
		h = &InstanceHealth{Service: service, Instance: instance, Healthy: true}
		m.health[key] = h
	}
	if success {
		h.ConsecutiveFailures = 0
		h.Healthy = true
	} else {
		h.ConsecutiveFailures++
		if h.ConsecutiveFailures >= unhealthyThreshold {
			h.Healthy = false
		}
	}
}

// Snapshot returns the current aggregate for one (service, instance) pair.
func (m *CallMetrics) Snapshot(service, instance string) (CallStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.stats[metricsKey(service, instance)]
	if !ok {
		return CallStats{}, false
	}
	return *st, true
}

// ServiceStats returns the aggregates of every recorded instance of service,
// ordered by instance address.
func (m *CallMetrics) ServiceStats(service string) []CallStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []CallStats
	for _, st := range m.stats {
		if st.Service == service {
			out = append(out, *st)
		}
	}
	sortStats(out)
	return out
}

// AllStats returns every recorded aggregate, ordered by service then
// instance.
func (m *CallMetrics) AllStats() []CallStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]CallStats, 0, len(m.stats))
	for _, st := range m.stats {
		out = append(out, *st)
	}
	sortStats(out)
	return out
}

// Counters returns the monotonic lifetime counts for one (service, instance)
// pair. Unlike Snapshot these never shrink when old records fall out of the
// bounded history, so they are safe to report as counters.
func (m *CallMetrics) Counters(service, instance string) (total, success, failure int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lt, ok := m.lifetime[metricsKey(service, instance)]
	if !ok {
		return 0, 0, 0
	}
	return lt.total, lt.success, lt.failure
}

// Health returns the health flag for one (service, instance) pair.
func (m *CallMetrics) Health(service, instance string) (InstanceHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.health[metricsKey(service, instance)]
	if !ok {
		return InstanceHealth{}, false
	}
	return *h, true
}

// AllHealth returns every tracked health flag, ordered by service then
// instance.
func (m *CallMetrics) AllHealth() []InstanceHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]InstanceHealth, 0, len(m.health))
	for _, h := range m.health {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		return out[i].Instance < out[j].Instance
	})
	return out
}

// Reset discards all recorded history, aggregates and health state.
func (m *CallMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rings = make(map[string]*rolling.Ring)
	m.stats = make(map[string]*CallStats)
	m.lifetime = make(map[string]*lifetimeCounts)
	m.health = make(map[string]*InstanceHealth)
}

func aggregate(service, instance string, ring *rolling.Ring) *CallStats {
	st := &CallStats{Service: service, Instance: instance}

	var latencySum time.Duration
	ring.Do(func(rec rolling.Record) {
		st.Total++
		if rec.Success {
			st.Success++
		} else {
			st.Failure++
		}
		latencySum += rec.Latency
		if st.MinLatency == 0 || rec.Latency < st.MinLatency {
			st.MinLatency = rec.Latency
		}
		if rec.Latency > st.MaxLatency {
			st.MaxLatency = rec.Latency
		}
	})

	if st.Total > 0 {
		st.ErrorRate = float64(st.Failure) / float64(st.Total)
		st.AvgLatency = latencySum / time.Duration(st.Total)
	}
	return st
}

func sortStats(stats []CallStats) {
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Service != stats[j].Service {
			return stats[i].Service < stats[j].Service
		}
		return stats[i].Instance < stats[j].Instance
	})
}

func metricsKey(service, instance string) string {
	return service + "|" + instance
}
