// Package monitor keeps per-service request counters and latency stats,
// exported as a flat string map a metrics scraper or admin endpoint can
// dump as-is. Per-method stats live in a sync.Map keyed on first use: two
// goroutines recording the same never-seen-before method at once must not
// both win a first insertion and silently drop one side's counts.
package monitor

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

type methodStats struct {
	requests int64
	success  int64
	failures int64
	latency  int64
}

// Monitor accumulates request counts and latency for one named service.
type Monitor struct {
	serviceName string

	total        atomic.Int64
	successCount atomic.Int64
	failCount    atomic.Int64
	totalLatency atomic.Int64
	maxLatency   atomic.Int64
	minLatency   atomic.Int64

	methods sync.Map // method string -> *methodStats
	errors  sync.Map // errorType string -> *atomic.Int64
}

const minLatencySentinel = math.MaxInt64

// New creates a Monitor for serviceName.
func New(serviceName string) *Monitor {
	m := &Monitor{serviceName: serviceName}
	m.minLatency.Store(minLatencySentinel)
	return m
}

// Record logs the outcome of one call to method.
func (m *Monitor) Record(method string, success bool, latencyMs int64) {
	m.total.Add(1)
	m.totalLatency.Add(latencyMs)

	for {
		cur := m.maxLatency.Load()
		if latencyMs <= cur || m.maxLatency.CompareAndSwap(cur, latencyMs) {
			break
		}
	}
	if latencyMs > 0 {
		for {
			cur := m.minLatency.Load()
			if latencyMs >= cur || m.minLatency.CompareAndSwap(cur, latencyMs) {
				break
			}
		}
	}

	stats := m.methodStatsFor(method)
	atomic.AddInt64(&stats.requests, 1)
	atomic.AddInt64(&stats.latency, latencyMs)
	if success {
		m.successCount.Add(1)
		atomic.AddInt64(&stats.success, 1)
	} else {
		m.failCount.Add(1)
		atomic.AddInt64(&stats.failures, 1)
	}
}

// RecordError tallies an error of the given type, keyed by method.
func (m *Monitor) RecordError(method, errType string) {
	key := method + ":" + errType
	v, _ := m.errors.LoadOrStore(key, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

func (m *Monitor) methodStatsFor(method string) *methodStats {
	if v, ok := m.methods.Load(method); ok {
		return v.(*methodStats)
	}
	v, _ := m.methods.LoadOrStore(method, &methodStats{})
	return v.(*methodStats)
}

// Snapshot returns every counter as a flat string->string map, with
// averages computed at read time.
func (m *Monitor) Snapshot() map[string]string {
	stats := make(map[string]string)
	stats["service_name"] = m.serviceName

	total := m.total.Load()
	stats["total_requests"] = fmt.Sprintf("%d", total)
	stats["successful_requests"] = fmt.Sprintf("%d", m.successCount.Load())
	stats["failed_requests"] = fmt.Sprintf("%d", m.failCount.Load())

	if total > 0 {
		stats["average_latency_ms"] = fmt.Sprintf("%.3f", float64(m.totalLatency.Load())/float64(total))
	} else {
		stats["average_latency_ms"] = "0"
	}
	stats["max_latency_ms"] = fmt.Sprintf("%d", m.maxLatency.Load())
	minLatency := m.minLatency.Load()
	if minLatency == minLatencySentinel {
		minLatency = 0
	}
	stats["min_latency_ms"] = fmt.Sprintf("%d", minLatency)

	m.methods.Range(func(key, value any) bool {
		method := key.(string)
		ms := value.(*methodStats)
		prefix := "method_" + method + "_"
		requests := atomic.LoadInt64(&ms.requests)
		stats[prefix+"requests"] = fmt.Sprintf("%d", requests)
		stats[prefix+"success"] = fmt.Sprintf("%d", atomic.LoadInt64(&ms.success))
		stats[prefix+"failures"] = fmt.Sprintf("%d", atomic.LoadInt64(&ms.failures))
		if requests > 0 {
			stats[prefix+"avg_latency_ms"] = fmt.Sprintf("%.3f", float64(atomic.LoadInt64(&ms.latency))/float64(requests))
		}
		return true
	})

	m.errors.Range(func(key, value any) bool {
		stats["error_"+key.(string)] = fmt.Sprintf("%d", value.(*atomic.Int64).Load())
		return true
	})

	return stats
}

// Reset zeroes every counter. Calling it repeatedly is idempotent: every
// field is overwritten with a fixed value, never decremented relative to
// its previous value.
func (m *Monitor) Reset() {
	m.total.Store(0)
	m.successCount.Store(0)
	m.failCount.Store(0)
	m.totalLatency.Store(0)
	m.maxLatency.Store(0)
	m.minLatency.Store(minLatencySentinel)

	m.methods.Range(func(key, value any) bool {
		ms := value.(*methodStats)
		atomic.StoreInt64(&ms.requests, 0)
		atomic.StoreInt64(&ms.success, 0)
		atomic.StoreInt64(&ms.failures, 0)
		atomic.StoreInt64(&ms.latency, 0)
		return true
	})
	m.errors.Range(func(key, value any) bool {
		value.(*atomic.Int64).Store(0)
		return true
	})
}
