// Package bench runs fixed-duration read benchmarks over a collected key
// set and tracks per-operation latency distributions.
package bench

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Operation kinds tracked separately.
const (
	OpBatchGet = iota
	OpQuery
	OpGet
	opCount
)

var opNames = []string{"BatchGetItem", "Query", "GetItem"}

// OpName returns the wire name of an operation index.
func OpName(op int) string {
	if op < 0 || op >= opCount {
		return fmt.Sprintf("op%d", op)
	}
	return opNames[op]
}

// Stats summarizes one operation's recorded latencies in milliseconds.
type Stats struct {
	Count  int64
	Errors int64
	AvgMs  float64
	P50Ms  float64
	P95Ms  float64
	P99Ms  float64
	MinMs  float64
	MaxMs  float64
}

// LatencyTracker accumulates latencies for a single operation type.
type LatencyTracker struct {
	mu        sync.Mutex
	latencies []int64 // microseconds
	count     int64
	errors    int64
}

func (lt *LatencyTracker) Record(latencyUs int64) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.latencies = append(lt.latencies, latencyUs)
	lt.count++
}

func (lt *LatencyTracker) RecordError() {
	atomic.AddInt64(&lt.errors, 1)
}

// Stats sorts a copy of the recorded latencies and derives the percentiles.
func (lt *LatencyTracker) Stats() Stats {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	st := Stats{Count: lt.count, Errors: atomic.LoadInt64(&lt.errors)}
	if len(lt.latencies) == 0 {
		return st
	}

	sorted := make([]int64, len(lt.latencies))
	copy(sorted, lt.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	st.P50Ms = float64(sorted[n*50/100]) / 1000.0
	st.P95Ms = float64(sorted[n*95/100]) / 1000.0
	st.P99Ms = float64(sorted[n*99/100]) / 1000.0
	st.MinMs = float64(sorted[0]) / 1000.0
	st.MaxMs = float64(sorted[n-1]) / 1000.0

	var sum int64
	for _, v := range sorted {
		sum += v
	}
	st.AvgMs = float64(sum) / float64(n) / 1000.0
	return st
}

// Reset drops everything recorded so far. Used at the end of the warmup
// window.
func (lt *LatencyTracker) Reset() {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.latencies = lt.latencies[:0]
	lt.count = 0
	atomic.StoreInt64(&lt.errors, 0)
}

func (lt *LatencyTracker) snapshotCount() int64 {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.count
}

// Metrics holds one tracker per operation type.
type Metrics struct {
	trackers [opCount]*LatencyTracker
}

func NewMetrics() *Metrics {
	m := &Metrics{}
	for i := 0; i < opCount; i++ {
		m.trackers[i] = &LatencyTracker{latencies: make([]int64, 0, 10000)}
	}
	return m
}

func (m *Metrics) Record(op int, latencyUs int64) {
	m.trackers[op].Record(latencyUs)
}

func (m *Metrics) RecordError(op int) {
	m.trackers[op].RecordError()
}

func (m *Metrics) Reset() {
	for i := 0; i < opCount; i++ {
		m.trackers[i].Reset()
	}
}

// Tracker exposes one operation's tracker for summaries.
func (m *Metrics) Tracker(op int) *LatencyTracker {
	return m.trackers[op]
}

func (m *Metrics) TotalOps() int64 {
	var total int64
	for i := 0; i < opCount; i++ {
		total += m.trackers[i].snapshotCount()
	}
	return total
}

func (m *Metrics) TotalErrors() int64 {
	var total int64
	for i := 0; i < opCount; i++ {
		total += atomic.LoadInt64(&m.trackers[i].errors)
	}
	return total
}
