// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a simple atomic counter.
type Counter struct {
	value int64
}

// Add adds delta to the counter.
func (c *Counter) Add(delta int64) {
	atomic.AddInt64(&c.value, delta)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.value)
}

// Reset resets the counter to zero.
func (c *Counter) Reset() {
	atomic.StoreInt64(&c.value, 0)
}

// LatencyHistogram tracks latency distribution.
type LatencyHistogram struct {
	mu      sync.Mutex
	buckets []int64   // count per bucket
	bounds  []float64 // upper bounds in ms
	sum     float64   // sum of all observations
	count   int64     // total count
	min     float64   // minimum observed value
	max     float64   // maximum observed value
}

// LatencyBounds are the histogram bucket upper bounds in milliseconds.
var LatencyBounds = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000}

var latencyLabels = []string{"1ms", "5ms", "10ms", "25ms", "50ms", "100ms", "250ms", "500ms", "1s", "5s+"}

// NewLatencyHistogram creates a new latency histogram with default buckets.
func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{
		buckets: make([]int64, len(LatencyBounds)),
		bounds:  LatencyBounds,
		min:     -1,
		max:     -1,
	}
}

// Observe records a latency observation.
func (h *LatencyHistogram) Observe(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000.0

	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += ms
	h.count++

	if h.min < 0 || ms < h.min {
		h.min = ms
	}
	if ms > h.max {
		h.max = ms
	}

	for i, bound := range h.bounds {
		if ms <= bound {
			h.buckets[i]++
			return
		}
	}
	// Greater than all bounds
	h.buckets[len(h.buckets)-1]++
}

// Stats returns histogram statistics.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := LatencyStats{
		Count:   h.count,
		Sum:     h.sum,
		Buckets: make(map[string]int64),
		Counts:  make([]int64, len(h.buckets)),
	}

	if h.count > 0 {
		stats.Avg = h.sum / float64(h.count)
		stats.Min = h.min
		stats.Max = h.max
	}

	copy(stats.Counts, h.buckets)
	for i, count := range h.buckets {
		if i < len(latencyLabels) {
			stats.Buckets[latencyLabels[i]] = count
		}
	}

	return stats
}

// Reset resets the histogram.
func (h *LatencyHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.buckets {
		h.buckets[i] = 0
	}
	h.sum = 0
	h.count = 0
	h.min = -1
	h.max = -1
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count   int64
	Sum     float64
	Avg     float64
	Min     float64
	Max     float64
	Buckets map[string]int64

	// Counts holds per-bucket counts in LatencyBounds order.
	Counts []int64
}

// ServerMetrics holds server-side metrics.
type ServerMetrics struct {
	RequestsTotal Counter
	Responses     Counter
	Dropped       Counter
	Exceptions    Counter
	WriteErrors   Counter
	ActiveConns   Counter
	TotalConns    Counter
	Latency       *LatencyHistogram

	funcMetrics sync.Map // FunctionCode -> *FunctionMetrics
}

// FunctionMetrics holds metrics for a specific function code.
type FunctionMetrics struct {
	Requests   Counter
	Exceptions Counter
}

// NewServerMetrics creates a new ServerMetrics instance.
func NewServerMetrics() *ServerMetrics {
	return &ServerMetrics{
		Latency: NewLatencyHistogram(),
	}
}

// ForFunction returns metrics for a specific function code.
func (m *ServerMetrics) ForFunction(fc FunctionCode) *FunctionMetrics {
	if val, ok := m.funcMetrics.Load(fc); ok {
		return val.(*FunctionMetrics)
	}

	actual, _ := m.funcMetrics.LoadOrStore(fc, &FunctionMetrics{})
	return actual.(*FunctionMetrics)
}

// RangeFunctions calls fn for every function code seen so far.
func (m *ServerMetrics) RangeFunctions(fn func(FunctionCode, *FunctionMetrics)) {
	m.funcMetrics.Range(func(key, value interface{}) bool {
		fn(key.(FunctionCode), value.(*FunctionMetrics))
		return true
	})
}

// Collect returns all metrics as a map.
func (m *ServerMetrics) Collect() map[string]interface{} {
	result := map[string]interface{}{
		"requests_total": m.RequestsTotal.Value(),
		"responses":      m.Responses.Value(),
		"dropped":        m.Dropped.Value(),
		"exceptions":     m.Exceptions.Value(),
		"write_errors":   m.WriteErrors.Value(),
		"active_conns":   m.ActiveConns.Value(),
		"total_conns":    m.TotalConns.Value(),
		"latency":        m.Latency.Stats(),
	}

	funcStats := make(map[string]interface{})
	m.RangeFunctions(func(fc FunctionCode, fm *FunctionMetrics) {
		funcStats[fc.String()] = map[string]interface{}{
			"requests":   fm.Requests.Value(),
			"exceptions": fm.Exceptions.Value(),
		}
	})
	if len(funcStats) > 0 {
		result["functions"] = funcStats
	}

	return result
}

// Metrics holds client metrics.
type Metrics struct {
	RequestsTotal   Counter
	RequestsSuccess Counter
	RequestsErrors  Counter
	ActiveConns     Counter
	Latency         *LatencyHistogram
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		Latency: NewLatencyHistogram(),
	}
}

// Collect returns all metrics as a map.
func (m *Metrics) Collect() map[string]interface{} {
	return map[string]interface{}{
		"requests_total":   m.RequestsTotal.Value(),
		"requests_success": m.RequestsSuccess.Value(),
		"requests_errors":  m.RequestsErrors.Value(),
		"active_conns":     m.ActiveConns.Value(),
		"latency":          m.Latency.Stats(),
	}
}

// Reset resets all metrics.
func (m *Metrics) Reset() {
	m.RequestsTotal.Reset()
	m.RequestsSuccess.Reset()
	m.RequestsErrors.Reset()
	m.Latency.Reset()
}
