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

package httpapi

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/edgeo-scada/meter-simulator/modbus"
)

const metricNamespace = "metersim"

var (
	requestsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricNamespace, "modbus", "requests_total"),
		"Modbus frames received.", nil, nil)
	responsesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricNamespace, "modbus", "responses_total"),
		"Modbus responses written.", nil, nil)
	droppedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricNamespace, "modbus", "dropped_frames_total"),
		"Modbus frames discarded without a reply.", nil, nil)
	exceptionsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricNamespace, "modbus", "exceptions_total"),
		"Modbus exception responses.", nil, nil)
	connectionsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricNamespace, "modbus", "connections_total"),
		"Modbus connections accepted.", nil, nil)
	activeConnsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricNamespace, "modbus", "active_connections"),
		"Open Modbus connections.", nil, nil)
	functionDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricNamespace, "modbus", "function_requests_total"),
		"Modbus requests by function code.", []string{"function"}, nil)
	latencyDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricNamespace, "modbus", "request_duration_seconds"),
		"Modbus request processing time.", nil, nil)
	listeningDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricNamespace, "modbus", "listening"),
		"1 when the Modbus listener is bound.", nil, nil)
	cyclesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricNamespace, "generator", "cycles_total"),
		"Completed generation cycles.", nil, nil)
	controlDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricNamespace, "", "control_value"),
		"Current control register values.", []string{"control"}, nil)
	registerDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricNamespace, "", "register_value"),
		"Current decoded descriptor values.", []string{"address", "description", "unit"}, nil)
)

// collector reads the simulator state on every scrape.
type collector struct {
	ctrl Controller
}

func newCollector(ctrl Controller) *collector {
	return &collector{ctrl: ctrl}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		requestsDesc, responsesDesc, droppedDesc, exceptionsDesc,
		connectionsDesc, activeConnsDesc, functionDesc, latencyDesc,
		listeningDesc, cyclesDesc, controlDesc, registerDesc,
	} {
		ch <- d
	}
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	m := c.ctrl.Metrics()
	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	counter(requestsDesc, m.RequestsTotal.Value())
	counter(responsesDesc, m.Responses.Value())
	counter(droppedDesc, m.Dropped.Value())
	counter(exceptionsDesc, m.Exceptions.Value())
	counter(connectionsDesc, m.TotalConns.Value())
	gauge(activeConnsDesc, float64(m.ActiveConns.Value()))
	m.RangeFunctions(func(fc modbus.FunctionCode, fm *modbus.FunctionMetrics) {
		counter(functionDesc, fm.Requests.Value(), fc.String())
	})
	ch <- latencyHistogram(m.Latency.Stats())

	listening := 1.0
	if c.ctrl.ListenError() != nil {
		listening = 0
	}
	gauge(listeningDesc, listening)
	counter(cyclesDesc, c.ctrl.Generator().Cycles())

	ctl := c.ctrl.Controls()
	gauge(controlDesc, float64(ctl.Pump1), "pump1")
	gauge(controlDesc, float64(ctl.Pump2), "pump2")
	gauge(controlDesc, float64(ctl.WaterLevel), "water_level")

	seen := make(map[uint32]bool)
	for _, r := range c.ctrl.Readings() {
		v, ok := readingValue(r.Value)
		if !ok || seen[r.Address] {
			continue
		}
		seen[r.Address] = true
		gauge(registerDesc, v, strconv.FormatUint(uint64(r.Address), 10), r.Description, r.Unit)
	}
}

// latencyHistogram converts the engine histogram, kept in milliseconds with
// an open-ended last bucket, into cumulative buckets in seconds.
func latencyHistogram(s modbus.LatencyStats) prometheus.Metric {
	buckets := make(map[float64]uint64, len(modbus.LatencyBounds)-1)
	var cumulative uint64
	for i, bound := range modbus.LatencyBounds[:len(modbus.LatencyBounds)-1] {
		if i < len(s.Counts) {
			cumulative += uint64(s.Counts[i])
		}
		buckets[bound/1000] = cumulative
	}
	return prometheus.MustNewConstHistogram(latencyDesc, uint64(s.Count), s.Sum/1000, buckets)
}

func readingValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	}
	return 0, false
}
