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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo-scada/meter-simulator/modbus"
)

func TestMetricsEndpoint(t *testing.T) {
	srv, sim := newTestServer(t)
	sim.Metrics().RequestsTotal.Add(3)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	text := rec.Body.String()
	assert.Contains(t, text, "metersim_modbus_requests_total 3")
	assert.Contains(t, text, "metersim_generator_cycles_total 1")
	assert.Contains(t, text, `metersim_control_value{control="water_level"} 50`)
	assert.Contains(t, text, `metersim_register_value{address="3000",description="Current A",unit="A"} 12.5`)
	assert.Contains(t, text, `metersim_register_value{address="3204",description="Active energy delivered",unit="Wh"} 4200`)
	assert.Contains(t, text, "metersim_modbus_listening 1")
}

func TestRegistryGather(t *testing.T) {
	srv, _ := newTestServer(t, WithGoMetrics(true))

	families, err := srv.Registry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["metersim_modbus_request_duration_seconds"])
	assert.True(t, names["go_goroutines"])
}

func TestLatencyHistogram(t *testing.T) {
	h := modbus.NewLatencyHistogram()
	h.Observe(500 * time.Microsecond)
	h.Observe(3 * time.Millisecond)
	h.Observe(10 * time.Second)

	m := &dto.Metric{}
	require.NoError(t, latencyHistogram(h.Stats()).Write(m))

	hist := m.GetHistogram()
	assert.EqualValues(t, 3, hist.GetSampleCount())

	buckets := hist.GetBucket()
	require.Len(t, buckets, len(modbus.LatencyBounds)-1)
	assert.Equal(t, 0.001, buckets[0].GetUpperBound())
	assert.EqualValues(t, 1, buckets[0].GetCumulativeCount())
	assert.EqualValues(t, 2, buckets[1].GetCumulativeCount())
	assert.EqualValues(t, 2, buckets[len(buckets)-1].GetCumulativeCount())
}
