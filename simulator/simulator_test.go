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

package simulator

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"testing"
	"time"

	gomodbus "github.com/goburrow/modbus"

	"github.com/edgeo-scada/meter-simulator/register"
)

var testClock = time.Unix(1700000000, 0)

func testTable() []register.Descriptor {
	return []register.Descriptor{
		{Address: 3000, DataType: register.TypeFloat32, Generation: register.GenerationRule{Type: register.RuleFixed, Params: []float64{230.5}}, Unit: "V", Description: "Voltage A-N"},
		{Address: 3002, DataType: register.TypeInt16U, Generation: register.GenerationRule{Type: register.RuleRandInt, Params: []float64{5, 10}}, Description: "Quadrant"},
		{Address: 3003, DataType: register.TypeInt64, Generation: register.GenerationRule{Type: register.RuleFixed, Params: []float64{123456789}}, Unit: "Wh", Description: "Energy"},
		{Address: 3007, DataType: register.TypeDateTime, Generation: register.GenerationRule{Type: register.RuleTimestamp}, Description: "Meter time"},
		{Address: 3009, DataType: register.TypeFloat32, Generation: register.GenerationRule{Type: register.RuleUniform, Params: []float64{10, 20}}, Unit: "A", Description: "Current A"},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ListenAddress = "127.0.0.1"
	cfg.ListenPort = 0
	cfg.Interval = time.Hour
	return cfg
}

func newTestSimulator(t *testing.T, cfg Config) *Simulator {
	t.Helper()
	sim, err := New(testTable(), cfg,
		WithLogger(quietLogger()),
		WithRand(rand.New(rand.NewPCG(1, 2))),
		WithClock(func() time.Time { return testClock }))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { sim.Close() })
	return sim
}

func startTestSimulator(t *testing.T, cfg Config) *Simulator {
	t.Helper()
	sim := newTestSimulator(t, cfg)
	if err := sim.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := sim.ListenError(); err != nil {
		t.Fatalf("listener failed: %v", err)
	}
	return sim
}

func dialGoburrow(t *testing.T, sim *Simulator, unitID byte) gomodbus.Client {
	t.Helper()
	addr := sim.Addr()
	if addr == nil {
		t.Fatal("simulator is not listening")
	}
	h := gomodbus.NewTCPClientHandler(addr.String())
	h.SlaveId = unitID
	h.Timeout = 2 * time.Second
	if err := h.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return gomodbus.NewClient(h)
}

func wordsOf(b []byte) []uint16 {
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(b[i*2:])
	}
	return out
}

func TestNew_EmptyTable(t *testing.T) {
	_, err := New(nil, DefaultConfig(), WithLogger(quietLogger()))
	if !errors.Is(err, register.ErrEmptyTable) {
		t.Errorf("expected ErrEmptyTable, got %v", err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DeviceID = 300
	_, err := New(testTable(), cfg, WithLogger(quietLogger()))
	if !errors.Is(err, ErrInvalidValue) {
		t.Errorf("expected ErrInvalidValue, got %v", err)
	}
}

func TestNew_InitialControls(t *testing.T) {
	sim := newTestSimulator(t, testConfig())

	c := sim.Controls()
	if c.Pump1 != 0 || c.Pump2 != 0 {
		t.Errorf("expected pumps off, got %+v", c)
	}
	if c.WaterLevel != InitialWaterLevel {
		t.Errorf("expected water level %d, got %d", InitialWaterLevel, c.WaterLevel)
	}
	if got := len(sim.Registers()); got != sim.Layout().Total() {
		t.Errorf("expected %d registers, got %d", sim.Layout().Total(), got)
	}
}

func TestSimulator_ReadFloatOverModbus(t *testing.T) {
	sim := startTestSimulator(t, testConfig())
	client := dialGoburrow(t, sim, 1)

	b, err := client.ReadHoldingRegisters(2999, 2)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters failed: %v", err)
	}
	want := register.FloatToWords(230.5)
	got := wordsOf(b)
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSimulator_ReadUnmappedIsZero(t *testing.T) {
	sim := startTestSimulator(t, testConfig())
	client := dialGoburrow(t, sim, 1)

	b, err := client.ReadHoldingRegisters(9000, 3)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters failed: %v", err)
	}
	for i, w := range wordsOf(b) {
		if w != 0 {
			t.Errorf("word %d: expected 0, got %d", i, w)
		}
	}
}

func TestSimulator_WriteThenRead(t *testing.T) {
	sim := startTestSimulator(t, testConfig())
	client := dialGoburrow(t, sim, 1)

	if _, err := client.WriteSingleRegister(3999, 1); err != nil {
		t.Fatalf("WriteSingleRegister failed: %v", err)
	}
	b, err := client.ReadHoldingRegisters(3999, 3)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters failed: %v", err)
	}
	got := wordsOf(b)
	if got[0] != 1 || got[1] != 0 || got[2] != InitialWaterLevel {
		t.Errorf("expected [1 0 %d], got %v", InitialWaterLevel, got)
	}
	if c := sim.Controls(); c.Pump1 != 1 {
		t.Errorf("expected pump1 on, got %d", c.Pump1)
	}
}

func TestSimulator_UnsupportedFunction(t *testing.T) {
	sim := startTestSimulator(t, testConfig())
	client := dialGoburrow(t, sim, 1)

	_, err := client.WriteMultipleRegisters(2999, 1, []byte{0x00, 0x01})
	var mbErr *gomodbus.ModbusError
	if !errors.As(err, &mbErr) {
		t.Fatalf("expected ModbusError, got %v", err)
	}
	if mbErr.FunctionCode != 0x90 {
		t.Errorf("expected function code 0x90, got 0x%02X", mbErr.FunctionCode)
	}
	if mbErr.ExceptionCode != gomodbus.ExceptionCodeIllegalFunction {
		t.Errorf("expected illegal function, got %d", mbErr.ExceptionCode)
	}
}

func TestSimulator_BindFailureIsDegraded(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer busy.Close()

	cfg := testConfig()
	cfg.ListenPort = busy.Addr().(*net.TCPAddr).Port
	sim := newTestSimulator(t, cfg)

	if err := sim.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if sim.ListenError() == nil {
		t.Error("expected a listen error")
	}
	if sim.Addr() != nil {
		t.Errorf("expected no listener, got %v", sim.Addr())
	}
	if !sim.Generator().Running() {
		t.Error("expected generator to keep running")
	}
	if err := sim.SetWaterLevel(80); err != nil {
		t.Errorf("SetWaterLevel failed: %v", err)
	}
}

func TestSimulator_UpdateConfigRestarts(t *testing.T) {
	sim := startTestSimulator(t, testConfig())
	before := sim.Generator().Cycles()

	id := 7
	cfg, err := sim.UpdateConfig(ConfigUpdate{DeviceID: &id})
	if err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}
	if cfg.DeviceID != 7 {
		t.Errorf("expected device id 7, got %d", cfg.DeviceID)
	}
	if got := sim.Generator().Cycles(); got != before+1 {
		t.Errorf("expected one immediate cycle after restart, got %d -> %d", before, got)
	}

	client := dialGoburrow(t, sim, 7)
	if _, err := client.ReadHoldingRegisters(2999, 2); err != nil {
		t.Errorf("read with new unit id failed: %v", err)
	}
}

func TestSimulator_UpdateConfigPartial(t *testing.T) {
	sim := startTestSimulator(t, testConfig())

	bad := 300
	interval := 5 * time.Second
	cfg, err := sim.UpdateConfig(ConfigUpdate{DeviceID: &bad, Interval: &interval})

	var fieldErrs FieldErrors
	if !errors.As(err, &fieldErrs) {
		t.Fatalf("expected FieldErrors, got %v", err)
	}
	if len(fieldErrs) != 1 || fieldErrs[0].Field != FieldDeviceID {
		t.Errorf("expected a single deviceId error, got %v", fieldErrs)
	}
	if cfg.Interval != interval {
		t.Errorf("expected interval %v, got %v", interval, cfg.Interval)
	}
	if cfg.DeviceID != DefaultDeviceID {
		t.Errorf("expected device id unchanged, got %d", cfg.DeviceID)
	}
}

func TestSimulator_UpdateConfigRejectedKeepsRunning(t *testing.T) {
	sim := startTestSimulator(t, testConfig())
	addr := sim.Addr().String()
	before := sim.Generator().Cycles()

	bad := -1
	if _, err := sim.UpdateConfig(ConfigUpdate{ListenPort: &bad}); err == nil {
		t.Fatal("expected an error")
	}
	if got := sim.Addr().String(); got != addr {
		t.Errorf("expected listener %s untouched, got %s", addr, got)
	}
	if got := sim.Generator().Cycles(); got != before {
		t.Errorf("expected no restart, cycles %d -> %d", before, got)
	}
}

func TestSimulator_MetricsSurviveRestart(t *testing.T) {
	sim := startTestSimulator(t, testConfig())
	client := dialGoburrow(t, sim, 1)
	if _, err := client.ReadHoldingRegisters(2999, 2); err != nil {
		t.Fatalf("ReadHoldingRegisters failed: %v", err)
	}

	interval := 2 * time.Second
	if _, err := sim.UpdateConfig(ConfigUpdate{Interval: &interval}); err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}
	if got := sim.Metrics().RequestsTotal.Value(); got < 1 {
		t.Errorf("expected request count to survive restart, got %d", got)
	}
}

func TestSimulator_CloseIsIdempotent(t *testing.T) {
	sim := startTestSimulator(t, testConfig())

	if err := sim.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := sim.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if sim.Generator().Running() {
		t.Error("expected generator stopped")
	}
	if err := sim.Start(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
