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
	"math/rand/v2"
	"testing"
	"time"

	"github.com/edgeo-scada/meter-simulator/register"
)

func newTestGenerator(table []register.Descriptor) (*Generator, *register.Layout, *register.Store) {
	layout := register.Build(table)
	store := register.NewStore(layout.Total())
	g := newGenerator(table, layout, store, rand.New(rand.NewPCG(3, 4)),
		func() time.Time { return testClock }, quietLogger())
	return g, layout, store
}

func readDescriptor(layout *register.Layout, store *register.Store, d register.Descriptor) float64 {
	idx, _ := layout.Index(d.Address)
	return register.Decode(d.DataType, store.ReadRun(idx, d.Width()))
}

func TestGenerator_Generate(t *testing.T) {
	table := testTable()
	g, layout, store := newTestGenerator(table)

	g.Generate()

	if got := readDescriptor(layout, store, table[0]); got != 230.5 {
		t.Errorf("fixed float: expected 230.5, got %v", got)
	}
	if got := readDescriptor(layout, store, table[2]); got != 123456789 {
		t.Errorf("fixed int64: expected 123456789, got %v", got)
	}
	if got := readDescriptor(layout, store, table[3]); got != float64(testClock.Unix()) {
		t.Errorf("timestamp: expected %d, got %v", testClock.Unix(), got)
	}
	if got := readDescriptor(layout, store, table[4]); got < 10 || got >= 20 {
		t.Errorf("uniform: expected value in [10, 20), got %v", got)
	}
	if g.Cycles() != 1 {
		t.Errorf("expected 1 cycle, got %d", g.Cycles())
	}
}

func TestGenerator_RandIntBounds(t *testing.T) {
	table := []register.Descriptor{
		{Address: 100, DataType: register.TypeInt16U, Generation: register.GenerationRule{Type: register.RuleRandInt, Params: []float64{5, 10}}},
	}
	g, layout, store := newTestGenerator(table)

	seen := make(map[float64]bool)
	for i := 0; i < 500; i++ {
		g.Generate()
		v := readDescriptor(layout, store, table[0])
		if v < 5 || v > 10 {
			t.Fatalf("expected value in [5, 10], got %v", v)
		}
		seen[v] = true
	}
	if !seen[5] || !seen[10] {
		t.Errorf("expected both bounds to be generated, saw %v", seen)
	}
}

func TestGenerator_RuleFallbacks(t *testing.T) {
	g, _, _ := newTestGenerator(testTable())

	tests := []struct {
		name string
		rule register.GenerationRule
	}{
		{"unknown", register.GenerationRule{Type: "gaussian", Params: []float64{1, 2}}},
		{"uniform missing params", register.GenerationRule{Type: register.RuleUniform, Params: []float64{1}}},
		{"fixed missing params", register.GenerationRule{Type: register.RuleFixed}},
		{"empty", register.GenerationRule{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				if v := g.value(tt.rule, testClock); v < 0 || v >= 100 {
					t.Fatalf("expected value in [0, 100), got %v", v)
				}
			}
		})
	}
}

func TestGenerator_RuleTypeIsCaseInsensitive(t *testing.T) {
	g, _, _ := newTestGenerator(testTable())

	if v := g.value(register.GenerationRule{Type: "FIXED", Params: []float64{42}}, testClock); v != 42 {
		t.Errorf("expected 42, got %v", v)
	}
}

func TestGenerator_ControlsUntouched(t *testing.T) {
	table := append(testTable(), register.Descriptor{
		Address:    register.AddrPump1,
		DataType:   register.TypeInt16,
		Generation: register.GenerationRule{Type: register.RuleFixed, Params: []float64{9}},
	})
	g, layout, store := newTestGenerator(table)

	level, _ := layout.Index(register.AddrWaterLevel)
	pump1, _ := layout.Index(register.AddrPump1)
	store.Write(level, 50)

	g.Generate()

	if got := store.Read(level); got != 50 {
		t.Errorf("expected water level 50, got %d", got)
	}
	if got := store.Read(pump1); got != 0 {
		t.Errorf("expected pump1 0, got %d", got)
	}
}

func TestGenerator_StartStop(t *testing.T) {
	g, _, _ := newTestGenerator(testTable())

	g.Start(time.Hour)
	if !g.Running() {
		t.Fatal("expected generator running")
	}
	if g.Cycles() != 1 {
		t.Errorf("expected an immediate cycle, got %d", g.Cycles())
	}

	g.Start(time.Hour)
	if g.Cycles() != 2 {
		t.Errorf("expected restart to run one cycle, got %d", g.Cycles())
	}

	g.Stop()
	if g.Running() {
		t.Error("expected generator stopped")
	}
	g.Stop()
}

func TestGenerator_Ticks(t *testing.T) {
	g, _, _ := newTestGenerator(testTable())

	g.Start(MinInterval)
	defer g.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for g.Cycles() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected at least 3 cycles, got %d", g.Cycles())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestGenerator_StopHaltsCycles(t *testing.T) {
	g, _, _ := newTestGenerator(testTable())

	g.Start(MinInterval)
	g.Stop()
	n := g.Cycles()

	time.Sleep(3 * MinInterval)
	if got := g.Cycles(); got != n {
		t.Errorf("expected no cycles after Stop, got %d -> %d", n, got)
	}
}
