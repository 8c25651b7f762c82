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
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgeo-scada/meter-simulator/register"
)

// Generator periodically writes synthetic values for every descriptor into
// the store. Control registers are never written.
type Generator struct {
	table  []register.Descriptor
	layout *register.Layout
	store  *register.Store
	logger *slog.Logger
	now    func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}

	cycles atomic.Int64
}

func newGenerator(table []register.Descriptor, layout *register.Layout, store *register.Store,
	rng *rand.Rand, now func() time.Time, logger *slog.Logger) *Generator {
	return &Generator{
		table:  table,
		layout: layout,
		store:  store,
		logger: logger,
		now:    now,
		rng:    rng,
	}
}

// Start runs one generation cycle immediately and then one every interval.
// A running schedule is cancelled first, so at most one is ever active.
func (g *Generator) Start(interval time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stopLocked()
	if interval <= 0 {
		interval = DefaultInterval
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	g.stop = stop
	g.done = done

	g.Generate()
	g.logger.Info("data generation scheduled", slog.Duration("interval", interval))

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				g.Generate()
			}
		}
	}()
}

// Stop cancels the schedule and waits for a cycle in progress to finish.
func (g *Generator) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopLocked()
}

func (g *Generator) stopLocked() {
	if g.stop == nil {
		return
	}
	close(g.stop)
	<-g.done
	g.stop = nil
	g.done = nil
	g.logger.Debug("data generation stopped")
}

// Running reports whether a schedule is active.
func (g *Generator) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stop != nil
}

// Cycles returns the number of completed generation cycles.
func (g *Generator) Cycles() int64 {
	return g.cycles.Load()
}

// Generate computes and stores one value per descriptor.
func (g *Generator) Generate() {
	now := g.now()

	for _, d := range g.table {
		idx, ok := g.layout.Index(d.Address)
		if !ok || isControl(d.Address) {
			continue
		}
		v := g.value(d.Generation, now)
		g.store.WriteRun(idx, register.Encode(d.DataType, v, now))
	}

	n := g.cycles.Add(1)
	pump1, pump2, level := g.controls()
	g.logger.Debug("data generated",
		slog.Int64("cycle", n),
		slog.Int("registers", len(g.table)),
		slog.Bool("pump1", pump1 != 0),
		slog.Bool("pump2", pump2 != 0),
		slog.Int("water_level", int(level)))
}

func (g *Generator) controls() (pump1, pump2, level uint16) {
	idx := make([]int, len(register.ControlAddresses))
	for i, addr := range register.ControlAddresses {
		idx[i], _ = g.layout.Index(addr)
	}
	words := g.store.Gather(idx)
	return words[0], words[1], words[2]
}

// isControl reports whether addr is one of the control registers. A descriptor
// declared at a control address resolves to the control slot and is skipped.
func isControl(addr uint32) bool {
	for _, c := range register.ControlAddresses {
		if addr == c {
			return true
		}
	}
	return false
}

// value evaluates rule. Unknown rules and rules missing their parameters fall
// back to a uniform value in [0, 100).
func (g *Generator) value(rule register.GenerationRule, now time.Time) float64 {
	g.rngMu.Lock()
	defer g.rngMu.Unlock()

	p := rule.Params
	switch register.RuleKind(strings.ToLower(string(rule.Type))) {
	case register.RuleUniform:
		if len(p) >= 2 {
			return p[0] + g.rng.Float64()*(p[1]-p[0])
		}
	case register.RuleRandInt:
		if len(p) >= 2 {
			return g.randInt(p[0], p[1])
		}
	case register.RuleFixed:
		if len(p) >= 1 {
			return p[0]
		}
	case register.RuleTimestamp:
		return float64(now.Unix())
	}
	return g.rng.Float64() * 100
}

// randInt returns an integer in [min, max], both bounds inclusive after
// rounding inward.
func (g *Generator) randInt(lo, hi float64) float64 {
	a, b := int64(math.Ceil(lo)), int64(math.Floor(hi))
	if b < a {
		a, b = b, a
	}
	return float64(a + g.rng.Int64N(b-a+1))
}
