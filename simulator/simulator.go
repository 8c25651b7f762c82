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

// Package simulator runs a synthetic power meter: a register layout built
// from a descriptor table, a generator filling it with values, and a Modbus
// TCP server exposing it.
package simulator

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/edgeo-scada/meter-simulator/modbus"
	"github.com/edgeo-scada/meter-simulator/register"
)

// Initial control register values.
const (
	InitialPumpState  = 0
	InitialWaterLevel = 50
)

// ErrClosed is returned when operating on a closed simulator.
var ErrClosed = errors.New("simulator: closed")

// Option configures a Simulator.
type Option func(*options)

type options struct {
	logger *slog.Logger
	rng    *rand.Rand
	now    func() time.Time
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRand sets the random source used by the generator.
func WithRand(r *rand.Rand) Option {
	return func(o *options) {
		o.rng = r
	}
}

// WithClock sets the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Simulator owns the layout, the store and the runtime configuration, and
// drives the generator and the Modbus server from them.
type Simulator struct {
	table   []register.Descriptor
	layout  *register.Layout
	store   *register.Store
	gen     *Generator
	handler *registerHandler
	metrics *modbus.ServerMetrics
	logger  *slog.Logger

	mu        sync.Mutex
	cfg       Config
	server    *modbus.Server
	serveDone chan struct{}
	listenErr error
	started   bool
	closed    bool
}

// New builds the layout and store for table. Nothing runs until Start.
func New(table []register.Descriptor, cfg Config, opts ...Option) (*Simulator, error) {
	if len(table) == 0 {
		return nil, register.ErrEmptyTable
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	layout := register.Build(table)
	for _, c := range layout.Collisions() {
		o.logger.Warn("register address collision",
			slog.Uint64("address", uint64(c.Address)),
			slog.Int("previous_index", c.PreviousIndex),
			slog.Int("index", c.Index))
	}

	store := register.NewStore(layout.Total())
	s := &Simulator{
		table:   append([]register.Descriptor(nil), table...),
		layout:  layout,
		store:   store,
		metrics: modbus.NewServerMetrics(),
		logger:  o.logger,
		cfg:     cfg,
	}
	s.handler = &registerHandler{layout: layout, store: store, logger: o.logger}
	s.gen = newGenerator(s.table, layout, store, o.rng, o.now, o.logger)
	s.initControls()

	pump1, _ := layout.Index(register.AddrPump1)
	pump2, _ := layout.Index(register.AddrPump2)
	level, _ := layout.Index(register.AddrWaterLevel)
	o.logger.Info("register layout built",
		slog.Int("descriptors", len(table)),
		slog.Int("registers", layout.Total()),
		slog.Int("pump1_index", pump1),
		slog.Int("pump2_index", pump2),
		slog.Int("water_level_index", level))

	return s, nil
}

func (s *Simulator) initControls() {
	s.writeControl(register.AddrPump1, InitialPumpState)
	s.writeControl(register.AddrPump2, InitialPumpState)
	s.writeControl(register.AddrWaterLevel, InitialWaterLevel)
}

// Start binds the Modbus listener and starts the generator. A bind failure
// is logged and kept in ListenError; the simulator keeps running without
// Modbus service.
func (s *Simulator) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.started = true
	s.restartLocked()
	return nil
}

// Close stops the generator and the Modbus server.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.gen.Stop()
	return s.stopServerLocked()
}

// restartLocked replaces the Modbus server and restarts the generator with
// the current configuration.
func (s *Simulator) restartLocked() {
	if err := s.stopServerLocked(); err != nil {
		s.logger.Warn("closing modbus listener", slog.String("error", err.Error()))
	}

	cfg := s.cfg
	s.listenErr = nil
	listener, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		s.listenErr = err
		attrs := []any{slog.String("addr", cfg.Addr()), slog.String("error", err.Error())}
		switch {
		case errors.Is(err, syscall.EADDRINUSE):
			attrs = append(attrs, slog.String("hint", "port already in use, pick another modbus port"))
		case errors.Is(err, syscall.EACCES):
			attrs = append(attrs, slog.String("hint", "insufficient privileges for this port"))
		}
		s.logger.Error("modbus listener unavailable, continuing without modbus service", attrs...)
	} else {
		server := modbus.NewServer(s.handler,
			modbus.WithServerLogger(s.logger),
			modbus.WithServerUnitID(modbus.UnitID(cfg.DeviceID)),
			modbus.WithServerMetrics(s.metrics))
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := server.Serve(listener); err != nil && !errors.Is(err, modbus.ErrServerClosed) {
				s.logger.Error("modbus server stopped", slog.String("error", err.Error()))
			}
		}()
		s.server = server
		s.serveDone = done
	}

	s.gen.Start(cfg.Interval)
}

func (s *Simulator) stopServerLocked() error {
	if s.server == nil {
		return nil
	}
	err := s.server.Close()
	<-s.serveDone
	s.server = nil
	s.serveDone = nil
	return err
}

// Config returns the current runtime configuration.
func (s *Simulator) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// UpdateConfig applies the valid fields of u. When at least one field was
// applied and the simulator is running, the Modbus listener is recreated and
// the generator restarted before UpdateConfig returns. Rejected fields are
// reported as FieldErrors.
func (s *Simulator) UpdateConfig(u ConfigUpdate) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.cfg, ErrClosed
	}

	next, errs := u.apply(s.cfg)
	s.cfg = next

	if len(errs) < u.fields() {
		s.logger.Info("configuration updated",
			slog.Int("device_id", next.DeviceID),
			slog.Duration("interval", next.Interval),
			slog.String("addr", next.Addr()))
		if s.started {
			s.restartLocked()
		}
	}

	if len(errs) > 0 {
		return next, errs
	}
	return next, nil
}

// ListenError returns the error from the last listener bind, or nil when the
// Modbus server is up.
func (s *Simulator) ListenError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenErr
}

// Addr returns the Modbus listener address, or nil when not listening.
func (s *Simulator) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	return s.server.Addr()
}

// Metrics returns the Modbus server counters. They survive restarts.
func (s *Simulator) Metrics() *modbus.ServerMetrics {
	return s.metrics
}

// ActiveConnections returns the number of open Modbus connections.
func (s *Simulator) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return 0
	}
	return s.server.ActiveConnections()
}

// Generator returns the synthetic value generator.
func (s *Simulator) Generator() *Generator {
	return s.gen
}

// Layout returns the register layout.
func (s *Simulator) Layout() *register.Layout {
	return s.layout
}

// Table returns a copy of the descriptor table.
func (s *Simulator) Table() []register.Descriptor {
	return append([]register.Descriptor(nil), s.table...)
}

// Registers returns a copy of the whole register store.
func (s *Simulator) Registers() []uint16 {
	return s.store.Snapshot()
}

// Handler returns the Modbus handler serving this simulator's registers.
func (s *Simulator) Handler() modbus.Handler {
	return s.handler
}
