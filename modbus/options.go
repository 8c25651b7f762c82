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
	"log/slog"
	"time"
)

// Option is a functional option for configuring the client.
type Option func(*clientOptions)

type clientOptions struct {
	unitID  UnitID
	timeout time.Duration
	logger  *slog.Logger
}

func defaultOptions() *clientOptions {
	return &clientOptions{
		unitID:  1,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
}

// WithUnitID sets the default unit ID for requests.
func WithUnitID(id UnitID) Option {
	return func(o *clientOptions) {
		o.unitID = id
	}
}

// WithTimeout sets the timeout for operations.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// ServerOption is a functional option for configuring the server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	logger      *slog.Logger
	unitID      UnitID
	readTimeout time.Duration
	metrics     *ServerMetrics
}

func defaultServerOptions() *serverOptions {
	return &serverOptions{
		logger:      slog.Default(),
		unitID:      1,
		readTimeout: DefaultIdleTimeout,
	}
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// WithServerUnitID sets the unit ID the server answers to, in addition to
// the broadcast identifiers 0 and 255.
func WithServerUnitID(id UnitID) ServerOption {
	return func(o *serverOptions) {
		o.unitID = id
	}
}

// WithReadTimeout sets the idle read timeout for client connections.
func WithReadTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.readTimeout = d
	}
}

// WithServerMetrics makes the server record into m instead of a fresh set of
// counters, so totals survive a server being replaced.
func WithServerMetrics(m *ServerMetrics) ServerOption {
	return func(o *serverOptions) {
		o.metrics = m
	}
}
