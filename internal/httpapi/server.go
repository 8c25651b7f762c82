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

// Package httpapi exposes the simulator control operations over HTTP, along
// with Prometheus metrics and a health endpoint.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgeo-scada/meter-simulator/modbus"
	"github.com/edgeo-scada/meter-simulator/register"
	"github.com/edgeo-scada/meter-simulator/simulator"
)

// DefaultAddr is the default HTTP listen address.
const DefaultAddr = ":3000"

// Controller is the set of simulator operations served over HTTP.
type Controller interface {
	Config() simulator.Config
	UpdateConfig(u simulator.ConfigUpdate) (simulator.Config, error)
	ListenError() error
	Controls() simulator.Controls
	SetPumps(pump1, pump2 *bool) simulator.Controls
	SetWaterLevel(level int) error
	Readings() []simulator.Reading
	Table() []register.Descriptor
	Registers() []uint16
	Metrics() *modbus.ServerMetrics
	Generator() *simulator.Generator
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStaticDir serves the files in dir at the root path.
func WithStaticDir(dir string) Option {
	return func(s *Server) {
		s.staticDir = dir
	}
}

// WithGoMetrics adds the Go runtime and process collectors to /metrics.
func WithGoMetrics(enabled bool) Option {
	return func(s *Server) {
		s.goMetrics = enabled
	}
}

// Server routes control API requests to a Controller.
type Server struct {
	ctrl      Controller
	logger    *slog.Logger
	staticDir string
	goMetrics bool

	router   *mux.Router
	registry *prometheus.Registry
}

// New builds the router for ctrl.
func New(ctrl Controller, opts ...Option) *Server {
	s := &Server{
		ctrl:   ctrl,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(newCollector(ctrl))
	if s.goMetrics {
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	s.router = mux.NewRouter()
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.logRequests)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/config", s.getConfig).Methods(http.MethodGet)
	api.HandleFunc("/config", s.postConfig).Methods(http.MethodPost)
	api.HandleFunc("/registers", s.getRegisters).Methods(http.MethodGet)
	api.HandleFunc("/registers/table", s.getTable).Methods(http.MethodGet)
	api.HandleFunc("/registers/pumps", s.postPumps).Methods(http.MethodPost)
	api.HandleFunc("/registers/water-level", s.postWaterLevel).Methods(http.MethodPost)
	api.HandleFunc("/pm2120", s.getReadings).Methods(http.MethodGet)
	api.HandleFunc("/readings", s.getReadings).Methods(http.MethodGet)

	r.HandleFunc("/healthz", s.getHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	if s.staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.staticDir)))
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Registry returns the Prometheus registry backing /metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("write response",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	s.writeJSON(w, r, status, map[string]interface{}{
		"success": false,
		"error":   err.Error(),
	})
}
