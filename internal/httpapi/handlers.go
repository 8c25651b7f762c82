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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/edgeo-scada/meter-simulator/simulator"
)

// Request field names.
const (
	fieldDeviceID   = "deviceId"
	fieldInterval   = "interval"
	fieldModbusPort = "modbusPort"
	fieldModbusIP   = "modbusIp"
	fieldPump1      = "pump1"
	fieldPump2      = "pump2"
	fieldLevel      = "level"
)

var errMissingField = errors.New("missing field")

type configView struct {
	DeviceID        int      `json:"deviceId"`
	Interval        float64  `json:"interval"`
	ModbusPort      int      `json:"modbusPort"`
	ModbusIP        string   `json:"modbusIp"`
	ModbusListening bool     `json:"modbusListening"`
	ModbusError     string   `json:"modbusError,omitempty"`
	Registers       []uint16 `json:"registers,omitempty"`
}

func (s *Server) configView(cfg simulator.Config) configView {
	v := configView{
		DeviceID:        cfg.DeviceID,
		Interval:        cfg.Interval.Seconds(),
		ModbusPort:      cfg.ListenPort,
		ModbusIP:        cfg.ListenAddress,
		ModbusListening: true,
	}
	if err := s.ctrl.ListenError(); err != nil {
		v.ModbusListening = false
		v.ModbusError = err.Error()
	}
	return v
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	v := s.configView(s.ctrl.Config())
	v.Registers = s.ctrl.Registers()
	s.writeJSON(w, r, http.StatusOK, v)
}

func (s *Server) postConfig(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(w, r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	var (
		u     simulator.ConfigUpdate
		errs  = fieldErrors{}
		given int
	)
	if v, ok := body[fieldDeviceID]; ok {
		given++
		if n, err := toInt(v); err != nil {
			errs.add(fieldDeviceID, err)
		} else {
			u.DeviceID = &n
		}
	}
	if v, ok := body[fieldInterval]; ok {
		given++
		if d, err := toSeconds(v); err != nil {
			errs.add(fieldInterval, err)
		} else {
			u.Interval = &d
		}
	}
	if v, ok := body[fieldModbusPort]; ok {
		given++
		if n, err := toInt(v); err != nil {
			errs.add(fieldModbusPort, err)
		} else {
			u.ListenPort = &n
		}
	}
	if v, ok := body[fieldModbusIP]; ok {
		given++
		if str, err := toString(v); err != nil {
			errs.add(fieldModbusIP, err)
		} else {
			u.ListenAddress = &str
		}
	}

	cfg := s.ctrl.Config()
	if !u.Empty() {
		cfg, err = s.ctrl.UpdateConfig(u)
		var fe simulator.FieldErrors
		switch {
		case errors.As(err, &fe):
			for _, e := range fe {
				errs.add(e.Field, e.Err)
			}
		case err != nil:
			s.writeError(w, r, http.StatusServiceUnavailable, err)
			return
		}
	}

	s.writeJSON(w, r, errs.status(given), map[string]interface{}{
		"success": len(errs) == 0,
		"config":  s.configView(cfg),
		"errors":  errs.orNil(),
	})
}

func (s *Server) getRegisters(w http.ResponseWriter, r *http.Request) {
	c := s.ctrl.Controls()
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"controls": map[string]interface{}{
			"pump1":      map[string]uint16{"value": c.Pump1},
			"pump2":      map[string]uint16{"value": c.Pump2},
			"waterLevel": map[string]uint16{"value": c.WaterLevel},
		},
		"registers": s.ctrl.Registers(),
	})
}

func (s *Server) getTable(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.ctrl.Table())
}

func (s *Server) postPumps(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(w, r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	var (
		pump1, pump2 *bool
		errs         = fieldErrors{}
		given        int
	)
	if v, ok := body[fieldPump1]; ok {
		given++
		if b, err := toBool(v); err != nil {
			errs.add(fieldPump1, err)
		} else {
			pump1 = &b
		}
	}
	if v, ok := body[fieldPump2]; ok {
		given++
		if b, err := toBool(v); err != nil {
			errs.add(fieldPump2, err)
		} else {
			pump2 = &b
		}
	}

	c := s.ctrl.SetPumps(pump1, pump2)
	s.writeJSON(w, r, errs.status(given), map[string]interface{}{
		"success": len(errs) == 0,
		"pumps": map[string]uint16{
			fieldPump1: c.Pump1,
			fieldPump2: c.Pump2,
		},
		"errors": errs.orNil(),
	})
}

func (s *Server) postWaterLevel(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(w, r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	v, ok := body[fieldLevel]
	if !ok {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("%s: %w", fieldLevel, errMissingField))
		return
	}
	level, err := toInt(v)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("%s: %w", fieldLevel, err))
		return
	}
	if err := s.ctrl.SetWaterLevel(level); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"success":    true,
		"waterLevel": s.ctrl.Controls().WaterLevel,
	})
}

func (s *Server) getReadings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"success":   true,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"data":      s.ctrl.Readings(),
	})
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status": "ok",
		"modbus": "listening",
	}
	if err := s.ctrl.ListenError(); err != nil {
		body["modbus"] = "unavailable"
		body["error"] = err.Error()
		s.logger.Debug("health check degraded", slog.String("error", err.Error()))
	}
	s.writeJSON(w, r, http.StatusOK, body)
}

// fieldErrors maps request field names to rejection messages.
type fieldErrors map[string]string

func (e fieldErrors) add(field string, err error) {
	e[field] = err.Error()
}

// status is 400 when every given field was rejected, 200 otherwise.
func (e fieldErrors) status(given int) int {
	if len(e) > 0 && len(e) >= given {
		return http.StatusBadRequest
	}
	return http.StatusOK
}

func (e fieldErrors) orNil() map[string]string {
	if len(e) == 0 {
		return nil
	}
	return e
}
