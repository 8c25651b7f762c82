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
	"errors"
	"fmt"
	"log/slog"

	"github.com/edgeo-scada/meter-simulator/register"
)

// Water level bounds, in percent.
const (
	MinWaterLevel = 0
	MaxWaterLevel = 100
)

// ErrOutOfRange is returned for control values outside their allowed range.
var ErrOutOfRange = errors.New("simulator: value out of range")

// Controls holds the current values of the control registers.
type Controls struct {
	Pump1      uint16
	Pump2      uint16
	WaterLevel uint16
}

func (s *Simulator) writeControl(addr uint32, value int) {
	if idx, ok := s.layout.Index(addr); ok {
		s.store.Write(idx, value)
	}
}

func (s *Simulator) readControl(addr uint32) uint16 {
	idx, ok := s.layout.Index(addr)
	if !ok {
		return 0
	}
	return s.store.Read(idx)
}

// Controls returns the pump and water level registers.
func (s *Simulator) Controls() Controls {
	return Controls{
		Pump1:      s.readControl(register.AddrPump1),
		Pump2:      s.readControl(register.AddrPump2),
		WaterLevel: s.readControl(register.AddrWaterLevel),
	}
}

// SetPumps switches the pumps. A nil argument leaves that pump unchanged.
func (s *Simulator) SetPumps(pump1, pump2 *bool) Controls {
	if pump1 != nil {
		s.writeControl(register.AddrPump1, boolWord(*pump1))
	}
	if pump2 != nil {
		s.writeControl(register.AddrPump2, boolWord(*pump2))
	}

	c := s.Controls()
	s.logger.Info("pumps updated",
		slog.Bool("pump1", c.Pump1 != 0),
		slog.Bool("pump2", c.Pump2 != 0))
	return c
}

// SetWaterLevel stores level when it lies in [0, 100]. Out of range values
// are rejected with ErrOutOfRange and the register keeps its value.
func (s *Simulator) SetWaterLevel(level int) error {
	if level < MinWaterLevel || level > MaxWaterLevel {
		s.logger.Warn("water level rejected", slog.Int("level", level))
		return fmt.Errorf("%w: water level %d not in %d-%d", ErrOutOfRange, level, MinWaterLevel, MaxWaterLevel)
	}
	s.writeControl(register.AddrWaterLevel, level)
	s.logger.Info("water level updated", slog.Int("level", level))
	return nil
}

func boolWord(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Reading is the decoded current value of one descriptor.
type Reading struct {
	Description  string            `json:"description"`
	Address      uint32            `json:"address"`
	Index        int               `json:"modbusRegister"`
	DataType     register.DataType `json:"dataType"`
	Value        any               `json:"value"`
	DisplayValue string            `json:"displayValue"`
	Unit         string            `json:"unit"`
}

// Readings decodes every descriptor from the store. Index is -1 when the
// descriptor address is not mapped.
func (s *Simulator) Readings() []Reading {
	out := make([]Reading, 0, len(s.table))
	for _, d := range s.table {
		r := Reading{
			Description: d.Description,
			Address:     d.Address,
			Index:       -1,
			DataType:    d.DataType,
			Unit:        d.Unit,
		}
		idx, ok := s.layout.Index(d.Address)
		var words []uint16
		if ok {
			r.Index = idx
			words = s.store.ReadRun(idx, d.Width())
		} else {
			words = make([]uint16, d.Width())
		}
		r.Value, r.DisplayValue = register.DecodeValue(d.DataType, words)
		out = append(out, r)
	}
	return out
}
