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

	"github.com/edgeo-scada/meter-simulator/modbus"
	"github.com/edgeo-scada/meter-simulator/register"
)

// registerHandler serves Modbus requests from the layout and store.
//
// Request addresses are zero-based: address N on the wire resolves to device
// register N+1.
type registerHandler struct {
	layout *register.Layout
	store  *register.Store
	logger *slog.Logger
}

func deviceAddress(wire uint16, offset int) uint32 {
	return uint32(wire) + uint32(offset) + 1
}

// ReadHoldingRegisters returns qty words; unmapped addresses read as zero.
func (h *registerHandler) ReadHoldingRegisters(unitID modbus.UnitID, addr, qty uint16) ([]uint16, error) {
	indices := make([]int, qty)
	for i := range indices {
		idx, ok := h.layout.Index(deviceAddress(addr, i))
		if !ok {
			idx = -1
		}
		indices[i] = idx
	}

	h.logger.Debug("read holding registers",
		slog.Int("addr", int(addr)),
		slog.Int("qty", int(qty)),
		slog.Uint64("device_addr", uint64(deviceAddress(addr, 0))))

	return h.store.Gather(indices), nil
}

// WriteSingleRegister stores value; unmapped addresses are rejected with
// modbus.ErrUnmappedAddress.
func (h *registerHandler) WriteSingleRegister(unitID modbus.UnitID, addr, value uint16) error {
	target := deviceAddress(addr, 0)
	idx, ok := h.layout.Index(target)
	if !ok {
		return modbus.ErrUnmappedAddress
	}

	h.store.Write(idx, int(value))
	h.logger.Info("register written over modbus",
		slog.Int("addr", int(addr)),
		slog.Uint64("device_addr", uint64(target)),
		slog.Int("value", int(value)))
	return nil
}
