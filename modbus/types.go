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

// Package modbus provides the Modbus TCP server used by the meter simulator
// and a small client for talking to it.
package modbus

import "time"

// UnitID represents the Modbus unit identifier (slave address).
type UnitID uint8

// Broadcast unit identifiers accepted regardless of the configured device ID.
const (
	UnitBroadcast UnitID = 0
	UnitAny       UnitID = 255
)

// FunctionCode represents a Modbus function code.
type FunctionCode uint8

// Function codes served by the simulator.
const (
	FuncReadHoldingRegisters FunctionCode = 0x03
	FuncWriteSingleRegister  FunctionCode = 0x06
)

// String returns a string representation of FunctionCode.
func (fc FunctionCode) String() string {
	switch fc {
	case FuncReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case FuncWriteSingleRegister:
		return "WriteSingleRegister"
	default:
		return "Unknown"
	}
}

// Protocol constants.
const (
	// MaxQuantityRegisters is the maximum number of registers that can be read.
	MaxQuantityRegisters = 125

	// MBAPHeaderSize is the size of the MBAP header in bytes.
	MBAPHeaderSize = 7

	// MinFrameSize is the MBAP header plus the function code.
	MinFrameSize = MBAPHeaderSize + 1

	// MaxPDUSize is the largest PDU allowed by the Modbus specification.
	MaxPDUSize = 253

	// ProtocolID is the Modbus protocol identifier (always 0 for Modbus TCP).
	ProtocolID = 0

	// DefaultTimeout is the default timeout for client operations.
	DefaultTimeout = 5 * time.Second

	// DefaultIdleTimeout closes server connections that stay silent this long.
	DefaultIdleTimeout = 30 * time.Second

	// DefaultPort is the simulator's default Modbus TCP port.
	DefaultPort = 5020
)

// Handler serves register access on behalf of the server. Addresses are the
// raw values from the request PDU.
//
// WriteSingleRegister returns ErrUnmappedAddress when addr does not resolve to
// a register; the server then drops the request without replying. Any other
// error is answered with a server device failure exception.
type Handler interface {
	ReadHoldingRegisters(unitID UnitID, addr, qty uint16) ([]uint16, error)
	WriteSingleRegister(unitID UnitID, addr, value uint16) error
}

// ConnectionState represents the state of a client connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnected
)

// String returns the string representation of the connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
