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
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
)

// MBAPHeader represents the Modbus Application Protocol header for TCP.
type MBAPHeader struct {
	TransactionID uint16 // Transaction identifier
	ProtocolID    uint16 // Protocol identifier (always 0 for Modbus)
	Length        uint16 // Number of following bytes (Unit ID + PDU)
	UnitID        UnitID // Unit identifier (slave address)
}

// Encode encodes the MBAP header to bytes.
func (h *MBAPHeader) Encode() []byte {
	buf := make([]byte, MBAPHeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], h.TransactionID)
	binary.BigEndian.PutUint16(buf[2:4], h.ProtocolID)
	binary.BigEndian.PutUint16(buf[4:6], h.Length)
	buf[6] = byte(h.UnitID)
	return buf
}

// Decode decodes the MBAP header from bytes.
func (h *MBAPHeader) Decode(data []byte) error {
	if len(data) < MBAPHeaderSize {
		return fmt.Errorf("%w: MBAP header too short", ErrInvalidFrame)
	}
	h.TransactionID = binary.BigEndian.Uint16(data[0:2])
	h.ProtocolID = binary.BigEndian.Uint16(data[2:4])
	h.Length = binary.BigEndian.Uint16(data[4:6])
	h.UnitID = UnitID(data[6])
	return nil
}

// TransactionIDGenerator generates unique transaction IDs.
type TransactionIDGenerator struct {
	counter uint32
}

// Next returns the next transaction ID.
func (g *TransactionIDGenerator) Next() uint16 {
	return uint16(atomic.AddUint32(&g.counter, 1))
}

// Frame represents a complete Modbus TCP frame (MBAP header + PDU).
type Frame struct {
	Header MBAPHeader
	PDU    []byte

	// raw holds the bytes the frame was read from, header included.
	raw []byte
}

// Raw returns the frame exactly as it was received. It is nil for frames
// built locally.
func (f *Frame) Raw() []byte {
	return f.raw
}

// FunctionCode returns the PDU function code, or 0 for an empty PDU.
func (f *Frame) FunctionCode() FunctionCode {
	if len(f.PDU) == 0 {
		return 0
	}
	return FunctionCode(f.PDU[0])
}

// Encode encodes the frame to bytes.
func (f *Frame) Encode() []byte {
	f.Header.Length = uint16(len(f.PDU) + 1) // PDU length + Unit ID
	header := f.Header.Encode()
	buf := make([]byte, MBAPHeaderSize+len(f.PDU))
	copy(buf, header)
	copy(buf[MBAPHeaderSize:], f.PDU)
	return buf
}

// Decode decodes a frame from bytes.
func (f *Frame) Decode(data []byte) error {
	if len(data) < MBAPHeaderSize {
		return fmt.Errorf("%w: frame too short", ErrInvalidFrame)
	}
	if err := f.Header.Decode(data[:MBAPHeaderSize]); err != nil {
		return err
	}
	pduLen := int(f.Header.Length) - 1 // Length includes Unit ID
	if pduLen < 0 {
		return fmt.Errorf("%w: invalid length field", ErrInvalidFrame)
	}
	if len(data) < MBAPHeaderSize+pduLen {
		return fmt.Errorf("%w: incomplete frame", ErrInvalidFrame)
	}
	f.PDU = make([]byte, pduLen)
	copy(f.PDU, data[MBAPHeaderSize:MBAPHeaderSize+pduLen])
	return nil
}

// ReadFrame reads one reply frame from r, delimited by the MBAP length field.
// It is the client side reader: servers are trusted to set the length.
func ReadFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, MBAPHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	var f Frame
	if err := f.Header.Decode(header); err != nil {
		return nil, err
	}
	if f.Header.ProtocolID != ProtocolID {
		return nil, fmt.Errorf("%w: protocol id %d", ErrInvalidFrame, f.Header.ProtocolID)
	}
	if pduLen := int(f.Header.Length) - 1; pduLen < 1 || pduLen > MaxPDUSize {
		return nil, fmt.Errorf("%w: length field %d", ErrInvalidFrame, f.Header.Length)
	}

	raw := make([]byte, MBAPHeaderSize+int(f.Header.Length)-1)
	copy(raw, header)
	if _, err := io.ReadFull(r, raw[MBAPHeaderSize:]); err != nil {
		return nil, err
	}
	if err := f.Decode(raw); err != nil {
		return nil, err
	}
	f.raw = raw
	return &f, nil
}

// requestBufferSize bounds a single read on a server connection.
const requestBufferSize = 4096

// requestPayloadSize returns the PDU bytes that follow the function code of
// a request the server decodes. Other function codes have no known size.
func requestPayloadSize(fc FunctionCode) (int, bool) {
	switch fc {
	case FuncReadHoldingRegisters, FuncWriteSingleRegister:
		return 4, true
	}
	return 0, false
}

// RequestReader splits the bytes arriving on a server connection into
// request frames. The MBAP length field is not consulted: a frame is the
// header, the function code and the payload that function code defines, and
// a frame with any other function code takes the rest of the read.
//
// Each read from the connection is parsed on its own. Bytes that cannot
// complete a frame are discarded with their read, so a malformed request
// never swallows the one after it.
type RequestReader struct {
	r       io.Reader
	buf     []byte
	pending []byte
}

// NewRequestReader returns a RequestReader reading from r.
func NewRequestReader(r io.Reader) *RequestReader {
	return &RequestReader{r: r, buf: make([]byte, requestBufferSize)}
}

// Next returns the next request frame. A frame too short for its function
// code is returned with errShortFrame; its header is decoded when the full
// header arrived. Protocol ID and unit ID are not checked here.
func (rr *RequestReader) Next() (*Frame, error) {
	if len(rr.pending) == 0 {
		n, err := rr.r.Read(rr.buf)
		if n == 0 {
			if err == nil {
				err = io.ErrNoProgress
			}
			return nil, err
		}
		rr.pending = rr.buf[:n]
	}

	data := rr.pending
	f := &Frame{}
	if len(data) >= MBAPHeaderSize {
		f.Header.Decode(data[:MBAPHeaderSize])
	}
	if len(data) < MinFrameSize {
		rr.pending = nil
		f.raw = append([]byte(nil), data...)
		return f, errShortFrame
	}

	size := len(data)
	if payload, ok := requestPayloadSize(FunctionCode(data[MBAPHeaderSize])); ok {
		size = MinFrameSize + payload
		if len(data) < size {
			rr.pending = nil
			f.raw = append([]byte(nil), data...)
			return f, errShortFrame
		}
	}

	f.raw = append([]byte(nil), data[:size]...)
	f.PDU = f.raw[MBAPHeaderSize:]
	rr.pending = data[size:]
	return f, nil
}

// BuildReadHoldingRegistersPDU builds a PDU for reading holding registers (FC03).
func BuildReadHoldingRegistersPDU(addr, qty uint16) ([]byte, error) {
	if qty < 1 || qty > MaxQuantityRegisters {
		return nil, fmt.Errorf("%w: quantity must be 1-%d", ErrInvalidQuantity, MaxQuantityRegisters)
	}
	pdu := make([]byte, 5)
	pdu[0] = byte(FuncReadHoldingRegisters)
	binary.BigEndian.PutUint16(pdu[1:3], addr)
	binary.BigEndian.PutUint16(pdu[3:5], qty)
	return pdu, nil
}

// BuildWriteSingleRegisterPDU builds a PDU for writing a single register (FC06).
func BuildWriteSingleRegisterPDU(addr, value uint16) []byte {
	pdu := make([]byte, 5)
	pdu[0] = byte(FuncWriteSingleRegister)
	binary.BigEndian.PutUint16(pdu[1:3], addr)
	binary.BigEndian.PutUint16(pdu[3:5], value)
	return pdu
}

// ParseRegistersResponse parses a registers response (FC03) and returns the values.
func ParseRegistersResponse(pdu []byte, qty uint16) ([]uint16, error) {
	if len(pdu) < 2 {
		return nil, fmt.Errorf("%w: response too short", ErrInvalidResponse)
	}
	byteCount := int(pdu[1])
	expectedBytes := int(qty * 2)
	if byteCount != expectedBytes || len(pdu) < 2+byteCount {
		return nil, fmt.Errorf("%w: invalid byte count", ErrInvalidResponse)
	}

	values := make([]uint16, qty)
	for i := uint16(0); i < qty; i++ {
		values[i] = binary.BigEndian.Uint16(pdu[2+i*2:])
	}
	return values, nil
}

// ParseWriteResponse parses a write response (FC06) and validates it.
func ParseWriteResponse(pdu []byte, expectedAddr, expectedValue uint16) error {
	if len(pdu) < 5 {
		return fmt.Errorf("%w: response too short", ErrInvalidResponse)
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	value := binary.BigEndian.Uint16(pdu[3:5])
	if addr != expectedAddr {
		return fmt.Errorf("%w: address mismatch", ErrInvalidResponse)
	}
	if value != expectedValue {
		return fmt.Errorf("%w: value mismatch", ErrInvalidResponse)
	}
	return nil
}

// IsExceptionResponse checks if the PDU is an exception response.
func IsExceptionResponse(pdu []byte) bool {
	return len(pdu) > 0 && (pdu[0]&0x80) != 0
}

// ParseExceptionResponse parses an exception response.
func ParseExceptionResponse(pdu []byte) *ModbusError {
	if len(pdu) < 2 {
		return nil
	}
	return &ModbusError{
		FunctionCode:  FunctionCode(pdu[0] & 0x7F),
		ExceptionCode: ExceptionCode(pdu[1]),
	}
}
