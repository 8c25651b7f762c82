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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/edgeo-scada/meter-simulator/modbus/internal/transport"
)

// Client reads and writes holding registers on a Modbus TCP server. It covers
// the two function codes the simulator serves and is used by the probe
// command. Requests on one Client are serialized.
type Client struct {
	addr    string
	opts    *clientOptions
	conn    *transport.Conn
	txIDs   TransactionIDGenerator
	metrics *Metrics

	mu     sync.Mutex
	unitID UnitID
	closed bool
}

// NewClient creates a client for addr. It does not connect.
func NewClient(addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("modbus: address cannot be empty")
	}

	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &Client{
		addr:    addr,
		opts:    options,
		conn:    transport.New(addr, options.timeout),
		metrics: NewMetrics(),
		unitID:  options.unitID,
	}, nil
}

// Connect dials the server. Calling it on a connected client does nothing.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnectionClosed
	}
	if c.conn.Connected() {
		return nil
	}

	if err := c.conn.Dial(ctx); err != nil {
		return err
	}
	c.metrics.ActiveConns.Add(1)
	c.opts.logger.Debug("connected", slog.String("addr", c.addr))
	return nil
}

// Close closes the connection. The client cannot be reconnected afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.conn.Connected() {
		c.metrics.ActiveConns.Add(-1)
	}
	return c.conn.Close()
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	if c.conn.Connected() {
		return StateConnected
	}
	return StateDisconnected
}

// Metrics returns the client metrics.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// SetUnitID sets the unit ID for subsequent requests.
func (c *Client) SetUnitID(id UnitID) {
	c.mu.Lock()
	c.unitID = id
	c.mu.Unlock()
}

// UnitID returns the unit ID requests are sent to.
func (c *Client) UnitID() UnitID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unitID
}

// ReadHoldingRegisters reads qty holding registers starting at addr (FC03).
func (c *Client) ReadHoldingRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error) {
	pdu, err := BuildReadHoldingRegistersPDU(addr, qty)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, pdu)
	if err != nil {
		return nil, err
	}
	return ParseRegistersResponse(resp, qty)
}

// WriteSingleRegister writes value at addr (FC06).
func (c *Client) WriteSingleRegister(ctx context.Context, addr, value uint16) error {
	pdu := BuildWriteSingleRegisterPDU(addr, value)
	resp, err := c.do(ctx, pdu)
	if err != nil {
		return err
	}
	return ParseWriteResponse(resp, addr, value)
}

// do sends pdu and returns the reply PDU. Exception replies come back as
// *ModbusError.
func (c *Client) do(ctx context.Context, pdu []byte) ([]byte, error) {
	if !c.conn.Connected() {
		return nil, ErrNotConnected
	}

	req := Frame{
		Header: MBAPHeader{
			TransactionID: c.txIDs.Next(),
			ProtocolID:    ProtocolID,
			UnitID:        c.UnitID(),
		},
		PDU: pdu,
	}
	fc := FunctionCode(pdu[0])

	start := time.Now()
	c.metrics.RequestsTotal.Add(1)

	var reply *Frame
	err := c.conn.Exchange(ctx, req.Encode(), func(r io.Reader) error {
		var err error
		reply, err = ReadFrame(r)
		return err
	})
	if err != nil && !c.conn.Connected() {
		c.metrics.ActiveConns.Add(-1)
	}
	if err == nil {
		err = checkReply(req.Header.TransactionID, fc, reply)
	}
	if err != nil {
		c.metrics.RequestsErrors.Add(1)
		c.opts.logger.Debug("request failed",
			slog.Uint64("tx_id", uint64(req.Header.TransactionID)),
			slog.String("func", fc.String()),
			slog.String("error", err.Error()))
		return nil, err
	}

	c.metrics.RequestsSuccess.Add(1)
	c.metrics.Latency.Observe(time.Since(start))
	return reply.PDU, nil
}

func checkReply(txID uint16, fc FunctionCode, reply *Frame) error {
	if reply.Header.TransactionID != txID {
		return fmt.Errorf("%w: transaction id %d, want %d",
			ErrInvalidResponse, reply.Header.TransactionID, txID)
	}
	if IsExceptionResponse(reply.PDU) {
		if mErr := ParseExceptionResponse(reply.PDU); mErr != nil {
			return mErr
		}
		return fmt.Errorf("%w: exception without code", ErrInvalidResponse)
	}
	if reply.FunctionCode() != fc {
		return fmt.Errorf("%w: function code %v, want %v", ErrInvalidResponse, reply.FunctionCode(), fc)
	}
	return nil
}
