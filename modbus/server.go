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
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Server is a Modbus TCP server answering FC03 and FC06 for a single unit.
//
// Requests that fail validation are dropped without a reply and the
// connection stays open. Unsupported function codes get an illegal function
// exception; handler failures get a server device failure exception.
type Server struct {
	handler Handler
	opts    *serverOptions

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   int32
	wg       sync.WaitGroup
	metrics  *ServerMetrics
}

// NewServer creates a new Modbus TCP server.
func NewServer(handler Handler, opts ...ServerOption) *Server {
	options := defaultServerOptions()
	for _, opt := range opts {
		opt(options)
	}

	metrics := options.metrics
	if metrics == nil {
		metrics = NewServerMetrics()
	}

	return &Server{
		handler: handler,
		opts:    options,
		conns:   make(map[net.Conn]struct{}),
		metrics: metrics,
	}
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *ServerMetrics {
	return s.metrics
}

// UnitID returns the unit ID the server answers to.
func (s *Server) UnitID() UnitID {
	return s.opts.unitID
}

// ListenAndServe starts the server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// ListenAndServeContext starts the server and closes it when ctx is done.
func (s *Server) ListenAndServeContext(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	return s.Serve(listener)
}

// Serve starts serving connections on the given listener. It returns nil
// once Close has been called.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if atomic.LoadInt32(&s.closed) == 1 {
		s.mu.Unlock()
		listener.Close()
		return ErrServerClosed
	}
	s.listener = listener
	s.mu.Unlock()
	s.opts.logger.Info("modbus server started",
		slog.String("addr", listener.Addr().String()),
		slog.Int("unit_id", int(s.opts.unitID)))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.closed) == 1 {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.opts.logger.Error("accept error", slog.String("error", err.Error()))
			continue
		}

		s.mu.Lock()
		if atomic.LoadInt32(&s.closed) == 1 {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.metrics.ActiveConns.Add(1)
		s.metrics.TotalConns.Add(1)
		s.mu.Unlock()

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(30 * time.Second)
			tcpConn.SetNoDelay(true)
		}

		go s.handleConn(conn)
	}
}

// Close stops accepting, closes every open connection and waits for the
// connection goroutines to exit.
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}

	s.mu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.opts.logger.Info("modbus server stopped")
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// Addr returns the server's address.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ActiveConnections returns the number of active connections.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) handleConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()

	defer func() {
		if r := recover(); r != nil {
			s.opts.logger.Error("panic in connection handler",
				slog.String("remote", remote),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}

		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.metrics.ActiveConns.Add(-1)
		s.mu.Unlock()
		s.opts.logger.Debug("connection closed", slog.String("remote", remote))
		s.wg.Done()
	}()

	s.opts.logger.Debug("connection accepted", slog.String("remote", remote))

	reader := NewRequestReader(conn)
	for {
		if atomic.LoadInt32(&s.closed) == 1 {
			return
		}

		if s.opts.readTimeout > 0 {
			conn.SetReadDeadline(timeNow().Add(s.opts.readTimeout))
		}

		frame, err := reader.Next()
		if err != nil {
			if errors.Is(err, errShortFrame) {
				s.metrics.RequestsTotal.Add(1)
				s.drop(remote, frame, err)
				continue
			}
			if err != io.EOF && atomic.LoadInt32(&s.closed) == 0 {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					s.opts.logger.Debug("idle timeout", slog.String("remote", remote))
				} else {
					s.opts.logger.Debug("read error",
						slog.String("remote", remote),
						slog.String("error", err.Error()))
				}
			}
			return
		}

		start := time.Now()
		s.metrics.RequestsTotal.Add(1)

		response, err := s.processRequest(frame)
		if err != nil {
			s.drop(remote, frame, err)
			continue
		}

		if s.opts.readTimeout > 0 {
			conn.SetWriteDeadline(timeNow().Add(s.opts.readTimeout))
		}

		if _, err := conn.Write(response); err != nil {
			s.metrics.WriteErrors.Add(1)
			s.opts.logger.Debug("write error",
				slog.String("remote", remote),
				slog.String("error", err.Error()))
			return
		}

		s.metrics.Responses.Add(1)
		s.metrics.Latency.Observe(time.Since(start))
	}
}

func (s *Server) drop(remote string, frame *Frame, reason error) {
	s.metrics.Dropped.Add(1)
	attrs := []any{
		slog.String("remote", remote),
		slog.String("reason", reason.Error()),
	}
	if frame != nil {
		attrs = append(attrs,
			slog.Uint64("tx_id", uint64(frame.Header.TransactionID)),
			slog.Uint64("unit_id", uint64(frame.Header.UnitID)))
	}
	s.opts.logger.Debug("request dropped", attrs...)
}

// acceptsUnit reports whether requests for id are served.
func (s *Server) acceptsUnit(id UnitID) bool {
	return id == s.opts.unitID || id == UnitBroadcast || id == UnitAny
}

// processRequest returns the encoded response frame for req, or an error
// describing why the request gets no reply.
func (s *Server) processRequest(req *Frame) ([]byte, error) {
	if req.Header.ProtocolID != ProtocolID {
		return nil, errProtocolID
	}
	if !s.acceptsUnit(req.Header.UnitID) {
		return nil, errForeignUnit
	}
	if len(req.PDU) < 1 {
		return nil, errShortFrame
	}

	fc := req.FunctionCode()
	unitID := req.Header.UnitID
	fm := s.metrics.ForFunction(fc)
	fm.Requests.Add(1)

	s.opts.logger.Debug("processing request",
		slog.Uint64("tx_id", uint64(req.Header.TransactionID)),
		slog.Uint64("unit_id", uint64(unitID)),
		slog.String("func", fc.String()))

	var pdu []byte
	var err error

	switch fc {
	case FuncReadHoldingRegisters:
		pdu, err = s.handleReadHoldingRegisters(unitID, req.PDU)
	case FuncWriteSingleRegister:
		if err = s.handleWriteSingleRegister(unitID, req.PDU); err == nil {
			// Echo the request frame unchanged.
			resp := make([]byte, len(req.Raw()))
			copy(resp, req.Raw())
			return resp, nil
		}
	default:
		pdu = s.buildException(fc, ExceptionIllegalFunction)
	}

	if err != nil {
		if isDropReason(err) {
			return nil, err
		}
		pdu = s.handleError(fc, err)
	}

	if IsExceptionResponse(pdu) {
		s.metrics.Exceptions.Add(1)
		fm.Exceptions.Add(1)
	}

	resp := &Frame{
		Header: MBAPHeader{
			TransactionID: req.Header.TransactionID,
			ProtocolID:    ProtocolID,
			UnitID:        unitID,
		},
		PDU: pdu,
	}
	return resp.Encode(), nil
}

func isDropReason(err error) bool {
	return errors.Is(err, errShortFrame) ||
		errors.Is(err, errBadQuantity) ||
		errors.Is(err, errUnmappedWrite)
}

func (s *Server) buildException(fc FunctionCode, ec ExceptionCode) []byte {
	return []byte{byte(fc) | 0x80, byte(ec)}
}

func (s *Server) handleError(fc FunctionCode, err error) []byte {
	s.opts.logger.Error("handler error",
		slog.String("func", fc.String()),
		slog.String("error", err.Error()))
	return s.buildException(fc, ExceptionServerDeviceFailure)
}

func (s *Server) handleReadHoldingRegisters(unitID UnitID, pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return nil, errShortFrame
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])

	if qty < 1 || qty > MaxQuantityRegisters {
		return nil, errBadQuantity
	}

	var values []uint16
	err := s.callHandler(func() error {
		var err error
		values, err = s.handler.ReadHoldingRegisters(unitID, addr, qty)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(values) != int(qty) {
		return nil, fmt.Errorf("handler returned %d registers, want %d", len(values), qty)
	}

	byteCount := int(qty) * 2
	resp := make([]byte, 2+byteCount)
	resp[0] = byte(FuncReadHoldingRegisters)
	resp[1] = byte(byteCount)
	for i, v := range values {
		binary.BigEndian.PutUint16(resp[2+i*2:], v)
	}
	return resp, nil
}

func (s *Server) handleWriteSingleRegister(unitID UnitID, pdu []byte) error {
	if len(pdu) < 5 {
		return errShortFrame
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	value := binary.BigEndian.Uint16(pdu[3:5])

	err := s.callHandler(func() error {
		return s.handler.WriteSingleRegister(unitID, addr, value)
	})
	if errors.Is(err, ErrUnmappedAddress) {
		return fmt.Errorf("%w: %d", errUnmappedWrite, addr)
	}
	return err
}

// callHandler runs fn and converts a panic into an error.
func (s *Server) callHandler(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.opts.logger.Error("panic in request handler",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn()
}

// timeNow is a variable for testing
var timeNow = time.Now
