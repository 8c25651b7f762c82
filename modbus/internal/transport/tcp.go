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

// Package transport holds the client's TCP connection.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// ErrNotConnected is returned by Exchange before Dial or after a failed
// exchange closed the connection.
var ErrNotConnected = errors.New("transport: not connected")

// ReadFunc consumes exactly one reply from r.
type ReadFunc func(r io.Reader) error

// Conn runs request/reply exchanges over one TCP connection, one at a time.
// It knows nothing about frame layout: the caller supplies the reply reader.
type Conn struct {
	addr    string
	timeout time.Duration

	mu sync.Mutex
	nc net.Conn
}

// New returns an unconnected Conn for addr. timeout bounds dialing and any
// exchange whose context has no deadline.
func New(addr string, timeout time.Duration) *Conn {
	return &Conn{addr: addr, timeout: timeout}
}

// Dial opens the connection. It is a no-op while a connection is open.
func (c *Conn) Dial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nc != nil {
		return nil
	}

	d := net.Dialer{Timeout: c.timeout}
	nc, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.addr, err)
	}
	if tcp, ok := nc.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}
	c.nc = nc
	return nil
}

// Connected reports whether a connection is open.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nc != nil
}

// Close closes the connection if one is open.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nc == nil {
		return nil
	}
	err := c.nc.Close()
	c.nc = nil
	return err
}

// Exchange writes req and passes the connection to read for the reply, under
// one deadline taken from ctx or the timeout. Any failure closes the
// connection: the position in the byte stream is no longer known.
func (c *Conn) Exchange(ctx context.Context, req []byte, read ReadFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nc == nil {
		return ErrNotConnected
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}

	err := c.nc.SetDeadline(deadline)
	if err == nil {
		if _, err = c.nc.Write(req); err != nil {
			err = fmt.Errorf("write: %w", err)
		}
	}
	if err == nil {
		err = read(c.nc)
	}
	if err != nil {
		c.nc.Close()
		c.nc = nil
	}
	return err
}
