package modbus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("localhost:5020")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	if client.State() != StateDisconnected {
		t.Errorf("Initial state should be Disconnected, got %v", client.State())
	}
}

func TestNewClient_EmptyAddress(t *testing.T) {
	if _, err := NewClient(""); err == nil {
		t.Error("Expected error for empty address")
	}
}

func TestClientWithOptions(t *testing.T) {
	client, err := NewClient("localhost:5020",
		WithUnitID(5),
		WithTimeout(10*time.Second),
	)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	if client.UnitID() != 5 {
		t.Errorf("UnitID: expected 5, got %d", client.UnitID())
	}
	if client.opts.timeout != 10*time.Second {
		t.Errorf("Timeout: expected 10s, got %v", client.opts.timeout)
	}

	client.SetUnitID(10)
	if client.UnitID() != 10 {
		t.Errorf("UnitID: expected 10, got %d", client.UnitID())
	}
}

func TestClientConnectNotRunning(t *testing.T) {
	client, err := NewClient("localhost:59999") // Non-existent server
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err == nil {
		t.Error("Expected connection error")
	}
}

func TestClientNotConnected(t *testing.T) {
	client, err := NewClient("localhost:5020")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	if _, err := client.ReadHoldingRegisters(context.Background(), 0, 1); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestClientIntegration(t *testing.T) {
	handler := newTestHandler(16)
	server := NewServer(handler, WithServerLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	go server.Serve(listener)
	defer server.Close()

	client, err := NewClient(listener.Addr().String(), WithUnitID(1))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	ctx := context.Background()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	t.Run("ReadHoldingRegisters", func(t *testing.T) {
		regs, err := client.ReadHoldingRegisters(ctx, 1, 2)
		if err != nil {
			t.Fatalf("ReadHoldingRegisters failed: %v", err)
		}
		if len(regs) != 2 {
			t.Fatalf("Expected 2 registers, got %d", len(regs))
		}
		if regs[0] != 10 || regs[1] != 20 {
			t.Errorf("Expected [10 20], got %v", regs)
		}
	})

	t.Run("WriteSingleRegister", func(t *testing.T) {
		if err := client.WriteSingleRegister(ctx, 10, 9999); err != nil {
			t.Fatalf("WriteSingleRegister failed: %v", err)
		}

		regs, err := client.ReadHoldingRegisters(ctx, 10, 1)
		if err != nil {
			t.Fatalf("ReadHoldingRegisters failed: %v", err)
		}
		if regs[0] != 9999 {
			t.Errorf("Register[10]: expected 9999, got %d", regs[0])
		}
	})

	t.Run("Exception", func(t *testing.T) {
		handler.mu.Lock()
		handler.readErr = errors.New("unavailable")
		handler.mu.Unlock()
		defer func() {
			handler.mu.Lock()
			handler.readErr = nil
			handler.mu.Unlock()
		}()

		_, err := client.ReadHoldingRegisters(ctx, 0, 1)
		if !IsException(err, ExceptionServerDeviceFailure) {
			t.Errorf("Expected server device failure, got %v", err)
		}
	})

	t.Run("InvalidQuantity", func(t *testing.T) {
		if _, err := client.ReadHoldingRegisters(ctx, 0, 126); !errors.Is(err, ErrInvalidQuantity) {
			t.Errorf("Expected ErrInvalidQuantity, got %v", err)
		}
	})

	if got := client.Metrics().RequestsSuccess.Value(); got != 3 {
		t.Errorf("RequestsSuccess: expected 3, got %d", got)
	}
}
