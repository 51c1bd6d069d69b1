package validator

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"torrer/bridgepool/model"
	"torrer/internal/shared/errs"
)

// listenBridge starts a TCP listener that accepts and drops connections.
func listenBridge(t *testing.T) model.Bridge {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return model.Bridge{Address: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port}
}

// closedBridge returns an endpoint nothing listens on.
func closedBridge(t *testing.T) model.Bridge {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return model.Bridge{Address: "127.0.0.1", Port: port}
}

func TestProbe(t *testing.T) {
	v := NewValidator(time.Second, 2)

	if err := v.Probe(context.Background(), listenBridge(t)); err != nil {
		t.Errorf("Probe() of a listening endpoint failed: %v", err)
	}

	err := v.Probe(context.Background(), closedBridge(t))
	if !errors.Is(err, errs.ErrBridgeUnreachable) {
		t.Errorf("Expected ErrBridgeUnreachable, got %v", err)
	}
}

func TestProbe_CancelledContext(t *testing.T) {
	v := NewValidator(time.Second, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := v.Probe(ctx, listenBridge(t)); err == nil {
		t.Error("Expected an error for a cancelled context")
	}
}

func TestValidate_KeepsInputOrder(t *testing.T) {
	v := NewValidator(time.Second, 2)
	up1, down, up2 := listenBridge(t), closedBridge(t), listenBridge(t)

	results := v.Validate(context.Background(), []model.Bridge{up1, down, up2})
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}

	want := []struct {
		bridge    model.Bridge
		reachable bool
	}{{up1, true}, {down, false}, {up2, true}}
	for i, w := range want {
		if results[i].Bridge != w.bridge || results[i].Reachable != w.reachable {
			t.Errorf("results[%d] = %+v, want bridge %s reachable=%t", i, results[i], w.bridge.Key(), w.reachable)
		}
	}
	if results[1].Err == nil {
		t.Error("Expected the unreachable result to carry its error")
	}
}

func TestValidate_Empty(t *testing.T) {
	if got := NewValidator(0, 0).Validate(context.Background(), nil); len(got) != 0 {
		t.Errorf("Expected no results, got %v", got)
	}
}
