package clientize

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/pilightgo/pilightd/internal/broker"
	"github.com/pilightgo/pilightd/internal/protocol"
	"github.com/pilightgo/pilightd/internal/session"
)

func testBroker() *broker.Broker {
	reg := protocol.NewRegistry()
	_ = reg.Register(protocol.NewRawDescriptor())
	reg.Freeze()
	return broker.New("node-1", reg, 1)
}

// acceptOnce starts a listener, returns its address, and hands the first
// accepted connection to fn on a background goroutine.
func acceptOnce(t *testing.T, fn func(conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		ln.Close()
		if err != nil {
			return
		}
		defer conn.Close()
		fn(conn)
	}()
	return ln.Addr().String()
}

func TestIdentifySyncAndStreamRelaysDecodedFrame(t *testing.T) {
	b := testBroker()
	mgr := session.NewManager(b.Protocols)
	d := session.NewDispatcher(b, mgr)

	addr := acceptOnce(t, func(conn net.Conn) {
		sc := bufio.NewScanner(conn)

		if !sc.Scan() {
			return
		}
		var identify map[string]any
		_ = json.Unmarshal(sc.Bytes(), &identify)
		if identify["action"] != "identify" {
			t.Errorf("expected identify action, got %v", identify["action"])
		}
		conn.Write([]byte(`{"status":"success"}` + "\n"))

		if !sc.Scan() {
			return
		}
		var req map[string]any
		_ = json.Unmarshal(sc.Bytes(), &req)
		if req["action"] != "request config" {
			t.Errorf("expected request config action, got %v", req["action"])
		}
		conn.Write([]byte(`{"message":"config","config":{"devices":{"lamp":{"protocol":"raw"}},"gui":{},"rules":{}}}` + "\n"))

		conn.Write([]byte(`{"origin":"receiver","protocol":"raw","message":{"code":[1,2,3]}}` + "\n"))
	})

	host, port := mustSplitPort(t, addr)

	w := New(b, d, mgr, host, port)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go w.Run(ctx)

	msg, ok := b.BroadcastQ.Dequeue(ctx)
	if !ok {
		t.Fatalf("expected a relayed broadcast message")
	}
	if msg.Origin != broker.OriginNode || msg.ProtocolID != "raw" {
		t.Fatalf("unexpected relayed message: %+v", msg)
	}

	cfg := mgr.Config(false)
	var projected map[string]json.RawMessage
	if err := json.Unmarshal(cfg, &projected); err != nil {
		t.Fatalf("unmarshal projected config: %v", err)
	}
	if _, ok := projected["devices"]; !ok {
		t.Fatalf("expected devices-only config, got %s", cfg)
	}
	if _, ok := projected["gui"]; ok {
		t.Fatalf("gui should have been stripped from the synced config, got %s", cfg)
	}
}

func TestIdentifyRejectedEndsSession(t *testing.T) {
	b := testBroker()
	mgr := session.NewManager(b.Protocols)
	d := session.NewDispatcher(b, mgr)

	addr := acceptOnce(t, func(conn net.Conn) {
		sc := bufio.NewScanner(conn)
		if sc.Scan() {
			conn.Write([]byte(`{"status":"failed"}` + "\n"))
		}
		buf := make([]byte, 1)
		conn.Read(buf)
	})
	host, port := mustSplitPort(t, addr)

	w := New(b, d, mgr, host, port)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	w.Run(ctx)
}

func mustSplitPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return host, port
}
