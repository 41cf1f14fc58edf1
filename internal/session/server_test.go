package session

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/pilightgo/pilightd/internal/broker"
	"github.com/pilightgo/pilightd/internal/protocol"
)

func startTestServer(t *testing.T) (*Server, *broker.Broker, func()) {
	t.Helper()
	reg := protocol.NewRegistry()
	reg.Register(protocol.NewRawDescriptor())
	reg.Freeze()
	b := broker.New("node-uuid", reg, 1)
	mgr := NewManager(reg)
	d := NewDispatcher(b, mgr)
	s := NewServer(b, d, WithListenAddr("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx) }()

	select {
	case <-s.Ready():
	case <-time.After(time.Second):
		t.Fatalf("server never became ready")
	}
	return s, b, cancel
}

func TestServerIdentifyAndHeartbeat(t *testing.T) {
	s, _, cancel := startTestServer(t)
	defer cancel()

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_, _ = conn.Write([]byte(`{"action":"identify","options":{"receiver":1}}` + "\n"))
	r := bufio.NewReader(conn)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read identify reply: %v", err)
	}
	if !strings.Contains(line, `"success"`) {
		t.Fatalf("identify reply = %q, want success", line)
	}

	_, _ = conn.Write([]byte("HEART\n"))
	line, err = r.ReadString('\n')
	if err != nil {
		t.Fatalf("read heartbeat reply: %v", err)
	}
	if strings.TrimSpace(line) != "BEAT" {
		t.Fatalf("heartbeat reply = %q, want BEAT", line)
	}
}

func TestServerLandingPage(t *testing.T) {
	s, _, cancel := startTestServer(t)
	defer cancel()

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_, _ = conn.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if !strings.Contains(status, "200") {
		t.Fatalf("status line = %q, want 200", status)
	}
}
