package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pilightgo/pilightd/internal/broker"
	"github.com/pilightgo/pilightd/internal/logging"
	"github.com/pilightgo/pilightd/internal/metrics"
	"github.com/pilightgo/pilightd/internal/wire"
)

var ErrListen = errors.New("session: listen failed")
var ErrAccept = errors.New("session: accept failed")

// landingPage is served for any HTTP request other than GET /logo.png; it
// advises the caller to use the external web UI instead of the raw socket.
const landingPage = `<!DOCTYPE html><html><head><title>pilightd</title></head>
<body><p>This port speaks the pilightd JSON socket protocol, not HTTP.
Use the web UI to manage this broker.</p></body></html>`

const landingPageDisabled = `<!DOCTYPE html><html><body><p>pilightd</p></body></html>`

// a 1x1 transparent PNG, the branded logo placeholder served at /logo.png.
var logoPNG, _ = base64.StdEncoding.DecodeString(
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNk+A8AAQUBAScY42YAAAAASUVORK5CYII=")

// Server accepts client sockets and spawns a reader/writer goroutine pair
// per connection, mirroring the teacher's internal/server package shape.
type Server struct {
	addr       string
	b          *broker.Broker
	dispatcher *Dispatcher
	logger     *slog.Logger

	maxClients  int
	webEnabled  bool
	readTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup

	readyOnce sync.Once
	readyCh   chan struct{}
}

type Option func(*Server)

func WithListenAddr(a string) Option   { return func(s *Server) { s.addr = a } }
func WithMaxClients(n int) Option      { return func(s *Server) { s.maxClients = n } }
func WithWebEnabled(b bool) Option     { return func(s *Server) { s.webEnabled = b } }
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

func NewServer(b *broker.Broker, dispatcher *Dispatcher, opts ...Option) *Server {
	s := &Server{
		addr:        ":0",
		b:           b,
		dispatcher:  dispatcher,
		logger:      logging.L(),
		webEnabled:  true,
		readTimeout: 90 * time.Second,
		readyCh:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) Ready() <-chan struct{} { return s.readyCh }

func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Serve accepts connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrListen, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("session_listen", "addr", ln.Addr().String())

	go func() { <-ctx.Done(); _ = ln.Close() }()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
			}
			return fmt.Errorf("%w: %v", ErrAccept, err)
		}
		s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	if s.maxClients > 0 && s.b.ClientCount() >= s.maxClients {
		metrics.HubRejected.Inc()
		_ = conn.Close()
		return
	}
	c := &broker.Client{
		SessionID: s.b.NextSessionID(),
		Media:     broker.MediaAll,
		Out:       make(chan broker.Message, 256),
		Closed:    make(chan struct{}),
	}
	s.b.AddClient(c)
	metrics.HubClients.Set(float64(s.b.ClientCount()))
	connLogger := s.logger.With("session_id", c.SessionID, "remote", conn.RemoteAddr().String())
	connLogger.Info("client_connected")

	w := wire.NewWriter(conn)
	s.wg.Add(2)
	go s.writeLoop(conn, w, c, connLogger)
	go s.readLoop(ctx, conn, w, c, connLogger)
}

// readLoop and writeLoop share a single wire.Writer (internally mutexed) so
// broadcast fanout and direct replies/HEART-BEAT never interleave mid-line
// on the same socket.
func (s *Server) readLoop(ctx context.Context, conn net.Conn, w *wire.Writer, c *broker.Client, logger *slog.Logger) {
	defer s.wg.Done()
	defer s.closeClient(conn, c, logger)

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-c.Closed:
		}
	}()

	r := wire.NewReader(conn)
	for {
		if s.readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		line, err := r.ReadLine()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				logger.Debug("client_read_closed", "error", err)
			}
			return
		}
		switch {
		case line == wire.Heart:
			if err := w.WriteLine(wire.Beat); err != nil {
				return
			}
		case wire.IsHTTPRequestLine(line):
			s.serveHTTP(conn, line)
			return
		case line == "":
			continue
		default:
			reply, ok := s.dispatcher.Handle(c, line)
			if !ok {
				metrics.IncError(metrics.ErrClientRead)
				return
			}
			if reply != nil {
				if err := w.WriteJSON(reply); err != nil {
					return
				}
			}
		}
	}
}

// writeLoop drains the client's broadcast channel onto the socket.
func (s *Server) writeLoop(conn net.Conn, w *wire.Writer, c *broker.Client, logger *slog.Logger) {
	defer s.wg.Done()
	for {
		select {
		case msg := <-c.Out:
			if err := w.WriteJSON(msg); err != nil {
				metrics.IncError(metrics.ErrClientWrite)
				return
			}
		case <-c.Closed:
			return
		}
	}
}

// serveHTTP implements §4.7's "GET /logo.png or any other HTTP/ request"
// landing-page handler; the socket is closed after the response either way.
func (s *Server) serveHTTP(conn net.Conn, requestLine string) {
	defer func() { _ = conn.Close() }()
	fields := strings.Fields(requestLine)
	if len(fields) >= 2 && fields[1] == "/logo.png" {
		resp := &http.Response{
			StatusCode: http.StatusOK,
			ProtoMajor: 1, ProtoMinor: 1,
			Header:        http.Header{"Content-Type": {"image/png"}},
			ContentLength: int64(len(logoPNG)),
			Body:          http.NoBody,
		}
		_ = resp.Write(conn)
		_, _ = conn.Write(logoPNG)
		return
	}
	body := landingPage
	if !s.webEnabled {
		body = landingPageDisabled
	}
	resp := &http.Response{
		StatusCode: http.StatusOK,
		ProtoMajor: 1, ProtoMinor: 1,
		Header:        http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		ContentLength: int64(len(body)),
		Body:          http.NoBody,
	}
	_ = resp.Write(conn)
	_, _ = conn.Write([]byte(body))
}

func (s *Server) closeClient(conn net.Conn, c *broker.Client, logger *slog.Logger) {
	_ = conn.Close()
	s.b.RemoveClient(c)
	metrics.HubClients.Set(float64(s.b.ClientCount()))
	logger.Info("client_disconnected")
}

// Shutdown closes the listener; in-flight connections drain via ctx
// cancellation propagated from Serve's caller.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
