// Package clientize implements the peer-follower state machine (C8, §4.8):
// DISCOVER, CONNECT, IDENTIFY, SYNC, STREAM, looping back to DISCOVER on any
// failure so the node never exits on its own.
package clientize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/pilightgo/pilightd/internal/broker"
	"github.com/pilightgo/pilightd/internal/discovery"
	"github.com/pilightgo/pilightd/internal/logging"
	"github.com/pilightgo/pilightd/internal/metrics"
	"github.com/pilightgo/pilightd/internal/session"
	"github.com/pilightgo/pilightd/internal/wire"
)

const (
	reconnectDelay = 1 * time.Second
	discoverWindow = 2 * time.Second
	dialTimeout    = 5 * time.Second
)

// Worker follows a parent broker: it subscribes as a forwarding client,
// pulls the parent's device config, and relays its decoded updates onto the
// local BroadcastQ under origin NODE.
type Worker struct {
	b          *broker.Broker
	dispatcher *session.Dispatcher
	mgr        *session.Manager
	masterHost string
	masterPort int
	logger     *slog.Logger
}

// New constructs a clientize worker. masterHost may be empty, in which case
// DISCOVER always falls back to SSDP.
func New(b *broker.Broker, dispatcher *session.Dispatcher, mgr *session.Manager, masterHost string, masterPort int) *Worker {
	return &Worker{b: b, dispatcher: dispatcher, mgr: mgr, masterHost: masterHost, masterPort: masterPort, logger: logging.L()}
}

// Run loops DISCOVER -> CONNECT -> IDENTIFY -> SYNC -> STREAM until ctx is
// cancelled. It never returns early on a peer failure (§7 "Peer disconnect").
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		addr, err := w.discover(ctx)
		if err != nil {
			w.logger.Warn("clientize_discover_failed", "error", err)
			metrics.IncError(metrics.ErrClientize)
			if !sleepCtx(ctx, reconnectDelay) {
				return
			}
			continue
		}
		if err := w.followOnce(ctx, addr); err != nil {
			w.logger.Warn("clientize_session_ended", "addr", addr, "error", err)
			metrics.IncError(metrics.ErrClientize)
		}
		if !sleepCtx(ctx, reconnectDelay) {
			return
		}
	}
}

// discover resolves a parent address: the configured master host:port if
// set, else an SSDP seek (§4.8 DISCOVER).
func (w *Worker) discover(ctx context.Context) (string, error) {
	if w.masterHost != "" {
		return fmt.Sprintf("%s:%d", w.masterHost, w.masterPort), nil
	}
	dctx, cancel := context.WithTimeout(ctx, discoverWindow)
	defer cancel()
	return discovery.Seek(dctx, discoverWindow)
}

// followOnce runs CONNECT through STREAM against one resolved parent
// address, returning once the connection ends for any reason.
func (w *Worker) followOnce(ctx context.Context, addr string) error {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("clientize: connect %s: %w", addr, err)
	}
	defer conn.Close()

	go func() { <-ctx.Done(); _ = conn.Close() }()

	r := wire.NewReader(conn)
	wr := wire.NewWriter(conn)

	if err := w.identify(wr, r); err != nil {
		return fmt.Errorf("clientize: identify: %w", err)
	}
	if err := w.sync(wr, r); err != nil {
		return fmt.Errorf("clientize: sync: %w", err)
	}
	return w.stream(ctx, r)
}

type identifyRequest struct {
	Action  string         `json:"action"`
	UUID    string         `json:"uuid"`
	Options map[string]int `json:"options"`
}

type statusReply struct {
	Status string `json:"status"`
}

// identify sends the peer-subscription handshake and requires a success
// reply (§4.8 IDENTIFY).
func (w *Worker) identify(wr *wire.Writer, r *wire.Reader) error {
	req := identifyRequest{
		Action: "identify",
		UUID:   w.b.NodeUUID,
		Options: map[string]int{
			"receiver": 1,
			"forward":  1,
			"config":   1,
		},
	}
	if err := wr.WriteJSON(req); err != nil {
		return fmt.Errorf("write identify: %w", err)
	}
	line, err := r.ReadLine()
	if err != nil {
		return fmt.Errorf("read identify reply: %w", err)
	}
	var reply statusReply
	if err := json.Unmarshal([]byte(line), &reply); err != nil || reply.Status != "success" {
		return fmt.Errorf("identify rejected: %q", line)
	}
	return nil
}

type configRequest struct {
	Action string `json:"action"`
}

type configReply struct {
	Message string          `json:"message"`
	Config  json.RawMessage `json:"config"`
}

// sync requests the parent's config, discards every top-level field except
// devices, and installs it as both local config projections (§4.8
// SYNC — "garbage-collect GUI/devices/rules, then strip every top-level
// child except devices").
func (w *Worker) sync(wr *wire.Writer, r *wire.Reader) error {
	if err := wr.WriteJSON(configRequest{Action: "request config"}); err != nil {
		return fmt.Errorf("write request config: %w", err)
	}
	line, err := r.ReadLine()
	if err != nil {
		return fmt.Errorf("read config reply: %w", err)
	}
	var reply configReply
	if err := json.Unmarshal([]byte(line), &reply); err != nil || reply.Message != "config" {
		return fmt.Errorf("unexpected config reply: %q", line)
	}
	devicesOnly, err := stripToDevices(reply.Config)
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	w.mgr.SetConfig(devicesOnly, devicesOnly)
	return nil
}

func stripToDevices(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return json.RawMessage(`{}`), nil
	}
	var whole map[string]json.RawMessage
	if err := json.Unmarshal(raw, &whole); err != nil {
		return nil, err
	}
	devices, ok := whole["devices"]
	if !ok {
		return json.RawMessage(`{}`), nil
	}
	out, err := json.Marshal(map[string]json.RawMessage{"devices": devices})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type streamFrame struct {
	Action     string          `json:"action,omitempty"`
	Origin     broker.Origin   `json:"origin,omitempty"`
	ProtocolID string          `json:"protocol,omitempty"`
	Payload    json.RawMessage `json:"message,omitempty"`
	Settings   json.RawMessage `json:"settings,omitempty"`
	Repeats    int             `json:"repeats,omitempty"`
	Type       *int            `json:"type,omitempty"`
	UUID       string          `json:"uuid,omitempty"`
}

// stream reads newline-delimited frames until the connection fails,
// re-dispatching send/control frames and relaying decoded updates (§4.8
// STREAM).
func (w *Worker) stream(ctx context.Context, r *wire.Reader) error {
	peerClient := &broker.Client{Media: broker.MediaAll, Out: make(chan broker.Message, 1), Closed: make(chan struct{})}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line, err := r.ReadLine()
		if err != nil {
			return fmt.Errorf("stream read: %w", err)
		}
		if line == wire.Heart {
			continue
		}
		var frame streamFrame
		if err := json.Unmarshal([]byte(line), &frame); err != nil {
			continue
		}
		switch frame.Action {
		case "send", "control":
			w.dispatcher.Handle(peerClient, line)
			continue
		}
		if (frame.Origin == broker.OriginReceiver || frame.Origin == broker.OriginSender) && frame.ProtocolID != "" {
			msg := broker.Message{
				ProtocolID: frame.ProtocolID,
				Payload:    frame.Payload,
				Settings:   frame.Settings,
				Repeats:    frame.Repeats,
				Type:       frame.Type,
				UUID:       frame.UUID,
				Origin:     broker.OriginNode,
			}
			if !w.b.BroadcastQ.Enqueue(msg) {
				metrics.BroadcastQDropped.Inc()
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
