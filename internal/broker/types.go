// Package broker gathers the process-wide mutable state — the three
// queues, the connected-client table, the firmware registry cache and the
// current run mode — into a single context value explicitly passed to every
// component, per the redesign note in spec.md §9 ("Global mutable state").
// No singleton is reintroduced.
package broker

import (
	"encoding/json"
	"sync"

	"github.com/pilightgo/pilightd/internal/kvstore"
	"github.com/pilightgo/pilightd/internal/protocol"
	"github.com/pilightgo/pilightd/internal/pulse"
	"github.com/pilightgo/pilightd/internal/queue"
)

// Origin labels the provenance of a broadcast message (§3, GLOSSARY).
type Origin string

const (
	OriginReceiver Origin = "receiver"
	OriginSender   Origin = "sender"
	OriginMaster   Origin = "master"
	OriginNode     Origin = "node"
	OriginFW       Origin = "fw"
	OriginCore     Origin = "core"
	OriginStats    Origin = "stats"
)

// Core message "type" values used by origin=core routing (§4.6).
const (
	CoreTypeProcess  = 100
	CoreTypeFirmware = 101
)

// FirmwareProtocolID is the synthetic protocol identifier carrying firmware
// version/filter info (§4.6, P7).
const FirmwareProtocolID = "pilight_firmware"

// Message is the immutable-once-enqueued DecodedMessage (§3).
type Message struct {
	ProtocolID string          `json:"protocol,omitempty"`
	Payload    json.RawMessage `json:"message,omitempty"`
	Repeats    int             `json:"repeats,omitempty"`
	Origin     Origin          `json:"origin"`
	UUID       string          `json:"uuid,omitempty"`
	Settings   json.RawMessage `json:"settings,omitempty"`
	Type       *int            `json:"type,omitempty"`
	Action     string          `json:"action,omitempty"`
	Values     json.RawMessage `json:"values,omitempty"`
}

// Clone returns an independent copy of m, reproducing the deep-copy contract
// the original daemon got (accidentally) via a json-stringify round trip
// through the broadcast queue (§9 ambiguous area a) — without the detour.
func (m Message) Clone() Message {
	cp := m
	if m.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), m.Payload...)
	}
	if m.Settings != nil {
		cp.Settings = append(json.RawMessage(nil), m.Settings...)
	}
	if m.Values != nil {
		cp.Values = append(json.RawMessage(nil), m.Values...)
	}
	if m.Type != nil {
		t := *m.Type
		cp.Type = &t
	}
	return cp
}

// Media tags (§3 Client, GLOSSARY).
const (
	MediaAll     = "all"
	MediaWeb     = "web"
	MediaMobile  = "mobile"
	MediaDesktop = "desktop"
)

// Client is a connected session (§3 Client).
type Client struct {
	SessionID int64
	UUID      string
	Media     string
	Core      bool
	Config    bool
	Receiver  bool
	Stats     bool
	Forward   bool

	CPUPct float64
	RAMPct float64

	Out    chan Message
	Closed chan struct{}

	mu        sync.Mutex
	closeOnce sync.Once
}

// Close marks the client closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.Closed) })
}

// SetUsage records a client-reported CPU/RAM sample (update action, §4.7).
func (c *Client) SetUsage(cpu, ram float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CPUPct, c.RAMPct = cpu, ram
}

type deviceMeta struct {
	Media string `json:"media,omitempty"`
}

// FilterDevicesByMedia prunes the top-level "devices" object of data to
// entries whose media tag matches clientMedia (either side "all" matches,
// §4.6 media filtering / P5). A payload carrying no "devices" key is
// returned unfiltered. Shared by the broadcaster (C6) and the session
// manager's "request values" action (C7), both of which apply the same
// per-client media projection.
func FilterDevicesByMedia(data json.RawMessage, clientMedia string) (json.RawMessage, bool) {
	if len(data) == 0 {
		return data, true
	}
	var whole map[string]json.RawMessage
	if err := json.Unmarshal(data, &whole); err != nil {
		return data, true
	}
	rawDevices, ok := whole["devices"]
	if !ok {
		return data, true
	}
	var devices map[string]json.RawMessage
	if err := json.Unmarshal(rawDevices, &devices); err != nil {
		return data, true
	}
	filtered := make(map[string]json.RawMessage, len(devices))
	for name, raw := range devices {
		var meta deviceMeta
		_ = json.Unmarshal(raw, &meta)
		if meta.Media == "" {
			meta.Media = MediaAll
		}
		if meta.Media == MediaAll || clientMedia == MediaAll || meta.Media == clientMedia {
			filtered[name] = raw
		}
	}
	if len(filtered) == 0 {
		return nil, false
	}
	out, err := json.Marshal(filtered)
	if err != nil {
		return data, true
	}
	whole["devices"] = out
	merged, err := json.Marshal(whole)
	if err != nil {
		return data, true
	}
	return merged, true
}

// PayloadFieldCount counts the top-level JSON object fields of data (0 for
// nil/null/non-object payloads), used by the §4.6/§9(c) "{} or ≤1 children"
// broadcast-suppression filter.
func PayloadFieldCount(data json.RawMessage) int {
	if len(data) == 0 {
		return 0
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return 0
	}
	return len(m)
}

// SendRequest is a queued transmission request (§3 SendRequest).
type SendRequest struct {
	ID         int64
	ProtocolID string
	Frame      pulse.Frame
	Payload    json.RawMessage
	TargetUUID string
	Origin     Origin
	Settings   json.RawMessage
}

// Broker is the single explicit context threaded through every component.
type Broker struct {
	NodeUUID string

	Protocols *protocol.Registry
	Registry  *kvstore.Store

	RecvQ      *queue.Queue[pulse.Frame]
	SendQ      *queue.Queue[SendRequest]
	BroadcastQ *queue.Queue[Message]

	ReceiveRepeats int

	mu          sync.RWMutex
	clients     map[*Client]struct{}
	nextSession int64

	Adhoc     bool // true when running as a peer/client (clientize mode)
	ParentOut chan Message
}

// New constructs a Broker with fresh queues and an empty client table.
func New(nodeUUID string, protocols *protocol.Registry, receiveRepeats int) *Broker {
	return &Broker{
		NodeUUID:       nodeUUID,
		Protocols:      protocols,
		Registry:       kvstore.New(),
		RecvQ:          queue.New[pulse.Frame](),
		SendQ:          queue.New[SendRequest](),
		BroadcastQ:     queue.New[Message](),
		ReceiveRepeats: receiveRepeats,
		clients:        make(map[*Client]struct{}),
	}
}

// AddClient registers a new client.
func (b *Broker) AddClient(c *Client) {
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
}

// RemoveClient unregisters a client; safe to call multiple times.
func (b *Broker) RemoveClient(c *Client) {
	b.mu.Lock()
	_, existed := b.clients[c]
	if existed {
		delete(b.clients, c)
	}
	b.mu.Unlock()
	select {
	case <-c.Closed:
	default:
		c.Close()
	}
}

// Clients returns a snapshot slice of currently connected clients.
func (b *Broker) Clients() []*Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Client, 0, len(b.clients))
	for c := range b.clients {
		out = append(out, c)
	}
	return out
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// NextSessionID returns a monotonically increasing session id (§3 Client).
func (b *Broker) NextSessionID() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSession++
	return b.nextSession
}
