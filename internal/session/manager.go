// Package session implements the client session manager (C7): JSON action
// dispatch over the line protocol, the device-state table consumed by the
// broadcaster's per-client filtering, and the TCP accept loop that spawns a
// reader/writer goroutine pair per connection, mirroring the teacher's
// internal/server package.
package session

import (
	"encoding/json"
	"sync"

	"github.com/pilightgo/pilightd/internal/broker"
	"github.com/pilightgo/pilightd/internal/protocol"
)

// DeviceConfig is the static directory entry a "control" action resolves
// against: the protocol to encode with, plus the base code fields (id,
// hardware settings) merged under client-supplied values/state (§4.7).
type DeviceConfig struct {
	Protocol string
	Code     json.RawMessage
}

// Manager owns the live device-state table (read by the broadcaster via
// UpdateDevices), the static device directory ("control" resolution) and
// the two config projections ("request config").
type Manager struct {
	reg *protocol.Registry

	mu        sync.RWMutex
	devices   map[string]json.RawMessage
	directory map[string]DeviceConfig

	configInternal json.RawMessage
	configForward  json.RawMessage
}

// NewManager constructs an empty Manager bound to the broker's frozen
// protocol registry (used to look up a decoded message's media tag).
func NewManager(reg *protocol.Registry) *Manager {
	return &Manager{
		reg:       reg,
		devices:   make(map[string]json.RawMessage),
		directory: make(map[string]DeviceConfig),
	}
}

// SetDevice registers (or replaces) a named device's control directory
// entry, used to resolve "control" actions (§4.7).
func (m *Manager) SetDevice(name string, cfg DeviceConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.directory[name] = cfg
}

// ResolveDevice looks up a device by name.
func (m *Manager) ResolveDevice(name string) (DeviceConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.directory[name]
	return cfg, ok
}

// SetConfig installs the two config projections served by "request config":
// internal is returned to ordinary clients, forward to forward=1 peers.
func (m *Manager) SetConfig(internal, forward json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configInternal = internal
	m.configForward = forward
}

// Config returns the requested projection with literal "%" doubled, per
// §4.7's wire-escaping rule for the emitted string.
func (m *Manager) Config(forward bool) json.RawMessage {
	m.mu.RLock()
	raw := m.configInternal
	if forward {
		raw = m.configForward
	}
	m.mu.RUnlock()
	return escapePercent(raw)
}

func escapePercent(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	out := make([]byte, 0, len(raw))
	for _, b := range raw {
		out = append(out, b)
		if b == '%' {
			out = append(out, '%')
		}
	}
	return out
}

// UpdateDevices implements broadcaster.DeviceUpdater: it merges a decoded
// message into the live device table, tagging it with the originating
// protocol's first advertised media value, and returns a {"devices": {...}}
// snapshot for per-client media filtering.
func (m *Manager) UpdateDevices(msg broker.Message) json.RawMessage {
	key := msg.ProtocolID
	if key == "" {
		key = "unknown"
	}
	media := broker.MediaAll
	if m.reg != nil {
		if d, ok := m.reg.Lookup(msg.ProtocolID); ok && len(d.Media) > 0 {
			media = d.Media[0]
		}
	}
	entry := withMedia(msg.Payload, media)

	m.mu.Lock()
	m.devices[key] = entry
	snap := make(map[string]json.RawMessage, len(m.devices))
	for k, v := range m.devices {
		snap[k] = v
	}
	m.mu.Unlock()

	out, err := json.Marshal(struct {
		Devices map[string]json.RawMessage `json:"devices"`
	}{Devices: snap})
	if err != nil {
		return msg.Payload
	}
	return out
}

// Values returns the current device-state snapshot, filtered to clientMedia
// (§4.7 "request values").
func (m *Manager) Values(clientMedia string) json.RawMessage {
	m.mu.RLock()
	snap := make(map[string]json.RawMessage, len(m.devices))
	for k, v := range m.devices {
		snap[k] = v
	}
	m.mu.RUnlock()
	out, err := json.Marshal(struct {
		Devices map[string]json.RawMessage `json:"devices"`
	}{Devices: snap})
	if err != nil {
		return nil
	}
	filtered, _ := broker.FilterDevicesByMedia(out, clientMedia)
	return filtered
}

func withMedia(payload json.RawMessage, media string) json.RawMessage {
	var m map[string]json.RawMessage
	if len(payload) == 0 {
		m = map[string]json.RawMessage{}
	} else if err := json.Unmarshal(payload, &m); err != nil {
		return payload
	}
	if _, ok := m["media"]; !ok {
		tag, _ := json.Marshal(media)
		m["media"] = tag
	}
	out, err := json.Marshal(m)
	if err != nil {
		return payload
	}
	return out
}
