package session

import (
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/pilightgo/pilightd/internal/broker"
	"github.com/pilightgo/pilightd/internal/logging"
	"github.com/pilightgo/pilightd/internal/metrics"
)

// envelope is the union of every JSON action shape accepted over the client
// socket (§4.7). Unused fields are simply left at their zero value for any
// given action.
type envelope struct {
	Action   string          `json:"action,omitempty"`
	Options  json.RawMessage `json:"options,omitempty"`
	Media    string          `json:"media,omitempty"`
	Code     json.RawMessage `json:"code,omitempty"`
	UUID     string          `json:"uuid,omitempty"`
	Type     string          `json:"type,omitempty"`
	Key      string          `json:"key,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	Decimals int             `json:"decimals,omitempty"`
	Values   json.RawMessage `json:"values,omitempty"`
	Protocol string          `json:"protocol,omitempty"`
	Status   string          `json:"status,omitempty"`
}

type sendCode struct {
	Protocol []string `json:"protocol"`
}

type controlCode struct {
	Device string `json:"device"`
	State  string `json:"state,omitempty"`
}

// Dispatcher routes one decoded action line to its handler (§4.7's table).
type Dispatcher struct {
	b      *broker.Broker
	mgr    *Manager
	logger *slog.Logger
}

func NewDispatcher(b *broker.Broker, mgr *Manager) *Dispatcher {
	return &Dispatcher{b: b, mgr: mgr, logger: logging.L()}
}

// Handle processes one line for client c. ok=false means the line was
// structurally invalid or named an unrecognized action; per §4.7 the caller
// must then remove the client and close the socket. reply is nil when no
// response line is due.
func (d *Dispatcher) Handle(c *broker.Client, line string) (reply any, ok bool) {
	var env envelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return nil, false
	}
	switch env.Action {
	case "identify":
		return d.identify(c, env)
	case "send":
		return d.send(env)
	case "control":
		return d.control(env)
	case "registry":
		return d.registryAction(env)
	case "request config":
		return d.requestConfig(c)
	case "request values":
		return d.requestValues(c)
	case "update":
		return d.update(c, env)
	case "":
		if env.Status != "" {
			d.logger.Debug("client_status", "status", env.Status)
			return nil, true
		}
		return nil, false
	default:
		return nil, false
	}
}

func (d *Dispatcher) identify(c *broker.Client, env envelope) (any, bool) {
	if len(env.Options) > 0 {
		var opts map[string]int
		if err := json.Unmarshal(env.Options, &opts); err != nil {
			return nil, false
		}
		for k, v := range opts {
			switch k {
			case "core":
				c.Core = v != 0
			case "stats":
				c.Stats = v != 0
			case "receiver":
				c.Receiver = v != 0
			case "config":
				c.Config = v != 0
			case "forward":
				c.Forward = v != 0
			default:
				return nil, false
			}
		}
	}
	if env.UUID != "" {
		c.UUID = env.UUID
	}
	if env.Media != "" {
		c.Media = env.Media
	}
	return map[string]string{"status": "success"}, true
}

func (d *Dispatcher) send(env envelope) (any, bool) {
	if len(env.Code) == 0 {
		return map[string]string{"status": "failed"}, true
	}
	var sc sendCode
	if err := json.Unmarshal(env.Code, &sc); err != nil || len(sc.Protocol) == 0 {
		return map[string]string{"status": "failed"}, true
	}
	var id string
	for _, candidate := range sc.Protocol {
		if dd, ok := d.b.Protocols.Lookup(candidate); ok && dd.HasEncoder() {
			id = candidate
			break
		}
	}
	if id == "" {
		return map[string]string{"status": "failed"}, true
	}
	res, _, err := d.b.Protocols.Encode(id, env.Code)
	if err != nil {
		metrics.EncodeFailures.Inc()
		return map[string]string{"status": "failed"}, true
	}
	payload := res.Payload
	if len(payload) == 0 {
		payload = env.Code
	}
	req := broker.SendRequest{ProtocolID: id, Frame: res.Frame, Payload: payload}
	if !d.b.SendQ.Enqueue(req) {
		metrics.SendQDropped.Inc()
		return map[string]string{"status": "failed"}, true
	}
	return map[string]string{"status": "success"}, true
}

// control resolves code.device against the device directory, merges in
// values/state, then behaves as send (§4.7).
func (d *Dispatcher) control(env envelope) (any, bool) {
	var cc controlCode
	if err := json.Unmarshal(env.Code, &cc); err != nil || cc.Device == "" {
		return map[string]string{"status": "failed"}, true
	}
	cfg, ok := d.mgr.ResolveDevice(cc.Device)
	if !ok {
		return map[string]string{"status": "failed"}, true
	}
	var base map[string]json.RawMessage
	if len(cfg.Code) > 0 {
		_ = json.Unmarshal(cfg.Code, &base)
	}
	if base == nil {
		base = map[string]json.RawMessage{}
	}
	if len(env.Values) > 0 {
		var extra map[string]json.RawMessage
		if json.Unmarshal(env.Values, &extra) == nil {
			for k, v := range extra {
				base[k] = v
			}
		}
	}
	if cc.State != "" {
		s, _ := json.Marshal(cc.State)
		base["state"] = s
	}
	protoList, _ := json.Marshal([]string{cfg.Protocol})
	base["protocol"] = protoList
	code, err := json.Marshal(base)
	if err != nil {
		return map[string]string{"status": "failed"}, true
	}
	return d.send(envelope{Code: code})
}

func (d *Dispatcher) registryAction(env envelope) (any, bool) {
	switch env.Type {
	case "set":
		if env.Key == "" {
			return map[string]string{"status": "failed"}, true
		}
		var num float64
		if err := json.Unmarshal(env.Value, &num); err == nil {
			d.b.Registry.SetNumber(env.Key, num, env.Decimals)
			return map[string]string{"status": "success"}, true
		}
		var str string
		if err := json.Unmarshal(env.Value, &str); err != nil {
			return map[string]string{"status": "failed"}, true
		}
		d.b.Registry.SetString(env.Key, str)
		return map[string]string{"status": "success"}, true
	case "get":
		entry, ok := d.b.Registry.Get(env.Key)
		if !ok {
			return map[string]string{"status": "failed"}, true
		}
		if entry.Num != nil {
			v := json.Number(strconv.FormatFloat(entry.Num.Value, 'f', entry.Num.Decimals, 64))
			return map[string]any{"message": "registry", "value": v, "key": env.Key}, true
		}
		return map[string]any{"message": "registry", "value": *entry.Str, "key": env.Key}, true
	case "remove":
		d.b.Registry.Remove(env.Key)
		return map[string]string{"status": "success"}, true
	default:
		return nil, false
	}
}

func (d *Dispatcher) requestConfig(c *broker.Client) (any, bool) {
	return map[string]any{"message": "config", "config": d.mgr.Config(c.Forward)}, true
}

func (d *Dispatcher) requestValues(c *broker.Client) (any, bool) {
	return map[string]any{"message": "values", "values": d.mgr.Values(c.Media)}, true
}

func (d *Dispatcher) update(c *broker.Client, env envelope) (any, bool) {
	if len(env.Values) > 0 {
		var usage struct {
			CPU *float64 `json:"cpu"`
			RAM *float64 `json:"ram"`
		}
		if json.Unmarshal(env.Values, &usage) == nil && (usage.CPU != nil || usage.RAM != nil) {
			cpu, ram := c.CPUPct, c.RAMPct
			if usage.CPU != nil {
				cpu = *usage.CPU
			}
			if usage.RAM != nil {
				ram = *usage.RAM
			}
			c.SetUsage(cpu, ram)
		}
	}
	if env.Protocol != "" {
		msg := broker.Message{ProtocolID: env.Protocol, Payload: env.Values, Origin: broker.OriginMaster}
		if !d.b.BroadcastQ.Enqueue(msg) {
			metrics.BroadcastQDropped.Inc()
		}
	}
	return nil, true
}
