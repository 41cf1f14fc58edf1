// Package broadcaster implements the broadcaster worker (C6): it drains
// BroadcastQ, stamps the node uuid, and routes each message either by the
// numeric core "type" field (origin=core) or through the per-client device
// filter (every other origin), per §4.6.
package broadcaster

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pilightgo/pilightd/internal/broker"
	"github.com/pilightgo/pilightd/internal/logging"
	"github.com/pilightgo/pilightd/internal/metrics"
)

// DeviceUpdater is C7's device-state updater: given a decoded message it
// returns the payload to publish, already merged into the device table. The
// broadcaster does not own device state; it only applies the per-client
// media/role filters to whatever DeviceUpdater hands back.
type DeviceUpdater interface {
	UpdateDevices(msg broker.Message) json.RawMessage
}

type passthroughUpdater struct{}

func (passthroughUpdater) UpdateDevices(msg broker.Message) json.RawMessage { return msg.Payload }

// Worker is the single broadcaster goroutine.
type Worker struct {
	b       *broker.Broker
	updater DeviceUpdater
	logger  *slog.Logger
}

// New creates a broadcaster worker. A nil updater publishes payloads
// unmodified (no device-table merge), useful for hardware-only test setups.
func New(b *broker.Broker, updater DeviceUpdater) *Worker {
	if updater == nil {
		updater = passthroughUpdater{}
	}
	return &Worker{b: b, updater: updater, logger: logging.L()}
}

// Run drains BroadcastQ until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		msg, ok := w.b.BroadcastQ.Dequeue(ctx)
		if !ok {
			return
		}
		w.handle(msg)
	}
}

func (w *Worker) handle(msg broker.Message) {
	if msg.UUID == "" {
		msg.UUID = w.b.NodeUUID
	}

	if msg.ProtocolID == broker.FirmwareProtocolID {
		w.ingestFirmware(msg)
	}

	if msg.Origin == broker.OriginCore {
		w.routeCore(msg)
		return
	}
	w.routeDevice(msg)
}

// routeCore implements the origin=core branch of §4.6: routing is purely by
// the numeric type field, independent of any device filtering.
func (w *Worker) routeCore(msg broker.Message) {
	if msg.Type == nil {
		return
	}
	t := *msg.Type
	fanout := 0
	for _, c := range w.b.Clients() {
		match := (t < 0 && c.Core) || (t >= 0 && c.Config) || (t == broker.CoreTypeProcess && c.Stats)
		if !match {
			continue
		}
		if w.deliver(c, msg) {
			fanout++
		}
	}
	metrics.BroadcastFanout.Set(float64(fanout))

	if w.b.Adhoc && w.b.ParentOut != nil {
		fwd := msg.Clone()
		fwd.Action = "update"
		w.forwardToParent(fwd)
	}
}

// routeDevice implements the non-core branch of §4.6: run the payload
// through the device-state updater, then fan out config (media-filtered)
// and receiver (settings-stripped) views.
func (w *Worker) routeDevice(msg broker.Message) {
	merged := w.updater.UpdateDevices(msg)
	msg.Payload = merged

	fanout := 0
	for _, c := range w.b.Clients() {
		if c.Config {
			if out, ok := broker.FilterDevicesByMedia(merged, c.Media); ok {
				view := msg
				view.Payload = out
				if w.deliver(c, view) {
					fanout++
				}
			}
		}
		if c.Receiver && !c.Forward {
			if broker.PayloadFieldCount(merged) > 1 {
				view := msg
				view.Settings = nil
				view.Action = ""
				if w.deliver(c, view) {
					fanout++
				}
			}
		}
	}
	metrics.BroadcastFanout.Set(float64(fanout))

	if w.b.Adhoc && w.b.ParentOut != nil {
		fwd := msg.Clone()
		fwd.Action = "update"
		w.forwardToParent(fwd)
	}
}

// ingestFirmware applies §4.6/P7: a pilight_firmware payload with all three
// fields > 0 updates the registry and re-broadcasts a synthetic core message
// exactly once, by re-enqueueing onto BroadcastQ for normal core routing.
func (w *Worker) ingestFirmware(msg broker.Message) {
	var fw struct {
		Version int `json:"version"`
		LPF     int `json:"lpf"`
		HPF     int `json:"hpf"`
	}
	if err := json.Unmarshal(msg.Payload, &fw); err != nil {
		return
	}
	if fw.Version <= 0 || fw.LPF <= 0 || fw.HPF <= 0 {
		return
	}
	w.b.Registry.SetNumber("pilight.firmware.version", float64(fw.Version), 0)
	w.b.Registry.SetNumber("pilight.firmware.lpf", float64(fw.LPF), 0)
	w.b.Registry.SetNumber("pilight.firmware.hpf", float64(fw.HPF), 0)

	payload, _ := json.Marshal(fw)
	t := broker.CoreTypeFirmware
	synthetic := broker.Message{
		ProtocolID: "core/FIRMWARE",
		Payload:    payload,
		Origin:     broker.OriginCore,
		Type:       &t,
		UUID:       w.b.NodeUUID,
	}
	if !w.b.BroadcastQ.Enqueue(synthetic) {
		metrics.BroadcastQDropped.Inc()
	}
}

// deliver is a best-effort, non-blocking write to the client's outbound
// channel (§4.6 "Writes are best-effort; a write failure causes the client
// to be removed on the next parse (not here).").
func (w *Worker) deliver(c *broker.Client, msg broker.Message) bool {
	select {
	case <-c.Closed:
		return false
	default:
	}
	select {
	case c.Out <- msg.Clone():
		return true
	default:
		metrics.IncError(metrics.ErrClientWrite)
		return false
	}
}

func (w *Worker) forwardToParent(msg broker.Message) {
	select {
	case w.b.ParentOut <- msg:
	default:
		metrics.IncError(metrics.ErrClientWrite)
	}
}

