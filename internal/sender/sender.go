// Package sender implements the sender worker (C5): drains SendQ, pauses the
// matching hardware receiver, transmits, resumes reception, reflects "raw"
// sends back onto RecvQ, and emits a sender-origin broadcast.
package sender

import (
	"context"
	"log/slog"

	"github.com/pilightgo/pilightd/internal/broker"
	"github.com/pilightgo/pilightd/internal/hwdrv"
	"github.com/pilightgo/pilightd/internal/logging"
	"github.com/pilightgo/pilightd/internal/metrics"
	"github.com/pilightgo/pilightd/internal/protocol"
	"github.com/pilightgo/pilightd/internal/pulse"
)

// Worker is the single sender goroutine.
type Worker struct {
	b       *broker.Broker
	modules []*hwdrv.Module
	logger  *slog.Logger
}

// New creates a sender worker over the given hardware modules; modules is
// searched in order for one whose HwType matches (or either side is "any").
func New(b *broker.Broker, modules []*hwdrv.Module) *Worker {
	return &Worker{b: b, modules: modules, logger: logging.L()}
}

func (w *Worker) findModule(hwtype int) *hwdrv.Module {
	for _, m := range w.modules {
		if m.HwType == hwtype || m.HwType == pulse.AnyHwType || hwtype == pulse.AnyHwType {
			if m.Transmitter != nil {
				return m
			}
		}
	}
	return nil
}

// Run drains SendQ until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		req, ok := w.b.SendQ.Dequeue(ctx)
		if !ok {
			return
		}
		w.handle(req)
	}
}

func (w *Worker) handle(req broker.SendRequest) {
	d, ok := w.b.Protocols.Lookup(req.ProtocolID)
	if !ok {
		w.logger.Error("sender_unknown_protocol", "protocol", req.ProtocolID)
		return
	}

	if mod := w.findModule(d.HwType); mod != nil {
		mod.Pause()
		if err := mod.Transmitter.Send(req.Frame.Pulses, d.TxRpt); err != nil {
			metrics.IncError(metrics.ErrHardwareTx)
			w.logger.Error("hardware_send_failed", "protocol", req.ProtocolID, "error", err)
		} else {
			metrics.MessagesSent.Inc()
		}
		mod.Resume()
	} else {
		w.logger.Warn("sender_no_hardware", "protocol", req.ProtocolID, "hwtype", d.HwType)
	}

	// §9 "raw protocol feedback loop": intentional, not a bug.
	if req.ProtocolID == protocol.RawID {
		synthetic := pulse.Frame{Pulses: append([]int(nil), req.Frame.Pulses...), HwType: pulse.AnyHwType}
		if !w.b.RecvQ.Enqueue(synthetic) {
			metrics.RecvQDropped.Inc()
		}
	}

	msg := broker.Message{
		ProtocolID: req.ProtocolID,
		Payload:    req.Payload,
		Repeats:    1,
		Origin:     broker.OriginSender,
	}
	if !w.b.BroadcastQ.Enqueue(msg) {
		metrics.BroadcastQDropped.Inc()
	}
}
