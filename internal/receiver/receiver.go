// Package receiver implements the receive pipeline (C3): two driver
// variants aggregate raw hardware edges or frames into PulseFrame values
// and enqueue them onto RecvQ, cooperating with the sender via each
// hardware module's wait/signal gate (§4.3).
package receiver

import (
	"context"
	"log/slog"
	"time"

	"github.com/pilightgo/pilightd/internal/broker"
	"github.com/pilightgo/pilightd/internal/hwdrv"
	"github.com/pilightgo/pilightd/internal/logging"
	"github.com/pilightgo/pilightd/internal/metrics"
	"github.com/pilightgo/pilightd/internal/pulse"
)

// PulseDiv is the divisor applied to the driver's raw long-gap duration to
// derive the published base pulse length (§4.3).
const PulseDiv = 10

const hwFailureBackoff = 1 * time.Second

// EdgeWorker drives a COMOOK-style hardware module.
type EdgeWorker struct {
	mod    *hwdrv.Module
	b      *broker.Broker
	minRaw int
	maxRaw int
	minGap int
	maxGap int
	logger *slog.Logger
}

func NewEdgeWorker(mod *hwdrv.Module, b *broker.Broker) *EdgeWorker {
	minRaw, maxRaw, minGap, maxGap := b.Protocols.Bounds()
	return &EdgeWorker{mod: mod, b: b, minRaw: minRaw, maxRaw: maxRaw, minGap: minGap, maxGap: maxGap, logger: logging.L()}
}

// Run reads edges until ctx is cancelled, framing and enqueueing pulse
// trains as described in §4.3.
func (w *EdgeWorker) Run(ctx context.Context) {
	var buf []int
	for {
		if ctx.Err() != nil {
			return
		}
		w.mod.WaitIfPaused(ctx)
		if ctx.Err() != nil {
			return
		}
		d, err := w.mod.Edge.ReadEdge(ctx)
		if err != nil || d == -1 {
			select {
			case <-time.After(hwFailureBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}
		if d > w.minGap {
			// Long idle: close the in-progress frame.
			if d < w.maxGap {
				pulseLen := d / PulseDiv
				w.emit(buf, pulseLen)
			}
			buf = nil
			continue
		}
		buf = append(buf, d)
	}
}

func (w *EdgeWorker) emit(pulses []int, pulseLen int) {
	n := len(pulses)
	if n < w.minRaw || n > w.maxRaw {
		return
	}
	frame := pulse.Frame{Pulses: append([]int(nil), pulses...), HwType: w.mod.HwType, PulseLen: pulseLen}
	metrics.FramesReceived.Inc()
	if !w.b.RecvQ.Enqueue(frame) {
		metrics.RecvQDropped.Inc()
		w.logger.Error("recvq_dropped", "hwtype", w.mod.HwType)
	}
}

// FrameWorker drives a COMPLSTRAIN-style hardware module.
type FrameWorker struct {
	mod    *hwdrv.Module
	b      *broker.Broker
	minRaw int
	maxRaw int
	logger *slog.Logger
}

func NewFrameWorker(mod *hwdrv.Module, b *broker.Broker) *FrameWorker {
	minRaw, maxRaw, _, _ := b.Protocols.Bounds()
	return &FrameWorker{mod: mod, b: b, minRaw: minRaw, maxRaw: maxRaw, logger: logging.L()}
}

// Run reads complete frames until ctx is cancelled (§4.3).
func (w *FrameWorker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		w.mod.WaitIfPaused(ctx)
		if ctx.Err() != nil {
			return
		}
		pulses, err := w.mod.Frame.ReadFrame(ctx)
		if err != nil {
			select {
			case <-time.After(hwFailureBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}
		if len(pulses) == 0 {
			continue // non-event
		}
		n := len(pulses)
		if n < w.minRaw || n > w.maxRaw {
			continue
		}
		pulseLen := pulses[n-1] / PulseDiv
		frame := pulse.Frame{Pulses: pulses, HwType: w.mod.HwType, PulseLen: pulseLen}
		metrics.FramesReceived.Inc()
		if !w.b.RecvQ.Enqueue(frame) {
			metrics.RecvQDropped.Inc()
			w.logger.Error("recvq_dropped", "hwtype", w.mod.HwType)
		}
	}
}
