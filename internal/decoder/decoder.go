// Package decoder implements the decoder worker (C4): drains RecvQ, tries
// every hwtype/length-compatible protocol against each frame, applies the
// repetition gate, and emits decoded messages to BroadcastQ.
package decoder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pilightgo/pilightd/internal/broker"
	"github.com/pilightgo/pilightd/internal/logging"
	"github.com/pilightgo/pilightd/internal/metrics"
	"github.com/pilightgo/pilightd/internal/protocol"
	"github.com/pilightgo/pilightd/internal/pulse"
)

// resetGap is the wall-clock gap (§3, §4.4) after which a protocol's repeat
// counter resets.
const resetGap = 500 * time.Millisecond

// gateState tracks the repetition gate for one protocol id.
type gateState struct {
	last    time.Time
	repeats int
}

// Worker is the single decoder goroutine.
type Worker struct {
	b      *broker.Broker
	logger *slog.Logger

	mu    sync.Mutex
	gates map[string]*gateState
}

func New(b *broker.Broker) *Worker {
	return &Worker{b: b, logger: logging.L(), gates: make(map[string]*gateState)}
}

// Run drains RecvQ until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		frame, ok := w.b.RecvQ.Dequeue(ctx)
		if !ok {
			return
		}
		w.processFrame(frame)
	}
}

// processFrame tries every compatible protocol in registration order; a
// single frame may emit multiple messages (§4.4).
func (w *Worker) processFrame(frame pulse.Frame) {
	for _, d := range w.b.Protocols.Compatible(frame) {
		res, err := w.b.Protocols.Decode(d, frame)
		if err != nil || !res.Matched {
			continue
		}
		if !w.gate(d, res) {
			continue
		}
		metrics.MessagesDecoded.Inc()
		msg := broker.Message{
			ProtocolID: d.ID,
			Payload:    res.Payload,
			Repeats:    res.Repeats,
			Origin:     broker.OriginReceiver,
		}
		if !w.b.BroadcastQ.Enqueue(msg) {
			metrics.BroadcastQDropped.Inc()
			w.logger.Error("broadcastq_dropped", "protocol", d.ID)
		}
	}
}

// gate applies the per-protocol repetition gate (§3, §4.4). Firmware
// protocols bypass the gate and emit on first match.
func (w *Worker) gate(d *protocol.Descriptor, res protocol.DecodeResult) bool {
	if d.Firmware {
		return true
	}
	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	g, ok := w.gates[d.ID]
	if !ok {
		g = &gateState{}
		w.gates[d.ID] = g
	}
	if !g.last.IsZero() && now.Sub(g.last) > resetGap {
		g.repeats = 0
	}
	g.last = now
	g.repeats++
	need := w.b.ReceiveRepeats * d.RxRpt
	if need < 1 {
		need = 1
	}
	return g.repeats >= need
}
