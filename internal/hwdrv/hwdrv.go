// Package hwdrv defines the opaque hardware module interface the receive
// and sender pipelines (C3/C5) drive. Protocol decoder/encoder modules and
// hardware driver internals are out of core scope (§1); this package only
// defines the init/send/receive surface the core consumes, plus the
// wait/signal coordination used to mute receivers while a send is in
// flight (§3 invariants, §4.3).
package hwdrv

import (
	"context"
	"sync"
)

// EdgeReceiver is the COMOOK-style driver: it yields one raw edge duration
// (microseconds) at a time. A return of -1 signals a transient hardware
// failure (§4.3).
type EdgeReceiver interface {
	ReadEdge(ctx context.Context) (int, error)
}

// FrameReceiver is the COMPLSTRAIN-style driver: it returns a complete pulse
// train per call. A length of 0 is a non-event. An error makes the receive
// worker back off for 1 s and read again; the driver is not re-initialised.
type FrameReceiver interface {
	ReadFrame(ctx context.Context) ([]int, error)
}

// Transmitter sends a pulse train txrpt times (§4.5).
type Transmitter interface {
	Send(pulses []int, txrpt int) error
}

// Module bundles a concrete device's capabilities with the hwtype tag used
// for protocol compatibility matching (§3 invariants) and the wait/signal
// gate that pauses reception during a send.
type Module struct {
	HwType      int
	Edge        EdgeReceiver  // nil if this module uses FrameReceiver
	Frame       FrameReceiver // nil if this module uses EdgeReceiver
	Transmitter Transmitter   // nil if receive-only

	mu      sync.Mutex
	waiting bool
	resume  chan struct{}
}

// NewModule constructs a Module; resume starts as a closed (non-blocking) channel.
func NewModule(hwtype int) *Module {
	m := &Module{HwType: hwtype, resume: make(chan struct{})}
	close(m.resume)
	return m
}

// Pause sets wait=1; the receive loop blocks on WaitIfPaused until Resume.
func (m *Module) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.waiting {
		return
	}
	m.waiting = true
	m.resume = make(chan struct{})
}

// Resume sets wait=0 and releases any receiver blocked in WaitIfPaused.
func (m *Module) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.waiting {
		return
	}
	m.waiting = false
	close(m.resume)
}

// WaitIfPaused blocks the caller while the module is paused for an in-flight
// send, or until ctx is cancelled.
func (m *Module) WaitIfPaused(ctx context.Context) {
	m.mu.Lock()
	ch := m.resume
	m.mu.Unlock()
	select {
	case <-ch:
	case <-ctx.Done():
	}
}
