// Package pulse defines the raw RF pulse-train representation shared by the
// receive and send pipelines.
package pulse

import "fmt"

// AnyHwType marks a frame or protocol as compatible with every receiver class.
const AnyHwType = -1

// MaxRaw is the hard upper bound on a pulse train length (§3 invariants).
const MaxRaw = 1024

// Frame is an ordered sequence of pulse durations in microseconds, together
// with the hardware class that produced it and the derived base pulse length.
// A Frame is created once by the receive pipeline and consumed once by the
// decoder worker; it carries no further mutable state.
type Frame struct {
	Pulses   []int
	HwType   int
	PulseLen int
}

// Len reports the number of durations in the frame.
func (f Frame) Len() int { return len(f.Pulses) }

// CompatibleHwType reports whether the frame may be matched against a
// protocol declaring the given hardware type (equal, or either side "any").
func (f Frame) CompatibleHwType(hwtype int) bool {
	return f.HwType == AnyHwType || hwtype == AnyHwType || f.HwType == hwtype
}

// Validate checks the frame length against the registry-wide raw bounds.
func (f Frame) Validate(minRaw, maxRaw int) error {
	n := f.Len()
	if n < minRaw || n > maxRaw {
		return fmt.Errorf("pulse: frame length %d outside [%d,%d]", n, minRaw, maxRaw)
	}
	return nil
}

// Clone returns an independent copy of the frame's pulse slice.
func (f Frame) Clone() Frame {
	cp := make([]int, len(f.Pulses))
	copy(cp, f.Pulses)
	return Frame{Pulses: cp, HwType: f.HwType, PulseLen: f.PulseLen}
}
