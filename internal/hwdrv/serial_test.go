package hwdrv

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"
)

// fakePort is an in-memory Port backed by a fixed read buffer and a
// recording write buffer.
type fakePort struct {
	r    *bytes.Reader
	w    bytes.Buffer
	shut bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.shut {
		return 0, io.EOF
	}
	return p.r.Read(b)
}
func (p *fakePort) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *fakePort) Close() error                { p.shut = true; return nil }

func withFakePort(t *testing.T, lines string) (*SerialModule, *fakePort) {
	t.Helper()
	fp := &fakePort{r: bytes.NewReader([]byte(lines))}
	orig := OpenSerialPort
	OpenSerialPort = func(name string, baud int, readTimeout time.Duration) (Port, error) {
		return fp, nil
	}
	t.Cleanup(func() { OpenSerialPort = orig })
	sm, err := OpenSerial("/dev/fake", 115200, time.Second)
	if err != nil {
		t.Fatalf("OpenSerial: %v", err)
	}
	return sm, fp
}

func TestSerialModuleReadFrame(t *testing.T) {
	sm, _ := withFakePort(t, "F 100 200 300\n")
	pulses, err := sm.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if len(pulses) != 3 || pulses[0] != 100 || pulses[2] != 300 {
		t.Fatalf("pulses = %v, want [100 200 300]", pulses)
	}
}

func TestSerialModuleReadFrameNonEventOnGarbage(t *testing.T) {
	sm, _ := withFakePort(t, "E 500\n")
	pulses, err := sm.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if pulses != nil {
		t.Fatalf("an E-line read via ReadFrame should be a non-event, got %v", pulses)
	}
}

func TestSerialModuleReadEdge(t *testing.T) {
	sm, _ := withFakePort(t, "E 1234\n")
	d, err := sm.ReadEdge(context.Background())
	if err != nil {
		t.Fatalf("ReadEdge: %v", err)
	}
	if d != 1234 {
		t.Fatalf("edge = %d, want 1234", d)
	}
}

func TestSerialModuleReadEdgeMalformedIsMinusOne(t *testing.T) {
	sm, _ := withFakePort(t, "garbage\n")
	d, err := sm.ReadEdge(context.Background())
	if err != nil {
		t.Fatalf("ReadEdge: %v", err)
	}
	if d != -1 {
		t.Fatalf("edge = %d, want -1 for a malformed line", d)
	}
}

func TestSerialModuleSendWritesWireFormat(t *testing.T) {
	sm, fp := withFakePort(t, "")
	if err := sm.Send([]int{100, 200}, 5); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := fp.w.String()
	want := "S 100 200 5\n"
	if got != want {
		t.Fatalf("wire write = %q, want %q", got, want)
	}
}

func TestSerialModuleReadEdgeEOF(t *testing.T) {
	sm, _ := withFakePort(t, "")
	_, err := sm.ReadEdge(context.Background())
	if err == nil {
		t.Fatalf("expected an error reading past EOF")
	}
}
