// Serial-dongle hardware module: a USB RF433/868 receiver/transmitter that
// speaks a line-oriented text protocol over a serial port. Grounded on the
// teacher's internal/serial package (same tarm/serial dependency, same
// read-loop/backoff shape), adapted from CAN-UART framing to pulse-train
// text lines.
package hwdrv

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// OpenSerialPort is a hook so tests can substitute a fake port.
var OpenSerialPort = func(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}

// SerialModule drives a serial RF dongle. Received lines are either a single
// edge duration ("E <us>") or a full pulse train ("F <us> <us> ...");
// the caller decides which of ReadEdge/ReadFrame the receive pipeline uses
// by wiring the module into a hwdrv.Module's Edge or Frame slot.
// Send writes "S <us> <us> ... <repeat>\n".
type SerialModule struct {
	port Port

	mu      sync.Mutex
	scanner *bufio.Scanner
}

// OpenSerial opens the serial device and wraps it as a SerialModule.
func OpenSerial(name string, baud int, readTimeout time.Duration) (*SerialModule, error) {
	p, err := OpenSerialPort(name, baud, readTimeout)
	if err != nil {
		return nil, fmt.Errorf("hwdrv: open serial %s: %w", name, err)
	}
	return &SerialModule{port: p, scanner: bufio.NewScanner(struct{ io.Reader }{p})}, nil
}

func (s *SerialModule) Close() error { return s.port.Close() }

// ReadEdge implements EdgeReceiver: it reads one line and expects "E <us>".
// A malformed or empty read (e.g. driver timeout) is reported as -1 (§4.3).
func (s *SerialModule) ReadEdge(ctx context.Context) (int, error) {
	line, err := s.readLine()
	if err != nil {
		return -1, err
	}
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != "E" {
		return -1, nil
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil {
		return -1, nil
	}
	return n, nil
}

// ReadFrame implements FrameReceiver: it reads one line and expects
// "F <us> <us> ...". An empty line is a non-event (length 0, §4.3).
func (s *SerialModule) ReadFrame(ctx context.Context) ([]int, error) {
	line, err := s.readLine()
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != "F" {
		return nil, nil
	}
	pulses := make([]int, 0, len(fields)-1)
	for _, tok := range fields[1:] {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, nil
		}
		pulses = append(pulses, n)
	}
	return pulses, nil
}

// Send implements Transmitter: writes the pulse train txrpt times.
func (s *SerialModule) Send(pulses []int, txrpt int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	b.WriteString("S")
	for _, p := range pulses {
		fmt.Fprintf(&b, " %d", p)
	}
	fmt.Fprintf(&b, " %d\n", txrpt)
	_, err := s.port.Write([]byte(b.String()))
	return err
}

func (s *SerialModule) readLine() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.scanner.Text(), nil
}
