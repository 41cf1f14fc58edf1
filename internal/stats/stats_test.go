package stats

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pilightgo/pilightd/internal/broker"
	"github.com/pilightgo/pilightd/internal/protocol"
)

type scriptedSampler struct {
	mu      sync.Mutex
	samples [][2]float64
	idx     int
}

func (s *scriptedSampler) Sample() (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx >= len(s.samples) {
		s.idx = len(s.samples) - 1
	}
	v := s.samples[s.idx]
	s.idx++
	return v[0], v[1], nil
}

func testBroker() *broker.Broker {
	return broker.New("node-1", protocol.NewRegistry(), 1)
}

func TestPublishesEveryThirdTick(t *testing.T) {
	b := testBroker()
	sampler := &scriptedSampler{samples: [][2]float64{{10, 20}, {10, 20}, {10, 20}, {10, 20}}}
	w := New(b, sampler, false, nil, WithInterval(2*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	msg, ok := b.BroadcastQ.Dequeue(context.Background())
	if !ok {
		t.Fatalf("expected a process broadcast to be enqueued")
	}
	if msg.Origin != broker.OriginCore || msg.Type == nil || *msg.Type != broker.CoreTypeProcess {
		t.Fatalf("unexpected process message: %+v", msg)
	}
	var report processReport
	if err := json.Unmarshal(msg.Values, &report); err != nil {
		t.Fatalf("unmarshal values: %v", err)
	}
	if report.CPU != 10 || report.RAM != 20 {
		t.Fatalf("report = %+v, want cpu=10 ram=20", report)
	}
}

func TestWatchdogResetsOnHealthySample(t *testing.T) {
	b := testBroker()
	sampler := &scriptedSampler{samples: [][2]float64{{70, 10}, {5, 5}, {70, 10}, {5, 5}, {5, 5}, {5, 5}}}
	var tripped bool
	w := New(b, sampler, true, func(immediate bool) { tripped = true },
		WithInterval(2*time.Millisecond), WithRecheckDelay(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	if tripped {
		t.Fatalf("watchdog should not trip when the breach does not persist across the re-check window")
	}
}

func TestWatchdogTriggersControlledShutdown(t *testing.T) {
	b := testBroker()
	sampler := &scriptedSampler{samples: [][2]float64{{70, 10}, {70, 10}, {70, 10}, {70, 10}, {70, 10}}}
	var immediateSeen, tripped bool
	done := make(chan struct{})
	w := New(b, sampler, true, func(immediate bool) {
		tripped = true
		immediateSeen = immediate
		close(done)
	}, WithInterval(2*time.Millisecond), WithRecheckDelay(3*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	go w.Run(ctx)

	select {
	case <-done:
	case <-time.After(150 * time.Millisecond):
		t.Fatalf("watchdog never tripped on a persistent breach")
	}
	if !tripped || immediateSeen {
		t.Fatalf("expected a controlled (non-immediate) shutdown, tripped=%v immediate=%v", tripped, immediateSeen)
	}
}

func TestWatchdogAbortsImmediatelyOnSevereBreach(t *testing.T) {
	b := testBroker()
	sampler := &scriptedSampler{samples: [][2]float64{{70, 10}, {95, 10}, {95, 10}, {95, 10}}}
	var immediateSeen bool
	done := make(chan struct{})
	w := New(b, sampler, true, func(immediate bool) {
		immediateSeen = immediate
		close(done)
	}, WithInterval(2*time.Millisecond), WithRecheckDelay(3*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	go w.Run(ctx)

	select {
	case <-done:
	case <-time.After(150 * time.Millisecond):
		t.Fatalf("watchdog never tripped")
	}
	if !immediateSeen {
		t.Fatalf("a sample above the abort threshold on re-check must trigger an immediate shutdown")
	}
}
