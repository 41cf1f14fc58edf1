// Package metrics exposes Prometheus counters/gauges for the broker's
// queues, decode/encode pipeline, client hub and backends, plus the
// readiness-function pattern used to gate /healthz.
package metrics

import (
	"net/http"
	"sync"

	"github.com/pilightgo/pilightd/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RecvQDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pilightd_recvq_dropped_total",
		Help: "Pulse frames dropped because RecvQ was at capacity.",
	})
	SendQDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pilightd_sendq_dropped_total",
		Help: "Send requests dropped because SendQ was at capacity.",
	})
	BroadcastQDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pilightd_broadcastq_dropped_total",
		Help: "Decoded messages dropped because BroadcastQ was at capacity.",
	})
	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pilightd_frames_received_total",
		Help: "Raw pulse frames framed by the receive pipeline.",
	})
	MessagesDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pilightd_messages_decoded_total",
		Help: "Decoded device-state messages emitted past the repetition gate.",
	})
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pilightd_messages_sent_total",
		Help: "Send requests transmitted by the sender worker.",
	})
	EncodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pilightd_encode_failures_total",
		Help: "Encoder invocations that rejected a client code object.",
	})
	HubClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pilightd_hub_clients",
		Help: "Currently connected client sessions.",
	})
	HubRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pilightd_hub_rejected_total",
		Help: "Connection attempts rejected because max-clients was reached.",
	})
	BroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pilightd_broadcast_fanout",
		Help: "Number of clients targeted by the most recent broadcast.",
	})
	WatchdogTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pilightd_watchdog_trips_total",
		Help: "Watchdog-triggered shutdowns (graceful or immediate).",
	})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pilightd_errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pilightd_build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values bound cardinality).
const (
	ErrHandshake   = "handshake"
	ErrHardwareRx  = "hardware_rx"
	ErrHardwareTx  = "hardware_tx"
	ErrClientRead  = "client_read"
	ErrClientWrite = "client_write"
	ErrClientize   = "clientize"
	ErrRegistry    = "registry"
)

func IncError(label string) { Errors.WithLabelValues(label).Inc() }

// InitBuildInfo sets the build info gauge and pre-registers error label series.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrHandshake, ErrHardwareRx, ErrHardwareTx, ErrClientRead, ErrClientWrite, ErrClientize, ErrRegistry} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /healthz and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

// StartHTTP serves Prometheus metrics at /metrics and readiness at /healthz.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}
