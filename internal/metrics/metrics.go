package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/mlasek/can-echo-node/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	RxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_rx_frames_total",
		Help: "Total CAN frames fetched from the controller.",
	})
	TxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_tx_frames_total",
		Help: "Total CAN frames transmitted to the bus (startup frame included).",
	})
	RelayedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_relayed_frames_total",
		Help: "Total frames retransmitted with a shifted identifier.",
	})
	RejectedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filter_rejected_frames_total",
		Help: "Total frames rejected by software acceptance filtering.",
	})
	BootState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_boot_state",
		Help: "Current relay state (0=booting 1=filter_config 2=startup_tx 3=relaying 4=faulted).",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrBusInit        = "bus_init"
	ErrFilterConfig   = "filter_config"
	ErrRelayRx        = "relay_rx"
	ErrRelayTx        = "relay_tx"
	ErrSocketCANRead  = "socketcan_read"
	ErrSocketCANWrite = "socketcan_write"
	ErrSlcanRead      = "slcan_read"
	ErrSlcanWrite     = "slcan_write"
	ErrIndicator      = "indicator"
)

// StartHTTP serves Prometheus metrics at /metrics on the given address
// along with a /ready probe backed by the registered readiness function.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localRx       uint64
	localTx       uint64
	localRelayed  uint64
	localRejected uint64
	localErrors   uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	Rx       uint64
	Tx       uint64
	Relayed  uint64
	Rejected uint64
	Errors   uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		Rx:       atomic.LoadUint64(&localRx),
		Tx:       atomic.LoadUint64(&localTx),
		Relayed:  atomic.LoadUint64(&localRelayed),
		Rejected: atomic.LoadUint64(&localRejected),
		Errors:   atomic.LoadUint64(&localErrors),
	}
}

// Wrapper helpers to keep call sites simple.
func IncRx() {
	RxFrames.Inc()
	atomic.AddUint64(&localRx, 1)
}

func IncTx() {
	TxFrames.Inc()
	atomic.AddUint64(&localTx, 1)
}

func IncRelayed() {
	RelayedFrames.Inc()
	atomic.AddUint64(&localRelayed, 1)
}

func IncRejected() {
	RejectedFrames.Inc()
	atomic.AddUint64(&localRejected, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// SetBootState mirrors the relay state machine into a gauge.
func SetBootState(s int) { BootState.Set(float64(s)) }

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrBusInit, ErrFilterConfig, ErrRelayRx, ErrRelayTx,
		ErrSocketCANRead, ErrSocketCANWrite, ErrSlcanRead, ErrSlcanWrite,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
