package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-usb-serial-bridge/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors
var (
	USBRxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "usb_rx_bytes_total",
		Help: "Bytes read from the USB CDC OUT endpoint into the USB-to-UART queue.",
	})
	USBTxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "usb_tx_bytes_total",
		Help: "Bytes handed to the USB CDC IN endpoint from the UART-to-USB queue.",
	})
	UARTRxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uart_rx_bytes_total",
		Help: "Bytes accepted by the UART receive interrupt into the UART-to-USB queue.",
	})
	UARTTxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uart_tx_bytes_total",
		Help: "Bytes shifted out on the UART wire.",
	})
	UARTRxDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uart_rx_dropped_bytes_total",
		Help: "Bytes discarded by the UART receive interrupt.",
	}, []string{"reason"})
	USBBackpressure = promauto.NewCounter(prometheus.CounterOpts{
		Name: "usb_rx_backpressure_total",
		Help: "Loop iterations that skipped USB ingestion because the USB-to-UART queue was full.",
	})
	USBSendRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "usb_tx_retries_total",
		Help: "Send batches aborted by a transport failure; the byte stays queued.",
	})
	LineReconfigs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "line_reconfigurations_total",
		Help: "Line-encoding changes applied to the UART.",
	})
	LinkState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "usb_link_state",
		Help: "USB link state (0=not_ready 1=enumerating 2=configured 3=error).",
	})
	StatusLEDs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "status_led_mask",
		Help: "Current status indicator LED mask.",
	})
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_depth_bytes",
		Help: "Bytes held by each bridge queue at the last sample.",
	}, []string{"queue"})
	TapDroppedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tap_dropped_records_total",
		Help: "Trace records dropped by the tap hub due to slow monitor clients.",
	})
	TapKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tap_kicked_clients_total",
		Help: "Monitor clients disconnected due to backpressure kick policy.",
	})
	TapRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tap_rejected_clients_total",
		Help: "Monitor connection attempts rejected (max-clients).",
	})
	TapActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tap_active_clients",
		Help: "Current number of connected monitor clients.",
	})
	TapTxRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tap_tx_records_total",
		Help: "Trace records written to monitor clients.",
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

// Drop reasons for UARTRxDropped.
const (
	DropOverflow      = "overflow"
	DropNotConfigured = "not_configured"
)

// Queue labels for QueueDepth.
const (
	QueueUSBToUART = "usb_to_uart"
	QueueUARTToUSB = "uart_to_usb"
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrSerialOpen    = "serial_open"
	ErrSerialRead    = "serial_read"
	ErrSerialWrite   = "serial_write"
	ErrSerialOverrun = "serial_overrun"
	ErrUSBRead       = "usb_read"
	ErrUSBWrite      = "usb_write"
	ErrUSBControl    = "usb_control"
	ErrUSBConfig     = "usb_config"
	ErrTapAccept     = "tap_accept"
	ErrTapRead       = "tap_read"
	ErrTapWrite      = "tap_write"
)

// Children resolved once so the receive interrupt path never allocates.
var (
	dropOverflow      = UARTRxDropped.WithLabelValues(DropOverflow)
	dropNotConfigured = UARTRxDropped.WithLabelValues(DropNotConfigured)
	depthUSBToUART    = QueueDepth.WithLabelValues(QueueUSBToUART)
	depthUARTToUSB    = QueueDepth.WithLabelValues(QueueUARTToUSB)
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
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
	localUSBRx        uint64
	localUSBTx        uint64
	localUARTRx       uint64
	localUARTTx       uint64
	localDropOverflow uint64
	localDropNotCfg   uint64
	localBackpressure uint64
	localRetries      uint64
	localReconfigs    uint64
	localTapDrop      uint64
	localTapKick      uint64
	localTapReject    uint64
	localTapClients   uint64
	localTapTx        uint64
	localErrors       uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	USBRx        uint64
	USBTx        uint64
	UARTRx       uint64
	UARTTx       uint64
	DropOverflow uint64
	DropNotReady uint64
	Backpressure uint64
	SendRetries  uint64
	Reconfigs    uint64
	TapDrops     uint64
	TapKicks     uint64
	TapRejects   uint64
	TapClients   uint64
	TapTx        uint64
	Errors       uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		USBRx:        atomic.LoadUint64(&localUSBRx),
		USBTx:        atomic.LoadUint64(&localUSBTx),
		UARTRx:       atomic.LoadUint64(&localUARTRx),
		UARTTx:       atomic.LoadUint64(&localUARTTx),
		DropOverflow: atomic.LoadUint64(&localDropOverflow),
		DropNotReady: atomic.LoadUint64(&localDropNotCfg),
		Backpressure: atomic.LoadUint64(&localBackpressure),
		SendRetries:  atomic.LoadUint64(&localRetries),
		Reconfigs:    atomic.LoadUint64(&localReconfigs),
		TapDrops:     atomic.LoadUint64(&localTapDrop),
		TapKicks:     atomic.LoadUint64(&localTapKick),
		TapRejects:   atomic.LoadUint64(&localTapReject),
		TapClients:   atomic.LoadUint64(&localTapClients),
		TapTx:        atomic.LoadUint64(&localTapTx),
		Errors:       atomic.LoadUint64(&localErrors),
	}
}

// Wrapper helpers to keep call sites simple.
func IncUSBRx() {
	USBRxBytes.Inc()
	atomic.AddUint64(&localUSBRx, 1)
}

func IncUSBTx() {
	USBTxBytes.Inc()
	atomic.AddUint64(&localUSBTx, 1)
}

func IncUARTRx() {
	UARTRxBytes.Inc()
	atomic.AddUint64(&localUARTRx, 1)
}

func IncUARTTx() {
	UARTTxBytes.Inc()
	atomic.AddUint64(&localUARTTx, 1)
}

// IncDropOverflow counts a received byte lost to a full UART-to-USB queue.
func IncDropOverflow() {
	dropOverflow.Inc()
	atomic.AddUint64(&localDropOverflow, 1)
}

// IncDropNotConfigured counts a received byte discarded while the USB link
// was not configured.
func IncDropNotConfigured() {
	dropNotConfigured.Inc()
	atomic.AddUint64(&localDropNotCfg, 1)
}

func IncBackpressure() {
	USBBackpressure.Inc()
	atomic.AddUint64(&localBackpressure, 1)
}

func IncSendRetry() {
	USBSendRetries.Inc()
	atomic.AddUint64(&localRetries, 1)
}

func IncReconfig() {
	LineReconfigs.Inc()
	atomic.AddUint64(&localReconfigs, 1)
}

func SetLinkState(v int) { LinkState.Set(float64(v)) }

func SetStatusLEDs(mask uint8) { StatusLEDs.Set(float64(mask)) }

// SetQueueDepth records both queue depths.
func SetQueueDepth(usbToUART, uartToUSB int) {
	depthUSBToUART.Set(float64(usbToUART))
	depthUARTToUSB.Set(float64(uartToUSB))
}

func IncTapDrop() {
	TapDroppedRecords.Inc()
	atomic.AddUint64(&localTapDrop, 1)
}

func IncTapKick() {
	TapKickedClients.Inc()
	atomic.AddUint64(&localTapKick, 1)
}

func IncTapReject() {
	TapRejectedClients.Inc()
	atomic.AddUint64(&localTapReject, 1)
}

func SetTapClients(n int) {
	TapActiveClients.Set(float64(n))
	atomic.StoreUint64(&localTapClients, uint64(n))
}

func AddTapTx(n int) {
	TapTxRecords.Add(float64(n))
	atomic.AddUint64(&localTapTx, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrSerialOpen, ErrSerialRead, ErrSerialWrite, ErrSerialOverrun,
		ErrUSBRead, ErrUSBWrite, ErrUSBControl, ErrUSBConfig,
		ErrTapAccept, ErrTapRead, ErrTapWrite,
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
