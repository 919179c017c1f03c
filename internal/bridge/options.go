package bridge

import (
	"log/slog"
	"time"

	"github.com/kstaniek/go-usb-serial-bridge/internal/irq"
	"github.com/kstaniek/go-usb-serial-bridge/internal/status"
	"github.com/kstaniek/go-usb-serial-bridge/internal/trace"
)

const (
	DefaultQueueSize = 128
	// depthSampleEvery is how many loop iterations pass between queue depth
	// gauge updates.
	depthSampleEvery = 1024
)

// Option configures a Bridge.
type Option func(*Bridge)

// WithQueueSize sets the capacity of both queues.
func WithQueueSize(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithRX sets the receive interrupt line the UART raises. The bridge
// attaches its handler to it.
func WithRX(l *irq.Line) Option { return func(b *Bridge) { b.rx = l } }

// WithClock sets the CPU clock used for baud divisor math.
func WithClock(hz uint32) Option { return func(b *Bridge) { b.clock = hz } }

// WithIndicator sets the status LED output.
func WithIndicator(i status.Indicator) Option { return func(b *Bridge) { b.indicator = i } }

// WithTrace publishes a copy of every moved byte to s.
func WithTrace(s trace.Sink) Option { return func(b *Bridge) { b.tap = s } }

// WithIdle makes Run sleep for d after an iteration that moved nothing.
// Zero keeps the loop spinning.
func WithIdle(d time.Duration) Option { return func(b *Bridge) { b.idle = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}
