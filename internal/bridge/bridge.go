// Package bridge moves bytes between a USB CDC function and a USART.
//
// Two bounded queues connect three actors: the UART receive interrupt fills
// the device-to-host queue, and a cooperative loop (Step / Run) drains it
// into the USB IN endpoint, feeds the host-to-device queue from the USB OUT
// endpoint and shifts that queue out through the UART one byte per
// iteration. Line coding changes from the host reprogram the UART with the
// receive interrupt masked.
package bridge

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-usb-serial-bridge/internal/cdc"
	"github.com/kstaniek/go-usb-serial-bridge/internal/irq"
	"github.com/kstaniek/go-usb-serial-bridge/internal/logging"
	"github.com/kstaniek/go-usb-serial-bridge/internal/metrics"
	"github.com/kstaniek/go-usb-serial-bridge/internal/ringbuf"
	"github.com/kstaniek/go-usb-serial-bridge/internal/status"
	"github.com/kstaniek/go-usb-serial-bridge/internal/trace"
	"github.com/kstaniek/go-usb-serial-bridge/internal/usart"
)

// sleepFn allows tests to intercept idle sleeps.
var sleepFn = time.Sleep

// LinkState is the USB device state as reported by the stack's events.
type LinkState int32

const (
	NotReady LinkState = iota
	Enumerating
	Configured
	Error
)

func (s LinkState) String() string {
	switch s {
	case NotReady:
		return "not_ready"
	case Enumerating:
		return "enumerating"
	case Configured:
		return "configured"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Indication is the LED mask shown for s.
func (s LinkState) Indication() status.Mask {
	switch s {
	case Enumerating:
		return status.Enumerating
	case Configured:
		return status.Ready
	case Error:
		return status.Error
	default:
		return status.NotReady
	}
}

// Bridge is the relay engine. Step and the cdc.Events callbacks run on the
// loop goroutine; ReceiveInterrupt runs wherever the RX line is raised.
type Bridge struct {
	usb  cdc.Transport
	uart usart.Registers
	rx   *irq.Line

	reconf usart.Reconfigurator
	d2h    *ringbuf.Queue // UART RX -> USB IN, filled by the interrupt
	h2d    *ringbuf.Queue // USB OUT -> UART TX

	state atomic.Int32

	queueSize int
	clock     uint32
	indicator status.Indicator
	tap       trace.Sink
	idle      time.Duration
	log       *slog.Logger

	traceBuf []byte
}

var _ cdc.Events = (*Bridge)(nil)

// New wires a bridge between usb and uart. If usb accepts an event sink
// (SetEvents) the bridge installs itself. The link starts NotReady.
func New(usb cdc.Transport, uart usart.Registers, opts ...Option) *Bridge {
	b := &Bridge{
		usb:       usb,
		uart:      uart,
		queueSize: DefaultQueueSize,
		clock:     usart.DefaultClock,
		log:       logging.L(),
	}
	for _, o := range opts {
		o(b)
	}
	if b.rx == nil {
		b.rx = &irq.Line{}
	}
	b.d2h = ringbuf.New(b.queueSize)
	b.h2d = ringbuf.New(b.queueSize)
	b.reconf = usart.Reconfigurator{Regs: uart, RX: b.rx, Clock: b.clock}
	b.setState(NotReady)

	if s, ok := usb.(interface{ SetEvents(cdc.Events) }); ok {
		s.SetEvents(b)
	}
	b.rx.Attach(b.ReceiveInterrupt)
	b.rx.Enable()
	return b
}

// State returns the current link state.
func (b *Bridge) State() LinkState { return LinkState(b.state.Load()) }

// Ready reports whether the host has configured the device.
func (b *Bridge) Ready() bool { return b.State() == Configured }

// RX returns the receive interrupt line the bridge handles.
func (b *Bridge) RX() *irq.Line { return b.rx }

func (b *Bridge) setState(s LinkState) {
	prev := LinkState(b.state.Swap(int32(s)))
	metrics.SetLinkState(int(s))
	if b.indicator != nil {
		b.indicator.SetAll(s.Indication())
	}
	if prev != s {
		b.log.Info("usb_link_state", "from", prev.String(), "to", s.String())
	}
}

// Run calls Step until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	b.log.Info("bridge_start", "queue_size", b.queueSize, "bank_size", b.usb.BankSize(), "idle", b.idle)
	defer b.log.Info("bridge_stop")
	done := ctx.Done()
	for iter := uint64(1); ; iter++ {
		select {
		case <-done:
			return ctx.Err()
		default:
		}
		moved := b.Step()
		if iter%depthSampleEvery == 0 {
			metrics.SetQueueDepth(b.h2d.Count(), b.d2h.Count())
		}
		if !moved && b.idle > 0 {
			sleepFn(b.idle)
		}
	}
}
