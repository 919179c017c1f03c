package bridge

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kstaniek/go-usb-serial-bridge/internal/cdc"
	"github.com/kstaniek/go-usb-serial-bridge/internal/hub"
	"github.com/kstaniek/go-usb-serial-bridge/internal/irq"
	"github.com/kstaniek/go-usb-serial-bridge/internal/logging"
	"github.com/kstaniek/go-usb-serial-bridge/internal/metrics"
	"github.com/kstaniek/go-usb-serial-bridge/internal/serial"
	"github.com/kstaniek/go-usb-serial-bridge/internal/status"
	"github.com/kstaniek/go-usb-serial-bridge/internal/trace"
	"github.com/kstaniek/go-usb-serial-bridge/internal/usart"
)

type ledRecorder struct {
	mu    sync.Mutex
	masks []status.Mask
}

func (r *ledRecorder) SetAll(m status.Mask) {
	r.mu.Lock()
	r.masks = append(r.masks, m)
	r.mu.Unlock()
}

func (r *ledRecorder) get() []status.Mask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]status.Mask(nil), r.masks...)
}

type rig struct {
	b    *Bridge
	usb  *cdc.Mem
	regs *usart.MemRegisters
	leds *ledRecorder
}

func newRig(t *testing.T, opts ...Option) *rig {
	t.Helper()
	r := &rig{usb: cdc.NewMem(64), regs: usart.NewMemRegisters(), leds: &ledRecorder{}}
	opts = append([]Option{WithLogger(logging.Discard()), WithIndicator(r.leds)}, opts...)
	r.b = New(r.usb, r.regs, opts...)
	return r
}

// uartRX latches c into the receive register and raises the interrupt.
func (r *rig) uartRX(c byte) {
	r.regs.Feed(c)
	r.b.RX().Raise(nil)
}

func drainQueue(b *Bridge) []byte {
	var out []byte
	for !b.d2h.IsEmpty() {
		out = append(out, b.d2h.Remove())
	}
	return out
}

func TestLosslessHostToDevice(t *testing.T) {
	r := newRig(t, WithQueueSize(128))
	r.usb.Attach()

	in := make([]byte, 300)
	for i := range in {
		in[i] = byte(i * 7)
	}
	r.usb.HostWrite(in)

	before := metrics.Snap().Backpressure
	for i := 0; i < 5000 && len(r.regs.Transmitted()) < len(in); i++ {
		r.regs.SetTxReady(i%2 == 0) // UART drains at half the ingest rate
		r.b.Step()
		if c := r.b.h2d.Count(); c < 0 || c > 128 {
			t.Fatalf("count out of bounds: %d", c)
		}
	}
	if got := r.regs.Transmitted(); !bytes.Equal(got, in) {
		t.Fatalf("UART output differs: got %d bytes", len(got))
	}
	if metrics.Snap().Backpressure == before {
		t.Fatalf("expected the host side to be throttled at least once")
	}
}

func TestOneByteToUARTPerStep(t *testing.T) {
	r := newRig(t)
	r.usb.Attach()
	r.usb.HostWrite([]byte("abc"))
	r.b.Step()
	r.b.Step()
	r.b.Step()
	if got := string(r.regs.Transmitted()); got != "abc" {
		t.Fatalf("after three steps got %q", got)
	}

	r.regs.SetTxReady(false)
	r.usb.HostWrite([]byte("d"))
	r.b.Step()
	if len(r.regs.Transmitted()) != 3 || r.b.h2d.Count() != 1 {
		t.Fatalf("byte written while transmitter busy")
	}
}

func TestDeviceToHostOverflowDrops(t *testing.T) {
	r := newRig(t, WithQueueSize(128))
	r.usb.Attach()
	for i := 0; i < 128; i++ {
		r.uartRX(byte(i))
	}
	if !r.b.d2h.IsFull() {
		t.Fatalf("queue not full: %d", r.b.d2h.Count())
	}
	before := metrics.Snap().DropOverflow
	for i := 0; i < 5; i++ {
		r.uartRX(byte(200 + i))
	}
	if r.b.d2h.Count() != 128 {
		t.Fatalf("count %d", r.b.d2h.Count())
	}
	if d := metrics.Snap().DropOverflow - before; d != 5 {
		t.Fatalf("expected 5 overflow drops, got %d", d)
	}
	if r.regs.DataReads() != 133 {
		t.Fatalf("UDR must be read on every interrupt, got %d reads", r.regs.DataReads())
	}
	got := drainQueue(r.b)
	for i, c := range got {
		if c != byte(i) {
			t.Fatalf("content changed at %d: %d", i, c)
		}
	}
}

func TestReceiveDroppedUntilConfigured(t *testing.T) {
	r := newRig(t)
	before := metrics.Snap().DropNotReady
	r.uartRX('x')
	if !r.b.d2h.IsEmpty() {
		t.Fatalf("byte queued while not configured")
	}
	if r.regs.DataReads() != 1 {
		t.Fatalf("UDR not read")
	}
	if r.regs.Read(usart.UCSRA)&usart.RXC != 0 {
		t.Fatalf("RXC still set")
	}
	if metrics.Snap().DropNotReady != before+1 {
		t.Fatalf("drop not counted")
	}

	r.usb.Attach()
	r.uartRX('y')
	if r.b.d2h.Count() != 1 || r.b.d2h.Peek() != 'y' {
		t.Fatalf("byte not queued once configured")
	}
}

func TestSendRetryKeepsOrder(t *testing.T) {
	r := newRig(t)
	r.usb.Attach()
	for _, c := range []byte("ABC") {
		r.uartRX(c)
	}
	r.usb.FailSends(1, 1) // A goes through, B fails

	if moved := r.b.relayToHost(); !moved {
		t.Fatalf("A should have moved")
	}
	if r.b.d2h.Count() != 2 || r.b.d2h.Peek() != 'B' {
		t.Fatalf("queue should hold [B C], count=%d", r.b.d2h.Count())
	}
	if r.usb.Pending() != 1 {
		t.Fatalf("bank should hold A only, has %d", r.usb.Pending())
	}

	r.b.Step()
	r.b.Step()
	if got := string(r.usb.Received()); got != "ABC" {
		t.Fatalf("host got %q", got)
	}
	if !r.b.d2h.IsEmpty() {
		t.Fatalf("queue not drained")
	}
}

func TestRelayQuotaLeavesOneByteFree(t *testing.T) {
	r := newRig(t, WithQueueSize(200))
	r.usb.Attach()
	for i := 0; i < 150; i++ {
		r.uartRX(byte(i))
	}
	r.b.relayToHost()
	if r.usb.Pending() != 63 {
		t.Fatalf("first batch %d bytes, want 63", r.usb.Pending())
	}
	for i := 0; i < 5; i++ {
		r.b.Step()
	}
	if f := r.usb.Flushes(); len(f) < 3 || f[0] != 63 || f[1] != 63 || f[2] != 24 {
		t.Fatalf("flushes %v", f)
	}
	got := r.usb.Received()
	for i, c := range got {
		if c != byte(i) {
			t.Fatalf("order broken at %d", i)
		}
	}
	if len(got) != 150 {
		t.Fatalf("host got %d bytes", len(got))
	}
}

func TestRelayWaitsForINEndpoint(t *testing.T) {
	r := newRig(t)
	r.usb.Attach()
	r.uartRX('z')
	r.usb.Hold(true)
	if r.b.relayToHost() {
		t.Fatalf("relay moved bytes while IN not ready")
	}
	if r.b.d2h.Count() != 1 || r.usb.Pending() != 0 {
		t.Fatalf("state changed while IN not ready")
	}
	r.usb.Hold(false)
	r.b.Step()
	if string(r.usb.Received()) != "z" {
		t.Fatalf("host got %q", r.usb.Received())
	}
}

func TestStepAlwaysRunsTask(t *testing.T) {
	r := newRig(t)
	for i := 0; i < 3; i++ {
		if r.b.Step() {
			t.Fatalf("idle step reported progress")
		}
	}
	if r.usb.Tasks() != 3 {
		t.Fatalf("Task ran %d times", r.usb.Tasks())
	}
}

func TestLinkStateTransitions(t *testing.T) {
	r := newRig(t)
	if r.b.State() != NotReady {
		t.Fatalf("initial state %v", r.b.State())
	}
	r.usb.Attach()
	if !r.b.Ready() {
		t.Fatalf("state %v after attach", r.b.State())
	}
	r.usb.Detach()
	if r.b.State() != NotReady {
		t.Fatalf("state %v after detach", r.b.State())
	}
	r.usb.FailConfigure(true)
	r.usb.Attach()
	if r.b.State() != Error {
		t.Fatalf("state %v after failed configuration", r.b.State())
	}

	want := []status.Mask{status.NotReady, status.Enumerating, status.Ready, status.NotReady, status.Enumerating, status.Error}
	got := r.leds.get()
	if len(got) != len(want) {
		t.Fatalf("leds %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("leds %v want %v", got, want)
		}
	}
}

func TestHostLineCodingReconfiguresUART(t *testing.T) {
	r := newRig(t)
	r.usb.Attach()
	r.usb.HostSetLineCoding(cdc.LineCoding{DTERate: 9600, CharFormat: cdc.CharFormat1Stop, ParityType: cdc.ParityNone, DataBits: 8})

	ucsrc := r.regs.Read(usart.UCSRC)
	if ucsrc&(usart.UCSZ1|usart.UCSZ0) != usart.UCSZ1|usart.UCSZ0 {
		t.Fatalf("8-bit pattern missing: %#02x", ucsrc)
	}
	if ucsrc&(usart.UPM1|usart.UPM0|usart.USBS) != 0 {
		t.Fatalf("unexpected parity/stop bits: %#02x", ucsrc)
	}
	if ubrr := r.regs.Read(usart.UBRR); ubrr != (usart.DefaultClock/8+9600/2)/9600-1 {
		t.Fatalf("UBRR=%d", ubrr)
	}

	var sawDisable bool
	for _, w := range r.regs.Writes() {
		if w.Reg == usart.UCSRB && w.Value&(usart.TXEN|usart.RXEN|usart.RXCIE) == 0 {
			sawDisable = true
		}
	}
	if !sawDisable {
		t.Fatalf("transmitter/receiver never disabled")
	}
	if got := r.regs.Read(usart.UCSRB); got != usart.RXCIE|usart.TXEN|usart.RXEN {
		t.Fatalf("UCSRB=%#02x at end of sequence", got)
	}
	if r.b.RX().IsMasked() {
		t.Fatalf("RX interrupt left masked")
	}
	if r.usb.LineCoding().DTERate != 9600 {
		t.Fatalf("class did not record the coding")
	}
}

func TestReconfigureMasksReceiveInterrupt(t *testing.T) {
	r := newRig(t)
	r.usb.Attach()
	var inside atomic.Bool
	var overlapped atomic.Bool
	r.regs.OnWrite = func(a usart.Access) {
		if a.Reg == usart.UBRR {
			inside.Store(true)
			done := make(chan struct{})
			go func() {
				r.uartRX('q')
				close(done)
			}()
			select {
			case <-done:
				overlapped.Store(true)
			case <-time.After(20 * time.Millisecond):
			}
			inside.Store(false)
		}
	}
	r.b.ApplyLineEncoding(usart.LineEncoding{Baud: 19200, DataBits: 8})
	if overlapped.Load() {
		t.Fatalf("receive interrupt ran inside the reconfiguration")
	}
	deadline := time.Now().Add(time.Second)
	for r.b.d2h.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("interrupt not delivered after reconfiguration")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestTraceRecordsBothDirections(t *testing.T) {
	h := hub.New()
	cl := hub.NewClient(16)
	h.Add(cl)
	defer h.Remove(cl)

	r := newRig(t, WithTrace(h))
	r.usb.Attach()
	r.usb.HostWrite([]byte{0x41})
	r.uartRX(0x42)
	r.b.Step()

	got := map[trace.Direction][]byte{}
	for len(cl.Out) > 0 {
		rec := <-cl.Out
		got[rec.Dir] = append(got[rec.Dir], rec.Data...)
	}
	if !bytes.Equal(got[trace.HostToDevice], []byte{0x41}) || !bytes.Equal(got[trace.DeviceToHost], []byte{0x42}) {
		t.Fatalf("trace %v", got)
	}
}

func TestRunIdlesAndStops(t *testing.T) {
	var sleeps atomic.Int64
	orig := sleepFn
	sleepFn = func(time.Duration) { sleeps.Add(1) }
	t.Cleanup(func() { sleepFn = orig })

	r := newRig(t, WithIdle(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.b.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for sleeps.Load() < 10 {
		if time.Now().After(deadline) {
			t.Fatalf("loop never idled")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
}

// TestEchoThroughDevice runs the loop against the emulated USART wired to a
// loopback line: host bytes go out on TX, come back on RX and reach the host.
func TestEchoThroughDevice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rx := &irq.Line{}
	dev := usart.NewDevice(ctx, usart.DeviceConfig{
		Name:   "loop",
		Open:   func(serial.Config) (serial.Port, error) { return serial.NewLoopback(5 * time.Millisecond), nil },
		RX:     rx,
		Logger: logging.Discard(),
	})
	defer dev.Close()

	usb := cdc.NewMem(64)
	b := New(usb, dev, WithRX(rx), WithLogger(logging.Discard()), WithIdle(50*time.Microsecond))
	usb.Attach()
	usb.HostSetLineCoding(cdc.LineCoding{DTERate: 115200, DataBits: 8})
	if c, open := dev.Active(); !open || c.Baud != 115200 {
		t.Fatalf("wire not opened at 115200: %+v open=%v", c, open)
	}

	errc := make(chan error, 1)
	go func() { errc <- b.Run(ctx) }()

	msg := []byte("hello, bridge")
	usb.HostWrite(msg)
	deadline := time.Now().Add(3 * time.Second)
	for !bytes.Equal(usb.Received(), msg) {
		if time.Now().After(deadline) {
			t.Fatalf("host got %q", usb.Received())
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-errc
}
