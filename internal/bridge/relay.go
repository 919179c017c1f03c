package bridge

import (
	"time"

	"github.com/kstaniek/go-usb-serial-bridge/internal/metrics"
	"github.com/kstaniek/go-usb-serial-bridge/internal/trace"
	"github.com/kstaniek/go-usb-serial-bridge/internal/usart"
)

// ReceiveInterrupt is the UART receive-complete handler. It always reads
// UDR so the hardware flag clears, then keeps the byte only while the link
// is configured and the device-to-host queue has room.
func (b *Bridge) ReceiveInterrupt() {
	c := usart.Receive(b.uart)
	if b.State() != Configured {
		metrics.IncDropNotConfigured()
		return
	}
	if b.d2h.IsFull() {
		metrics.IncDropOverflow()
		return
	}
	b.d2h.Insert(c)
	metrics.IncUARTRx()
}

// Step runs one loop iteration: USB ingestion, the device-to-host relay,
// one byte to the UART, then USB housekeeping. It never blocks and reports
// whether any byte moved.
func (b *Bridge) Step() bool {
	in := b.ingestFromHost()
	up := b.relayToHost()
	out := b.drainToUART()
	b.usb.Task()
	return in || up || out
}

// ingestFromHost reads at most one byte from the OUT endpoint. A full queue
// leaves the byte with the transport.
func (b *Bridge) ingestFromHost() bool {
	if b.h2d.IsFull() {
		metrics.IncBackpressure()
		return false
	}
	c, ok := b.usb.ReceiveByte()
	if !ok {
		return false
	}
	b.h2d.Insert(c)
	metrics.IncUSBRx()
	return true
}

// relayToHost hands up to BankSize-1 queued bytes to the IN endpoint so a
// batch never fills the bank and never needs a zero-length packet. A byte
// is removed only after the transport accepted it; on failure it stays at
// the head for the next iteration.
func (b *Bridge) relayToHost() bool {
	n := b.d2h.Count()
	if n == 0 || !b.usb.INReady() {
		return false
	}
	quota := min(n, b.usb.BankSize()-1)
	tracing := b.tracing()
	sent := 0
	for ; sent < quota; sent++ {
		c := b.d2h.Peek()
		if err := b.usb.SendByte(c); err != nil {
			metrics.IncSendRetry()
			break
		}
		b.d2h.Remove()
		metrics.IncUSBTx()
		if tracing {
			b.traceBuf = append(b.traceBuf, c)
		}
	}
	if tracing {
		b.publish(trace.DeviceToHost)
	}
	return sent > 0
}

// drainToUART moves one byte to the transmitter when it is ready.
func (b *Bridge) drainToUART() bool {
	if b.h2d.IsEmpty() || !usart.TxReady(b.uart) {
		return false
	}
	c := b.h2d.Remove()
	usart.Transmit(b.uart, c)
	if b.tracing() {
		b.traceBuf = append(b.traceBuf, c)
		b.publish(trace.HostToDevice)
	}
	return true
}

func (b *Bridge) tracing() bool {
	if b.tap == nil {
		return false
	}
	if a, ok := b.tap.(interface{ Active() bool }); ok {
		return a.Active()
	}
	return true
}

func (b *Bridge) publish(dir trace.Direction) {
	if len(b.traceBuf) == 0 {
		return
	}
	data := make([]byte, len(b.traceBuf))
	copy(data, b.traceBuf)
	b.traceBuf = b.traceBuf[:0]
	b.tap.Broadcast(trace.Record{Dir: dir, At: time.Now(), Data: data})
}
