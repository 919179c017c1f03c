package serial

import (
	"context"
	"errors"

	"github.com/kstaniek/go-usb-serial-bridge/internal/logging"
	"github.com/kstaniek/go-usb-serial-bridge/internal/metrics"
	"github.com/kstaniek/go-usb-serial-bridge/internal/transport"
)

var ErrTxOverrun = errors.New("serial tx data register full")

// TXWriter is the transmit side of the wire: one data register slot in front
// of a goroutine that shifts bytes out through write.
type TXWriter struct{ base *transport.AsyncTx }

// NewTXWriter creates a writer whose bytes go to write (typically the
// currently open Port).
func NewTXWriter(parent context.Context, write func([]byte) (int, error)) *TXWriter {
	var one [1]byte
	send := func(b byte) error {
		one[0] = b
		_, err := write(one[:])
		return err
	}
	hooks := transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrSerialWrite)
			logging.L().Error("serial_write_error", "error", err)
		},
		OnAfter: func() { metrics.IncUARTTx() },
		OnDrop: func() error {
			metrics.IncError(metrics.ErrSerialOverrun)
			return ErrTxOverrun
		},
	}
	return &TXWriter{base: transport.NewAsyncTx(parent, 1, send, hooks)}
}

// SendByte loads b into the data register (ErrTxOverrun if still occupied).
func (w *TXWriter) SendByte(b byte) error { return w.base.SendByte(b) }

// Ready reports the UDRE condition.
func (w *TXWriter) Ready() bool { return w.base.Ready() }

// Idle reports that the data register and shifter are both empty.
func (w *TXWriter) Idle() bool { return w.base.Idle() }

// Close stops the writer and waits for pending goroutine exit.
func (w *TXWriter) Close() { w.base.Close() }
