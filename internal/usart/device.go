package usart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/kstaniek/go-usb-serial-bridge/internal/irq"
	"github.com/kstaniek/go-usb-serial-bridge/internal/logging"
	"github.com/kstaniek/go-usb-serial-bridge/internal/metrics"
	"github.com/kstaniek/go-usb-serial-bridge/internal/serial"
)

const (
	readBufSize  = 256
	rxBackoffMin = 20 * time.Millisecond
	rxBackoffMax = 500 * time.Millisecond
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// ErrPortClosed is returned for transmissions while no port is open.
var ErrPortClosed = errors.New("usart: wire not open")

// DeviceConfig wires a Device to the outside world.
type DeviceConfig struct {
	// Name is the serial device path handed to Open.
	Name        string
	ReadTimeout time.Duration
	// Clock is the CPU clock used to turn UBRR back into a baud rate.
	Clock uint32
	// Open opens the wire; defaults to serial.Open.
	Open func(serial.Config) (serial.Port, error)
	// RX is the receive-complete interrupt line.
	RX     *irq.Line
	Logger *slog.Logger
}

// Device emulates the USART peripheral on top of a serial.Port. Enabling the
// receiver or transmitter in UCSRB opens the port with the framing currently
// programmed in UBRR, UCSRA and UCSRC; disabling both closes it. Received
// bytes are latched into UDR one at a time and raise the RX interrupt.
type Device struct {
	cfg DeviceConfig
	ctx context.Context
	log *slog.Logger
	tx  *serial.TXWriter

	mu         sync.Mutex
	regs       [numRegs]uint16
	rx         byte
	port       serial.Port
	portCancel context.CancelFunc
	gen        uint64
	active     serial.Config

	wg sync.WaitGroup
}

var _ Registers = (*Device)(nil)

// NewDevice returns a Device in its reset state (disabled, no port open).
func NewDevice(ctx context.Context, cfg DeviceConfig) *Device {
	if cfg.Open == nil {
		cfg.Open = serial.Open
	}
	if cfg.Clock == 0 {
		cfg.Clock = DefaultClock
	}
	d := &Device{cfg: cfg, ctx: ctx, log: cfg.Logger}
	if d.log == nil {
		d.log = logging.L()
	}
	d.tx = serial.NewTXWriter(ctx, d.writeWire)
	return d
}

func (d *Device) Read(r Reg) uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch r {
	case UDR:
		d.regs[UCSRA] &^= RXC | DOR | FE | UPE
		return uint16(d.rx)
	case UCSRA:
		v := d.regs[UCSRA]
		if d.regs[UCSRB]&TXEN != 0 && d.tx.Ready() {
			v |= UDRE
		}
		return v
	default:
		return d.regs[r]
	}
}

func (d *Device) Write(r Reg, v uint16) {
	switch r {
	case UDR:
		d.mu.Lock()
		enabled := d.regs[UCSRB]&TXEN != 0
		d.mu.Unlock()
		if enabled {
			_ = d.tx.SendByte(byte(v))
		}
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch r {
	case UCSRA:
		d.regs[UCSRA] = d.regs[UCSRA]&^(U2X|MPCM) | v&(U2X|MPCM)
	case UCSRB:
		old := d.regs[UCSRB]
		d.regs[UCSRB] = v
		wasOn := old&(RXEN|TXEN) != 0
		on := v&(RXEN|TXEN) != 0
		if v&RXEN == 0 {
			d.regs[UCSRA] &^= RXC | DOR | FE | UPE
		}
		switch {
		case wasOn && !on:
			d.closePortLocked()
		case !wasOn && on:
			d.openPortLocked()
		}
	case UBRR:
		d.regs[UBRR] = v & ubrrMax
	default:
		d.regs[r] = v
	}
}

// Active returns the framing the wire is currently open with.
func (d *Device) Active() (serial.Config, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active, d.port != nil
}

// Close disables the peripheral and waits for its goroutines.
func (d *Device) Close() {
	d.mu.Lock()
	d.closePortLocked()
	d.mu.Unlock()
	d.tx.Close()
	d.wg.Wait()
}

func (d *Device) wireConfigLocked() serial.Config {
	double := d.regs[UCSRA]&U2X != 0
	rate := BaudFromDivisor(d.cfg.Clock, d.regs[UBRR], double)
	bits, parity, stop := Frame(d.regs[UCSRC])
	c := serial.Config{
		Name:        d.cfg.Name,
		Baud:        serial.StandardBaud(int(rate)),
		Size:        bits,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: d.cfg.ReadTimeout,
	}
	switch parity {
	case ParityOdd:
		c.Parity = serial.ParityOdd
	case ParityEven:
		c.Parity = serial.ParityEven
	}
	if stop == StopBitsTwo {
		c.StopBits = serial.Stop2
	}
	return c
}

func (d *Device) openPortLocked() {
	c := d.wireConfigLocked()
	p, err := d.cfg.Open(c)
	if err != nil {
		metrics.IncError(metrics.ErrSerialOpen)
		d.log.Error("serial_open_error", "device", c.Name, "baud", c.Baud, "error", err)
		return
	}
	ctx, cancel := context.WithCancel(d.ctx)
	d.gen++
	d.port, d.portCancel, d.active = p, cancel, c
	d.wg.Add(1)
	go d.pump(ctx, p, d.gen)
	d.log.Info("serial_open", "device", c.Name, "baud", c.Baud, "framing", framing(c))
}

func (d *Device) closePortLocked() {
	if d.port == nil {
		return
	}
	d.portCancel()
	_ = d.port.Close()
	d.port, d.portCancel = nil, nil
	d.gen++
	d.log.Debug("serial_close", "device", d.cfg.Name)
}

func (d *Device) writeWire(p []byte) (int, error) {
	d.mu.Lock()
	port := d.port
	d.mu.Unlock()
	if port == nil {
		return 0, ErrPortClosed
	}
	return port.Write(p)
}

// pump reads the wire and latches bytes into UDR until ctx ends or the port
// fails permanently.
func (d *Device) pump(ctx context.Context, p serial.Port, gen uint64) {
	defer d.wg.Done()
	defer d.log.Debug("serial_rx_end", "device", d.cfg.Name)
	buf := make([]byte, readBufSize)
	backoff := rxBackoffMin
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := p.Read(buf)
		for _, b := range buf[:n] {
			d.receive(gen, b)
		}
		if n > 0 {
			backoff = rxBackoffMin
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		var perr *os.PathError
		if errors.As(err, &perr) || errors.Is(err, serial.ErrClosed) {
			return // device removed or port closed underneath us
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			continue
		}
		metrics.IncError(metrics.ErrSerialRead)
		d.log.Warn("serial_read_error", "error", err, "backoff", backoff)
		sleepFn(backoff)
		backoff *= 2
		if backoff > rxBackoffMax {
			backoff = rxBackoffMax
		}
	}
}

// receive latches b into UDR and raises the RX interrupt. A byte arriving
// for a port generation that has since been closed, or while the receiver
// is disabled, is lost as it would be on the wire.
func (d *Device) receive(gen uint64, b byte) {
	latch := func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		if gen != d.gen || d.regs[UCSRB]&RXEN == 0 {
			return false
		}
		if d.regs[UCSRA]&RXC != 0 {
			d.regs[UCSRA] |= DOR
		}
		d.rx = b
		d.regs[UCSRA] |= RXC
		return d.regs[UCSRB]&RXCIE != 0
	}
	if d.cfg.RX == nil {
		latch()
		return
	}
	d.cfg.RX.Raise(latch)
}

func framing(c serial.Config) string {
	stop := "1"
	if c.StopBits == serial.Stop2 {
		stop = "2"
	}
	return fmt.Sprintf("%d%c%s", c.Size, byte(c.Parity), stop)
}
