package usart

import "github.com/kstaniek/go-usb-serial-bridge/internal/irq"

// Settings is what Apply wrote to the block.
type Settings struct {
	Control uint16 // UCSRC
	Divisor uint16 // UBRR
	// DivisorKept is set when the request carried no usable baud rate and the
	// previous divisor was written back.
	DivisorKept bool
}

// Reconfigurator rewrites the USART framing from a LineEncoding. It is the
// only writer of the control registers.
type Reconfigurator struct {
	Regs Registers
	// RX is the receive interrupt line; the whole sequence runs masked.
	RX    *irq.Line
	Clock uint32
}

// Apply reprograms the block for e:
//
//  1. hold TXD idle high
//  2. disable RX/TX and the RX interrupt, clear the control registers
//  3. load the double-speed divisor
//  4. write the frame format, double speed and re-enable RX, TX, RXCIE
//  5. release TXD
//
// Unsupported parity and data-bit values fall back to their no-bit default.
func (c *Reconfigurator) Apply(e LineEncoding) Settings {
	clock := c.Clock
	if clock == 0 {
		clock = DefaultClock
	}
	s := Settings{Control: ConfigMask(e)}

	if c.RX != nil {
		c.RX.Mask()
		defer c.RX.Unmask()
	}
	regs := c.Regs

	prev := regs.Read(UBRR)
	regs.Write(PORTD, regs.Read(PORTD)|TxPin)

	regs.Write(UCSRB, 0)
	regs.Write(UCSRA, 0)
	regs.Write(UCSRC, 0)

	if d, ok := Divisor2X(clock, e.Baud); ok {
		s.Divisor = d
	} else {
		s.Divisor, s.DivisorKept = prev, true
	}
	regs.Write(UBRR, s.Divisor)

	regs.Write(UCSRC, s.Control)
	regs.Write(UCSRA, U2X)
	regs.Write(UCSRB, RXCIE|TXEN|RXEN)

	regs.Write(PORTD, regs.Read(PORTD)&^TxPin)
	return s
}
