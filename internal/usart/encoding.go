package usart

import "fmt"

// Parity uses the CDC SET_LINE_CODING numbering.
type Parity uint8

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
	ParityMark
	ParitySpace
)

func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "none"
	case ParityOdd:
		return "odd"
	case ParityEven:
		return "even"
	case ParityMark:
		return "mark"
	case ParitySpace:
		return "space"
	default:
		return fmt.Sprintf("parity(%d)", uint8(p))
	}
}

// StopBits uses the CDC bCharFormat numbering.
type StopBits uint8

const (
	StopBitsOne StopBits = iota
	StopBitsOneHalf
	StopBitsTwo
)

func (s StopBits) String() string {
	switch s {
	case StopBitsOne:
		return "1"
	case StopBitsOneHalf:
		return "1.5"
	case StopBitsTwo:
		return "2"
	default:
		return fmt.Sprintf("stop(%d)", uint8(s))
	}
}

// LineEncoding is the serial framing requested by the host.
type LineEncoding struct {
	Baud     uint32
	Parity   Parity
	StopBits StopBits
	DataBits uint8
}

func (e LineEncoding) String() string {
	p := "N"
	switch e.Parity {
	case ParityOdd:
		p = "O"
	case ParityEven:
		p = "E"
	case ParityMark:
		p = "M"
	case ParitySpace:
		p = "S"
	}
	return fmt.Sprintf("%d %d%s%s", e.Baud, e.DataBits, p, e.StopBits)
}

// ParityMask returns the UPM bits for p. Parities the USART cannot generate
// fall back to no parity.
func ParityMask(p Parity) uint16 {
	switch p {
	case ParityOdd:
		return UPM1 | UPM0
	case ParityEven:
		return UPM1
	default:
		return 0
	}
}

// DataBitsMask returns the UCSZ bits for a 6, 7 or 8 bit frame. Other widths
// contribute no bits.
func DataBitsMask(bits uint8) uint16 {
	switch bits {
	case 6:
		return UCSZ0
	case 7:
		return UCSZ1
	case 8:
		return UCSZ1 | UCSZ0
	default:
		return 0
	}
}

// ConfigMask builds the UCSRC value for e.
func ConfigMask(e LineEncoding) uint16 {
	m := ParityMask(e.Parity)
	if e.StopBits == StopBitsTwo {
		m |= USBS
	}
	return m | DataBitsMask(e.DataBits)
}

// Divisor2X computes the double-speed asynchronous UBRR value for baud,
// rounding to nearest and clamping to the 12-bit register. ok is false for
// a zero baud rate.
func Divisor2X(clock, baud uint32) (ubrr uint16, ok bool) {
	if baud == 0 {
		return 0, false
	}
	d := (clock/8 + baud/2) / baud
	if d > 0 {
		d--
	}
	if d > ubrrMax {
		d = ubrrMax
	}
	return uint16(d), true
}

// BaudFromDivisor inverts the divisor formula for the given speed mode.
func BaudFromDivisor(clock uint32, ubrr uint16, double bool) uint32 {
	div := uint32(16)
	if double {
		div = 8
	}
	return clock / (div * (uint32(ubrr&ubrrMax) + 1))
}

// Frame decodes the framing fields from a UCSRC value.
func Frame(ucsrc uint16) (dataBits uint8, parity Parity, stop StopBits) {
	switch ucsrc & (UCSZ1 | UCSZ0) {
	case 0:
		dataBits = 5
	case UCSZ0:
		dataBits = 6
	case UCSZ1:
		dataBits = 7
	default:
		dataBits = 8
	}
	switch ucsrc & (UPM1 | UPM0) {
	case UPM1 | UPM0:
		parity = ParityOdd
	case UPM1:
		parity = ParityEven
	default:
		parity = ParityNone
	}
	stop = StopBitsOne
	if ucsrc&USBS != 0 {
		stop = StopBitsTwo
	}
	return dataBits, parity, stop
}
