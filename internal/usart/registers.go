// Package usart models the register block of an AVR-style asynchronous
// serial peripheral (ATmega32U4 USART1) and the line-encoding
// reconfiguration sequence run against it.
package usart

// Reg selects one register of the USART block.
type Reg uint8

const (
	UDR   Reg = iota // data: read returns RX byte and clears RXC, write loads TX
	UCSRA            // status / double speed
	UCSRB            // interrupt and enable bits
	UCSRC            // frame format
	UBRR             // 12-bit baud divisor
	PORTD            // GPIO port carrying the TXD pin
	numRegs
)

func (r Reg) String() string {
	switch r {
	case UDR:
		return "UDR"
	case UCSRA:
		return "UCSRA"
	case UCSRB:
		return "UCSRB"
	case UCSRC:
		return "UCSRC"
	case UBRR:
		return "UBRR"
	case PORTD:
		return "PORTD"
	default:
		return "REG?"
	}
}

// UCSRA bits.
const (
	RXC  = 1 << 7 // receive complete
	TXC  = 1 << 6 // transmit complete
	UDRE = 1 << 5 // data register empty
	FE   = 1 << 4 // frame error
	DOR  = 1 << 3 // data overrun
	UPE  = 1 << 2 // parity error
	U2X  = 1 << 1 // double speed
	MPCM = 1 << 0
)

// UCSRB bits.
const (
	RXCIE = 1 << 7
	TXCIE = 1 << 6
	UDRIE = 1 << 5
	RXEN  = 1 << 4
	TXEN  = 1 << 3
	UCSZ2 = 1 << 2
)

// UCSRC bits.
const (
	UPM1  = 1 << 5
	UPM0  = 1 << 4
	USBS  = 1 << 3
	UCSZ1 = 1 << 2
	UCSZ0 = 1 << 1
	UCPOL = 1 << 0
)

// TxPin is the PORTD bit wired to TXD.
const TxPin = 1 << 3

// ubrrMax is the largest divisor the 12-bit UBRR register holds.
const ubrrMax = 0x0FFF

// DefaultClock is the CPU clock (F_CPU) used for divisor math.
const DefaultClock = 16_000_000

// Registers is register-level access to a USART block. Implementations must
// make every individual Read and Write atomic.
type Registers interface {
	Read(r Reg) uint16
	Write(r Reg, v uint16)
}

// TxReady reports whether the transmit data register can take a byte.
func TxReady(regs Registers) bool { return regs.Read(UCSRA)&UDRE != 0 }

// Transmit loads b into the transmit data register.
func Transmit(regs Registers, b byte) { regs.Write(UDR, uint16(b)) }

// Receive reads the receive data register, clearing RXC.
func Receive(regs Registers) byte { return byte(regs.Read(UDR)) }
