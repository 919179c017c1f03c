package usart

import "sync"

// Access is one logged register write.
type Access struct {
	Reg   Reg
	Value uint16
}

// MemRegisters is a register file with nothing attached to the wire. Bytes
// written to UDR are collected, received bytes are injected with Feed.
// Status bits in UCSRA other than U2X and MPCM are read-only, as on silicon.
type MemRegisters struct {
	mu      sync.Mutex
	regs    [numRegs]uint16
	rx      uint16
	tx      []byte
	log     []Access
	reads   int
	txReady bool

	// OnWrite, if set, is called after every register write (outside the
	// register lock).
	OnWrite func(Access)
}

// NewMemRegisters returns a register file in its reset state with the
// transmitter reporting ready.
func NewMemRegisters() *MemRegisters { return &MemRegisters{txReady: true} }

func (m *MemRegisters) Read(r Reg) uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch r {
	case UDR:
		m.reads++
		m.regs[UCSRA] &^= RXC | DOR
		return m.rx
	case UCSRA:
		v := m.regs[UCSRA]
		if m.txReady {
			v |= UDRE
		}
		return v
	default:
		return m.regs[r]
	}
}

func (m *MemRegisters) Write(r Reg, v uint16) {
	m.mu.Lock()
	switch r {
	case UDR:
		m.tx = append(m.tx, byte(v))
	case UCSRA:
		m.regs[UCSRA] = m.regs[UCSRA]&^(U2X|MPCM) | v&(U2X|MPCM)
	case UBRR:
		m.regs[UBRR] = v & ubrrMax
	default:
		m.regs[r] = v
	}
	a := Access{Reg: r, Value: v}
	m.log = append(m.log, a)
	cb := m.OnWrite
	m.mu.Unlock()
	if cb != nil {
		cb(a)
	}
}

// Feed latches b as a received byte, setting RXC (and DOR if the previous
// byte was never read).
func (m *MemRegisters) Feed(b byte) {
	m.mu.Lock()
	if m.regs[UCSRA]&RXC != 0 {
		m.regs[UCSRA] |= DOR
	}
	m.rx = uint16(b)
	m.regs[UCSRA] |= RXC
	m.mu.Unlock()
}

// SetTxReady controls the UDRE flag.
func (m *MemRegisters) SetTxReady(ready bool) {
	m.mu.Lock()
	m.txReady = ready
	m.mu.Unlock()
}

// Transmitted returns a copy of every byte written to UDR.
func (m *MemRegisters) Transmitted() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.tx...)
}

// Writes returns a copy of the write log.
func (m *MemRegisters) Writes() []Access {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Access(nil), m.log...)
}

// DataReads returns how many times UDR was read.
func (m *MemRegisters) DataReads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}
