package cdc

import "sync"

// Mem is an in-memory Transport with a scripted host on the other side.
// Bytes the host writes are returned by ReceiveByte; bytes sent to the IN
// bank are delivered to the host on the next Task.
type Mem struct {
	Class

	mu          sync.Mutex
	bank        int
	configured  bool
	configFails bool
	held        bool
	sendsOK     int
	failSends   int
	out         []byte
	in          []byte
	received    []byte
	flushes     []int
	tasks       int
}

var _ Transport = (*Mem)(nil)

// NewMem returns a detached transport with the given IN bank size.
func NewMem(bank int) *Mem { return &Mem{bank: bank} }

func (m *Mem) ReceiveByte() (byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.configured || len(m.out) == 0 {
		return 0, false
	}
	b := m.out[0]
	m.out = m.out[1:]
	return b, true
}

func (m *Mem) INReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configured && !m.held && len(m.in) == 0
}

func (m *Mem) SendByte(b byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSends > 0 {
		if m.sendsOK == 0 {
			m.failSends--
			return ErrBankFull
		}
		m.sendsOK--
	}
	if !m.configured {
		return ErrNotConfigured
	}
	if len(m.in) >= m.bank {
		return ErrBankFull
	}
	m.in = append(m.in, b)
	return nil
}

func (m *Mem) BankSize() int { return m.bank }

func (m *Mem) Task() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks++
	if m.held || len(m.in) == 0 {
		return
	}
	m.received = append(m.received, m.in...)
	m.flushes = append(m.flushes, len(m.in))
	m.in = m.in[:0]
}

func (m *Mem) ConfigureEndpoints() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configured = !m.configFails && m.bank > 1
	return m.configured
}

// Attach simulates enumeration: the host connects and selects the
// configuration.
func (m *Mem) Attach() {
	if ev := m.sink(); ev != nil {
		ev.Connect()
		ev.ConfigurationChanged()
	}
}

// Detach simulates unplugging the cable.
func (m *Mem) Detach() {
	m.mu.Lock()
	m.configured = false
	m.in = m.in[:0]
	m.out = nil
	m.mu.Unlock()
	if ev := m.sink(); ev != nil {
		ev.Disconnect()
	}
}

// HostSetLineCoding issues SET_LINE_CODING from the host.
func (m *Mem) HostSetLineCoding(lc LineCoding) {
	if ev := m.sink(); ev != nil {
		ev.ControlRequest(NewSetLineCoding(lc))
	}
}

// HostWrite queues bytes from the host on the OUT endpoint.
func (m *Mem) HostWrite(p []byte) {
	m.mu.Lock()
	m.out = append(m.out, p...)
	m.mu.Unlock()
}

// Received returns a copy of everything delivered to the host.
func (m *Mem) Received() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.received...)
}

// Flushes returns the size of every IN bank delivered so far.
func (m *Mem) Flushes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.flushes...)
}

// Pending returns the bytes sitting in the IN bank.
func (m *Mem) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.in)
}

// Tasks returns how many times Task ran.
func (m *Mem) Tasks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks
}

// Hold stalls the IN endpoint (the host stops polling it).
func (m *Mem) Hold(held bool) {
	m.mu.Lock()
	m.held = held
	m.mu.Unlock()
}

// FailSends lets the next after SendByte calls through and fails the n
// calls that follow.
func (m *Mem) FailSends(after, n int) {
	m.mu.Lock()
	m.sendsOK, m.failSends = after, n
	m.mu.Unlock()
}

// FailConfigure makes ConfigureEndpoints report failure.
func (m *Mem) FailConfigure(fail bool) {
	m.mu.Lock()
	m.configFails = fail
	m.mu.Unlock()
}
