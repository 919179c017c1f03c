// Package trace carries copies of the bytes the bridge moves, for passive
// monitoring.
package trace

import "time"

// Direction of a traced transfer.
type Direction uint8

const (
	HostToDevice Direction = iota // USB OUT to UART TX
	DeviceToHost                  // UART RX to USB IN
)

func (d Direction) String() string {
	if d == DeviceToHost {
		return "d2h"
	}
	return "h2d"
}

// Record is one batch of bytes moved in one direction during a single loop
// iteration. Data is owned by the record.
type Record struct {
	Dir  Direction
	At   time.Time
	Data []byte
}

const hexDigits = "0123456789abcdef"

// AppendText appends the monitor line form of r: the direction followed by
// the bytes in hex, e.g. "d2h 48 69\n".
func (r Record) AppendText(b []byte) []byte {
	b = append(b, r.Dir.String()...)
	for _, c := range r.Data {
		b = append(b, ' ', hexDigits[c>>4], hexDigits[c&0x0f])
	}
	return append(b, '\n')
}

// Sink accepts records without blocking.
type Sink interface {
	Broadcast(r Record)
}
