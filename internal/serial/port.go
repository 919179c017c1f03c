package serial

import (
	"time"

	tarm "github.com/tarm/serial"
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Parity and StopBits use the tarm/serial encodings.
type Parity = tarm.Parity

type StopBits = tarm.StopBits

const (
	ParityNone  = tarm.ParityNone
	ParityOdd   = tarm.ParityOdd
	ParityEven  = tarm.ParityEven
	ParityMark  = tarm.ParityMark
	ParitySpace = tarm.ParitySpace

	Stop1     = tarm.Stop1
	Stop1Half = tarm.Stop1Half
	Stop2     = tarm.Stop2
)

// Config describes the framing a port is opened with.
type Config struct {
	Name        string
	Baud        int
	Size        byte // data bits, 0 means 8
	Parity      Parity
	StopBits    StopBits
	ReadTimeout time.Duration
}

func Open(c Config) (Port, error) {
	cfg := &tarm.Config{
		Name:        c.Name,
		Baud:        c.Baud,
		ReadTimeout: c.ReadTimeout,
		Size:        c.Size,
		Parity:      c.Parity,
		StopBits:    c.StopBits,
	}
	p, err := tarm.OpenPort(cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// standardBauds are the rates termios (and therefore tarm/serial on POSIX)
// accepts, ascending.
var standardBauds = []int{
	50, 75, 110, 134, 150, 200, 300, 600, 1200, 1800, 2400, 4800, 9600,
	19200, 38400, 57600, 115200, 230400, 460800, 500000, 576000, 921600,
	1000000, 1152000, 1500000, 2000000, 2500000, 3000000, 3500000, 4000000,
}

// StandardBaud returns the supported rate closest to rate.
func StandardBaud(rate int) int {
	best := standardBauds[0]
	bestDiff := abs(rate - best)
	for _, b := range standardBauds[1:] {
		if d := abs(rate - b); d < bestDiff {
			best, bestDiff = b, d
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
