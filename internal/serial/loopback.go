package serial

import (
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by a closed loopback port.
var ErrClosed = errors.New("serial port closed")

const loopbackDepth = 4096

// Loopback is an in-memory Port with TXD wired to RXD. Writes beyond the
// internal buffer are dropped, like a line with nothing draining it.
type Loopback struct {
	ch          chan byte
	done        chan struct{}
	once        sync.Once
	readTimeout time.Duration
}

// NewLoopback returns a loopback port. Read waits at most readTimeout for
// the first byte (forever when zero) and returns 0, nil on timeout.
func NewLoopback(readTimeout time.Duration) *Loopback {
	return &Loopback{
		ch:          make(chan byte, loopbackDepth),
		done:        make(chan struct{}),
		readTimeout: readTimeout,
	}
}

func (l *Loopback) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	var timeout <-chan time.Time
	if l.readTimeout > 0 {
		t := time.NewTimer(l.readTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case b := <-l.ch:
		p[0] = b
	case <-timeout:
		return 0, nil
	case <-l.done:
		return 0, ErrClosed
	}
	n := 1
	for n < len(p) {
		select {
		case b := <-l.ch:
			p[n] = b
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

func (l *Loopback) Write(p []byte) (int, error) {
	select {
	case <-l.done:
		return 0, ErrClosed
	default:
	}
	for _, b := range p {
		select {
		case l.ch <- b:
		default:
		}
	}
	return len(p), nil
}

func (l *Loopback) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}
