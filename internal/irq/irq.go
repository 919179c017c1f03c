// Package irq models a single hardware interrupt source delivered to a Go
// handler. The line is held for the whole of a delivery, so a masked section
// and a running handler never overlap, and a raise issued while the line is
// masked stays pending until Unmask.
package irq

import (
	"sync"
	"sync/atomic"
)

// Line is one interrupt source. The zero value is disabled and has no
// handler attached.
type Line struct {
	mu      sync.Mutex
	handler func()
	enabled atomic.Bool
	masked  atomic.Bool
	fired   atomic.Uint64
}

// Attach installs the interrupt service routine. It waits for any in-flight
// delivery to finish.
func (l *Line) Attach(h func()) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

// Enable turns on delivery (the global interrupt enable).
func (l *Line) Enable() { l.enabled.Store(true) }

// Disable turns off delivery. Raise still runs latch so hardware flags
// keep their state.
func (l *Line) Disable() { l.enabled.Store(false) }

// Raise runs latch and then, when latch reports the interrupt flag set and
// the line is enabled, the handler to completion. Both run while holding the
// line. It returns whether the handler ran.
func (l *Line) Raise(latch func() bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	pending := true
	if latch != nil {
		pending = latch()
	}
	if !pending || !l.enabled.Load() || l.handler == nil {
		return false
	}
	l.handler()
	l.fired.Add(1)
	return true
}

// Mask blocks delivery until Unmask. It waits for a running handler to
// return first.
func (l *Line) Mask() {
	l.mu.Lock()
	l.masked.Store(true)
}

// Unmask releases a Mask. Pending raises are delivered afterwards.
func (l *Line) Unmask() {
	l.masked.Store(false)
	l.mu.Unlock()
}

// Masked runs fn as a critical section with respect to the handler.
func (l *Line) Masked(fn func()) {
	l.Mask()
	defer l.Unmask()
	fn()
}

// IsMasked reports whether a critical section currently holds the line.
func (l *Line) IsMasked() bool { return l.masked.Load() }

// Fired returns the number of handler invocations so far.
func (l *Line) Fired() uint64 { return l.fired.Load() }
