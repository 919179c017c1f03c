// Package ringbuf provides the fixed-capacity byte FIFO shared between an
// interrupt-context producer and a main-loop consumer.
package ringbuf

import (
	"errors"
	"sync/atomic"
)

// ErrEmpty is the panic value raised when Remove or Peek is called on an
// empty queue. Callers must check IsEmpty first.
var ErrEmpty = errors.New("ringbuf: remove from empty queue")

// Queue is a bounded single-producer/single-consumer byte queue.
//
// Exactly one goroutine may call Insert and exactly one goroutine may call
// Remove/Peek. The write index belongs to the producer and the read index to
// the consumer; the only shared word is count, which is published with a
// single atomic add after the slot has been written (producer) or read
// (consumer).
type Queue struct {
	buf   []byte
	in    int // producer only
	out   int // consumer only
	count atomic.Uint32
}

// New allocates a queue with the given fixed capacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		panic("ringbuf: capacity must be > 0")
	}
	return &Queue{buf: make([]byte, capacity)}
}

// Insert appends b at the tail. When the queue is full the byte is dropped
// and the queue is left unchanged.
func (q *Queue) Insert(b byte) {
	if q.IsFull() {
		return
	}
	q.buf[q.in] = b
	q.in++
	if q.in == len(q.buf) {
		q.in = 0
	}
	q.count.Add(1)
}

// Remove returns and discards the oldest byte. It panics with ErrEmpty when
// the queue is empty.
func (q *Queue) Remove() byte {
	if q.IsEmpty() {
		panic(ErrEmpty)
	}
	b := q.buf[q.out]
	q.out++
	if q.out == len(q.buf) {
		q.out = 0
	}
	q.count.Add(^uint32(0))
	return b
}

// Peek returns the oldest byte without removing it. It panics with ErrEmpty
// when the queue is empty.
func (q *Queue) Peek() byte {
	if q.IsEmpty() {
		panic(ErrEmpty)
	}
	return q.buf[q.out]
}

// Count returns the number of queued bytes.
func (q *Queue) Count() int { return int(q.count.Load()) }

// Cap returns the fixed capacity.
func (q *Queue) Cap() int { return len(q.buf) }

func (q *Queue) IsEmpty() bool { return q.count.Load() == 0 }

func (q *Queue) IsFull() bool { return int(q.count.Load()) == len(q.buf) }
