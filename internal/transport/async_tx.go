package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// AsyncTx funnels byte writes through a single goroutine (fan-in). Enqueue
// never blocks: if the internal buffer is full, SendByte invokes the
// configured OnDrop hook and returns its error. With a one-slot buffer the
// free slot behaves like a USART data register and Ready like its UDRE flag.
//
// Life-cycle:
//
//	a := NewAsyncTx(ctx, buf, sendFn, hooks)
//	a.SendByte(b)
//	a.Close()
//
// After Close returns no more bytes are processed and SendByte returns
// ErrAsyncTxClosed.
type AsyncTx struct {
	mu     sync.Mutex
	ch     chan byte
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(byte) error
	hooks  Hooks
	closed atomic.Bool
	busy   atomic.Bool // a byte has been taken from ch and is being sent
}

// Hooks customize AsyncTx behavior.
type Hooks struct {
	// OnError is called when send returns a non-nil error (byte not sent).
	OnError func(error)
	// OnAfter is called only after a successful send.
	OnAfter func()
	// OnDrop is called when the buffer is full; its returned error is returned
	// from SendByte. If nil, the overflow is silent.
	OnDrop func() error
}

var ErrAsyncTxClosed = errors.New("async tx closed")

// NewAsyncTx constructs an AsyncTx with a buffered channel of size buf.
func NewAsyncTx(parent context.Context, buf int, send func(byte) error, hooks Hooks) *AsyncTx {
	if buf <= 0 {
		buf = 1
	}
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx{
		ch:     make(chan byte, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx) loop() {
	defer a.wg.Done()
	for {
		select {
		case b, ok := <-a.ch:
			if !ok {
				return
			}
			a.busy.Store(true)
			err := a.send(b)
			a.busy.Store(false)
			if err != nil {
				if a.hooks.OnError != nil {
					a.hooks.OnError(err)
				}
				continue
			}
			if a.hooks.OnAfter != nil {
				a.hooks.OnAfter()
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// SendByte queues b for asynchronous transmission or returns the drop error
// if the buffer is full.
func (a *AsyncTx) SendByte(b byte) error {
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	select {
	case a.ch <- b:
		return nil
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop()
		}
		return nil
	}
}

// Ready reports whether SendByte would accept a byte without dropping.
func (a *AsyncTx) Ready() bool {
	return !a.closed.Load() && len(a.ch) < cap(a.ch)
}

// Idle reports whether nothing is queued or in flight.
func (a *AsyncTx) Idle() bool { return len(a.ch) == 0 && !a.busy.Load() }

// Close stops the worker and waits for it to exit. Queued bytes are
// discarded.
func (a *AsyncTx) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}
