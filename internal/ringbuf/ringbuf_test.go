package ringbuf

import (
	"errors"
	"runtime"
	"sync"
	"testing"
)

func TestQueueFIFOLaw(t *testing.T) {
	for _, n := range []int{1, 7, 64, 128} {
		q := New(128)
		for i := 0; i < n; i++ {
			q.Insert(byte(i * 3))
		}
		if q.Count() != n {
			t.Fatalf("n=%d: count=%d", n, q.Count())
		}
		for i := 0; i < n; i++ {
			if got := q.Remove(); got != byte(i*3) {
				t.Fatalf("n=%d: remove %d got %d want %d", n, i, got, byte(i*3))
			}
		}
		if !q.IsEmpty() {
			t.Fatalf("n=%d: expected empty queue", n)
		}
	}
}

func TestQueueOverflowIsNoop(t *testing.T) {
	q := New(128)
	for i := 0; i < 128; i++ {
		q.Insert(byte(i))
	}
	if !q.IsFull() {
		t.Fatalf("expected full queue")
	}
	for i := 0; i < 5; i++ {
		q.Insert(0xFF)
	}
	if q.Count() != 128 {
		t.Fatalf("count changed on overflow: %d", q.Count())
	}
	for i := 0; i < 128; i++ {
		if got := q.Remove(); got != byte(i) {
			t.Fatalf("slot %d overwritten: got %d", i, got)
		}
	}
}

func TestQueueEmptyPreconditions(t *testing.T) {
	q := New(4)
	if !q.IsEmpty() {
		t.Fatalf("new queue must be empty")
	}
	for name, fn := range map[string]func(){
		"remove": func() { q.Remove() },
		"peek":   func() { q.Peek() },
	} {
		func() {
			defer func() {
				r := recover()
				err, ok := r.(error)
				if !ok || !errors.Is(err, ErrEmpty) {
					t.Fatalf("%s on empty: expected ErrEmpty panic, got %v", name, r)
				}
			}()
			fn()
		}()
	}
	q.Insert(9)
	if q.IsEmpty() {
		t.Fatalf("queue with one byte reported empty")
	}
	if q.Peek() != 9 || q.Count() != 1 {
		t.Fatalf("peek must not consume")
	}
}

func TestQueueMatchesSliceModel(t *testing.T) {
	q := New(5) // non power of two
	var model []byte
	next := byte(0)
	for round := 0; round < 300; round++ {
		for i := 0; i < round%7; i++ {
			q.Insert(next)
			if len(model) < 5 {
				model = append(model, next)
			}
			next++
		}
		for i := 0; i < round%4 && len(model) > 0; i++ {
			if got := q.Remove(); got != model[0] {
				t.Fatalf("round %d: got %d want %d", round, got, model[0])
			}
			model = model[1:]
		}
		if q.Count() != len(model) {
			t.Fatalf("round %d: count=%d model=%d", round, q.Count(), len(model))
		}
		if q.Count() < 0 || q.Count() > q.Cap() {
			t.Fatalf("count out of bounds: %d", q.Count())
		}
		if q.IsFull() != (len(model) == q.Cap()) {
			t.Fatalf("round %d: IsFull mismatch", round)
		}
	}
}

func TestQueueConcurrentSPSC(t *testing.T) {
	const total = 100000
	q := New(128)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			if q.IsFull() {
				runtime.Gosched()
				continue
			}
			q.Insert(byte(i))
			i++
		}
	}()
	for i := 0; i < total; {
		if q.IsEmpty() {
			runtime.Gosched()
			continue
		}
		if got := q.Remove(); got != byte(i) {
			t.Fatalf("out of order at %d: got %d", i, got)
		}
		i++
	}
	wg.Wait()
	if !q.IsEmpty() {
		t.Fatalf("expected drained queue, count=%d", q.Count())
	}
}

func TestNewRejectsZeroCapacity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for zero capacity")
		}
	}()
	New(0)
}
