// Package ringbuf provides a lock-free single-producer single-consumer ring
// buffer for model.Tick, used between the WebSocket feed reader and the
// aggregation pump. Cache-line padding keeps the producer and consumer
// indices off each other's lines.
package ringbuf

import (
	"sync/atomic"

	"candle-enginev1/internal/model"
)

const cacheLine = 64

// Ring is a lock-free SPSC ring buffer for Tick values.
// Capacity is a power of two for bitwise modulo.
type Ring struct {
	buf  []model.Tick
	mask uint64

	_pad0 [cacheLine]byte
	head  atomic.Uint64 // written by the producer
	_pad1 [cacheLine]byte
	tail  atomic.Uint64 // written by the consumer
	_pad2 [cacheLine]byte

	overflow atomic.Uint64
}

// New creates a ring buffer. capacity is rounded up to the next power of two,
// minimum 2.
func New(capacity int) *Ring {
	n := nextPow2(capacity)
	if n < 2 {
		n = 2
	}
	return &Ring{
		buf:  make([]model.Tick, n),
		mask: uint64(n - 1),
	}
}

// Push appends a tick. Returns false without writing when the buffer is
// full; the drop is counted in Overflow. Non-blocking, producer side only.
func (r *Ring) Push(t model.Tick) bool {
	head := r.head.Load()
	tail := r.tail.Load()

	if head-tail >= uint64(len(r.buf)) {
		r.overflow.Add(1)
		return false
	}

	r.buf[head&r.mask] = t
	r.head.Store(head + 1)
	return true
}

// Pop retrieves the next tick. Returns false when the buffer is empty.
// Non-blocking, consumer side only.
func (r *Ring) Pop() (model.Tick, bool) {
	tail := r.tail.Load()
	head := r.head.Load()

	if tail >= head {
		return model.Tick{}, false
	}

	t := r.buf[tail&r.mask]
	r.tail.Store(tail + 1)
	return t, true
}

// Len returns the current number of buffered ticks.
func (r *Ring) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Cap returns the buffer capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Overflow returns the total number of pushes dropped on a full buffer.
func (r *Ring) Overflow() uint64 {
	return r.overflow.Load()
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
