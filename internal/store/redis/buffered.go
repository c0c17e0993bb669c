package redis

import (
	"context"
	"log"
	"sync"

	"candle-enginev1/internal/model"
)

// publishFunc is the write path the buffered publisher wraps; *Publisher
// satisfies it.
type publishFunc interface {
	Publish(ctx context.Context, candles []model.Candle) error
}

// BufferedPublisher wraps a Publisher with a circuit breaker. While the
// circuit is open, candles are buffered locally and replayed when the
// circuit closes again, so a Redis outage only delays downstream visibility.
type BufferedPublisher struct {
	pub publishFunc
	cb  *CircuitBreaker

	mu     sync.Mutex
	buffer []model.Candle
	maxBuf int // oldest entries are dropped past this (default 10000)

	// Callbacks (optional, for metrics).
	OnBuffer func(count int)
	OnFlush  func(count int)
}

// NewBufferedPublisher wraps pub with cb. maxBufferSize <= 0 selects the
// default of 10000 buffered candles.
func NewBufferedPublisher(pub publishFunc, cb *CircuitBreaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bp := &BufferedPublisher{
		pub:    pub,
		cb:     cb,
		buffer: make([]model.Candle, 0, 256),
		maxBuf: maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bp.flush()
		}
	}
	return bp
}

// Publish sends candles through the circuit breaker, buffering them locally
// when the circuit is open. Implements rollover.SnapshotPublisher.
func (bp *BufferedPublisher) Publish(ctx context.Context, candles []model.Candle) error {
	err := bp.cb.Execute(func() error {
		return bp.pub.Publish(ctx, candles)
	})
	if err == ErrCircuitOpen {
		bp.bufferCandles(candles)
		return nil // buffered, not lost
	}
	return err
}

func (bp *BufferedPublisher) bufferCandles(candles []model.Candle) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	bp.buffer = append(bp.buffer, candles...)
	if over := len(bp.buffer) - bp.maxBuf; over > 0 {
		bp.buffer = bp.buffer[over:]
	}
	if bp.OnBuffer != nil {
		bp.OnBuffer(len(candles))
	}
}

// flush replays the buffered candles after the circuit closes. Later
// snapshots of the same key overwrite earlier ones in Redis, so replay order
// is already correct.
func (bp *BufferedPublisher) flush() {
	bp.mu.Lock()
	pending := bp.buffer
	bp.buffer = make([]model.Candle, 0, 256)
	bp.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	if err := bp.pub.Publish(context.Background(), pending); err != nil {
		log.Printf("[redis] flush of %d buffered candles failed: %v", len(pending), err)
		bp.bufferCandles(pending)
		return
	}

	log.Printf("[redis] flushed %d buffered candles after circuit close", len(pending))
	if bp.OnFlush != nil {
		bp.OnFlush(len(pending))
	}
}

// Buffered returns the number of candles currently buffered.
func (bp *BufferedPublisher) Buffered() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}
