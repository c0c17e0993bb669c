package ringbuf

import (
	"strconv"
	"testing"

	"candle-enginev1/internal/model"
)

func tick(i int) model.Tick {
	return model.Tick{Token: strconv.Itoa(i), Price: int64(i)}
}

func TestPushPopOrder(t *testing.T) {
	r := New(8)
	for i := 0; i < 5; i++ {
		if !r.Push(tick(i)) {
			t.Fatalf("push %d refused", i)
		}
	}
	if r.Len() != 5 {
		t.Errorf("Len = %d", r.Len())
	}
	for i := 0; i < 5; i++ {
		got, ok := r.Pop()
		if !ok || got.Price != int64(i) {
			t.Fatalf("pop %d: got %+v ok=%v", i, got, ok)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Error("pop on empty must fail")
	}
}

func TestFullBufferDropsAndCounts(t *testing.T) {
	r := New(4)
	for i := 0; i < 4; i++ {
		r.Push(tick(i))
	}
	if r.Push(tick(99)) {
		t.Error("push on full must be refused")
	}
	if r.Overflow() != 1 {
		t.Errorf("Overflow = %d", r.Overflow())
	}

	// Popping one frees a slot.
	r.Pop()
	if !r.Push(tick(5)) {
		t.Error("push after pop must succeed")
	}
}

func TestCapacityRoundsToPow2(t *testing.T) {
	cases := map[int]int{0: 2, 1: 2, 2: 2, 3: 4, 5: 8, 8: 8, 1000: 1024}
	for in, want := range cases {
		if got := New(in).Cap(); got != want {
			t.Errorf("New(%d).Cap() = %d, want %d", in, got, want)
		}
	}
}

func TestWrapAround(t *testing.T) {
	r := New(4)
	for i := 0; i < 100; i++ {
		if !r.Push(tick(i)) {
			t.Fatalf("push %d refused", i)
		}
		got, ok := r.Pop()
		if !ok || got.Price != int64(i) {
			t.Fatalf("pop %d: got %+v", i, got)
		}
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	const n = 100000
	r := New(1024)
	done := make(chan int64)

	go func() {
		var sum int64
		received := 0
		for received < n {
			tk, ok := r.Pop()
			if !ok {
				continue
			}
			sum += tk.Price
			received++
		}
		done <- sum
	}()

	var want int64
	for i := 1; i <= n; i++ {
		for !r.Push(model.Tick{Token: "x", Price: int64(i)}) {
		}
		want += int64(i)
	}

	if got := <-done; got != want {
		t.Errorf("checksum mismatch: got %d, want %d", got, want)
	}
}
