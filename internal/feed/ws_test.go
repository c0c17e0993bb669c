package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"candle-enginev1/internal/model"

	"github.com/gorilla/websocket"
)

type collectSink struct {
	mu    sync.Mutex
	ticks []model.Tick
}

func (s *collectSink) Push(t model.Tick) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, t)
	return true
}

func (s *collectSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ticks)
}

func (s *collectSink) get(i int) model.Tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks[i]
}

// tickServer serves the given raw messages to every client, then holds the
// connection open.
func tickServer(t *testing.T, messages []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, m := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		// Hold open until the client disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestIngest_StreamsTicksIntoSink(t *testing.T) {
	srv := tickServer(t, []string{
		`{"token":"2885","exchange":"NSE","price":185050,"qty":10,"tick_ts":"2024-01-09T10:00:00+05:30"}`,
		`not json`,
		`{"token":"11536","exchange":"NSE","price":99000,"qty":5,"tick_ts":"2024-01-09T10:00:01+05:30"}`,
	})
	defer srv.Close()

	ing, err := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	if err != nil {
		t.Fatalf("new ingest: %v", err)
	}

	sink := &collectSink{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ing.Start(ctx, sink) }()

	waitFor(t, func() bool { return sink.len() >= 2 })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return after cancel")
	}

	// The malformed message is dropped, not delivered.
	if sink.len() != 2 {
		t.Fatalf("expected 2 ticks, got %d", sink.len())
	}
	first := sink.get(0)
	if first.Token != "2885" || first.Price != 185050 || first.Qty != 10 {
		t.Errorf("unexpected first tick: %+v", first)
	}
	if sink.get(1).Token != "11536" {
		t.Errorf("unexpected second tick: %+v", sink.get(1))
	}
}

func TestIngest_ReconnectsAfterDrop(t *testing.T) {
	var mu sync.Mutex
	connects := 0
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		connects++
		n := connects
		mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// First connection drops immediately; the second serves a tick.
		if n == 1 {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"token":"2885","exchange":"NSE","price":100,"qty":1,"tick_ts":"2024-01-09T10:00:00+05:30"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ing, err := New(Config{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectDelay: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new ingest: %v", err)
	}

	var reconnects atomic.Int32
	ing.OnReconnect = func() { reconnects.Add(1) }

	sink := &collectSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ing.Start(ctx, sink)

	waitFor(t, func() bool { return sink.len() >= 1 })
	if reconnects.Load() == 0 {
		t.Error("expected at least one reconnect")
	}
}
