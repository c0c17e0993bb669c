// cmd/ticksim — local WebSocket tick simulator.
// Serves random-walk ticks in the same JSON shape the live feed produces, so
// candleserver can run end to end without a real exchange feed.
//
// Config (env vars):
//
//	TICKSIM_ADDR            — listen address (default ":9001")
//	TICKSIM_TOKENS          — comma-separated TOKEN:EXCHANGE pairs (default "2885:NSE")
//	TICKSIM_INTERVAL_MS     — emit interval per instrument (default 100)
//	TICKSIM_IGNORE_SESSION  — "true" emits around the clock; otherwise the
//	                          simulator stays quiet while the session is closed
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"candle-enginev1/internal/model"
	"candle-enginev1/internal/session"

	"github.com/gorilla/websocket"
)

// instrument holds per-symbol random-walk state.
type instrument struct {
	token    string
	exchange string
	price    int64 // paise
}

// hub fans one tick stream out to every connected client.
type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client, drop
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[ticksim] upgrade error: %v", err)
			return
		}
		log.Printf("[ticksim] client connected: %s", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[ticksim] client disconnected: %s", r.RemoteAddr)
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// walk applies a ±0.1% random step, floored at 1 paise.
func walk(rng *rand.Rand, price int64) int64 {
	pct := (rng.Float64()*0.2 - 0.1) / 100.0
	next := price + int64(float64(price)*pct)
	if next < 100 {
		next = 100
	}
	return next
}

func generate(ctx context.Context, h *hub, clock *session.Clock, instruments []instrument, interval time.Duration, ignoreSession bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	quiet := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !ignoreSession && clock.Phase(time.Now()) == session.Closed {
			if !quiet {
				log.Printf("[ticksim] session closed, pausing until %s", clock.NextOpen(time.Now()).Format(time.RFC3339))
				quiet = true
			}
			continue
		}
		quiet = false

		for i := range instruments {
			instruments[i].price = walk(rng, instruments[i].price)
			tk := model.Tick{
				Token:    instruments[i].token,
				Exchange: instruments[i].exchange,
				Price:    instruments[i].price,
				Qty:      int64(rng.Intn(100) + 1),
				TickTS:   time.Now().UTC(),
			}
			h.broadcast(tk.JSON())
		}
	}
}

func parseInstruments(s string) []instrument {
	var out []instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		seg := strings.SplitN(part, ":", 2)
		if len(seg) != 2 {
			log.Printf("[ticksim] skipping invalid token spec %q", part)
			continue
		}
		out = append(out, instrument{
			token:    strings.TrimSpace(seg[0]),
			exchange: strings.TrimSpace(seg[1]),
			price:    100000_00, // start at ₹1000.00
		})
	}
	return out
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	addr := getEnv("TICKSIM_ADDR", ":9001")
	tokens := getEnv("TICKSIM_TOKENS", "2885:NSE")
	intervalMs := getEnvInt("TICKSIM_INTERVAL_MS", 100)
	ignoreSession := getEnv("TICKSIM_IGNORE_SESSION", "") == "true"

	instruments := parseInstruments(tokens)
	if len(instruments) == 0 {
		log.Fatal("[ticksim] no instruments configured via TICKSIM_TOKENS")
	}
	log.Printf("[ticksim] %d instruments, interval %dms, ignore_session=%v",
		len(instruments), intervalMs, ignoreSession)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHub()
	clock := session.New(session.DefaultConfig())
	go generate(ctx, h, clock, instruments, time.Duration(intervalMs)*time.Millisecond, ignoreSession)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(h))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"ticksim"}`)
	})
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		cancel()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[ticksim] listening on %s (ws://localhost%s/ws)", addr, addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("[ticksim] server error: %v", err)
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
