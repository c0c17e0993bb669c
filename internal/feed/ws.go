// Package feed provides the WebSocket tick feed adapter. It connects to a
// tick relay serving plain-JSON model.Tick messages and pushes normalized
// ticks into a non-blocking sink. The transport is an external collaborator;
// the core only ever sees model.Tick values.
package feed

import (
	"context"
	"encoding/json"
	"log"
	"net/url"
	"time"

	"candle-enginev1/internal/model"

	"github.com/gorilla/websocket"
)

// Config holds configuration for the WS tick feed.
type Config struct {
	// URL of the tick WebSocket server, e.g. "ws://localhost:9001/ws"
	URL string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Sink receives normalized ticks from the reader goroutine. Push must not
// block; it reports whether the tick was accepted. *ringbuf.Ring satisfies
// this.
type Sink interface {
	Push(model.Tick) bool
}

// Ingest streams ticks from the WebSocket relay into a Sink.
type Ingest struct {
	cfg Config

	// Optional hooks.
	OnConnect   func()
	OnReconnect func()
}

// New creates an Ingest. Returns an error if the URL is unparseable.
func New(cfg Config) (*Ingest, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, err
	}
	return &Ingest{cfg: cfg}, nil
}

// Start connects and streams ticks into sink until ctx is cancelled.
// Reconnects automatically with exponential backoff on disconnect.
func (ing *Ingest) Start(ctx context.Context, sink Sink) error {
	delay := ing.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := ing.runOnce(ctx, sink)
		if err == nil {
			return nil // context cancelled cleanly
		}

		log.Printf("[feed] disconnected (%v), reconnecting in %s...", err, delay)
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > ing.cfg.MaxReconnectDelay {
			delay = ing.cfg.MaxReconnectDelay
		}
	}
}

// runOnce performs a single connect-and-read session. Returns nil only on
// context cancellation.
func (ing *Ingest) runOnce(ctx context.Context, sink Sink) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("[feed] connected to %s", ing.cfg.URL)
	if ing.OnConnect != nil {
		ing.OnConnect()
	}

	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		var tick model.Tick
		if err := json.Unmarshal(data, &tick); err != nil {
			log.Printf("[feed] dropping malformed message: %v", err)
			continue
		}

		if !sink.Push(tick) {
			log.Printf("[feed] tick buffer full, dropping tick for %s", tick.Token)
		}
	}
}
