// Package redis publishes live-candle snapshots to Redis so downstream
// consumers get near-real-time data without reading the in-memory cache.
// Publishing sits behind a circuit breaker with local buffering: a Redis
// outage never affects tick processing or rollover correctness.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"candle-enginev1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Stream trimming: roughly one trading day of cycle snapshots + buffer.
	streamMaxLen     = 4000
	defaultLatestTTL = 30 * time.Minute
)

// Config configures the publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher writes candle snapshots to Redis: a latest-value key with TTL,
// a trimmed stream for short history, and a pubsub channel for live readers.
type Publisher struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a Publisher and pings the server.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// Publish writes all candles in a single pipeline. Returns the pipeline
// error so the circuit breaker can observe failures.
func (p *Publisher) Publish(ctx context.Context, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	pipe := p.client.Pipeline()
	for i := range candles {
		c := &candles[i]
		jsonData := string(c.JSON())
		suffix := string(c.Granularity) + ":" + c.Exchange + ":" + c.Token

		pipe.Set(ctx, "candle:latest:"+suffix, jsonData, defaultLatestTTL)
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: "candle:" + suffix,
			MaxLen: streamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Publish(ctx, "pub:candle:"+suffix, jsonData)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish pipeline (%d candles): %w", len(candles), err)
	}
	return nil
}

// Close releases the client.
func (p *Publisher) Close() error { return p.client.Close() }
