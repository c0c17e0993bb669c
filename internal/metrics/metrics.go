// Package metrics exposes Prometheus metrics and a health endpoint for the
// candle engine.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the candle engine.
type Metrics struct {
	TicksTotal        prometheus.Counter
	TicksDroppedClose prometheus.Counter
	TicksStale        prometheus.Counter
	TicksRejected     prometheus.Counter

	CandlesCreated   *prometheus.CounterVec // labels: granularity
	CandlesFinalized *prometheus.CounterVec // labels: granularity
	CandlesSeeded    *prometheus.CounterVec // labels: granularity
	FinalizeErrors   prometheus.Counter
	LiveCandles      prometheus.Gauge

	RolloverCycleDur prometheus.Histogram
	CycleDeferred    prometheus.Counter
	TickRingDropped  prometheus.Gauge

	// Redis publish path
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedCandles     prometheus.Counter

	// Session
	SessionPhase prometheus.Gauge // 0=closed .. 4=post-market
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleserver_ticks_total",
			Help: "Ticks accepted by the aggregation engine",
		}),
		TicksDroppedClose: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleserver_ticks_dropped_closed_total",
			Help: "Ticks dropped because the market session was closed",
		}),
		TicksStale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleserver_ticks_stale_total",
			Help: "Tick/granularity updates skipped because the bucket already ended",
		}),
		TicksRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleserver_ticks_rejected_total",
			Help: "Malformed ticks rejected by validation",
		}),
		CandlesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candleserver_candles_created_total",
			Help: "Live candles created (by granularity)",
		}, []string{"granularity"}),
		CandlesFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candleserver_candles_finalized_total",
			Help: "Candles finalized to the durable store (by granularity)",
		}, []string{"granularity"}),
		CandlesSeeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candleserver_candles_seeded_total",
			Help: "Next-bucket candles seeded at rollover (by granularity)",
		}, []string{"granularity"}),
		FinalizeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleserver_finalize_errors_total",
			Help: "Finalize upserts that failed and will be retried",
		}),
		LiveCandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "candleserver_live_candles",
			Help: "Current number of live candles in the cache",
		}),
		RolloverCycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "candleserver_rollover_cycle_duration_seconds",
			Help:    "Rollover cycle duration",
			Buckets: prometheus.DefBuckets,
		}),
		CycleDeferred: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleserver_rollover_deferred_total",
			Help: "Candles deferred to the next cycle by the per-cycle budget",
		}),
		TickRingDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "candleserver_tick_ring_dropped_total",
			Help: "Ticks dropped on a full feed ring buffer since startup",
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "candleserver_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleserver_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedCandles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleserver_redis_buffered_candles_total",
			Help: "Candles buffered locally while the Redis circuit was open",
		}),
		SessionPhase: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "candleserver_session_phase",
			Help: "Current session phase (0=closed, 1=pre, 2=discovery, 3=active, 4=post)",
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.TicksDroppedClose,
		m.TicksStale,
		m.TicksRejected,
		m.CandlesCreated,
		m.CandlesFinalized,
		m.CandlesSeeded,
		m.FinalizeErrors,
		m.LiveCandles,
		m.RolloverCycleDur,
		m.CycleDeferred,
		m.TickRingDropped,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedCandles,
		m.SessionPhase,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool
	LastTickTime   time.Time
	RedisConnected bool
	SQLiteOK       bool
	Granularities  []string

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetGranularities(gs []string) {
	h.mu.Lock()
	h.Granularities = gs
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx is done.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overall := "healthy"
	code := http.StatusOK
	if !h.FeedConnected || !h.SQLiteOK {
		overall = "degraded"
		code = http.StatusServiceUnavailable
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string   `json:"status"`
		Uptime          string   `json:"uptime"`
		FeedConnected   bool     `json:"feed_connected"`
		LastTickTime    string   `json:"last_tick_time"`
		TickAge         string   `json:"tick_age"`
		RedisConnected  bool     `json:"redis_connected"`
		RedisLatencyMs  float64  `json:"redis_latency_ms"`
		SQLiteOK        bool     `json:"sqlite_ok"`
		SQLiteLatencyMs float64  `json:"sqlite_latency_ms"`
		Granularities   []string `json:"granularities"`
		LastCheckAt     string   `json:"last_check_at"`
	}{
		Status:          overall,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		Granularities:   h.Granularities,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
