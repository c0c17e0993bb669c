package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"candle-enginev1/config"
	"candle-enginev1/internal/api"
	"candle-enginev1/internal/cache"
	"candle-enginev1/internal/engine"
	"candle-enginev1/internal/feed"
	"candle-enginev1/internal/logger"
	"candle-enginev1/internal/metrics"
	"candle-enginev1/internal/model"
	"candle-enginev1/internal/ringbuf"
	"candle-enginev1/internal/rollover"
	"candle-enginev1/internal/scheduler"
	"candle-enginev1/internal/session"
	redisstore "candle-enginev1/internal/store/redis"
	sqlitestore "candle-enginev1/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := config.Load()
	slogger := logger.Init("candleserver", logger.ParseLevel(cfg.LogLevel))
	slogger.Info("starting candleserver")

	sessCfg, err := cfg.SessionConfig()
	if err != nil {
		log.Fatalf("[main] session config: %v", err)
	}
	clock := session.New(sessCfg)
	if clock.Phase(time.Now()) == session.Closed {
		slogger.Info("market closed", "next_open", clock.NextOpen(time.Now()).Format(time.RFC3339))
	}

	grans := cfg.ParseGranularities()
	if len(grans) == 0 {
		log.Fatal("[main] no valid granularities configured")
	}
	log.Printf("[main] enabled granularities: %v", grans)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	granNames := make([]string, len(grans))
	for i, g := range grans {
		granNames[i] = string(g)
	}
	health.SetGranularities(granNames)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Durable store (SQLite) ----
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[main] sqlite: %v", err)
	}
	defer store.Close()

	// ---- Redis snapshot publisher (optional) ----
	var snapPub rollover.SnapshotPublisher
	var redisPub *redisstore.Publisher
	if cfg.RedisAddr != "" {
		redisPub, err = redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Printf("[main] redis unavailable, snapshot publishing disabled: %v", err)
		} else {
			cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
			cb.OnStateChange = func(from, to redisstore.State) {
				log.Printf("[redis] circuit breaker %s -> %s", from, to)
				prom.RedisCircuitBreakerState.Set(float64(to))
				if to == redisstore.StateOpen {
					prom.RedisCircuitBreakerTrips.Inc()
				}
			}
			buffered := redisstore.NewBufferedPublisher(redisPub, cb, 10000)
			buffered.OnBuffer = func(n int) { prom.RedisBufferedCandles.Add(float64(n)) }
			snapPub = buffered
		}
	}

	// ---- Core: cache, engine, rollover ----
	liveCache := cache.New()
	tickRing := ringbuf.New(8192)

	eng := engine.New(clock, liveCache, store, grans)
	eng.OnTick = func() {
		prom.TicksTotal.Inc()
		health.SetLastTickTime(time.Now())
	}
	eng.OnClosedDrop = prom.TicksDroppedClose.Inc
	eng.OnStaleTick = prom.TicksStale.Inc
	eng.OnCandleCreated = func(g model.Granularity) {
		prom.CandlesCreated.WithLabelValues(string(g)).Inc()
	}

	syncer := rollover.New(liveCache, clock, store, snapPub)
	syncer.Budget = time.Duration(cfg.SyncBudgetSeconds) * time.Second
	syncer.OnFinalized = func(g model.Granularity) {
		prom.CandlesFinalized.WithLabelValues(string(g)).Inc()
	}
	syncer.OnSeeded = func(g model.Granularity) {
		prom.CandlesSeeded.WithLabelValues(string(g)).Inc()
	}
	syncer.OnFinalizeError = prom.FinalizeErrors.Inc
	syncer.OnBudgetExcess = func(remaining int) {
		prom.CycleDeferred.Add(float64(remaining))
	}

	// ---- Graceful shutdown context ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- Rollover scheduler ----
	runner := scheduler.Every(time.Duration(cfg.RolloverSeconds)*time.Second, func(ctx context.Context) {
		start := time.Now()
		syncer.RunCycle(ctx)
		prom.RolloverCycleDur.Observe(time.Since(start).Seconds())
		prom.LiveCandles.Set(float64(liveCache.Len()))
		prom.SessionPhase.Set(float64(clock.Phase(time.Now())))
		prom.TickRingDropped.Set(float64(tickRing.Overflow()))
	})
	go runner.Run(ctx)

	// ---- Liveness checks ----
	if redisPub != nil {
		health.StartLivenessChecker(ctx, redisPub.Client(), store.DB(), 15*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, store.DB(), 15*time.Second)
	}

	// ---- Inspection API ----
	handler := api.NewHandler(liveCache, syncer, store)
	apiSrv := &http.Server{Addr: cfg.APIAddr, Handler: api.NewRouter(handler)}
	go func() {
		log.Printf("[api] listening on %s", cfg.APIAddr)
		if err := apiSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()

	// ---- Tick feed ----
	ingest, err := feed.New(feed.Config{URL: cfg.FeedURL})
	if err != nil {
		log.Fatalf("[main] feed: %v", err)
	}
	ingest.OnConnect = func() { health.SetFeedConnected(true) }
	ingest.OnReconnect = func() { health.SetFeedConnected(false) }
	go func() {
		if err := ingest.Start(ctx, tickRing); err != nil {
			log.Printf("[feed] stopped: %v", err)
		}
	}()

	// ---- Tick pump ----
	go func() {
		idle := time.NewTicker(time.Millisecond)
		defer idle.Stop()
		for {
			tick, ok := tickRing.Pop()
			if !ok {
				select {
				case <-ctx.Done():
					return
				case <-idle.C:
				}
				continue
			}
			if err := eng.ProcessTick(ctx, tick); err != nil {
				prom.TicksRejected.Inc()
				log.Printf("[engine] rejected tick for %q: %v", tick.Token, err)
			}
		}
	}()

	// ---- Wait for shutdown signal ----
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	slogger.Info("shutting down")

	cancel()

	// Best-effort final flush of all live candles.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer flushCancel()
	if err := syncer.ForceSyncAll(flushCtx); err != nil {
		log.Printf("[main] final flush failed: %v", err)
	} else {
		log.Printf("[main] final flush complete (%d live candles)", liveCache.Len())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	apiSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
	if redisPub != nil {
		redisPub.Close()
	}
	slogger.Info("shutdown complete")
}
