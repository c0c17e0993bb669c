// Package api provides the read-only inspection and administrative HTTP
// surface over the candle engine: cache stats, live candles, forced sync,
// and cache/store clears. It is a thin wrapper; all logic lives in the core.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"candle-enginev1/internal/cache"
	"candle-enginev1/internal/model"
)

// Syncer is the force-flush capability exposed by the rollover synchronizer.
type Syncer interface {
	ForceSyncAll(ctx context.Context) error
}

// Wiper clears durable rows, used by the administrative reset flow.
type Wiper interface {
	DeleteAllCandles(ctx context.Context) (int64, error)
}

// Handler serves the inspection endpoints.
type Handler struct {
	cache  *cache.Cache
	syncer Syncer
	wiper  Wiper // may be nil
}

// NewHandler creates a Handler.
func NewHandler(c *cache.Cache, s Syncer, w Wiper) *Handler {
	return &Handler{cache: c, syncer: s, wiper: w}
}

// NewRouter sets up the HTTP routes.
func NewRouter(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/api/v1/cache/stats", h.cacheStats)
	mux.HandleFunc("/api/v1/candles/live", h.liveCandles)
	mux.HandleFunc("/api/v1/sync", h.forceSync)
	mux.HandleFunc("/api/v1/cache", h.clearCache)

	return mux
}

// cacheStats returns the live-candle counts.
// GET /api/v1/cache/stats
func (h *Handler) cacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	writeJSON(w, http.StatusOK, h.cache.Stats())
}

// liveCandles returns live candles, optionally filtered.
// GET /api/v1/candles/live?token=2885&granularity=5m
func (h *Handler) liveCandles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	granParam := strings.TrimSpace(r.URL.Query().Get("granularity"))

	var g model.Granularity
	if granParam != "" {
		var err error
		if g, err = model.ParseGranularity(granParam); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	var candles []model.Candle
	if token == "" {
		candles = h.cache.Snapshot()
		if g != "" {
			filtered := candles[:0]
			for _, c := range candles {
				if c.Granularity == g {
					filtered = append(filtered, c)
				}
			}
			candles = filtered
		}
	} else {
		candles = h.cache.Live(token, g)
	}
	if candles == nil {
		candles = []model.Candle{}
	}

	writeJSON(w, http.StatusOK, struct {
		Count   int            `json:"count"`
		Candles []model.Candle `json:"candles"`
	}{len(candles), candles})
}

// forceSync flushes every live candle synchronously.
// POST /api/v1/sync
func (h *Handler) forceSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	start := time.Now()
	if err := h.syncer.ForceSyncAll(ctx); err != nil {
		log.Printf("[api] force sync failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"synced":   h.cache.Len(),
		"duration": time.Since(start).String(),
	})
}

// clearCache clears the live cache (and durable rows when ?durable=true).
// DELETE /api/v1/cache
func (h *Handler) clearCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "DELETE only")
		return
	}

	cleared := h.cache.Clear()
	resp := map[string]any{"cleared_count": cleared}

	if r.URL.Query().Get("durable") == "true" && h.wiper != nil {
		n, err := h.wiper.DeleteAllCandles(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["durable_deleted"] = n
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
