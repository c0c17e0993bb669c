package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"candle-enginev1/internal/model"
	"candle-enginev1/internal/session"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Tick feed
	FeedURL string

	// Infrastructure
	RedisAddr     string // empty disables the Redis snapshot publisher
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	APIAddr       string
	LogLevel      string

	// Aggregation
	EnabledGranularities string // comma-separated, e.g. "1m,5m,15m,1h,1d"
	RolloverSeconds      int    // rollover cycle period
	SyncBudgetSeconds    int    // per-cycle time budget

	// Session calendar (exchange-local "HH:MM" boundaries)
	SessionZone   string // IANA name or "IST"
	PreOpenTime   string
	DiscoveryTime string
	OpenTime      string
	CloseTime     string
	PostCloseTime string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		FeedURL: getEnv("FEED_URL", "ws://localhost:9001/ws"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/candles.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		APIAddr:       getEnv("API_ADDR", ":8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		EnabledGranularities: getEnv("ENABLED_GRANULARITIES", "1m,3m,5m,10m,15m,30m,1h,2h,4h,1d,7d,1M"),
		RolloverSeconds:      getEnvInt("ROLLOVER_SECONDS", 10),
		SyncBudgetSeconds:    getEnvInt("SYNC_BUDGET_SECONDS", 8),

		SessionZone:   getEnv("SESSION_ZONE", "IST"),
		PreOpenTime:   getEnv("SESSION_PRE_OPEN", "09:00"),
		DiscoveryTime: getEnv("SESSION_DISCOVERY", "09:08"),
		OpenTime:      getEnv("SESSION_OPEN", "09:15"),
		CloseTime:     getEnv("SESSION_CLOSE", "15:30"),
		PostCloseTime: getEnv("SESSION_POST_CLOSE", "17:00"),
	}
}

// ParseGranularities parses EnabledGranularities, skipping invalid entries.
func (c *Config) ParseGranularities() []model.Granularity {
	parts := strings.Split(c.EnabledGranularities, ",")
	out := make([]model.Granularity, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		g, err := model.ParseGranularity(p)
		if err != nil {
			log.Printf("[config] skipping invalid granularity %q", p)
			continue
		}
		out = append(out, g)
	}
	return out
}

// SessionConfig builds the session clock configuration from the boundary
// strings. Fails on unparseable times or an unknown zone.
func (c *Config) SessionConfig() (session.Config, error) {
	loc := session.IST
	if c.SessionZone != "" && c.SessionZone != "IST" {
		var err error
		loc, err = time.LoadLocation(c.SessionZone)
		if err != nil {
			return session.Config{}, fmt.Errorf("config: unknown session zone %q: %w", c.SessionZone, err)
		}
	}

	cfg := session.Config{Location: loc, Holidays: session.NSEHolidays2026()}
	for _, b := range []struct {
		name string
		val  string
		dst  *int
	}{
		{"SESSION_PRE_OPEN", c.PreOpenTime, &cfg.PreOpenMin},
		{"SESSION_DISCOVERY", c.DiscoveryTime, &cfg.DiscoveryMin},
		{"SESSION_OPEN", c.OpenTime, &cfg.OpenMin},
		{"SESSION_CLOSE", c.CloseTime, &cfg.CloseMin},
		{"SESSION_POST_CLOSE", c.PostCloseTime, &cfg.PostCloseMin},
	} {
		m, err := parseMinuteOfDay(b.val)
		if err != nil {
			return session.Config{}, fmt.Errorf("config: %s: %w", b.name, err)
		}
		*b.dst = m
	}
	return cfg, nil
}

func parseMinuteOfDay(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
