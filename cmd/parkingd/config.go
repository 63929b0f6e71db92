package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/xraph/parking/types"
)

// Config is the daemon configuration, read from the environment after an
// optional .env file.
type Config struct {
	Addr            string
	Store           string
	Spaces          []SpaceSeed
	Rates           []RateSeed
	ClaimAttempts   int
	OverstayEvery   string
	MaxStay         time.Duration
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	LockTTL         time.Duration
	AMQPURL         string
	ShutdownTimeout time.Duration
	Debug           bool
}

// SpaceSeed provisions Count spaces of Class in Lot at startup.
type SpaceSeed struct {
	Lot   string
	Class string
	Count int
}

// RateSeed installs a rate plan at startup.
type RateSeed struct {
	Class  string
	Base   types.Money
	Hourly types.Money
}

// LoadConfig reads the daemon configuration.
//
//	PARKING_ADDR               listen address (":8080")
//	PARKING_STORE              storage backend ("memory")
//	PARKING_SPACES             lot:class:count,...  ("lot-1:standard:10")
//	PARKING_RATES              class:base:hourly[:currency],...  ("standard:500:300:usd")
//	PARKING_CLAIM_ATTEMPTS     candidate spaces tried per entry (3)
//	PARKING_OVERSTAY_SCHEDULE  cron spec of the overstay sweep, empty disables it
//	PARKING_MAX_STAY           stay after which a session is reported (24h)
//	PARKING_REDIS_ADDR         enables the Redis locker when set
//	PARKING_AMQP_URL           enables the RabbitMQ publisher when set
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not load .env file", "error", err)
	}

	cfg := &Config{
		Addr:            envStr("PARKING_ADDR", ":8080"),
		ClaimAttempts:   envInt("PARKING_CLAIM_ATTEMPTS", 3),
		OverstayEvery:   envStr("PARKING_OVERSTAY_SCHEDULE", ""),
		MaxStay:         envDur("PARKING_MAX_STAY", 24*time.Hour),
		RedisAddr:       envStr("PARKING_REDIS_ADDR", ""),
		RedisPassword:   envStr("PARKING_REDIS_PASSWORD", ""),
		RedisDB:         envInt("PARKING_REDIS_DB", 0),
		LockTTL:         envDur("PARKING_LOCK_TTL", 10*time.Second),
		AMQPURL:         envStr("PARKING_AMQP_URL", ""),
		ShutdownTimeout: envDur("PARKING_SHUTDOWN_TIMEOUT", 5*time.Second),
		Debug:           envBool("PARKING_DEBUG", false),
	}

	var err error
	if cfg.Store, err = parseStore(envStr("PARKING_STORE", storeMemory)); err != nil {
		return nil, err
	}
	if cfg.Spaces, err = parseSpaces(envStr("PARKING_SPACES", "lot-1:standard:10")); err != nil {
		return nil, err
	}
	if cfg.Rates, err = parseRates(envStr("PARKING_RATES", "standard:500:300:usd")); err != nil {
		return nil, err
	}
	return cfg, nil
}

const storeMemory = "memory"

// parseStore accepts the backends parkingd can open on its own. The grove
// stores need a *grove.DB from the embedding application, so naming one here
// fails instead of silently falling back to memory.
func parseStore(s string) (string, error) {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case storeMemory:
		return s, nil
	case "postgres", "sqlite", "mongo":
		return "", fmt.Errorf("PARKING_STORE: %s needs a grove database from the embedding application; parkingd supports %q", s, storeMemory)
	}
	return "", fmt.Errorf("PARKING_STORE: unknown backend %q", s)
}

func parseSpaces(s string) ([]SpaceSeed, error) {
	var out []SpaceSeed
	for _, item := range splitList(s) {
		parts := strings.Split(item, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("PARKING_SPACES: %q is not lot:class:count", item)
		}
		n, err := strconv.Atoi(parts[2])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("PARKING_SPACES: bad count in %q", item)
		}
		out = append(out, SpaceSeed{Lot: parts[0], Class: parts[1], Count: n})
	}
	return out, nil
}

func parseRates(s string) ([]RateSeed, error) {
	var out []RateSeed
	for _, item := range splitList(s) {
		parts := strings.Split(item, ":")
		if len(parts) != 3 && len(parts) != 4 {
			return nil, fmt.Errorf("PARKING_RATES: %q is not class:base:hourly[:currency]", item)
		}
		base, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("PARKING_RATES: bad base in %q", item)
		}
		hourly, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("PARKING_RATES: bad hourly in %q", item)
		}
		currency := "usd"
		if len(parts) == 4 {
			currency = parts[3]
		}
		out = append(out, RateSeed{
			Class:  parts[0],
			Base:   types.New(base, currency),
			Hourly: types.New(hourly, currency),
		})
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
