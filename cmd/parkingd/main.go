// Command parkingd serves the parking engine over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/xraph/parking"
	"github.com/xraph/parking/keylock/redislock"
	"github.com/xraph/parking/observability"
	"github.com/xraph/parking/publisher/rabbitmq"
	"github.com/xraph/parking/rateplan"
	"github.com/xraph/parking/space"
	"github.com/xraph/parking/store"
	"github.com/xraph/parking/store/memory"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := LoadConfig()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("parkingd failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	engine, err := buildEngine(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Stop(); err != nil {
			logger.Error("engine stop", "error", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	NewAPI(engine).Register(e, promhttp.Handler())

	errc := make(chan error, 1)
	go func() {
		logger.Info("parkingd up", "addr", cfg.Addr)
		if err := e.Start(cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	logger.Info("parkingd stopped")
	return nil
}

// buildEngine wires the engine from cfg: the configured store, an optional
// Redis locker and RabbitMQ publisher, prometheus metrics, and the seeded
// spaces and rate plans.
func buildEngine(ctx context.Context, cfg *Config, logger *slog.Logger, reg prometheus.Registerer) (*parking.Parking, error) {
	st, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	opts := []parking.Option{
		parking.WithLogger(logger),
		parking.WithClaimAttempts(cfg.ClaimAttempts),
		parking.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))),
	}
	if cfg.OverstayEvery != "" {
		opts = append(opts, parking.WithOverstaySweep(cfg.OverstayEvery, cfg.MaxStay))
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		opts = append(opts, parking.WithLocker(redislock.New(rdb,
			redislock.WithTTL(cfg.LockTTL),
			redislock.WithLogger(logger),
		)))
	}

	if cfg.AMQPURL != "" {
		pub, err := rabbitmq.Dial(cfg.AMQPURL, rabbitmq.WithLogger(logger))
		if err != nil {
			// Events are best effort; the engine runs without them.
			logger.Warn("rabbitmq unavailable, events disabled", "error", err)
		} else {
			opts = append(opts, parking.WithPlugin(pub))
		}
	}

	engine := parking.New(st, opts...)
	if err := engine.Start(ctx); err != nil {
		return nil, err
	}

	if err := seed(ctx, engine, cfg); err != nil {
		_ = engine.Stop()
		return nil, err
	}
	return engine, nil
}

func openStore(cfg *Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store {
	case "", storeMemory:
		logger.Warn("using the memory store, state is lost on restart")
		return memory.New(), nil
	}
	return nil, fmt.Errorf("store %q is not available in parkingd", cfg.Store)
}

func seed(ctx context.Context, engine *parking.Parking, cfg *Config) error {
	for _, r := range cfg.Rates {
		err := engine.SetRatePlan(ctx, &rateplan.Plan{Class: r.Class, Base: r.Base, Hourly: r.Hourly})
		if err != nil {
			return fmt.Errorf("seed rate plan %s: %w", r.Class, err)
		}
	}
	for _, s := range cfg.Spaces {
		for i := range s.Count {
			sp := &space.Space{
				LotID: s.Lot,
				Class: s.Class,
				Label: fmt.Sprintf("%s-%03d", s.Class, i+1),
			}
			if err := engine.ProvisionSpace(ctx, sp); err != nil {
				return fmt.Errorf("seed space in %s: %w", s.Lot, err)
			}
		}
	}
	return nil
}
