package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-locator/internal/client"
	"github.com/kjstillabower/weather-locator/internal/config"
	"github.com/kjstillabower/weather-locator/internal/history"
	httphandler "github.com/kjstillabower/weather-locator/internal/http"
	"github.com/kjstillabower/weather-locator/internal/lifecycle"
	"github.com/kjstillabower/weather-locator/internal/observability"
	"github.com/kjstillabower/weather-locator/internal/selection"
	"github.com/kjstillabower/weather-locator/internal/storage"
)

func main() {
	logger, err := observability.NewLogger("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	state := lifecycle.New()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	if cfg.APIKey == "" {
		logger.Warn("OPENWEATHERMAP_API_KEY not set; provider calls will be rejected as unauthorized")
	}

	ow, err := client.NewOpenWeather(cfg.APIKey, cfg.APIBaseURL, cfg.APITimeout)
	if err != nil {
		logger.Fatal("openweather client", zap.Error(err))
	}
	if cfg.CircuitBreakerEnabled {
		ow.SetCircuitBreaker(client.NewCircuitBreaker(client.BreakerConfig{
			FailureThreshold: uint32(cfg.CircuitBreakerFailureThreshold),
			OpenTimeout:      cfg.CircuitBreakerOpenTimeout,
		}, logger))
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("open_timeout", cfg.CircuitBreakerOpenTimeout))
	}

	slot, err := storage.Open(cfg.StorageConfig())
	if err != nil {
		logger.Fatal("history storage", zap.String("backend", cfg.HistoryBackend), zap.Error(err))
	}
	logger.Info("history backend", zap.String("backend", cfg.HistoryBackend), zap.String("key", cfg.HistoryKey))

	storagePing := pingFunc(slot)

	loadCtx, loadCancel := context.WithTimeout(context.Background(), 5*time.Second)
	hist := history.Load(loadCtx, slot, history.Options{
		Key:     cfg.HistoryKey,
		Backend: cfg.HistoryBackend,
		Logger:  logger,
	})
	loadCancel()

	session := selection.New(ow, ow, hist, selection.Options{
		Default:                 cfg.DefaultCoordinate,
		Unit:                    cfg.DefaultUnit,
		Zoom:                    cfg.Zoom,
		FetchOnStart:            cfg.FetchOnStart,
		RecordDefault:           cfg.RecordDefault,
		KeepSnapshotOnUnitError: cfg.KeepSnapshotOnUnitError,
		LookupTimeout:           cfg.APITimeout,
		QueryMaxLength:          cfg.QueryMaxLength,
		Logger:                  logger,
	})
	if err := session.Start(context.Background()); err != nil {
		logger.Fatal("selection session", zap.Error(err))
	}

	limiter := newLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	handler := httphandler.NewHandler(session, state, storagePing, cfg.APIKey != "", logger)
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		Limiter:        limiter,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	state.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight lookups", zap.Int64("count", session.InFlight()))
	if err := session.Wait(shutdownCtx); err != nil {
		logger.Warn("lookups not completed", zap.Error(err), zap.Int64("remaining", session.InFlight()))
	}
	session.Close()

	if c, ok := slot.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Error("history storage close", zap.Error(err))
		}
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// newLimiter returns nil (no limiting) when rps is not positive.
func newLimiter(rps, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = rps
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// pingFunc returns the backend's reachability check, or nil when it has none.
func pingFunc(slot storage.Slot) func(context.Context) error {
	if p, ok := slot.(storage.Pinger); ok {
		return p.Ping
	}
	return nil
}
