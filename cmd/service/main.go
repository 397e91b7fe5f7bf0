package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-snapshot-service/internal/cache"
	"github.com/kjstillabower/weather-snapshot-service/internal/client"
	"github.com/kjstillabower/weather-snapshot-service/internal/config"
	httphandler "github.com/kjstillabower/weather-snapshot-service/internal/http"
	"github.com/kjstillabower/weather-snapshot-service/internal/lifecycle"
	"github.com/kjstillabower/weather-snapshot-service/internal/observability"
	"github.com/kjstillabower/weather-snapshot-service/internal/service"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	weatherClient, err := client.NewOneCallClient(client.Options{
		APIKey:    cfg.WeatherAPIKey,
		BaseURL:   cfg.WeatherAPIURL,
		Latitude:  cfg.Latitude,
		Longitude: cfg.Longitude,
		Timeout:   cfg.WeatherAPITimeout,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	store := cache.NewStore()

	var mirror cache.Mirror
	var memcacheMirror *cache.MemcachedMirror
	if cfg.MirrorBackend == "memcached" {
		memcacheMirror = cache.NewMemcachedMirror(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, cfg.MirrorTTL)
		mirror = memcacheMirror
		if err := memcacheMirror.Ping(); err != nil {
			logger.Warn("memcached mirror not reachable at startup", zap.String("addrs", cfg.MemcachedAddrs), zap.Error(err))
		}
		logger.Info("snapshot mirror: memcached", zap.String("addrs", cfg.MemcachedAddrs), zap.Duration("ttl", cfg.MirrorTTL))
	}

	refresher := service.NewRefresher(weatherClient, store, mirror, cfg.FetchInterval, logger)
	manager := lifecycle.NewManager(refresher, logger)

	handler := httphandler.NewHandler(store, logger)
	srv := &http.Server{
		Addr:    "0.0.0.0:" + cfg.ServerPort,
		Handler: httphandler.NewRouter(handler, logger),
	}

	var metricsSrv *http.Server
	if cfg.MetricsPort != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", observability.MetricsHandler())
		metricsSrv = &http.Server{Addr: ":" + cfg.MetricsPort, Handler: metricsMux}
		go func() {
			logger.Info("metrics server starting", zap.String("addr", metricsSrv.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	manager.Start(context.Background())
	logger.Info("refresh loop started",
		zap.Duration("interval", cfg.FetchInterval),
		zap.Float64("latitude", cfg.Latitude),
		zap.Float64("longitude", cfg.Longitude))

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("route", "/data"))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	select {
	case <-ctx.Done():
	case <-manager.Done():
		logger.Error("refresh loop exited before shutdown")
	}
	stop()

	logger.Info("graceful shutdown triggered")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	if err := manager.Stop(shutdownCtx); err != nil {
		logger.Warn("refresh loop did not stop in time", zap.Error(err))
	}

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown", zap.Error(err))
		}
	}
	if memcacheMirror != nil {
		if err := memcacheMirror.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}

	logger.Info("shutdown complete")
	if err := observability.FlushTelemetry(logger); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", err)
	}
}
