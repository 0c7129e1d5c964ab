// Command httpd runs the HTTP Capture & Response Engine (C4) and the
// Live Fan-out (C5): the dashboard REST surface, the subdomain
// catch-all, and the /api/ws and /api/ws2 WebSocket endpoints. It also
// hosts the periodic renewal job, since that job only writes a DNS
// record to the store (plus an optional NATS tick) and needs no
// privileged socket of its own.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/arc-self/requestrepo/internal/auth"
	"github.com/arc-self/requestrepo/internal/config"
	"github.com/arc-self/requestrepo/internal/eventbus"
	"github.com/arc-self/requestrepo/internal/fanout"
	"github.com/arc-self/requestrepo/internal/httpapi"
	"github.com/arc-self/requestrepo/internal/renewer"
	"github.com/arc-self/requestrepo/internal/store"
	"github.com/arc-self/requestrepo/internal/telemetry"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()

	if vaultAddr := os.Getenv("VAULT_ADDR"); vaultAddr != "" {
		vaultToken := os.Getenv("VAULT_TOKEN")
		secretPath := os.Getenv("VAULT_SECRET_PATH")
		if secretPath == "" {
			secretPath = "secret/data/requestrepo/httpd"
		}
		sm, err := config.NewSecretManager(vaultAddr, vaultToken)
		if err != nil {
			logger.Fatal("vault client init failed", zap.Error(err))
		}
		merged, err := cfg.ApplySecrets(sm, secretPath)
		if err != nil {
			logger.Warn("vault secret load failed, continuing with env config", zap.Error(err))
		} else {
			cfg = merged
		}
	}

	redisStore, err := store.NewRedisStore(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis client init failed", zap.Error(err))
	}
	defer redisStore.Close()
	if err := redisStore.Ping(context.Background()); err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	logger.Info("redis connected")

	session := &store.Session{Store: redisStore, TTLSecs: int64(cfg.TTLDays) * 24 * 3600}
	verifier := auth.New(cfg.JWTSecret, cfg.Grammar())

	bus, err := eventbus.Connect(cfg.NATSURL, logger)
	if err != nil {
		logger.Warn("nats connect failed, continuing without event bus", zap.Error(err))
		bus, _ = eventbus.Connect("", logger)
	}
	defer bus.Close()

	renew := renewer.New(redisStore, bus, logger, cfg.RootDomain)
	if err := renew.Start(); err != nil {
		logger.Fatal("renewer start failed", zap.Error(err))
	}
	defer renew.Stop()

	if endpoint := os.Getenv("OTEL_METRICS_ENDPOINT"); endpoint != "" {
		mp, err := telemetry.InitMeterProvider(context.Background(), "requestrepo-httpd", endpoint)
		if err != nil {
			logger.Warn("otel meter provider init failed, continuing without metrics", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = mp.Shutdown(shutdownCtx)
			}()
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = httpapi.ErrorHandler

	e.Use(otelecho.Middleware("requestrepo-httpd"))
	e.Use(httpapi.NullToEmptyArray())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("http request", zap.String("uri", v.URI), zap.Int("status", v.Status))
			return nil
		},
	}))
	e.Use(middleware.Recover())

	httpapi.New(cfg, session, verifier, logger).Register(e)
	fanout.Register(e, verifier, session, logger)

	go func() {
		logger.Info("httpd listening", zap.String("addr", cfg.HTTPAddr))
		if err := e.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failure", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("echo shutdown error", zap.Error(err))
	}
	logger.Info("httpd shut down cleanly")
}
