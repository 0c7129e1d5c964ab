// Command dnsd runs the DNS Authority (C3): the authoritative UDP/TCP
// resolver for *.<root>, backed by the shared session store.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/arc-self/requestrepo/internal/config"
	"github.com/arc-self/requestrepo/internal/dnsauth"
	"github.com/arc-self/requestrepo/internal/store"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()

	if vaultAddr := os.Getenv("VAULT_ADDR"); vaultAddr != "" {
		vaultToken := os.Getenv("VAULT_TOKEN")
		secretPath := os.Getenv("VAULT_SECRET_PATH")
		if secretPath == "" {
			secretPath = "secret/data/requestrepo/dnsd"
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

	resolver := dnsauth.New(dnsauth.Config{
		RootDomain: cfg.RootDomain,
		ServerIP:   cfg.ServerIP,
		DefaultTXT: cfg.RootDomain,
		Grammar:    cfg.Grammar(),
	}, session)

	srv := dnsauth.NewServer(cfg.DNSAddr, resolver, logger)

	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("initiating graceful shutdown")
		cancel()
	}()

	logger.Info("dnsd listening", zap.String("addr", cfg.DNSAddr))
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Fatal("dns server failure", zap.Error(err))
	}
	logger.Info("dnsd shut down cleanly")
}
