package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keyhaven-io/keyhaven-walletd/internal/chains"
	"github.com/keyhaven-io/keyhaven-walletd/internal/config"
	"github.com/keyhaven-io/keyhaven-walletd/internal/connector"
	"github.com/keyhaven-io/keyhaven-walletd/internal/logger"
	"github.com/keyhaven-io/keyhaven-walletd/internal/server"
	"github.com/keyhaven-io/keyhaven-walletd/internal/session"
	"github.com/keyhaven-io/keyhaven-walletd/internal/signer"
	"github.com/keyhaven-io/keyhaven-walletd/internal/store"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var walletMeta = connector.PeerMeta{
	Name:        "Keyhaven",
	URL:         "https://keyhaven.io",
	Description: "Keyhaven cloud wallet",
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(nil)
	if err != nil {
		logger.Fatal("failed to parse config", "error", err)
	}
	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("keyhaven-walletd",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	registry, err := chains.NewRegistry()
	if err != nil {
		logger.Error("chain registry init failed", "error", err)
		return
	}
	if err = registry.Load(); err != nil {
		logger.Error("chain registry load failed", "error", err)
		return
	}
	if err = registry.EnsureDefaults(chains.Defaults()); err != nil {
		logger.Error("chain registry defaults failed", "error", err)
		return
	}

	st, err := store.NewStore()
	if err != nil {
		logger.Error("state store init failed", "error", err)
		return
	}

	gateway, err := signer.NewClient(cfg.SignerURL, cfg.SignerAuthToken)
	if err != nil {
		logger.Error("signer client init failed", "error", err)
		return
	}
	accounts, err := gateway.Accounts(ctx)
	if err != nil {
		logger.Error("signer backend unreachable", "error", err)
		return
	}
	if len(accounts) == 0 {
		logger.Error("signer backend controls no accounts")
		return
	}
	logger.Info("signer accounts loaded", "count", len(accounts))

	conn := connector.New(nil, walletMeta)
	mgr := session.NewManager(conn, gateway, registry, st, accounts)
	mgr.Recover(ctx)

	handler, err := server.NewServer(ctx, mgr, registry, cfg.AllowedOrigins, cfg.ListenAddr())
	if err != nil {
		logger.Error("operator API init failed", "error", err)
		return
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: handler,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
		}
	}()
	logger.Info("operator API listening", "addr", cfg.ListenAddr())

	<-ctx.Done()
	logger.Info("shutdown signal received")

	mgr.Disconnect()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	} else {
		logger.Info("HTTP server gracefully stopped")
	}
}
