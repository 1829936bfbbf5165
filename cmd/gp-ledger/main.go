// Command gp-ledger serves the authoritative check-in ledger over HTTP,
// backed by Postgres.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/alfredjeanlab/gatepass/internal/config"
	"github.com/alfredjeanlab/gatepass/internal/ledger"
	ledgerpg "github.com/alfredjeanlab/gatepass/internal/ledger/postgres"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("ledger exited", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.LoadLedger()
	if err != nil {
		return err
	}

	store, err := ledgerpg.New(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	srv := ledger.NewServer(store, logger)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      ledger.LoggingMiddleware(logger, srv.Handler(cfg.AuthToken)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ledger listening", "addr", cfg.HTTPAddr, "auth", cfg.AuthToken != "")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
