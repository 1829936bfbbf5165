package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alfredjeanlab/gatepass/internal/bus"
	"github.com/alfredjeanlab/gatepass/internal/config"
	"github.com/alfredjeanlab/gatepass/internal/queue"
	"github.com/alfredjeanlab/gatepass/internal/remote"
	"github.com/alfredjeanlab/gatepass/internal/syncer"
)

// engine bundles the wired device-side components.
type engine struct {
	store *queue.SQLiteStore
	bus   *bus.Bus
	pub   bus.Publisher
	coord *syncer.Coordinator
}

// buildEngine opens the queue and wires the sync coordinator against the
// configured ledger.
func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine, error) {
	if cfg.RemoteURL == "" {
		return nil, fmt.Errorf("no ledger configured: set GP_REMOTE_URL or add a remote profile")
	}

	store, err := openQueue()
	if err != nil {
		return nil, err
	}

	var pub bus.Publisher
	if cfg.NATSURL != "" {
		natsPub, err := bus.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			store.Close()
			return nil, err
		}
		pub = natsPub
		logger.Info("events enabled", "nats_url", cfg.NATSURL)
	} else {
		pub = &bus.NoopPublisher{}
	}

	b := bus.New(logger)
	client := remote.NewHTTPClient(cfg.RemoteURL, cfg.AuthToken)

	coord, err := syncer.New(ctx, store, client, b, pub, syncer.Config{
		Interval:    cfg.DrainInterval,
		CallTimeout: cfg.CallTimeout,
		Backoff: syncer.Backoff{
			Base:        cfg.RetryBase,
			Max:         cfg.RetryMax,
			MaxAttempts: cfg.RetryMaxAttempts,
		},
	}, logger)
	if err != nil {
		pub.Close()
		store.Close()
		return nil, err
	}

	return &engine{store: store, bus: b, pub: pub, coord: coord}, nil
}

func (e *engine) Close() {
	e.bus.Close()
	if err := e.pub.Close(); err != nil {
		slog.Warn("closing publisher", "err", err)
	}
	if err := e.store.Close(); err != nil {
		slog.Warn("closing queue", "err", err)
	}
}
