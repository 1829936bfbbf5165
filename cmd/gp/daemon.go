package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gatepass/internal/archive"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the drain loop until interrupted",
	Long: `Runs the validation and sync loop continuously: queued check-ins are
validated against cached event data, synced to the ledger with retry
backoff, and conflicts are resolved as the ledger reports them. When an
archive bucket is configured, terminal records are exported on a timer.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		eng, err := buildEngine(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer eng.Close()

		eng.coord.Start(ctx)
		logger.Info("daemon started",
			"queue", cfg.QueuePath,
			"ledger", cfg.RemoteURL,
			"interval", cfg.DrainInterval)

		var archiver *archive.Scheduler
		if cfg.ArchiveInterval > 0 && cfg.ArchiveS3Bucket != "" {
			dest, err := archive.NewS3Destination(ctx,
				cfg.ArchiveS3Bucket, cfg.ArchiveS3Key, cfg.ArchiveS3Region, cfg.ArchiveS3Endpoint)
			if err != nil {
				eng.coord.Stop()
				return err
			}
			archiver = archive.NewScheduler(eng.store, []archive.Destination{dest}, cfg.ArchiveInterval, logger)
			archiver.Start()
			logger.Info("archive enabled",
				"bucket", cfg.ArchiveS3Bucket,
				"interval", cfg.ArchiveInterval)
		}

		<-ctx.Done()
		logger.Info("shutting down")

		if archiver != nil {
			archiver.Stop()
		}
		eng.coord.Stop()
		return nil
	},
}
