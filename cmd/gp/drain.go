package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Validate and sync queued check-ins once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		eng, err := buildEngine(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := eng.coord.DrainOnce(ctx); err != nil {
			return err
		}

		entries, err := eng.store.ListPending(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Drain complete, %d records still queued\n", len(entries))
		return nil
	},
}
