package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var invalidateCmd = &cobra.Command{
	Use:   "invalidate <event-id>",
	Short: "Reject all queued check-ins for a cancelled event",
	Long: `Marks the event as cancelled locally, aborts any in-flight sync call
for it, and rejects every queued check-in that targets it. Already
confirmed or rejected records are left untouched.`,
	Args: cobra.ExactArgs(1),
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

		if err := eng.coord.Invalidate(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Invalidated event %s\n", args[0])
		return nil
	},
}
