package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gatepass/internal/model"
	"github.com/alfredjeanlab/gatepass/internal/scan"
)

var submitCmd = &cobra.Command{
	Use:   "submit <payload>",
	Short: "Queue a check-in from a scanned payload",
	Long: `Queues a check-in candidate from a QR payload (the event ID) or a
geofence trigger (prefix the event ID with "geo:"). The record is durable
immediately; validation and sync happen on the next drain.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		lat, _ := cmd.Flags().GetFloat64("lat")
		lon, _ := cmd.Flags().GetFloat64("lon")
		accuracy, _ := cmd.Flags().GetFloat64("accuracy")
		capturedAtStr, _ := cmd.Flags().GetString("captured-at")

		var loc *model.Location
		if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon") {
			if !cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lon") {
				return fmt.Errorf("--lat and --lon must be set together")
			}
			loc = &model.Location{Lat: lat, Lon: lon, AccuracyM: accuracy}
		}

		capturedAt := time.Now()
		if capturedAtStr != "" {
			capturedAt, err = time.Parse(time.RFC3339, capturedAtStr)
			if err != nil {
				return fmt.Errorf("--captured-at: %w", err)
			}
		}

		store, err := openQueue()
		if err != nil {
			return err
		}
		defer store.Close()

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		adapter := scan.NewAdapter(store, nil, cfg.UserID, cfg.DeviceID, logger)

		entry, err := adapter.Submit(context.Background(), args[0], capturedAt, loc)
		if err != nil {
			return err
		}

		if jsonOutput {
			printJSON(entry)
			return nil
		}
		fmt.Printf("Queued %s (event %s, seq %d)\n",
			entry.Record.ID, entry.Record.EventID, entry.Record.ClientSeq)
		return nil
	},
}

func init() {
	submitCmd.Flags().Float64("lat", 0, "capture latitude")
	submitCmd.Flags().Float64("lon", 0, "capture longitude")
	submitCmd.Flags().Float64("accuracy", 0, "location accuracy in meters")
	submitCmd.Flags().String("captured-at", "", "capture time (RFC 3339, default now)")
}
