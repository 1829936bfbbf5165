package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gatepass/internal/bus"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream check-in transitions from NATS",
	Long: `Subscribes to the transition subjects published by a running daemon
and prints each status change as it happens. Requires GP_NATS_URL or an
active remote profile with a NATS URL.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL := os.Getenv("GP_NATS_URL")
		if natsURL == "" {
			natsURL = activeRemoteNATSURL()
		}
		if natsURL == "" {
			return fmt.Errorf("no NATS URL configured: set GP_NATS_URL or add one to the active remote")
		}

		sub, err := bus.NewNATSSubscriber(natsURL,
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				slog.Warn("disconnected from NATS", "err", err)
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				slog.Info("reconnected to NATS", "url", nc.ConnectedUrl())
			}),
		)
		if err != nil {
			return err
		}
		defer sub.Close()

		ch, cancel, err := sub.Subscribe(bus.TopicAll)
		if err != nil {
			return err
		}
		defer cancel()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Fprintf(os.Stderr, "Watching %s (ctrl-c to stop)\n", natsURL)
		for {
			select {
			case <-ctx.Done():
				return nil
			case data, ok := <-ch:
				if !ok {
					return nil
				}
				printTransition(data)
			}
		}
	},
}

func printTransition(data []byte) {
	if jsonOutput {
		fmt.Println(string(data))
		return
	}
	var t bus.Transition
	if err := json.Unmarshal(data, &t); err != nil {
		slog.Warn("skipping malformed transition", "err", err)
		return
	}
	line := fmt.Sprintf("%s  %s  %s -> %s",
		t.At.Local().Format("15:04:05"), t.RecordID, t.From, statusLabel(t.To))
	if t.Reason != "" {
		line += fmt.Sprintf("  (%s)", t.Reason)
	}
	fmt.Println(line)
}
