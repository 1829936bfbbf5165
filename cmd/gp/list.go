package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gatepass/internal/model"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued check-ins",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		store, err := openQueue()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		entries, err := store.ListPending(ctx)
		if err != nil {
			return err
		}
		if all {
			terminal, err := store.ListTerminal(ctx)
			if err != nil {
				return err
			}
			entries = append(entries, terminal...)
		}
		if entries == nil {
			entries = []*model.QueueEntry{}
		}

		if jsonOutput {
			printJSON(entries)
			return nil
		}
		printEntryTable(entries)
		return nil
	},
}

func init() {
	listCmd.Flags().Bool("all", false, "include confirmed and rejected records")
}
