package main

import (
	"context"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one check-in record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openQueue()
		if err != nil {
			return err
		}
		defer store.Close()

		entry, err := store.Get(context.Background(), args[0])
		if err != nil {
			return err
		}

		if jsonOutput {
			printJSON(entry)
			return nil
		}
		printEntry(entry)
		return nil
	},
}
