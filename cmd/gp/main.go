package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gatepass/internal/config"
	"github.com/alfredjeanlab/gatepass/internal/queue"
)

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:   "gp <command>",
	Short: "Offline-first check-in agent",
	Long: `gp captures event check-ins on this device, queues them durably while
offline, and syncs them to the ledger when connectivity allows.`,
	SilenceUsage: true,
}

func init() {
	// A .env next to the binary or in the working directory seeds the
	// environment; real env vars win.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(drainCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(invalidateCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(remoteCmd)
}

// loadConfig loads the engine configuration, falling back to the active
// remote profile for connection settings the environment leaves empty.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.RemoteURL == "" {
		cfg.RemoteURL = activeRemoteURL()
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = activeRemoteToken()
	}
	if cfg.NATSURL == "" {
		cfg.NATSURL = activeRemoteNATSURL()
	}
	return cfg, nil
}

// queuePath resolves the queue location without requiring device identity,
// for read-only commands.
func queuePath() (string, error) {
	if p := os.Getenv("GP_QUEUE_PATH"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".gatepass", "queue.db"), nil
}

func openQueue() (*queue.SQLiteStore, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create queue directory: %w", err)
	}
	return queue.Open(path)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
