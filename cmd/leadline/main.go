package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leadlinehq/leadline/internal/config"
	"github.com/leadlinehq/leadline/internal/db"
	"github.com/leadlinehq/leadline/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "leadline",
	Short: "Leadline - multi-tenant conversational lead capture",
	Long: `Leadline ingests chat messages from Telegram, WhatsApp, Messenger,
and Instagram webhooks, answers them from tenant-configured rules, quick
replies, flows, or a generative provider, and captures contact details
from the conversation.`,
	Version: version.Version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server and message pipeline",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := db.Migrate(cfg.Postgres); err != nil {
			return err
		}
		fmt.Println("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}
