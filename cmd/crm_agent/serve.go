package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cardozi/crm-agent/internal/config"
	"github.com/cardozi/crm-agent/internal/db"
	"github.com/cardozi/crm-agent/internal/queue"
	"github.com/cardozi/crm-agent/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start the HTTP server that exposes the project lifecycle endpoints. Runs are executed by a separate worker process; start "crm_agent worker" alongside.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load()
	if servePort != 0 {
		cfg.Port = servePort
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := context.Background()
	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return err
	}

	srv := server.New(cfg.Port, database, queue.NewClient(database, cfg.MaxAttempts))
	return srv.Start()
}
