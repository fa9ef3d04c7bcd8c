package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cardozi/crm-agent/internal/config"
	"github.com/cardozi/crm-agent/internal/db"
	"github.com/cardozi/crm-agent/internal/gateway"
	"github.com/cardozi/crm-agent/internal/queue"
	"github.com/cardozi/crm-agent/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the queue worker",
	Long:  `Start a worker process that claims durable run tasks from the queue and executes them through the configured automation gateway.`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(_ *cobra.Command, _ []string) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.ValidateGateway(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return err
	}

	gw, err := gateway.New(ctx, cfg)
	if err != nil {
		return err
	}

	coordinator := worker.NewCoordinator(database, gw)
	handler := func(ctx context.Context, projectID uuid.UUID) error {
		err := coordinator.Execute(ctx, projectID)
		if errors.Is(err, worker.ErrProjectNotFound) {
			// Retrying a vanished project cannot succeed.
			return queue.Terminal(err)
		}
		return err
	}

	pool := queue.NewWorker(database, handler, cfg.WorkerCount, cfg.PollInterval, cfg.RetryBackoff)

	log.Printf("Worker started: %d slots, gateway mode %s", cfg.WorkerCount, cfg.GatewayMode)
	return pool.Run(ctx)
}
