package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xpadev-net/watchlist-supervisor/internal/config"
	"github.com/xpadev-net/watchlist-supervisor/internal/db"
	"github.com/xpadev-net/watchlist-supervisor/internal/log"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadSupervisorConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := log.Init(cfg.Environment, cfg.LogLevel); err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer log.Sync()

	ctx := context.Background()
	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		log.Error("failed to run migrations", zap.Error(err))
		return err
	}
	log.Info("migrations applied")
	return nil
}
