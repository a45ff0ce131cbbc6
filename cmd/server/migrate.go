package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/outcomeops/outcomeops-analytics/internal/db"
	"github.com/outcomeops/outcomeops-analytics/internal/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(ctx context.Context) error {
	config := loadConfig()
	if config.StoreBackend != backendPostgres {
		return errors.New("migrate requires STORE_BACKEND=postgres")
	}

	database, err := db.ConnectWithRetry(ctx, config.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.RunMigrations(database.Conn()); err != nil {
		return err
	}
	version, dirty, err := db.MigrationVersion(database.Conn())
	if err != nil {
		return err
	}
	logger.Info("migrations applied", "version", version, "dirty", dirty)
	return nil
}
