package commands

import (
	"fmt"
	"os"

	"github.com/benvon/learning-stats/internal/config"
	"github.com/benvon/learning-stats/internal/database"
	"github.com/benvon/learning-stats/internal/database/migrations"
	"github.com/benvon/learning-stats/internal/logger"
	"github.com/spf13/cobra"
)

// NewMigrateCmd creates the migrate command
func NewMigrateCmd() *cobra.Command {
	var statusOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long:  "Apply pending PostgreSQL migrations for the stats record store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.StoreBackend != config.StoreBackendPostgres {
				return fmt.Errorf("migrations require STORE_BACKEND=%s, got %s", config.StoreBackendPostgres, cfg.StoreBackend)
			}

			zapLogger, err := logger.NewDevelopmentLogger(false)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer func() {
				_ = logger.Sync(zapLogger)
			}()

			db, err := database.New(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer func() {
				if err := db.Close(); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
				}
			}()

			if err := migrations.Run(db.DB, !statusOnly, zapLogger); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations complete")
			return nil
		},
	}

	cmd.Flags().BoolVar(&statusOnly, "status", false, "Only report the current migration version")

	return cmd
}
