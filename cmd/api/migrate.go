package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/clinic-api/internal/repository/postgres"
	"github.com/jwalitptl/clinic-api/pkg/logger"
)

func migrateCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			log := logger.FromConfig(cfg.Log.Level, cfg.Log.Format)

			if cfg.Storage.Driver != "postgres" {
				return fmt.Errorf("migrate requires storage.driver postgres, got %q", cfg.Storage.Driver)
			}

			db, err := postgres.NewDB(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			if err := postgres.Migrate(ctx, db); err != nil {
				return err
			}
			log.Info("schema applied", "database", cfg.Database.Name)
			return nil
		},
	}
}
