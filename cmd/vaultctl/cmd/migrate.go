package cmd

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sealbox/sealbox/internal/config"
	"github.com/sealbox/sealbox/internal/db"
	"github.com/sealbox/sealbox/internal/logger"
	"github.com/spf13/cobra"
)

func MigrateCmd() *cobra.Command {
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the catalog schema",
	}

	migrate.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(c *dbConn) error {
				return db.RunMigrations(cmd.Context(), c.db.DB, c.driver)
			})
		},
	})

	migrate.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(c *dbConn) error {
				return db.MigrateDown(cmd.Context(), c.db.DB, c.driver)
			})
		},
	})

	migrate.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(c *dbConn) error {
				version, err := db.SchemaVersion(cmd.Context(), c.db.DB, c.driver)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema version: %d\n", version)
				return nil
			})
		},
	})

	return migrate
}

type dbConn struct {
	db     *sqlx.DB
	driver string
}

// withDB opens the catalog without running migrations, so down and status
// see the schema as it is.
func withDB(fn func(c *dbConn) error) error {
	cfg := config.Load()
	logger.Init(cfg.IsDevelopment(), "", cfg.AppEnv)

	database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
	if err != nil {
		return err
	}
	defer database.Close()

	return fn(&dbConn{db: database, driver: cfg.DBDriver})
}
