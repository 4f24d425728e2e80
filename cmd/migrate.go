package cmd

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-remittance/app/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database schema",
	Long:  "Apply the MySQL or SQLite schema for the configured DATABASE_DRIVER. Statements are idempotent.",
	Run:   runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(_ *cobra.Command, _ []string) {
	cfg := mustLoadConfig()
	db := mustOpenDatabase(cfg)
	defer func() {
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := repository.Migrate(ctx, db, cfg.Database.Driver); err != nil {
		logrus.WithError(err).Fatal("Migration failed")
	}
	logrus.WithField("driver", cfg.Database.Driver).Info("Migration completed")
}
