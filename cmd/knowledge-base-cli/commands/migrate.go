package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/knowledge-base/cmd/knowledge-base-cli/ui"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	spin := ui.NewSpinner("Applying migrations...")
	spin.Start()
	err = storage.NewMigrator(db, storageDriver(cfg)).Up(ctx)
	spin.Stop()
	if err != nil {
		ui.Error("Migration failed: %v", err)
		return err
	}

	ui.Success("Database schema is up to date (%s)", cfg.Database.Driver)
	return nil
}
