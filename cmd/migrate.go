package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/laundry-bot/internal/config"
	"github.com/example/laundry-bot/internal/db"
	"github.com/example/laundry-bot/internal/migrate"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.Ping(ctx); err != nil {
				return fmt.Errorf("db ping: %w", err)
			}
			return migrate.Up(ctx, d)
		},
	}
}
