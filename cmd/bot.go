package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/example/laundry-bot/internal/bot"
)

func newBotCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Run the interactive Telegram handler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUntilSignal(func(ctx context.Context) error {
				return runBot(ctx, migrateUp)
			})
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}

func runBot(ctx context.Context, migrateUp bool) error {
	a, cleanup, err := newApp(ctx, migrateUp)
	if err != nil {
		return err
	}
	defer cleanup()

	b := bot.New(&a.cfg, a.client, a.admin, a.store, a.notifier, a.loc, bot.NewSessions())
	return b.Run(ctx)
}
