package cmd

import (
	"context"
	"log"

	"github.com/spf13/cobra"

	"github.com/example/laundry-bot/internal/db"
	"github.com/example/laundry-bot/internal/forms"
	"github.com/example/laundry-bot/internal/notify"
	"github.com/example/laundry-bot/internal/telegram"
)

func newSubscriberCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subscriber",
		Short: "Consume cross-process events: fan out commits, freeze superseded messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUntilSignal(runSubscriber)
		},
	}
}

func runSubscriber(ctx context.Context) error {
	a, cleanup, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer cleanup()

	deps := a.formDeps()
	handlers := map[string]notify.Handler{
		notify.TopicCommit: func(ctx context.Context, payload string) error {
			userID, messageID, err := notify.SplitIDs(payload)
			if err != nil {
				return err
			}
			d, err := a.store.AppointmentDraftByMessage(ctx, userID, messageID)
			if db.IsNotFound(err) {
				// Reallocated away between publish and delivery.
				return nil
			}
			if err != nil {
				return err
			}
			return forms.TakeEffect(ctx, deps, d)
		},
		notify.TopicClose: func(ctx context.Context, payload string) error {
			chatID, messageID, err := notify.SplitIDs(payload)
			if err != nil {
				return err
			}
			return a.client.Edit(ctx, chatID, messageID, "⌛", telegram.Options{})
		},
		notify.TopicIdentityRefresh: func(ctx context.Context, payload string) error {
			// Residents are loaded per update, there is no session cache to
			// invalidate here.
			log.Printf("subscriber: identity refresh for chat %s", payload)
			return nil
		},
	}
	return a.notifier.Subscribe(ctx, handlers)
}
