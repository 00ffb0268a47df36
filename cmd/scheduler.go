package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/example/laundry-bot/internal/booking"
	"github.com/example/laundry-bot/internal/forms"
	"github.com/example/laundry-bot/internal/scheduler"
)

func newSchedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the minute reconciliation pass: freeze stale forms, deliver reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUntilSignal(runScheduler)
		},
	}
}

func runScheduler(ctx context.Context) error {
	a, cleanup, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer cleanup()

	deps := a.formDeps()
	closer := func(ctx context.Context, d booking.AppointmentDraft, reason forms.CloseReason) error {
		return forms.NewAppointmentForm(deps, d.User, d).Close(ctx, reason)
	}
	rec := scheduler.New(a.store, a.client, a.loc, a.cfg.Booking, closer)
	return rec.Run(ctx)
}
