// Package scheduler reconciles rendered booking forms with wall-clock time:
// it freezes forms whose slot entered the cutoff window or started, and
// delivers due reminders. One pass runs every minute.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/example/laundry-bot/internal/booking"
	"github.com/example/laundry-bot/internal/config"
	"github.com/example/laundry-bot/internal/forms"
	"github.com/example/laundry-bot/internal/locale"
	"github.com/example/laundry-bot/internal/slot"
	"github.com/example/laundry-bot/internal/telegram"
	"github.com/example/laundry-bot/internal/timeutil"
)

// Store is the slice of the booking store a pass reads and writes.
// *booking.Store satisfies it.
type Store interface {
	LiveAppointmentDrafts(ctx context.Context, now time.Time) ([]booking.AppointmentDraft, error)
	MarkDraftReserved(ctx context.Context, id int64) error
	ModeratorsWithReminders(ctx context.Context) ([]booking.User, error)
	CountAppointmentsStartingAt(ctx context.Context, at time.Time) (int, error)
	RenderedSummaryDrafts(ctx context.Context, userID int64, date time.Time) ([]booking.SummaryDraft, error)
}

// Transport sends reminder messages.
type Transport interface {
	Send(ctx context.Context, chatID int64, text string, opts telegram.Options) (int64, error)
}

// Closer freezes one rendered booking form for the given reason.
type Closer func(ctx context.Context, d booking.AppointmentDraft, reason forms.CloseReason) error

// Reconciler runs the minute pass. The sent set makes a pass idempotent:
// re-running with the same clock input never re-delivers a reminder.
type Reconciler struct {
	store     Store
	transport Transport
	loc       *locale.Bundle
	booking   config.Booking
	closer    Closer
	sent      *timeutil.DaySet
}

func New(store Store, transport Transport, loc *locale.Bundle, cfg config.Booking, closer Closer) *Reconciler {
	return &Reconciler{
		store:     store,
		transport: transport,
		loc:       loc,
		booking:   cfg,
		closer:    closer,
		sent:      timeutil.NewDaySet(),
	}
}

// Run fires RunPass at the top of every minute until ctx is canceled.
func (r *Reconciler) Run(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc("* * * * *", func() {
		now := time.Now().Truncate(time.Minute)
		if err := r.RunPass(ctx, now); err != nil {
			log.Printf("scheduler: pass: %v", err)
		}
	})
	if err != nil {
		return err
	}
	c.Start()
	log.Printf("scheduler: running")

	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// RunPass executes one reconciliation pass at the given instant. Per-item
// failures are logged and skipped; only a failure to load the working set
// aborts the pass.
func (r *Reconciler) RunPass(ctx context.Context, now time.Time) error {
	started := time.Now()
	defer func() {
		log.Printf("scheduler: pass at %s took %s", timeutil.FormatStamp(now), time.Since(started))
	}()

	r.sent.PruneBefore(now)

	var wg sync.WaitGroup
	send := func(chatID, replyTo int64, text string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.transport.Send(ctx, chatID, text, telegram.Options{ParseMode: "Markdown", ReplyTo: replyTo})
			if err != nil {
				log.Printf("scheduler: send to %d: %v", chatID, err)
			}
		}()
	}

	if err := r.passSummaryReminders(ctx, now, send); err != nil {
		wg.Wait()
		return err
	}
	if err := r.passDrafts(ctx, now, send); err != nil {
		wg.Wait()
		return err
	}
	wg.Wait()
	return nil
}

// passSummaryReminders notifies moderators ahead of busy slots. A moderator
// hears about a date only after rendering its overview at least once.
func (r *Reconciler) passSummaryReminders(ctx context.Context, now time.Time, send func(chatID, replyTo int64, text string)) error {
	mods, err := r.store.ModeratorsWithReminders(ctx)
	if err != nil {
		return err
	}
	for _, m := range mods {
		if m.ChatID == 0 {
			continue
		}
		for _, rem := range m.Reminders {
			at := now.Add(rem.Offset())
			n, err := r.store.CountAppointmentsStartingAt(ctx, at)
			if err != nil {
				log.Printf("scheduler: count appointments at %s: %v", timeutil.FormatStamp(at), err)
				continue
			}
			if n == 0 {
				continue
			}
			rendered, err := r.store.RenderedSummaryDrafts(ctx, m.ID, timeutil.Midnight(at))
			if err != nil {
				log.Printf("scheduler: rendered summaries for %d: %v", m.ID, err)
				continue
			}
			if len(rendered) == 0 {
				continue
			}
			key := fmt.Sprintf("summary/%d/%d/%s", m.ID, rem.Seconds, timeutil.FormatStamp(at))
			if !r.sent.Mark(at, key) {
				continue
			}
			text := locale.Format(r.loc.Get("reminders", "summary"), timeutil.HumanDelta(rem.Offset()), n)
			for _, sd := range rendered {
				var replyTo int64
				if sd.MessageID != nil {
					replyTo = *sd.MessageID
				}
				send(m.ChatID, replyTo, text)
			}
		}
	}
	return nil
}

// passDrafts walks the live booking forms: freeze what crossed a time
// boundary, deliver owner reminders whose offset lands on this minute.
// Reminders only go out while the slot is still openly bookable.
func (r *Reconciler) passDrafts(ctx context.Context, now time.Time, send func(chatID, replyTo int64, text string)) error {
	drafts, err := r.store.LiveAppointmentDrafts(ctx, now)
	if err != nil {
		return err
	}
	for i := range drafts {
		d := drafts[i]
		at, ok := d.StartAt()
		if !ok {
			continue
		}

		// The start instant itself counts as passed, reserved or not.
		if !now.Before(at) {
			if err := r.closer(ctx, d, forms.ClosePassed); err != nil {
				log.Printf("scheduler: close passed draft %d: %v", d.ID, err)
			}
			continue
		}
		if _, open := slot.CheckWindow(now, at, r.booking.CutoffLeadTime); !open {
			if !d.Reserved {
				if err := r.store.MarkDraftReserved(ctx, d.ID); err != nil {
					log.Printf("scheduler: mark draft %d reserved: %v", d.ID, err)
				} else if err := r.closer(ctx, d, forms.CloseReserved); err != nil {
					log.Printf("scheduler: close reserved draft %d: %v", d.ID, err)
				}
			}
			continue
		}

		for _, rem := range d.User.Reminders {
			if !at.Add(-rem.Offset()).Equal(now) {
				continue
			}
			key := fmt.Sprintf("personal/%d/%d/%s", d.UserID, rem.Seconds, timeutil.FormatStamp(at))
			if !r.sent.Mark(at, key) {
				continue
			}
			var replyTo int64
			if d.MessageID != nil {
				replyTo = *d.MessageID
			}
			send(d.User.ChatID, replyTo, locale.Format(r.loc.Get("reminders", "personal"), timeutil.HumanDelta(rem.Offset())))
		}
	}
	return nil
}
