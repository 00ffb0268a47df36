package forms

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/example/laundry-bot/internal/booking"
	"github.com/example/laundry-bot/internal/locale"
	"github.com/example/laundry-bot/internal/slot"
	"github.com/example/laundry-bot/internal/telegram"
	"github.com/example/laundry-bot/internal/timeutil"
)

// NewAppointmentForm binds a booking wizard to its draft. A draft already on
// the washer step whose slot fell inside the cutoff window comes back frozen.
func NewAppointmentForm(deps Deps, user booking.User, d booking.AppointmentDraft) *Form {
	f := &Form{
		deps:  deps,
		kind:  KindAppointment,
		user:  user,
		appt:  &d,
		steps: []Step{dateStep{}, timeStep{}, washerStep{}},
	}
	if at, ok := d.StartAt(); ok && d.State == len(f.steps)-1 {
		if verdict, open := slot.CheckWindow(deps.now(), at, deps.Booking.CutoffLeadTime); !open {
			if verdict.Reason == slot.AppointmentPassed {
				f.passed = true
			} else {
				f.reserved = true
			}
		}
	}
	return f
}

type dateStep struct{}

func (dateStep) Item(f *Form) string   { return f.deps.Locale.Get("appointment_form", "item_date") }
func (dateStep) Prompt(f *Form) string { return f.deps.Locale.Get("appointment_form", "action_date") }

// evaluate folds every (time, washer) verdict for the date into one.
func (dateStep) evaluate(ctx context.Context, f *Form, date time.Time) (slot.Slot, error) {
	times := booking.BookableTimes(date.Weekday())
	appts, err := f.deps.Store.AppointmentsAt(ctx, date, times)
	if err != nil {
		return slot.Slot{}, err
	}
	washers, err := f.deps.Store.Washers(ctx)
	if err != nil {
		return slot.Slot{}, err
	}
	slots := slot.Expand(f.deps.now(), f.user, appts, date, times, washers, f.deps.Booking.CutoffLeadTime)
	return slot.Aggregate(slots), nil
}

func (s dateStep) Keyboard(ctx context.Context, f *Form) ([][]telegram.Button, error) {
	var rows [][]telegram.Button
	for _, date := range booking.AvailableDates(f.deps.now(), f.user.Role) {
		verdict, err := s.evaluate(ctx, f, date)
		if err != nil {
			return nil, err
		}
		rows = append(rows, []telegram.Button{{
			Label: buttonLabel(verdict, humanDateButton(f.deps.Locale, date)),
			Data:  callbackData(f.State(), timeutil.FormatDate(date)),
		}})
	}
	return rows, nil
}

func (s dateStep) Validate(ctx context.Context, f *Form, value string) (bool, string, error) {
	date, err := timeutil.ParseDate(value)
	if err != nil {
		return false, "", fmt.Errorf("forms: bad date %q: %w", value, err)
	}
	verdict, err := s.evaluate(ctx, f, date)
	if err != nil {
		return false, "", err
	}
	if !verdict.Available {
		return false, f.deps.Locale.Get("appointment_form", "date_action", verdict.Reason.LocaleKey()), nil
	}
	if err := f.deps.Store.SetAppointmentDraftDate(ctx, f.appt.ID, date); err != nil {
		return false, "", err
	}
	return true, "", nil
}

func (dateStep) Describe(f *Form) string {
	if f.appt.Date == nil {
		return ""
	}
	return humanDate(f.deps.Locale, f.deps.now(), *f.appt.Date)
}

type timeStep struct{}

func (timeStep) Item(f *Form) string   { return f.deps.Locale.Get("appointment_form", "item_time") }
func (timeStep) Prompt(f *Form) string { return f.deps.Locale.Get("appointment_form", "action_time") }

func (timeStep) evaluate(ctx context.Context, f *Form, clock time.Duration) (slot.Slot, error) {
	date := *f.appt.Date
	appts, err := f.deps.Store.AppointmentsAt(ctx, date, []time.Duration{clock})
	if err != nil {
		return slot.Slot{}, err
	}
	washers, err := f.deps.Store.Washers(ctx)
	if err != nil {
		return slot.Slot{}, err
	}
	slots := slot.Expand(f.deps.now(), f.user, appts, date, []time.Duration{clock}, washers, f.deps.Booking.CutoffLeadTime)
	return slot.Aggregate(slots), nil
}

func (s timeStep) Keyboard(ctx context.Context, f *Form) ([][]telegram.Button, error) {
	if f.appt.Date == nil {
		return nil, nil
	}
	date := *f.appt.Date
	var rows [][]telegram.Button
	for _, clock := range booking.BookableTimes(date.Weekday()) {
		// Started times are gone, not shown struck out.
		if !f.deps.now().Before(timeutil.Combine(date, clock)) {
			continue
		}
		verdict, err := s.evaluate(ctx, f, clock)
		if err != nil {
			return nil, err
		}
		label := buttonLabel(verdict, timeutil.ShortClock(clock))
		if note := timeNote(f.deps.Locale, date, clock); note != "" {
			label += " · " + note
		}
		rows = append(rows, []telegram.Button{{
			Label: label,
			Data:  callbackData(f.State(), timeutil.FormatClock(clock)),
		}})
	}
	return rows, nil
}

func (s timeStep) Validate(ctx context.Context, f *Form, value string) (bool, string, error) {
	if f.appt.Date == nil {
		return false, "", errors.New("forms: time step before date")
	}
	clock, err := timeutil.ParseClock(value)
	if err != nil {
		return false, "", fmt.Errorf("forms: bad time %q: %w", value, err)
	}
	verdict, err := s.evaluate(ctx, f, clock)
	if err != nil {
		return false, "", err
	}
	if !verdict.Available {
		text := f.deps.Locale.Get("appointment_form", "time_action", verdict.Reason.LocaleKey())
		if verdict.Reason == slot.AppointmentReserved {
			text = locale.Format(text, timeutil.HumanDelta(f.deps.Booking.CutoffLeadTime))
		}
		return false, text, nil
	}
	if err := f.deps.Store.SetAppointmentDraftTime(ctx, f.appt.ID, clock); err != nil {
		return false, "", err
	}
	return true, "", nil
}

func (timeStep) Describe(f *Form) string {
	if f.appt.Time == nil {
		return ""
	}
	return timeutil.ShortClock(*f.appt.Time)
}

type washerStep struct{}

func (washerStep) Item(f *Form) string { return f.deps.Locale.Get("appointment_form", "item_washers") }
func (washerStep) Prompt(f *Form) string {
	return f.deps.Locale.Get("appointment_form", "action_washers")
}

// verdict rereads the slot for one washer. The render-time state is never
// trusted here; a commit elsewhere may have landed since.
func (washerStep) verdict(ctx context.Context, f *Form, washerID int64) (slot.Slot, error) {
	at, ok := f.appt.StartAt()
	if !ok {
		return slot.Slot{}, errors.New("forms: washer step before date and time")
	}
	if frozen, open := slot.CheckWindow(f.deps.now(), at, f.deps.Booking.CutoffLeadTime); !open {
		return frozen, nil
	}
	appt, err := f.deps.Store.AppointmentAt(ctx, *f.appt.Date, *f.appt.Time, washerID)
	if err != nil {
		return slot.Slot{}, err
	}
	washer, err := f.deps.Store.WasherByID(ctx, washerID)
	if err != nil {
		return slot.Slot{}, err
	}
	return slot.ForWasher(f.user, appt, washer), nil
}

func (s washerStep) Keyboard(ctx context.Context, f *Form) ([][]telegram.Button, error) {
	washers, err := f.deps.Store.Washers(ctx)
	if err != nil {
		return nil, err
	}
	row := make([]telegram.Button, 0, len(washers))
	for _, w := range washers {
		verdict, err := s.verdict(ctx, f, w.ID)
		if err != nil {
			return nil, err
		}
		row = append(row, telegram.Button{
			Label: buttonLabel(verdict, w.Name),
			Data:  callbackData(f.State(), strconv.FormatInt(w.ID, 10)),
		})
	}
	return [][]telegram.Button{row}, nil
}

func (s washerStep) Validate(ctx context.Context, f *Form, value string) (bool, string, error) {
	washerID, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return false, "", fmt.Errorf("forms: bad washer id %q: %w", value, err)
	}
	verdict, err := s.verdict(ctx, f, washerID)
	if err != nil {
		return false, "", err
	}
	rejection := func(key string) string {
		return f.deps.Locale.Get("appointment_form", "washer_action", key)
	}
	switch {
	case verdict.Available && verdict.Appointment != nil:
		// Pressing an owned washer cancels it.
		if err := f.deps.Store.DeleteAppointment(ctx, verdict.Appointment.ID); err != nil {
			return false, "", err
		}
		return true, "", nil
	case verdict.Available:
		quota := f.user.Role.MaxBookWashers()
		n, err := f.deps.Store.CountPlannedAppointments(ctx, f.user.ID, f.deps.now())
		if err != nil {
			return false, "", err
		}
		if n >= quota {
			return false, locale.Format(rejection("max_book_washers"), quota), nil
		}
		_, err = f.deps.Store.CreateAppointment(ctx, booking.Appointment{
			Date:     *f.appt.Date,
			Time:     *f.appt.Time,
			DataID:   &f.appt.ID,
			UserID:   f.user.ID,
			WasherID: washerID,
		})
		if errors.Is(err, booking.ErrSlotTaken) {
			return false, rejection(slot.WasherAlreadyBooked.LocaleKey()), nil
		}
		if err != nil {
			return false, "", err
		}
		return true, "", nil
	default:
		return false, rejection(verdict.Reason.LocaleKey()), nil
	}
}

func (washerStep) Describe(f *Form) string {
	names := make([]string, 0, len(f.appt.Appointments))
	for _, a := range f.appt.Appointments {
		names = append(names, a.WasherName)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// TakeEffect refreshes every rendered wizard whose verdicts the committed
// draft may have invalidated. Renders run concurrently; a failed render is
// logged and does not block the rest.
func TakeEffect(ctx context.Context, deps Deps, d booking.AppointmentDraft) error {
	affected, err := deps.Store.AffectedAppointmentDrafts(ctx, d)
	if err != nil {
		return err
	}
	log.Printf("forms: take effect of draft %d: %d appointment drafts", d.ID, len(affected))

	var wg sync.WaitGroup
	render := func(form *Form) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := form.Update(ctx); err != nil {
				log.Printf("forms: take effect render %s %d: %v", form.draftKind(), form.DraftID(), err)
			}
		}()
	}
	for i := range affected {
		a := affected[i]
		render(NewAppointmentForm(deps, a.User, a))
	}

	if d.Date != nil {
		summaries, err := deps.Store.AffectedSummaryDrafts(ctx, *d.Date)
		if err != nil {
			wg.Wait()
			return err
		}
		for i := range summaries {
			s := summaries[i]
			render(NewSummaryForm(deps, s.User, s))
		}
	}
	wg.Wait()
	return nil
}

// humanDateButton is the compact date label on keyboards: "21.06 (Сб)".
func humanDateButton(loc *locale.Bundle, date time.Time) string {
	short := loc.List("short_weekdays")
	return fmt.Sprintf("%02d.%02d (%s)", date.Day(), int(date.Month()), short[int(date.Weekday())])
}

// humanDate is the long form used in filled items: "21.6.2024 (Сегодня)".
func humanDate(loc *locale.Bundle, now, date time.Time) string {
	suffix := loc.List("weekdays")[int(date.Weekday())]
	shift := int(timeutil.Midnight(date).Sub(timeutil.Midnight(now)).Hours() / 24)
	if shifts := loc.List("shift_days"); shift >= 0 && shift < len(shifts) {
		suffix = shifts[shift]
	}
	return fmt.Sprintf("%d.%d.%d (%s)", date.Day(), int(date.Month()), date.Year(), suffix)
}

// timeNote annotates early slots on short days with the pickup deadline.
func timeNote(loc *locale.Bundle, date time.Time, clock time.Duration) string {
	wd := date.Weekday()
	if (wd == time.Wednesday || wd == time.Sunday) && clock == 10*time.Hour {
		return loc.Get("appointment_form", "time_note_1000")
	}
	return ""
}
