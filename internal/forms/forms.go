// Package forms drives the multi-step chat wizards. A Form binds a draft row
// to an ordered list of steps; every button press re-validates against the
// store before anything is persisted, because the render-time verdict may be
// stale by the time the user clicks.
package forms

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/example/laundry-bot/internal/booking"
	"github.com/example/laundry-bot/internal/config"
	"github.com/example/laundry-bot/internal/locale"
	"github.com/example/laundry-bot/internal/slot"
	"github.com/example/laundry-bot/internal/telegram"
)

// Transport is the slice of the chat client a form needs.
type Transport interface {
	Send(ctx context.Context, chatID int64, text string, opts telegram.Options) (int64, error)
	Edit(ctx context.Context, chatID int64, messageID int64, text string, opts telegram.Options) error
}

// Store is the slice of the booking store the forms consume.
// *booking.Store satisfies it.
type Store interface {
	Washers(ctx context.Context) ([]booking.Washer, error)
	WasherByID(ctx context.Context, id int64) (booking.Washer, error)
	AppointmentsAt(ctx context.Context, date time.Time, times []time.Duration) ([]booking.Appointment, error)
	AppointmentAt(ctx context.Context, date time.Time, clock time.Duration, washerID int64) (*booking.Appointment, error)
	CreateAppointment(ctx context.Context, a booking.Appointment) (int64, error)
	DeleteAppointment(ctx context.Context, id int64) error
	CountPlannedAppointments(ctx context.Context, userID int64, now time.Time) (int, error)
	CountAppointmentsOn(ctx context.Context, date time.Time) (int, error)

	SetDraftState(ctx context.Context, kind booking.DraftKind, id int64, state int) error
	AttachMessage(ctx context.Context, kind booking.DraftKind, draftID, messageID, userID int64) error

	AppointmentDraft(ctx context.Context, id int64) (booking.AppointmentDraft, error)
	SetAppointmentDraftDate(ctx context.Context, id int64, date time.Time) error
	SetAppointmentDraftTime(ctx context.Context, id int64, clock time.Duration) error
	DuplicateAppointmentDrafts(ctx context.Context, d booking.AppointmentDraft) ([]booking.DraftRef, error)
	ReallocateAppointmentDrafts(ctx context.Context, targetID int64, stale []int64) error
	AffectedAppointmentDrafts(ctx context.Context, d booking.AppointmentDraft) ([]booking.AppointmentDraft, error)
	AppointmentDraftsOn(ctx context.Context, date time.Time) ([]booking.AppointmentDraft, error)

	Reminders(ctx context.Context, userID int64) ([]booking.Reminder, error)
	ReminderByOffset(ctx context.Context, userID int64, seconds int) (*booking.Reminder, error)
	CreateReminder(ctx context.Context, r booking.Reminder) error
	DeleteReminder(ctx context.Context, id int64) error
	ReminderDraft(ctx context.Context, id int64) (booking.ReminderDraft, error)
	DuplicateReminderDrafts(ctx context.Context, d booking.ReminderDraft) ([]booking.DraftRef, error)
	ReallocateReminderDrafts(ctx context.Context, targetID int64, stale []int64) error

	SummaryDraft(ctx context.Context, id int64) (booking.SummaryDraft, error)
	SetSummaryDraftDate(ctx context.Context, id int64, date time.Time) error
	DuplicateSummaryDrafts(ctx context.Context, d booking.SummaryDraft) ([]booking.DraftRef, error)
	DeleteSummaryDrafts(ctx context.Context, stale []int64) error
	AffectedSummaryDrafts(ctx context.Context, date time.Time) ([]booking.SummaryDraft, error)
}

// Deps bundles what every form needs. Now is overridable for tests and
// defaults to time.Now. CloseSignal, when set, hands the freezing of a
// superseded draft's message to another process instead of editing inline.
type Deps struct {
	Store       Store
	Transport   Transport
	Locale      *locale.Bundle
	Booking     config.Booking
	Now         func() time.Time
	CloseSignal func(chatID, messageID int64) error
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

type Kind int

const (
	KindAppointment Kind = iota
	KindReminder
	KindSummary
)

// CloseReason is why a rendered form freezes.
type CloseReason int

const (
	// CloseNotRelevant marks a draft superseded by reallocation.
	CloseNotRelevant CloseReason = iota
	// CloseReserved marks a draft inside the booking-window cutoff.
	CloseReserved
	// ClosePassed marks a draft whose slot started.
	ClosePassed
)

// Step is one wizard state. Validate re-checks the chosen value against the
// store and persists it when accepted; a rejection comes back as localized
// text, never as an error.
type Step interface {
	Item(f *Form) string
	Prompt(f *Form) string
	Keyboard(ctx context.Context, f *Form) ([][]telegram.Button, error)
	Validate(ctx context.Context, f *Form, value string) (ok bool, errText string, err error)
	Describe(f *Form) string
}

// bodyStep replaces the default title-plus-items body with its own text.
type bodyStep interface {
	Body(ctx context.Context, f *Form) (string, error)
}

// parseModeStep overrides the default Markdown parse mode.
type parseModeStep interface {
	ParseMode() string
}

// Form is one rendered wizard message. Exactly one of the draft fields is
// set, matching kind.
type Form struct {
	deps  Deps
	kind  Kind
	steps []Step
	user  booking.User

	appt *booking.AppointmentDraft
	rem  *booking.ReminderDraft
	sum  *booking.SummaryDraft

	protect  bool
	closed   bool
	reserved bool
	passed   bool

	errMu    sync.Mutex
	errText  string
	errTimer *time.Timer
}

func (f *Form) Kind() Kind         { return f.kind }
func (f *Form) User() booking.User { return f.user }

// Appointment exposes the bound draft to appointment steps.
func (f *Form) Appointment() *booking.AppointmentDraft { return f.appt }

func (f *Form) DraftID() int64 {
	switch f.kind {
	case KindAppointment:
		return f.appt.ID
	case KindReminder:
		return f.rem.ID
	default:
		return f.sum.ID
	}
}

func (f *Form) State() int {
	switch f.kind {
	case KindAppointment:
		return f.appt.State
	case KindReminder:
		return f.rem.State
	default:
		return f.sum.State
	}
}

func (f *Form) setState(state int) {
	if state < 0 {
		state = 0
	}
	if state > len(f.steps)-1 {
		state = len(f.steps) - 1
	}
	switch f.kind {
	case KindAppointment:
		f.appt.State = state
	case KindReminder:
		f.rem.State = state
	default:
		f.sum.State = state
	}
}

func (f *Form) MessageID() *int64 {
	switch f.kind {
	case KindAppointment:
		return f.appt.MessageID
	case KindReminder:
		return f.rem.MessageID
	default:
		return f.sum.MessageID
	}
}

func (f *Form) draftKind() booking.DraftKind {
	switch f.kind {
	case KindAppointment:
		return booking.KindAppointment
	case KindReminder:
		return booking.KindReminder
	default:
		return booking.KindSummary
	}
}

// LastStep reports whether the form sits on its final step; the bot publishes
// the commit event when an appointment form gets there.
func (f *Form) LastStep() bool {
	return f.State() == len(f.steps)-1
}

// Finished reports the kind-specific completion predicate.
func (f *Form) Finished() bool {
	switch f.kind {
	case KindAppointment:
		return len(f.appt.Appointments) > 0
	case KindReminder:
		return len(f.rem.Reminders) > 0
	default:
		return f.sum.State == len(f.steps)-1
	}
}

func (f *Form) activeStep() Step { return f.steps[f.State()] }

func (f *Form) currentError() string {
	f.errMu.Lock()
	defer f.errMu.Unlock()
	return f.errText
}

func (f *Form) finishedText() string {
	switch f.kind {
	case KindAppointment:
		return f.deps.Locale.Get("appointment_form", "finished_title")
	case KindReminder:
		return f.deps.Locale.Get("reminder_form", "finished_title")
	default:
		return ""
	}
}

func (f *Form) title() string {
	if f.kind == KindAppointment {
		if f.passed {
			return "📅 " + f.deps.Locale.Get("appointment_form", "passed_title")
		}
		if f.reserved {
			return "⌛ " + f.deps.Locale.Get("appointment_form", "reserved_title")
		}
	}
	if errText := f.currentError(); errText != "" {
		return "🚫 " + errText
	}
	if f.Finished() {
		return "✅ " + f.finishedText()
	}
	prompt := f.activeStep().Prompt(f)
	if len(f.steps) > 1 {
		return fmt.Sprintf("%d/%d %s", f.State()+1, len(f.steps), prompt)
	}
	return prompt
}

// Text renders the whole message body.
func (f *Form) Text(ctx context.Context) (string, error) {
	if f.closed {
		return "⌛", nil
	}
	if bs, ok := f.activeStep().(bodyStep); ok {
		return bs.Body(ctx, f)
	}

	var sb strings.Builder
	sb.WriteString(f.title())
	sb.WriteString("\n")
	for i, step := range f.steps {
		sb.WriteString("\n")
		sb.WriteString(step.Item(f))
		sb.WriteString(": ")
		if i < f.State() || f.Finished() {
			sb.WriteString("*" + step.Describe(f) + "*")
		} else {
			sb.WriteString("...")
		}
	}
	return sb.String(), nil
}

func (f *Form) parseMode() string {
	if pm, ok := f.activeStep().(parseModeStep); ok {
		return pm.ParseMode()
	}
	return "Markdown"
}

func (f *Form) keyboard(ctx context.Context) ([][]telegram.Button, error) {
	if f.closed || f.reserved || f.passed {
		return nil, nil
	}
	return f.activeStep().Keyboard(ctx, f)
}

func (f *Form) options(ctx context.Context) (telegram.Options, error) {
	kb, err := f.keyboard(ctx)
	if err != nil {
		return telegram.Options{}, err
	}
	return telegram.Options{
		ParseMode:      f.parseMode(),
		ProtectContent: f.protect,
		Keyboard:       kb,
	}, nil
}

// Reply renders the form as a fresh message and binds it to the draft.
func (f *Form) Reply(ctx context.Context) error {
	return f.withReallocation(ctx, func() error {
		text, err := f.Text(ctx)
		if err != nil {
			return err
		}
		opts, err := f.options(ctx)
		if err != nil {
			return err
		}
		msgID, err := f.deps.Transport.Send(ctx, f.user.ChatID, text, opts)
		if err != nil {
			return err
		}
		if err := f.deps.Store.AttachMessage(ctx, f.draftKind(), f.DraftID(), msgID, f.user.ID); err != nil {
			return err
		}
		f.setMessageID(msgID)
		return nil
	})
}

func (f *Form) setMessageID(id int64) {
	switch f.kind {
	case KindAppointment:
		f.appt.MessageID = &id
	case KindReminder:
		f.rem.MessageID = &id
	default:
		f.sum.MessageID = &id
	}
}

// Update re-renders the bound message in place.
func (f *Form) Update(ctx context.Context) error {
	msgID := f.MessageID()
	if msgID == nil {
		return nil
	}
	edit := func() error {
		text, err := f.Text(ctx)
		if err != nil {
			return err
		}
		opts, err := f.options(ctx)
		if err != nil {
			return err
		}
		return f.deps.Transport.Edit(ctx, f.user.ChatID, *msgID, text, opts)
	}
	if f.Finished() {
		return edit()
	}
	return f.withReallocation(ctx, edit)
}

// Close freezes the rendered message for the given reason. The keyboard is
// dropped; no further input is accepted through it.
func (f *Form) Close(ctx context.Context, reason CloseReason) error {
	switch reason {
	case CloseNotRelevant:
		f.closed = true
	case CloseReserved:
		f.reserved = true
	case ClosePassed:
		f.passed = true
	}
	msgID := f.MessageID()
	if msgID == nil {
		return nil
	}
	text, err := f.Text(ctx)
	if err != nil {
		return err
	}
	return f.deps.Transport.Edit(ctx, f.user.ChatID, *msgID, text, telegram.Options{ParseMode: f.parseMode()})
}

// HandleButton applies one pressed button: re-validate, persist, advance.
// A rejection stays on the current step and surfaces a transient error that
// clears itself after the configured duration.
func (f *Form) HandleButton(ctx context.Context, state int, value string) (bool, error) {
	f.setState(state)

	ok, errText, err := f.activeStep().Validate(ctx, f, value)
	if err != nil {
		return false, err
	}
	if ok {
		f.cancelError()
		if f.State() < len(f.steps)-1 {
			if err := f.deps.Store.SetDraftState(ctx, f.draftKind(), f.DraftID(), f.State()+1); err != nil {
				return false, err
			}
		}
		if err := f.reload(ctx); err != nil {
			return false, err
		}
		return true, nil
	}
	if errText != "" {
		f.flashError(errText)
	}
	return false, nil
}

// flashError installs the transient rejection text and schedules its clear.
// A later rejection supersedes the pending clear.
func (f *Form) flashError(text string) {
	f.errMu.Lock()
	defer f.errMu.Unlock()

	f.errText = text
	if f.errTimer != nil {
		f.errTimer.Stop()
	}
	f.errTimer = time.AfterFunc(f.deps.Booking.ErrorVisibleDuration, func() {
		f.errMu.Lock()
		if f.errText != text {
			f.errMu.Unlock()
			return
		}
		f.errText = ""
		f.errTimer = nil
		f.errMu.Unlock()

		// Another handler may have advanced the draft since the rejection;
		// render whatever is current, not this instance's snapshot.
		ctx := context.Background()
		if err := f.reload(ctx); err != nil {
			log.Printf("forms: clear error reload: %v", err)
			return
		}
		if err := f.Update(ctx); err != nil {
			log.Printf("forms: clear error render: %v", err)
		}
	})
}

func (f *Form) cancelError() {
	f.errMu.Lock()
	defer f.errMu.Unlock()
	f.errText = ""
	if f.errTimer != nil {
		f.errTimer.Stop()
		f.errTimer = nil
	}
}

func (f *Form) reload(ctx context.Context) error {
	switch f.kind {
	case KindAppointment:
		d, err := f.deps.Store.AppointmentDraft(ctx, f.appt.ID)
		if err != nil {
			return err
		}
		f.appt = &d
	case KindReminder:
		d, err := f.deps.Store.ReminderDraft(ctx, f.rem.ID)
		if err != nil {
			return err
		}
		f.rem = &d
	default:
		d, err := f.deps.Store.SummaryDraft(ctx, f.sum.ID)
		if err != nil {
			return err
		}
		f.sum = &d
	}
	return nil
}

func (f *Form) duplicates(ctx context.Context) ([]booking.DraftRef, error) {
	switch f.kind {
	case KindAppointment:
		return f.deps.Store.DuplicateAppointmentDrafts(ctx, *f.appt)
	case KindReminder:
		return f.deps.Store.DuplicateReminderDrafts(ctx, *f.rem)
	default:
		return f.deps.Store.DuplicateSummaryDrafts(ctx, *f.sum)
	}
}

func (f *Form) reallocate(ctx context.Context, stale []int64) error {
	switch f.kind {
	case KindAppointment:
		return f.deps.Store.ReallocateAppointmentDrafts(ctx, f.appt.ID, stale)
	case KindReminder:
		return f.deps.Store.ReallocateReminderDrafts(ctx, f.rem.ID, stale)
	default:
		return f.deps.Store.DeleteSummaryDrafts(ctx, stale)
	}
}

// withReallocation retires other live drafts that describe the same committed
// choice before rendering. The merge is transactional; its failure degrades
// to duplicated UI, not to duplicated bookings, so it is logged and skipped.
func (f *Form) withReallocation(ctx context.Context, cb func() error) error {
	dups, err := f.duplicates(ctx)
	if err != nil {
		return err
	}
	if len(dups) == 0 {
		return cb()
	}

	ids := make([]int64, len(dups))
	for i, d := range dups {
		ids[i] = d.ID
	}
	if err := f.reallocate(ctx, ids); err != nil {
		log.Printf("forms: reallocate %s drafts %v: %v", f.draftKind(), ids, err)
	} else if err := f.reload(ctx); err != nil {
		return err
	}

	cbErr := cb()

	// Stale render surfaces are frozen out of band; the drafts are gone.
	for _, d := range dups {
		if d.MessageID == nil || d.ChatID == 0 {
			continue
		}
		ref := d
		go func() {
			var err error
			if f.deps.CloseSignal != nil {
				err = f.deps.CloseSignal(ref.ChatID, *ref.MessageID)
			} else {
				err = f.deps.Transport.Edit(context.Background(), ref.ChatID, *ref.MessageID, "⌛", telegram.Options{})
			}
			if err != nil {
				log.Printf("forms: close superseded message %d/%d: %v", ref.ChatID, *ref.MessageID, err)
			}
		}()
	}
	return cbErr
}

// ParseCallback splits a "<stepIndex> <value>" button payload.
func ParseCallback(data string) (int, string, error) {
	head, value, found := strings.Cut(data, " ")
	if !found {
		return 0, "", fmt.Errorf("forms: malformed callback %q", data)
	}
	state, err := strconv.Atoi(head)
	if err != nil {
		return 0, "", fmt.Errorf("forms: malformed callback %q", data)
	}
	return state, value, nil
}

func callbackData(state int, value string) string {
	return fmt.Sprintf("%d %s", state, value)
}

func buttonLabel(s slot.Slot, label string) string {
	if g := s.Glyph(); g != "" {
		return g + " " + label
	}
	return label
}
