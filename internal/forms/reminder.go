package forms

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/example/laundry-bot/internal/booking"
	"github.com/example/laundry-bot/internal/telegram"
	"github.com/example/laundry-bot/internal/timeutil"
)

// NewReminderForm binds the notification wizard to its draft. A single step,
// every press toggles one offset.
func NewReminderForm(deps Deps, user booking.User, d booking.ReminderDraft) *Form {
	return &Form{
		deps:  deps,
		kind:  KindReminder,
		user:  user,
		rem:   &d,
		steps: []Step{reminderStep{}},
	}
}

type reminderStep struct{}

func (reminderStep) Item(f *Form) string {
	return f.deps.Locale.Get("reminder_form", "item_reminders")
}

func (reminderStep) Prompt(f *Form) string {
	return f.deps.Locale.Get("reminder_form", "action_reminders")
}

func (reminderStep) Keyboard(ctx context.Context, f *Form) ([][]telegram.Button, error) {
	row := make([]telegram.Button, 0, len(f.deps.Booking.ReminderOffsets))
	for _, offset := range f.deps.Booking.ReminderOffsets {
		seconds := int(offset.Seconds())
		existing, err := f.deps.Store.ReminderByOffset(ctx, f.user.ID, seconds)
		if err != nil {
			return nil, err
		}
		label := timeutil.HumanDelta(offset)
		if existing != nil {
			label = "✅ " + label
		}
		row = append(row, telegram.Button{
			Label: label,
			Data:  callbackData(f.State(), strconv.Itoa(seconds)),
		})
	}
	return [][]telegram.Button{row}, nil
}

func (reminderStep) Validate(ctx context.Context, f *Form, value string) (bool, string, error) {
	seconds, err := strconv.Atoi(value)
	if err != nil {
		return false, "", err
	}
	existing, err := f.deps.Store.ReminderByOffset(ctx, f.user.ID, seconds)
	if err != nil {
		return false, "", err
	}
	if existing != nil {
		if err := f.deps.Store.DeleteReminder(ctx, existing.ID); err != nil {
			return false, "", err
		}
		return true, "", nil
	}
	err = f.deps.Store.CreateReminder(ctx, booking.Reminder{
		Seconds: seconds,
		UserID:  f.user.ID,
		DataID:  &f.rem.ID,
	})
	if err != nil {
		return false, "", err
	}
	return true, "", nil
}

func (reminderStep) Describe(f *Form) string {
	offsets := make([]int, 0, len(f.rem.Reminders))
	for _, r := range f.rem.Reminders {
		offsets = append(offsets, r.Seconds)
	}
	sort.Ints(offsets)
	var sb strings.Builder
	for _, s := range offsets {
		sb.WriteString("\n- ")
		sb.WriteString(timeutil.HumanDelta(booking.Reminder{Seconds: s}.Offset()))
	}
	return sb.String()
}
