package forms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/example/laundry-bot/internal/booking"
	"github.com/example/laundry-bot/internal/locale"
	"github.com/example/laundry-bot/internal/telegram"
	"github.com/example/laundry-bot/internal/timeutil"
)

// NewSummaryForm binds the day-overview form to its draft. The rendered
// overview names other residents, so the message is sent copy-protected.
func NewSummaryForm(deps Deps, user booking.User, d booking.SummaryDraft) *Form {
	return &Form{
		deps:    deps,
		kind:    KindSummary,
		user:    user,
		sum:     &d,
		protect: true,
		steps:   []Step{summaryDateStep{}, summaryInfoStep{}},
	}
}

type summaryDateStep struct{}

func (summaryDateStep) Item(f *Form) string {
	return f.deps.Locale.Get("summary_form", "item_date")
}

func (summaryDateStep) Prompt(f *Form) string {
	return f.deps.Locale.Get("summary_form", "action_date")
}

func (s summaryDateStep) Body(ctx context.Context, f *Form) (string, error) {
	return "📅 " + s.Prompt(f), nil
}

func (s summaryDateStep) Keyboard(ctx context.Context, f *Form) ([][]telegram.Button, error) {
	var rows [][]telegram.Button
	for _, date := range booking.AvailableDates(f.deps.now(), f.user.Role) {
		n, err := f.deps.Store.CountAppointmentsOn(ctx, date)
		if err != nil {
			return nil, err
		}
		label := humanDateButton(f.deps.Locale, date)
		if n > 0 {
			label = fmt.Sprintf("%s · %d", label, n)
		}
		rows = append(rows, []telegram.Button{{
			Label: label,
			Data:  callbackData(f.State(), timeutil.FormatDate(date)),
		}})
	}
	return rows, nil
}

func (summaryDateStep) Validate(ctx context.Context, f *Form, value string) (bool, string, error) {
	date, err := timeutil.ParseDate(value)
	if err != nil {
		return false, "", fmt.Errorf("forms: bad date %q: %w", value, err)
	}
	if err := f.deps.Store.SetSummaryDraftDate(ctx, f.sum.ID, date); err != nil {
		return false, "", err
	}
	return true, "", nil
}

func (summaryDateStep) Describe(f *Form) string {
	if f.sum.Date == nil {
		return ""
	}
	return humanDate(f.deps.Locale, f.deps.now(), *f.sum.Date)
}

// summaryInfoStep is the terminal overview message. It has no keyboard and
// renders in MarkdownV2 for strikethrough on started slots.
type summaryInfoStep struct{}

func (summaryInfoStep) Item(f *Form) string     { return "" }
func (summaryInfoStep) Prompt(f *Form) string   { return "" }
func (summaryInfoStep) Describe(f *Form) string { return "" }
func (summaryInfoStep) ParseMode() string       { return "MarkdownV2" }

func (summaryInfoStep) Keyboard(ctx context.Context, f *Form) ([][]telegram.Button, error) {
	return nil, nil
}

func (summaryInfoStep) Validate(ctx context.Context, f *Form, value string) (bool, string, error) {
	return false, "", errors.New("forms: summary overview accepts no input")
}

func (summaryInfoStep) Body(ctx context.Context, f *Form) (string, error) {
	if f.sum.Date == nil {
		return "", errors.New("forms: summary overview before date")
	}
	date := *f.sum.Date
	drafts, err := f.deps.Store.AppointmentDraftsOn(ctx, date)
	if err != nil {
		return "", err
	}

	now := f.deps.now()
	var sb strings.Builder
	sb.WriteString("📅 *")
	sb.WriteString(locale.EscapeMarkdownV2(humanDate(f.deps.Locale, now, date)))
	sb.WriteString("*")

	if len(drafts) == 0 {
		sb.WriteString("\n\n")
		sb.WriteString(locale.EscapeMarkdownV2(f.deps.Locale.Get("no_active_bookings")))
		return sb.String(), nil
	}

	var lastClock *time.Duration
	for i := range drafts {
		d := drafts[i]
		if d.Time == nil {
			continue
		}
		if lastClock == nil || *d.Time != *lastClock {
			sb.WriteString("\n\n*")
			sb.WriteString(locale.EscapeMarkdownV2(timeutil.ShortClock(*d.Time)))
			sb.WriteString("*")
			lastClock = d.Time
		}
		who, washers := summaryLine(d)
		// The resident name sits in a spoiler so the overview can be shown
		// around without exposing who booked what.
		line := locale.EscapeMarkdownV2("- ") +
			"||" + locale.EscapeMarkdownV2(who) + "||" +
			locale.EscapeMarkdownV2(" - "+washers)
		if at, ok := d.StartAt(); ok && now.After(at) {
			line = "~" + line + "~"
		}
		sb.WriteString("\n")
		sb.WriteString(line)
	}
	return sb.String(), nil
}

func summaryLine(d booking.AppointmentDraft) (who, washers string) {
	who = "@" + d.User.Username
	if d.User.Username == "" {
		who = strings.TrimSpace(d.User.FirstName + " " + d.User.LastName)
	}
	names := make([]string, 0, len(d.Appointments))
	for _, a := range d.Appointments {
		names = append(names, a.WasherName)
	}
	sort.Strings(names)
	return who, strings.Join(names, ", ")
}
