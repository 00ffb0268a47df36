// Package booking holds the domain entities and the Postgres store for
// reservations, drafts and reminders.
package booking

import (
	"time"

	"github.com/example/laundry-bot/internal/timeutil"
)

type User struct {
	ID          int64
	FirstName   string
	LastName    string
	OrderNumber string
	Username    string
	ChatID      int64
	Role        Role

	// Reminders is populated only by queries that need it.
	Reminders []Reminder
}

// Washer is a bookable machine. Read-only here; maintenance toggles happen
// outside the bot.
type Washer struct {
	ID        int64
	Name      string
	Available bool
}

// Appointment is one committed reservation of a washer for a slot.
// (Date, Time, WasherID) is unique across live appointments.
type Appointment struct {
	ID       int64
	Date     time.Time
	Time     time.Duration
	DataID   *int64
	UserID   int64
	WasherID int64

	// WasherName is filled when the query joins washers.
	WasherName string
}

// StartAt is the slot's start instant.
func (a Appointment) StartAt() time.Time {
	return timeutil.Combine(a.Date, a.Time)
}

// Reminder is a user-owned notification offset before a slot's start.
type Reminder struct {
	ID      int64
	Seconds int
	UserID  int64
	DataID  *int64
}

func (r Reminder) Offset() time.Duration {
	return time.Duration(r.Seconds) * time.Second
}

// DraftKind names a draft table. The reallocation and message-attachment
// queries are shared across kinds.
type DraftKind string

const (
	KindAppointment DraftKind = "appointment_data"
	KindReminder    DraftKind = "reminder_data"
	KindSummary     DraftKind = "summary_data"
)

// DraftRef is the slice of a draft needed to close its rendered message:
// ids plus the owner's chat.
type DraftRef struct {
	ID        int64
	MessageID *int64
	UserID    int64
	ChatID    int64
}

// AppointmentDraft is an in-progress /book form instance.
type AppointmentDraft struct {
	ID        int64
	State     int
	Date      *time.Time
	Time      *time.Duration
	Reserved  bool
	UserID    int64
	MessageID *int64

	User         User
	Appointments []Appointment
}

// StartAt resolves the chosen date and time into the start instant.
// ok is false until both steps are answered.
func (d AppointmentDraft) StartAt() (at time.Time, ok bool) {
	if d.Date == nil || d.Time == nil {
		return time.Time{}, false
	}
	return timeutil.Combine(*d.Date, *d.Time), true
}

// ReminderDraft is an in-progress /remind form instance.
type ReminderDraft struct {
	ID        int64
	State     int
	UserID    int64
	MessageID *int64

	User      User
	Reminders []Reminder
}

// SummaryDraft is an in-progress /summary form instance.
type SummaryDraft struct {
	ID        int64
	State     int
	Date      *time.Time
	UserID    int64
	MessageID *int64

	User User
}
