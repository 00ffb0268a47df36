// Package slot computes bookability verdicts for candidate
// (date, time, washer) combinations. Everything here is a pure function of
// its inputs plus the caller-supplied clock.
package slot

import (
	"time"

	"github.com/example/laundry-bot/internal/booking"
	"github.com/example/laundry-bot/internal/timeutil"
)

// Reason explains a verdict. The time-boundary reasons dominate the
// washer-level ones.
type Reason int

const (
	WasherAvailable Reason = iota
	WasherAlreadyBooked
	WasherNotAvailable
	AppointmentPassed
	AppointmentReserved
)

// LocaleKey maps a reason onto its key in the locale bundle.
func (r Reason) LocaleKey() string {
	switch r {
	case WasherAlreadyBooked:
		return "washer_is_already_booked"
	case WasherNotAvailable:
		return "washer_is_not_available"
	case AppointmentPassed:
		return "appointment_is_passed"
	case AppointmentReserved:
		return "appointment_is_reserved"
	default:
		return ""
	}
}

// Slot is the verdict for one candidate combination. Appointment is set only
// when the caller owns the booking occupying the slot, so toggling it means
// canceling.
type Slot struct {
	Available   bool
	Reason      Reason
	Appointment *booking.Appointment
}

func (s Slot) sameLevel(other Slot) bool {
	return s.Available == other.Available && s.Reason == other.Reason
}

// Glyph returns the emoji prefix a button shows for this verdict, empty for
// a plainly free slot.
func (s Slot) Glyph() string {
	switch s.Reason {
	case WasherAlreadyBooked:
		if s.Available {
			return "✅"
		}
		return "❌"
	case WasherNotAvailable:
		return "🔧"
	case AppointmentPassed, AppointmentReserved:
		return "⌛"
	default:
		return ""
	}
}

// ForWasher resolves one washer at an already time-checked slot. appt is the
// appointment occupying the slot, nil when free.
func ForWasher(user booking.User, appt *booking.Appointment, washer booking.Washer) Slot {
	if appt == nil {
		if !washer.Available {
			return Slot{Available: false, Reason: WasherNotAvailable}
		}
		return Slot{Available: true, Reason: WasherAvailable}
	}
	if appt.UserID == user.ID {
		return Slot{Available: true, Reason: WasherAlreadyBooked, Appointment: appt}
	}
	return Slot{Available: false, Reason: WasherAlreadyBooked}
}

// CheckWindow applies the booking-window cutoff to a start instant. The
// boundary instant itself counts as inside the window. ok is false when the
// slot is frozen; the accompanying verdict carries the reason.
func CheckWindow(now, startAt time.Time, cutoff time.Duration) (Slot, bool) {
	if now.After(startAt) {
		return Slot{Available: false, Reason: AppointmentPassed}, false
	}
	if !now.Before(startAt.Add(-cutoff)) {
		return Slot{Available: false, Reason: AppointmentReserved}, false
	}
	return Slot{}, true
}

// Expand evaluates every (time, washer) combination for a candidate date.
// A time inside the cutoff window collapses to a single frozen verdict and
// skips the washer loop entirely.
func Expand(now time.Time, user booking.User, appts []booking.Appointment, date time.Time, times []time.Duration, washers []booking.Washer, cutoff time.Duration) []Slot {
	var slots []Slot
	for _, t := range times {
		startAt := timeutil.Combine(date, t)
		if frozen, ok := CheckWindow(now, startAt, cutoff); !ok {
			slots = append(slots, frozen)
			continue
		}
		for _, w := range washers {
			var match *booking.Appointment
			for i := range appts {
				if appts[i].WasherID == w.ID && appts[i].StartAt().Equal(startAt) {
					match = &appts[i]
					break
				}
			}
			slots = append(slots, ForWasher(user, match, w))
		}
	}
	return slots
}

// aggregation priority, best first: a slot the caller already holds beats a
// freely bookable one, which beats someone else's booking, which beats the
// time-boundary blocks.
var aggregateLevels = []Slot{
	{Available: true, Reason: WasherAlreadyBooked},
	{Available: true, Reason: WasherAvailable},
	{Available: false, Reason: WasherAlreadyBooked},
	{Available: false, Reason: AppointmentPassed},
	{Available: false, Reason: AppointmentReserved},
}

// Aggregate folds per-washer verdicts for one date/time choice into the one
// a button shows. First matching level wins; input order never matters.
func Aggregate(slots []Slot) Slot {
	for _, level := range aggregateLevels {
		for _, s := range slots {
			if level.sameLevel(s) {
				return level
			}
		}
	}
	return Slot{Available: false, Reason: WasherNotAvailable}
}
