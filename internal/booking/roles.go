package booking

import "time"

type Role string

const (
	RoleUser             Role = "user"
	RoleModeratorPartial Role = "moderator:partial"
	RoleModerator        Role = "moderator"
	RoleEmployee         Role = "employee"
)

type roleAttrs struct {
	maxBookWashers int
	weekdays       []time.Weekday
	daysAhead      int
}

var residentWeekdays = []time.Weekday{
	time.Monday, time.Tuesday, time.Thursday, time.Friday, time.Saturday,
}

var allWeekdays = []time.Weekday{
	time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
	time.Thursday, time.Friday, time.Saturday,
}

var attrsByRole = map[Role]roleAttrs{
	RoleUser:             {maxBookWashers: 2, weekdays: residentWeekdays, daysAhead: 5},
	RoleModeratorPartial: {maxBookWashers: 2, weekdays: residentWeekdays, daysAhead: 5},
	RoleModerator:        {maxBookWashers: 3, weekdays: allWeekdays, daysAhead: 7},
	RoleEmployee:         {maxBookWashers: 3, weekdays: allWeekdays, daysAhead: 7},
}

func (r Role) attrs() roleAttrs {
	if a, ok := attrsByRole[r]; ok {
		return a
	}
	return attrsByRole[RoleUser]
}

// MaxBookWashers is the role's quota of concurrently-future reservations.
func (r Role) MaxBookWashers() int { return r.attrs().maxBookWashers }

// BookableWeekday reports whether the role may book on the given weekday.
func (r Role) BookableWeekday(wd time.Weekday) bool {
	for _, w := range r.attrs().weekdays {
		if w == wd {
			return true
		}
	}
	return false
}

// CanModerate reports whether the role may run /summary and /today.
func (r Role) CanModerate() bool { return r == RoleModerator }

var residentTimes = []time.Duration{
	10 * time.Hour, 14 * time.Hour, 18 * time.Hour, 20 * time.Hour,
}

var staffTimes = []time.Duration{
	10 * time.Hour, 13 * time.Hour, 16 * time.Hour, 19 * time.Hour, 22 * time.Hour,
}

// BookableTimes returns the slot start times offered on a weekday.
// Wednesday and Sunday run the staff schedule.
func BookableTimes(wd time.Weekday) []time.Duration {
	if wd == time.Wednesday || wd == time.Sunday {
		return staffTimes
	}
	return residentTimes
}

// AvailableDates lists the upcoming dates the role may pick in a form.
// When every slot of today has already started, today is skipped.
func AvailableDates(now time.Time, role Role) []time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	times := BookableTimes(day.Weekday())
	lastStart := day.Add(times[len(times)-1])
	if !now.Before(lastStart) {
		day = day.AddDate(0, 0, 1)
	}

	var dates []time.Time
	for len(dates) < role.attrs().daysAhead {
		if role.BookableWeekday(day.Weekday()) {
			dates = append(dates, day)
		}
		day = day.AddDate(0, 0, 1)
	}
	return dates
}
