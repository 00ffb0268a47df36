// Package timeutil holds the date and time-of-day codecs shared by the store,
// the slot engine and the forms. A calendar date is a time.Time at local
// midnight; a time of day is a time.Duration offset from midnight.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04:05"
)

// FormatDate renders a date as YYYY-MM-DD, the store and callback wire format.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// ParseDate parses YYYY-MM-DD into local midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// Midnight truncates t to local midnight.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// FormatClock renders a time of day as HH:MM:SS.
func FormatClock(d time.Duration) string {
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// ShortClock renders a time of day as HH:MM.
func ShortClock(d time.Duration) string {
	return FormatClock(d)[:5]
}

// ParseClock parses HH:MM or HH:MM:SS into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	if len(s) == len("15:04") {
		s += ":00"
	}
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return 0, fmt.Errorf("parse time %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second, nil
}

// Combine resolves a date plus a time of day into the start instant.
func Combine(date time.Time, clock time.Duration) time.Time {
	return Midnight(date).Add(clock)
}

// FormatStamp renders an instant as "YYYY-MM-DD HH:MM:SS" for comparison
// against a (book_date + book_time) expression on the store side.
func FormatStamp(t time.Time) string {
	return t.Format(dateLayout + " " + clockLayout)
}

// HumanDelta renders a duration in the short Russian units the bot messages
// use, e.g. "1 д. 2 ч. 15 мин.".
func HumanDelta(d time.Duration) string {
	var pieces []string
	units := int64(d / time.Second)

	if days := units / 86400; days > 0 {
		pieces = append(pieces, fmt.Sprintf("%d д.", days))
		units -= days * 86400
	}
	if hours := units / 3600; hours > 0 {
		pieces = append(pieces, fmt.Sprintf("%d ч.", hours))
		units -= hours * 3600
	}
	if mins := units / 60; mins > 0 {
		pieces = append(pieces, fmt.Sprintf("%d мин.", mins))
		units -= mins * 60
	}
	if units > 0 {
		pieces = append(pieces, fmt.Sprintf("%d с.", units))
	}
	return strings.Join(pieces, " ")
}
