package timeutil

import (
	"sync"
	"time"
)

// DaySet is a small time-indexed set of string keys grouped by calendar day.
// The reconciler uses it to remember which notifications it already sent and
// trims elapsed days explicitly on each pass instead of relying on a
// background timer.
type DaySet struct {
	mu   sync.Mutex
	days map[string]map[string]struct{}
}

func NewDaySet() *DaySet {
	return &DaySet{days: make(map[string]map[string]struct{})}
}

// Mark records key under the given day and reports whether it was absent.
func (s *DaySet) Mark(day time.Time, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	dk := FormatDate(day)
	keys, ok := s.days[dk]
	if !ok {
		keys = make(map[string]struct{})
		s.days[dk] = keys
	}
	if _, seen := keys[key]; seen {
		return false
	}
	keys[key] = struct{}{}
	return true
}

// Contains reports whether key was marked under day.
func (s *DaySet) Contains(day time.Time, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, ok := s.days[FormatDate(day)]
	if !ok {
		return false
	}
	_, seen := keys[key]
	return seen
}

// PruneBefore drops every day strictly before now's calendar day.
func (s *DaySet) PruneBefore(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := FormatDate(now)
	for dk := range s.days {
		if dk < cutoff {
			delete(s.days, dk)
		}
	}
}
