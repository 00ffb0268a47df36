package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateRoundTrip(t *testing.T) {
	d, err := ParseDate("2024-06-10")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-10", FormatDate(d))
	assert.Equal(t, 0, d.Hour())
	assert.Equal(t, time.June, d.Month())
}

func TestParseDateInvalid(t *testing.T) {
	_, err := ParseDate("10.06.2024")
	assert.Error(t, err)
}

func TestClockRoundTrip(t *testing.T) {
	testCases := []struct {
		in   string
		want time.Duration
	}{
		{"10:00:00", 10 * time.Hour},
		{"10:00", 10 * time.Hour},
		{"19:30:15", 19*time.Hour + 30*time.Minute + 15*time.Second},
	}
	for _, tc := range testCases {
		got, err := ParseClock(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
	assert.Equal(t, "19:30:15", FormatClock(19*time.Hour+30*time.Minute+15*time.Second))
	assert.Equal(t, "19:30", ShortClock(19*time.Hour+30*time.Minute+15*time.Second))
}

func TestCombine(t *testing.T) {
	d, err := ParseDate("2024-06-10")
	require.NoError(t, err)
	at := Combine(d, 10*time.Hour)
	assert.Equal(t, 10, at.Hour())
	assert.Equal(t, "2024-06-10", FormatDate(at))
}

func TestHumanDelta(t *testing.T) {
	testCases := []struct {
		in   time.Duration
		want string
	}{
		{5 * time.Minute, "5 мин."},
		{time.Hour, "1 ч."},
		{24 * time.Hour, "1 д."},
		{26*time.Hour + 15*time.Minute, "1 д. 2 ч. 15 мин."},
		{90 * time.Second, "1 мин. 30 с."},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, HumanDelta(tc.in))
	}
}

func TestDaySetMarkAndPrune(t *testing.T) {
	s := NewDaySet()
	day1, _ := ParseDate("2024-06-10")
	day2, _ := ParseDate("2024-06-11")

	assert.True(t, s.Mark(day1, "draft:1:300"))
	assert.False(t, s.Mark(day1, "draft:1:300"), "second mark must report already present")
	assert.True(t, s.Mark(day2, "draft:1:300"), "same key on another day is distinct")
	assert.True(t, s.Contains(day1, "draft:1:300"))

	s.PruneBefore(day2)
	assert.False(t, s.Contains(day1, "draft:1:300"))
	assert.True(t, s.Contains(day2, "draft:1:300"))
}
