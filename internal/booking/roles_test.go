package booking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleQuotas(t *testing.T) {
	assert.Equal(t, 2, RoleUser.MaxBookWashers())
	assert.Equal(t, 2, RoleModeratorPartial.MaxBookWashers())
	assert.Equal(t, 3, RoleModerator.MaxBookWashers())
	assert.Equal(t, 3, RoleEmployee.MaxBookWashers())
	assert.Equal(t, 2, Role("unknown").MaxBookWashers(), "unknown roles fall back to user attrs")
}

func TestRoleWeekdays(t *testing.T) {
	assert.False(t, RoleUser.BookableWeekday(time.Wednesday))
	assert.False(t, RoleUser.BookableWeekday(time.Sunday))
	assert.True(t, RoleUser.BookableWeekday(time.Monday))
	assert.True(t, RoleModerator.BookableWeekday(time.Wednesday))
	assert.True(t, RoleEmployee.BookableWeekday(time.Sunday))
}

func TestCanModerate(t *testing.T) {
	assert.True(t, RoleModerator.CanModerate())
	assert.False(t, RoleModeratorPartial.CanModerate())
	assert.False(t, RoleUser.CanModerate())
	assert.False(t, RoleEmployee.CanModerate())
}

func TestBookableTimes(t *testing.T) {
	assert.Len(t, BookableTimes(time.Monday), 4)
	assert.Len(t, BookableTimes(time.Wednesday), 5)
	assert.Len(t, BookableTimes(time.Sunday), 5)
	assert.Equal(t, 22*time.Hour, BookableTimes(time.Sunday)[4])
}

func TestAvailableDatesSkipsClosedWeekdays(t *testing.T) {
	// 2024-06-10 is a Monday.
	now := time.Date(2024, 6, 10, 9, 0, 0, 0, time.Local)

	dates := AvailableDates(now, RoleUser)
	require.Len(t, dates, 5)
	assert.Equal(t, time.Monday, dates[0].Weekday())
	for _, d := range dates {
		assert.True(t, RoleUser.BookableWeekday(d.Weekday()), d.String())
		assert.NotEqual(t, time.Wednesday, d.Weekday())
	}
}

func TestAvailableDatesSkipsTodayAfterLastSlot(t *testing.T) {
	// Past the 20:00 last resident slot on Monday.
	now := time.Date(2024, 6, 10, 20, 0, 0, 0, time.Local)

	dates := AvailableDates(now, RoleUser)
	require.NotEmpty(t, dates)
	assert.Equal(t, 11, dates[0].Day(), "today must be skipped once its last slot started")

	earlier := time.Date(2024, 6, 10, 19, 59, 0, 0, time.Local)
	assert.Equal(t, 10, AvailableDates(earlier, RoleUser)[0].Day())
}

func TestAvailableDatesModeratorGetsFullWeek(t *testing.T) {
	now := time.Date(2024, 6, 10, 9, 0, 0, 0, time.Local)
	dates := AvailableDates(now, RoleModerator)
	require.Len(t, dates, 7)
	for i := 1; i < len(dates); i++ {
		assert.Equal(t, dates[i-1].AddDate(0, 0, 1), dates[i], "moderator dates are consecutive")
	}
}
