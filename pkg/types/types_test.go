package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseDates(t *testing.T) {
	t.Run("range compact", func(t *testing.T) {
		d, err := ParseRangeDate("20240301", time.UTC)
		require.NoError(t, err)
		assert.Equal(t, date(2024, time.March, 1), d)
	})

	t.Run("range iso", func(t *testing.T) {
		d, err := ParseRangeDate("2024-03-31", nil)
		require.NoError(t, err)
		assert.Equal(t, date(2024, time.March, 31), d)
	})

	t.Run("production start compact is day first", func(t *testing.T) {
		d, err := ParseProductionStart("15012022", time.UTC)
		require.NoError(t, err)
		assert.Equal(t, date(2022, time.January, 15), d)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := ParseRangeDate("2024-13-01", time.UTC)
		assert.ErrorIs(t, err, ErrInvalidDate)

		_, err = ParseProductionStart("yesterday", time.UTC)
		assert.ErrorIs(t, err, ErrInvalidDate)
	})
}

func TestAddMonths(t *testing.T) {
	assert.Equal(t, date(2024, time.February, 29), AddMonths(date(2024, time.January, 31), 1))
	assert.Equal(t, date(2023, time.February, 28), AddMonths(date(2023, time.March, 31), -1))
	assert.Equal(t, date(2023, time.December, 15), AddMonths(date(2024, time.January, 15), -1))
	assert.Equal(t, date(2025, time.January, 15), AddMonths(date(2024, time.December, 15), 1))
}

func TestDaysInMonth(t *testing.T) {
	assert.Equal(t, 29, DaysInMonth(date(2024, time.February, 10)))
	assert.Equal(t, 28, DaysInMonth(date(2023, time.February, 10)))
	assert.Equal(t, 31, DaysInMonth(date(2023, time.December, 31)))
}

func TestDateRange(t *testing.T) {
	days := DateRange(date(2024, time.February, 27), date(2024, time.March, 2))
	require.Len(t, days, 5)
	assert.Equal(t, date(2024, time.February, 29), days[2])
	assert.Nil(t, DateRange(date(2024, time.March, 2), date(2024, time.March, 1)))
}

func TestMonthlyEnergy(t *testing.T) {
	m := MonthlyEnergy{Date: date(2023, time.January, 1), WattHours: 3100}
	assert.Equal(t, 31, m.DaysInMonth())
	assert.InDelta(t, 0.1, m.KWhPerDay(), 1e-12)
}

func TestSeasonalAveragesCoverage(t *testing.T) {
	s := SeasonalAverages{time.January: 1, time.June: 2, time.July: 3}
	n, ratio := s.Coverage()
	assert.Equal(t, 3, n)
	assert.InDelta(t, 0.25, ratio, 1e-12)
	assert.Len(t, s.Missing(), 9)
	assert.NotContains(t, s.Missing(), time.June)
}

func TestDailyCurveSum(t *testing.T) {
	c := DailyCurve{
		{Date: date(2024, time.March, 1), KWh: 1},
		{Date: date(2024, time.March, 2), KWh: 2},
		{Date: date(2024, time.March, 3), KWh: 3},
	}
	assert.Equal(t, 5.0, c.Sum(date(2024, time.March, 2), date(2024, time.March, 3)))
	assert.Equal(t, 0.0, c.Sum(date(2024, time.March, 3), date(2024, time.March, 2)))

	p, ok := c.At(date(2024, time.March, 2))
	require.True(t, ok)
	assert.Equal(t, 2.0, p.KWh)
}

func TestForecastFiguresRounded(t *testing.T) {
	f := ForecastFigures{Produced: 449.6, Estimated: 2.5, Forecast: 3.5, Progress: -1.5}
	produced, estimated, forecast, progress := f.Rounded()
	assert.Equal(t, int64(450), produced)
	assert.Equal(t, int64(2), estimated)
	assert.Equal(t, int64(4), forecast)
	assert.Equal(t, int64(-2), progress)
}

func TestForecastRequestValidate(t *testing.T) {
	r := ForecastRequest{SiteID: "1", Start: date(2024, time.March, 1), End: date(2024, time.March, 31)}
	require.NoError(t, r.Validate())

	r.End = date(2024, time.February, 1)
	assert.Error(t, r.Validate())

	assert.Error(t, ForecastRequest{Start: date(2024, time.March, 1), End: date(2024, time.March, 1)}.Validate())
}

func TestMigrateSettings(t *testing.T) {
	t.Run("v0 to current", func(t *testing.T) {
		s, changed, err := MigrateSettings(SiteSettings{}, 0)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, "solaredge", s.Provider)
		assert.Equal(t, "UTC", s.Timezone)
		assert.Equal(t, WindowYear, s.Window)
	})

	t.Run("keeps existing values", func(t *testing.T) {
		s, changed, err := MigrateSettings(SiteSettings{Provider: "flat", Timezone: "Europe/Amsterdam", Window: WindowMonth}, 0)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, "flat", s.Provider)
		assert.Equal(t, "Europe/Amsterdam", s.Timezone)
	})

	t.Run("current version is a no-op", func(t *testing.T) {
		_, changed, err := MigrateSettings(SiteSettings{}, CurrentSettingsVersion)
		require.NoError(t, err)
		assert.False(t, changed)
	})
}

func TestDefaultWindow(t *testing.T) {
	today := date(2024, time.March, 15)

	start, end, err := DefaultWindow(WindowYear, today)
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.January, 1), start)
	assert.Equal(t, date(2024, time.December, 31), end)

	start, end, err = DefaultWindow(WindowMonth, today)
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.March, 1), start)
	assert.Equal(t, date(2024, time.March, 31), end)

	_, _, err = DefaultWindow("week", today)
	assert.Error(t, err)
}

func TestHasPermission(t *testing.T) {
	s := SiteSettings{Permissions: []SitePermissions{{UserID: "user1"}, {Email: "owner@example.com"}}}

	assert.True(t, s.HasPermission(User{ID: "user1"}))
	assert.True(t, s.HasPermission(User{ID: "user2", Email: "owner@example.com"}))
	assert.False(t, s.HasPermission(User{ID: "user2", Email: "other@example.com"}))
	// an empty email never matches an email-less permission
	assert.False(t, s.HasPermission(User{}))
	assert.False(t, SiteSettings{}.HasPermission(User{ID: "user1"}))
}
