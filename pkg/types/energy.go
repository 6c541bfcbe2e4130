package types

import (
	"math"
	"time"
)

// Granularity is the time unit a provider aggregates energy over.
type Granularity string

const (
	GranularityDay   Granularity = "DAY"
	GranularityMonth Granularity = "MONTH"
	GranularityYear  Granularity = "YEAR"
)

// DataPeriod is the range of data a provider has recorded for a site.
type DataPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// MonthlyEnergy is the metered energy total for one calendar month.
type MonthlyEnergy struct {
	Date      time.Time `json:"date"`
	WattHours float64   `json:"wattHours"`
}

// DaysInMonth returns the number of days of the month the record covers.
func (m MonthlyEnergy) DaysInMonth() int {
	return DaysInMonth(m.Date)
}

// KWhPerDay returns the average daily energy of the month in kWh.
func (m MonthlyEnergy) KWhPerDay() float64 {
	return m.WattHours / float64(m.DaysInMonth()) / 1000
}

// SeasonalAverages maps a calendar month to its mean daily production in kWh
// across every year of history.
type SeasonalAverages map[time.Month]float64

// Coverage returns how many of the twelve calendar months have an average and
// that count as a ratio.
func (s SeasonalAverages) Coverage() (int, float64) {
	var n int
	for m := time.January; m <= time.December; m++ {
		if _, ok := s[m]; ok {
			n++
		}
	}
	return n, float64(n) / 12
}

// Missing returns the calendar months without an average, in calendar order.
func (s SeasonalAverages) Missing() []time.Month {
	var missing []time.Month
	for m := time.January; m <= time.December; m++ {
		if _, ok := s[m]; !ok {
			missing = append(missing, m)
		}
	}
	return missing
}

// DailyPoint is one day of the synthetic production curve.
type DailyPoint struct {
	Date time.Time `json:"date"`
	KWh  float64   `json:"kWh"`
}

// DailyCurve is an ordered day-by-day production estimate.
type DailyCurve []DailyPoint

// Sum adds the kWh of every point whose date falls within [from, to].
func (c DailyCurve) Sum(from, to time.Time) float64 {
	from, to = Day(from), Day(to)
	var sum float64
	for _, p := range c {
		if p.Date.Before(from) || p.Date.After(to) {
			continue
		}
		if math.IsNaN(p.KWh) {
			continue
		}
		sum += p.KWh
	}
	return sum
}

// At returns the point for the given day.
func (c DailyCurve) At(day time.Time) (DailyPoint, bool) {
	day = Day(day)
	for _, p := range c {
		if p.Date.Equal(day) {
			return p, true
		}
	}
	return DailyPoint{}, false
}
