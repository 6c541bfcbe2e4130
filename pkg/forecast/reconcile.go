package forecast

import (
	"math"
	"time"

	"github.com/raterudder/solarforecast/pkg/types"
)

// Window is the requested forecast range and the day it is computed on.
type Window struct {
	Start time.Time
	End   time.Time
	Today time.Time
}

// Actuals are the metered totals in kWh: everything produced within the
// window so far, and what was produced today.
type Actuals struct {
	UntilNow float64
	Today    float64
}

// Reconcile compares the curve's estimate with metered production. The
// curve is split into the window's days up to yesterday, today, and the days
// from tomorrow through the window end. Today and the future partition are
// taken over the padded curve even when today lies outside the window.
// Nothing is rounded here.
func Reconcile(curve types.DailyCurve, w Window, a Actuals) types.ForecastFigures {
	start, end, today := types.Day(w.Start), types.Day(w.End), types.Day(w.Today)
	yesterday := today.AddDate(0, 0, -1)
	tomorrow := today.AddDate(0, 0, 1)

	future := curve.Sum(tomorrow, end)
	past := curve.Sum(start, yesterday)
	todayEst := curve.Sum(today, today)

	estimated := todayEst + future
	producedUntilYesterday := a.UntilNow - a.Today
	// today only counts once it is ahead of the estimate
	todayOver := math.Max(0, a.Today-todayEst)

	return types.ForecastFigures{
		Produced:          a.UntilNow,
		Estimated:         estimated,
		Forecast:          estimated + a.UntilNow,
		Progress:          producedUntilYesterday - past + todayOver,
		EstimatedPast:     past,
		EstimatedToday:    todayEst,
		EstimatedFuture:   future,
		ProducedToday:     a.Today,
		ProducedTodayOver: todayOver,
	}
}
