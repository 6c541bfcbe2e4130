package forecast

import (
	"time"

	"github.com/raterudder/solarforecast/pkg/types"
)

// NormalizeProductionStart returns the first day of the first full calendar
// month of production. A start on day 1 is already a full month.
func NormalizeProductionStart(t time.Time) time.Time {
	t = types.Day(t)
	if t.Day() == 1 {
		return t
	}
	return types.StartOfMonth(t).AddDate(0, 1, 0)
}

// LastCompleteMonth returns the last day of the month before today.
func LastCompleteMonth(today time.Time) time.Time {
	return types.StartOfMonth(types.Day(today)).AddDate(0, 0, -1)
}
