package forecast

import (
	"math"
	"time"

	"github.com/raterudder/solarforecast/pkg/types"
)

// anchorDay is the day of the month that carries the seasonal average.
const anchorDay = 15

// BuildDailyCurve returns one point per day from a month before start to a
// month after end. The 15th of every month is seeded with that month's
// seasonal average and every other day is interpolated.
func BuildDailyCurve(start, end time.Time, averages types.SeasonalAverages) types.DailyCurve {
	days := types.DateRange(types.AddMonths(types.Day(start), -1), types.AddMonths(types.Day(end), 1))

	values := make([]float64, len(days))
	for i, d := range days {
		values[i] = math.NaN()
		if d.Day() != anchorDay {
			continue
		}
		if avg, ok := averages[d.Month()]; ok {
			values[i] = avg
		}
	}

	values = Interpolate(values)

	curve := make(types.DailyCurve, len(days))
	for i, d := range days {
		curve[i] = types.DailyPoint{Date: d, KWh: values[i]}
	}
	return curve
}

// Interpolate fills the NaN entries of values by linear interpolation between
// the nearest populated neighbours, by position. Gaps before the first or
// after the last populated entry take that entry's value. If nothing is
// populated every entry becomes zero. The input is not modified.
func Interpolate(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)

	prev := -1
	for i, v := range out {
		if math.IsNaN(v) {
			continue
		}
		switch {
		case prev == -1:
			for j := 0; j < i; j++ {
				out[j] = v
			}
		case i-prev > 1:
			step := (v - out[prev]) / float64(i-prev)
			for j := prev + 1; j < i; j++ {
				out[j] = out[prev] + step*float64(j-prev)
			}
		}
		prev = i
	}

	if prev == -1 {
		for i := range out {
			out[i] = 0
		}
		return out
	}
	for j := prev + 1; j < len(out); j++ {
		out[j] = out[prev]
	}
	return out
}
