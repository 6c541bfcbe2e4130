package forecast

import (
	"time"

	"github.com/raterudder/solarforecast/pkg/types"
)

// SeasonalAveragesFrom averages the daily production of every calendar month
// across all years of history. Months reporting zero energy are treated as
// missing data and skipped so they do not drag the average down.
func SeasonalAveragesFrom(records []types.MonthlyEnergy) types.SeasonalAverages {
	sums := make(map[time.Month]float64, 12)
	counts := make(map[time.Month]int, 12)
	for _, r := range records {
		if r.WattHours == 0 {
			continue
		}
		m := r.Date.Month()
		sums[m] += r.KWhPerDay()
		counts[m]++
	}

	averages := make(types.SeasonalAverages, len(sums))
	for m, sum := range sums {
		averages[m] = sum / float64(counts[m])
	}
	return averages
}
