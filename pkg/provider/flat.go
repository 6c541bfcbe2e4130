package provider

import (
	"context"
	"errors"
	"time"

	"github.com/raterudder/solarforecast/pkg/types"
)

// Flat is a synthetic provider whose site produces the same energy every day.
// Metered totals count every day of the requested range up to and including
// today.
type Flat struct {
	KWhPerDay float64
	// Start is the first production day; defaults to three years ago.
	Start time.Time
	// Now defaults to time.Now.
	Now func() time.Time
}

var _ Provider = (*Flat)(nil)

func flatInfo() types.ProviderInfo {
	return types.ProviderInfo{
		ID:     "flat",
		Name:   "Flat (synthetic)",
		Hidden: true,
	}
}

func (f *Flat) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

func (f *Flat) start() time.Time {
	if !f.Start.IsZero() {
		return types.Day(f.Start)
	}
	return types.Day(f.now().AddDate(-3, 0, 0))
}

// DataPeriod returns Start through today.
func (f *Flat) DataPeriod(ctx context.Context, siteID string) (types.DataPeriod, error) {
	return types.DataPeriod{Start: f.start(), End: types.Day(f.now())}, nil
}

// Energy returns one record per month between start and end.
func (f *Flat) Energy(ctx context.Context, siteID string, start, end time.Time, g types.Granularity) ([]types.MonthlyEnergy, error) {
	if g != types.GranularityMonth {
		return nil, Unavailable("energy", errors.New("flat provider only supports monthly energy"))
	}
	var records []types.MonthlyEnergy
	for m := types.StartOfMonth(start); !m.After(end); m = m.AddDate(0, 1, 0) {
		days := types.DaysInMonth(m)
		records = append(records, types.MonthlyEnergy{
			Date:      m,
			WattHours: f.KWhPerDay * float64(days) * 1000,
		})
	}
	return records, nil
}

// TimeFrameEnergy returns the energy of every day in [start, end] that is not
// after today.
func (f *Flat) TimeFrameEnergy(ctx context.Context, siteID string, start, end time.Time, g types.Granularity) (float64, error) {
	today := types.Day(f.now().In(start.Location()))
	if end.After(today) {
		end = today
	}
	days := len(types.DateRange(start, end))
	return f.KWhPerDay * float64(days) * 1000, nil
}
