package forecast

import (
	"context"
	"time"

	"github.com/raterudder/solarforecast/pkg/provider"
	"github.com/raterudder/solarforecast/pkg/types"
	"github.com/stretchr/testify/mock"
)

type mockProvider struct {
	mock.Mock
}

var _ provider.Provider = (*mockProvider)(nil)

func (m *mockProvider) DataPeriod(ctx context.Context, siteID string) (types.DataPeriod, error) {
	args := m.Called(ctx, siteID)
	return args.Get(0).(types.DataPeriod), args.Error(1)
}

func (m *mockProvider) Energy(ctx context.Context, siteID string, start, end time.Time, g types.Granularity) ([]types.MonthlyEnergy, error) {
	args := m.Called(ctx, siteID, start, end, g)
	if v := args.Get(0); v != nil {
		return v.([]types.MonthlyEnergy), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) TimeFrameEnergy(ctx context.Context, siteID string, start, end time.Time, g types.Granularity) (float64, error) {
	args := m.Called(ctx, siteID, start, end, g)
	return args.Get(0).(float64), args.Error(1)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// flatHistory returns monthly records from from to to producing kwh every day.
func flatHistory(from, to time.Time, kwh float64) []types.MonthlyEnergy {
	var records []types.MonthlyEnergy
	for m := types.StartOfMonth(from); !m.After(to); m = m.AddDate(0, 1, 0) {
		records = append(records, types.MonthlyEnergy{
			Date:      m,
			WattHours: kwh * float64(types.DaysInMonth(m)) * 1000,
		})
	}
	return records
}
