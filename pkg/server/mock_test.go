package server

import (
	"context"
	"time"

	"github.com/raterudder/solarforecast/pkg/provider"
	"github.com/raterudder/solarforecast/pkg/storage/storagemock"
	"github.com/raterudder/solarforecast/pkg/types"
	"github.com/stretchr/testify/mock"
)

const testKey = "01234567890123456789012345678901"

var testNow = time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) DataPeriod(ctx context.Context, siteID string) (types.DataPeriod, error) {
	args := m.Called(ctx, siteID)
	return args.Get(0).(types.DataPeriod), args.Error(1)
}

func (m *mockProvider) Energy(ctx context.Context, siteID string, start, end time.Time, g types.Granularity) ([]types.MonthlyEnergy, error) {
	args := m.Called(ctx, siteID, start, end, g)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.MonthlyEnergy), args.Error(1)
}

func (m *mockProvider) TimeFrameEnergy(ctx context.Context, siteID string, start, end time.Time, g types.Granularity) (float64, error) {
	args := m.Called(ctx, siteID, start, end, g)
	return args.Get(0).(float64), args.Error(1)
}

// newTestServer returns a server with auth bypassed whose siteID is served by
// a flat 10 kWh/day provider.
func newTestServer(db *storagemock.MockDatabase, siteID string) *Server {
	m := provider.NewMap()
	m.SetProvider(siteID, &provider.Flat{
		KWhPerDay: 10,
		Start:     time.Date(2021, time.June, 1, 0, 0, 0, 0, time.UTC),
		Now:       func() time.Time { return testNow },
	})
	return &Server{
		providers:     m,
		storage:       db,
		encryptionKey: testKey,
		bypassAuth:    true,
		now:           func() time.Time { return testNow },
	}
}
