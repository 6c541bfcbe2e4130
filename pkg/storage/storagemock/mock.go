package storagemock

import (
	"context"

	"github.com/raterudder/solarforecast/pkg/storage"
	"github.com/raterudder/solarforecast/pkg/types"
	"github.com/stretchr/testify/mock"
)

// MockDatabase is a testify mock of storage.Database.
type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetSettings(ctx context.Context, siteID string) (types.SiteSettings, int, error) {
	args := m.Called(ctx, siteID)
	return args.Get(0).(types.SiteSettings), args.Int(1), args.Error(2)
}

func (m *MockDatabase) SetSettings(ctx context.Context, siteID string, settings types.SiteSettings, version int) error {
	args := m.Called(ctx, siteID, settings, version)
	return args.Error(0)
}

func (m *MockDatabase) ListSites(ctx context.Context) ([]types.Site, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Site), args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
