package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/solarforecast/pkg/types"
)

var ErrSiteNotFound = errors.New("site not found")

// Database defines the interface for persisting site settings. Forecast
// results are never stored.
type Database interface {
	// GetSettings returns the settings of a site and the settings version they
	// were saved with. It returns ErrSiteNotFound for unknown sites.
	GetSettings(ctx context.Context, siteID string) (types.SiteSettings, int, error)
	SetSettings(ctx context.Context, siteID string, settings types.SiteSettings, version int) error

	ListSites(ctx context.Context) ([]types.Site, error)

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "file", "Storage provider to use (available: firestore, file)")

	var p struct{ Database }

	fs := configuredFirestore()
	file := configuredFile()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "file":
			p.Database = file
			if err := file.Init(); err != nil {
				panic(fmt.Sprintf("file storage init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
