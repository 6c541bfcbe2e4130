package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/solarforecast/pkg/log"
	"github.com/raterudder/solarforecast/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. Every site is a document in the "sites" collection holding the
// settings as a JSON string alongside their version.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

var _ Database = (*FirestoreProvider)(nil)

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) siteDoc(siteID string) (*firestore.DocumentRef, error) {
	if siteID == "" {
		return nil, fmt.Errorf("siteID cannot be empty")
	}
	return f.client.Collection("sites").Doc(siteID), nil
}

// GetSettings retrieves the settings of a site from its document in "sites".
func (f *FirestoreProvider) GetSettings(ctx context.Context, siteID string) (types.SiteSettings, int, error) {
	ref, err := f.siteDoc(siteID)
	if err != nil {
		return types.SiteSettings{}, 0, err
	}
	doc, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.SiteSettings{}, 0, fmt.Errorf("%w: %s", ErrSiteNotFound, siteID)
		}
		return types.SiteSettings{}, 0, fmt.Errorf("failed to fetch site %s: %w", siteID, err)
	}
	return decodeSiteDoc(ctx, doc)
}

// SetSettings saves the settings of a site. They are stored as a JSON string
// for portability.
func (f *FirestoreProvider) SetSettings(ctx context.Context, siteID string, settings types.SiteSettings, version int) error {
	ref, err := f.siteDoc(siteID)
	if err != nil {
		return err
	}
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	_, err = ref.Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save settings for site %s: %w", siteID, err)
	}
	return nil
}

// ListSites retrieves all sites from the "sites" collection.
func (f *FirestoreProvider) ListSites(ctx context.Context) ([]types.Site, error) {
	iter := f.client.Collection("sites").Documents(ctx)
	defer iter.Stop()

	var sites []types.Site
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating sites: %w", err)
		}

		settings, version, err := decodeSiteDoc(ctx, doc)
		if err != nil {
			// Skip malformed documents
			continue
		}
		sites = append(sites, types.Site{ID: doc.Ref.ID, Settings: settings, Version: version})
	}
	return sites, nil
}

func decodeSiteDoc(ctx context.Context, doc *firestore.DocumentSnapshot) (types.SiteSettings, int, error) {
	siteID := doc.Ref.ID

	// Read version if available (default 0)
	var version int
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			version = int(vInt)
		}
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "site doc missing json", slog.String("siteID", siteID))
		return types.SiteSettings{}, 0, fmt.Errorf("site %s missing json: %w", siteID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "site doc json not string", slog.String("siteID", siteID))
		return types.SiteSettings{}, 0, fmt.Errorf("site %s json not string", siteID)
	}

	var s types.SiteSettings
	if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal site settings", slog.String("siteID", siteID), slog.Any("err", err))
		return types.SiteSettings{}, 0, fmt.Errorf("failed to unmarshal site %s: %w", siteID, err)
	}
	return s, version, nil
}
