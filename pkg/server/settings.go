package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/raterudder/solarforecast/pkg/forecast"
	"github.com/raterudder/solarforecast/pkg/log"
	"github.com/raterudder/solarforecast/pkg/provider"
	"github.com/raterudder/solarforecast/pkg/storage"
	"github.com/raterudder/solarforecast/pkg/types"
)

type settingsWithVersion struct {
	types.SiteSettings
	version int
}

func (s *Server) getSettingsWithMigration(ctx context.Context, siteID string) (settingsWithVersion, types.Credentials, error) {
	settings, version, err := s.storage.GetSettings(ctx, siteID)
	if err != nil {
		if !(errors.Is(err, storage.ErrSiteNotFound) && siteID == types.SiteIDNone) {
			return settingsWithVersion{}, types.Credentials{}, err
		}
		// the single site works from flags alone until settings are saved
		settings, _, err = types.MigrateSettings(types.SiteSettings{}, 0)
		if err != nil {
			return settingsWithVersion{}, types.Credentials{}, err
		}
		return settingsWithVersion{SiteSettings: settings}, types.Credentials{}, nil
	}
	sv := settingsWithVersion{
		SiteSettings: settings,
		version:      version,
	}

	// Check for migration
	if version < types.CurrentSettingsVersion {
		log.Ctx(ctx).InfoContext(ctx, "migrating settings", slog.Int("oldVersion", version), slog.Int("newVersion", types.CurrentSettingsVersion))
		newSettings, changed, err := types.MigrateSettings(settings, version)
		if err != nil {
			// Log error but return settings as is (best effort)
			log.Ctx(ctx).ErrorContext(ctx, "failed to migrate settings", slog.Int("currentVersion", version), slog.Any("error", err))
		} else if changed {
			sv.SiteSettings = newSettings
			sv.version = types.CurrentSettingsVersion
			if err := s.storage.SetSettings(ctx, siteID, newSettings, types.CurrentSettingsVersion); err != nil {
				// the migrated settings still serve this request
				log.Ctx(ctx).ErrorContext(ctx, "failed to save migrated settings", slog.Any("error", err))
			} else {
				log.Ctx(ctx).InfoContext(ctx, "saved migrated settings", slog.Int("oldVersion", version), slog.Int("newVersion", types.CurrentSettingsVersion))
			}
		}
	}

	var creds types.Credentials
	if len(settings.EncryptedCredentials) > 0 {
		creds, err = s.decryptCredentials(ctx, settings.EncryptedCredentials)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to decrypt credentials", slog.Any("error", err))
			return settingsWithVersion{}, types.Credentials{}, err
		}
	}

	return sv, creds, nil
}

// siteForecaster builds the forecaster for a site along with the site id the
// monitoring provider knows it by.
func (s *Server) siteForecaster(ctx context.Context, siteID string) (*forecast.Forecaster, settingsWithVersion, string, error) {
	settings, creds, err := s.getSettingsWithMigration(ctx, siteID)
	if err != nil {
		return nil, settingsWithVersion{}, "", err
	}
	p, err := s.providers.Site(ctx, siteID, settings.SiteSettings, creds)
	if err != nil {
		return nil, settingsWithVersion{}, "", fmt.Errorf("failed to get provider: %w", err)
	}

	providerSiteID := settings.ProviderSiteID
	if providerSiteID == "" && siteID == types.SiteIDNone {
		providerSiteID = s.providerSiteID
	}
	if providerSiteID == "" {
		providerSiteID = siteID
	}

	f := forecast.New(p,
		forecast.WithClock(s.now),
		forecast.WithLocation(settings.Location()),
	)
	return f, settings, providerSiteID, nil
}

// SettingsRes is the response type for GetSettings
type SettingsRes struct {
	types.SiteSettings
	HasCredentials map[string]bool `json:"hasCredentials"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := s.getSiteID(r)
	settings, creds, err := s.getSettingsWithMigration(ctx, siteID)
	if err != nil {
		if errors.Is(err, storage.ErrSiteNotFound) {
			writeJSONError(w, "site not found", http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}
	// remove encrypted credentials from response
	settings.EncryptedCredentials = nil
	if !s.getUser(r).Admin {
		settings.Permissions = nil
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, SettingsRes{
		SiteSettings:   settings.SiteSettings,
		HasCredentials: creds.Has(),
	})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := s.getSiteID(r)

	user := s.getUser(r)
	if !user.Admin {
		log.Ctx(ctx).WarnContext(ctx, "unauthorized for settings update", slog.String("userID", user.ID), slog.String("email", user.Email))
		writeJSONError(w, "unauthorized", http.StatusForbidden)
		return
	}

	var req struct {
		types.SiteSettings
		Credentials *types.Credentials `json:"credentials,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode settings", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	newSettings := req.SiteSettings
	if err := validateSettings(newSettings); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Get existing credentials to preserve them
	existing, _, err := s.storage.GetSettings(ctx, siteID)
	if err != nil && !errors.Is(err, storage.ErrSiteNotFound) {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}
	var creds types.Credentials
	if len(existing.EncryptedCredentials) > 0 {
		creds, err = s.decryptCredentials(ctx, existing.EncryptedCredentials)
		if err != nil {
			writeJSONError(w, "failed to decrypt credentials", http.StatusInternalServerError)
			return
		}
	}
	if req.Credentials != nil && req.Credentials.SolarEdge != nil {
		creds.SolarEdge = req.Credentials.SolarEdge
	}

	if _, err := s.providers.Site(ctx, siteID, newSettings, creds); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "invalid provider settings", slog.String("provider", newSettings.Provider), slog.Any("error", err))
		writeJSONError(w, fmt.Sprintf("invalid provider settings: %v", err), http.StatusBadRequest)
		return
	}

	newSettings.EncryptedCredentials = existing.EncryptedCredentials
	if req.Credentials != nil {
		encrypted, err := s.encryptCredentials(ctx, creds)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to encrypt credentials", slog.Any("error", err))
			writeJSONError(w, "failed to encrypt credentials", http.StatusInternalServerError)
			return
		}
		newSettings.EncryptedCredentials = encrypted
	}

	if err := s.storage.SetSettings(ctx, siteID, newSettings, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save settings", slog.Any("error", err))
		writeJSONError(w, "failed to save settings", http.StatusInternalServerError)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "settings updated")

	w.WriteHeader(http.StatusOK)
}

func validateSettings(s types.SiteSettings) error {
	var known bool
	for _, info := range provider.Infos() {
		if info.ID == s.Provider {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown provider: %q", s.Provider)
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("invalid timezone: %q", s.Timezone)
		}
	}
	if _, _, err := types.DefaultWindow(s.Window, time.Now()); err != nil {
		return err
	}
	if s.ProductionStart != "" {
		if _, err := types.ParseProductionStart(s.ProductionStart, time.UTC); err != nil {
			return err
		}
	}
	return nil
}
