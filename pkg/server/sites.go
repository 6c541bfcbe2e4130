package server

import (
	"log/slog"
	"net/http"

	"github.com/raterudder/solarforecast/pkg/log"
	"github.com/raterudder/solarforecast/pkg/provider"
	"github.com/raterudder/solarforecast/pkg/types"
)

type siteRes struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Provider       string `json:"provider"`
	ProviderSiteID string `json:"providerSiteID"`
	Timezone       string `json:"timezone"`
	Window         string `json:"window"`
}

func (s *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := s.getUser(r)
	if !user.Admin {
		log.Ctx(ctx).WarnContext(ctx, "non-admin attempted to list sites", slog.String("email", user.Email))
		writeJSONError(w, "forbidden", http.StatusForbidden)
		return
	}

	sites, err := s.storage.ListSites(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list sites", slog.Any("error", err))
		writeJSONError(w, "failed to list sites", http.StatusInternalServerError)
		return
	}

	res := make([]siteRes, 0, len(sites))
	for _, site := range sites {
		settings := site.Settings
		if site.Version < types.CurrentSettingsVersion {
			if migrated, _, err := types.MigrateSettings(settings, site.Version); err == nil {
				settings = migrated
			}
		}
		res = append(res, siteRes{
			ID:             site.ID,
			Name:           settings.Name,
			Provider:       settings.Provider,
			ProviderSiteID: settings.ProviderSiteID,
			Timezone:       settings.Timezone,
			Window:         settings.Window,
		})
	}
	writeJSON(w, res)
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	user := s.getUser(r)
	var infos []types.ProviderInfo
	for _, info := range provider.Infos() {
		if info.Hidden && !user.Admin {
			continue
		}
		infos = append(infos, info)
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, infos)
}
