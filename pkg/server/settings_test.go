package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/raterudder/solarforecast/pkg/storage"
	"github.com/raterudder/solarforecast/pkg/storage/storagemock"
	"github.com/raterudder/solarforecast/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestHandleGetSettings(t *testing.T) {
	t.Run("Credentials Are Never Returned", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, "site-1")
		encrypted, err := srv.encryptCredentials(context.Background(), types.Credentials{
			SolarEdge: &types.SolarEdgeCredentials{APIKey: "secret-key"},
		})
		require.NoError(t, err)
		db.On("GetSettings", mock.Anything, "site-1").Return(types.SiteSettings{
			Name:                 "Roof",
			Provider:             "solaredge",
			Timezone:             "UTC",
			Window:               types.WindowYear,
			EncryptedCredentials: encrypted,
		}, types.CurrentSettingsVersion, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/settings?siteID=site-1", nil)
		w := httptest.NewRecorder()
		srv.setupHandler().ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
		assert.NotContains(t, w.Body.String(), "secret-key")
		assert.NotContains(t, w.Body.String(), "encryptedCredentials")

		var res SettingsRes
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
		assert.Equal(t, "Roof", res.Name)
		assert.True(t, res.HasCredentials["solaredge"])
	})

	t.Run("Migrates Old Settings", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything, "site-1").Return(types.SiteSettings{Name: "Old"}, 0, nil)
		db.On("SetSettings", mock.Anything, "site-1", types.SiteSettings{
			Name:     "Old",
			Provider: "solaredge",
			Timezone: "UTC",
			Window:   types.WindowYear,
		}, types.CurrentSettingsVersion).Return(nil)
		srv := newTestServer(db, "site-1")

		req := httptest.NewRequest(http.MethodGet, "/api/settings?siteID=site-1", nil)
		w := httptest.NewRecorder()
		srv.setupHandler().ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var res SettingsRes
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
		assert.Equal(t, "solaredge", res.Provider)
		assert.Equal(t, types.WindowYear, res.Window)
		db.AssertExpectations(t)
	})

	t.Run("Unknown Site", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything, "ghost").Return(types.SiteSettings{}, 0, storage.ErrSiteNotFound)
		srv := newTestServer(db, "site-1")

		req := httptest.NewRequest(http.MethodGet, "/api/settings?siteID=ghost", nil)
		w := httptest.NewRecorder()
		srv.setupHandler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandleUpdateSettings(t *testing.T) {
	post := func(srv *Server, body any) *httptest.ResponseRecorder {
		b, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, "/api/settings", bytes.NewReader(b))
		w := httptest.NewRecorder()
		srv.setupHandler().ServeHTTP(w, req)
		return w
	}

	t.Run("Stores Encrypted Credentials", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything, "site-1").Return(types.SiteSettings{}, 0, storage.ErrSiteNotFound)
		var saved types.SiteSettings
		db.On("SetSettings", mock.Anything, "site-1", mock.Anything, types.CurrentSettingsVersion).
			Run(func(args mock.Arguments) { saved = args.Get(2).(types.SiteSettings) }).
			Return(nil)
		srv := newTestServer(db, "other")

		w := post(srv, map[string]any{
			"siteID":         "site-1",
			"name":           "Roof",
			"provider":       "solaredge",
			"providerSiteID": "12345",
			"timezone":       "Europe/Berlin",
			"window":         "month",
			"credentials":    map[string]any{"solaredge": map[string]any{"apiKey": "new-key"}},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		assert.Equal(t, "Roof", saved.Name)
		assert.Equal(t, "Europe/Berlin", saved.Timezone)
		require.NotEmpty(t, saved.EncryptedCredentials)
		assert.NotContains(t, string(saved.EncryptedCredentials), "new-key")

		creds, err := srv.decryptCredentials(context.Background(), saved.EncryptedCredentials)
		require.NoError(t, err)
		assert.Equal(t, "new-key", creds.SolarEdge.APIKey)
	})

	t.Run("Keeps Existing Credentials", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, "other")
		encrypted, err := srv.encryptCredentials(context.Background(), types.Credentials{
			SolarEdge: &types.SolarEdgeCredentials{APIKey: "old-key"},
		})
		require.NoError(t, err)
		db.On("GetSettings", mock.Anything, "site-1").Return(types.SiteSettings{
			Provider:             "solaredge",
			EncryptedCredentials: encrypted,
		}, types.CurrentSettingsVersion, nil)
		db.On("SetSettings", mock.Anything, "site-1", mock.MatchedBy(func(s types.SiteSettings) bool {
			return bytes.Equal(s.EncryptedCredentials, encrypted) && s.Name == "Renamed"
		}), types.CurrentSettingsVersion).Return(nil)

		w := post(srv, map[string]any{
			"siteID":   "site-1",
			"name":     "Renamed",
			"provider": "solaredge",
			// ignored in favour of the stored credentials
			"encryptedCredentials": []byte("forged"),
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		db.AssertExpectations(t)
	})

	t.Run("Validation", func(t *testing.T) {
		for name, body := range map[string]map[string]any{
			"Unknown Provider":         {"siteID": "site-1", "provider": "enphase"},
			"Invalid Timezone":         {"siteID": "site-1", "provider": "flat", "timezone": "Mars/Olympus"},
			"Invalid Window":           {"siteID": "site-1", "provider": "flat", "window": "week"},
			"Invalid Production Start": {"siteID": "site-1", "provider": "flat", "productionStart": "31022022"},
		} {
			t.Run(name, func(t *testing.T) {
				db := &storagemock.MockDatabase{}
				srv := newTestServer(db, "other")
				w := post(srv, body)
				assert.Equal(t, http.StatusBadRequest, w.Code)
				db.AssertNotCalled(t, "SetSettings", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			})
		}
	})

	t.Run("Missing SolarEdge Key", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything, "site-1").Return(types.SiteSettings{}, 0, storage.ErrSiteNotFound)
		srv := newTestServer(db, "other")

		w := post(srv, map[string]any{"siteID": "site-1", "provider": "solaredge"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "missing solaredge api key")
	})

	t.Run("Non Admin", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, "other")
		handler := http.HandlerFunc(srv.handleUpdateSettings)

		req := httptest.NewRequest(http.MethodPost, "/api/settings", bytes.NewReader([]byte(`{"provider":"flat"}`)))
		ctx := context.WithValue(req.Context(), siteIDContextKey, "site-1")
		ctx = context.WithValue(ctx, userContextKey, types.User{ID: "u1", Email: "user@example.com"})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req.WithContext(ctx))

		assert.Equal(t, http.StatusForbidden, w.Code)
		db.AssertNotCalled(t, "GetSettings", mock.Anything, mock.Anything)
	})

	t.Run("Storage Failure", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything, "site-1").Return(types.SiteSettings{}, 0, errors.New("unavailable"))
		srv := newTestServer(db, "other")

		w := post(srv, map[string]any{"siteID": "site-1", "provider": "flat"})
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
