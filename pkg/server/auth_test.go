package server

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
	"github.com/raterudder/solarforecast/pkg/storage"
	"github.com/raterudder/solarforecast/pkg/storage/storagemock"
	"github.com/raterudder/solarforecast/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://issuer.example.com"
	testAudience = "test-audience"
)

// setupOIDCTest returns a verifier trusting a freshly generated key and a
// function signing tokens with it.
func setupOIDCTest(t *testing.T) (tokenVerifier, func(email, subject string, verified bool) string) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	verifier := oidc.NewVerifier(testIssuer, &oidc.StaticKeySet{
		PublicKeys: []crypto.PublicKey{&priv.PublicKey},
	}, &oidc.Config{ClientID: testAudience})

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: priv}, (&jose.SignerOptions{}).WithType("JWT"))
	require.NoError(t, err)

	sign := func(email, subject string, verified bool) string {
		claims, err := json.Marshal(map[string]any{
			"iss":            testIssuer,
			"aud":            testAudience,
			"sub":            subject,
			"email":          email,
			"email_verified": verified,
			"iat":            time.Now().Unix(),
			"exp":            time.Now().Add(time.Hour).Unix(),
		})
		require.NoError(t, err)
		jws, err := signer.Sign(claims)
		require.NoError(t, err)
		token, err := jws.CompactSerialize()
		require.NoError(t, err)
		return token
	}
	return verifier.Verify, sign
}

func TestAuthMiddleware(t *testing.T) {
	verify, sign := setupOIDCTest(t)

	newServer := func(db *storagemock.MockDatabase) *Server {
		srv := newTestServer(db, "site-1")
		srv.bypassAuth = false
		srv.oidcAudience = testAudience
		srv.oidcVerifier = verify
		srv.adminEmails = []string{"admin@example.com"}
		return srv
	}
	do := func(srv *Server, path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		srv.setupHandler().ServeHTTP(w, req)
		return w
	}

	t.Run("Missing Token", func(t *testing.T) {
		w := do(newServer(&storagemock.MockDatabase{}), "/api/forecast?siteID=site-1", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Not A Bearer Token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/forecast?siteID=site-1", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		w := httptest.NewRecorder()
		newServer(&storagemock.MockDatabase{}).setupHandler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Invalid Token", func(t *testing.T) {
		w := do(newServer(&storagemock.MockDatabase{}), "/api/forecast?siteID=site-1", "not-a-jwt")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Member Can Read Forecast", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything, "site-1").Return(types.SiteSettings{
			Provider:    "flat",
			Permissions: []types.SitePermissions{{UserID: "user1"}},
		}, types.CurrentSettingsVersion, nil)
		srv := newServer(db)
		w := do(srv, "/api/forecast?siteID=site-1", sign("user@example.com", "user1", true))
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

		// members see the settings but not who else has access
		w = do(srv, "/api/settings?siteID=site-1", sign("user@example.com", "user1", true))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var res SettingsRes
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
		assert.Equal(t, "flat", res.Provider)
		assert.Empty(t, res.Permissions)
	})

	t.Run("Member By Verified Email", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything, "site-1").Return(types.SiteSettings{
			Provider:    "flat",
			Permissions: []types.SitePermissions{{Email: "user@example.com"}},
		}, types.CurrentSettingsVersion, nil)
		srv := newServer(db)

		w := do(srv, "/api/forecast?siteID=site-1", sign("user@example.com", "user1", true))
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = do(srv, "/api/forecast?siteID=site-1", sign("user@example.com", "user1", false))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Non Member Denied", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything, "site-1").Return(types.SiteSettings{
			Provider:    "flat",
			Permissions: []types.SitePermissions{{UserID: "user1"}},
		}, types.CurrentSettingsVersion, nil)
		w := do(newServer(db), "/api/forecast?siteID=site-1", sign("other@example.com", "user2", true))
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "site access denied")

		w = do(newServer(db), "/api/forecast/curve?siteID=site-1", sign("other@example.com", "user2", true))
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = do(newServer(db), "/api/settings?siteID=site-1", sign("other@example.com", "user2", true))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Unknown Site Denied", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything, "site-2").Return(types.SiteSettings{}, 0, storage.ErrSiteNotFound)
		w := do(newServer(db), "/api/forecast?siteID=site-2", sign("user@example.com", "user1", true))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Admin Reads Any Site", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything, "site-1").Return(types.SiteSettings{Provider: "flat"}, types.CurrentSettingsVersion, nil)
		w := do(newServer(db), "/api/forecast?siteID=site-1", sign("admin@example.com", "admin1", true))
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("Single Site Open To Signed In Users", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything, types.SiteIDNone).Return(types.SiteSettings{Provider: "flat"}, types.CurrentSettingsVersion, nil)
		srv := newTestServer(db, types.SiteIDNone)
		srv.bypassAuth = false
		srv.oidcAudience = testAudience
		srv.oidcVerifier = verify
		srv.singleSite = true
		w := do(srv, "/api/forecast", sign("user@example.com", "user1", true))
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("Site Required", func(t *testing.T) {
		w := do(newServer(&storagemock.MockDatabase{}), "/api/forecast", sign("user@example.com", "user1", true))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Only Admins List Sites", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("ListSites", mock.Anything).Return([]types.Site{
			{ID: "site-1", Settings: types.SiteSettings{Name: "Roof", Provider: "solaredge"}, Version: 1},
		}, nil)
		srv := newServer(db)

		w := do(srv, "/api/list/sites", sign("user@example.com", "user1", true))
		assert.Equal(t, http.StatusForbidden, w.Code)

		// an unverified email never counts as an admin
		w = do(srv, "/api/list/sites", sign("admin@example.com", "admin1", false))
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = do(srv, "/api/list/sites", sign("admin@example.com", "admin1", true))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var sites []siteRes
		require.NoError(t, json.NewDecoder(w.Body).Decode(&sites))
		require.Len(t, sites, 1)
		assert.Equal(t, "Roof", sites[0].Name)
		// migrated on the way out
		assert.Equal(t, "UTC", sites[0].Timezone)
		assert.Equal(t, types.WindowYear, sites[0].Window)
	})

	t.Run("Hidden Providers For Admins Only", func(t *testing.T) {
		srv := newServer(&storagemock.MockDatabase{})

		var infos []types.ProviderInfo
		w := do(srv, "/api/list/providers", sign("user@example.com", "user1", true))
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.NewDecoder(w.Body).Decode(&infos))
		for _, info := range infos {
			assert.False(t, info.Hidden)
		}
		userCount := len(infos)

		w = do(srv, "/api/list/providers", sign("admin@example.com", "admin1", true))
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.NewDecoder(w.Body).Decode(&infos))
		assert.Greater(t, len(infos), userCount)
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	srv := &Server{}
	var seen string
	h := srv.requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = w.Header().Get(requestIDHeader)
	}))

	t.Run("Generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		_, err := uuid.Parse(w.Header().Get(requestIDHeader))
		assert.NoError(t, err)
		assert.Equal(t, w.Header().Get(requestIDHeader), seen)
	})

	t.Run("Reused", func(t *testing.T) {
		id := uuid.NewString()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(requestIDHeader, id)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, id, w.Header().Get(requestIDHeader))
	})

	t.Run("Garbage Replaced", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(requestIDHeader, "<script>")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.NotEqual(t, "<script>", w.Header().Get(requestIDHeader))
	})
}
