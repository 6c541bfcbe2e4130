package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/raterudder/solarforecast/pkg/log"
	"github.com/raterudder/solarforecast/pkg/types"
)

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware tags the request logger with a request id, reusing the
// caller's id when it is a valid UUID.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.Header.Get(requestIDHeader))
		if err != nil {
			id = uuid.New()
		}
		w.Header().Set(requestIDHeader, id.String())
		ctx := log.WithAttrs(r.Context(), slog.String("requestID", id.String()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("reqPath", r.URL.Path)))

		ignoreSiteID := r.URL.Path == "/api/list/sites" || r.URL.Path == "/api/list/providers"

		// extract SiteID
		var siteID string
		if r.Method == http.MethodGet {
			siteID = r.URL.Query().Get("siteID")
		} else {
			// read body to find SiteID
			var bodyBytes []byte
			if r.Body != nil {
				// Limit body size to 1MB to prevent DoS
				r.Body = http.MaxBytesReader(w, r.Body, 1048576)
				var err error
				bodyBytes, err = io.ReadAll(r.Body)
				if err != nil {
					log.Ctx(ctx).ErrorContext(ctx, "failed to read request body", slog.Any("error", err))
					// since we failed to read, don't return JSON error
					http.Error(w, "invalid request", http.StatusBadRequest)
					return
				}
				// restore body for next handler
				r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			}

			// try to unmarshal just the SiteID
			if len(bodyBytes) > 0 {
				var justSiteID struct {
					SiteID string `json:"siteID"`
				}
				err := json.Unmarshal(bodyBytes, &justSiteID)
				if err != nil {
					log.Ctx(ctx).ErrorContext(ctx, "failed to unmarshal request body", slog.Any("error", err))
					// since we failed to read, don't return JSON error
					http.Error(w, "invalid request", http.StatusBadRequest)
					return
				}
				siteID = justSiteID.SiteID
			}
		}

		var user types.User
		if s.bypassAuth {
			user = types.User{Admin: true}
		} else {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				log.Ctx(ctx).WarnContext(ctx, "unauthenticated request")
				writeJSONError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !strings.HasPrefix(authHeader, "Bearer ") {
				log.Ctx(ctx).WarnContext(ctx, "invalid auth header")
				writeJSONError(w, "invalid auth header", http.StatusBadRequest)
				return
			}
			email, subject, _, err := s.authenticateToken(ctx, strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				log.Ctx(ctx).WarnContext(ctx, "auth token validation failed", slog.Any("error", err))
				writeJSONError(w, "invalid auth token", http.StatusUnauthorized)
				return
			}
			user = types.User{
				ID:    subject,
				Email: email,
				Admin: s.isAdmin(email),
			}
		}

		if siteID == "" {
			if s.singleSite {
				siteID = types.SiteIDNone
			} else if !ignoreSiteID {
				log.Ctx(ctx).WarnContext(ctx, "siteID required", slog.String("userID", user.ID))
				writeJSONError(w, "siteID required", http.StatusBadRequest)
				return
			}
		}

		if !s.bypassAuth && !s.singleSite && siteID != "" && !user.Admin {
			settings, _, err := s.storage.GetSettings(ctx, siteID)
			if err != nil {
				log.Ctx(ctx).WarnContext(ctx, "site lookup failed", slog.String("siteID", siteID), slog.Any("error", err))
				writeJSONError(w, "site access denied", http.StatusForbidden)
				return
			}
			if !settings.HasPermission(user) {
				log.Ctx(ctx).WarnContext(ctx, "user does not have permission for site", slog.String("userID", user.ID), slog.String("email", user.Email), slog.String("site", siteID))
				writeJSONError(w, "site access denied", http.StatusForbidden)
				return
			}
		}

		if user.ID != "" {
			ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("authUserID", user.ID)))
		}
		if siteID != "" {
			ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("authSiteID", siteID)))
		}

		log.Ctx(ctx).DebugContext(
			ctx,
			"authenticated request",
			slog.String("email", user.Email),
			slog.Bool("admin", user.Admin),
		)

		ctx = context.WithValue(ctx, userContextKey, user)
		ctx = context.WithValue(ctx, siteIDContextKey, siteID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) authenticateToken(ctx context.Context, token string) (string, string, time.Time, error) {
	if s.oidcVerifier == nil {
		return "", "", time.Time{}, errors.New("no valid audiences configured or token invalid")
	}
	idToken, err := s.oidcVerifier(ctx, token)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("verifier failed: %w", err)
	}
	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", "", time.Time{}, fmt.Errorf("invalid claims: %w", err)
	}
	if !claims.EmailVerified {
		// an unverified email can still read forecasts but never matches an admin
		claims.Email = ""
	}
	return claims.Email, idToken.Subject, idToken.Expiry, nil
}
