package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/raterudder/solarforecast/pkg/log"
	"github.com/raterudder/solarforecast/pkg/provider"
	"github.com/raterudder/solarforecast/pkg/storage"
	"github.com/raterudder/solarforecast/pkg/types"
)

type contextKey string

const (
	siteIDContextKey contextKey = "siteID"
	userContextKey   contextKey = "user"
)

// tokenVerifier is a function that validates an OIDC ID Token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// Server handles the HTTP API for site forecasts and settings.
type Server struct {
	providers *provider.Map
	storage   storage.Database

	listenAddr string
	httpServer *http.Server

	adminEmails    []string
	oidcAudience   string
	oidcVerifier   tokenVerifier
	bypassAuth     bool
	singleSite     bool
	providerSiteID string
	encryptionKey  string
	serverName     string
	now            func() time.Time
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(providers *provider.Map, s storage.Database) *Server {
	srv := &Server{
		providers:  providers,
		storage:    s,
		serverName: "solarforecast",
		now:        time.Now,
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	adminEmails := lflag.String("admin-emails", "", "comma-delimited list of email addresses allowed to update settings and list sites")
	oidcAudience := lflag.String("oidc-audience", "", "Google client ID to validate bearer id tokens against; auth is disabled when empty")
	singleSite := lflag.Bool("single-site", false, "Enable single-site mode (disables siteID requirement)")
	providerSiteID := lflag.String("site-id", "", "Monitoring provider site ID used in single-site mode")
	encryptionKey := lflag.RequiredString("credentials-encryption-key", "Key for encrypting credentials")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		if *adminEmails != "" {
			srv.adminEmails = strings.Split(*adminEmails, ",")
			for i, email := range srv.adminEmails {
				srv.adminEmails[i] = strings.TrimSpace(email)
			}
		}
		if *oidcAudience != "" {
			googleProvider, err := oidc.NewProvider(context.Background(), "https://accounts.google.com")
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize Google OIDC provider", slog.Any("error", err))
				os.Exit(1)
			}
			srv.oidcAudience = *oidcAudience
			srv.oidcVerifier = googleProvider.Verifier(&oidc.Config{ClientID: *oidcAudience}).Verify
		} else {
			srv.bypassAuth = true
		}
		srv.singleSite = *singleSite
		srv.providerSiteID = *providerSiteID

		if len(*encryptionKey) != 32 {
			log.Ctx(context.Background()).Error("credentials-encryption-key must be 32 characters")
			os.Exit(1)
		}
		srv.encryptionKey = *encryptionKey
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/forecast", s.handleForecast)
	apiMux.HandleFunc("GET /api/forecast/curve", s.handleForecastCurve)
	apiMux.HandleFunc("GET /api/settings", s.handleGetSettings)
	apiMux.HandleFunc("POST /api/settings", s.handleUpdateSettings)
	apiMux.HandleFunc("GET /api/list/sites", s.handleListSites)
	apiMux.HandleFunc("GET /api/list/providers", s.handleListProviders)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(s.requestIDMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux))))
}

func (s *Server) getSiteID(r *http.Request) string {
	if siteID, ok := r.Context().Value(siteIDContextKey).(string); ok {
		return siteID
	}
	// we want to have a stack trace when this happens
	panic("no siteID in context")
}

func (s *Server) getUser(r *http.Request) types.User {
	if user, ok := r.Context().Value(userContextKey).(types.User); ok {
		return user
	}
	return types.User{}
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

// SingleSite reports whether the server runs in single-site mode.
func (s *Server) SingleSite() bool {
	return s.singleSite
}

// isAdmin returns true if the email is in the adminEmails list.
func (s *Server) isAdmin(email string) bool {
	if email == "" {
		return false
	}
	for _, adminEmail := range s.adminEmails {
		if email == adminEmail {
			return true
		}
	}
	return false
}
