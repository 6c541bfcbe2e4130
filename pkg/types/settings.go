package types

import (
	"fmt"
	"time"
)

// CurrentSettingsVersion is the current version of the site settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 3

// SiteIDNone is used when the service runs for a single site.
const SiteIDNone = "none"

// SiteSettings represents the per-site configuration stored in the database.
type SiteSettings struct {
	Name string `json:"name"`

	// Provider is the monitoring provider id (e.g. "solaredge").
	Provider string `json:"provider"`
	// ProviderSiteID is the site id on the monitoring provider. Defaults to the
	// local site id when empty.
	ProviderSiteID string `json:"providerSiteID"`

	// ProductionStart overrides the provider's first data date (DDMMYYYY or
	// YYYY-MM-DD).
	ProductionStart string `json:"productionStart,omitempty"`

	// Timezone is the IANA zone used to decide what "today" is for the site.
	Timezone string `json:"timezone"`

	// Window is the default forecast window when none is requested: "year" or
	// "month".
	Window string `json:"window"`

	// Permissions lists the users allowed to read the site's forecasts.
	Permissions []SitePermissions `json:"permissions,omitempty"`

	// Credentials for the monitoring provider (encrypted)
	EncryptedCredentials []byte `json:"encryptedCredentials,omitempty"`
}

// SitePermissions grants a user access to a site, matched by OIDC subject or
// verified email.
type SitePermissions struct {
	UserID string `json:"userID,omitempty" yaml:"userID,omitempty"`
	Email  string `json:"email,omitempty" yaml:"email,omitempty"`
}

// HasPermission returns true if the user is listed in the site permissions.
func (s SiteSettings) HasPermission(user User) bool {
	for _, p := range s.Permissions {
		if p.UserID != "" && p.UserID == user.ID {
			return true
		}
		if p.Email != "" && p.Email == user.Email {
			return true
		}
	}
	return false
}

// Location loads the site's timezone, falling back to UTC.
func (s SiteSettings) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Credentials for external systems
type Credentials struct {
	SolarEdge *SolarEdgeCredentials `json:"solaredge,omitempty"`
}

// SolarEdgeCredentials holds the monitoring API key for a SolarEdge account.
type SolarEdgeCredentials struct {
	APIKey string `json:"apiKey"`
}

// Has reports which provider credentials are set without exposing them.
func (c Credentials) Has() map[string]bool {
	return map[string]bool{
		"solaredge": c.SolarEdge != nil && c.SolarEdge.APIKey != "",
	}
}

// MigrateSettings migrates the settings to the current version.
// It returns the migrated settings, a boolean indicating if changes were made, and an error if migration failed.
func MigrateSettings(s SiteSettings, currentVersion int) (SiteSettings, bool, error) {
	if currentVersion >= CurrentSettingsVersion {
		return s, false, nil
	}

	migrated := false
	for version := currentVersion + 1; version <= CurrentSettingsVersion; version++ {
		switch version {
		case 1:
			// version 1: initial
			if s.Provider == "" {
				s.Provider = "solaredge"
				migrated = true
			}
		case 2:
			// version 2: add timezone
			if s.Timezone == "" {
				s.Timezone = "UTC"
				migrated = true
			}
		case 3:
			// version 3: add default window
			if s.Window == "" {
				s.Window = WindowYear
				migrated = true
			}
		default:
			return s, false, fmt.Errorf("unknown settings version: %d", version)
		}
	}

	return s, migrated, nil
}

const (
	WindowYear  = "year"
	WindowMonth = "month"
)

// DefaultWindow returns the forecast window containing today for the given
// window kind: the calendar year or the calendar month.
func DefaultWindow(kind string, today time.Time) (time.Time, time.Time, error) {
	today = Day(today)
	switch kind {
	case "", WindowYear:
		start := time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, today.Location())
		return start, time.Date(today.Year(), time.December, 31, 0, 0, 0, 0, today.Location()), nil
	case WindowMonth:
		start := StartOfMonth(today)
		return start, start.AddDate(0, 1, -1), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown forecast window: %s", kind)
	}
}
