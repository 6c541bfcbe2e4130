package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/solarforecast/pkg/types"
)

// ErrUnavailable is wrapped by every error caused by a failed provider call,
// whether from the network, authentication or a malformed response.
var ErrUnavailable = errors.New("provider unavailable")

// Provider defines the interface for reading production data from a remote
// energy-monitoring service (like SolarEdge).
type Provider interface {
	// DataPeriod returns the range of production data recorded for the site.
	DataPeriod(ctx context.Context, siteID string) (types.DataPeriod, error)

	// Energy returns the energy totals for the site between start and end,
	// one record per granularity step, in order.
	Energy(ctx context.Context, siteID string, start, end time.Time, g types.Granularity) ([]types.MonthlyEnergy, error)

	// TimeFrameEnergy returns the cumulative energy in Wh produced between
	// start and end.
	TimeFrameEnergy(ctx context.Context, siteID string, start, end time.Time, g types.Granularity) (float64, error)
}

// Unavailable wraps err so that it matches ErrUnavailable. Errors that already
// match are returned unchanged.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// Infos lists the providers a site can be configured with.
func Infos() []types.ProviderInfo {
	return []types.ProviderInfo{solarEdgeInfo(), flatInfo()}
}

// Configured sets up the provider Map and registers its flags. When a
// default API key is configured the single-site provider is registered under
// types.SiteIDNone.
func Configured() *Map {
	kind := lflag.String("provider", "solaredge", "Default monitoring provider (available: solaredge, flat)")
	apiURL := lflag.String("solaredge-api-url", defaultSolarEdgeURL, "URL for the SolarEdge monitoring API")
	apiKey := lflag.String("solaredge-api-key", "", "SolarEdge monitoring API key used when a site has no stored credentials")
	timeout := lflag.Duration("provider-timeout", time.Minute, "Timeout for a single provider request")
	flatKWh := lflag.String("flat-kwh-per-day", "10", "Daily production of the flat provider in kWh")

	m := NewMap()
	lflag.Do(func() {
		m.defaultKind = *kind
		m.solarEdgeURL = *apiURL
		m.defaultAPIKey = *apiKey
		m.timeout = *timeout
		v, err := strconv.ParseFloat(*flatKWh, 64)
		if err != nil {
			panic(fmt.Sprintf("invalid flat-kwh-per-day %q: %v", *flatKWh, err))
		}
		m.flatKWhPerDay = v

		switch m.defaultKind {
		case "solaredge":
			if m.defaultAPIKey != "" {
				m.SetProvider(types.SiteIDNone, NewSolarEdge(m.solarEdgeURL, m.defaultAPIKey, m.timeout))
			}
		case "flat":
			m.SetProvider(types.SiteIDNone, &Flat{KWhPerDay: m.flatKWhPerDay})
		default:
			panic(fmt.Sprintf("unknown provider: %s", m.defaultKind))
		}
	})
	return m
}

type mapEntry struct {
	provider    Provider
	fingerprint string
}

// Map manages the provider of every site.
type Map struct {
	mu      sync.Mutex
	entries map[string]mapEntry

	defaultKind   string
	solarEdgeURL  string
	defaultAPIKey string
	timeout       time.Duration
	flatKWhPerDay float64
}

// NewMap creates a new provider Map.
func NewMap() *Map {
	return &Map{
		entries:       make(map[string]mapEntry),
		defaultKind:   "solaredge",
		solarEdgeURL:  defaultSolarEdgeURL,
		timeout:       time.Minute,
		flatKWhPerDay: 10,
	}
}

// Site returns the provider for the given siteID. A new provider is built when
// the site is new or its provider settings changed since the last call.
func (m *Map) Site(ctx context.Context, siteID string, settings types.SiteSettings, creds types.Credentials) (Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if siteID == "" {
		siteID = types.SiteIDNone
	}

	kind := settings.Provider
	if kind == "" {
		kind = m.defaultKind
	}
	var apiKey string
	if creds.SolarEdge != nil {
		apiKey = creds.SolarEdge.APIKey
	}
	fingerprint := kind + "|" + apiKey

	if e, ok := m.entries[siteID]; ok && (e.fingerprint == fingerprint || e.fingerprint == "") {
		return e.provider, nil
	}

	var p Provider
	switch kind {
	case "solaredge":
		if apiKey == "" {
			apiKey = m.defaultAPIKey
		}
		if apiKey == "" {
			return nil, errors.New("missing solaredge api key")
		}
		p = NewSolarEdge(m.solarEdgeURL, apiKey, m.timeout)
	case "flat":
		p = &Flat{KWhPerDay: m.flatKWhPerDay}
	default:
		return nil, fmt.Errorf("unknown provider: %s", kind)
	}
	m.entries[siteID] = mapEntry{provider: p, fingerprint: fingerprint}
	return p, nil
}

// SetProvider pins the provider for a specific site regardless of its
// settings. This is primarily used for testing and single-site mode.
func (m *Map) SetProvider(siteID string, p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[siteID] = mapEntry{provider: p}
}
