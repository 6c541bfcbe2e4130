package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/raterudder/solarforecast/pkg/common"
	"github.com/raterudder/solarforecast/pkg/log"
	"github.com/raterudder/solarforecast/pkg/metrics"
	"github.com/raterudder/solarforecast/pkg/types"
)

const (
	defaultSolarEdgeURL = "https://monitoringapi.solaredge.com"

	solarEdgeDateLayout     = "2006-01-02"
	solarEdgeDateTimeLayout = "2006-01-02 15:04:05"
)

// SolarEdge implements the Provider interface for the SolarEdge monitoring
// API. Every failed call returns an error wrapping ErrUnavailable.
type SolarEdge struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewSolarEdge returns a SolarEdge client for the given API key.
func NewSolarEdge(baseURL, apiKey string, timeout time.Duration) *SolarEdge {
	if baseURL == "" {
		baseURL = defaultSolarEdgeURL
	}
	return &SolarEdge{
		client:  common.HTTPClient(timeout),
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

func solarEdgeInfo() types.ProviderInfo {
	return types.ProviderInfo{
		ID:   "solaredge",
		Name: "SolarEdge",
		Credentials: []types.ProviderCredential{
			{
				Field:       "apiKey",
				Name:        "API Key",
				Type:        "password",
				Required:    true,
				Description: "Site API key from the SolarEdge monitoring portal (Admin > Site Access).",
			},
		},
	}
}

type dataPeriodResult struct {
	DataPeriod struct {
		StartDate *string `json:"startDate"`
		EndDate   *string `json:"endDate"`
	} `json:"dataPeriod"`
}

type energyResult struct {
	Energy struct {
		TimeUnit string `json:"timeUnit"`
		Unit     string `json:"unit"`
		Values   []struct {
			Date  string   `json:"date"`
			Value *float64 `json:"value"`
		} `json:"values"`
	} `json:"energy"`
}

type timeFrameEnergyResult struct {
	TimeFrameEnergy struct {
		Energy *float64 `json:"energy"`
		Unit   string   `json:"unit"`
	} `json:"timeFrameEnergy"`
}

// DataPeriod returns the first and last day the site reported production.
func (s *SolarEdge) DataPeriod(ctx context.Context, siteID string) (types.DataPeriod, error) {
	var res dataPeriodResult
	if err := s.get(ctx, siteID, "dataPeriod", nil, &res); err != nil {
		return types.DataPeriod{}, Unavailable("dataPeriod", err)
	}
	if res.DataPeriod.StartDate == nil {
		return types.DataPeriod{}, Unavailable("dataPeriod", errors.New("site has no data period"))
	}

	start, err := time.ParseInLocation(solarEdgeDateLayout, *res.DataPeriod.StartDate, time.UTC)
	if err != nil {
		return types.DataPeriod{}, Unavailable("dataPeriod", fmt.Errorf("failed to parse start date: %w", err))
	}
	dp := types.DataPeriod{Start: start}
	if res.DataPeriod.EndDate != nil {
		end, err := time.ParseInLocation(solarEdgeDateLayout, *res.DataPeriod.EndDate, time.UTC)
		if err != nil {
			return types.DataPeriod{}, Unavailable("dataPeriod", fmt.Errorf("failed to parse end date: %w", err))
		}
		dp.End = end
	}
	return dp, nil
}

// Energy returns the energy per time unit between start and end. Periods the
// API reports as null are returned with zero energy.
func (s *SolarEdge) Energy(ctx context.Context, siteID string, start, end time.Time, g types.Granularity) ([]types.MonthlyEnergy, error) {
	params := url.Values{}
	params.Set("timeUnit", string(g))
	params.Set("startDate", start.Format(solarEdgeDateLayout))
	params.Set("endDate", end.Format(solarEdgeDateLayout))

	var res energyResult
	if err := s.get(ctx, siteID, "energy", params, &res); err != nil {
		return nil, Unavailable("energy", err)
	}

	records := make([]types.MonthlyEnergy, 0, len(res.Energy.Values))
	for _, v := range res.Energy.Values {
		d, err := time.ParseInLocation(solarEdgeDateTimeLayout, v.Date, start.Location())
		if err != nil {
			return nil, Unavailable("energy", fmt.Errorf("failed to parse date %q: %w", v.Date, err))
		}
		var wh float64
		if v.Value != nil {
			wh = *v.Value
		}
		records = append(records, types.MonthlyEnergy{Date: d, WattHours: wh})
	}
	return records, nil
}

// TimeFrameEnergy returns the total energy in Wh produced between start and end.
func (s *SolarEdge) TimeFrameEnergy(ctx context.Context, siteID string, start, end time.Time, g types.Granularity) (float64, error) {
	params := url.Values{}
	params.Set("timeUnit", string(g))
	params.Set("startDate", start.Format(solarEdgeDateLayout))
	params.Set("endDate", end.Format(solarEdgeDateLayout))

	var res timeFrameEnergyResult
	if err := s.get(ctx, siteID, "timeFrameEnergy", params, &res); err != nil {
		return 0, Unavailable("timeFrameEnergy", err)
	}
	if res.TimeFrameEnergy.Energy == nil {
		return 0, Unavailable("timeFrameEnergy", errors.New("missing energy in response"))
	}
	return *res.TimeFrameEnergy.Energy, nil
}

func (s *SolarEdge) newGetRequest(ctx context.Context, siteID, endpoint string, params url.Values) (*http.Request, error) {
	if siteID == "" {
		return nil, errors.New("missing site id")
	}
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, "site", siteID, endpoint)
	if err != nil {
		return nil, err
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", s.apiKey)
	u.RawQuery = params.Encode()
	return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
}

func (s *SolarEdge) get(ctx context.Context, siteID, endpoint string, params url.Values, dest interface{}) (err error) {
	started := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.ProviderCallsTotal.WithLabelValues("solaredge", endpoint, status).Inc()
		metrics.ProviderLatency.WithLabelValues("solaredge", endpoint).Observe(time.Since(started).Seconds())
	}()

	req, err := s.newGetRequest(ctx, siteID, endpoint, params)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "solaredge request failed", slog.String("endpoint", endpoint), slog.Any("error", err))
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		log.Ctx(ctx).ErrorContext(ctx, "solaredge api error",
			slog.String("endpoint", endpoint),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)),
		)
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(bytes.NewReader(body)).Decode(dest); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode solaredge response", slog.String("endpoint", endpoint), slog.Any("error", err))
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	log.Ctx(ctx).DebugContext(ctx, "solaredge request success", slog.String("endpoint", endpoint))
	return nil
}
