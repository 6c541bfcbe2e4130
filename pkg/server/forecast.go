package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/raterudder/solarforecast/pkg/log"
	"github.com/raterudder/solarforecast/pkg/provider"
	"github.com/raterudder/solarforecast/pkg/storage"
	"github.com/raterudder/solarforecast/pkg/types"
)

// forecastQuery holds the optional dates of a forecast request. Zero values
// fall back to the site settings.
type forecastQuery struct {
	start           time.Time
	end             time.Time
	productionStart time.Time
}

// parseForecastQuery validates the query parameters without touching the
// provider. Dates are read at face value and moved into the site location later.
func parseForecastQuery(q url.Values) (forecastQuery, error) {
	var fq forecastQuery
	var err error
	start, end := q.Get("start"), q.Get("end")
	if (start == "") != (end == "") {
		return fq, errors.New("start and end must be given together")
	}
	if start != "" {
		if fq.start, err = types.ParseRangeDate(start, time.UTC); err != nil {
			return fq, fmt.Errorf("start: %w", err)
		}
		if fq.end, err = types.ParseRangeDate(end, time.UTC); err != nil {
			return fq, fmt.Errorf("end: %w", err)
		}
		if fq.end.Before(fq.start) {
			return fq, errors.New("end date is before start date")
		}
	}
	if ps := q.Get("productionStart"); ps != "" {
		if fq.productionStart, err = types.ParseProductionStart(ps, time.UTC); err != nil {
			return fq, fmt.Errorf("productionStart: %w", err)
		}
	}
	return fq, nil
}

// forecastRequest fills the gaps of fq from the site settings.
func (s *Server) forecastRequest(fq forecastQuery, settings settingsWithVersion, providerSiteID string) (types.ForecastRequest, error) {
	req := types.ForecastRequest{
		SiteID:          providerSiteID,
		Start:           fq.start,
		End:             fq.end,
		ProductionStart: fq.productionStart,
	}
	loc := settings.Location()
	if req.Start.IsZero() {
		start, end, err := types.DefaultWindow(settings.Window, s.now().In(loc))
		if err != nil {
			return types.ForecastRequest{}, err
		}
		req.Start, req.End = start, end
	}
	if req.ProductionStart.IsZero() && settings.ProductionStart != "" {
		ps, err := types.ParseProductionStart(settings.ProductionStart, loc)
		if err != nil {
			return types.ForecastRequest{}, fmt.Errorf("stored production start: %w", err)
		}
		req.ProductionStart = ps
	}
	return req, nil
}

// ForecastSite computes the forecast of a site over its default window.
func (s *Server) ForecastSite(ctx context.Context, siteID string) (types.ForecastResult, error) {
	return s.forecastSite(ctx, siteID, forecastQuery{})
}

func (s *Server) forecastSite(ctx context.Context, siteID string, fq forecastQuery) (types.ForecastResult, error) {
	f, settings, providerSiteID, err := s.siteForecaster(ctx, siteID)
	if err != nil {
		return types.ForecastResult{}, err
	}
	req, err := s.forecastRequest(fq, settings, providerSiteID)
	if err != nil {
		return types.ForecastResult{}, err
	}
	res, err := f.Forecast(ctx, req)
	if err != nil {
		return types.ForecastResult{}, err
	}
	res.SiteID = siteID
	return res, nil
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := s.getSiteID(r)

	fq, err := parseForecastQuery(r.URL.Query())
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "invalid forecast request", slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.forecastSite(ctx, siteID, fq)
	if err != nil {
		writeForecastError(ctx, w, err)
		return
	}

	w.Header().Set("Cache-Control", "private, max-age=300")
	writeJSON(w, res)
}

type curveRes struct {
	SiteID          string             `json:"siteID"`
	Start           time.Time          `json:"start"`
	End             time.Time          `json:"end"`
	ProductionStart time.Time          `json:"productionStart"`
	HistoryMonths   int                `json:"historyMonths"`
	Averages        map[string]float64 `json:"averages"`
	Curve           types.DailyCurve   `json:"curve"`
}

func (s *Server) handleForecastCurve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := s.getSiteID(r)

	fq, err := parseForecastQuery(r.URL.Query())
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	f, settings, providerSiteID, err := s.siteForecaster(ctx, siteID)
	if err != nil {
		writeForecastError(ctx, w, err)
		return
	}
	req, err := s.forecastRequest(fq, settings, providerSiteID)
	if err != nil {
		writeForecastError(ctx, w, err)
		return
	}
	plan, err := f.Plan(ctx, req)
	if err != nil {
		writeForecastError(ctx, w, err)
		return
	}

	averages := make(map[string]float64, len(plan.Averages))
	for m, v := range plan.Averages {
		averages[m.String()] = v
	}
	w.Header().Set("Cache-Control", "private, max-age=300")
	writeJSON(w, curveRes{
		SiteID:          siteID,
		Start:           plan.Start,
		End:             plan.End,
		ProductionStart: plan.ProductionStart,
		HistoryMonths:   plan.HistoryMonths,
		Averages:        averages,
		Curve:           plan.Curve,
	})
}

func writeForecastError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrSiteNotFound):
		writeJSONError(w, "site not found", http.StatusNotFound)
	case errors.Is(err, types.ErrInvalidDate):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, provider.ErrUnavailable):
		log.Ctx(ctx).WarnContext(ctx, "provider unavailable", slog.Any("error", err))
		writeJSONError(w, "monitoring provider unavailable", http.StatusBadGateway)
	default:
		log.Ctx(ctx).ErrorContext(ctx, "failed to compute forecast", slog.Any("error", err))
		writeJSONError(w, "failed to compute forecast", http.StatusInternalServerError)
	}
}
