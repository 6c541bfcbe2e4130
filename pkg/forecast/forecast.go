package forecast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raterudder/solarforecast/pkg/log"
	"github.com/raterudder/solarforecast/pkg/metrics"
	"github.com/raterudder/solarforecast/pkg/provider"
	"github.com/raterudder/solarforecast/pkg/types"
)

// Forecaster runs the forecast pipeline against a single provider. It holds
// no state between runs.
type Forecaster struct {
	provider provider.Provider
	now      func() time.Time
	loc      *time.Location
}

// Option configures a Forecaster.
type Option func(*Forecaster)

// WithClock overrides the clock used to decide what today is.
func WithClock(now func() time.Time) Option {
	return func(f *Forecaster) {
		f.now = now
	}
}

// WithLocation sets the site timezone used for calendar days.
func WithLocation(loc *time.Location) Option {
	return func(f *Forecaster) {
		if loc != nil {
			f.loc = loc
		}
	}
}

// New returns a Forecaster reading from p.
func New(p provider.Provider, opts ...Option) *Forecaster {
	f := &Forecaster{
		provider: p,
		now:      time.Now,
		loc:      time.UTC,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Plan is the history-derived part of a forecast: the seasonal averages and
// the daily curve built from them.
type Plan struct {
	ProductionStart time.Time
	HistoryMonths   int
	Averages        types.SeasonalAverages
	Curve           types.DailyCurve
	Today           time.Time
	Start           time.Time
	End             time.Time
}

// Plan resolves the production start, builds seasonal averages from the
// provider's monthly history and interpolates the daily curve for the request.
func (f *Forecaster) Plan(ctx context.Context, req types.ForecastRequest) (Plan, error) {
	if err := req.Validate(); err != nil {
		return Plan{}, err
	}
	ctx = log.WithSite(ctx, req.SiteID)

	p := Plan{
		Start: f.day(req.Start),
		End:   f.day(req.End),
		Today: f.day(f.now().In(f.loc)),
	}

	start, err := f.resolveProductionStart(ctx, req)
	if err != nil {
		return Plan{}, err
	}
	p.ProductionStart = start

	cutoff := LastCompleteMonth(p.Today)
	if start.After(cutoff) {
		log.Ctx(ctx).WarnContext(ctx, "no complete month of production history",
			slog.Time("productionStart", start),
			slog.Time("cutoff", cutoff),
		)
		p.Averages = types.SeasonalAverages{}
	} else {
		records, err := f.provider.Energy(ctx, req.SiteID, start, cutoff, types.GranularityMonth)
		if err != nil {
			return Plan{}, provider.Unavailable("energy", err)
		}
		p.HistoryMonths = len(records)
		p.Averages = SeasonalAveragesFrom(records)
	}

	if covered, ratio := p.Averages.Coverage(); covered < 12 {
		log.Ctx(ctx).WarnContext(ctx, "seasonal averages incomplete, interpolating over missing months",
			slog.Int("monthsCovered", covered),
			slog.Float64("coverageRatio", ratio),
		)
	}

	p.Curve = BuildDailyCurve(p.Start, p.End, p.Averages)
	return p, nil
}

// Forecast computes the produced, estimated, forecast and progress figures for
// the request. Any provider failure aborts the run with an error wrapping
// provider.ErrUnavailable.
func (f *Forecaster) Forecast(ctx context.Context, req types.ForecastRequest) (types.ForecastResult, error) {
	res, err := f.forecast(ctx, req)
	if err != nil {
		metrics.ForecastRunsTotal.WithLabelValues("error").Inc()
		return types.ForecastResult{}, err
	}
	metrics.ForecastRunsTotal.WithLabelValues("ok").Inc()
	metrics.ForecastCoverage.WithLabelValues(req.SiteID).Set(res.Diagnostics.CoverageRatio)
	return res, nil
}

func (f *Forecaster) forecast(ctx context.Context, req types.ForecastRequest) (types.ForecastResult, error) {
	plan, err := f.Plan(ctx, req)
	if err != nil {
		return types.ForecastResult{}, err
	}
	ctx = log.WithSite(ctx, req.SiteID)

	untilNowWh, err := f.provider.TimeFrameEnergy(ctx, req.SiteID, plan.Start, plan.End, types.GranularityYear)
	if err != nil {
		return types.ForecastResult{}, provider.Unavailable("timeFrameEnergy", err)
	}
	tomorrow := plan.Today.AddDate(0, 0, 1)
	todayWh, err := f.provider.TimeFrameEnergy(ctx, req.SiteID, plan.Today, tomorrow, types.GranularityDay)
	if err != nil {
		return types.ForecastResult{}, provider.Unavailable("timeFrameEnergy", err)
	}

	figures := Reconcile(plan.Curve,
		Window{Start: plan.Start, End: plan.End, Today: plan.Today},
		Actuals{UntilNow: untilNowWh / 1000, Today: todayWh / 1000},
	)

	covered, ratio := plan.Averages.Coverage()
	res := types.ForecastResult{
		SiteID: req.SiteID,
		Start:  plan.Start,
		End:    plan.End,
		Diagnostics: types.ForecastDiagnostics{
			ProductionStart: plan.ProductionStart,
			HistoryMonths:   plan.HistoryMonths,
			MonthsCovered:   covered,
			CoverageRatio:   ratio,
			MissingMonths:   plan.Averages.Missing(),
			Raw:             figures,
		},
	}
	res.Produced, res.Estimated, res.Forecast, res.Progress = figures.Rounded()

	log.Ctx(ctx).InfoContext(ctx, "forecast computed",
		slog.String("start", res.Start.Format(time.DateOnly)),
		slog.String("end", res.End.Format(time.DateOnly)),
		slog.Int64("produced", res.Produced),
		slog.Int64("estimated", res.Estimated),
		slog.Int64("forecast", res.Forecast),
		slog.Int64("progress", res.Progress),
		slog.Float64("coverageRatio", ratio),
	)
	return res, nil
}

func (f *Forecaster) resolveProductionStart(ctx context.Context, req types.ForecastRequest) (time.Time, error) {
	if !req.ProductionStart.IsZero() {
		return NormalizeProductionStart(f.day(req.ProductionStart)), nil
	}
	dp, err := f.provider.DataPeriod(ctx, req.SiteID)
	if err != nil {
		return time.Time{}, provider.Unavailable("dataPeriod", err)
	}
	if dp.Start.IsZero() {
		return time.Time{}, provider.Unavailable("dataPeriod", fmt.Errorf("site %s has no production start", req.SiteID))
	}
	start := NormalizeProductionStart(f.day(dp.Start))
	log.Ctx(ctx).DebugContext(ctx, "resolved production start from provider",
		slog.Time("dataStart", dp.Start),
		slog.Time("productionStart", start),
	)
	return start, nil
}

// day returns the calendar date of t as midnight in the forecaster location.
// Dates are taken at face value so that a date parsed in another zone keeps
// its year, month and day.
func (f *Forecaster) day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, f.loc)
}
