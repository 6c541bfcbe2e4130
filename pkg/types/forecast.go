package types

import (
	"errors"
	"math"
	"time"
)

// ForecastRequest describes the window a forecast is computed for.
type ForecastRequest struct {
	SiteID string
	Start  time.Time
	End    time.Time
	// ProductionStart overrides the provider's data period when set.
	ProductionStart time.Time
}

// Validate checks that the request can be forecast.
func (r ForecastRequest) Validate() error {
	if r.SiteID == "" {
		return errors.New("missing site id")
	}
	if r.Start.IsZero() || r.End.IsZero() {
		return errors.New("missing start or end date")
	}
	if Day(r.End).Before(Day(r.Start)) {
		return errors.New("end date is before start date")
	}
	return nil
}

// ForecastResult is the output of one forecast run. All values are kWh.
type ForecastResult struct {
	SiteID    string    `json:"siteID"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Produced  int64     `json:"produced"`
	Estimated int64     `json:"estimated"`
	Forecast  int64     `json:"forecast"`
	Progress  int64     `json:"progress"`

	Diagnostics ForecastDiagnostics `json:"diagnostics"`
}

// ForecastDiagnostics exposes how much history backed a forecast along with
// the unrounded figures.
type ForecastDiagnostics struct {
	ProductionStart time.Time       `json:"productionStart"`
	HistoryMonths   int             `json:"historyMonths"`
	MonthsCovered   int             `json:"monthsCovered"`
	CoverageRatio   float64         `json:"coverageRatio"`
	MissingMonths   []time.Month    `json:"missingMonths,omitempty"`
	Raw             ForecastFigures `json:"raw"`
}

// ForecastFigures holds the unrounded reconciliation values in kWh.
type ForecastFigures struct {
	Produced          float64 `json:"produced"`
	Estimated         float64 `json:"estimated"`
	Forecast          float64 `json:"forecast"`
	Progress          float64 `json:"progress"`
	EstimatedPast     float64 `json:"estimatedPast"`
	EstimatedToday    float64 `json:"estimatedToday"`
	EstimatedFuture   float64 `json:"estimatedFuture"`
	ProducedToday     float64 `json:"producedToday"`
	ProducedTodayOver float64 `json:"producedTodayOver"`
}

// Rounded converts the figures into whole kWh. Halves round to even.
func (f ForecastFigures) Rounded() (produced, estimated, forecast, progress int64) {
	return roundKWh(f.Produced), roundKWh(f.Estimated), roundKWh(f.Forecast), roundKWh(f.Progress)
}

func roundKWh(v float64) int64 {
	return int64(math.RoundToEven(v))
}
