// Command forecast computes a single forecast for one site and prints it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/solarforecast/pkg/forecast"
	"github.com/raterudder/solarforecast/pkg/log"
	"github.com/raterudder/solarforecast/pkg/provider"
	"github.com/raterudder/solarforecast/pkg/types"
)

func main() {
	providers := provider.Configured()
	siteID := lflag.String("site", "", "Monitoring provider site ID")
	start := lflag.String("start", "", "First day of the window (YYYYMMDD); defaults to the start of the year")
	end := lflag.String("end", "", "Last day of the window (YYYYMMDD); defaults to the end of the year")
	productionStart := lflag.String("production-start", "", "Override the first production day (DDMMYYYY)")
	timezone := lflag.String("timezone", "UTC", "Timezone of the site")
	output := lflag.String("output", "text", "Output format (text or json)")
	lflag.Configure()

	ctx := context.Background()
	if err := run(ctx, os.Stdout, providers, options{
		siteID:          *siteID,
		start:           *start,
		end:             *end,
		productionStart: *productionStart,
		timezone:        *timezone,
		output:          *output,
	}); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "forecast failed", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	siteID          string
	start           string
	end             string
	productionStart string
	timezone        string
	output          string
	now             time.Time
}

func run(ctx context.Context, w io.Writer, providers *provider.Map, o options) error {
	if o.siteID == "" {
		return fmt.Errorf("--site is required")
	}
	settings := types.SiteSettings{Timezone: o.timezone}
	loc := settings.Location()
	if o.now.IsZero() {
		o.now = time.Now()
	}

	req, err := buildRequest(o, loc)
	if err != nil {
		return err
	}

	p, err := providers.Site(ctx, types.SiteIDNone, settings, types.Credentials{})
	if err != nil {
		return err
	}
	res, err := forecast.New(p,
		forecast.WithLocation(loc),
		forecast.WithClock(func() time.Time { return o.now }),
	).Forecast(ctx, req)
	if err != nil {
		return err
	}

	switch o.output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case "text":
		return printText(w, res)
	default:
		return fmt.Errorf("unknown output format: %s", o.output)
	}
}

func buildRequest(o options, loc *time.Location) (types.ForecastRequest, error) {
	req := types.ForecastRequest{SiteID: o.siteID}
	var err error
	switch {
	case o.start == "" && o.end == "":
		req.Start, req.End, err = types.DefaultWindow(types.WindowYear, o.now.In(loc))
		if err != nil {
			return req, err
		}
	case o.start == "" || o.end == "":
		return req, fmt.Errorf("--start and --end must be given together")
	default:
		if req.Start, err = types.ParseRangeDate(o.start, loc); err != nil {
			return req, err
		}
		if req.End, err = types.ParseRangeDate(o.end, loc); err != nil {
			return req, err
		}
	}
	if o.productionStart != "" {
		if req.ProductionStart, err = types.ParseProductionStart(o.productionStart, loc); err != nil {
			return req, err
		}
	}
	return req, req.Validate()
}

func printText(w io.Writer, res types.ForecastResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Site %s, %s to %s\n", res.SiteID, res.Start.Format(time.DateOnly), res.End.Format(time.DateOnly))
	fmt.Fprintf(tw, "  produced\t%s kWh\n", humanize.Comma(res.Produced))
	fmt.Fprintf(tw, "  estimated\t%s kWh\n", humanize.Comma(res.Estimated))
	fmt.Fprintf(tw, "  forecast\t%s kWh\n", humanize.Comma(res.Forecast))
	progress := humanize.Comma(res.Progress)
	if res.Progress > 0 {
		progress = "+" + progress
	}
	fmt.Fprintf(tw, "  progress\t%s kWh\n", progress)
	d := res.Diagnostics
	fmt.Fprintf(tw, "  history\t%s months since %s, %d/12 calendar months covered\n",
		humanize.Comma(int64(d.HistoryMonths)), d.ProductionStart.Format(time.DateOnly), d.MonthsCovered)
	return tw.Flush()
}
