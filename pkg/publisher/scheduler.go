package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/solarforecast/pkg/log"
	"github.com/raterudder/solarforecast/pkg/types"
	"github.com/robfig/cron/v3"
)

// Source computes the forecast of a site over its default window.
type Source interface {
	ForecastSite(ctx context.Context, siteID string) (types.ForecastResult, error)
	// SingleSite reports whether the source serves only the "none" site.
	SingleSite() bool
}

// Scheduler forecasts and publishes a fixed list of sites on a cron schedule.
type Scheduler struct {
	source    Source
	publisher *Publisher
	sites     []string
	schedule  string

	broker          string
	username        string
	password        string
	topicPrefix     string
	discoveryPrefix string
}

// Configured registers the publisher flags. The scheduler is disabled unless
// mqtt-broker is set.
func Configured(source Source) *Scheduler {
	broker := lflag.String("mqtt-broker", "", "MQTT broker host:port to publish Home Assistant sensors to (disabled when empty)")
	username := lflag.String("mqtt-username", "", "MQTT username")
	password := lflag.String("mqtt-password", "", "MQTT password")
	topicPrefix := lflag.String("mqtt-topic-prefix", "solarforecast", "Prefix of the sensor state topics")
	discoveryPrefix := lflag.String("mqtt-discovery-prefix", "homeassistant", "Home Assistant MQTT discovery prefix")
	sites := lflag.String("publish-sites", "", "comma-delimited list of site IDs to publish (defaults to the single site in single-site mode)")
	schedule := lflag.String("publish-schedule", "*/30 * * * *", "cron schedule for publishing forecasts")

	s := &Scheduler{source: source}
	lflag.Do(func() {
		s.broker = *broker
		s.username = *username
		s.password = *password
		s.topicPrefix = *topicPrefix
		s.discoveryPrefix = *discoveryPrefix
		s.schedule = *schedule
		for _, id := range strings.Split(*sites, ",") {
			if id = strings.TrimSpace(id); id != "" {
				s.sites = append(s.sites, id)
			}
		}
		if s.broker != "" {
			if _, err := cron.ParseStandard(s.schedule); err != nil {
				panic(fmt.Sprintf("invalid publish-schedule %q: %v", s.schedule, err))
			}
		}
	})
	return s
}

// NewScheduler returns a scheduler publishing sites through p.
func NewScheduler(source Source, p *Publisher, schedule string, sites []string) *Scheduler {
	return &Scheduler{
		source:    source,
		publisher: p,
		schedule:  schedule,
		sites:     sites,
	}
}

// Enabled reports whether a broker or publisher is configured.
func (s *Scheduler) Enabled() bool {
	return s.broker != "" || s.publisher != nil
}

// RunOnce forecasts and publishes every site. A failing site does not stop
// the others.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs []error
	for _, siteID := range s.siteIDs() {
		siteCtx := log.WithSite(ctx, siteID)
		res, err := s.source.ForecastSite(siteCtx, siteID)
		if err != nil {
			log.Ctx(siteCtx).ErrorContext(siteCtx, "failed to forecast site for publishing", slog.Any("error", err))
			errs = append(errs, fmt.Errorf("site %s: %w", siteID, err))
			continue
		}
		if err := s.publisher.Publish(siteCtx, res); err != nil {
			log.Ctx(siteCtx).ErrorContext(siteCtx, "failed to publish forecast", slog.Any("error", err))
			errs = append(errs, fmt.Errorf("site %s: %w", siteID, err))
		}
	}
	return errors.Join(errs...)
}

// siteIDs returns the configured sites, falling back to the single site.
func (s *Scheduler) siteIDs() []string {
	if len(s.sites) > 0 {
		return s.sites
	}
	if s.source.SingleSite() {
		return []string{types.SiteIDNone}
	}
	return nil
}

// Run publishes once immediately and then on every tick of the schedule until
// ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.siteIDs()) == 0 {
		return errors.New("publish-sites is required unless single-site is enabled")
	}

	if s.publisher == nil {
		c, err := Connect(ctx, s.broker, s.username, s.password)
		if err != nil {
			return err
		}
		s.publisher = New(c, s.topicPrefix, s.discoveryPrefix)
	}
	defer s.publisher.Close()

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		// errors are logged per site
		_ = s.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("invalid publish schedule %q: %w", s.schedule, err)
	}

	log.Ctx(ctx).InfoContext(ctx, "starting publisher",
		slog.String("schedule", s.schedule),
		slog.Int("sites", len(s.siteIDs())),
	)
	_ = s.RunOnce(ctx)

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	log.Ctx(ctx).InfoContext(ctx, "publisher stopped")
	return nil
}
