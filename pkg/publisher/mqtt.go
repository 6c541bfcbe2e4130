package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/raterudder/solarforecast/pkg/log"
	"github.com/raterudder/solarforecast/pkg/metrics"
	"github.com/raterudder/solarforecast/pkg/types"
)

const publishTimeout = 10 * time.Second

// client is the part of mqtt.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

var _ client = (mqtt.Client)(nil)

// sensor is one Home Assistant entity derived from a forecast result.
type sensor struct {
	key   string
	name  string
	value func(types.ForecastResult) int64
}

var sensors = []sensor{
	{key: "produced", name: "Produced", value: func(r types.ForecastResult) int64 { return r.Produced }},
	{key: "estimated", name: "Estimated remaining", value: func(r types.ForecastResult) int64 { return r.Estimated }},
	{key: "forecast", name: "Forecast", value: func(r types.ForecastResult) int64 { return r.Forecast }},
	{key: "progress", name: "Progress", value: func(r types.ForecastResult) int64 { return r.Progress }},
}

var topicUnsafe = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Publisher writes forecast results to Home Assistant as MQTT sensors.
type Publisher struct {
	client          client
	topicPrefix     string
	discoveryPrefix string

	mu        sync.Mutex
	announced map[string]bool
}

// Connect dials the broker with automatic reconnects. A broker that does not
// answer within the timeout is retried in the background.
func Connect(ctx context.Context, broker, username, password string) (mqtt.Client, error) {
	if broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required")
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", broker))
	opts.SetClientID("solarforecast")
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	if username != "" {
		opts.SetUsername(username)
	}
	if password != "" {
		opts.SetPassword(password)
	}

	c := mqtt.NewClient(opts)
	if err := waitConnect(ctx, broker, c.Connect()); err != nil {
		return nil, err
	}
	return c, nil
}

func waitConnect(ctx context.Context, broker string, token mqtt.Token) error {
	if !token.WaitTimeout(publishTimeout) {
		log.Ctx(ctx).WarnContext(ctx, "MQTT broker not connected yet, retrying in the background",
			slog.String("broker", broker),
			slog.Duration("timeout", publishTimeout),
		)
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connecting to MQTT broker: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "connected to MQTT broker", slog.String("broker", broker))
	return nil
}

// New returns a Publisher writing through c.
func New(c client, topicPrefix, discoveryPrefix string) *Publisher {
	if topicPrefix == "" {
		topicPrefix = "solarforecast"
	}
	if discoveryPrefix == "" {
		discoveryPrefix = "homeassistant"
	}
	return &Publisher{
		client:          c,
		topicPrefix:     topicPrefix,
		discoveryPrefix: discoveryPrefix,
		announced:       map[string]bool{},
	}
}

// StateTopic returns the topic the state of a site's sensor is published to.
func (p *Publisher) StateTopic(siteID, key string) string {
	return fmt.Sprintf("%s/%s/%s/state", p.topicPrefix, topicUnsafe.ReplaceAllString(siteID, "_"), key)
}

func (p *Publisher) objectID(siteID, key string) string {
	return topicUnsafe.ReplaceAllString(fmt.Sprintf("%s_%s_%s", p.topicPrefix, siteID, key), "_")
}

// Publish sends the four sensor states of res. The discovery config of a site
// is sent the first time the site is published.
func (p *Publisher) Publish(ctx context.Context, res types.ForecastResult) error {
	ctx = log.WithSite(ctx, res.SiteID)
	if err := p.announce(ctx, res.SiteID); err != nil {
		metrics.PublishTotal.WithLabelValues("error").Inc()
		return err
	}
	for _, s := range sensors {
		payload := strconv.FormatInt(s.value(res), 10)
		if err := p.publish(p.StateTopic(res.SiteID, s.key), payload); err != nil {
			metrics.PublishTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("publishing %s: %w", s.key, err)
		}
	}
	metrics.PublishTotal.WithLabelValues("ok").Inc()
	log.Ctx(ctx).DebugContext(ctx, "published forecast", slog.Int64("forecast", res.Forecast))
	return nil
}

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
}

type discoveryConfig struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	StateTopic        string          `json:"state_topic"`
	UnitOfMeasurement string          `json:"unit_of_measurement"`
	DeviceClass       string          `json:"device_class"`
	StateClass        string          `json:"state_class,omitempty"`
	Device            discoveryDevice `json:"device"`
}

func (p *Publisher) announce(ctx context.Context, siteID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.announced[siteID] {
		return nil
	}

	device := discoveryDevice{
		Identifiers:  []string{p.objectID(siteID, "site")},
		Name:         "Solar forecast " + siteID,
		Manufacturer: "solarforecast",
	}
	for _, s := range sensors {
		cfg := discoveryConfig{
			Name:              s.name,
			UniqueID:          p.objectID(siteID, s.key),
			StateTopic:        p.StateTopic(siteID, s.key),
			UnitOfMeasurement: "kWh",
			DeviceClass:       "energy",
			Device:            device,
		}
		// progress can go negative so it is not a total
		if s.key != "progress" {
			cfg.StateClass = "total"
		}
		b, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encoding discovery config: %w", err)
		}
		topic := fmt.Sprintf("%s/sensor/%s/config", p.discoveryPrefix, cfg.UniqueID)
		if err := p.publish(topic, b); err != nil {
			return fmt.Errorf("publishing discovery config: %w", err)
		}
	}
	p.announced[siteID] = true
	log.Ctx(ctx).InfoContext(ctx, "announced home assistant sensors")
	return nil
}

func (p *Publisher) publish(topic string, payload interface{}) error {
	token := p.client.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	return token.Error()
}

// Close disconnects from the MQTT broker
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
