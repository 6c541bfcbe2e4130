package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarforecast_provider_calls_total",
			Help: "Total monitoring provider API calls",
		},
		[]string{"provider", "endpoint", "status"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solarforecast_provider_latency_seconds",
			Help:    "Monitoring provider API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "endpoint"},
	)

	ForecastRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarforecast_runs_total",
			Help: "Total forecast computations by outcome",
		},
		[]string{"status"},
	)

	ForecastCoverage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "solarforecast_history_coverage_ratio",
			Help: "Share of calendar months backed by production history in the last forecast",
		},
		[]string{"site"},
	)

	PublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarforecast_mqtt_publish_total",
			Help: "Total MQTT sensor publishes by outcome",
		},
		[]string{"status"},
	)
)
