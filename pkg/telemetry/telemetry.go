// Package telemetry initialises the global go-metrics sink from the
// telemetry section of the config file.
package telemetry

import (
	"time"

	"github.com/armon/go-metrics"
	gmprom "github.com/armon/go-metrics/prometheus"
	"github.com/mitchellh/mapstructure"
)

type Config struct {
	ServiceName             string     `mapstructure:"service-name"`
	Enabled                 bool       `mapstructure:"enabled"`
	EnableHostname          bool       `mapstructure:"enable-hostname"`
	EnableHostnameLabel     bool       `mapstructure:"enable-hostname-label"`
	EnableServiceLabel      bool       `mapstructure:"enable-service-label"`
	GlobalLabels            [][]string `mapstructure:"global-labels"`
	PrometheusRetentionTime int64      `mapstructure:"prometheus-retention-time"`
}

// Init decodes the raw telemetry section and installs the global metrics
// sink: always an in-memory sink, plus a Prometheus sink when a retention
// time is configured. It reports whether the Prometheus endpoint should be
// served.
func Init(raw interface{}) (bool, error) {
	var cfg Config
	if err := mapstructure.Decode(raw, &cfg); err != nil {
		return false, err
	}
	if !cfg.Enabled {
		return false, nil
	}

	memSink := metrics.NewInmemSink(10*time.Second, time.Minute)
	metrics.DefaultInmemSignal(memSink)
	sinks := metrics.FanoutSink{memSink}

	prometheusEnabled := cfg.PrometheusRetentionTime > 0
	if prometheusEnabled {
		promSink, err := gmprom.NewPrometheusSinkFrom(gmprom.PrometheusOpts{
			Expiration: time.Duration(cfg.PrometheusRetentionTime) * time.Second,
		})
		if err != nil {
			return false, err
		}
		sinks = append(sinks, promSink)
	}

	mcfg := metrics.DefaultConfig(cfg.ServiceName)
	mcfg.EnableHostname = cfg.EnableHostname
	mcfg.EnableHostnameLabel = cfg.EnableHostnameLabel
	mcfg.EnableServiceLabel = cfg.EnableServiceLabel

	if _, err := metrics.NewGlobal(mcfg, sinks); err != nil {
		return false, err
	}
	return prometheusEnabled, nil
}

// IncrCounter bumps the global counter under the given key path. A no-op
// until Init has installed a sink.
func IncrCounter(val float32, keys ...string) {
	metrics.IncrCounter(keys, val)
}

// MeasureSince records elapsed time since start under the given key path.
func MeasureSince(keys []string, start time.Time) {
	metrics.MeasureSince(keys, start)
}
