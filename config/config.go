package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	defaultListenAddr       = "0.0.0.0:7171"
	defaultSrvWriteTimeout  = 15 * time.Second
	defaultSrvReadTimeout   = 15 * time.Second
	defaultHistoryDb        = "mandi.db"
	defaultMarketplace      = "www.amazon.in"
	defaultAPIHost          = "webservices.amazon.in"
	defaultAPIRegion        = "eu-west-1"
	defaultSearchIndex      = "Electronics"
	defaultDailyAt          = "09:00"
	defaultWakeStart        = "08:00"
	defaultWakeEnd          = "23:00"
	defaultRealtimeInterval = 10 * time.Minute
	defaultJobTimeout       = 120 * time.Second
	defaultWorkers          = 8
	defaultTimezone         = "Asia/Kolkata"

	// Environment keys for secrets; these never live in the TOML file.
	EnvBotToken     = "MANDI_BOT_TOKEN"
	EnvAPIAccessKey = "PAAPI_ACCESS_KEY"
	EnvAPISecretKey = "PAAPI_SECRET_KEY"
	EnvAffiliateTag = "AFFILIATE_TAG"
	EnvAdminUser    = "ADMIN_USER"
	EnvAdminPass    = "ADMIN_PASS"
	EnvSentryDSN    = "SENTRY_DSN"
	EnvTimezone     = "MANDI_TIMEZONE"
)

var (
	validate = validator.New()

	// ErrEmptyConfigPath defines a sentinel error for an empty config path.
	ErrEmptyConfigPath = errors.New("empty configuration file path")

	clockRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
)

type (
	// Config defines all necessary mandi-monitor configuration parameters.
	Config struct {
		Server       Server      `toml:"server"`
		Marketplace  Marketplace `toml:"marketplace"`
		Scheduler    Scheduler   `toml:"scheduler"`
		Telemetry    Telemetry   `toml:"telemetry"`
		HistoryDb    string      `toml:"history_db"`
		EnableServer bool        `toml:"enable_server"`

		// Secrets, overlaid from the environment by ParseConfig.
		BotToken     string `toml:"-"`
		APIAccessKey string `toml:"-"`
		APISecretKey string `toml:"-"`
		AffiliateTag string `toml:"-"`
		AdminUser    string `toml:"-"`
		AdminPass    string `toml:"-"`
		SentryDSN    string `toml:"-"`
	}

	// Server defines the admin API server configuration.
	Server struct {
		ListenAddr     string   `toml:"listen_addr"`
		WriteTimeout   string   `toml:"write_timeout"`
		ReadTimeout    string   `toml:"read_timeout"`
		AllowedOrigins []string `toml:"allowed_origins"`
	}

	// Marketplace defines the vendor endpoints and the default search scope.
	Marketplace struct {
		Host        string `toml:"host"`       // storefront, also the affiliate link host
		APIHost     string `toml:"api_host"`   // product advertising API endpoint
		APIRegion   string `toml:"api_region"` // signing region for the API host
		SearchIndex string `toml:"search_index"`
	}

	// Scheduler defines the firing times for the two job families. Clock
	// values are "HH:MM" in the configured timezone.
	Scheduler struct {
		DailyAt          string `toml:"daily_at"`
		WakeStart        string `toml:"wake_start"`
		WakeEnd          string `toml:"wake_end"`
		RealtimeInterval string `toml:"realtime_interval"`
		JobTimeout       string `toml:"job_timeout"`
		Workers          int    `toml:"workers"`
		Timezone         string `toml:"timezone"`
	}

	// Telemetry defines the configuration options for application telemetry.
	Telemetry struct {
		ServiceName string `toml:"service_name" mapstructure:"service-name"`

		// Enabled enables the application telemetry functionality. When
		// enabled, an in-memory sink is also enabled by default. Operators
		// may also enable other sinks such as Prometheus.
		Enabled bool `toml:"enabled" mapstructure:"enabled"`

		EnableHostname bool `toml:"enable_hostname" mapstructure:"enable-hostname"`

		EnableHostnameLabel bool `toml:"enable_hostname_label" mapstructure:"enable-hostname-label"`

		EnableServiceLabel bool `toml:"enable_service_label" mapstructure:"enable-service-label"`

		GlobalLabels [][]string `toml:"global_labels" mapstructure:"global-labels"`

		// PrometheusRetentionTime, when positive, enables a Prometheus
		// metrics sink. It defines the retention duration in seconds.
		PrometheusRetentionTime int64 `toml:"prometheus_retention" mapstructure:"prometheus-retention-time"`
	}
)

// telemetryValidation is custom validation for the Telemetry struct.
func telemetryValidation(sl validator.StructLevel) {
	tel := sl.Current().Interface().(Telemetry)

	if tel.Enabled && len(tel.ServiceName) == 0 {
		sl.ReportError(tel.Enabled, "enabled", "Enabled", "enabledNoOptions", "")
	}
}

// schedulerValidation is custom validation for the Scheduler struct.
func schedulerValidation(sl validator.StructLevel) {
	sch := sl.Current().Interface().(Scheduler)

	for field, v := range map[string]string{
		"DailyAt":   sch.DailyAt,
		"WakeStart": sch.WakeStart,
		"WakeEnd":   sch.WakeEnd,
	} {
		if !clockRe.MatchString(v) {
			sl.ReportError(v, field, field, "clockFormat", "")
		}
	}
	if clockRe.MatchString(sch.WakeStart) && clockRe.MatchString(sch.WakeEnd) && sch.WakeStart >= sch.WakeEnd {
		sl.ReportError(sch.WakeStart, "WakeStart", "WakeStart", "wakeWindowInverted", "")
	}
	if _, err := time.ParseDuration(sch.RealtimeInterval); err != nil {
		sl.ReportError(sch.RealtimeInterval, "RealtimeInterval", "RealtimeInterval", "duration", "")
	}
	if _, err := time.ParseDuration(sch.JobTimeout); err != nil {
		sl.ReportError(sch.JobTimeout, "JobTimeout", "JobTimeout", "duration", "")
	}
	if _, err := time.LoadLocation(sch.Timezone); err != nil {
		sl.ReportError(sch.Timezone, "Timezone", "Timezone", "timezone", "")
	}
}

// Validate returns an error if the Config object is invalid.
func (c Config) Validate() error {
	validate.RegisterStructValidation(telemetryValidation, Telemetry{})
	validate.RegisterStructValidation(schedulerValidation, Scheduler{})
	return validate.Struct(c)
}

// Location resolves the scheduler timezone; Validate has already checked it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseConfig attempts to read and parse configuration from the given file
// path, fills defaults and overlays secrets from the environment. An error
// is returned if reading or parsing the config fails.
func ParseConfig(configPath string) (Config, error) {
	var cfg Config

	if configPath == "" {
		return cfg, ErrEmptyConfigPath
	}

	configData, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if _, err := toml.Decode(string(configData), &cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = defaultListenAddr
	}
	if len(cfg.Server.WriteTimeout) == 0 {
		cfg.Server.WriteTimeout = defaultSrvWriteTimeout.String()
	}
	if len(cfg.Server.ReadTimeout) == 0 {
		cfg.Server.ReadTimeout = defaultSrvReadTimeout.String()
	}
	if cfg.HistoryDb == "" {
		cfg.HistoryDb = defaultHistoryDb
	}
	if cfg.Marketplace.Host == "" {
		cfg.Marketplace.Host = defaultMarketplace
	}
	if cfg.Marketplace.APIHost == "" {
		cfg.Marketplace.APIHost = defaultAPIHost
	}
	if cfg.Marketplace.APIRegion == "" {
		cfg.Marketplace.APIRegion = defaultAPIRegion
	}
	if cfg.Marketplace.SearchIndex == "" {
		cfg.Marketplace.SearchIndex = defaultSearchIndex
	}
	if cfg.Scheduler.DailyAt == "" {
		cfg.Scheduler.DailyAt = defaultDailyAt
	}
	if cfg.Scheduler.WakeStart == "" {
		cfg.Scheduler.WakeStart = defaultWakeStart
	}
	if cfg.Scheduler.WakeEnd == "" {
		cfg.Scheduler.WakeEnd = defaultWakeEnd
	}
	if cfg.Scheduler.RealtimeInterval == "" {
		cfg.Scheduler.RealtimeInterval = defaultRealtimeInterval.String()
	}
	if cfg.Scheduler.JobTimeout == "" {
		cfg.Scheduler.JobTimeout = defaultJobTimeout.String()
	}
	if cfg.Scheduler.Workers == 0 {
		cfg.Scheduler.Workers = defaultWorkers
	}
	if cfg.Scheduler.Timezone == "" {
		cfg.Scheduler.Timezone = defaultTimezone
	}
	if tz := os.Getenv(EnvTimezone); tz != "" {
		cfg.Scheduler.Timezone = tz
	}

	cfg.BotToken = os.Getenv(EnvBotToken)
	cfg.APIAccessKey = os.Getenv(EnvAPIAccessKey)
	cfg.APISecretKey = os.Getenv(EnvAPISecretKey)
	cfg.AffiliateTag = os.Getenv(EnvAffiliateTag)
	cfg.AdminUser = os.Getenv(EnvAdminUser)
	cfg.AdminPass = os.Getenv(EnvAdminPass)
	cfg.SentryDSN = os.Getenv(EnvSentryDSN)

	return cfg, cfg.Validate()
}
