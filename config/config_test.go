package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"mandi-monitor/config"
)

func validConfig() config.Config {
	return config.Config{
		Server: config.Server{
			ListenAddr:   "0.0.0.0:7171",
			WriteTimeout: "15s",
			ReadTimeout:  "15s",
		},
		Marketplace: config.Marketplace{
			Host:        "www.amazon.in",
			APIHost:     "webservices.amazon.in",
			APIRegion:   "eu-west-1",
			SearchIndex: "Electronics",
		},
		Scheduler: config.Scheduler{
			DailyAt:          "09:00",
			WakeStart:        "08:00",
			WakeEnd:          "23:00",
			RealtimeInterval: "10m",
			JobTimeout:       "120s",
			Workers:          8,
			Timezone:         "Asia/Kolkata",
		},
		Telemetry: config.Telemetry{
			ServiceName:             "mandi-monitor",
			Enabled:                 true,
			EnableHostname:          true,
			PrometheusRetentionTime: 120,
		},
		HistoryDb: "mandi.db",
	}
}

func TestValidate(t *testing.T) {
	badClock := validConfig()
	badClock.Scheduler.DailyAt = "25:00"

	invertedWindow := validConfig()
	invertedWindow.Scheduler.WakeStart = "23:00"
	invertedWindow.Scheduler.WakeEnd = "08:00"

	badInterval := validConfig()
	badInterval.Scheduler.RealtimeInterval = "soon"

	badTimezone := validConfig()
	badTimezone.Scheduler.Timezone = "Mars/Olympus"

	telemetryNoName := validConfig()
	telemetryNoName.Telemetry.ServiceName = ""

	testCases := []struct {
		name      string
		cfg       config.Config
		expectErr bool
	}{
		{"valid config", validConfig(), false},
		{"bad clock", badClock, true},
		{"inverted wake window", invertedWindow, true},
		{"bad realtime interval", badInterval, true},
		{"bad timezone", badTimezone, true},
		{"telemetry enabled without service name", telemetryNoName, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.cfg.Validate() != nil, tc.expectErr)
		})
	}
}

func TestParseConfig_Valid(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "mandi-monitor.toml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	content := []byte(`
history_db = "watch.db"
enable_server = true

[server]
listen_addr = "0.0.0.0:9999"
read_timeout = "20s"
write_timeout = "20s"

[marketplace]
host = "www.amazon.in"
search_index = "Electronics"

[scheduler]
daily_at = "10:30"
realtime_interval = "5m"

[telemetry]
service_name = "mandi-monitor"
enabled = true
prometheus_retention = 120
`)
	_, err = tmpFile.Write(content)
	require.NoError(t, err)

	cfg, err := config.ParseConfig(tmpFile.Name())
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:9999", cfg.Server.ListenAddr)
	require.Equal(t, "20s", cfg.Server.WriteTimeout)
	require.Equal(t, "watch.db", cfg.HistoryDb)
	require.True(t, cfg.EnableServer)
	require.Equal(t, "10:30", cfg.Scheduler.DailyAt)
	require.Equal(t, "5m", cfg.Scheduler.RealtimeInterval)

	// Untouched fields pick up defaults.
	require.Equal(t, "webservices.amazon.in", cfg.Marketplace.APIHost)
	require.Equal(t, "eu-west-1", cfg.Marketplace.APIRegion)
	require.Equal(t, "08:00", cfg.Scheduler.WakeStart)
	require.Equal(t, "23:00", cfg.Scheduler.WakeEnd)
	require.Equal(t, 8, cfg.Scheduler.Workers)
	require.Equal(t, "Asia/Kolkata", cfg.Scheduler.Timezone)
}

func TestParseConfig_Defaults(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "mandi-monitor.toml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	cfg, err := config.ParseConfig(tmpFile.Name())
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:7171", cfg.Server.ListenAddr)
	require.Equal(t, "mandi.db", cfg.HistoryDb)
	require.Equal(t, "www.amazon.in", cfg.Marketplace.Host)
	require.Equal(t, "09:00", cfg.Scheduler.DailyAt)
	require.Equal(t, "10m0s", cfg.Scheduler.RealtimeInterval)
	require.Equal(t, "2m0s", cfg.Scheduler.JobTimeout)
	require.False(t, cfg.Telemetry.Enabled)
}

func TestParseConfig_InvalidClock(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "mandi-monitor.toml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	_, err = tmpFile.Write([]byte(`
[scheduler]
daily_at = "9am"
`))
	require.NoError(t, err)

	_, err = config.ParseConfig(tmpFile.Name())
	require.Error(t, err)
}

func TestParseConfig_EnvOverlay(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "mandi-monitor.toml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	t.Setenv(config.EnvAffiliateTag, "mandi-21")
	t.Setenv(config.EnvAdminUser, "admin")
	t.Setenv(config.EnvTimezone, "UTC")

	cfg, err := config.ParseConfig(tmpFile.Name())
	require.NoError(t, err)
	require.Equal(t, "mandi-21", cfg.AffiliateTag)
	require.Equal(t, "admin", cfg.AdminUser)
	require.Equal(t, "UTC", cfg.Scheduler.Timezone)
}

func TestParseConfig_EmptyPath(t *testing.T) {
	_, err := config.ParseConfig("")
	require.ErrorIs(t, err, config.ErrEmptyConfigPath)
}
