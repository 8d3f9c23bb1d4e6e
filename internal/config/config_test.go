package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.True(t, cfg.Tracking.AutoPauseEnabled)
	assert.Equal(t, 30*time.Second, cfg.Tracking.PauseDelay)
	assert.Equal(t, 5*time.Second, cfg.Tracking.ResumeDelay)
	assert.Equal(t, time.Second, cfg.Tracking.MetricsInterval)
	assert.Equal(t, 5*time.Second, cfg.Tracking.MotionInterval)
	assert.Equal(t, 10*time.Second, cfg.Tracking.FlushInterval)
	assert.Equal(t, 5*time.Minute, cfg.Tracking.StaleThreshold)
	assert.Equal(t, 10000, cfg.Tracking.HistoryCap)
	assert.Equal(t, 100, cfg.Recovery.HistorySize)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mysql")
	t.Setenv("STORE_DSN", "runner:secret@tcp(localhost:3306)/runs?parseTime=true")
	t.Setenv("PAUSE_THRESHOLD_KMH", "1.5")
	t.Setenv("AUTO_PAUSE_ENABLED", "false")
	t.Setenv("PAUSE_DELAY", "45s")
	t.Setenv("RECOVERY_SIGNAL_MAX_RETRIES", "7")
	t.Setenv("CORS_ORIGINS", "https://app.example.com, https://admin.example.com")
	t.Setenv("MQTT_QOS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Store.Driver)
	assert.Equal(t, 1.5, cfg.Tracking.PauseThresholdKmh)
	assert.False(t, cfg.Tracking.AutoPauseEnabled)
	assert.Equal(t, 45*time.Second, cfg.Tracking.PauseDelay)
	assert.Equal(t, 7, cfg.Recovery.SignalLost.MaxRetries)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.Server.CORSOrigins)
	// Некорректное значение заменяется значением по умолчанию
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"UnknownDriver", func(c *Config) { c.Store.Driver = "postgres" }},
		{"EmptyDSN", func(c *Config) { c.Store.DSN = "" }},
		{"NegativeThreshold", func(c *Config) { c.Tracking.PauseThresholdKmh = -1 }},
		{"ZeroFlushInterval", func(c *Config) { c.Tracking.FlushInterval = 0 }},
		{"LowPowerFactor", func(c *Config) { c.Tracking.LowPowerFactor = 0 }},
		{"GeohashPrecision", func(c *Config) { c.Tracking.GeohashPrecision = 13 }},
		{"RecoveryPolicy", func(c *Config) { c.Recovery.Persistence.BaseDelay = 0 }},
		{"MQTTWithoutURL", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.URL = "" }},
		{"InvalidQoS", func(c *Config) { c.MQTT.QoS = 3 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
