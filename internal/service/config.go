package service

import (
	"fmt"
	"time"

	"github.com/flybeeper/runtracker/internal/config"
	"github.com/flybeeper/runtracker/internal/filter"
	"github.com/flybeeper/runtracker/internal/kinematics"
	"github.com/flybeeper/runtracker/internal/models"
	"github.com/flybeeper/runtracker/internal/recovery"
	"github.com/flybeeper/runtracker/internal/runstate"
)

// Config конфигурация движка пробежки
type Config struct {
	// Автопауза
	AutoPauseEnabled   bool          `json:"auto_pause_enabled"`
	PauseThresholdKmh  float64       `json:"pause_threshold_kmh"`
	ResumeThresholdKmh float64       `json:"resume_threshold_kmh"`
	PauseDelay         time.Duration `json:"pause_delay"`
	ResumeDelay        time.Duration `json:"resume_delay"`

	// Периодические задачи
	MetricsInterval time.Duration `json:"metrics_interval"`
	MotionInterval  time.Duration `json:"motion_interval"`
	FlushInterval   time.Duration `json:"flush_interval"`

	// Энергосбережение: интервал метрик умножается на LowPowerFactor,
	// отсчеты принимаются не чаще LowPowerSampleInterval
	LowPowerFactor         int           `json:"low_power_factor"`
	LowPowerSampleInterval time.Duration `json:"low_power_sample_interval"`

	SignalTimeout     time.Duration `json:"signal_timeout"`
	StaleThreshold    time.Duration `json:"stale_threshold"`
	MaxBufferedWrites int           `json:"max_buffered_writes"`
	HistoryCap        int           `json:"history_cap"`
	IOTimeout         time.Duration `json:"io_timeout"`

	Filter              *filter.FilterConfig `json:"filter"`
	Strategies          []recovery.Strategy  `json:"-"`
	RecoveryHistorySize int                  `json:"recovery_history_size"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		AutoPauseEnabled:       true,
		PauseThresholdKmh:      1.0,
		ResumeThresholdKmh:     1.0,
		PauseDelay:             30 * time.Second,
		ResumeDelay:            5 * time.Second,
		MetricsInterval:        time.Second,
		MotionInterval:         5 * time.Second,
		FlushInterval:          10 * time.Second,
		LowPowerFactor:         5,
		LowPowerSampleInterval: 5 * time.Second,
		SignalTimeout:          20 * time.Second,
		StaleThreshold:         5 * time.Minute,
		MaxBufferedWrites:      50000,
		HistoryCap:             10000,
		IOTimeout:              5 * time.Second,
		Filter:                 filter.DefaultFilterConfig(),
		Strategies:             recovery.DefaultStrategies(),
		RecoveryHistorySize:    recovery.DefaultHistorySize,
	}
}

// ConfigFromApp собирает конфигурацию движка из конфигурации приложения
func ConfigFromApp(cfg *config.Config) *Config {
	t := cfg.Tracking
	c := &Config{
		AutoPauseEnabled:       t.AutoPauseEnabled,
		PauseThresholdKmh:      t.PauseThresholdKmh,
		ResumeThresholdKmh:     t.ResumeThresholdKmh,
		PauseDelay:             t.PauseDelay,
		ResumeDelay:            t.ResumeDelay,
		MetricsInterval:        t.MetricsInterval,
		MotionInterval:         t.MotionInterval,
		FlushInterval:          t.FlushInterval,
		LowPowerFactor:         t.LowPowerFactor,
		LowPowerSampleInterval: t.LowPowerSampleInterval,
		SignalTimeout:          t.SignalTimeout,
		StaleThreshold:         t.StaleThreshold,
		MaxBufferedWrites:      t.MaxBufferedWrites,
		HistoryCap:             t.HistoryCap,
		IOTimeout:              5 * time.Second,
		Filter: &filter.FilterConfig{
			MaxAccuracyMeters: t.MaxAccuracyMeters,
			MaxSpeedKmh:       t.MaxSpeedKmh,
			RejectOutOfOrder:  true,
		},
		RecoveryHistorySize: cfg.Recovery.HistorySize,
	}

	policies := map[models.ErrorKind]config.RetryPolicy{
		models.ErrorKindSignalLost:            cfg.Recovery.SignalLost,
		models.ErrorKindPersistenceFailure:    cfg.Recovery.Persistence,
		models.ErrorKindDependencyUnavailable: cfg.Recovery.DependencyUnavailable,
	}
	for _, s := range recovery.DefaultStrategies() {
		if p, ok := policies[s.Kind]; ok {
			s.MaxRetries = p.MaxRetries
			s.BaseDelay = p.BaseDelay
		}
		c.Strategies = append(c.Strategies, s)
	}
	return c
}

// Validate проверяет согласованность параметров
func (c *Config) Validate() error {
	if c.PauseThresholdKmh < 0 || c.ResumeThresholdKmh < 0 {
		return fmt.Errorf("motion thresholds must not be negative")
	}
	if c.PauseDelay <= 0 || c.ResumeDelay <= 0 {
		return fmt.Errorf("auto-pause delays must be positive")
	}
	if c.MetricsInterval <= 0 || c.MotionInterval <= 0 || c.FlushInterval <= 0 {
		return fmt.Errorf("tick intervals must be positive")
	}
	if c.LowPowerFactor < 1 {
		return fmt.Errorf("low power factor must be at least 1, got %d", c.LowPowerFactor)
	}
	if c.HistoryCap < 2 {
		return fmt.Errorf("history cap must be at least 2, got %d", c.HistoryCap)
	}
	return nil
}

func (c *Config) kinematicsConfig() *kinematics.Config {
	k := kinematics.DefaultConfig()
	k.PauseThresholdKmh = c.PauseThresholdKmh
	k.HistoryCap = c.HistoryCap
	if k.RunningThresholdKmh < k.PauseThresholdKmh {
		k.RunningThresholdKmh = k.PauseThresholdKmh
	}
	return k
}

func (c *Config) monitorConfig() *runstate.MonitorConfig {
	return &runstate.MonitorConfig{
		Enabled:            c.AutoPauseEnabled,
		PauseDelay:         c.PauseDelay,
		ResumeDelay:        c.ResumeDelay,
		ResumeThresholdKmh: c.ResumeThresholdKmh,
	}
}
