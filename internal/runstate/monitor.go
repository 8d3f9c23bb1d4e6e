package runstate

import (
	"time"

	"github.com/flybeeper/runtracker/internal/models"
)

// MonitorConfig параметры автопаузы
type MonitorConfig struct {
	// Включена ли автопауза
	Enabled bool `json:"enabled"`

	// Сколько стояние должно длиться непрерывно до автопаузы
	PauseDelay time.Duration `json:"pause_delay"`

	// Сколько движение должно длиться непрерывно до автовозобновления
	ResumeDelay time.Duration `json:"resume_delay"`

	// Минимальная скорость (км/ч) для автовозобновления
	ResumeThresholdKmh float64 `json:"resume_threshold_kmh"`
}

// DefaultMonitorConfig возвращает конфигурацию по умолчанию
func DefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		Enabled:            true,
		PauseDelay:         30 * time.Second,
		ResumeDelay:        5 * time.Second,
		ResumeThresholdKmh: 1.0,
	}
}

// MotionMonitor превращает поток классификаций движения в команды
// автопаузы и автовозобновления. Любое противоположное наблюдение
// сбрасывает отсчет.
type MotionMonitor struct {
	config *MonitorConfig

	stationarySince time.Time
	movingSince     time.Time
}

// NewMotionMonitor создает монитор движения
func NewMotionMonitor(config *MonitorConfig) *MotionMonitor {
	if config == nil {
		config = DefaultMonitorConfig()
	}
	return &MotionMonitor{config: config}
}

// Config возвращает конфигурацию монитора
func (m *MotionMonitor) Config() *MonitorConfig {
	return m.config
}

// SetEnabled включает или выключает автопаузу
func (m *MotionMonitor) SetEnabled(enabled bool) {
	m.config.Enabled = enabled
	m.Reset()
}

// Observe учитывает очередную классификацию и возвращает команду,
// если условие выполнено непрерывно достаточно долго
func (m *MotionMonitor) Observe(state models.MotionState, speedKmh float64, status models.RunStatus, now time.Time) (Event, bool) {
	if !m.config.Enabled {
		m.Reset()
		return "", false
	}

	switch status {
	case models.RunStatusActive:
		m.movingSince = time.Time{}
		if state != models.MotionStationary {
			m.stationarySince = time.Time{}
			return "", false
		}
		if m.stationarySince.IsZero() {
			m.stationarySince = now
		}
		if now.Sub(m.stationarySince) >= m.config.PauseDelay {
			m.stationarySince = time.Time{}
			return EventPause, true
		}

	case models.RunStatusPaused:
		m.stationarySince = time.Time{}
		if !state.IsMoving() || speedKmh < m.config.ResumeThresholdKmh {
			m.movingSince = time.Time{}
			return "", false
		}
		if m.movingSince.IsZero() {
			m.movingSince = now
		}
		if now.Sub(m.movingSince) >= m.config.ResumeDelay {
			m.movingSince = time.Time{}
			return EventResume, true
		}

	default:
		m.Reset()
	}

	return "", false
}

// Reset сбрасывает отсчеты
func (m *MotionMonitor) Reset() {
	m.stationarySince = time.Time{}
	m.movingSince = time.Time{}
}
