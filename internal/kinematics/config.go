package kinematics

import (
	"fmt"
	"time"
)

// Config параметры вычисления кинематики
type Config struct {
	// Средняя скорость ниже порога (км/ч) считается стоянием
	PauseThresholdKmh float64 `json:"pause_threshold_kmh"`

	// Скорость выше порога (км/ч) считается бегом
	RunningThresholdKmh float64 `json:"running_threshold_kmh"`

	// Окно классификации движения
	MotionWindow time.Duration `json:"motion_window"`

	// Количество последних отсчетов для сглаженного темпа
	PaceWindow int `json:"pace_window"`

	// Допустимый диапазон темпа сегмента (мин/км), остальное считается шумом
	MinPace float64 `json:"min_pace"`
	MaxPace float64 `json:"max_pace"`

	// Максимальный размер истории отсчетов
	HistoryCap int `json:"history_cap"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		PauseThresholdKmh:   1.0,
		RunningThresholdKmh: 6.0,
		MotionWindow:        30 * time.Second,
		PaceWindow:          10,
		MinPace:             2.0,
		MaxPace:             20.0,
		HistoryCap:          10000,
	}
}

// Validate проверяет согласованность порогов
func (c *Config) Validate() error {
	if c.PauseThresholdKmh < 0 {
		return fmt.Errorf("pause threshold must not be negative: %f", c.PauseThresholdKmh)
	}
	if c.RunningThresholdKmh < c.PauseThresholdKmh {
		return fmt.Errorf("running threshold %.2f is below pause threshold %.2f",
			c.RunningThresholdKmh, c.PauseThresholdKmh)
	}
	if c.MotionWindow <= 0 {
		return fmt.Errorf("motion window must be positive")
	}
	if c.PaceWindow < 2 {
		return fmt.Errorf("pace window must hold at least 2 samples, got %d", c.PaceWindow)
	}
	if c.MinPace >= c.MaxPace {
		return fmt.Errorf("min pace %.2f must be below max pace %.2f", c.MinPace, c.MaxPace)
	}
	if c.HistoryCap < 2 {
		return fmt.Errorf("history cap must be at least 2, got %d", c.HistoryCap)
	}
	return nil
}
