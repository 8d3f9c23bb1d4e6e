package filter

import (
	"fmt"

	"github.com/flybeeper/runtracker/internal/models"
)

// SampleFilter проверка одного входящего отсчета.
// prev: последний принятый отсчет или nil для первого.
type SampleFilter interface {
	// Check возвращает причину отклонения или пустую строку
	Check(sample models.GeoSample, prev *models.GeoSample) string

	// Name возвращает имя фильтра
	Name() string
}

// RejectionError отклонение отсчета фильтром
type RejectionError struct {
	Filter string
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %s: %s", models.ErrInvalidSample, e.Filter, e.Reason)
}

// Unwrap позволяет errors.Is(err, models.ErrInvalidSample)
func (e *RejectionError) Unwrap() error {
	return models.ErrInvalidSample
}

// FilterConfig конфигурация валидатора
type FilterConfig struct {
	// Максимальная горизонтальная погрешность (м), 0: без ограничения
	MaxAccuracyMeters float64 `json:"max_accuracy_meters"`

	// Максимальная скорость между соседними отсчетами (км/ч), 0: без ограничения
	MaxSpeedKmh float64 `json:"max_speed_kmh"`

	// Отклонять отсчеты с временем не позже предыдущего
	RejectOutOfOrder bool `json:"reject_out_of_order"`
}

// DefaultFilterConfig возвращает конфигурацию по умолчанию
func DefaultFilterConfig() *FilterConfig {
	return &FilterConfig{
		MaxAccuracyMeters: 0,  // Точность не ограничиваем
		MaxSpeedKmh:       50, // Быстрее 50 км/ч бегун не двигается
		RejectOutOfOrder:  true,
	}
}
