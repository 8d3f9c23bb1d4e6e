package filter

import (
	"fmt"
	"math"

	"github.com/golang/geo/s2"

	"github.com/flybeeper/runtracker/internal/models"
)

// CoordinateFilter отклоняет координаты вне допустимого диапазона
type CoordinateFilter struct{}

// Check проверяет широту и долготу
func (CoordinateFilter) Check(sample models.GeoSample, _ *models.GeoSample) string {
	if math.IsNaN(sample.Latitude) || math.IsNaN(sample.Longitude) {
		return "coordinates are NaN"
	}
	if !s2.LatLngFromDegrees(sample.Latitude, sample.Longitude).IsValid() {
		return fmt.Sprintf("coordinates out of range: %.6f,%.6f", sample.Latitude, sample.Longitude)
	}
	return ""
}

// Name возвращает имя фильтра
func (CoordinateFilter) Name() string { return "coordinates" }

// NonNegativeFilter отклоняет отрицательные точность и скорость и пустое время
type NonNegativeFilter struct{}

// Check проверяет необязательные поля отсчета
func (NonNegativeFilter) Check(sample models.GeoSample, _ *models.GeoSample) string {
	if sample.Accuracy != nil && (*sample.Accuracy < 0 || math.IsNaN(*sample.Accuracy)) {
		return fmt.Sprintf("negative accuracy: %f", *sample.Accuracy)
	}
	if sample.Speed != nil && (*sample.Speed < 0 || math.IsNaN(*sample.Speed)) {
		return fmt.Sprintf("negative speed: %f", *sample.Speed)
	}
	if sample.Timestamp.IsZero() {
		return "missing timestamp"
	}
	return ""
}

// Name возвращает имя фильтра
func (NonNegativeFilter) Name() string { return "non_negative" }

// OrderFilter отклоняет отсчеты, пришедшие не по порядку времени
type OrderFilter struct{}

// Check сравнивает время с предыдущим принятым отсчетом
func (OrderFilter) Check(sample models.GeoSample, prev *models.GeoSample) string {
	if prev != nil && !sample.Timestamp.After(prev.Timestamp) {
		return fmt.Sprintf("timestamp %s is not after %s",
			sample.Timestamp.Format("15:04:05.000"), prev.Timestamp.Format("15:04:05.000"))
	}
	return ""
}

// Name возвращает имя фильтра
func (OrderFilter) Name() string { return "order" }

// AccuracyFilter отклоняет слишком неточные отсчеты
type AccuracyFilter struct {
	MaxMeters float64
}

// Check сравнивает погрешность с порогом
func (f AccuracyFilter) Check(sample models.GeoSample, _ *models.GeoSample) string {
	if sample.Accuracy != nil && *sample.Accuracy > f.MaxMeters {
		return fmt.Sprintf("accuracy %.1fm exceeds max %.1fm", *sample.Accuracy, f.MaxMeters)
	}
	return ""
}

// Name возвращает имя фильтра
func (AccuracyFilter) Name() string { return "accuracy" }

// SpeedFilter отклоняет "телепортации": скачки со скоростью выше физически возможной
type SpeedFilter struct {
	MaxSpeedKmh float64
}

// Check вычисляет скорость относительно предыдущего принятого отсчета
func (f SpeedFilter) Check(sample models.GeoSample, prev *models.GeoSample) string {
	if prev == nil {
		return ""
	}
	timeDiff := sample.Timestamp.Sub(prev.Timestamp)
	if timeDiff <= 0 {
		return ""
	}
	distance := prev.DistanceTo(sample)
	speed := distance / 1000 / timeDiff.Hours()
	if speed > f.MaxSpeedKmh {
		return fmt.Sprintf("speed %.1f km/h exceeds max %.1f km/h", speed, f.MaxSpeedKmh)
	}
	return ""
}

// Name возвращает имя фильтра
func (SpeedFilter) Name() string { return "speed" }
