package models

import (
	"fmt"
	"math"
	"time"

	"github.com/mmcloughlin/geohash"
)

// EarthRadiusMeters средний радиус Земли для формулы Haversine
const EarthRadiusMeters = 6371000.0

// GeoSample представляет один отсчет геолокации (fix).
// После создания не изменяется; принадлежит буферу истории, в который добавлен.
type GeoSample struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Altitude  *float64  `json:"alt,omitempty"`      // Высота (м)
	Accuracy  *float64  `json:"accuracy,omitempty"` // Горизонтальная точность (м)
	Speed     *float64  `json:"speed,omitempty"`    // Скорость от приемника (м/с)
	Timestamp time.Time `json:"timestamp"`
}

// NewGeoSample создает отсчет только с координатами и временем
func NewGeoSample(lat, lon float64, ts time.Time) GeoSample {
	return GeoSample{Latitude: lat, Longitude: lon, Timestamp: ts}
}

// WithAccuracy возвращает копию отсчета с заданной точностью
func (s GeoSample) WithAccuracy(meters float64) GeoSample {
	s.Accuracy = &meters
	return s
}

// WithSpeed возвращает копию отсчета с заданной скоростью (м/с)
func (s GeoSample) WithSpeed(mps float64) GeoSample {
	s.Speed = &mps
	return s
}

// WithAltitude возвращает копию отсчета с заданной высотой
func (s GeoSample) WithAltitude(meters float64) GeoSample {
	s.Altitude = &meters
	return s
}

// Validate проверяет физическую корректность отсчета
func (s GeoSample) Validate() error {
	if math.IsNaN(s.Latitude) || s.Latitude < -90 || s.Latitude > 90 {
		return fmt.Errorf("invalid latitude: %f", s.Latitude)
	}
	if math.IsNaN(s.Longitude) || s.Longitude < -180 || s.Longitude > 180 {
		return fmt.Errorf("invalid longitude: %f", s.Longitude)
	}
	if s.Accuracy != nil && (*s.Accuracy < 0 || math.IsNaN(*s.Accuracy)) {
		return fmt.Errorf("invalid accuracy: %f", *s.Accuracy)
	}
	if s.Speed != nil && (*s.Speed < 0 || math.IsNaN(*s.Speed)) {
		return fmt.Errorf("invalid speed: %f", *s.Speed)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp")
	}
	return nil
}

// DistanceTo вычисляет расстояние до другого отсчета в метрах (формула Haversine)
func (s GeoSample) DistanceTo(other GeoSample) float64 {
	lat1Rad := s.Latitude * math.Pi / 180
	lat2Rad := other.Latitude * math.Pi / 180
	deltaLat := (other.Latitude - s.Latitude) * math.Pi / 180
	deltaLon := (other.Longitude - s.Longitude) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// Geohash возвращает geohash для отсчета с заданной точностью
func (s GeoSample) Geohash(precision int) string {
	return geohash.EncodeWithPrecision(s.Latitude, s.Longitude, uint(precision))
}

// Bounds представляет географические границы трека
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}
