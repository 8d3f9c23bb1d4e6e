// Package kinematics вычисляет дистанцию, темп и классификацию движения
// по истории отсчетов. Все функции чистые.
package kinematics

import (
	"time"

	"github.com/paulmach/orb"

	"github.com/flybeeper/runtracker/internal/models"
)

// Haversine расстояние между двумя отсчетами в метрах
func Haversine(a, b models.GeoSample) float64 {
	return a.DistanceTo(b)
}

// TotalDistance сумма расстояний между соседними отсчетами
func TotalDistance(samples []models.GeoSample) float64 {
	var total float64
	for i := 1; i < len(samples); i++ {
		total += Haversine(samples[i-1], samples[i])
	}
	return total
}

// SegmentSpeedKmh скорость на отрезке между двумя отсчетами, 0 при нулевом интервале
func SegmentSpeedKmh(a, b models.GeoSample) float64 {
	dt := b.Timestamp.Sub(a.Timestamp)
	if dt <= 0 {
		return 0
	}
	return Haversine(a, b) / 1000 / dt.Hours()
}

// AverageSpeedKmh средняя скорость по последовательности: путь / время
func AverageSpeedKmh(samples []models.GeoSample) float64 {
	if len(samples) < 2 {
		return 0
	}
	elapsed := samples[len(samples)-1].Timestamp.Sub(samples[0].Timestamp)
	if elapsed <= 0 {
		return 0
	}
	return TotalDistance(samples) / 1000 / elapsed.Hours()
}

// MaxSpeedKmh максимальная скорость по отрезкам и по скорости приемника
func MaxSpeedKmh(samples []models.GeoSample) float64 {
	var maxSpeed float64
	for i, s := range samples {
		if s.Speed != nil && *s.Speed*3.6 > maxSpeed {
			maxSpeed = *s.Speed * 3.6
		}
		if i > 0 {
			if v := SegmentSpeedKmh(samples[i-1], s); v > maxSpeed {
				maxSpeed = v
			}
		}
	}
	return maxSpeed
}

// TrackBounds вычисляет границы трека, nil для пустой последовательности
func TrackBounds(samples []models.GeoSample) *models.Bounds {
	if len(samples) == 0 {
		return nil
	}
	points := make(orb.MultiPoint, len(samples))
	for i, s := range samples {
		points[i] = orb.Point{s.Longitude, s.Latitude}
	}
	bound := points.Bound()
	return &models.Bounds{
		MinLat: bound.Min.Lat(),
		MinLon: bound.Min.Lon(),
		MaxLat: bound.Max.Lat(),
		MaxLon: bound.Max.Lon(),
	}
}

// Engine вычисления над историей с заданными порогами
type Engine struct {
	config *Config
}

// NewEngine создает движок кинематики
func NewEngine(config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{config: config}
}

// Config возвращает конфигурацию движка
func (e *Engine) Config() *Config {
	return e.config
}

// SmoothedPace средний темп (мин/км) по последним PaceWindow отсчетам.
// Темп сегмента вне [MinPace, MaxPace] отбрасывается как шум;
// 0 если не осталось ни одного сегмента.
func (e *Engine) SmoothedPace(samples []models.GeoSample) float64 {
	if len(samples) > e.config.PaceWindow {
		samples = samples[len(samples)-e.config.PaceWindow:]
	}

	var (
		sum   float64
		count int
	)
	for i := 1; i < len(samples); i++ {
		distance := Haversine(samples[i-1], samples[i])
		dt := samples[i].Timestamp.Sub(samples[i-1].Timestamp)
		if distance <= 0 || dt <= 0 {
			continue
		}
		pace := dt.Minutes() / (distance / 1000)
		if pace < e.config.MinPace || pace > e.config.MaxPace {
			continue
		}
		sum += pace
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// ClassifyMotion классифицирует движение по средней скорости
// в окне MotionWindow перед now. Меньше двух отсчетов в окне: стояние.
func (e *Engine) ClassifyMotion(samples []models.GeoSample, now time.Time) (models.MotionState, float64) {
	window := e.windowSamples(samples, now)
	if len(window) < 2 {
		return models.MotionStationary, 0
	}
	speed := AverageSpeedKmh(window)
	return e.Classify(speed), speed
}

// Classify переводит скорость (км/ч) в состояние движения
func (e *Engine) Classify(speedKmh float64) models.MotionState {
	switch {
	case speedKmh < e.config.PauseThresholdKmh:
		return models.MotionStationary
	case speedKmh > e.config.RunningThresholdKmh:
		return models.MotionRunning
	default:
		return models.MotionWalking
	}
}

func (e *Engine) windowSamples(samples []models.GeoSample, now time.Time) []models.GeoSample {
	from := now.Add(-e.config.MotionWindow)
	start := len(samples)
	for start > 0 && !samples[start-1].Timestamp.Before(from) {
		start--
	}
	end := len(samples)
	for end > start && samples[end-1].Timestamp.After(now) {
		end--
	}
	return samples[start:end]
}
