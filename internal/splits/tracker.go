// Package splits отслеживает километровые отрезки по накопленной дистанции.
package splits

import (
	"time"

	"github.com/flybeeper/runtracker/internal/models"
)

// HalfKilometer отметка середины текущего открытого отрезка
type HalfKilometer struct {
	SplitNumber int       `json:"split_number"` // Номер открытого отрезка
	Distance    float64   `json:"distance"`     // Дистанция пробежки на момент события (м)
	At          time.Time `json:"at"`
}

// Result события одного обновления дистанции
type Result struct {
	Splits         []models.Split
	HalfKilometers []HalfKilometer
}

// IsEmpty проверяет, что обновление не породило событий
func (r Result) IsEmpty() bool {
	return len(r.Splits) == 0 && len(r.HalfKilometers) == 0
}

// Tracker курсор по накопленной дистанции.
// Отрезки нумеруются с 1, только добавляются и никогда не пересматриваются.
// Незавершенный хвост не материализуется.
type Tracker struct {
	splitDistance float64
	splits        []models.Split

	// Граница последнего закрытого отрезка
	boundaryDistance float64
	boundaryDuration float64

	// Последнее обновление
	distance float64
	duration float64
	at       time.Time

	halfEmitted bool
}

// NewTracker создает трекер километровых отрезков
func NewTracker() *Tracker {
	return NewTrackerWithDistance(models.SplitDistanceMeters)
}

// NewTrackerWithDistance создает трекер с произвольной длиной отрезка
func NewTrackerWithDistance(splitDistance float64) *Tracker {
	if splitDistance <= 0 {
		splitDistance = models.SplitDistanceMeters
	}
	return &Tracker{splitDistance: splitDistance}
}

// Update продвигает курсор до distance (м) при активном времени duration (с).
// Закрывает все пересеченные границы; момент пересечения интерполируется
// линейно внутри последнего сегмента.
func (t *Tracker) Update(distance, duration float64, at time.Time) Result {
	var result Result
	if distance < t.distance {
		return result
	}

	for distance-t.boundaryDistance >= t.splitDistance {
		boundary := t.boundaryDistance + t.splitDistance

		frac := 1.0
		if span := distance - t.distance; span > 0 {
			frac = (boundary - t.distance) / span
		}
		boundaryDuration := t.duration + frac*(duration-t.duration)
		boundaryAt := at
		if !t.at.IsZero() {
			boundaryAt = t.at.Add(time.Duration(frac * float64(at.Sub(t.at))))
		}

		splitDuration := boundaryDuration - t.boundaryDuration
		split := models.Split{
			Number:      len(t.splits) + 1,
			Distance:    t.splitDistance,
			Duration:    splitDuration,
			Pace:        models.AveragePace(t.splitDistance, splitDuration),
			CompletedAt: boundaryAt,
		}
		t.splits = append(t.splits, split)
		result.Splits = append(result.Splits, split)

		t.boundaryDistance = boundary
		t.boundaryDuration = boundaryDuration
		t.halfEmitted = false
	}

	if !t.halfEmitted && distance-t.boundaryDistance >= t.splitDistance/2 {
		t.halfEmitted = true
		result.HalfKilometers = append(result.HalfKilometers, HalfKilometer{
			SplitNumber: len(t.splits) + 1,
			Distance:    distance,
			At:          at,
		})
	}

	t.distance = distance
	t.duration = duration
	t.at = at
	return result
}

// Splits возвращает копию закрытых отрезков
func (t *Tracker) Splits() []models.Split {
	return append([]models.Split(nil), t.splits...)
}

// Count возвращает количество закрытых отрезков
func (t *Tracker) Count() int {
	return len(t.splits)
}

// Remaining возвращает длину незавершенного хвоста (м)
func (t *Tracker) Remaining() float64 {
	return t.distance - t.boundaryDistance
}

// Restore восстанавливает курсор по ранее сохраненным отрезкам
func (t *Tracker) Restore(splits []models.Split, distance, duration float64, at time.Time) {
	t.Reset()
	t.splits = append(t.splits, splits...)
	t.boundaryDistance = float64(len(splits)) * t.splitDistance
	for _, s := range splits {
		t.boundaryDuration += s.Duration
	}
	if distance < t.boundaryDistance {
		distance = t.boundaryDistance
	}
	t.distance = distance
	t.duration = duration
	t.at = at
	t.halfEmitted = distance-t.boundaryDistance >= t.splitDistance/2
}

// Reset сбрасывает трекер для новой пробежки
func (t *Tracker) Reset() {
	*t = Tracker{splitDistance: t.splitDistance}
}
