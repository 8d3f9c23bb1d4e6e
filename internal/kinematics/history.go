package kinematics

import (
	"time"

	"github.com/flybeeper/runtracker/internal/models"
)

// History упорядоченный по времени буфер отсчетов ограниченного размера.
// При переполнении вытесняются самые старые отсчеты.
type History struct {
	samples []models.GeoSample
	cap     int
}

// NewHistory создает буфер на capacity отсчетов
func NewHistory(capacity int) *History {
	if capacity < 2 {
		capacity = 2
	}
	return &History{
		samples: make([]models.GeoSample, 0, min(capacity, 1024)),
		cap:     capacity,
	}
}

// Append добавляет отсчет и возвращает true, если был вытеснен старейший
func (h *History) Append(sample models.GeoSample) bool {
	h.samples = append(h.samples, sample)
	if len(h.samples) > h.cap {
		h.samples[0] = models.GeoSample{}
		h.samples = h.samples[1:]
		return true
	}
	return false
}

// Len возвращает количество отсчетов
func (h *History) Len() int {
	return len(h.samples)
}

// Last возвращает последний отсчет
func (h *History) Last() (models.GeoSample, bool) {
	if len(h.samples) == 0 {
		return models.GeoSample{}, false
	}
	return h.samples[len(h.samples)-1], true
}

// Samples возвращает копию всех отсчетов
func (h *History) Samples() []models.GeoSample {
	return append([]models.GeoSample(nil), h.samples...)
}

// Tail возвращает копию последних n отсчетов
func (h *History) Tail(n int) []models.GeoSample {
	if n <= 0 {
		return nil
	}
	if n > len(h.samples) {
		n = len(h.samples)
	}
	return append([]models.GeoSample(nil), h.samples[len(h.samples)-n:]...)
}

// Since возвращает копию отсчетов с временем не раньше from
func (h *History) Since(from time.Time) []models.GeoSample {
	i := len(h.samples)
	for i > 0 && !h.samples[i-1].Timestamp.Before(from) {
		i--
	}
	return append([]models.GeoSample(nil), h.samples[i:]...)
}

// Reset очищает буфер
func (h *History) Reset() {
	h.samples = h.samples[:0]
}
