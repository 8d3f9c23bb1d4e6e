package recovery

import (
	"github.com/flybeeper/runtracker/internal/models"
)

// DefaultHistorySize размер истории ошибок
const DefaultHistorySize = 100

// History кольцевой буфер обработанных ошибок; при переполнении
// вытесняется самая старая запись. Не потокобезопасен.
type History struct {
	entries []models.ErrorEvent
	start   int
	size    int
}

// NewHistory создает историю на capacity записей
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{entries: make([]models.ErrorEvent, capacity)}
}

// Add добавляет запись
func (h *History) Add(event models.ErrorEvent) {
	capacity := len(h.entries)
	if h.size < capacity {
		h.entries[(h.start+h.size)%capacity] = event
		h.size++
		return
	}
	h.entries[h.start] = event
	h.start = (h.start + 1) % capacity
}

// Len возвращает количество записей
func (h *History) Len() int {
	return h.size
}

// Cap возвращает емкость истории
func (h *History) Cap() int {
	return len(h.entries)
}

// All возвращает записи от старых к новым
func (h *History) All() []models.ErrorEvent {
	out := make([]models.ErrorEvent, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.at(i)
	}
	return out
}

// Recent возвращает до n последних записей, новые первыми
func (h *History) Recent(n int) []models.ErrorEvent {
	return h.filter(n, func(models.ErrorEvent) bool { return true })
}

// ByKind возвращает до limit последних записей заданного класса, новые первыми.
// limit <= 0 означает без ограничения.
func (h *History) ByKind(kind models.ErrorKind, limit int) []models.ErrorEvent {
	return h.filter(limit, func(e models.ErrorEvent) bool { return e.Kind == kind })
}

// Clear очищает историю
func (h *History) Clear() {
	for i := range h.entries {
		h.entries[i] = models.ErrorEvent{}
	}
	h.start, h.size = 0, 0
}

func (h *History) at(i int) models.ErrorEvent {
	return h.entries[(h.start+i)%len(h.entries)]
}

func (h *History) filter(limit int, match func(models.ErrorEvent) bool) []models.ErrorEvent {
	if limit <= 0 || limit > h.size {
		limit = h.size
	}
	out := make([]models.ErrorEvent, 0, limit)
	for i := h.size - 1; i >= 0 && len(out) < limit; i-- {
		if e := h.at(i); match(e) {
			out = append(out, e)
		}
	}
	return out
}
