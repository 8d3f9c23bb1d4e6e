package models

import (
	"fmt"
	"time"
)

// RunStatus статус пробежки
type RunStatus string

const (
	RunStatusIdle        RunStatus = "idle"
	RunStatusActive      RunStatus = "active"
	RunStatusPaused      RunStatus = "paused"
	RunStatusCompleted   RunStatus = "completed"
	RunStatusInterrupted RunStatus = "interrupted"
)

// IsValid проверяет, что статус известен
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusIdle, RunStatusActive, RunStatusPaused, RunStatusCompleted, RunStatusInterrupted:
		return true
	}
	return false
}

// IsLive возвращает true для незавершенной пробежки (Active или Paused)
func (s RunStatus) IsLive() bool {
	return s == RunStatusActive || s == RunStatusPaused
}

// IsTerminal возвращает true для завершенной пробежки
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusInterrupted
}

// SplitDistanceMeters длина одного сплита
const SplitDistanceMeters = 1000.0

// Split представляет завершенный километровый отрезок.
// Добавляется только в конец, после создания не изменяется.
type Split struct {
	Number      int       `json:"number"`       // Порядковый номер (с 1)
	Distance    float64   `json:"distance"`     // Метры
	Duration    float64   `json:"duration"`     // Секунды активного времени
	Pace        float64   `json:"pace"`         // мин/км
	CompletedAt time.Time `json:"completed_at"` // Время завершения
}

// RunSession состояние одной пробежки
type RunSession struct {
	ID          string     `json:"id"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	Distance    float64    `json:"distance"`     // Метры, не убывает
	Duration    float64    `json:"duration"`     // Секунды, без пауз
	AveragePace float64    `json:"average_pace"` // мин/км
	Status      RunStatus  `json:"status"`
	Splits      []Split    `json:"splits"`
	UpdatedAt   time.Time  `json:"updated_at"` // Heartbeat последнего сохранения
}

// Clone возвращает независимую копию сессии
func (s *RunSession) Clone() *RunSession {
	if s == nil {
		return nil
	}
	clone := *s
	if s.EndTime != nil {
		end := *s.EndTime
		clone.EndTime = &end
	}
	clone.Splits = append([]Split(nil), s.Splits...)
	return &clone
}

// AveragePace вычисляет темп (мин/км): (duration/60)/(distance/1000), 0 при нулевой дистанции
func AveragePace(distanceMeters, durationSeconds float64) float64 {
	if distanceMeters <= 0 {
		return 0
	}
	return (durationSeconds / 60) / (distanceMeters / 1000)
}

// Metrics текущие показатели пробежки
type Metrics struct {
	RunID       string      `json:"run_id,omitempty"`
	Status      RunStatus   `json:"status"`
	Motion      MotionState `json:"motion"`
	Distance    float64     `json:"distance"`
	Duration    float64     `json:"duration"`
	CurrentPace float64     `json:"current_pace"`
	AveragePace float64     `json:"average_pace"`
	Splits      []Split     `json:"splits"`
	SignalLost  bool        `json:"signal_lost"`
	LowPower    bool        `json:"low_power"`
}

// RunSummary итог завершенной пробежки
type RunSummary struct {
	Session     *RunSession `json:"session"`
	TrackPoints int         `json:"track_points"`
	Bounds      *Bounds     `json:"bounds,omitempty"`
	BestSplit   *Split      `json:"best_split,omitempty"`
	MaxSpeedKmh float64     `json:"max_speed_kmh"`
}

// RunUpdate частичное обновление пробежки: применяются только явно заданные поля
type RunUpdate struct {
	distance    *float64
	duration    *float64
	averagePace *float64
	status      *RunStatus
	endTime     *time.Time
	heartbeat   *time.Time
}

// NewRunUpdate создает пустое обновление
func NewRunUpdate() *RunUpdate {
	return &RunUpdate{}
}

// WithDistance задает дистанцию (м)
func (u *RunUpdate) WithDistance(meters float64) *RunUpdate {
	u.distance = &meters
	return u
}

// WithDuration задает активное время (с)
func (u *RunUpdate) WithDuration(seconds float64) *RunUpdate {
	u.duration = &seconds
	return u
}

// WithAveragePace задает средний темп (мин/км)
func (u *RunUpdate) WithAveragePace(pace float64) *RunUpdate {
	u.averagePace = &pace
	return u
}

// WithStatus задает статус
func (u *RunUpdate) WithStatus(status RunStatus) *RunUpdate {
	u.status = &status
	return u
}

// WithEndTime задает время окончания
func (u *RunUpdate) WithEndTime(t time.Time) *RunUpdate {
	u.endTime = &t
	return u
}

// WithHeartbeat задает время последнего сохранения
func (u *RunUpdate) WithHeartbeat(t time.Time) *RunUpdate {
	u.heartbeat = &t
	return u
}

// FromSession заполняет обновление снимком метрик сессии
func (u *RunUpdate) FromSession(s *RunSession) *RunUpdate {
	u.WithDistance(s.Distance).
		WithDuration(s.Duration).
		WithAveragePace(s.AveragePace).
		WithStatus(s.Status)
	if s.EndTime != nil {
		u.WithEndTime(*s.EndTime)
	}
	return u
}

// Distance возвращает дистанцию, если задана
func (u *RunUpdate) Distance() (float64, bool) { return deref(u.distance) }

// Duration возвращает длительность, если задана
func (u *RunUpdate) Duration() (float64, bool) { return deref(u.duration) }

// AveragePace возвращает темп, если задан
func (u *RunUpdate) AveragePace() (float64, bool) { return deref(u.averagePace) }

// Status возвращает статус, если задан
func (u *RunUpdate) Status() (RunStatus, bool) {
	if u.status == nil {
		return "", false
	}
	return *u.status, true
}

// EndTime возвращает время окончания, если задано
func (u *RunUpdate) EndTime() (time.Time, bool) {
	if u.endTime == nil {
		return time.Time{}, false
	}
	return *u.endTime, true
}

// Heartbeat возвращает heartbeat, если задан
func (u *RunUpdate) Heartbeat() (time.Time, bool) {
	if u.heartbeat == nil {
		return time.Time{}, false
	}
	return *u.heartbeat, true
}

// IsEmpty проверяет, что ни одно поле не задано
func (u *RunUpdate) IsEmpty() bool {
	return u.distance == nil && u.duration == nil && u.averagePace == nil &&
		u.status == nil && u.endTime == nil && u.heartbeat == nil
}

// Validate проверяет заданные поля перед применением
func (u *RunUpdate) Validate() error {
	if u.IsEmpty() {
		return fmt.Errorf("empty run update")
	}
	if u.distance != nil && *u.distance < 0 {
		return fmt.Errorf("distance must not be negative: %f", *u.distance)
	}
	if u.duration != nil && *u.duration < 0 {
		return fmt.Errorf("duration must not be negative: %f", *u.duration)
	}
	if u.averagePace != nil && *u.averagePace < 0 {
		return fmt.Errorf("average pace must not be negative: %f", *u.averagePace)
	}
	if u.status != nil && !u.status.IsValid() {
		return fmt.Errorf("unknown run status: %q", *u.status)
	}
	return nil
}

// Apply применяет заданные поля к сессии
func (u *RunUpdate) Apply(s *RunSession) {
	if u.distance != nil {
		s.Distance = *u.distance
	}
	if u.duration != nil {
		s.Duration = *u.duration
	}
	if u.averagePace != nil {
		s.AveragePace = *u.averagePace
	}
	if u.status != nil {
		s.Status = *u.status
	}
	if u.endTime != nil {
		end := *u.endTime
		s.EndTime = &end
	}
	if u.heartbeat != nil {
		s.UpdatedAt = *u.heartbeat
	}
}

func deref(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}
