// Package runstate содержит машину состояний пробежки и учет активного времени.
// Машина единственная меняет статус сессии. Причина перехода (пользователь
// или автоматика) влияет только на имя события.
package runstate

import (
	"fmt"
	"time"

	"github.com/flybeeper/runtracker/internal/models"
	"github.com/flybeeper/runtracker/internal/scheduler"
)

// Event команда машине состояний
type Event string

const (
	EventStart     Event = "start"
	EventPause     Event = "pause"
	EventResume    Event = "resume"
	EventStop      Event = "stop"
	EventInterrupt Event = "interrupt"
)

// TransitionCause источник команды
type TransitionCause int

const (
	CauseUser TransitionCause = iota
	CauseAuto
)

func (c TransitionCause) String() string {
	if c == CauseAuto {
		return "auto"
	}
	return "user"
}

// Имена переходов для подписчиков
const (
	TransitionStart      = "start"
	TransitionPause      = "pause"
	TransitionAutoPause  = "auto_pause"
	TransitionResume     = "resume"
	TransitionAutoResume = "auto_resume"
	TransitionComplete   = "complete"
	TransitionInterrupt  = "interrupt"
)

// Transition результат команды. Для no-op From == To и Name пустое.
type Transition struct {
	Name  string           `json:"name,omitempty"`
	Event Event            `json:"event"`
	Cause TransitionCause  `json:"cause"`
	From  models.RunStatus `json:"from"`
	To    models.RunStatus `json:"to"`
	At    time.Time        `json:"at"`
}

// Changed возвращает true, если статус изменился
func (t Transition) Changed() bool {
	return t.From != t.To
}

// Machine машина состояний одной пробежки.
// Активное время = (now - start) - накопленные паузы - открытая пауза,
// все интервалы измеряются по инжектированным часам.
// Не потокобезопасна: вызывающий сериализует доступ.
type Machine struct {
	clock   scheduler.Clock
	session *models.RunSession

	startedAt      time.Time
	endedAt        time.Time
	pausedTotal    time.Duration
	pauseStartedAt time.Time
}

// NewMachine создает машину в состоянии Idle
func NewMachine(clock scheduler.Clock) *Machine {
	if clock == nil {
		clock = scheduler.SystemClock{}
	}
	return &Machine{
		clock:   clock,
		session: &models.RunSession{Status: models.RunStatusIdle},
	}
}

// Status возвращает текущий статус
func (m *Machine) Status() models.RunStatus {
	return m.session.Status
}

// IsActive возвращает true в состоянии Active
func (m *Machine) IsActive() bool {
	return m.session.Status == models.RunStatusActive
}

// IsPaused возвращает true в состоянии Paused
func (m *Machine) IsPaused() bool {
	return m.session.Status == models.RunStatusPaused
}

// Fire применяет команду согласно таблице переходов
func (m *Machine) Fire(event Event, cause TransitionCause) (Transition, error) {
	now := m.clock.Now()
	tr := Transition{Event: event, Cause: cause, From: m.session.Status, To: m.session.Status, At: now}

	switch event {
	case EventStart:
		if m.session.Status.IsLive() {
			return tr, models.ErrAlreadyActive
		}
		m.begin(now)
		tr.Name = TransitionStart

	case EventPause:
		switch m.session.Status {
		case models.RunStatusActive:
			m.pauseStartedAt = now
			m.session.Status = models.RunStatusPaused
			tr.Name = TransitionPause
			if cause == CauseAuto {
				tr.Name = TransitionAutoPause
			}
		case models.RunStatusPaused:
			return tr, nil
		default:
			return tr, models.ErrNoActiveRun
		}

	case EventResume:
		switch m.session.Status {
		case models.RunStatusPaused:
			m.closePause(now)
			m.session.Status = models.RunStatusActive
			tr.Name = TransitionResume
			if cause == CauseAuto {
				tr.Name = TransitionAutoResume
			}
		case models.RunStatusActive:
			return tr, nil
		default:
			return tr, models.ErrNotPaused
		}

	case EventStop:
		if !m.session.Status.IsLive() {
			return tr, models.ErrNoActiveRun
		}
		m.finish(now, models.RunStatusCompleted)
		tr.Name = TransitionComplete

	case EventInterrupt:
		if !m.session.Status.IsLive() {
			return tr, models.ErrNoActiveRun
		}
		m.finish(now, models.RunStatusInterrupted)
		tr.Name = TransitionInterrupt

	default:
		return tr, fmt.Errorf("unknown event: %q", event)
	}

	tr.To = m.session.Status
	return tr, nil
}

func (m *Machine) begin(now time.Time) {
	m.session = &models.RunSession{
		StartTime: now,
		Status:    models.RunStatusActive,
		Splits:    []models.Split{},
	}
	m.startedAt = now
	m.endedAt = time.Time{}
	m.pausedTotal = 0
	m.pauseStartedAt = time.Time{}
}

func (m *Machine) closePause(now time.Time) {
	if m.pauseStartedAt.IsZero() {
		return
	}
	if d := now.Sub(m.pauseStartedAt); d > 0 {
		m.pausedTotal += d
	}
	m.pauseStartedAt = time.Time{}
}

func (m *Machine) finish(now time.Time, status models.RunStatus) {
	m.closePause(now)
	m.endedAt = now
	end := now
	m.session.EndTime = &end
	m.session.Status = status
	m.refresh()
}

// ActiveDuration возвращает активное время пробежки
func (m *Machine) ActiveDuration() time.Duration {
	if m.startedAt.IsZero() {
		return 0
	}

	now := m.clock.Now()
	if !m.endedAt.IsZero() {
		now = m.endedAt
	}

	d := now.Sub(m.startedAt) - m.pausedTotal
	if !m.pauseStartedAt.IsZero() {
		d -= now.Sub(m.pauseStartedAt)
	}
	if d < 0 {
		return 0
	}
	return d
}

// PausedDuration возвращает суммарное время пауз, включая открытую
func (m *Machine) PausedDuration() time.Duration {
	d := m.pausedTotal
	if !m.pauseStartedAt.IsZero() {
		now := m.clock.Now()
		if !m.endedAt.IsZero() {
			now = m.endedAt
		}
		d += now.Sub(m.pauseStartedAt)
	}
	return d
}

// SetRunID задает идентификатор сессии, выданный хранилищем
func (m *Machine) SetRunID(id string) {
	m.session.ID = id
}

// RunID возвращает идентификатор сессии
func (m *Machine) RunID() string {
	return m.session.ID
}

// AddDistance добавляет пройденный отрезок. Учитывается только в Active.
func (m *Machine) AddDistance(meters float64) bool {
	if m.session.Status != models.RunStatusActive || meters <= 0 {
		return false
	}
	m.session.Distance += meters
	return true
}

// Distance возвращает накопленную дистанцию (м)
func (m *Machine) Distance() float64 {
	return m.session.Distance
}

// AppendSplit добавляет закрытый отрезок
func (m *Machine) AppendSplit(split models.Split) {
	m.session.Splits = append(m.session.Splits, split)
}

// Snapshot возвращает копию сессии с актуальными длительностью и темпом
func (m *Machine) Snapshot() *models.RunSession {
	m.refresh()
	return m.session.Clone()
}

func (m *Machine) refresh() {
	// Длительность не убывает
	if duration := m.ActiveDuration().Seconds(); duration > m.session.Duration {
		m.session.Duration = duration
	}
	m.session.AveragePace = models.AveragePace(m.session.Distance, m.session.Duration)
}

// Restore загружает сохраненную незавершенную сессию.
// Отсчет активного времени продолжается от сохраненной длительности.
func (m *Machine) Restore(session *models.RunSession) error {
	if session == nil || !session.Status.IsLive() {
		return models.ErrNoActiveRun
	}
	if m.session.Status.IsLive() {
		return models.ErrAlreadyActive
	}

	now := m.clock.Now()
	m.session = session.Clone()
	if m.session.Splits == nil {
		m.session.Splits = []models.Split{}
	}
	m.startedAt = now.Add(-time.Duration(session.Duration * float64(time.Second)))
	m.endedAt = time.Time{}
	m.pausedTotal = 0
	m.pauseStartedAt = time.Time{}
	if session.Status == models.RunStatusPaused {
		m.pauseStartedAt = now
	}
	return nil
}

// Reset возвращает машину в Idle
func (m *Machine) Reset() {
	m.session = &models.RunSession{Status: models.RunStatusIdle}
	m.startedAt = time.Time{}
	m.endedAt = time.Time{}
	m.pausedTotal = 0
	m.pauseStartedAt = time.Time{}
}
