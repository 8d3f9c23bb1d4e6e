package service

import (
	"sync"
	"time"

	"github.com/flybeeper/runtracker/internal/models"
	"github.com/flybeeper/runtracker/internal/splits"
)

// EventType тип события движка
type EventType string

const (
	EventStart         EventType = "start"
	EventPause         EventType = "pause"
	EventResume        EventType = "resume"
	EventAutoPause     EventType = "auto_pause"
	EventAutoResume    EventType = "auto_resume"
	EventSplitComplete EventType = "split_complete"
	EventHalfKilometer EventType = "half_kilometer"
	EventComplete      EventType = "complete"
	EventInterrupt     EventType = "interrupt"
	EventError         EventType = "error"
	EventMetrics       EventType = "metrics"
)

// Event событие для подписчиков и канала уведомлений
type Event struct {
	Type          EventType             `json:"type"`
	RunID         string                `json:"run_id,omitempty"`
	Timestamp     time.Time             `json:"timestamp"`
	Session       *models.RunSession    `json:"session,omitempty"`
	Split         *models.Split         `json:"split,omitempty"`
	HalfKilometer *splits.HalfKilometer `json:"half_kilometer,omitempty"`
	Summary       *models.RunSummary    `json:"summary,omitempty"`
	Error         *models.ErrorEvent    `json:"error,omitempty"`
	Metrics       *models.Metrics       `json:"metrics,omitempty"`
}

// Listener подписчик событий движка. Методы вызываются синхронно,
// без удерживаемых блокировок движка: переход состояния, затем
// отрезки того же обновления.
type Listener interface {
	OnStart(session *models.RunSession)
	OnPause(session *models.RunSession)
	OnResume(session *models.RunSession)
	OnAutoPause(session *models.RunSession)
	OnAutoResume(session *models.RunSession)
	OnSplitComplete(split models.Split)
	OnHalfKilometer(mark splits.HalfKilometer)
	OnComplete(summary *models.RunSummary)
	OnInterrupt(session *models.RunSession)
	OnError(event models.ErrorEvent)
	OnMetrics(metrics models.Metrics)
}

// ListenerFuncs адаптер: задаются только нужные обработчики
type ListenerFuncs struct {
	Start         func(session *models.RunSession)
	Pause         func(session *models.RunSession)
	Resume        func(session *models.RunSession)
	AutoPause     func(session *models.RunSession)
	AutoResume    func(session *models.RunSession)
	SplitComplete func(split models.Split)
	HalfKilometer func(mark splits.HalfKilometer)
	Complete      func(summary *models.RunSummary)
	Interrupt     func(session *models.RunSession)
	Error         func(event models.ErrorEvent)
	Metrics       func(metrics models.Metrics)
}

func (f ListenerFuncs) OnStart(s *models.RunSession) {
	if f.Start != nil {
		f.Start(s)
	}
}

func (f ListenerFuncs) OnPause(s *models.RunSession) {
	if f.Pause != nil {
		f.Pause(s)
	}
}

func (f ListenerFuncs) OnResume(s *models.RunSession) {
	if f.Resume != nil {
		f.Resume(s)
	}
}

func (f ListenerFuncs) OnAutoPause(s *models.RunSession) {
	if f.AutoPause != nil {
		f.AutoPause(s)
	}
}

func (f ListenerFuncs) OnAutoResume(s *models.RunSession) {
	if f.AutoResume != nil {
		f.AutoResume(s)
	}
}

func (f ListenerFuncs) OnSplitComplete(split models.Split) {
	if f.SplitComplete != nil {
		f.SplitComplete(split)
	}
}

func (f ListenerFuncs) OnHalfKilometer(mark splits.HalfKilometer) {
	if f.HalfKilometer != nil {
		f.HalfKilometer(mark)
	}
}

func (f ListenerFuncs) OnComplete(summary *models.RunSummary) {
	if f.Complete != nil {
		f.Complete(summary)
	}
}

func (f ListenerFuncs) OnInterrupt(s *models.RunSession) {
	if f.Interrupt != nil {
		f.Interrupt(s)
	}
}

func (f ListenerFuncs) OnError(e models.ErrorEvent) {
	if f.Error != nil {
		f.Error(e)
	}
}

func (f ListenerFuncs) OnMetrics(m models.Metrics) {
	if f.Metrics != nil {
		f.Metrics(m)
	}
}

// EventSink подписчик, получающий события целиком
type EventSink interface {
	HandleEvent(e Event)
}

// EventListener превращает все обратные вызовы в поток Event
type EventListener func(Event)

// HandleEvent передает событие без преобразования
func (f EventListener) HandleEvent(e Event) { f(e) }

func (f EventListener) OnStart(s *models.RunSession)  { f(sessionEvent(EventStart, s)) }
func (f EventListener) OnPause(s *models.RunSession)  { f(sessionEvent(EventPause, s)) }
func (f EventListener) OnResume(s *models.RunSession) { f(sessionEvent(EventResume, s)) }
func (f EventListener) OnAutoPause(s *models.RunSession) {
	f(sessionEvent(EventAutoPause, s))
}
func (f EventListener) OnAutoResume(s *models.RunSession) {
	f(sessionEvent(EventAutoResume, s))
}
func (f EventListener) OnInterrupt(s *models.RunSession) { f(sessionEvent(EventInterrupt, s)) }

func (f EventListener) OnSplitComplete(split models.Split) {
	f(Event{Type: EventSplitComplete, Timestamp: split.CompletedAt, Split: &split})
}

func (f EventListener) OnHalfKilometer(mark splits.HalfKilometer) {
	f(Event{Type: EventHalfKilometer, Timestamp: mark.At, HalfKilometer: &mark})
}

func (f EventListener) OnComplete(summary *models.RunSummary) {
	e := Event{Type: EventComplete, Timestamp: time.Now(), Summary: summary}
	if summary != nil && summary.Session != nil {
		e.RunID = summary.Session.ID
		if summary.Session.EndTime != nil {
			e.Timestamp = *summary.Session.EndTime
		}
	}
	f(e)
}

func (f EventListener) OnError(event models.ErrorEvent) {
	f(Event{Type: EventError, Timestamp: event.Timestamp, Error: &event})
}

func (f EventListener) OnMetrics(m models.Metrics) {
	f(Event{Type: EventMetrics, RunID: m.RunID, Timestamp: time.Now(), Metrics: &m})
}

func sessionEvent(t EventType, s *models.RunSession) Event {
	e := Event{Type: t, Timestamp: time.Now(), Session: s}
	if s != nil {
		e.RunID = s.ID
	}
	return e
}

// deliver вызывает метод подписчика, соответствующий событию
func deliver(l Listener, e Event) {
	if sink, ok := l.(EventSink); ok {
		sink.HandleEvent(e)
		return
	}

	switch e.Type {
	case EventStart:
		l.OnStart(e.Session)
	case EventPause:
		l.OnPause(e.Session)
	case EventResume:
		l.OnResume(e.Session)
	case EventAutoPause:
		l.OnAutoPause(e.Session)
	case EventAutoResume:
		l.OnAutoResume(e.Session)
	case EventInterrupt:
		l.OnInterrupt(e.Session)
	case EventSplitComplete:
		if e.Split != nil {
			l.OnSplitComplete(*e.Split)
		}
	case EventHalfKilometer:
		if e.HalfKilometer != nil {
			l.OnHalfKilometer(*e.HalfKilometer)
		}
	case EventComplete:
		l.OnComplete(e.Summary)
	case EventError:
		if e.Error != nil {
			l.OnError(*e.Error)
		}
	case EventMetrics:
		if e.Metrics != nil {
			l.OnMetrics(*e.Metrics)
		}
	}
}

// listenerSet набор подписчиков с собственной блокировкой
type listenerSet struct {
	mu        sync.RWMutex
	next      uint64
	listeners map[uint64]Listener
	order     []uint64
}

func (s *listenerSet) add(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listeners == nil {
		s.listeners = make(map[uint64]Listener)
	}
	s.next++
	id := s.next
	s.listeners[id] = l
	s.order = append(s.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *listenerSet) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.listeners, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// snapshot возвращает подписчиков в порядке регистрации
func (s *listenerSet) snapshot() []Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Listener, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.listeners[id])
	}
	return out
}

func (s *listenerSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
