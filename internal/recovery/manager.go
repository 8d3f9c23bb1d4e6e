// Package recovery выполняет повторы с экспоненциальной задержкой и
// переключение в деградированный режим для внешних зависимостей.
package recovery

import (
	"sync"
	"time"

	"github.com/flybeeper/runtracker/internal/metrics"
	"github.com/flybeeper/runtracker/internal/models"
	"github.com/flybeeper/runtracker/internal/scheduler"
	"github.com/flybeeper/runtracker/pkg/utils"
)

// kindState счетчик повторов и таймер одного класса ошибок
type kindState struct {
	retries  int
	pending  scheduler.Token
	surfaced bool
}

// Manager исполнитель стратегий восстановления.
// Не более одного таймера повтора на класс ошибки. Собственная блокировка
// не удерживается во время вызова повтора, fallback и наблюдателя.
type Manager struct {
	mu         sync.Mutex
	scheduler  scheduler.Scheduler
	logger     *utils.Logger
	strategies map[models.ErrorKind]*Strategy
	states     map[models.ErrorKind]*kindState
	history    *History
	observer   func(models.ErrorEvent)
}

// NewManager создает менеджер с политиками по умолчанию
func NewManager(sched scheduler.Scheduler, logger *utils.Logger) *Manager {
	return NewManagerWithHistory(sched, logger, DefaultHistorySize)
}

// NewManagerWithHistory создает менеджер с историей заданного размера
func NewManagerWithHistory(sched scheduler.Scheduler, logger *utils.Logger, historySize int) *Manager {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	m := &Manager{
		scheduler:  sched,
		logger:     logger,
		strategies: make(map[models.ErrorKind]*Strategy),
		states:     make(map[models.ErrorKind]*kindState),
		history:    NewHistory(historySize),
	}
	for _, s := range DefaultStrategies() {
		m.Register(s)
	}
	return m
}

// Register задает или заменяет стратегию для класса ошибок
func (m *Manager) Register(s Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()

	strategy := s
	m.strategies[s.Kind] = &strategy
}

// SetFallback задает fallback-действие для класса ошибок
func (m *Manager) SetFallback(kind models.ErrorKind, fallback func(models.ErrorEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.strategyLocked(kind).Fallback = fallback
}

// SetObserver задает получателя событий об ошибках
func (m *Manager) SetObserver(observer func(models.ErrorEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.observer = observer
}

// Handle обрабатывает ошибку зависимости. Для восстановимого класса при
// неисчерпанном счетчике планирует retry через BaseDelay*2^(n-1); иначе
// вызывает fallback. Повторная ошибка при ожидающем таймере новый таймер
// не создает. retry может быть nil: тогда сразу используется fallback.
func (m *Manager) Handle(err error, kind models.ErrorKind, retry func() error, context string) models.ErrorEvent {
	m.mu.Lock()

	strategy := m.strategyLocked(kind)
	state := m.stateLocked(kind)

	event := models.ErrorEvent{
		Kind:              kind,
		Context:           context,
		Timestamp:         m.scheduler.Now(),
		Recoverable:       strategy.Recoverable,
		FallbackAvailable: strategy.Fallback != nil,
		Notice:            strategy.Notice,
	}
	if err != nil {
		event.Message = err.Error()
	}

	var (
		fallback = strategy.Fallback
		observer = m.observer
		notify   = true
		degrade  bool
	)

	switch {
	case !strategy.Recoverable:
		// Невосстановимая ошибка показывается пользователю один раз
		notify = !state.surfaced
		state.surfaced = true
		degrade = true

	case state.pending != 0:
		event.Attempt = state.retries

	case retry != nil && state.retries < strategy.MaxRetries:
		state.retries++
		event.Attempt = state.retries
		event.RetryIn = strategy.NextDelay(state.retries)
		m.scheduleLocked(kind, state, event.RetryIn, retry)
		metrics.RecoveryRetries.WithLabelValues(string(kind)).Inc()

	default:
		event.Attempt = state.retries
		degrade = true
	}

	m.history.Add(event)
	m.mu.Unlock()

	metrics.RecoveryErrors.WithLabelValues(string(kind)).Inc()

	entry := m.logger.WithFields(map[string]interface{}{
		"kind":        kind,
		"context":     context,
		"attempt":     event.Attempt,
		"recoverable": event.Recoverable,
	}).WithError(err)
	if event.RetryIn > 0 {
		entry.WithField("delay_ms", event.RetryIn.Milliseconds()).Warn("Scheduled recovery retry")
	} else if degrade {
		entry.Warn("Switching to fallback")
	} else {
		entry.Debug("Recovery retry already pending")
	}

	if degrade && fallback != nil {
		metrics.RecoveryFallbacks.WithLabelValues(string(kind)).Inc()
		fallback(event)
	}
	if notify && observer != nil {
		observer(event)
	}

	return event
}

func (m *Manager) scheduleLocked(kind models.ErrorKind, state *kindState, delay time.Duration, retry func() error) {
	var token scheduler.Token
	token = m.scheduler.After(delay, func() {
		m.mu.Lock()
		st := m.stateLocked(kind)
		if st.pending != token {
			// Таймер отменен
			m.mu.Unlock()
			return
		}
		st.pending = 0
		m.mu.Unlock()

		if err := retry(); err != nil {
			m.Handle(err, kind, retry, "retry")
			return
		}
		m.Resolve(kind)
	})
	state.pending = token
}

// Resolve отмечает успешное восстановление: счетчик сбрасывается,
// ожидающий таймер отменяется
func (m *Manager) Resolve(kind models.ErrorKind) {
	m.mu.Lock()
	state := m.stateLocked(kind)
	retries := state.retries
	if state.pending != 0 {
		m.scheduler.Cancel(state.pending)
	}
	*state = kindState{}
	m.mu.Unlock()

	if retries > 0 {
		m.logger.WithFields(map[string]interface{}{
			"kind":    kind,
			"retries": retries,
		}).Info("Recovered")
	}
}

// CancelAll отменяет все ожидающие повторы и сбрасывает счетчики
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for kind, state := range m.states {
		if state.pending != 0 {
			m.scheduler.Cancel(state.pending)
		}
		m.states[kind] = &kindState{}
	}
}

// RetryCount возвращает текущий счетчик повторов класса
func (m *Manager) RetryCount(kind models.ErrorKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stateLocked(kind).retries
}

// PendingRetry проверяет, ожидает ли класс повтора
func (m *Manager) PendingRetry(kind models.ErrorKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stateLocked(kind).pending != 0
}

// History возвращает всю историю, старые первыми
func (m *Manager) History() []models.ErrorEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.history.All()
}

// Recent возвращает до n последних ошибок
func (m *Manager) Recent(n int) []models.ErrorEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.history.Recent(n)
}

// ByKind возвращает до limit последних ошибок класса
func (m *Manager) ByKind(kind models.ErrorKind, limit int) []models.ErrorEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.history.ByKind(kind, limit)
}

func (m *Manager) strategyLocked(kind models.ErrorKind) *Strategy {
	s, ok := m.strategies[kind]
	if !ok {
		// Неизвестный класс считается невосстановимым
		s = &Strategy{Kind: kind}
		m.strategies[kind] = s
	}
	return s
}

func (m *Manager) stateLocked(kind models.ErrorKind) *kindState {
	st, ok := m.states[kind]
	if !ok {
		st = &kindState{}
		m.states[kind] = st
	}
	return st
}
