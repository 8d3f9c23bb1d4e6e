package scheduler

import (
	"sync"
	"time"
)

type manualTask struct {
	at       time.Time
	interval time.Duration // 0 для однократной задачи
	seq      uint64
	fn       func()
}

// Manual планировщик с ручным продвижением времени.
// Используется для воспроизведения записанных треков и в тестах.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	next  Token
	seq   uint64
	tasks map[Token]*manualTask
}

// NewManual создает планировщик с начальным временем start
func NewManual(start time.Time) *Manual {
	return &Manual{
		now:   start,
		tasks: make(map[Token]*manualTask),
	}
}

// Now возвращает текущее виртуальное время
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Every планирует периодическую задачу
func (m *Manual) Every(interval time.Duration, fn func()) Token {
	if interval <= 0 {
		interval = time.Millisecond
	}
	return m.add(interval, interval, fn)
}

// After планирует однократную задачу
func (m *Manual) After(delay time.Duration, fn func()) Token {
	return m.add(delay, 0, fn)
}

func (m *Manual) add(delay, interval time.Duration, fn func()) Token {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.next++
	m.seq++
	m.tasks[m.next] = &manualTask{
		at:       m.now.Add(delay),
		interval: interval,
		seq:      m.seq,
		fn:       fn,
	}
	return m.next
}

// Cancel отменяет задачу
func (m *Manual) Cancel(tok Token) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[tok]; !ok {
		return false
	}
	delete(m.tasks, tok)
	return true
}

// Pending возвращает количество запланированных задач
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Advance продвигает время на d, выполняя все задачи, срок которых наступил
func (m *Manual) Advance(d time.Duration) {
	m.AdvanceTo(m.Now().Add(d))
}

// AdvanceTo продвигает время до target. Задачи выполняются по порядку сроков,
// вне блокировки: колбэк может планировать и отменять задачи.
func (m *Manual) AdvanceTo(target time.Time) {
	for {
		m.mu.Lock()
		tok, task := m.earliestLocked()
		if task == nil || task.at.After(target) {
			if target.After(m.now) {
				m.now = target
			}
			m.mu.Unlock()
			return
		}

		if task.at.After(m.now) {
			m.now = task.at
		}
		fn := task.fn
		if task.interval > 0 {
			m.seq++
			task.at = task.at.Add(task.interval)
			task.seq = m.seq
		} else {
			delete(m.tasks, tok)
		}
		m.mu.Unlock()

		fn()
	}
}

func (m *Manual) earliestLocked() (Token, *manualTask) {
	var (
		bestTok  Token
		bestTask *manualTask
	)
	for tok, task := range m.tasks {
		if bestTask == nil || task.at.Before(bestTask.at) ||
			(task.at.Equal(bestTask.at) && task.seq < bestTask.seq) {
			bestTok, bestTask = tok, task
		}
	}
	return bestTok, bestTask
}
