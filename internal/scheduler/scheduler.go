// Package scheduler содержит часы и планировщик таймеров с токенами отмены.
// Движок держит и отменяет ровно те токены, которые создал.
package scheduler

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Clock источник текущего времени.
// Реальная реализация возвращает time.Now(), у которого есть монотонная
// составляющая, поэтому Sub не зависит от перевода системных часов.
type Clock interface {
	Now() time.Time
}

// Token идентификатор запланированной задачи
type Token uint64

// Scheduler планирует периодические и однократные задачи
type Scheduler interface {
	Clock
	// Every запускает fn каждые interval до отмены
	Every(interval time.Duration, fn func()) Token
	// After запускает fn один раз через delay
	After(delay time.Duration, fn func()) Token
	// Cancel отменяет задачу; false если токен неизвестен или уже отработал
	Cancel(tok Token) bool
}

// SystemClock реальные часы
type SystemClock struct{}

// Now возвращает текущее время с монотонной составляющей
func (SystemClock) Now() time.Time { return time.Now() }

// Cron планировщик поверх robfig/cron для периодических тиков
// и time.AfterFunc для однократных таймеров
type Cron struct {
	SystemClock

	mu      sync.Mutex
	cron    *cron.Cron
	next    Token
	entries map[Token]cron.EntryID
	timers  map[Token]*time.Timer
}

// NewCron создает и запускает планировщик
func NewCron() *Cron {
	c := &Cron{
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		entries: make(map[Token]cron.EntryID),
		timers:  make(map[Token]*time.Timer),
	}
	c.cron.Start()
	return c
}

// Every планирует периодическую задачу. cron работает с точностью до секунды,
// интервалы меньше секунды округляются до секунды.
func (c *Cron) Every(interval time.Duration, fn func()) Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.next++
	tok := c.next
	c.entries[tok] = c.cron.Schedule(cron.Every(interval), cron.FuncJob(fn))
	return tok
}

// After планирует однократную задачу
func (c *Cron) After(delay time.Duration, fn func()) Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.next++
	tok := c.next
	c.timers[tok] = time.AfterFunc(delay, func() {
		c.mu.Lock()
		delete(c.timers, tok)
		c.mu.Unlock()
		fn()
	})
	return tok
}

// Cancel отменяет задачу по токену
func (c *Cron) Cancel(tok Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.entries[tok]; ok {
		c.cron.Remove(id)
		delete(c.entries, tok)
		return true
	}
	if timer, ok := c.timers[tok]; ok {
		delete(c.timers, tok)
		return timer.Stop()
	}
	return false
}

// Stop останавливает все задачи
func (c *Cron) Stop() {
	c.mu.Lock()
	for tok, timer := range c.timers {
		timer.Stop()
		delete(c.timers, tok)
	}
	for tok, id := range c.entries {
		c.cron.Remove(id)
		delete(c.entries, tok)
	}
	c.mu.Unlock()

	<-c.cron.Stop().Done()
}
