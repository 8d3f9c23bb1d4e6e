package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flybeeper/runtracker/internal/metrics"
	"github.com/flybeeper/runtracker/internal/models"
	"github.com/flybeeper/runtracker/internal/runstate"
)

// RecoverInterrupted проверяет незавершенную пробежку в хранилище.
//
// Heartbeat старше StaleThreshold означает, что процесс завершился
// посреди пробежки: она помечается Interrupted с временем окончания
// на последнем heartbeat. Свежая пробежка продолжается в движке.
// Возвращает nil, nil если незавершенной пробежки нет.
func (t *RunTracker) RecoverInterrupted(ctx context.Context) (*models.RunSession, error) {
	stored, err := t.store.GetActiveRun(ctx)
	if errors.Is(err, models.ErrRunNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active run: %w", err)
	}
	if stored == nil {
		return nil, nil
	}

	now := t.sched.Now()
	heartbeat := stored.UpdatedAt
	if heartbeat.IsZero() {
		heartbeat = stored.StartTime
	}

	if now.Sub(heartbeat) >= t.config.StaleThreshold {
		return t.markInterrupted(ctx, stored, heartbeat)
	}
	return t.resume(stored)
}

func (t *RunTracker) markInterrupted(ctx context.Context, stored *models.RunSession, heartbeat time.Time) (*models.RunSession, error) {
	// Пробежка закрывается моментом последнего heartbeat
	machine := runstate.NewMachine(frozenClock{at: heartbeat})
	if err := machine.Restore(stored); err != nil {
		return nil, fmt.Errorf("restore run %s: %w", stored.ID, err)
	}
	tr, err := machine.Fire(runstate.EventInterrupt, runstate.CauseAuto)
	if err != nil {
		return nil, fmt.Errorf("interrupt run %s: %w", stored.ID, err)
	}
	session := machine.Snapshot()

	update := models.NewRunUpdate().FromSession(session).WithHeartbeat(t.sched.Now())
	if err := t.store.UpdateRun(ctx, session.ID, update); err != nil {
		return nil, fmt.Errorf("mark run %s interrupted: %w", session.ID, err)
	}

	metrics.RunsTotal.WithLabelValues(string(models.RunStatusInterrupted)).Inc()
	metrics.StateTransitions.WithLabelValues(tr.Name).Inc()
	t.logger.WithField("run_id", session.ID).WithFields(map[string]interface{}{
		"last_heartbeat": heartbeat,
		"distance_m":     session.Distance,
	}).Warn("Run interrupted")

	t.dispatch([]Event{{Type: EventInterrupt, RunID: session.ID, Timestamp: t.sched.Now(), Session: session}})
	return session, nil
}

// resume продолжает сохраненную пробежку с прежними дистанцией,
// длительностью и отрезками
func (t *RunTracker) resume(stored *models.RunSession) (*models.RunSession, error) {
	t.mu.Lock()
	if t.machine.Status().IsLive() {
		t.mu.Unlock()
		return nil, models.ErrAlreadyActive
	}

	t.resetSessionLocked()
	t.machine.Reset()
	if err := t.machine.Restore(stored); err != nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("restore run %s: %w", stored.ID, err)
	}
	now := t.sched.Now()
	t.splits.Restore(stored.Splits, stored.Distance, stored.Duration, now)
	t.current = t.buffer.open(stored.ID, stored.StartTime, true)
	t.lastSampleAt = now
	t.notifyEnabled = true
	gen := t.startTicksLocked()
	session := t.machine.Snapshot()
	t.mu.Unlock()

	t.logger.WithField("run_id", session.ID).WithFields(map[string]interface{}{
		"status":     session.Status,
		"distance_m": session.Distance,
		"splits":     len(session.Splits),
	}).Info("Run resumed after restart")

	t.dispatch([]Event{{Type: EventStart, RunID: session.ID, Timestamp: now, Session: session}})
	t.subscribeLocation(gen)
	return session.Clone(), nil
}
