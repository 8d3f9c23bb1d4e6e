package service

import (
	"context"
	"fmt"
	"time"

	"github.com/flybeeper/runtracker/internal/metrics"
	"github.com/flybeeper/runtracker/internal/models"
)

// runWrites несохраненные записи одной пробежки
type runWrites struct {
	runID     string
	created   bool // пробежка уже есть в хранилище
	startTime time.Time
	update    *models.RunUpdate
	points    []models.GeoSample
	splits    []models.Split
	closed    bool // сессия завершена, запись удаляется после сохранения
}

func (w *runWrites) empty() bool {
	return w.created && w.update == nil && len(w.points) == 0 && len(w.splits) == 0
}

// writeBuffer очередь записей в хранилище по пробежкам.
// При переполнении отбрасываются самые старые точки трека.
type writeBuffer struct {
	runs      []*runWrites
	maxPoints int
	dropped   int
}

func newWriteBuffer(maxPoints int) *writeBuffer {
	if maxPoints <= 0 {
		maxPoints = 50000
	}
	return &writeBuffer{maxPoints: maxPoints}
}

// open добавляет пробежку в очередь
func (b *writeBuffer) open(runID string, startTime time.Time, created bool) *runWrites {
	w := &runWrites{runID: runID, startTime: startTime, created: created}
	b.runs = append(b.runs, w)
	return w
}

// find возвращает записи пробежки
func (b *writeBuffer) find(runID string) *runWrites {
	for _, w := range b.runs {
		if w.runID == runID {
			return w
		}
	}
	return nil
}

func (b *writeBuffer) addPoint(w *runWrites, sample models.GeoSample) {
	w.points = append(w.points, sample)
	for b.points() > b.maxPoints {
		b.dropOldestPoint()
	}
	b.report()
}

func (b *writeBuffer) addSplit(w *runWrites, split models.Split) {
	w.splits = append(w.splits, split)
	b.report()
}

func (b *writeBuffer) dropOldestPoint() {
	for _, w := range b.runs {
		if len(w.points) > 0 {
			w.points[0] = models.GeoSample{}
			w.points = w.points[1:]
			b.dropped++
			return
		}
	}
}

func (b *writeBuffer) points() int {
	n := 0
	for _, w := range b.runs {
		n += len(w.points)
	}
	return n
}

// size количество ожидающих записей
func (b *writeBuffer) size() int {
	n := 0
	for _, w := range b.runs {
		n += len(w.points) + len(w.splits)
		if w.update != nil {
			n++
		}
		if !w.created {
			n++
		}
	}
	return n
}

// compact удаляет сохраненные завершенные пробежки
func (b *writeBuffer) compact() {
	kept := b.runs[:0]
	for _, w := range b.runs {
		if w.closed && w.empty() {
			continue
		}
		kept = append(kept, w)
	}
	for i := len(kept); i < len(b.runs); i++ {
		b.runs[i] = nil
	}
	b.runs = kept
	b.report()
}

func (b *writeBuffer) report() {
	metrics.BufferedWrites.Set(float64(b.size()))
}

// flushBatch снимок записей одной пробежки для сохранения вне блокировки
type flushBatch struct {
	target    *runWrites
	runID     string
	created   bool
	startTime time.Time
	update    *models.RunUpdate
	points    []models.GeoSample
	splits    []models.Split

	// Результат сохранения
	newID      string
	updateSent bool
	pointsSent int
	splitsSent int
}

// take забирает все записи из очереди
func (b *writeBuffer) take() []*flushBatch {
	batches := make([]*flushBatch, 0, len(b.runs))
	for _, w := range b.runs {
		if w.empty() {
			continue
		}
		batches = append(batches, &flushBatch{
			target:    w,
			runID:     w.runID,
			created:   w.created,
			startTime: w.startTime,
			update:    w.update,
			points:    w.points,
			splits:    w.splits,
		})
		w.update = nil
		w.points = nil
		w.splits = nil
	}
	return batches
}

// restore возвращает несохраненные записи в начало очереди.
// Возвращает пары (старый, новый) идентификатор для созданных пробежек.
func (b *writeBuffer) restore(batches []*flushBatch) map[string]string {
	renamed := make(map[string]string)
	for _, batch := range batches {
		w := batch.target
		if batch.newID != "" {
			renamed[w.runID] = batch.newID
			w.runID = batch.newID
			w.created = true
		}
		if !batch.updateSent && batch.update != nil && w.update == nil {
			w.update = batch.update
		}
		if rest := batch.points[batch.pointsSent:]; len(rest) > 0 {
			w.points = append(append([]models.GeoSample(nil), rest...), w.points...)
		}
		if rest := batch.splits[batch.splitsSent:]; len(rest) > 0 {
			w.splits = append(append([]models.Split(nil), rest...), w.splits...)
		}
	}
	for b.points() > b.maxPoints {
		b.dropOldestPoint()
	}
	b.compact()
	return renamed
}

// write сохраняет пачку; при ошибке фиксирует, что успело записаться
func (batch *flushBatch) write(ctx context.Context, store RunStore) error {
	runID := batch.runID
	if !batch.created {
		id, err := store.CreateRun(ctx, batch.startTime)
		if err != nil {
			return fmt.Errorf("create run: %w", err)
		}
		batch.newID = id
		batch.created = true
		runID = id
	}

	if batch.update != nil {
		if err := store.UpdateRun(ctx, runID, batch.update); err != nil {
			return fmt.Errorf("update run %s: %w", runID, err)
		}
		batch.updateSent = true
	}

	if len(batch.points) > 0 {
		if batcher, ok := store.(TrackPointBatcher); ok {
			if err := batcher.AddTrackPoints(ctx, runID, batch.points); err != nil {
				return fmt.Errorf("add %d track points: %w", len(batch.points), err)
			}
			batch.pointsSent = len(batch.points)
		} else {
			for _, p := range batch.points {
				if err := store.AddTrackPoint(ctx, runID, p); err != nil {
					return fmt.Errorf("add track point: %w", err)
				}
				batch.pointsSent++
			}
		}
	}

	for _, s := range batch.splits {
		if err := store.AddSplit(ctx, runID, s); err != nil {
			return fmt.Errorf("add split %d: %w", s.Number, err)
		}
		batch.splitsSent++
	}
	return nil
}

// flushOnce сохраняет накопленные записи. Сохранение выполняется вне mu,
// несохраненные записи возвращаются в начало очереди.
func (t *RunTracker) flushOnce(ctx context.Context) error {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	t.mu.Lock()
	if t.current != nil && t.machine.Status().IsLive() {
		// Heartbeat живой пробежки для обнаружения прерываний
		session := t.machine.Snapshot()
		t.current.update = models.NewRunUpdate().FromSession(session).WithHeartbeat(t.sched.Now())
	}
	batches := t.buffer.take()
	t.mu.Unlock()

	if len(batches) == 0 {
		return nil
	}

	start := time.Now()
	var firstErr error
	for _, batch := range batches {
		if err := batch.write(ctx, t.store); err != nil {
			firstErr = err
			break
		}
	}
	duration := time.Since(start)

	t.mu.Lock()
	renamed := t.buffer.restore(batches)
	if id, ok := renamed[t.machine.RunID()]; ok {
		t.machine.SetRunID(id)
	}
	pending := t.buffer.size()
	t.mu.Unlock()

	for from, to := range renamed {
		t.logger.WithFields(map[string]interface{}{
			"provisional_id": from,
			"run_id":         to,
		}).Debug("Run created in store")
	}

	entry := t.logger.WithFields(map[string]interface{}{
		"batches":     len(batches),
		"pending":     pending,
		"duration_ms": duration.Milliseconds(),
	})
	if firstErr != nil {
		entry.WithError(firstErr).Warn("Flush failed")
		return firstErr
	}
	entry.Debug("Flushed run data")
	return nil
}
