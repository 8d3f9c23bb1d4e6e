package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/flybeeper/runtracker/internal/filter"
	"github.com/flybeeper/runtracker/internal/kinematics"
	"github.com/flybeeper/runtracker/internal/metrics"
	"github.com/flybeeper/runtracker/internal/models"
	"github.com/flybeeper/runtracker/internal/recovery"
	"github.com/flybeeper/runtracker/internal/runstate"
	"github.com/flybeeper/runtracker/internal/scheduler"
	"github.com/flybeeper/runtracker/internal/splits"
	"github.com/flybeeper/runtracker/pkg/utils"
)

// Dependencies внешние зависимости движка
type Dependencies struct {
	Store     RunStore         // обязательна
	Location  LocationProvider // nil: отсчеты приходят только через AddLocationSample
	Notifier  Notifier         // nil: уведомления отключены
	Scheduler scheduler.Scheduler
	Logger    *utils.Logger
}

// RunTracker фасад движка пробежки.
//
// Все изменения состояния сериализуются одной блокировкой mu: отсчеты,
// команды пользователя, три периодические задачи (метрики, движение,
// сохранение) и действия восстановления. Подписчики и канал уведомлений
// вызываются после снятия блокировки, в порядке возникновения событий.
type RunTracker struct {
	config   *Config
	store    RunStore
	location LocationProvider
	notifier Notifier
	sched    scheduler.Scheduler
	logger   *utils.Logger

	validator *filter.Validator
	engine    *kinematics.Engine
	recovery  *recovery.Manager
	listeners listenerSet

	// Контекст подписки на геолокацию, отменяется в Close
	ctx    context.Context
	cancel context.CancelFunc

	// Сериализует сохранение буфера
	flushMu sync.Mutex

	mu         sync.Mutex
	machine    *runstate.Machine
	history    *kinematics.History
	splits     *splits.Tracker
	monitor    *runstate.MotionMonitor
	buffer     *writeBuffer
	current    *runWrites
	limiter    *rate.Limiter
	generation uint64
	ticks      sessionTicks
	motion     models.MotionState

	lastSampleAt  time.Time
	clockOffset   time.Duration // часы устройства минус часы движка на последнем отсчете
	signalLost    bool
	lowPower      bool
	notifyEnabled bool
}

// sessionTicks токены периодических задач текущей сессии
type sessionTicks struct {
	metrics scheduler.Token
	motion  scheduler.Token
	flush   scheduler.Token
}

// NewRunTracker создает движок в состоянии Idle
func NewRunTracker(config *Config, deps Dependencies) (*RunTracker, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracker config: %w", err)
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("run store is required")
	}
	if deps.Scheduler == nil {
		deps.Scheduler = scheduler.NewCron()
	}
	if deps.Logger == nil {
		deps.Logger = utils.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	kcfg := config.kinematicsConfig()

	t := &RunTracker{
		config:    config,
		store:     deps.Store,
		location:  deps.Location,
		notifier:  deps.Notifier,
		sched:     deps.Scheduler,
		logger:    deps.Logger,
		validator: filter.NewValidator(config.Filter, deps.Logger),
		engine:    kinematics.NewEngine(kcfg),
		recovery:  recovery.NewManagerWithHistory(deps.Scheduler, deps.Logger, config.RecoveryHistorySize),
		ctx:       ctx,
		cancel:    cancel,
		machine:   runstate.NewMachine(deps.Scheduler),
		history:   kinematics.NewHistory(kcfg.HistoryCap),
		splits:    splits.NewTracker(),
		monitor:   runstate.NewMotionMonitor(config.monitorConfig()),
		buffer:    newWriteBuffer(config.MaxBufferedWrites),
		limiter:   rate.NewLimiter(rate.Every(config.LowPowerSampleInterval), 1),
		motion:    models.MotionStationary,
	}

	for _, s := range config.Strategies {
		t.recovery.Register(s)
	}
	t.recovery.SetFallback(models.ErrorKindSignalLost, t.signalFallback)
	t.recovery.SetFallback(models.ErrorKindPermissionDenied, t.signalFallback)
	t.recovery.SetFallback(models.ErrorKindPersistenceFailure, t.persistenceFallback)
	t.recovery.SetFallback(models.ErrorKindDependencyUnavailable, t.notificationFallback)
	t.recovery.SetObserver(func(event models.ErrorEvent) {
		t.dispatch([]Event{{
			Type:      EventError,
			RunID:     t.RunID(),
			Timestamp: event.Timestamp,
			Error:     &event,
		}})
	})

	return t, nil
}

// Subscribe регистрирует подписчика; возвращает функцию отписки
func (t *RunTracker) Subscribe(l Listener) func() {
	return t.listeners.add(l)
}

// Start начинает новую пробежку.
// Ошибка хранилища не мешает старту: записи остаются в буфере.
func (t *RunTracker) Start(ctx context.Context) (*models.RunSession, error) {
	t.mu.Lock()
	tr, err := t.machine.Fire(runstate.EventStart, runstate.CauseUser)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}

	t.resetSessionLocked()
	// Временный идентификатор до создания записи в хранилище
	t.machine.SetRunID(uuid.NewString())
	t.current = t.buffer.open(t.machine.RunID(), tr.At, false)
	t.lastSampleAt = tr.At
	t.notifyEnabled = true
	gen := t.startTicksLocked()
	t.mu.Unlock()

	metrics.RunsTotal.WithLabelValues("started").Inc()
	metrics.StateTransitions.WithLabelValues(tr.Name).Inc()

	if err := t.flushOnce(ctx); err != nil {
		t.handlePersistence(err, "start")
	}

	t.mu.Lock()
	if gen != t.generation {
		// Пробежку успели остановить
		t.mu.Unlock()
		return nil, models.ErrNoActiveRun
	}
	session := t.machine.Snapshot()
	t.mu.Unlock()

	t.logger.WithField("run_id", session.ID).Info("Run started")
	t.dispatch([]Event{{Type: EventStart, RunID: session.ID, Timestamp: tr.At, Session: session}})
	t.subscribeLocation(gen)

	return session.Clone(), nil
}

// Pause ставит пробежку на паузу по команде пользователя
func (t *RunTracker) Pause() error {
	return t.command(runstate.EventPause)
}

// Resume снимает пробежку с паузы по команде пользователя
func (t *RunTracker) Resume() error {
	return t.command(runstate.EventResume)
}

func (t *RunTracker) command(event runstate.Event) error {
	t.mu.Lock()
	tr, err := t.machine.Fire(event, runstate.CauseUser)
	if err != nil {
		t.mu.Unlock()
		return err
	}

	var events []Event
	if tr.Changed() {
		// Команда пользователя перекрывает отсчет автопаузы
		t.monitor.Reset()
		events = append(events, t.transitionLocked(tr))
	}
	t.mu.Unlock()

	t.dispatch(events)
	return nil
}

// Stop завершает пробежку и возвращает итоги.
// Повторный Stop завершенной пробежки возвращает models.ErrNoActiveRun.
func (t *RunTracker) Stop(ctx context.Context) (*models.RunSummary, error) {
	t.mu.Lock()
	tr, err := t.machine.Fire(runstate.EventStop, runstate.CauseUser)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}

	t.generation++
	t.stopTicksLocked()
	t.monitor.Reset()

	session := t.machine.Snapshot()
	summary := t.summaryLocked(session)
	t.current.update = models.NewRunUpdate().FromSession(session).WithHeartbeat(tr.At)
	t.current.closed = true
	t.current = nil
	t.mu.Unlock()

	t.recovery.CancelAll()
	if t.location != nil {
		t.location.Unsubscribe()
	}

	// Без таймера повтора: записи остаются в буфере до следующего
	// сохранения (Start, Flush или Close)
	if err := t.flushOnce(ctx); err != nil {
		t.recovery.Handle(err, models.ErrorKindPersistenceFailure, nil, "stop")
	}

	t.mu.Lock()
	summary.Session.ID = t.machine.RunID()
	t.mu.Unlock()

	metrics.RunsTotal.WithLabelValues(string(models.RunStatusCompleted)).Inc()
	metrics.StateTransitions.WithLabelValues(tr.Name).Inc()

	t.logger.WithField("run_id", summary.Session.ID).WithFields(map[string]interface{}{
		"distance_m":   math.Round(summary.Session.Distance),
		"duration_s":   math.Round(summary.Session.Duration),
		"splits":       len(summary.Session.Splits),
		"track_points": summary.TrackPoints,
	}).Info("Run completed")

	t.dispatch([]Event{{
		Type:      EventComplete,
		RunID:     summary.Session.ID,
		Timestamp: tr.At,
		Session:   summary.Session,
		Summary:   summary,
	}})
	return summary, nil
}

// AddLocationSample принимает отсчет геолокации. Вне пробежки отсчет
// игнорируется; отклоненный валидатором отсчет возвращает ошибку,
// совместимую с models.ErrInvalidSample.
func (t *RunTracker) AddLocationSample(sample models.GeoSample) error {
	t.mu.Lock()
	if !t.machine.Status().IsLive() {
		t.mu.Unlock()
		return nil
	}
	if t.lowPower && !t.limiter.AllowN(t.sched.Now(), 1) {
		t.mu.Unlock()
		metrics.SamplesThrottled.Inc()
		return nil
	}

	prev, hasPrev := t.history.Last()
	var prevPtr *models.GeoSample
	if hasPrev {
		prevPtr = &prev
	}
	if err := t.validator.Validate(sample, prevPtr); err != nil {
		t.mu.Unlock()
		return err
	}

	t.history.Append(sample)
	t.lastSampleAt = t.sched.Now()
	t.clockOffset = sample.Timestamp.Sub(t.lastSampleAt)
	recovered := t.signalLost
	t.signalLost = false
	t.buffer.addPoint(t.current, sample)

	var events []Event
	if hasPrev && t.machine.AddDistance(kinematics.Haversine(prev, sample)) {
		result := t.splits.Update(t.machine.Distance(), t.machine.ActiveDuration().Seconds(), sample.Timestamp)
		events = t.splitEventsLocked(result)
	}
	t.mu.Unlock()

	if recovered {
		t.recovery.Resolve(models.ErrorKindSignalLost)
		t.logger.WithField("run_id", t.RunID()).Info("Location signal restored")
	}
	t.dispatch(events)
	return nil
}

// CurrentMetrics возвращает текущие показатели
func (t *RunTracker) CurrentMetrics() models.Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metricsLocked()
}

// Session возвращает снимок текущей сессии
func (t *RunTracker) Session() *models.RunSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.machine.Snapshot()
}

// IsActive возвращает true в состоянии Active
func (t *RunTracker) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.machine.IsActive()
}

// IsPaused возвращает true в состоянии Paused
func (t *RunTracker) IsPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.machine.IsPaused()
}

// RunID возвращает идентификатор текущей (или последней) пробежки
func (t *RunTracker) RunID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.machine.RunID()
}

// SetAutoPause включает или выключает автопаузу
func (t *RunTracker) SetAutoPause(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.monitor.SetEnabled(enabled)
}

// SetLowPower включает режим энергосбережения: метрики публикуются реже,
// частота приема отсчетов ограничивается
func (t *RunTracker) SetLowPower(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.lowPower == enabled {
		return
	}
	t.lowPower = enabled
	if enabled {
		t.limiter = rate.NewLimiter(rate.Every(t.config.LowPowerSampleInterval), 1)
	}
	if t.ticks.metrics != 0 {
		t.sched.Cancel(t.ticks.metrics)
		gen := t.generation
		t.ticks.metrics = t.sched.Every(t.metricsIntervalLocked(), func() { t.onMetricsTick(gen) })
	}
	t.logger.WithField("low_power", enabled).Info("Power mode changed")
}

// Errors возвращает до limit последних ошибок; пустой kind означает все классы
func (t *RunTracker) Errors(kind models.ErrorKind, limit int) []models.ErrorEvent {
	if kind == "" {
		return t.recovery.Recent(limit)
	}
	return t.recovery.ByKind(kind, limit)
}

// Recovery возвращает менеджер восстановления
func (t *RunTracker) Recovery() *recovery.Manager {
	return t.recovery
}

// Flush немедленно сохраняет буферизованные записи
func (t *RunTracker) Flush(ctx context.Context) error {
	if err := t.flushOnce(ctx); err != nil {
		return err
	}
	t.recovery.Resolve(models.ErrorKindPersistenceFailure)
	return nil
}

// Close останавливает задачи и сохраняет буфер. Незавершенная пробежка
// остается в хранилище живой и подхватывается RecoverInterrupted.
func (t *RunTracker) Close(ctx context.Context) error {
	t.mu.Lock()
	t.generation++
	t.stopTicksLocked()
	t.mu.Unlock()

	t.recovery.CancelAll()
	if t.location != nil {
		t.location.Unsubscribe()
	}
	t.cancel()

	if err := t.flushOnce(ctx); err != nil {
		return fmt.Errorf("flush on close: %w", err)
	}
	return nil
}

// resetSessionLocked готовит компоненты к новой сессии
func (t *RunTracker) resetSessionLocked() {
	t.history.Reset()
	t.splits.Reset()
	t.monitor.Reset()
	t.motion = models.MotionStationary
	t.clockOffset = 0
	t.signalLost = false
}

func (t *RunTracker) startTicksLocked() uint64 {
	t.generation++
	gen := t.generation
	t.stopTicksLocked()
	t.ticks = sessionTicks{
		metrics: t.sched.Every(t.metricsIntervalLocked(), func() { t.onMetricsTick(gen) }),
		motion:  t.sched.Every(t.config.MotionInterval, func() { t.onMotionTick(gen) }),
		flush:   t.sched.Every(t.config.FlushInterval, func() { t.onFlushTick(gen) }),
	}
	return gen
}

func (t *RunTracker) stopTicksLocked() {
	for _, tok := range []scheduler.Token{t.ticks.metrics, t.ticks.motion, t.ticks.flush} {
		if tok != 0 {
			t.sched.Cancel(tok)
		}
	}
	t.ticks = sessionTicks{}
}

func (t *RunTracker) metricsIntervalLocked() time.Duration {
	if t.lowPower {
		return t.config.MetricsInterval * time.Duration(t.config.LowPowerFactor)
	}
	return t.config.MetricsInterval
}

func (t *RunTracker) onMetricsTick(gen uint64) {
	start := time.Now()
	defer func() { metrics.TickDuration.WithLabelValues("metrics").Observe(time.Since(start).Seconds()) }()

	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		return
	}
	m := t.metricsLocked()
	t.mu.Unlock()

	t.dispatch([]Event{{Type: EventMetrics, RunID: m.RunID, Timestamp: t.sched.Now(), Metrics: &m}})
}

// onMotionTick классифицирует движение, обнаруживает потерю сигнала
// и выполняет автопаузу и автовозобновление
func (t *RunTracker) onMotionTick(gen uint64) {
	start := time.Now()
	defer func() { metrics.TickDuration.WithLabelValues("motion").Observe(time.Since(start).Seconds()) }()

	t.mu.Lock()
	if gen != t.generation || !t.machine.Status().IsLive() {
		t.mu.Unlock()
		return
	}

	now := t.sched.Now()
	var (
		events []Event
		lost   time.Duration
	)
	if !t.signalLost && t.config.SignalTimeout > 0 && now.Sub(t.lastSampleAt) >= t.config.SignalTimeout {
		t.signalLost = true
		lost = now.Sub(t.lastSampleAt)
	}

	// Окно считается по часам устройства. Без новых отсчетов окно пустеет
	// и движение считается стоянием.
	deviceNow := now.Add(t.clockOffset)
	window := t.history.Since(deviceNow.Add(-t.engine.Config().MotionWindow))
	state, speed := t.engine.ClassifyMotion(window, deviceNow)
	t.motion = state

	if event, ok := t.monitor.Observe(state, speed, t.machine.Status(), now); ok {
		tr, err := t.machine.Fire(event, runstate.CauseAuto)
		if err == nil && tr.Changed() {
			events = append(events, t.transitionLocked(tr))
			t.logger.WithFields(map[string]interface{}{
				"run_id":      t.machine.RunID(),
				"event":       tr.Name,
				"speed_kmh":   speed,
				"signal_lost": t.signalLost,
			}).Info("Auto transition")
		}
	}
	t.mu.Unlock()

	if lost > 0 {
		t.handleSignalLost(fmt.Errorf("no location fix for %s", lost.Round(time.Second)), "signal_timeout")
	}
	t.dispatch(events)
}

func (t *RunTracker) onFlushTick(gen uint64) {
	start := time.Now()
	defer func() { metrics.TickDuration.WithLabelValues("flush").Observe(time.Since(start).Seconds()) }()

	t.mu.Lock()
	stale := gen != t.generation
	t.mu.Unlock()
	if stale {
		return
	}

	ctx, cancel := t.ioContext()
	defer cancel()

	if err := t.flushOnce(ctx); err != nil {
		t.handlePersistence(err, "flush")
		return
	}
	t.recovery.Resolve(models.ErrorKindPersistenceFailure)
}

// transitionLocked фиксирует переход: ставит обновление в буфер
// и возвращает событие для подписчиков
func (t *RunTracker) transitionLocked(tr runstate.Transition) Event {
	session := t.machine.Snapshot()
	if t.current != nil {
		t.current.update = models.NewRunUpdate().FromSession(session).WithHeartbeat(tr.At)
	}
	metrics.StateTransitions.WithLabelValues(tr.Name).Inc()
	return Event{Type: EventType(tr.Name), RunID: session.ID, Timestamp: tr.At, Session: session}
}

func (t *RunTracker) splitEventsLocked(result splits.Result) []Event {
	if result.IsEmpty() {
		return nil
	}

	runID := t.machine.RunID()
	events := make([]Event, 0, len(result.Splits)+len(result.HalfKilometers))
	for i := range result.Splits {
		split := result.Splits[i]
		t.machine.AppendSplit(split)
		t.buffer.addSplit(t.current, split)
		metrics.SplitsCompleted.Inc()
		t.logger.WithField("run_id", runID).WithFields(map[string]interface{}{
			"split":      split.Number,
			"duration_s": math.Round(split.Duration),
			"pace":       split.Pace,
		}).Info("Split completed")
		events = append(events, Event{Type: EventSplitComplete, RunID: runID, Timestamp: split.CompletedAt, Split: &split})
	}
	for i := range result.HalfKilometers {
		mark := result.HalfKilometers[i]
		events = append(events, Event{Type: EventHalfKilometer, RunID: runID, Timestamp: mark.At, HalfKilometer: &mark})
	}
	return events
}

func (t *RunTracker) metricsLocked() models.Metrics {
	session := t.machine.Snapshot()
	m := models.Metrics{
		RunID:       session.ID,
		Status:      session.Status,
		Motion:      t.motion,
		Distance:    session.Distance,
		Duration:    session.Duration,
		AveragePace: session.AveragePace,
		Splits:      session.Splits,
		SignalLost:  t.signalLost,
		LowPower:    t.lowPower,
	}
	if session.Status == models.RunStatusActive {
		m.CurrentPace = t.engine.SmoothedPace(t.history.Tail(t.engine.Config().PaceWindow))
	}
	return m
}

func (t *RunTracker) summaryLocked(session *models.RunSession) *models.RunSummary {
	samples := t.history.Samples()
	summary := &models.RunSummary{
		Session:     session,
		TrackPoints: len(samples),
		Bounds:      kinematics.TrackBounds(samples),
		MaxSpeedKmh: kinematics.MaxSpeedKmh(samples),
	}
	for i := range session.Splits {
		if summary.BestSplit == nil || session.Splits[i].Duration < summary.BestSplit.Duration {
			best := session.Splits[i]
			summary.BestSplit = &best
		}
	}
	return summary
}

// subscribeLocation подписывается на поток отсчетов геолокации
func (t *RunTracker) subscribeLocation(gen uint64) {
	if t.location == nil {
		return
	}
	err := t.location.Subscribe(t.ctx, t.onLocationSample)
	if err == nil {
		return
	}

	t.mu.Lock()
	stale := gen != t.generation
	t.mu.Unlock()
	if stale {
		return
	}

	if errors.Is(err, models.ErrPermissionDenied) {
		t.recovery.Handle(err, models.ErrorKindPermissionDenied, nil, "subscribe")
		return
	}
	t.mu.Lock()
	t.signalLost = true
	t.mu.Unlock()
	t.handleSignalLost(err, "subscribe")
}

func (t *RunTracker) onLocationSample(sample models.GeoSample) {
	if err := t.AddLocationSample(sample); err != nil {
		t.logger.WithError(err).Debug("Location sample dropped")
	}
}

// handleSignalLost запускает повторную подписку на геолокацию с задержкой
func (t *RunTracker) handleSignalLost(err error, reason string) {
	var retry func() error
	if t.location != nil {
		retry = t.restartLocation
	}
	t.recovery.Handle(err, models.ErrorKindSignalLost, retry, reason)
}

// restartLocation переподписывается на провайдер и запрашивает текущую позицию
func (t *RunTracker) restartLocation() error {
	t.mu.Lock()
	live := t.machine.Status().IsLive()
	t.mu.Unlock()
	if !live {
		return nil
	}

	t.location.Unsubscribe()
	if err := t.location.Subscribe(t.ctx, t.onLocationSample); err != nil {
		return fmt.Errorf("resubscribe location: %w", err)
	}

	ctx, cancel := t.ioContext()
	defer cancel()
	sample, err := t.location.CurrentLocation(ctx)
	if err != nil {
		return fmt.Errorf("current location: %w", err)
	}
	if err := t.AddLocationSample(sample); err != nil && !errors.Is(err, models.ErrInvalidSample) {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.signalLost {
		return fmt.Errorf("location signal still lost")
	}
	return nil
}

// signalFallback режим "только время": длительность продолжает идти,
// дистанция не растет до возвращения сигнала
func (t *RunTracker) signalFallback(event models.ErrorEvent) {
	t.mu.Lock()
	t.signalLost = true
	runID := t.machine.RunID()
	t.mu.Unlock()

	t.logger.WithField("run_id", runID).WithField("kind", event.Kind).Warn("Tracking duration only")
}

func (t *RunTracker) handlePersistence(err error, reason string) {
	t.recovery.Handle(err, models.ErrorKindPersistenceFailure, func() error {
		ctx, cancel := t.ioContext()
		defer cancel()
		return t.flushOnce(ctx)
	}, reason)
}

func (t *RunTracker) ioContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(t.ctx, t.config.IOTimeout)
}

// persistenceFallback записи остаются в памяти до следующего сохранения
func (t *RunTracker) persistenceFallback(event models.ErrorEvent) {
	t.mu.Lock()
	pending := t.buffer.size()
	dropped := t.buffer.dropped
	t.mu.Unlock()

	t.logger.WithFields(map[string]interface{}{
		"pending": pending,
		"dropped": dropped,
		"attempt": event.Attempt,
	}).Warn("Keeping run data in memory")
}

// notificationFallback отключает уведомления до следующей пробежки
func (t *RunTracker) notificationFallback(event models.ErrorEvent) {
	t.mu.Lock()
	t.notifyEnabled = false
	t.mu.Unlock()

	t.logger.WithField("kind", event.Kind).Warn("Notifications disabled until next run")
}

// dispatch доставляет события подписчикам, затем в канал уведомлений.
// Вызывается без удерживаемой mu.
func (t *RunTracker) dispatch(events []Event) {
	for _, e := range events {
		for _, l := range t.listeners.snapshot() {
			deliver(l, e)
		}
		if e.Type != EventMetrics {
			t.notify(e)
		}
	}
}

func (t *RunTracker) notify(e Event) {
	if t.notifier == nil {
		return
	}
	// Ошибки самого канала уведомлений в него не отправляются
	if e.Type == EventError && e.Error != nil && e.Error.Kind == models.ErrorKindDependencyUnavailable {
		return
	}

	t.mu.Lock()
	enabled := t.notifyEnabled
	live := t.machine.Status().IsLive()
	t.mu.Unlock()
	if !enabled {
		return
	}

	send := func() error {
		ctx, cancel := t.ioContext()
		defer cancel()
		return t.notifier.Notify(ctx, e)
	}
	if err := send(); err != nil {
		// Повторы живут только в пределах пробежки
		retry := send
		if !live {
			retry = nil
		}
		t.recovery.Handle(err, models.ErrorKindDependencyUnavailable, retry, string(e.Type))
	}
}

// frozenClock часы, остановленные на заданном моменте
type frozenClock struct {
	at time.Time
}

func (c frozenClock) Now() time.Time { return c.at }
