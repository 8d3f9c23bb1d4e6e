package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/flybeeper/runtracker/internal/models"
	"github.com/flybeeper/runtracker/internal/scheduler"
	"github.com/flybeeper/runtracker/internal/splits"
)

var trackStart = time.Date(2026, 5, 1, 7, 0, 0, 0, time.UTC)

const metersPerDegree = models.EarthRadiusMeters * math.Pi / 180

// sampleAt отсчет в northMeters к северу от стартовой точки
func sampleAt(northMeters float64, ts time.Time) models.GeoSample {
	return models.NewGeoSample(46.0+northMeters/metersPerDegree, 8.0, ts)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateRun(ctx context.Context, startTime time.Time) (string, error) {
	args := m.Called(ctx, startTime)
	return args.String(0), args.Error(1)
}

func (m *mockStore) UpdateRun(ctx context.Context, id string, update *models.RunUpdate) error {
	return m.Called(ctx, id, update).Error(0)
}

func (m *mockStore) AddTrackPoint(ctx context.Context, runID string, sample models.GeoSample) error {
	return m.Called(ctx, runID, sample).Error(0)
}

func (m *mockStore) AddSplit(ctx context.Context, runID string, split models.Split) error {
	return m.Called(ctx, runID, split).Error(0)
}

func (m *mockStore) GetActiveRun(ctx context.Context) (*models.RunSession, error) {
	args := m.Called(ctx)
	session, _ := args.Get(0).(*models.RunSession)
	return session, args.Error(1)
}

// newMockStore хранилище, принимающее любые записи
func newMockStore(runID string) *mockStore {
	store := &mockStore{}
	store.On("CreateRun", mock.Anything, mock.Anything).Return(runID, nil).Maybe()
	store.On("UpdateRun", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	store.On("AddTrackPoint", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	store.On("AddSplit", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	return store
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, event Event) error {
	return m.Called(ctx, event).Error(0)
}

func newTestTracker(t *testing.T, store RunStore, opts ...func(*Config)) (*RunTracker, *scheduler.Manual) {
	t.Helper()

	sched := scheduler.NewManual(trackStart)
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	tracker, err := NewRunTracker(cfg, Dependencies{Store: store, Scheduler: sched})
	require.NoError(t, err)
	return tracker, sched
}

func withoutAutomation(cfg *Config) {
	cfg.AutoPauseEnabled = false
	cfg.SignalTimeout = 0
}

// runner подает отсчеты раз в секунду, продвигая виртуальное время
type runner struct {
	t       *testing.T
	tracker *RunTracker
	sched   *scheduler.Manual
	pos     float64
}

func (r *runner) move(seconds int, metersPerSecond float64) {
	r.t.Helper()
	for i := 0; i < seconds; i++ {
		r.sched.Advance(time.Second)
		r.pos += metersPerSecond
		require.NoError(r.t, r.tracker.AddLocationSample(sampleAt(r.pos, r.sched.Now())))
	}
}

// recorder записывает типы событий в порядке доставки
type recorder struct {
	events []Event
}

func (r *recorder) listener() EventListener {
	return func(e Event) { r.events = append(r.events, e) }
}

func (r *recorder) types(skipMetrics bool) []EventType {
	var out []EventType
	for _, e := range r.events {
		if skipMetrics && e.Type == EventMetrics {
			continue
		}
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) count(t EventType) int {
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func TestRunTracker_StartTwiceFails(t *testing.T) {
	tracker, _ := newTestTracker(t, newMockStore("run-1"), withoutAutomation)
	ctx := context.Background()

	session, err := tracker.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-1", session.ID)
	assert.Equal(t, models.RunStatusActive, session.Status)

	_, err = tracker.Start(ctx)
	assert.ErrorIs(t, err, models.ErrAlreadyActive)
	assert.True(t, tracker.IsActive())
	assert.Equal(t, "run-1", tracker.RunID())
}

func TestRunTracker_PausedTimeExcludedFromDuration(t *testing.T) {
	tracker, sched := newTestTracker(t, newMockStore("run-1"), withoutAutomation)
	ctx := context.Background()

	_, err := tracker.Start(ctx)
	require.NoError(t, err)

	sched.Advance(30 * time.Second)
	require.NoError(t, tracker.Pause())
	assert.True(t, tracker.IsPaused())

	sched.Advance(60 * time.Second)
	assert.InDelta(t, 30.0, tracker.CurrentMetrics().Duration, 1e-9)
	require.NoError(t, tracker.Resume())

	sched.Advance(30 * time.Second)
	summary, err := tracker.Stop(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 60.0, summary.Session.Duration, 1e-9)
	assert.Equal(t, models.RunStatusCompleted, summary.Session.Status)
	require.NotNil(t, summary.Session.EndTime)
	assert.Equal(t, trackStart.Add(120*time.Second), *summary.Session.EndTime)
}

func TestRunTracker_DistanceFrozenWhilePaused(t *testing.T) {
	tracker, sched := newTestTracker(t, newMockStore("run-1"), withoutAutomation)
	_, err := tracker.Start(context.Background())
	require.NoError(t, err)

	r := &runner{t: t, tracker: tracker, sched: sched}
	r.move(10, 3)
	before := tracker.CurrentMetrics().Distance
	assert.InDelta(t, 27.0, before, 0.01) // первый отсчет без предыдущего

	require.NoError(t, tracker.Pause())
	r.move(10, 3)
	assert.Equal(t, before, tracker.CurrentMetrics().Distance)

	require.NoError(t, tracker.Resume())
	r.move(1, 3)
	assert.InDelta(t, before+3, tracker.CurrentMetrics().Distance, 0.01)
}

func TestRunTracker_SplitsFromSamples(t *testing.T) {
	tracker, sched := newTestTracker(t, newMockStore("run-1"), withoutAutomation)
	rec := &recorder{}
	tracker.Subscribe(rec.listener())

	_, err := tracker.Start(context.Background())
	require.NoError(t, err)
	require.NoError(t, tracker.AddLocationSample(sampleAt(0, sched.Now())))

	for i := 1; i <= 25; i++ {
		sched.Advance(30 * time.Second)
		require.NoError(t, tracker.AddLocationSample(sampleAt(float64(i)*111, sched.Now())))
	}

	m := tracker.CurrentMetrics()
	assert.InDelta(t, 2775.0, m.Distance, 0.01)
	require.Len(t, m.Splits, 2)
	for i, split := range m.Splits {
		assert.Equal(t, i+1, split.Number)
		assert.InDelta(t, 1000.0, split.Distance, 0.01)
		assert.InDelta(t, models.AveragePace(split.Distance, split.Duration), split.Pace, 1e-9)
	}
	assert.Equal(t, 2, rec.count(EventSplitComplete))
	assert.Equal(t, 3, rec.count(EventHalfKilometer))
}

func TestRunTracker_AutoPauseFiresOnce(t *testing.T) {
	tracker, sched := newTestTracker(t, newMockStore("run-1"))
	rec := &recorder{}
	tracker.Subscribe(rec.listener())

	_, err := tracker.Start(context.Background())
	require.NoError(t, err)

	r := &runner{t: t, tracker: tracker, sched: sched}
	r.move(30, 3)
	r.move(90, 0)

	assert.Equal(t, 1, rec.count(EventAutoPause))
	assert.True(t, tracker.IsPaused())
	assert.Equal(t, models.MotionStationary, tracker.CurrentMetrics().Motion)

	r.move(15, 3)
	assert.Equal(t, 1, rec.count(EventAutoResume))
	assert.True(t, tracker.IsActive())
	assert.Equal(t, 1, rec.count(EventAutoPause))
}

func TestRunTracker_AutoPauseWhenFixesStop(t *testing.T) {
	tracker, sched := newTestTracker(t, newMockStore("run-1"))
	rec := &recorder{}
	tracker.Subscribe(rec.listener())

	_, err := tracker.Start(context.Background())
	require.NoError(t, err)

	r := &runner{t: t, tracker: tracker, sched: sched}
	r.move(30, 3)

	// Провайдер перестал присылать отсчеты: окно движения пустеет,
	// через PauseDelay срабатывает автопауза
	sched.Advance(120 * time.Second)

	assert.Equal(t, 1, rec.count(EventAutoPause))
	assert.True(t, tracker.IsPaused())

	m := tracker.CurrentMetrics()
	assert.True(t, m.SignalLost)
	assert.Equal(t, models.MotionStationary, m.Motion)
	assert.InDelta(t, 90.0, m.Duration, 5.0)
	assert.Equal(t, 1, len(tracker.Errors(models.ErrorKindSignalLost, 10)))
}

func TestRunTracker_MotionWindowFollowsDeviceClock(t *testing.T) {
	tracker, sched := newTestTracker(t, newMockStore("run-1"))
	rec := &recorder{}
	tracker.Subscribe(rec.listener())

	_, err := tracker.Start(context.Background())
	require.NoError(t, err)

	// Часы устройства отстают от часов движка на две минуты
	lag := 2 * time.Minute
	pos := 0.0
	for i := 0; i < 90; i++ {
		sched.Advance(time.Second)
		pos += 3
		require.NoError(t, tracker.AddLocationSample(sampleAt(pos, sched.Now().Add(-lag))))
	}

	assert.Zero(t, rec.count(EventAutoPause))
	assert.True(t, tracker.IsActive())
	assert.Equal(t, models.MotionRunning, tracker.CurrentMetrics().Motion)
	assert.InDelta(t, 267.0, tracker.CurrentMetrics().Distance, 1.0)
}

func TestRunTracker_NoTimersAfterStop(t *testing.T) {
	notifier := &mockNotifier{}
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(e Event) bool {
		return e.Type != EventComplete
	})).Return(nil)
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(e Event) bool {
		return e.Type == EventComplete
	})).Return(errors.New("broker unavailable"))

	sched := scheduler.NewManual(trackStart)
	cfg := DefaultConfig()
	withoutAutomation(cfg)
	tracker, err := NewRunTracker(cfg, Dependencies{
		Store:     newMockStore("run-1"),
		Notifier:  notifier,
		Scheduler: sched,
	})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = tracker.Start(ctx)
	require.NoError(t, err)
	sched.Advance(10 * time.Second)

	_, err = tracker.Stop(ctx)
	require.NoError(t, err)

	assert.Zero(t, sched.Pending())
	failures := tracker.Errors(models.ErrorKindDependencyUnavailable, 10)
	require.Len(t, failures, 1)
	assert.Zero(t, failures[0].RetryIn)
}

func TestRunTracker_TransientStopDoesNotPause(t *testing.T) {
	tracker, sched := newTestTracker(t, newMockStore("run-1"))
	rec := &recorder{}
	tracker.Subscribe(rec.listener())

	_, err := tracker.Start(context.Background())
	require.NoError(t, err)

	r := &runner{t: t, tracker: tracker, sched: sched}
	r.move(40, 3)
	r.move(10, 0)
	r.move(50, 3)

	assert.Zero(t, rec.count(EventAutoPause))
	assert.True(t, tracker.IsActive())
}

func TestRunTracker_StopCompletedRunFails(t *testing.T) {
	tracker, sched := newTestTracker(t, newMockStore("run-1"), withoutAutomation)
	ctx := context.Background()

	_, err := tracker.Start(ctx)
	require.NoError(t, err)
	sched.Advance(10 * time.Second)

	summary, err := tracker.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-1", summary.Session.ID)
	assert.Zero(t, sched.Pending(), "all session ticks must be cancelled")

	_, err = tracker.Stop(ctx)
	assert.ErrorIs(t, err, models.ErrNoActiveRun)
	assert.Equal(t, models.RunStatusCompleted, tracker.Session().Status)

	assert.ErrorIs(t, tracker.Pause(), models.ErrNoActiveRun)
	assert.ErrorIs(t, tracker.Resume(), models.ErrNotPaused)
}

func TestRunTracker_IgnoresSamplesWhenIdle(t *testing.T) {
	store := &mockStore{}
	tracker, _ := newTestTracker(t, store, withoutAutomation)

	require.NoError(t, tracker.AddLocationSample(sampleAt(0, trackStart)))
	assert.Equal(t, models.RunStatusIdle, tracker.CurrentMetrics().Status)
	store.AssertNotCalled(t, "AddTrackPoint", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunTracker_RejectsInvalidSample(t *testing.T) {
	tracker, sched := newTestTracker(t, newMockStore("run-1"), withoutAutomation)
	_, err := tracker.Start(context.Background())
	require.NoError(t, err)

	err = tracker.AddLocationSample(models.NewGeoSample(95, 8, sched.Now()))
	assert.ErrorIs(t, err, models.ErrInvalidSample)

	require.NoError(t, tracker.AddLocationSample(sampleAt(0, sched.Now())))
	// Тот же момент времени повторно не принимается
	err = tracker.AddLocationSample(sampleAt(5, sched.Now()))
	assert.ErrorIs(t, err, models.ErrInvalidSample)
	assert.Zero(t, tracker.CurrentMetrics().Distance)
}

func TestRunTracker_PersistenceFailureBuffersAndReplays(t *testing.T) {
	store := &mockStore{}
	store.On("CreateRun", mock.Anything, trackStart).Return("", errors.New("database is locked")).Once()
	store.On("CreateRun", mock.Anything, trackStart).Return("run-42", nil).Once()
	store.On("UpdateRun", mock.Anything, "run-42", mock.Anything).Return(nil)
	store.On("AddTrackPoint", mock.Anything, "run-42", mock.Anything).Return(nil)

	tracker, sched := newTestTracker(t, store, withoutAutomation)
	rec := &recorder{}
	tracker.Subscribe(rec.listener())

	session, err := tracker.Start(context.Background())
	require.NoError(t, err, "storage failure must not block the run")
	assert.NotEmpty(t, session.ID)
	assert.NotEqual(t, "run-42", session.ID)

	for i := 1; i <= 3; i++ {
		ts := trackStart.Add(time.Duration(i) * 100 * time.Millisecond)
		require.NoError(t, tracker.AddLocationSample(sampleAt(float64(i)*0.3, ts)))
	}

	errorsSeen := tracker.Errors(models.ErrorKindPersistenceFailure, 10)
	require.Len(t, errorsSeen, 1)
	assert.Equal(t, 1, errorsSeen[0].Attempt)
	assert.Equal(t, time.Second, errorsSeen[0].RetryIn)
	assert.Equal(t, 1, rec.count(EventError))

	// Повтор через BaseDelay создает пробежку и досылает точки
	sched.Advance(time.Second)

	assert.Equal(t, "run-42", tracker.RunID())
	store.AssertNumberOfCalls(t, "CreateRun", 2)
	store.AssertNumberOfCalls(t, "AddTrackPoint", 3)
	assert.Zero(t, tracker.Recovery().RetryCount(models.ErrorKindPersistenceFailure))
	assert.True(t, tracker.IsActive())
}

func TestRunTracker_StopKeepsDataWhenStoreDown(t *testing.T) {
	store := &mockStore{}
	store.On("CreateRun", mock.Anything, mock.Anything).Return("run-9", nil)
	store.On("UpdateRun", mock.Anything, "run-9", mock.Anything).Return(nil).Once()
	store.On("UpdateRun", mock.Anything, "run-9", mock.Anything).Return(errors.New("connection refused")).Once()
	store.On("UpdateRun", mock.Anything, "run-9", mock.Anything).Return(nil)

	tracker, sched := newTestTracker(t, store, withoutAutomation)
	ctx := context.Background()

	_, err := tracker.Start(ctx)
	require.NoError(t, err)
	sched.Advance(5 * time.Second)

	summary, err := tracker.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-9", summary.Session.ID)

	store.AssertNumberOfCalls(t, "UpdateRun", 2)
	require.Len(t, tracker.Errors(models.ErrorKindPersistenceFailure, 10), 1)

	// После Stop не остается ни одного таймера
	assert.Zero(t, sched.Pending())
	assert.False(t, tracker.Recovery().PendingRetry(models.ErrorKindPersistenceFailure))
	sched.Advance(time.Minute)
	store.AssertNumberOfCalls(t, "UpdateRun", 2)

	// Итоговое обновление уходит при следующем сохранении
	require.NoError(t, tracker.Flush(ctx))
	store.AssertNumberOfCalls(t, "UpdateRun", 3)
	store.AssertCalled(t, "UpdateRun", mock.Anything, "run-9", mock.MatchedBy(func(u *models.RunUpdate) bool {
		status, ok := u.Status()
		return ok && status == models.RunStatusCompleted
	}))
}

func TestRunTracker_ListenerOrderAndUnsubscribe(t *testing.T) {
	tracker, _ := newTestTracker(t, newMockStore("run-1"), withoutAutomation)
	ctx := context.Background()

	first, second := &recorder{}, &recorder{}
	var order []string
	tracker.Subscribe(ListenerFuncs{Start: func(*models.RunSession) { order = append(order, "first") }})
	tracker.Subscribe(ListenerFuncs{Start: func(*models.RunSession) { order = append(order, "second") }})
	tracker.Subscribe(first.listener())
	unsubscribe := tracker.Subscribe(second.listener())

	_, err := tracker.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, tracker.Pause())
	require.NoError(t, tracker.Pause()) // повторная пауза без события
	unsubscribe()
	require.NoError(t, tracker.Resume())
	_, err = tracker.Stop(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, []EventType{EventStart, EventPause, EventResume, EventComplete}, first.types(true))
	assert.Equal(t, []EventType{EventStart, EventPause}, second.types(true))

	complete := first.events[len(first.events)-1]
	require.NotNil(t, complete.Summary)
	assert.Equal(t, "run-1", complete.RunID)
}

func TestRunTracker_SplitEventsFollowSample(t *testing.T) {
	tracker, sched := newTestTracker(t, newMockStore("run-1"), withoutAutomation)
	rec := &recorder{}
	var marks []splits.HalfKilometer
	tracker.Subscribe(rec.listener())
	tracker.Subscribe(ListenerFuncs{HalfKilometer: func(m splits.HalfKilometer) { marks = append(marks, m) }})

	_, err := tracker.Start(context.Background())
	require.NoError(t, err)
	require.NoError(t, tracker.AddLocationSample(sampleAt(0, sched.Now())))

	sched.Advance(3 * time.Minute)
	require.NoError(t, tracker.AddLocationSample(sampleAt(600, sched.Now())))
	sched.Advance(3 * time.Minute)
	require.NoError(t, tracker.AddLocationSample(sampleAt(1200, sched.Now())))

	assert.Equal(t, []EventType{EventStart, EventHalfKilometer, EventSplitComplete}, rec.types(true))
	require.Len(t, marks, 1)
	assert.Equal(t, 1, marks[0].SplitNumber)
}

func TestRunTracker_SignalLostTracksDurationOnly(t *testing.T) {
	tracker, sched := newTestTracker(t, newMockStore("run-1"), func(cfg *Config) {
		cfg.AutoPauseEnabled = false
	})
	rec := &recorder{}
	tracker.Subscribe(rec.listener())

	_, err := tracker.Start(context.Background())
	require.NoError(t, err)
	sched.Advance(25 * time.Second)

	m := tracker.CurrentMetrics()
	assert.True(t, m.SignalLost)
	assert.InDelta(t, 25.0, m.Duration, 1e-9)
	require.Equal(t, 1, rec.count(EventError))
	lost := tracker.Errors(models.ErrorKindSignalLost, 1)
	require.Len(t, lost, 1)
	assert.True(t, lost[0].Recoverable)

	require.NoError(t, tracker.AddLocationSample(sampleAt(0, sched.Now())))
	assert.False(t, tracker.CurrentMetrics().SignalLost)
	assert.True(t, tracker.IsActive())
}

func TestRunTracker_LowPowerThrottling(t *testing.T) {
	tracker, sched := newTestTracker(t, newMockStore("run-1"), withoutAutomation)
	rec := &recorder{}
	tracker.Subscribe(rec.listener())

	_, err := tracker.Start(context.Background())
	require.NoError(t, err)
	tracker.SetLowPower(true)

	r := &runner{t: t, tracker: tracker, sched: sched}
	r.move(10, 3)

	assert.Equal(t, 2, rec.count(EventMetrics), "metrics every 5s in low power mode")
	assert.True(t, tracker.CurrentMetrics().LowPower)

	summary, err := tracker.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TrackPoints)
}

func TestRunTracker_NotifierFallback(t *testing.T) {
	notifier := &mockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return(errors.New("broker unavailable"))

	sched := scheduler.NewManual(trackStart)
	cfg := DefaultConfig()
	withoutAutomation(cfg)
	tracker, err := NewRunTracker(cfg, Dependencies{
		Store:     newMockStore("run-1"),
		Notifier:  notifier,
		Scheduler: sched,
	})
	require.NoError(t, err)

	_, err = tracker.Start(context.Background())
	require.NoError(t, err)

	// Повторы через 5s, 10s и 20s, затем уведомления отключаются
	sched.Advance(40 * time.Second)
	notifier.AssertNumberOfCalls(t, "Notify", 4)

	require.NoError(t, tracker.Pause())
	notifier.AssertNumberOfCalls(t, "Notify", 4)
	assert.Len(t, tracker.Errors(models.ErrorKindDependencyUnavailable, 10), 4)
	assert.True(t, tracker.IsPaused(), "notification failures never affect the run")
}

func TestRunTracker_RecoverInterrupted(t *testing.T) {
	ctx := context.Background()

	t.Run("StaleHeartbeat", func(t *testing.T) {
		heartbeat := trackStart.Add(-10 * time.Minute)
		store := &mockStore{}
		store.On("GetActiveRun", mock.Anything).Return(&models.RunSession{
			ID:        "run-7",
			StartTime: trackStart.Add(-20 * time.Minute),
			Distance:  1800,
			Duration:  600,
			Status:    models.RunStatusActive,
			UpdatedAt: heartbeat,
		}, nil)
		store.On("UpdateRun", mock.Anything, "run-7", mock.MatchedBy(func(u *models.RunUpdate) bool {
			status, _ := u.Status()
			end, _ := u.EndTime()
			return status == models.RunStatusInterrupted && end.Equal(heartbeat)
		})).Return(nil).Once()

		tracker, _ := newTestTracker(t, store, withoutAutomation)
		rec := &recorder{}
		tracker.Subscribe(rec.listener())

		session, err := tracker.RecoverInterrupted(ctx)
		require.NoError(t, err)
		require.NotNil(t, session)
		assert.Equal(t, models.RunStatusInterrupted, session.Status)
		assert.InDelta(t, 600.0, session.Duration, 1e-9)
		assert.Equal(t, []EventType{EventInterrupt}, rec.types(true))
		assert.Equal(t, models.RunStatusIdle, tracker.CurrentMetrics().Status)
		store.AssertExpectations(t)
	})

	t.Run("FreshHeartbeat", func(t *testing.T) {
		store := newMockStore("unused")
		store.On("GetActiveRun", mock.Anything).Return(&models.RunSession{
			ID:        "run-8",
			StartTime: trackStart.Add(-20 * time.Minute),
			Distance:  1800,
			Duration:  600,
			Status:    models.RunStatusPaused,
			Splits:    []models.Split{{Number: 1, Distance: 1000, Duration: 330, Pace: 5.5}},
			UpdatedAt: trackStart.Add(-time.Minute),
		}, nil)

		tracker, sched := newTestTracker(t, store, withoutAutomation)
		session, err := tracker.RecoverInterrupted(ctx)
		require.NoError(t, err)
		require.NotNil(t, session)
		assert.True(t, tracker.IsPaused())
		assert.Equal(t, "run-8", tracker.RunID())

		require.NoError(t, tracker.Resume())
		sched.Advance(60 * time.Second)
		summary, err := tracker.Stop(ctx)
		require.NoError(t, err)
		assert.Equal(t, "run-8", summary.Session.ID)
		assert.InDelta(t, 660.0, summary.Session.Duration, 1e-9)
		assert.Len(t, summary.Session.Splits, 1)
		store.AssertNotCalled(t, "CreateRun", mock.Anything, mock.Anything)
	})

	t.Run("NoActiveRun", func(t *testing.T) {
		store := &mockStore{}
		store.On("GetActiveRun", mock.Anything).Return(nil, nil)

		tracker, _ := newTestTracker(t, store, withoutAutomation)
		session, err := tracker.RecoverInterrupted(ctx)
		require.NoError(t, err)
		assert.Nil(t, session)
	})
}
