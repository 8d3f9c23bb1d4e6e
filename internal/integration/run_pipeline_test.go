package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flybeeper/runtracker/internal/config"
	"github.com/flybeeper/runtracker/internal/handler"
	"github.com/flybeeper/runtracker/internal/models"
	"github.com/flybeeper/runtracker/internal/repository"
	"github.com/flybeeper/runtracker/internal/scheduler"
	"github.com/flybeeper/runtracker/internal/service"
	"github.com/flybeeper/runtracker/pkg/utils"
)

const (
	baseLat = 46.5
	baseLon = 8.1
)

var metersPerDegree = models.EarthRadiusMeters * math.Pi / 180

// pipeline движок поверх SQLite с зеркалом в Redis и управляемыми часами
type pipeline struct {
	sched   *scheduler.Manual
	store   *repository.MirroredRepository
	sql     *repository.SQLRepository
	live    *repository.RedisRepository
	tracker *service.RunTracker
	router  http.Handler
}

func newStores(t *testing.T) (*repository.SQLRepository, *repository.RedisRepository, *repository.MirroredRepository) {
	t.Helper()
	logger := utils.NewNopLogger()

	sqlRepo, err := repository.NewSQLRepository(&config.StoreConfig{Driver: "sqlite", DSN: ":memory:"}, logger)
	require.NoError(t, err)
	require.NoError(t, sqlRepo.Migrate(context.Background()))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	live := repository.NewRedisRepositoryWithClient(client, time.Hour, logger)

	t.Cleanup(func() {
		client.Close()
		sqlRepo.Close()
	})
	return sqlRepo, live, repository.NewMirroredRepository(sqlRepo, live, logger)
}

func newPipeline(t *testing.T, start time.Time, sqlRepo *repository.SQLRepository, live *repository.RedisRepository, store *repository.MirroredRepository) *pipeline {
	t.Helper()
	sched := scheduler.NewManual(start)

	tracker, err := service.NewRunTracker(service.DefaultConfig(), service.Dependencies{
		Store:     store,
		Scheduler: sched,
		Logger:    utils.NewNopLogger(),
	})
	require.NoError(t, err)

	cfg := &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{Address: ":0", CORSOrigins: []string{"*"}},
		Performance: config.PerformanceConfig{
			RateLimitRPS:          100000,
			RateLimitBurst:        100000,
			WebSocketPingInterval: time.Second,
			EventBufferSize:       16,
		},
	}
	gin.SetMode(gin.TestMode)
	server := handler.NewServer(cfg, tracker, store, utils.NewNopLogger())

	return &pipeline{
		sched:   sched,
		store:   store,
		sql:     sqlRepo,
		live:    live,
		tracker: tracker,
		router:  server.Handler(),
	}
}

func (p *pipeline) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	p.router.ServeHTTP(w, req)

	var decoded map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded), w.Body.String())
	}
	return w, decoded
}

// post отправляет один отсчет, предварительно переводя часы на его время
func (p *pipeline) post(t *testing.T, lat float64, at time.Time) {
	t.Helper()
	p.sched.AdvanceTo(at)
	w, _ := p.do(t, "POST", "/api/v1/run/samples", handler.SamplesRequest{
		Samples: []handler.SampleRequest{{Lat: &lat, Lon: ptr(baseLon), TS: at.UnixMilli()}},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
}

func ptr(v float64) *float64 { return &v }

func TestRunPipeline_HTTPLifecycleWithAutoPause(t *testing.T) {
	start := time.Date(2026, 5, 1, 7, 0, 0, 0, time.UTC)
	sqlRepo, live, store := newStores(t)
	p := newPipeline(t, start, sqlRepo, live, store)

	var autoPauses, autoResumes, splitsDone int
	p.tracker.Subscribe(service.ListenerFuncs{
		AutoPause:     func(*models.RunSession) { autoPauses++ },
		AutoResume:    func(*models.RunSession) { autoResumes++ },
		SplitComplete: func(models.Split) { splitsDone++ },
	})

	w, _ := p.do(t, "POST", "/api/v1/run/start", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, _ = p.do(t, "POST", "/api/v1/run/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// 10 минут бега 3 м/с
	lat := baseLat
	posted := 0
	for s := 0; s <= 600; s += 2 {
		if s > 0 {
			lat += 6 / metersPerDegree
		}
		p.post(t, lat, start.Add(time.Duration(s)*time.Second))
		posted++
	}

	// Минута на месте: автопауза после 30 с стояния
	for s := 602; s <= 660; s += 2 {
		p.post(t, lat, start.Add(time.Duration(s)*time.Second))
		posted++
	}
	_, body := p.do(t, "GET", "/api/v1/run", nil)
	assert.Equal(t, "paused", body["metrics"].(map[string]interface{})["status"])
	assert.Equal(t, 1, autoPauses)

	// Снова бег до 1000 с: автовозобновление
	for s := 662; s <= 1000; s += 2 {
		lat += 6 / metersPerDegree
		p.post(t, lat, start.Add(time.Duration(s)*time.Second))
		posted++
	}
	_, body = p.do(t, "GET", "/api/v1/run", nil)
	assert.Equal(t, "active", body["metrics"].(map[string]interface{})["status"])
	assert.Equal(t, 1, autoResumes)

	// Невалидный отсчет отклоняется без ошибки всей пачки
	bad := 91.0
	w, body = p.do(t, "POST", "/api/v1/run/samples", handler.SamplesRequest{
		Samples: []handler.SampleRequest{{Lat: &bad, Lon: ptr(baseLon), TS: start.Add(1001 * time.Second).UnixMilli()}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, body = p.do(t, "POST", "/api/v1/run/stop", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	session := body["session"].(map[string]interface{})
	runID := session["id"].(string)
	assert.Equal(t, "completed", session["status"])

	distance := session["distance"].(float64)
	assert.Greater(t, distance, 2700.0)
	assert.Less(t, distance, 2820.0)
	duration := session["duration"].(float64)
	assert.Greater(t, duration, 900.0)
	assert.Less(t, duration, 1000.0)
	assert.Len(t, session["splits"], 2)
	assert.Equal(t, 2, splitsDone)

	// Сохраненная пробежка в SQL
	w, body = p.do(t, "GET", "/api/v1/runs/"+runID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", body["status"])
	assert.InDelta(t, distance, body["distance"].(float64), 0.01)
	assert.Len(t, body["splits"], 2)

	w, body = p.do(t, "GET", "/api/v1/runs/"+runID+"/track?format=geojson", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Feature", body["type"])
	props := body["properties"].(map[string]interface{})
	assert.Equal(t, float64(posted), props["points"])

	// Живой снимок в Redis тоже закрыт
	mirrored, err := p.live.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, mirrored.Status)
	assert.Len(t, mirrored.Splits, 2)

	active, err := p.store.GetActiveRun(context.Background())
	require.NoError(t, err)
	assert.Nil(t, active)

	w, _ = p.do(t, "GET", "/api/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunPipeline_RecoversAfterRestart(t *testing.T) {
	start := time.Date(2026, 5, 1, 7, 0, 0, 0, time.UTC)
	ctx := context.Background()

	// runUntilCrash бежит две минуты и закрывает движок без Stop
	runUntilCrash := func(t *testing.T) (*repository.SQLRepository, *repository.RedisRepository, *repository.MirroredRepository) {
		sqlRepo, live, store := newStores(t)
		p := newPipeline(t, start, sqlRepo, live, store)

		w, _ := p.do(t, "POST", "/api/v1/run/start", nil)
		require.Equal(t, http.StatusCreated, w.Code)

		lat := baseLat
		for s := 0; s <= 120; s += 2 {
			if s > 0 {
				lat += 6 / metersPerDegree
			}
			p.post(t, lat, start.Add(time.Duration(s)*time.Second))
		}
		require.NoError(t, p.tracker.Close(ctx))
		return sqlRepo, live, store
	}

	t.Run("FreshRunContinues", func(t *testing.T) {
		sqlRepo, live, store := runUntilCrash(t)
		p := newPipeline(t, start.Add(3*time.Minute), sqlRepo, live, store)

		session, err := p.tracker.RecoverInterrupted(ctx)
		require.NoError(t, err)
		require.NotNil(t, session)
		assert.Equal(t, models.RunStatusActive, session.Status)
		assert.InDelta(t, 360, session.Distance, 2)

		_, body := p.do(t, "GET", "/api/v1/run", nil)
		assert.Equal(t, "active", body["metrics"].(map[string]interface{})["status"])

		summary, err := p.tracker.Stop(ctx)
		require.NoError(t, err)
		assert.Equal(t, session.ID, summary.Session.ID)
		assert.Equal(t, models.RunStatusCompleted, summary.Session.Status)
	})

	t.Run("StaleRunInterrupted", func(t *testing.T) {
		sqlRepo, live, store := runUntilCrash(t)
		p := newPipeline(t, start.Add(time.Hour), sqlRepo, live, store)

		var interrupted *models.RunSession
		p.tracker.Subscribe(service.ListenerFuncs{
			Interrupt: func(s *models.RunSession) { interrupted = s },
		})

		session, err := p.tracker.RecoverInterrupted(ctx)
		require.NoError(t, err)
		require.NotNil(t, session)
		assert.Equal(t, models.RunStatusInterrupted, session.Status)
		require.NotNil(t, session.EndTime)
		assert.WithinDuration(t, start.Add(120*time.Second), *session.EndTime, time.Second)
		require.NotNil(t, interrupted)

		stored, err := sqlRepo.GetRun(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusInterrupted, stored.Status)

		// Движок свободен для новой пробежки
		_, body := p.do(t, "GET", "/api/v1/run", nil)
		assert.Equal(t, "idle", body["metrics"].(map[string]interface{})["status"])

		again, err := p.tracker.RecoverInterrupted(ctx)
		require.NoError(t, err)
		assert.Nil(t, again, fmt.Sprintf("run %s must not be recovered twice", session.ID))
	})
}
