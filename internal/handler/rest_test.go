package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/flybeeper/runtracker/internal/config"
	"github.com/flybeeper/runtracker/internal/models"
	"github.com/flybeeper/runtracker/internal/service"
	"github.com/flybeeper/runtracker/pkg/utils"
)

// MockTracker для тестирования
type MockTracker struct {
	mock.Mock
}

func (m *MockTracker) Start(ctx context.Context) (*models.RunSession, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RunSession), args.Error(1)
}

func (m *MockTracker) Pause() error {
	return m.Called().Error(0)
}

func (m *MockTracker) Resume() error {
	return m.Called().Error(0)
}

func (m *MockTracker) Stop(ctx context.Context) (*models.RunSummary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RunSummary), args.Error(1)
}

func (m *MockTracker) AddLocationSample(sample models.GeoSample) error {
	return m.Called(sample).Error(0)
}

func (m *MockTracker) CurrentMetrics() models.Metrics {
	return m.Called().Get(0).(models.Metrics)
}

func (m *MockTracker) Session() *models.RunSession {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*models.RunSession)
}

func (m *MockTracker) SetAutoPause(enabled bool) {
	m.Called(enabled)
}

func (m *MockTracker) SetLowPower(enabled bool) {
	m.Called(enabled)
}

func (m *MockTracker) Errors(kind models.ErrorKind, limit int) []models.ErrorEvent {
	args := m.Called(kind, limit)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]models.ErrorEvent)
}

func (m *MockTracker) Subscribe(l service.Listener) func() {
	return m.Called(l).Get(0).(func())
}

// MockRunReader для тестирования
type MockRunReader struct {
	mock.Mock
}

func (m *MockRunReader) GetRun(ctx context.Context, id string) (*models.RunSession, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RunSession), args.Error(1)
}

func (m *MockRunReader) GetTrackPoints(ctx context.Context, runID string, limit int) ([]models.GeoSample, error) {
	args := m.Called(ctx, runID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.GeoSample), args.Error(1)
}

var runStart = time.Date(2026, 5, 1, 7, 0, 0, 0, time.UTC)

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Address:     ":0",
			CORSOrigins: []string{"*"},
		},
		Performance: config.PerformanceConfig{
			RateLimitRPS:          1000,
			RateLimitBurst:        1000,
			WebSocketPingInterval: time.Second,
			WebSocketPongTimeout:  5 * time.Second,
			EventBufferSize:       16,
		},
		Monitoring: config.MonitoringConfig{MetricsEnabled: true},
	}
}

func doJSON(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestRESTHandler_RunLifecycle(t *testing.T) {
	tracker := &MockTracker{}
	handler := NewRESTHandler(tracker, &MockRunReader{}, utils.NewNopLogger())

	router := setupTestRouter()
	router.POST("/api/v1/run/start", handler.StartRun)
	router.POST("/api/v1/run/pause", handler.PauseRun)
	router.POST("/api/v1/run/resume", handler.ResumeRun)
	router.POST("/api/v1/run/stop", handler.StopRun)

	session := &models.RunSession{ID: "run-1", StartTime: runStart, Status: models.RunStatusActive}
	tracker.On("Start", mock.Anything).Return(session, nil).Once()
	tracker.On("Start", mock.Anything).Return(nil, models.ErrAlreadyActive).Once()
	tracker.On("Pause").Return(nil).Once()
	tracker.On("Resume").Return(fmt.Errorf("resume: %w", models.ErrNotPaused)).Once()
	tracker.On("Stop", mock.Anything).Return(&models.RunSummary{Session: session, TrackPoints: 10}, nil).Once()
	tracker.On("CurrentMetrics").Return(models.Metrics{RunID: "run-1", Status: models.RunStatusPaused})

	w := doJSON(router, "POST", "/api/v1/run/start", "")
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "run-1", decode(t, w)["id"])

	w = doJSON(router, "POST", "/api/v1/run/start", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "run_already_active", decode(t, w)["code"])

	w = doJSON(router, "POST", "/api/v1/run/pause", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "paused", decode(t, w)["status"])

	w = doJSON(router, "POST", "/api/v1/run/resume", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "run_not_paused", decode(t, w)["code"])

	w = doJSON(router, "POST", "/api/v1/run/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 10, decode(t, w)["track_points"])

	tracker.AssertExpectations(t)
}

func TestRESTHandler_PauseWithoutRun(t *testing.T) {
	tracker := &MockTracker{}
	handler := NewRESTHandler(tracker, &MockRunReader{}, utils.NewNopLogger())

	router := setupTestRouter()
	router.POST("/api/v1/run/pause", handler.PauseRun)

	tracker.On("Pause").Return(models.ErrNoActiveRun)

	w := doJSON(router, "POST", "/api/v1/run/pause", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "no_active_run", decode(t, w)["code"])
}

func TestRESTHandler_PostSamples(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		setup          func(tr *MockTracker)
		expectedStatus int
		check          func(t *testing.T, body map[string]interface{})
	}{
		{
			name: "Accepted and rejected",
			body: `{"samples":[{"lat":46.5,"lon":8.1,"ts":1777618800000},{"lat":46.6,"lon":8.1,"acc":80,"ts":1777618801000}]}`,
			setup: func(tr *MockTracker) {
				tr.On("AddLocationSample", mock.MatchedBy(func(s models.GeoSample) bool { return s.Accuracy == nil })).Return(nil)
				tr.On("AddLocationSample", mock.MatchedBy(func(s models.GeoSample) bool { return s.Accuracy != nil })).
					Return(fmt.Errorf("accuracy too low: %w", models.ErrInvalidSample))
			},
			expectedStatus: http.StatusAccepted,
			check: func(t *testing.T, body map[string]interface{}) {
				assert.EqualValues(t, 1, body["accepted"])
				assert.EqualValues(t, 1, body["rejected"])
			},
		},
		{
			name: "All rejected",
			body: `{"samples":[{"lat":46.5,"lon":8.1,"ts":1777618800000}]}`,
			setup: func(tr *MockTracker) {
				tr.On("AddLocationSample", mock.Anything).Return(models.ErrInvalidSample)
			},
			expectedStatus: http.StatusUnprocessableEntity,
			check: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "invalid_sample", body["code"])
			},
		},
		{
			name:           "Missing timestamp",
			body:           `{"samples":[{"lat":46.5,"lon":8.1}]}`,
			setup:          func(tr *MockTracker) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Empty batch",
			body:           `{"samples":[]}`,
			setup:          func(tr *MockTracker) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Broken JSON",
			body:           `{"samples":`,
			setup:          func(tr *MockTracker) {},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := &MockTracker{}
			tt.setup(tracker)
			handler := NewRESTHandler(tracker, &MockRunReader{}, utils.NewNopLogger())

			router := setupTestRouter()
			router.POST("/api/v1/run/samples", handler.PostSamples)

			w := doJSON(router, "POST", "/api/v1/run/samples", tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.check != nil {
				tt.check(t, decode(t, w))
			}
			if tt.expectedStatus == http.StatusBadRequest {
				tracker.AssertNotCalled(t, "AddLocationSample", mock.Anything)
			}
		})
	}
}

func TestRESTHandler_UpdateSettings(t *testing.T) {
	tracker := &MockTracker{}
	handler := NewRESTHandler(tracker, &MockRunReader{}, utils.NewNopLogger())

	router := setupTestRouter()
	router.PUT("/api/v1/run/settings", handler.UpdateSettings)

	tracker.On("SetAutoPause", false).Return()
	tracker.On("CurrentMetrics").Return(models.Metrics{})

	w := doJSON(router, "PUT", "/api/v1/run/settings", `{"auto_pause":false}`)
	assert.Equal(t, http.StatusOK, w.Code)

	tracker.AssertCalled(t, "SetAutoPause", false)
	tracker.AssertNotCalled(t, "SetLowPower", mock.Anything)
}

func TestRESTHandler_GetErrors(t *testing.T) {
	tracker := &MockTracker{}
	handler := NewRESTHandler(tracker, &MockRunReader{}, utils.NewNopLogger())

	router := setupTestRouter()
	router.GET("/api/v1/errors", handler.GetErrors)

	tracker.On("Errors", models.ErrorKindSignalLost, 5).Return([]models.ErrorEvent{
		{Kind: models.ErrorKindSignalLost, Message: "no fix", Recoverable: true, Attempt: 1},
	})
	tracker.On("Errors", models.ErrorKind(""), 50).Return(nil)

	w := doJSON(router, "GET", "/api/v1/errors?kind=signal_lost&limit=5", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = doJSON(router, "GET", "/api/v1/errors", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{}, decode(t, w)["errors"])

	tests := []struct {
		name         string
		query        string
		expectedCode string
	}{
		{"Unknown kind", "kind=battery", "invalid_kind"},
		{"Limit not a number", "limit=abc", "invalid_limit"},
		{"Limit too high", "limit=5000", "invalid_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(router, "GET", "/api/v1/errors?"+tt.query, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.expectedCode, decode(t, w)["code"])
		})
	}
}

func TestRESTHandler_StoredRuns(t *testing.T) {
	runs := &MockRunReader{}
	handler := NewRESTHandler(&MockTracker{}, runs, utils.NewNopLogger())

	router := setupTestRouter()
	router.GET("/api/v1/runs/:id", handler.GetStoredRun)
	router.GET("/api/v1/runs/:id/track", handler.GetTrack)

	runs.On("GetRun", mock.Anything, "missing").Return(nil, models.ErrRunNotFound)
	runs.On("GetTrackPoints", mock.Anything, "run-1", 0).Return([]models.GeoSample{
		models.NewGeoSample(46.5, 8.1, runStart),
		models.NewGeoSample(46.501, 8.1, runStart.Add(5*time.Second)),
	}, nil)

	w := doJSON(router, "GET", "/api/v1/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "run_not_found", decode(t, w)["code"])

	w = doJSON(router, "GET", "/api/v1/runs/run-1/track", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["count"])

	w = doJSON(router, "GET", "/api/v1/runs/run-1/track?format=geojson", "")
	require.Equal(t, http.StatusOK, w.Code)
	feature := decode(t, w)
	assert.Equal(t, "Feature", feature["type"])
	geometry := feature["geometry"].(map[string]interface{})
	assert.Equal(t, "LineString", geometry["type"])
	coords := geometry["coordinates"].([]interface{})
	require.Len(t, coords, 2)
	assert.Equal(t, []interface{}{8.1, 46.5}, coords[0])

	w = doJSON(router, "GET", "/api/v1/runs/run-1/track?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_Routes(t *testing.T) {
	tracker := &MockTracker{}
	tracker.On("Session").Return(nil)
	tracker.On("CurrentMetrics").Return(models.Metrics{Status: models.RunStatusIdle})

	gin.SetMode(gin.TestMode)
	server := NewServer(testConfig(), tracker, &MockRunReader{}, utils.NewNopLogger())

	w := doJSON(server.Handler(), "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	w = doJSON(server.Handler(), "GET", "/api/v1/run", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Nil(t, body["session"])
	assert.Equal(t, "idle", body["metrics"].(map[string]interface{})["status"])

	w = doJSON(server.Handler(), "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "runtracker_http_requests_total")
}

func TestServer_RequiresToken(t *testing.T) {
	tracker := &MockTracker{}
	tracker.On("Session").Return(nil)
	tracker.On("CurrentMetrics").Return(models.Metrics{Status: models.RunStatusIdle})

	cfg := testConfig()
	cfg.Server.APITokens = []string{"watch-secret"}

	gin.SetMode(gin.TestMode)
	server := NewServer(cfg, tracker, &MockRunReader{}, utils.NewNopLogger())

	// health check открыт
	w := doJSON(server.Handler(), "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(server.Handler(), "GET", "/api/v1/run", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "missing_token", decode(t, w)["code"])

	req := httptest.NewRequest("GET", "/api/v1/run", nil)
	req.Header.Set("Authorization", "Bearer watch-secret")
	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebSocketHandler_StreamsEvents(t *testing.T) {
	tracker := &MockTracker{}
	tracker.On("CurrentMetrics").Return(models.Metrics{Status: models.RunStatusIdle})

	subscribed := make(chan service.EventSink, 1)
	unsubscribed := make(chan struct{}, 1)
	tracker.On("Subscribe", mock.Anything).
		Run(func(args mock.Arguments) {
			subscribed <- args.Get(0).(service.EventSink)
		}).
		Return(func() { unsubscribed <- struct{}{} })

	gin.SetMode(gin.TestMode)
	server := NewServer(testConfig(), tracker, &MockRunReader{}, utils.NewNopLogger())
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/v1/events?metrics=false"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var sink service.EventSink
	select {
	case sink = <-subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("client was not subscribed")
	}

	readEvent := func() service.Event {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var e service.Event
		require.NoError(t, json.Unmarshal(data, &e))
		return e
	}

	// Снимок состояния при подключении приходит всегда
	assert.Equal(t, service.EventMetrics, readEvent().Type)

	sink.HandleEvent(service.Event{Type: service.EventMetrics, RunID: "run-1"})
	sink.HandleEvent(service.Event{Type: service.EventStart, RunID: "run-1", Timestamp: runStart})

	e := readEvent()
	assert.Equal(t, service.EventStart, e.Type)
	assert.Equal(t, "run-1", e.RunID)

	server.Shutdown(context.Background())
	select {
	case <-unsubscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("client was not unsubscribed")
	}
	assert.Equal(t, 0, server.wsHandler.ClientCount())
}
