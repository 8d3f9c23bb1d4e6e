package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/flybeeper/runtracker/internal/models"
	"github.com/flybeeper/runtracker/internal/service"
	"github.com/flybeeper/runtracker/pkg/utils"
)

// Tracker операции движка, доступные через API
type Tracker interface {
	Start(ctx context.Context) (*models.RunSession, error)
	Pause() error
	Resume() error
	Stop(ctx context.Context) (*models.RunSummary, error)
	AddLocationSample(sample models.GeoSample) error
	CurrentMetrics() models.Metrics
	Session() *models.RunSession
	SetAutoPause(enabled bool)
	SetLowPower(enabled bool)
	Errors(kind models.ErrorKind, limit int) []models.ErrorEvent
	Subscribe(l service.Listener) func()
}

// RunReader чтение сохраненных пробежек
type RunReader interface {
	GetRun(ctx context.Context, id string) (*models.RunSession, error)
	GetTrackPoints(ctx context.Context, runID string, limit int) ([]models.GeoSample, error)
}

// SampleRequest отсчет геолокации в теле запроса
type SampleRequest struct {
	Lat      *float64 `json:"lat" binding:"required"`
	Lon      *float64 `json:"lon" binding:"required"`
	Alt      *float64 `json:"alt"`
	Accuracy *float64 `json:"acc"`
	Speed    *float64 `json:"speed"`
	TS       int64    `json:"ts" binding:"required,gt=0"` // Unix время в миллисекундах
}

// ToSample переводит запрос в отсчет
func (r SampleRequest) ToSample() models.GeoSample {
	return models.GeoSample{
		Latitude:  *r.Lat,
		Longitude: *r.Lon,
		Altitude:  r.Alt,
		Accuracy:  r.Accuracy,
		Speed:     r.Speed,
		Timestamp: time.UnixMilli(r.TS).UTC(),
	}
}

// SamplesRequest пачка отсчетов
type SamplesRequest struct {
	Samples []SampleRequest `json:"samples" binding:"required,min=1,max=1000,dive"`
}

// SettingsRequest переключатели режимов движка
type SettingsRequest struct {
	AutoPause *bool `json:"auto_pause"`
	LowPower  *bool `json:"low_power"`
}

// RESTHandler обработчик REST API endpoints
type RESTHandler struct {
	tracker Tracker
	runs    RunReader
	logger  *utils.Logger
	timeout time.Duration
}

// NewRESTHandler создает новый REST handler
func NewRESTHandler(tracker Tracker, runs RunReader, logger *utils.Logger) *RESTHandler {
	return &RESTHandler{
		tracker: tracker,
		runs:    runs,
		logger:  logger,
		timeout: 30 * time.Second,
	}
}

// GetRun возвращает текущую пробежку и ее метрики
// GET /api/v1/run
func (h *RESTHandler) GetRun(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"session": h.tracker.Session(),
		"metrics": h.tracker.CurrentMetrics(),
	})
}

// StartRun начинает пробежку
// POST /api/v1/run/start
func (h *RESTHandler) StartRun(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	session, err := h.tracker.Start(ctx)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// PauseRun ставит пробежку на паузу
// POST /api/v1/run/pause
func (h *RESTHandler) PauseRun(c *gin.Context) {
	if err := h.tracker.Pause(); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.tracker.CurrentMetrics())
}

// ResumeRun снимает пробежку с паузы
// POST /api/v1/run/resume
func (h *RESTHandler) ResumeRun(c *gin.Context) {
	if err := h.tracker.Resume(); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.tracker.CurrentMetrics())
}

// StopRun завершает пробежку и возвращает итог
// POST /api/v1/run/stop
func (h *RESTHandler) StopRun(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	summary, err := h.tracker.Stop(ctx)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// PostSamples принимает отсчеты геолокации от клиента.
// Отклоненные валидатором отсчеты считаются, но не прерывают пачку.
// POST /api/v1/run/samples
func (h *RESTHandler) PostSamples(c *gin.Context) {
	var request SamplesRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "json_error",
			"message": err.Error(),
		})
		return
	}

	accepted, rejected := 0, 0
	for _, s := range request.Samples {
		if err := h.tracker.AddLocationSample(s.ToSample()); err != nil {
			if errors.Is(err, models.ErrInvalidSample) {
				rejected++
				continue
			}
			h.writeError(c, err)
			return
		}
		accepted++
	}

	if accepted == 0 && rejected > 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":     "invalid_sample",
			"message":  "All samples were rejected",
			"rejected": rejected,
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"accepted": accepted,
		"rejected": rejected,
	})
}

// UpdateSettings переключает автопаузу и режим энергосбережения
// PUT /api/v1/run/settings
func (h *RESTHandler) UpdateSettings(c *gin.Context) {
	var request SettingsRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "json_error",
			"message": "Invalid JSON format",
		})
		return
	}

	if request.AutoPause != nil {
		h.tracker.SetAutoPause(*request.AutoPause)
	}
	if request.LowPower != nil {
		h.tracker.SetLowPower(*request.LowPower)
	}

	h.logger.WithFields(map[string]interface{}{
		"auto_pause": request.AutoPause,
		"low_power":  request.LowPower,
	}).Info("Tracker settings updated")

	c.JSON(http.StatusOK, h.tracker.CurrentMetrics())
}

// GetErrors возвращает историю ошибок
// GET /api/v1/errors?kind=signal_lost&limit=20
func (h *RESTHandler) GetErrors(c *gin.Context) {
	kind := models.ErrorKind(c.Query("kind"))
	if kind != "" && !kind.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "invalid_kind",
			"message": "Unknown error kind",
		})
		return
	}

	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "invalid_limit",
				"message": "Limit must be between 1 and 1000",
			})
			return
		}
		limit = n
	}

	errs := h.tracker.Errors(kind, limit)
	if errs == nil {
		errs = []models.ErrorEvent{}
	}
	c.JSON(http.StatusOK, gin.H{
		"errors": errs,
		"count":  len(errs),
	})
}

// GetStoredRun возвращает сохраненную пробежку
// GET /api/v1/runs/:id
func (h *RESTHandler) GetStoredRun(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	session, err := h.runs.GetRun(ctx, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// GetTrack возвращает трек пробежки, JSON или GeoJSON
// GET /api/v1/runs/:id/track?limit=1000&format=geojson
func (h *RESTHandler) GetTrack(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "invalid_limit",
				"message": "Limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	runID := c.Param("id")
	points, err := h.runs.GetTrackPoints(ctx, runID, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if c.Query("format") == "geojson" {
		c.JSON(http.StatusOK, trackFeature(runID, points))
		return
	}

	if points == nil {
		points = []models.GeoSample{}
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id": runID,
		"points": points,
		"count":  len(points),
	})
}

// trackFeature строит GeoJSON LineString трека
func trackFeature(runID string, points []models.GeoSample) *geojson.Feature {
	line := make(orb.LineString, 0, len(points))
	for _, p := range points {
		line = append(line, orb.Point{p.Longitude, p.Latitude})
	}

	feature := geojson.NewFeature(line)
	feature.Properties["run_id"] = runID
	feature.Properties["points"] = len(points)
	if len(points) > 0 {
		feature.Properties["start"] = points[0].Timestamp
		feature.Properties["end"] = points[len(points)-1].Timestamp
	}
	return feature
}

// writeError переводит ошибку движка в HTTP ответ
func (h *RESTHandler) writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, models.ErrAlreadyActive):
		status, code = http.StatusConflict, "run_already_active"
	case errors.Is(err, models.ErrNoActiveRun):
		status, code = http.StatusConflict, "no_active_run"
	case errors.Is(err, models.ErrNotPaused):
		status, code = http.StatusConflict, "run_not_paused"
	case errors.Is(err, models.ErrInvalidSample):
		status, code = http.StatusUnprocessableEntity, "invalid_sample"
	case errors.Is(err, models.ErrRunNotFound):
		status, code = http.StatusNotFound, "run_not_found"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "timeout"
	}

	if status == http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
	}

	c.JSON(status, gin.H{
		"code":    code,
		"message": err.Error(),
	})
}
