package service

import (
	"context"
	"time"

	"github.com/flybeeper/runtracker/internal/models"
)

// LocationProvider источник отсчетов геолокации
type LocationProvider interface {
	// Subscribe начинает доставку отсчетов в handler.
	// models.ErrPermissionDenied означает отказ в доступе.
	Subscribe(ctx context.Context, handler func(models.GeoSample)) error
	Unsubscribe()
	// CurrentLocation возвращает последний известный отсчет
	CurrentLocation(ctx context.Context) (models.GeoSample, error)
}

// RunStore хранилище пробежек. Любой вызов может завершиться ошибкой.
type RunStore interface {
	CreateRun(ctx context.Context, startTime time.Time) (string, error)
	UpdateRun(ctx context.Context, id string, update *models.RunUpdate) error
	AddTrackPoint(ctx context.Context, runID string, sample models.GeoSample) error
	AddSplit(ctx context.Context, runID string, split models.Split) error
	GetActiveRun(ctx context.Context) (*models.RunSession, error)
}

// TrackPointBatcher хранилище, умеющее сохранять точки трека пачкой
type TrackPointBatcher interface {
	AddTrackPoints(ctx context.Context, runID string, samples []models.GeoSample) error
}

// Notifier канал уведомлений о событиях движка
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}
