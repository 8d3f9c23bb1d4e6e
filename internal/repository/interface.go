package repository

import (
	"context"
	"time"

	"github.com/flybeeper/runtracker/internal/models"
)

// RunRepository интерфейс хранилища пробежек
type RunRepository interface {
	// Проверка соединения
	Ping(ctx context.Context) error
	Close() error

	// Операции с пробежками
	CreateRun(ctx context.Context, startTime time.Time) (string, error)
	InsertRun(ctx context.Context, id string, startTime time.Time) error
	UpdateRun(ctx context.Context, id string, update *models.RunUpdate) error
	GetRun(ctx context.Context, id string) (*models.RunSession, error)

	// GetActiveRun возвращает незавершенную пробежку или nil
	GetActiveRun(ctx context.Context) (*models.RunSession, error)

	// Операции с треком
	AddTrackPoint(ctx context.Context, runID string, sample models.GeoSample) error
	AddTrackPoints(ctx context.Context, runID string, samples []models.GeoSample) error
	GetTrackPoints(ctx context.Context, runID string, limit int) ([]models.GeoSample, error)

	// Операции с отрезками
	AddSplit(ctx context.Context, runID string, split models.Split) error
}

// Ensure implementations
var _ RunRepository = (*SQLRepository)(nil)
var _ RunRepository = (*RedisRepository)(nil)
var _ RunRepository = (*MirroredRepository)(nil)
