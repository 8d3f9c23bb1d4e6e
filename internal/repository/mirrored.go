package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flybeeper/runtracker/internal/models"
	"github.com/flybeeper/runtracker/pkg/utils"
)

// MirroredRepository пишет в основное хранилище и дублирует записи в зеркало
// (живой снимок в Redis). Ошибки зеркала только логируются; чтение идет
// из основного хранилища.
type MirroredRepository struct {
	primary RunRepository
	mirror  RunRepository
	logger  *utils.Logger
}

// NewMirroredRepository создает зеркалируемый репозиторий
func NewMirroredRepository(primary, mirror RunRepository, logger *utils.Logger) *MirroredRepository {
	return &MirroredRepository{primary: primary, mirror: mirror, logger: logger}
}

// Ping проверяет основное хранилище
func (r *MirroredRepository) Ping(ctx context.Context) error {
	return r.primary.Ping(ctx)
}

// Close закрывает оба хранилища
func (r *MirroredRepository) Close() error {
	mirrorErr := r.mirror.Close()
	if err := r.primary.Close(); err != nil {
		return err
	}
	return mirrorErr
}

// CreateRun создает пробежку с общим идентификатором в обоих хранилищах
func (r *MirroredRepository) CreateRun(ctx context.Context, startTime time.Time) (string, error) {
	id := uuid.NewString()
	if err := r.InsertRun(ctx, id, startTime); err != nil {
		return "", err
	}
	return id, nil
}

// InsertRun создает пробежку с заданным идентификатором
func (r *MirroredRepository) InsertRun(ctx context.Context, id string, startTime time.Time) error {
	if err := r.primary.InsertRun(ctx, id, startTime); err != nil {
		return err
	}
	r.mirrored("insert_run", id, r.mirror.InsertRun(ctx, id, startTime))
	return nil
}

// UpdateRun обновляет пробежку
func (r *MirroredRepository) UpdateRun(ctx context.Context, id string, update *models.RunUpdate) error {
	if err := r.primary.UpdateRun(ctx, id, update); err != nil {
		return err
	}
	r.mirrored("update_run", id, r.mirror.UpdateRun(ctx, id, update))
	return nil
}

// GetRun читает из основного хранилища
func (r *MirroredRepository) GetRun(ctx context.Context, id string) (*models.RunSession, error) {
	return r.primary.GetRun(ctx, id)
}

// GetActiveRun читает из основного хранилища
func (r *MirroredRepository) GetActiveRun(ctx context.Context) (*models.RunSession, error) {
	return r.primary.GetActiveRun(ctx)
}

// AddTrackPoint сохраняет точку трека
func (r *MirroredRepository) AddTrackPoint(ctx context.Context, runID string, sample models.GeoSample) error {
	return r.AddTrackPoints(ctx, runID, []models.GeoSample{sample})
}

// AddTrackPoints сохраняет точки трека
func (r *MirroredRepository) AddTrackPoints(ctx context.Context, runID string, samples []models.GeoSample) error {
	if err := r.primary.AddTrackPoints(ctx, runID, samples); err != nil {
		return err
	}
	r.mirrored("add_track_points", runID, r.mirror.AddTrackPoints(ctx, runID, samples))
	return nil
}

// GetTrackPoints читает из основного хранилища
func (r *MirroredRepository) GetTrackPoints(ctx context.Context, runID string, limit int) ([]models.GeoSample, error) {
	return r.primary.GetTrackPoints(ctx, runID, limit)
}

// AddSplit сохраняет отрезок
func (r *MirroredRepository) AddSplit(ctx context.Context, runID string, split models.Split) error {
	if err := r.primary.AddSplit(ctx, runID, split); err != nil {
		return err
	}
	r.mirrored("add_split", runID, r.mirror.AddSplit(ctx, runID, split))
	return nil
}

func (r *MirroredRepository) mirrored(operation, runID string, err error) {
	if err == nil {
		return
	}
	r.logger.WithFields(map[string]interface{}{
		"operation": operation,
		"run_id":    runID,
	}).WithError(fmt.Errorf("mirror write failed: %w", err)).Warn("Mirror is out of sync")
}
