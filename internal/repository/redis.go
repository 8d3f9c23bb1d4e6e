package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/flybeeper/runtracker/internal/config"
	"github.com/flybeeper/runtracker/internal/metrics"
	"github.com/flybeeper/runtracker/internal/models"
	"github.com/flybeeper/runtracker/pkg/utils"
)

const (
	// Префиксы ключей
	RunPrefix      = "run:"        // run:{id} - HSET снимок пробежки
	TrackSuffix    = ":track"      // run:{id}:track - список точек трека
	SplitsSuffix   = ":splits"     // run:{id}:splits - список отрезков
	ActiveRunKey   = "runs:active" // идентификатор незавершенной пробежки
	DefaultRunTTL  = 24 * time.Hour
	MaxTrackPoints = 10000 // Максимум точек трека в Redis
)

// trackPointRecord компактное представление точки трека в списке
type trackPointRecord struct {
	Lat      float64  `json:"lat"`
	Lon      float64  `json:"lon"`
	Alt      *float64 `json:"alt,omitempty"`
	Accuracy *float64 `json:"acc,omitempty"`
	Speed    *float64 `json:"speed,omitempty"`
	Ts       int64    `json:"ts"` // Unix ms
}

// RedisRepository живой снимок пробежки в Redis
type RedisRepository struct {
	client *redis.Client
	logger *utils.Logger
	ttl    time.Duration
}

// NewRedisRepository создает новый Redis репозиторий
func NewRedisRepository(cfg *config.RedisConfig, logger *utils.Logger) (*RedisRepository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	// Парсим Redis URL
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Дополнительные настройки
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	opt.DB = cfg.DB
	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}
	opt.MinIdleConns = cfg.MinIdleConns
	opt.ConnMaxIdleTime = 30 * time.Minute
	opt.DialTimeout = 10 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	ttl := cfg.RunTTL
	if ttl <= 0 {
		ttl = DefaultRunTTL
	}

	return &RedisRepository{
		client: redis.NewClient(opt),
		logger: logger,
		ttl:    ttl,
	}, nil
}

// NewRedisRepositoryWithClient создает репозиторий поверх готового клиента
func NewRedisRepositoryWithClient(client *redis.Client, ttl time.Duration, logger *utils.Logger) *RedisRepository {
	if ttl <= 0 {
		ttl = DefaultRunTTL
	}
	return &RedisRepository{client: client, logger: logger, ttl: ttl}
}

// Ping проверяет соединение с Redis
func (r *RedisRepository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func (r *RedisRepository) Close() error {
	return r.client.Close()
}

func runKey(id string) string    { return RunPrefix + id }
func trackKey(id string) string  { return RunPrefix + id + TrackSuffix }
func splitsKey(id string) string { return RunPrefix + id + SplitsSuffix }

// CreateRun создает пробежку и делает ее активной
func (r *RedisRepository) CreateRun(ctx context.Context, startTime time.Time) (string, error) {
	id := uuid.NewString()
	if err := r.InsertRun(ctx, id, startTime); err != nil {
		return "", err
	}
	return id, nil
}

// InsertRun создает пробежку с заданным идентификатором
func (r *RedisRepository) InsertRun(ctx context.Context, id string, startTime time.Time) (err error) {
	defer r.observe("insert_run", time.Now(), &err)

	ms := startTime.UnixMilli()
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, runKey(id), map[string]interface{}{
			"start_time":   ms,
			"distance":     0,
			"duration":     0,
			"average_pace": 0,
			"status":       string(models.RunStatusActive),
			"updated_at":   ms,
		})
		pipe.Expire(ctx, runKey(id), r.ttl)
		pipe.Set(ctx, ActiveRunKey, id, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	r.logger.WithField("run_id", id).Debug("Created run in Redis")
	return nil
}

// UpdateRun применяет частичное обновление. Завершенная пробежка
// перестает быть активной.
func (r *RedisRepository) UpdateRun(ctx context.Context, id string, update *models.RunUpdate) (err error) {
	defer r.observe("update_run", time.Now(), &err)

	if update == nil {
		return fmt.Errorf("run update cannot be nil")
	}
	if err = update.Validate(); err != nil {
		return fmt.Errorf("invalid run update: %w", err)
	}

	exists, err := r.client.Exists(ctx, runKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to check run: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("update run %s: %w", id, models.ErrRunNotFound)
	}

	fields := make(map[string]interface{})
	if v, ok := update.Distance(); ok {
		fields["distance"] = v
	}
	if v, ok := update.Duration(); ok {
		fields["duration"] = v
	}
	if v, ok := update.AveragePace(); ok {
		fields["average_pace"] = v
	}
	if v, ok := update.EndTime(); ok {
		fields["end_time"] = v.UnixMilli()
	}
	if v, ok := update.Heartbeat(); ok {
		fields["updated_at"] = v.UnixMilli()
	}
	status, hasStatus := update.Status()
	if hasStatus {
		fields["status"] = string(status)
	}

	var activeID string
	if hasStatus && !status.IsLive() {
		activeID, err = r.client.Get(ctx, ActiveRunKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to read active run: %w", err)
		}
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, runKey(id), fields)
		pipe.Expire(ctx, runKey(id), r.ttl)
		if activeID == id {
			pipe.Del(ctx, ActiveRunKey)
		} else if hasStatus && status.IsLive() {
			pipe.Set(ctx, ActiveRunKey, id, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

// GetRun загружает пробежку вместе с отрезками
func (r *RedisRepository) GetRun(ctx context.Context, id string) (session *models.RunSession, err error) {
	defer r.observe("get_run", time.Now(), &err)

	fields, err := r.client.HGetAll(ctx, runKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("get run %s: %w", id, models.ErrRunNotFound)
	}

	session, err = parseRunHash(id, fields)
	if err != nil {
		return nil, err
	}

	rawSplits, err := r.client.LRange(ctx, splitsKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get splits: %w", err)
	}
	session.Splits = make([]models.Split, 0, len(rawSplits))
	for _, raw := range rawSplits {
		var split models.Split
		if err := json.Unmarshal([]byte(raw), &split); err != nil {
			r.logger.WithField("run_id", id).WithError(err).Warn("Failed to decode split")
			continue
		}
		session.Splits = append(session.Splits, split)
	}
	return session, nil
}

// GetActiveRun возвращает незавершенную пробежку или nil
func (r *RedisRepository) GetActiveRun(ctx context.Context) (*models.RunSession, error) {
	id, err := r.client.Get(ctx, ActiveRunKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active run: %w", err)
	}

	session, err := r.GetRun(ctx, id)
	if errors.Is(err, models.ErrRunNotFound) {
		// Снимок истек, указатель устарел
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !session.Status.IsLive() {
		return nil, nil
	}
	return session, nil
}

// AddTrackPoint добавляет точку трека
func (r *RedisRepository) AddTrackPoint(ctx context.Context, runID string, sample models.GeoSample) error {
	return r.AddTrackPoints(ctx, runID, []models.GeoSample{sample})
}

// AddTrackPoints добавляет точки трека, храня не более MaxTrackPoints последних
func (r *RedisRepository) AddTrackPoints(ctx context.Context, runID string, samples []models.GeoSample) (err error) {
	if len(samples) == 0 {
		return nil
	}
	defer r.observe("add_track_points", time.Now(), &err)

	values := make([]interface{}, 0, len(samples))
	for _, s := range samples {
		data, err := json.Marshal(trackPointRecord{
			Lat:      s.Latitude,
			Lon:      s.Longitude,
			Alt:      s.Altitude,
			Accuracy: s.Accuracy,
			Speed:    s.Speed,
			Ts:       s.Timestamp.UnixMilli(),
		})
		if err != nil {
			return fmt.Errorf("failed to encode track point: %w", err)
		}
		values = append(values, data)
	}

	key := trackKey(runID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		pipe.LTrim(ctx, key, -MaxTrackPoints, -1)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add track points: %w", err)
	}
	return nil
}

// GetTrackPoints возвращает точки трека по времени; limit <= 0 без ограничения
func (r *RedisRepository) GetTrackPoints(ctx context.Context, runID string, limit int) (samples []models.GeoSample, err error) {
	defer r.observe("get_track_points", time.Now(), &err)

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	raw, err := r.client.LRange(ctx, trackKey(runID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get track points: %w", err)
	}

	samples = make([]models.GeoSample, 0, len(raw))
	for _, item := range raw {
		var rec trackPointRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			r.logger.WithField("run_id", runID).WithError(err).Warn("Failed to decode track point")
			continue
		}
		samples = append(samples, models.GeoSample{
			Latitude:  rec.Lat,
			Longitude: rec.Lon,
			Altitude:  rec.Alt,
			Accuracy:  rec.Accuracy,
			Speed:     rec.Speed,
			Timestamp: time.UnixMilli(rec.Ts).UTC(),
		})
	}
	return samples, nil
}

// AddSplit добавляет закрытый отрезок
func (r *RedisRepository) AddSplit(ctx context.Context, runID string, split models.Split) (err error) {
	defer r.observe("add_split", time.Now(), &err)

	data, err := json.Marshal(split)
	if err != nil {
		return fmt.Errorf("failed to encode split: %w", err)
	}

	key := splitsKey(runID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add split: %w", err)
	}
	return nil
}

func (r *RedisRepository) observe(operation string, start time.Time, err *error) {
	metrics.StoreOperationDuration.WithLabelValues("redis", operation).Observe(time.Since(start).Seconds())
	if *err != nil && !errors.Is(*err, models.ErrRunNotFound) {
		metrics.StoreOperationErrors.WithLabelValues("redis", operation).Inc()
	}
}

func parseRunHash(id string, fields map[string]string) (*models.RunSession, error) {
	session := &models.RunSession{
		ID:     id,
		Status: models.RunStatus(fields["status"]),
	}

	ms, err := parseInt(fields, "start_time")
	if err != nil {
		return nil, err
	}
	session.StartTime = time.UnixMilli(ms).UTC()

	if ms, err = parseInt(fields, "updated_at"); err != nil {
		return nil, err
	}
	session.UpdatedAt = time.UnixMilli(ms).UTC()

	if _, ok := fields["end_time"]; ok {
		if ms, err = parseInt(fields, "end_time"); err != nil {
			return nil, err
		}
		end := time.UnixMilli(ms).UTC()
		session.EndTime = &end
	}

	if session.Distance, err = parseFloat(fields, "distance"); err != nil {
		return nil, err
	}
	if session.Duration, err = parseFloat(fields, "duration"); err != nil {
		return nil, err
	}
	if session.AveragePace, err = parseFloat(fields, "average_pace"); err != nil {
		return nil, err
	}
	return session, nil
}

func parseInt(fields map[string]string, key string) (int64, error) {
	v, err := strconv.ParseInt(fields[key], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid run field %s: %w", key, err)
	}
	return v, nil
}

func parseFloat(fields map[string]string, key string) (float64, error) {
	v, err := strconv.ParseFloat(fields[key], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid run field %s: %w", key, err)
	}
	return v, nil
}
