package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/flybeeper/runtracker/internal/config"
	"github.com/flybeeper/runtracker/internal/metrics"
	"github.com/flybeeper/runtracker/internal/models"
	"github.com/flybeeper/runtracker/pkg/utils"
)

// DefaultGeohashPrecision точность geohash для точек трека (~5 м)
const DefaultGeohashPrecision = 9

// dialect различия SQL между драйверами
type dialect struct {
	name         string
	insertIgnore string
	schema       []string
}

var mysqlDialect = dialect{
	name:         "mysql",
	insertIgnore: "INSERT IGNORE INTO",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id           VARCHAR(36) NOT NULL PRIMARY KEY,
			start_time   BIGINT NOT NULL,
			end_time     BIGINT NULL,
			distance     DOUBLE NOT NULL DEFAULT 0,
			duration     DOUBLE NOT NULL DEFAULT 0,
			average_pace DOUBLE NOT NULL DEFAULT 0,
			status       VARCHAR(16) NOT NULL,
			updated_at   BIGINT NOT NULL,
			INDEX idx_runs_status (status, start_time)
		)`,
		`CREATE TABLE IF NOT EXISTS track_points (
			run_id   VARCHAR(36) NOT NULL,
			ts       BIGINT NOT NULL,
			lat      DOUBLE NOT NULL,
			lon      DOUBLE NOT NULL,
			altitude DOUBLE NULL,
			accuracy DOUBLE NULL,
			speed    DOUBLE NULL,
			geohash  VARCHAR(12) NOT NULL,
			PRIMARY KEY (run_id, ts)
		)`,
		`CREATE TABLE IF NOT EXISTS splits (
			run_id       VARCHAR(36) NOT NULL,
			number       INT NOT NULL,
			distance     DOUBLE NOT NULL,
			duration     DOUBLE NOT NULL,
			pace         DOUBLE NOT NULL,
			completed_at BIGINT NOT NULL,
			PRIMARY KEY (run_id, number)
		)`,
	},
}

var sqliteDialect = dialect{
	name:         "sqlite",
	insertIgnore: "INSERT OR IGNORE INTO",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id           TEXT NOT NULL PRIMARY KEY,
			start_time   INTEGER NOT NULL,
			end_time     INTEGER NULL,
			distance     REAL NOT NULL DEFAULT 0,
			duration     REAL NOT NULL DEFAULT 0,
			average_pace REAL NOT NULL DEFAULT 0,
			status       TEXT NOT NULL,
			updated_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs (status, start_time)`,
		`CREATE TABLE IF NOT EXISTS track_points (
			run_id   TEXT NOT NULL,
			ts       INTEGER NOT NULL,
			lat      REAL NOT NULL,
			lon      REAL NOT NULL,
			altitude REAL NULL,
			accuracy REAL NULL,
			speed    REAL NULL,
			geohash  TEXT NOT NULL,
			PRIMARY KEY (run_id, ts)
		)`,
		`CREATE TABLE IF NOT EXISTS splits (
			run_id       TEXT NOT NULL,
			number       INTEGER NOT NULL,
			distance     REAL NOT NULL,
			duration     REAL NOT NULL,
			pace         REAL NOT NULL,
			completed_at INTEGER NOT NULL,
			PRIMARY KEY (run_id, number)
		)`,
	},
}

// SQLRepository хранилище пробежек в MySQL или встроенном SQLite
type SQLRepository struct {
	db               *sql.DB
	dialect          dialect
	logger           *utils.Logger
	config           *config.StoreConfig
	geohashPrecision int
}

// NewSQLRepository создает SQL репозиторий
func NewSQLRepository(cfg *config.StoreConfig, logger *utils.Logger) (*SQLRepository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("store config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store DSN is required")
	}

	var (
		d   dialect
		dsn = cfg.DSN
	)
	switch cfg.Driver {
	case "mysql":
		d = mysqlDialect
		// UpdateRun проверяет количество найденных, а не измененных строк
		mysqlCfg, err := mysql.ParseDSN(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to parse MySQL DSN: %w", err)
		}
		mysqlCfg.ClientFoundRows = true
		dsn = mysqlCfg.FormatDSN()
	case "sqlite":
		d = sqliteDialect
	default:
		return nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}

	db, err := sql.Open(d.name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", d.name, err)
	}

	// Настройки connection pool
	if d.name == "sqlite" {
		// Один писатель; для :memory: все запросы должны идти в одно соединение
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetConnMaxLifetime(1 * time.Hour)
	}

	repo := &SQLRepository{
		db:               db,
		dialect:          d,
		logger:           logger,
		config:           cfg,
		geohashPrecision: DefaultGeohashPrecision,
	}

	return repo, nil
}

// SetGeohashPrecision задает точность geohash для новых точек трека
func (r *SQLRepository) SetGeohashPrecision(precision int) {
	if precision >= 1 && precision <= 12 {
		r.geohashPrecision = precision
	}
}

// Migrate создает таблицы, если их нет
func (r *SQLRepository) Migrate(ctx context.Context) error {
	for _, stmt := range r.dialect.schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	r.logger.WithField("driver", r.dialect.name).Info("Store schema is up to date")
	return nil
}

// Ping проверяет соединение
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close закрывает соединение
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// CreateRun создает пробежку и возвращает ее идентификатор
func (r *SQLRepository) CreateRun(ctx context.Context, startTime time.Time) (string, error) {
	id := uuid.NewString()
	if err := r.InsertRun(ctx, id, startTime); err != nil {
		return "", err
	}
	return id, nil
}

// InsertRun создает пробежку с заданным идентификатором
func (r *SQLRepository) InsertRun(ctx context.Context, id string, startTime time.Time) (err error) {
	defer r.observe("insert_run", time.Now(), &err)

	query := `INSERT INTO runs (id, start_time, status, updated_at) VALUES (?, ?, ?, ?)`
	ms := startTime.UnixMilli()
	if _, err = r.db.ExecContext(ctx, query, id, ms, string(models.RunStatusActive), ms); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	r.logger.WithField("run_id", id).Debug("Created run")
	return nil
}

// UpdateRun применяет частичное обновление
func (r *SQLRepository) UpdateRun(ctx context.Context, id string, update *models.RunUpdate) (err error) {
	defer r.observe("update_run", time.Now(), &err)

	if update == nil {
		return fmt.Errorf("run update cannot be nil")
	}
	if err = update.Validate(); err != nil {
		return fmt.Errorf("invalid run update: %w", err)
	}

	var (
		sets []string
		args []interface{}
	)
	if v, ok := update.Distance(); ok {
		sets, args = append(sets, "distance = ?"), append(args, v)
	}
	if v, ok := update.Duration(); ok {
		sets, args = append(sets, "duration = ?"), append(args, v)
	}
	if v, ok := update.AveragePace(); ok {
		sets, args = append(sets, "average_pace = ?"), append(args, v)
	}
	if v, ok := update.Status(); ok {
		sets, args = append(sets, "status = ?"), append(args, string(v))
	}
	if v, ok := update.EndTime(); ok {
		sets, args = append(sets, "end_time = ?"), append(args, v.UnixMilli())
	}
	if v, ok := update.Heartbeat(); ok {
		sets, args = append(sets, "updated_at = ?"), append(args, v.UnixMilli())
	}
	args = append(args, id)

	query := "UPDATE runs SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check updated rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update run %s: %w", id, models.ErrRunNotFound)
	}
	return nil
}

// GetRun загружает пробежку вместе с отрезками
func (r *SQLRepository) GetRun(ctx context.Context, id string) (session *models.RunSession, err error) {
	defer r.observe("get_run", time.Now(), &err)

	query := `
		SELECT id, start_time, end_time, distance, duration, average_pace, status, updated_at
		FROM runs
		WHERE id = ?
	`
	session, err = r.scanRun(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get run %s: %w", id, models.ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	if session.Splits, err = r.getSplits(ctx, id); err != nil {
		return nil, err
	}
	return session, nil
}

// GetActiveRun возвращает последнюю незавершенную пробежку или nil
func (r *SQLRepository) GetActiveRun(ctx context.Context) (session *models.RunSession, err error) {
	defer r.observe("get_active_run", time.Now(), &err)

	query := `
		SELECT id, start_time, end_time, distance, duration, average_pace, status, updated_at
		FROM runs
		WHERE status IN (?, ?)
		ORDER BY start_time DESC
		LIMIT 1
	`
	row := r.db.QueryRowContext(ctx, query, string(models.RunStatusActive), string(models.RunStatusPaused))
	session, err = r.scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active run: %w", err)
	}

	if session.Splits, err = r.getSplits(ctx, session.ID); err != nil {
		return nil, err
	}
	return session, nil
}

func (r *SQLRepository) scanRun(row *sql.Row) (*models.RunSession, error) {
	var (
		session   models.RunSession
		startMs   int64
		endMs     sql.NullInt64
		status    string
		updatedMs int64
	)
	err := row.Scan(&session.ID, &startMs, &endMs, &session.Distance, &session.Duration,
		&session.AveragePace, &status, &updatedMs)
	if err != nil {
		return nil, err
	}

	session.StartTime = time.UnixMilli(startMs).UTC()
	session.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	session.Status = models.RunStatus(status)
	if endMs.Valid {
		end := time.UnixMilli(endMs.Int64).UTC()
		session.EndTime = &end
	}
	return &session, nil
}

func (r *SQLRepository) getSplits(ctx context.Context, runID string) ([]models.Split, error) {
	query := `
		SELECT number, distance, duration, pace, completed_at
		FROM splits
		WHERE run_id = ?
		ORDER BY number
	`
	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query splits: %w", err)
	}
	defer rows.Close()

	splits := []models.Split{}
	for rows.Next() {
		var (
			split       models.Split
			completedMs int64
		)
		if err := rows.Scan(&split.Number, &split.Distance, &split.Duration, &split.Pace, &completedMs); err != nil {
			return nil, fmt.Errorf("failed to scan split: %w", err)
		}
		split.CompletedAt = time.UnixMilli(completedMs).UTC()
		splits = append(splits, split)
	}
	return splits, rows.Err()
}

// AddTrackPoint сохраняет одну точку трека
func (r *SQLRepository) AddTrackPoint(ctx context.Context, runID string, sample models.GeoSample) error {
	return r.AddTrackPoints(ctx, runID, []models.GeoSample{sample})
}

// AddTrackPoints сохраняет точки трека одной транзакцией.
// Повторная запись точки с тем же временем игнорируется.
func (r *SQLRepository) AddTrackPoints(ctx context.Context, runID string, samples []models.GeoSample) (err error) {
	if len(samples) == 0 {
		return nil
	}
	defer r.observe("add_track_points", time.Now(), &err)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := r.dialect.insertIgnore + ` track_points
		(run_id, ts, lat, lon, altitude, accuracy, speed, geohash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare track point insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range samples {
		_, err = stmt.ExecContext(ctx, runID, s.Timestamp.UnixMilli(), s.Latitude, s.Longitude,
			nullFloat(s.Altitude), nullFloat(s.Accuracy), nullFloat(s.Speed), s.Geohash(r.geohashPrecision))
		if err != nil {
			return fmt.Errorf("failed to insert track point: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit track points: %w", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"run_id": runID,
		"count":  len(samples),
	}).Debug("Saved track points")
	return nil
}

// GetTrackPoints возвращает точки трека по времени; limit <= 0 без ограничения
func (r *SQLRepository) GetTrackPoints(ctx context.Context, runID string, limit int) (samples []models.GeoSample, err error) {
	defer r.observe("get_track_points", time.Now(), &err)

	query := `
		SELECT ts, lat, lon, altitude, accuracy, speed
		FROM track_points
		WHERE run_id = ?
		ORDER BY ts
	`
	args := []interface{}{runID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query track points: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ts                        int64
			lat, lon                  float64
			altitude, accuracy, speed sql.NullFloat64
		)
		if err := rows.Scan(&ts, &lat, &lon, &altitude, &accuracy, &speed); err != nil {
			return nil, fmt.Errorf("failed to scan track point: %w", err)
		}
		s := models.NewGeoSample(lat, lon, time.UnixMilli(ts).UTC())
		if altitude.Valid {
			s = s.WithAltitude(altitude.Float64)
		}
		if accuracy.Valid {
			s = s.WithAccuracy(accuracy.Float64)
		}
		if speed.Valid {
			s = s.WithSpeed(speed.Float64)
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// AddSplit сохраняет закрытый отрезок; повторная запись игнорируется
func (r *SQLRepository) AddSplit(ctx context.Context, runID string, split models.Split) (err error) {
	defer r.observe("add_split", time.Now(), &err)

	query := r.dialect.insertIgnore + ` splits
		(run_id, number, distance, duration, pace, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query, runID, split.Number, split.Distance, split.Duration,
		split.Pace, split.CompletedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert split: %w", err)
	}
	return nil
}

func (r *SQLRepository) observe(operation string, start time.Time, err *error) {
	metrics.StoreOperationDuration.WithLabelValues(r.dialect.name, operation).Observe(time.Since(start).Seconds())
	if *err != nil && !errors.Is(*err, models.ErrRunNotFound) {
		metrics.StoreOperationErrors.WithLabelValues(r.dialect.name, operation).Inc()
	}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
