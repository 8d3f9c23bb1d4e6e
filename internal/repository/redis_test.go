package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/flybeeper/runtracker/internal/config"
	"github.com/flybeeper/runtracker/internal/models"
	"github.com/flybeeper/runtracker/pkg/utils"
)

// RedisTestSuite тесты Redis репозитория на miniredis
type RedisTestSuite struct {
	suite.Suite
	server *miniredis.Miniredis
	repo   *RedisRepository
	ctx    context.Context
}

func (s *RedisTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.server = miniredis.RunT(s.T())

	var err error
	s.repo, err = NewRedisRepository(&config.RedisConfig{
		URL:    "redis://" + s.server.Addr(),
		RunTTL: time.Hour,
	}, utils.NewNopLogger())
	s.Require().NoError(err)
	s.T().Cleanup(func() { s.repo.Close() })
}

func (s *RedisTestSuite) TestRunLifecycle() {
	s.Require().NoError(s.repo.Ping(s.ctx))

	id, err := s.repo.CreateRun(s.ctx, runStart)
	s.Require().NoError(err)

	s.True(s.server.Exists(runKey(id)))
	s.Equal(time.Hour, s.server.TTL(runKey(id)))
	active, err := s.server.Get(ActiveRunKey)
	s.Require().NoError(err)
	s.Equal(id, active)

	heartbeat := runStart.Add(10 * time.Minute)
	s.Require().NoError(s.repo.UpdateRun(s.ctx, id, models.NewRunUpdate().
		WithDistance(1800).WithDuration(600).WithHeartbeat(heartbeat)))

	session, err := s.repo.GetActiveRun(s.ctx)
	s.Require().NoError(err)
	s.Require().NotNil(session)
	s.Equal(id, session.ID)
	s.Equal(1800.0, session.Distance)
	s.Equal(600.0, session.Duration)
	s.Equal(heartbeat, session.UpdatedAt)
	s.Equal(runStart, session.StartTime)

	end := runStart.Add(20 * time.Minute)
	s.Require().NoError(s.repo.UpdateRun(s.ctx, id, models.NewRunUpdate().
		WithStatus(models.RunStatusCompleted).WithEndTime(end)))

	s.False(s.server.Exists(ActiveRunKey))
	session, err = s.repo.GetActiveRun(s.ctx)
	s.Require().NoError(err)
	s.Nil(session)

	completed, err := s.repo.GetRun(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(models.RunStatusCompleted, completed.Status)
	s.Require().NotNil(completed.EndTime)
	s.Equal(end, *completed.EndTime)
}

func (s *RedisTestSuite) TestUpdateMissingRun() {
	err := s.repo.UpdateRun(s.ctx, "missing", models.NewRunUpdate().WithDistance(10))
	s.ErrorIs(err, models.ErrRunNotFound)

	_, err = s.repo.GetRun(s.ctx, "missing")
	s.ErrorIs(err, models.ErrRunNotFound)
}

func (s *RedisTestSuite) TestExpiredSnapshot() {
	id, err := s.repo.CreateRun(s.ctx, runStart)
	s.Require().NoError(err)

	// Снимок истек, а указатель остался
	s.server.Del(runKey(id))

	session, err := s.repo.GetActiveRun(s.ctx)
	s.Require().NoError(err)
	s.Nil(session)
}

func (s *RedisTestSuite) TestTrackAndSplits() {
	id, err := s.repo.CreateRun(s.ctx, runStart)
	s.Require().NoError(err)

	samples := []models.GeoSample{
		models.NewGeoSample(55.75, 37.61, runStart).WithAccuracy(4),
		models.NewGeoSample(55.7501, 37.61, runStart.Add(time.Second)).WithSpeed(2.8),
	}
	s.Require().NoError(s.repo.AddTrackPoints(s.ctx, id, samples))
	s.Require().NoError(s.repo.AddTrackPoints(s.ctx, id, nil))

	points, err := s.repo.GetTrackPoints(s.ctx, id, 0)
	s.Require().NoError(err)
	s.Equal(samples, points)

	first, err := s.repo.GetTrackPoints(s.ctx, id, 1)
	s.Require().NoError(err)
	s.Equal(samples[:1], first)

	split := models.Split{Number: 1, Distance: 1000, Duration: 300, Pace: 5, CompletedAt: runStart.Add(5 * time.Minute)}
	s.Require().NoError(s.repo.AddSplit(s.ctx, id, split))

	session, err := s.repo.GetRun(s.ctx, id)
	s.Require().NoError(err)
	s.Equal([]models.Split{split}, session.Splits)
}

func (s *RedisTestSuite) TestUnavailable() {
	s.server.Close()

	_, err := s.repo.CreateRun(s.ctx, runStart)
	s.Error(err)
	_, err = s.repo.GetActiveRun(s.ctx)
	s.Error(err)
}

func TestRedisTestSuite(t *testing.T) {
	suite.Run(t, new(RedisTestSuite))
}

func TestNewRedisRepositoryValidation(t *testing.T) {
	_, err := NewRedisRepository(nil, utils.NewNopLogger())
	require.Error(t, err)

	_, err = NewRedisRepository(&config.RedisConfig{URL: "://bad"}, utils.NewNopLogger())
	require.Error(t, err)

	repo := NewRedisRepositoryWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), 0, utils.NewNopLogger())
	require.Equal(t, DefaultRunTTL, repo.ttl)
	require.NoError(t, repo.Close())
}
