package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flybeeper/runtracker/internal/config"
	"github.com/flybeeper/runtracker/internal/repository"
	"github.com/flybeeper/runtracker/pkg/utils"
)

var (
	// Version будет установлен при сборке через ldflags
	Version = "dev"
)

var rootCmd = &cobra.Command{
	Use:           "runtracker",
	Short:         "Run tracking engine: live GPS runs, splits and auto-pause",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.Version = Version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig загружает конфигурацию и создает логгер
func loadConfig() (*config.Config, *utils.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := utils.NewLogger(config.LogLevel(), config.LogFormat())
	return cfg, logger, nil
}

// openStore открывает SQL хранилище и, если включен Redis, зеркалирует
// записи в живой снимок
func openStore(ctx context.Context, cfg *config.Config, logger *utils.Logger) (repository.RunRepository, error) {
	sqlRepo, err := repository.NewSQLRepository(&cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("init %s store: %w", cfg.Store.Driver, err)
	}
	sqlRepo.SetGeohashPrecision(cfg.Tracking.GeohashPrecision)

	if err := sqlRepo.Ping(ctx); err != nil {
		sqlRepo.Close()
		return nil, fmt.Errorf("connect to %s store: %w", cfg.Store.Driver, err)
	}
	if cfg.Store.AutoMigrate {
		if err := sqlRepo.Migrate(ctx); err != nil {
			sqlRepo.Close()
			return nil, err
		}
	}
	logger.WithField("driver", cfg.Store.Driver).Info("Connected to run store")

	if !cfg.Redis.Enabled {
		return sqlRepo, nil
	}

	redisRepo, err := repository.NewRedisRepository(&cfg.Redis, logger)
	if err != nil {
		logger.WithError(err).Warn("Redis live snapshot disabled")
		return sqlRepo, nil
	}
	if err := redisRepo.Ping(ctx); err != nil {
		logger.WithError(err).Warn("Redis is unreachable, live snapshot disabled")
		redisRepo.Close()
		return sqlRepo, nil
	}
	logger.Info("Connected to Redis")

	return repository.NewMirroredRepository(sqlRepo, redisRepo, logger), nil
}
