package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/flybeeper/runtracker/internal/handler"
	"github.com/flybeeper/runtracker/internal/metrics"
	"github.com/flybeeper/runtracker/internal/mqtt"
	"github.com/flybeeper/runtracker/internal/scheduler"
	"github.com/flybeeper/runtracker/internal/service"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tracking engine with the HTTP control API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger.WithField("version", Version).Info("Starting run tracker")
	metrics.SetAppInfo(Version)
	handler.Version = Version

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	sched := scheduler.NewCron()
	defer sched.Stop()

	deps := service.Dependencies{
		Store:     store,
		Scheduler: sched,
		Logger:    logger,
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.NewClient(&cfg.MQTT, logger)
		if err != nil {
			return fmt.Errorf("init MQTT client: %w", err)
		}
		defer mqttClient.Disconnect()

		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := mqttClient.Connect(connectCtx); err != nil {
			// Клиент продолжает переподключаться сам; движок пока работает
			// в режиме потери сигнала
			logger.WithError(err).Warn("MQTT broker unavailable at startup")
		}
		cancel()

		deps.Location = mqtt.NewLocationProvider(mqttClient, cfg.MQTT.LocationTopic, logger)
		deps.Notifier = mqtt.NewNotifier(mqttClient, cfg.MQTT.EventsTopic, logger)
	}

	tracker, err := service.NewRunTracker(service.ConfigFromApp(cfg), deps)
	if err != nil {
		return err
	}

	recovered, err := tracker.RecoverInterrupted(ctx)
	switch {
	case err != nil:
		logger.WithError(err).Error("Failed to check for an interrupted run")
	case recovered != nil:
		logger.WithField("run_id", recovered.ID).WithField("status", recovered.Status).Info("Unfinished run found at startup")
	}

	server := handler.NewServer(cfg, tracker, store, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("HTTP server shutdown failed")
		}
		// Незавершенная пробежка остается в хранилище и подхватывается
		// при следующем запуске
		if err := tracker.Close(shutdownCtx); err != nil {
			logger.WithError(err).Error("Failed to flush tracker state")
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Run tracker stopped")
	return nil
}
