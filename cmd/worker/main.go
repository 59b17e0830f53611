package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fleetwatch/fleetwatch/internal/config"
	"github.com/fleetwatch/fleetwatch/internal/db"
	"github.com/fleetwatch/fleetwatch/internal/evaluate"
	"github.com/fleetwatch/fleetwatch/internal/heartbeat"
	"github.com/fleetwatch/fleetwatch/internal/incidents"
	"github.com/fleetwatch/fleetwatch/internal/logging"
	"github.com/fleetwatch/fleetwatch/internal/metrics"
	"github.com/fleetwatch/fleetwatch/internal/notify"
	"github.com/fleetwatch/fleetwatch/internal/outbox"
	"github.com/fleetwatch/fleetwatch/internal/prober"
	"github.com/fleetwatch/fleetwatch/internal/queue"
	"github.com/fleetwatch/fleetwatch/internal/scheduler"
	redisstore "github.com/fleetwatch/fleetwatch/internal/storage/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Server.LogLevel, cfg.Server.Environment)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	database, err := db.NewConnection(cfg.Database.URL, cfg.Database.MaxConnections, cfg.Database.MaxIdleConns)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	repo := db.NewRepository(database)

	cache := redisstore.NewClient(cfg.Redis.URL)
	defer cache.Close()

	queues := queue.NewSet(cache.Client)
	collector := metrics.NewCollector()

	incidentSvc := incidents.NewService(repo, queues.Outbox, logger, collector)

	evaluator := evaluate.NewService(repo, incidentSvc, collector, logger, evaluate.Defaults{
		GracePeriodSeconds:  cfg.Alerting.GracePeriodSecondsDefault,
		ConsecutiveFailures: cfg.Alerting.ConsecutiveFailuresDefault,
	})

	heartbeatSvc := heartbeat.NewService(repo, evaluator, incidentSvc, collector, logger, heartbeat.Config{
		HeartbeatThresholdMinutesDefault: cfg.Alerting.HeartbeatThresholdMinutesDefault,
		MetricNoDataSeconds:              cfg.Alerting.MetricNoDataSeconds,
		StaleIncidentMaxAgeHours:         cfg.Alerting.StaleIncidentMaxAgeHours,
		SampleRetentionMinutes:           cfg.Retention.SampleRetentionMinutes,
		SamplePurgeBatch:                 cfg.Retention.SamplePurgeBatch,
	})

	proberSvc := prober.NewService(repo, prober.NewProber(), queues.HTTP, queues.Evaluate, collector, logger, cfg.Prober.PerClient)

	notifier := notify.NewNotifier(repo, queues.Notify, collector, logger, notify.Config{
		SlackWebhook:           cfg.Notify.SlackWebhook,
		SlackDefaultChannel:    cfg.Notify.SlackDefaultChannel,
		StubSlack:              cfg.Notify.StubSlack,
		SMTPDSN:                cfg.Notify.SMTPDSN,
		EmailFrom:              cfg.Notify.EmailFrom,
		DefaultReminderMinutes: cfg.Alerting.DefaultReminderMinutes,
		MaxAttempts:            cfg.Notify.MaxAttempts,
		RatePerMinute:          cfg.Notify.RatePerMinute,
		SendTimeout:            cfg.Notify.SendTimeout,
	})

	dispatcher := outbox.NewDispatcher(repo, queues.Notify, collector, logger)

	worker := scheduler.NewWorker(cfg, queues, repo, evaluator, heartbeatSvc, proberSvc, notifier, dispatcher, collector, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	writer := metrics.NewRemoteWriter(metrics.RemoteWriteConfig{
		URL:      cfg.Metrics.RemoteWriteURL,
		Tenant:   cfg.Metrics.RemoteWriteTenant,
		Interval: cfg.Metrics.RemoteWriteInterval,
	}, logger)
	go writer.Start(ctx)

	logger.Info("Worker started",
		zap.Int("evaluate_workers", cfg.Workers.Evaluate),
		zap.Int("http_workers", cfg.Prober.Concurrency),
		zap.Int("notify_workers", cfg.Workers.Notify),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	cancel()
	<-done
	logger.Info("Worker exited")
}
