package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fleetwatch/fleetwatch/internal/config"
	"github.com/fleetwatch/fleetwatch/internal/logging"
	"github.com/fleetwatch/fleetwatch/internal/metrics"
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

	cache := redisstore.NewClient(cfg.Redis.URL)
	defer cache.Close()

	queues := queue.NewSet(cache.Client)
	collector := metrics.NewCollector()

	sched := scheduler.NewScheduler(queues, collector, logger, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Start(ctx)
		close(done)
	}()

	writer := metrics.NewRemoteWriter(metrics.RemoteWriteConfig{
		URL:      cfg.Metrics.RemoteWriteURL,
		Tenant:   cfg.Metrics.RemoteWriteTenant,
		Interval: cfg.Metrics.RemoteWriteInterval,
	}, logger)
	go writer.Start(ctx)

	logger.Info("Scheduler started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down scheduler...")
	cancel()
	<-done
	logger.Info("Scheduler exited")
}
