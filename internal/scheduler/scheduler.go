package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fleetwatch/fleetwatch/internal/config"
	"github.com/fleetwatch/fleetwatch/internal/metrics"
	"github.com/fleetwatch/fleetwatch/internal/queue"
)

// Scheduler is the beat process. It owns no business logic: every beat just
// drops a sweep job on the right queue and the worker pools do the rest.
// Sweeps are idempotent, so overlapping beats are harmless.
type Scheduler struct {
	queues  *queue.Set
	metrics *metrics.Collector
	logger  *zap.Logger
	config  *config.Config
}

type beat struct {
	every time.Duration
	queue *queue.RedisQueue
	kind  string
}

func NewScheduler(queues *queue.Set, collector *metrics.Collector, logger *zap.Logger, cfg *config.Config) *Scheduler {
	return &Scheduler{
		queues:  queues,
		metrics: collector,
		logger:  logger,
		config:  cfg,
	}
}

// Start runs the beats until ctx is cancelled, then waits for in-flight
// pushes to finish.
func (s *Scheduler) Start(ctx context.Context) {
	beats := []beat{
		{s.config.Beat.EvaluateInterval, s.queues.Evaluate, queue.KindEvaluateSweep},
		{s.config.Beat.HTTPSweepInterval, s.queues.HTTP, queue.KindHTTPSweep},
		{s.config.Beat.HeartbeatInterval, s.queues.Heartbeat, queue.KindHeartbeatSweep},
		{s.config.Beat.MachineStatusInterval, s.queues.Heartbeat, queue.KindMachineStatusSweep},
		{s.config.Beat.ReminderInterval, s.queues.Notify, queue.KindReminderSweep},
		{s.config.Beat.OutboxInterval, s.queues.Outbox, queue.KindOutboxDispatch},
		{s.config.Beat.StalenessInterval, s.queues.Ingest, queue.KindMetricStaleness},
		{s.config.Beat.PurgeInterval, s.queues.Ingest, queue.KindPurgeSamples},
	}

	runner := cron.New()
	for _, b := range beats {
		b := b
		runner.Schedule(cron.Every(b.every), cron.FuncJob(func() {
			s.tick(ctx, b)
		}))
	}
	runner.Schedule(cron.Every(15*time.Second), cron.FuncJob(func() {
		s.reportQueueSizes(ctx)
	}))

	s.logger.Info("Starting scheduler", zap.Int("beat_count", len(beats)))
	runner.Start()

	<-ctx.Done()
	<-runner.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) tick(ctx context.Context, b beat) {
	if ctx.Err() != nil {
		return
	}

	job := &queue.Job{
		ID:   uuid.New().String(),
		Kind: b.kind,
	}
	if err := b.queue.Push(ctx, job); err != nil {
		s.logger.Error("Failed to enqueue sweep",
			zap.String("kind", b.kind),
			zap.String("queue", b.queue.Name()),
			zap.Error(err),
		)
		return
	}

	s.logger.Debug("Beat",
		zap.String("kind", b.kind),
		zap.String("queue", b.queue.Name()),
	)
}

func (s *Scheduler) reportQueueSizes(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	for _, q := range s.queues.All() {
		size, err := q.Length(ctx)
		if err != nil {
			s.logger.Warn("Failed to read queue size",
				zap.String("queue", q.Name()),
				zap.Error(err),
			)
			continue
		}
		s.metrics.RecordQueueSize(q.Name(), size)
	}
}
