package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fleetwatch/fleetwatch/internal/config"
	"github.com/fleetwatch/fleetwatch/internal/db"
	"github.com/fleetwatch/fleetwatch/internal/evaluate"
	"github.com/fleetwatch/fleetwatch/internal/heartbeat"
	"github.com/fleetwatch/fleetwatch/internal/metrics"
	"github.com/fleetwatch/fleetwatch/internal/notify"
	"github.com/fleetwatch/fleetwatch/internal/outbox"
	"github.com/fleetwatch/fleetwatch/internal/prober"
	"github.com/fleetwatch/fleetwatch/internal/queue"
)

const defaultJobTimeout = 30 * time.Second

// Longer budgets for jobs that fan out or touch many rows. Probes get the
// per-target timeout ceiling plus slack.
var jobTimeouts = map[string]time.Duration{
	queue.KindEvaluateSweep:      2 * time.Minute,
	queue.KindHTTPSweep:          2 * time.Minute,
	queue.KindHeartbeatSweep:     2 * time.Minute,
	queue.KindMachineStatusSweep: 2 * time.Minute,
	queue.KindMetricStaleness:    2 * time.Minute,
	queue.KindReminderSweep:      2 * time.Minute,
	queue.KindOutboxDispatch:     2 * time.Minute,
	queue.KindProbeTarget:        150 * time.Second,
	queue.KindPurgeSamples:       5 * time.Minute,
}

// errRetried marks a job that was pushed back for another attempt. The pool
// records it as "retried" instead of a failure.
var errRetried = errors.New("job requeued for retry")

// Worker runs one pool per queue and dispatches each job kind to the
// service that owns it.
type Worker struct {
	config    *config.Config
	queues    *queue.Set
	repo      *db.Repository
	evaluator *evaluate.Service
	heartbeat *heartbeat.Service
	prober    *prober.Service
	notifier  *notify.Notifier
	outbox    *outbox.Dispatcher
	metrics   *metrics.Collector
	logger    *zap.Logger
	wg        sync.WaitGroup
}

func NewWorker(
	cfg *config.Config,
	queues *queue.Set,
	repo *db.Repository,
	evaluator *evaluate.Service,
	heartbeatSvc *heartbeat.Service,
	proberSvc *prober.Service,
	notifier *notify.Notifier,
	dispatcher *outbox.Dispatcher,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Worker {
	return &Worker{
		config:    cfg,
		queues:    queues,
		repo:      repo,
		evaluator: evaluator,
		heartbeat: heartbeatSvc,
		prober:    proberSvc,
		notifier:  notifier,
		outbox:    dispatcher,
		metrics:   collector,
		logger:    logger,
	}
}

func (w *Worker) Start(ctx context.Context) {
	pools := []struct {
		queue *queue.RedisQueue
		size  int
	}{
		{w.queues.Ingest, w.config.Workers.Ingest},
		{w.queues.Evaluate, w.config.Workers.Evaluate},
		{w.queues.HTTP, w.config.Prober.Concurrency},
		{w.queues.Notify, w.config.Workers.Notify},
		{w.queues.Heartbeat, w.config.Workers.Heartbeat},
		{w.queues.Outbox, w.config.Workers.Outbox},
	}

	for _, p := range pools {
		w.logger.Info("Starting worker pool",
			zap.String("queue", p.queue.Name()),
			zap.Int("size", p.size),
		)
		for i := 0; i < p.size; i++ {
			w.wg.Add(1)
			go func(q *queue.RedisQueue, id int) {
				defer w.wg.Done()
				w.runPool(ctx, q, id)
			}(p.queue, i)
		}
	}

	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

func (w *Worker) runPool(ctx context.Context, q *queue.RedisQueue, id int) {
	logger := w.logger.With(zap.String("queue", q.Name()), zap.Int("worker_id", id))

	for {
		job, err := q.Pop(ctx, 5*time.Second)
		if err != nil {
			if errors.Is(err, queue.ErrTimeout) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			logger.Error("Failed to pop job", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		// Shutting down with a job in hand: give it back instead of
		// dropping it.
		if ctx.Err() != nil {
			pushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := q.Push(pushCtx, job); err != nil {
				logger.Warn("Failed to requeue job on shutdown",
					zap.String("kind", job.Kind),
					zap.Error(err),
				)
			}
			cancel()
			return
		}

		w.process(q, job, logger)
	}
}

func (w *Worker) process(q *queue.RedisQueue, job *queue.Job, logger *zap.Logger) {
	start := time.Now()

	timeout, ok := jobTimeouts[job.Kind]
	if !ok {
		timeout = defaultJobTimeout
	}

	// Detached from the pool context so shutdown lets the running job
	// finish instead of cancelling it halfway.
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := w.dispatch(ctx, job)

	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, errRetried):
		status = "retried"
		logger.Debug("Job requeued",
			zap.String("kind", job.Kind),
			zap.Int("attempt", job.Attempt),
		)
	default:
		status = "error"
		logger.Error("Job failed",
			zap.String("kind", job.Kind),
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}

	w.metrics.RecordJob(q.Name(), job.Kind, status, time.Since(start).Seconds())
}

func (w *Worker) dispatch(ctx context.Context, job *queue.Job) error {
	switch job.Kind {
	case queue.KindEvaluateSweep:
		return w.fanOutEvaluations(ctx)
	case queue.KindEvaluateMachine:
		return w.evaluator.EvaluateMachine(job.MachineID)
	case queue.KindEvaluateInstance:
		return w.evaluator.EvaluateInstance(job.MetricInstanceID)
	case queue.KindProbeOutcome:
		if job.Probe == nil {
			return fmt.Errorf("probe outcome job %s has no payload", job.ID)
		}
		return w.evaluator.EvaluateProbe(job.Probe.HTTPTargetID, job.Probe.OK)
	case queue.KindHTTPSweep:
		return w.prober.Sweep(ctx)
	case queue.KindProbeTarget:
		return w.prober.ProbeTarget(ctx, job.HTTPTargetID)
	case queue.KindHeartbeatSweep:
		return w.heartbeat.Sweep()
	case queue.KindMachineStatusSweep:
		return w.heartbeat.UpdateStatuses()
	case queue.KindMetricStaleness:
		return w.heartbeat.MarkStale()
	case queue.KindPurgeSamples:
		return w.heartbeat.PurgeSamples()
	case queue.KindReminderSweep:
		return w.notifier.Reminders(ctx)
	case queue.KindNotify:
		return w.deliverNotify(ctx, job)
	case queue.KindOutboxDispatch:
		return w.outbox.Dispatch(ctx)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// fanOutEvaluations turns one sweep job into one evaluate job per active
// machine, so machines with silent agents still get re-checked.
func (w *Worker) fanOutEvaluations(ctx context.Context) error {
	ids, err := w.repo.ListActiveMachineIDs()
	if err != nil {
		return fmt.Errorf("failed to list machines for sweep: %w", err)
	}

	for _, id := range ids {
		job := &queue.Job{
			ID:        uuid.New().String(),
			Kind:      queue.KindEvaluateMachine,
			MachineID: id,
		}
		if err := w.queues.Evaluate.Push(ctx, job); err != nil {
			return fmt.Errorf("failed to enqueue machine evaluation: %w", err)
		}
	}

	if len(ids) > 0 {
		w.logger.Debug("Evaluate sweep fanned out", zap.Int("machines", len(ids)))
	}
	return nil
}

// deliverNotify applies the retry policy. ErrBusy means another worker holds
// the subject, so the job comes back quickly on the same attempt. Transient
// send failures back off exponentially until the attempt budget runs out.
func (w *Worker) deliverNotify(ctx context.Context, job *queue.Job) error {
	err := w.notifier.Deliver(ctx, job)
	if err == nil {
		return nil
	}

	if errors.Is(err, notify.ErrBusy) {
		job.NotBefore = time.Now().Add(2 * time.Second)
		if pushErr := w.queues.Notify.Push(ctx, job); pushErr != nil {
			return fmt.Errorf("failed to requeue busy notification: %w", pushErr)
		}
		return errRetried
	}

	if !notify.IsPermanent(err) && job.Attempt+1 < w.config.Notify.MaxAttempts {
		delay := notifyBackoff(job.Attempt)
		job.Attempt++
		job.NotBefore = time.Now().Add(delay)
		if pushErr := w.queues.Notify.Push(ctx, job); pushErr != nil {
			return fmt.Errorf("failed to requeue notification: %w", pushErr)
		}
		w.logger.Warn("Notification delivery failed, will retry",
			zap.String("job_id", job.ID),
			zap.Int("attempt", job.Attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		return errRetried
	}

	return err
}

func notifyBackoff(attempt int) time.Duration {
	d := 30 * time.Second
	for i := 0; i < attempt && d < 8*time.Minute; i++ {
		d *= 2
	}
	return d
}
