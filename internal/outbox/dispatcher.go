package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/fleetwatch/fleetwatch/internal/db"
	"github.com/fleetwatch/fleetwatch/internal/metrics"
	"github.com/fleetwatch/fleetwatch/internal/queue"
)

const (
	claimBatch = 100
	claimLease = time.Minute
)

// backoffSchedule spaces redeliveries of a failing event. An event that
// fails past the end of the schedule is marked FAILED and left for an
// operator.
var backoffSchedule = []time.Duration{30 * time.Second, 2 * time.Minute, 10 * time.Minute}

// Dispatcher moves committed notify intents from outbox_events onto the
// notify queue. Incident transitions write the intent in their own
// transaction, so the queue can be down without losing a notification; this
// is the piece that drains the table once it is back.
type Dispatcher struct {
	repo        *db.Repository
	notifyQueue *queue.RedisQueue
	metrics     *metrics.Collector
	logger      *zap.Logger
}

func NewDispatcher(repo *db.Repository, notifyQueue *queue.RedisQueue, collector *metrics.Collector, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		repo:        repo,
		notifyQueue: notifyQueue,
		metrics:     collector,
		logger:      logger,
	}
}

// Dispatch claims one batch of due events and forwards each to the notify
// queue. Claiming marks the row DELIVERING and bumps attempts, so a crash
// between claim and push costs one attempt, never the event.
func (d *Dispatcher) Dispatch(ctx context.Context) error {
	events, err := d.repo.ClaimDueOutboxEvents(claimBatch, claimLease)
	if err != nil {
		return fmt.Errorf("failed to claim outbox events: %w", err)
	}

	var firstErr error
	for _, ev := range events {
		if err := d.deliver(ctx, ev); err != nil {
			s := d.logger.With(zap.Int64("event_id", ev.ID))
			s.Error("Failed to deliver outbox event", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if len(events) > 0 {
		d.logger.Debug("Outbox batch dispatched", zap.Int("events", len(events)))
	}
	return firstErr
}

func (d *Dispatcher) deliver(ctx context.Context, ev *db.OutboxEvent) error {
	if ev.Kind != db.OutboxKindNotify {
		d.logger.Warn("Unknown outbox kind",
			zap.Int64("event_id", ev.ID),
			zap.String("kind", ev.Kind))
		d.metrics.RecordOutbox("failed")
		return d.repo.FailOutboxEvent(ev.ID)
	}

	var intent db.NotifyIntent
	if err := json.Unmarshal(ev.Payload, &intent); err != nil {
		// Undecodable payloads never improve with retries.
		d.logger.Error("Undecodable outbox payload",
			zap.Int64("event_id", ev.ID),
			zap.Error(err))
		d.metrics.RecordOutbox("failed")
		return d.repo.FailOutboxEvent(ev.ID)
	}

	job := &queue.Job{
		ID:         fmt.Sprintf("outbox-%d", ev.ID),
		Kind:       queue.KindNotify,
		ClientID:   intent.ClientID,
		IncidentID: intent.IncidentID,
		Notify:     string(intent.Kind),
	}
	if intent.AlertID != nil {
		job.AlertID = *intent.AlertID
	}

	if err := d.notifyQueue.Push(ctx, job); err != nil {
		return d.redeliverLater(ev, err)
	}

	if err := d.repo.MarkOutboxDelivered(ev.ID); err != nil {
		return fmt.Errorf("failed to mark outbox event delivered: %w", err)
	}
	d.metrics.RecordOutbox("delivered")
	return nil
}

func (d *Dispatcher) redeliverLater(ev *db.OutboxEvent, cause error) error {
	if ev.Attempts > len(backoffSchedule) {
		d.logger.Error("Outbox event exhausted retries",
			zap.Int64("event_id", ev.ID),
			zap.Int("attempts", ev.Attempts),
			zap.Error(cause))
		d.metrics.RecordOutbox("failed")
		return d.repo.FailOutboxEvent(ev.ID)
	}

	delay := Backoff(ev.Attempts)
	d.logger.Warn("Outbox delivery failed, will retry",
		zap.Int64("event_id", ev.ID),
		zap.Int("attempts", ev.Attempts),
		zap.Duration("delay", delay),
		zap.Error(cause))
	d.metrics.RecordOutbox("retried")
	return d.repo.RetryOutboxEvent(ev.ID, time.Now().Add(delay))
}

// Backoff returns the delay before redelivering an event already attempted n
// times, jittered by 20% so retries spread out after a shared outage.
func Backoff(attempts int) time.Duration {
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffSchedule) {
		idx = len(backoffSchedule) - 1
	}
	base := backoffSchedule[idx]
	return time.Duration(float64(base) * (0.8 + 0.4*rand.Float64()))
}
