package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrTimeout = errors.New("queue timeout")

// Queue names. Each gets its own worker pool.
const (
	QueueIngest    = "ingest"
	QueueEvaluate  = "evaluate"
	QueueHTTP      = "http"
	QueueNotify    = "notify"
	QueueHeartbeat = "heartbeat"
	QueueOutbox    = "outbox"
)

// Job kinds, grouped by the queue that carries them.
const (
	KindPurgeSamples    = "purge_samples"
	KindMetricStaleness = "metric_staleness"

	KindEvaluateSweep    = "evaluate_sweep"
	KindEvaluateMachine  = "evaluate_machine"
	KindEvaluateInstance = "evaluate_instance"
	KindProbeOutcome     = "probe_outcome"

	KindHTTPSweep   = "http_sweep"
	KindProbeTarget = "probe_target"

	KindHeartbeatSweep     = "heartbeat_sweep"
	KindMachineStatusSweep = "machine_status_sweep"

	KindReminderSweep = "reminder_sweep"
	KindNotify        = "notify"

	KindOutboxDispatch = "outbox_dispatch"
)

// ProbeOutcome travels from the http pool to the evaluate pool.
type ProbeOutcome struct {
	ClientID     string    `json:"client_id"`
	HTTPTargetID string    `json:"http_target_id"`
	OK           bool      `json:"ok"`
	Status       int       `json:"status"`
	LatencyMs    int       `json:"latency_ms"`
	TS           time.Time `json:"ts"`
}

type Job struct {
	ID               string        `json:"id"`
	Kind             string        `json:"kind"`
	ClientID         string        `json:"client_id,omitempty"`
	MachineID        string        `json:"machine_id,omitempty"`
	MetricInstanceID string        `json:"metric_instance_id,omitempty"`
	HTTPTargetID     string        `json:"http_target_id,omitempty"`
	IncidentID       string        `json:"incident_id,omitempty"`
	IncidentIDs      []string      `json:"incident_ids,omitempty"`
	AlertID          string        `json:"alert_id,omitempty"`
	Notify           string        `json:"notify,omitempty"`
	Probe            *ProbeOutcome `json:"probe,omitempty"`
	Attempt          int           `json:"attempt,omitempty"`
	NotBefore        time.Time     `json:"not_before,omitempty"`
	EnqueuedAt       time.Time     `json:"enqueued_at"`
}

// RedisQueue is a sorted set keyed by ready-at time. Future scores delay
// delivery, which is how notify retries back off.
type RedisQueue struct {
	client *redis.Client
	name   string
}

func NewRedisQueue(client *redis.Client, name string) *RedisQueue {
	return &RedisQueue{client: client, name: name}
}

func (q *RedisQueue) Name() string {
	return q.name
}

func (q *RedisQueue) Push(ctx context.Context, job *Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	// Score is the ready-at time
	score := float64(time.Now().Unix())
	if !job.NotBefore.IsZero() {
		score = float64(job.NotBefore.Unix())
	}

	err = q.client.ZAdd(ctx, q.name, redis.Z{
		Score:  score,
		Member: data,
	}).Err()

	if err != nil {
		return fmt.Errorf("failed to push job: %w", err)
	}

	return nil
}

func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BZPopMin(ctx, timeout, q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("failed to pop job: %w", err)
	}

	raw, ok := result.Member.(string)
	if !ok {
		return nil, errors.New("invalid member type from queue")
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	// Not due yet: put it back and idle briefly so the pool does not spin
	// on the same head-of-queue job.
	if delay := time.Until(job.NotBefore); delay > 0 {
		if err := q.Push(ctx, &job); err != nil {
			return nil, err
		}
		wait := delay
		if wait > time.Second {
			wait = time.Second
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		return nil, ErrTimeout
	}

	return &job, nil
}

func (q *RedisQueue) Length(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.name).Result()
}

// Set bundles the queues so the binaries wire them in one call.
type Set struct {
	Ingest    *RedisQueue
	Evaluate  *RedisQueue
	HTTP      *RedisQueue
	Notify    *RedisQueue
	Heartbeat *RedisQueue
	Outbox    *RedisQueue
}

func NewSet(client *redis.Client) *Set {
	return &Set{
		Ingest:    NewRedisQueue(client, QueueIngest),
		Evaluate:  NewRedisQueue(client, QueueEvaluate),
		HTTP:      NewRedisQueue(client, QueueHTTP),
		Notify:    NewRedisQueue(client, QueueNotify),
		Heartbeat: NewRedisQueue(client, QueueHeartbeat),
		Outbox:    NewRedisQueue(client, QueueOutbox),
	}
}

func (s *Set) All() []*RedisQueue {
	return []*RedisQueue{s.Ingest, s.Evaluate, s.HTTP, s.Notify, s.Heartbeat, s.Outbox}
}
