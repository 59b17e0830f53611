package prober

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fleetwatch/fleetwatch/internal/db"
	"github.com/fleetwatch/fleetwatch/internal/metrics"
	"github.com/fleetwatch/fleetwatch/internal/queue"
)

type Service struct {
	repo          *db.Repository
	prober        *Prober
	httpQueue     *queue.RedisQueue
	evaluateQueue *queue.RedisQueue
	metrics       *metrics.Collector
	logger        *zap.Logger
	perClientCap  int
}

func NewService(repo *db.Repository, prober *Prober, httpQueue, evaluateQueue *queue.RedisQueue, collector *metrics.Collector, logger *zap.Logger, perClientCap int) *Service {
	return &Service{
		repo:          repo,
		prober:        prober,
		httpQueue:     httpQueue,
		evaluateQueue: evaluateQueue,
		metrics:       collector,
		logger:        logger,
		perClientCap:  perClientCap,
	}
}

// Sweep enqueues one probe job per due target, capped per client so a
// single tenant with many targets cannot monopolize a tick.
func (s *Service) Sweep(ctx context.Context) error {
	targets, err := s.repo.GetTargetsDue()
	if err != nil {
		return fmt.Errorf("failed to list due targets: %w", err)
	}

	perClient := make(map[string]int)
	enqueued := 0
	for _, target := range targets {
		if s.perClientCap > 0 && perClient[target.ClientID] >= s.perClientCap {
			continue
		}
		perClient[target.ClientID]++

		job := &queue.Job{
			Kind:         queue.KindProbeTarget,
			ClientID:     target.ClientID,
			HTTPTargetID: target.ID,
		}
		if err := s.httpQueue.Push(ctx, job); err != nil {
			return fmt.Errorf("failed to enqueue probe: %w", err)
		}
		enqueued++
	}

	if enqueued > 0 {
		s.logger.Debug("Enqueued probe jobs", zap.Int("count", enqueued))
	}
	return nil
}

// ProbeTarget runs one probe and hands the outcome to the evaluate pool.
// The HTTP wait happens before any DB write, so probes hold pool slots,
// not DB connections.
func (s *Service) ProbeTarget(ctx context.Context, targetID string) error {
	target, err := s.repo.GetHTTPTargetByID(targetID)
	if errors.Is(err, db.ErrNotFound) {
		// deleted since the sweep
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load http target: %w", err)
	}
	if !target.IsActive {
		return nil
	}

	result := s.prober.Probe(ctx, target)

	if err := s.repo.SaveProbeResult(target.ID, result.CheckedAt, result.Status, result.LatencyMs, result.Err); err != nil {
		return fmt.Errorf("failed to save probe result: %w", err)
	}

	s.metrics.RecordProbe(target.ClientID, target.ID, target.Name, result.OK, result.Status, float64(result.LatencyMs)/1000)

	job := &queue.Job{
		Kind:         queue.KindProbeOutcome,
		ClientID:     target.ClientID,
		HTTPTargetID: target.ID,
		Probe: &queue.ProbeOutcome{
			ClientID:     target.ClientID,
			HTTPTargetID: target.ID,
			OK:           result.OK,
			Status:       result.Status,
			LatencyMs:    result.LatencyMs,
			TS:           result.CheckedAt,
		},
	}
	if err := s.evaluateQueue.Push(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue probe outcome: %w", err)
	}

	s.logger.Debug("Probed target",
		zap.String("http_target_id", target.ID),
		zap.Int("status", result.Status),
		zap.Int("latency_ms", result.LatencyMs),
		zap.Bool("ok", result.OK),
	)
	return nil
}
