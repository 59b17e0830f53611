package incidents

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fleetwatch/fleetwatch/internal/db"
	"github.com/fleetwatch/fleetwatch/internal/metrics"
	"github.com/fleetwatch/fleetwatch/internal/queue"
)

// Service is the single door for incident transitions. Every open and
// resolve goes through here so the partial unique indexes and advisory
// locks in the repository stay the only arbiters of concurrency.
type Service struct {
	repo        *db.Repository
	outboxQueue *queue.RedisQueue
	logger      *zap.Logger
	metrics     *metrics.Collector
}

// NewService wires the transition door. outboxQueue may be nil; kicks are
// then skipped and the dispatch beat picks intents up on its own.
func NewService(repo *db.Repository, outboxQueue *queue.RedisQueue, logger *zap.Logger, metrics *metrics.Collector) *Service {
	return &Service{
		repo:        repo,
		outboxQueue: outboxQueue,
		logger:      logger,
		metrics:     metrics,
	}
}

// Open opens an incident for the subject or coalesces onto the existing
// OPEN one. The bool reports whether a new row was created. Coalescing
// emits a reminder intent only when the caller saw a state transition.
func (s *Service) Open(p db.OpenIncidentParams) (*db.Incident, bool, error) {
	incident, opened, err := s.repo.OpenIncident(p)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open incident: %w", err)
	}

	if opened {
		s.metrics.RecordIncidentOpened(incident)
		s.logger.Info("Opened incident",
			zap.String("incident_id", incident.ID),
			zap.String("client_id", incident.ClientID),
			zap.String("title", incident.Title),
			zap.String("severity", string(incident.Severity)),
		)
	}
	if opened || p.EmitReminder {
		s.kickDispatch()
	}
	return incident, opened, nil
}

// Resolve closes the subject's OPEN incident if one exists, a no-op
// otherwise. Resolve notifications honor the client's notify_on_resolve
// setting; the resolve itself always happens.
func (s *Service) Resolve(subject db.Subject) (*db.Incident, bool, error) {
	settings, err := s.repo.GetClientSettings(subject.ClientID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load client settings: %w", err)
	}

	incident, resolved, err := s.repo.ResolveIncident(subject, settings.NotifyOnResolve)
	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve incident: %w", err)
	}

	if resolved {
		s.metrics.RecordIncidentResolved(incident)
		s.logger.Info("Resolved incident",
			zap.String("incident_id", incident.ID),
			zap.String("client_id", incident.ClientID),
			zap.String("title", incident.Title),
		)
		if settings.NotifyOnResolve {
			s.kickDispatch()
		}
	}
	return incident, resolved, nil
}

// kickDispatch nudges the outbox pool so a freshly committed intent is
// delivered now instead of on the next beat. Push failures only cost
// latency, the beat drains the table regardless.
func (s *Service) kickDispatch() {
	if s.outboxQueue == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	job := &queue.Job{Kind: queue.KindOutboxDispatch}
	if err := s.outboxQueue.Push(ctx, job); err != nil {
		s.logger.Warn("Failed to kick outbox dispatch", zap.Error(err))
	}
}
