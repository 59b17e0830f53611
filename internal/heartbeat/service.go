package heartbeat

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fleetwatch/fleetwatch/internal/db"
	"github.com/fleetwatch/fleetwatch/internal/evaluate"
	"github.com/fleetwatch/fleetwatch/internal/incidents"
	"github.com/fleetwatch/fleetwatch/internal/metrics"
)

// Config carries the sweep knobs. Client settings override the heartbeat
// threshold per tenant; everything else is fleet-wide.
type Config struct {
	HeartbeatThresholdMinutesDefault int
	MetricNoDataSeconds              int
	StaleIncidentMaxAgeHours         int
	SampleRetentionMinutes           int
	SamplePurgeBatch                 int
}

// Service runs the maintenance sweeps: machine liveness, machine status
// classification, metric staleness, stale incident cleanup, and sample
// retention. All of them are periodic and idempotent, so a missed tick is
// caught up by the next one.
type Service struct {
	repo      *db.Repository
	evaluator *evaluate.Service
	incidents *incidents.Service
	metrics   *metrics.Collector
	logger    *zap.Logger
	cfg       Config
}

func NewService(repo *db.Repository, evaluator *evaluate.Service, incidents *incidents.Service, collector *metrics.Collector, logger *zap.Logger, cfg Config) *Service {
	return &Service{
		repo:      repo,
		evaluator: evaluator,
		incidents: incidents,
		metrics:   collector,
		logger:    logger,
		cfg:       cfg,
	}
}

// Sweep evaluates liveness for every active machine. Each machine gets a
// synthetic heartbeat instance (provisioned on first sweep) whose bool
// observation is "seen within the threshold". The evaluator takes it from
// there, so heartbeat incidents get the same gating, coalescing and resolve
// behavior as metric incidents.
func (s *Service) Sweep() error {
	machines, err := s.repo.ListActiveMachinesWithThreshold(s.cfg.HeartbeatThresholdMinutesDefault)
	if err != nil {
		return fmt.Errorf("failed to list machines for heartbeat sweep: %w", err)
	}

	now := time.Now().UTC()
	var firstErr error
	for _, m := range machines {
		instanceID, err := s.repo.EnsureHeartbeatInstance(m.ClientID, m.ID)
		if err != nil {
			s.logger.Error("Failed to ensure heartbeat instance",
				zap.String("machine_id", m.ID),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		alive := m.LastSeen != nil && now.Sub(*m.LastSeen) <= time.Duration(m.ThresholdMinutes)*time.Minute
		if err := s.evaluator.EvaluateHeartbeat(instanceID, alive); err != nil {
			s.logger.Error("Failed to evaluate heartbeat",
				zap.String("machine_id", m.ID),
				zap.String("instance_id", instanceID),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.logger.Debug("Heartbeat sweep finished", zap.Int("machines", len(machines)))
	return firstErr
}

// UpdateStatuses reclassifies every active machine from its last_seen age and
// writes the rows that changed. Status is presentation state for dashboards;
// alerting runs off the heartbeat instance, not off this column.
func (s *Service) UpdateStatuses() error {
	machines, err := s.repo.ListActiveMachinesWithThreshold(s.cfg.HeartbeatThresholdMinutesDefault)
	if err != nil {
		return fmt.Errorf("failed to list machines for status sweep: %w", err)
	}

	now := time.Now().UTC()
	counts := map[string]map[db.MachineStatus]int{}
	var firstErr error
	for _, m := range machines {
		status := ClassifyMachine(m.LastSeen, m.ThresholdMinutes, now)

		if counts[m.ClientID] == nil {
			counts[m.ClientID] = map[db.MachineStatus]int{}
		}
		counts[m.ClientID][status]++

		if status == m.Status {
			continue
		}
		if err := s.repo.UpdateMachineStatus(m.ID, status); err != nil {
			s.logger.Error("Failed to update machine status",
				zap.String("machine_id", m.ID),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.logger.Info("Machine status changed",
			zap.String("machine_id", m.ID),
			zap.String("hostname", m.Hostname),
			zap.String("from", string(m.Status)),
			zap.String("to", string(status)))
	}

	for clientID, c := range counts {
		s.metrics.RecordMachineStatusCounts(clientID, c)
	}
	return firstErr
}

// ClassifyMachine buckets a machine by how long ago it reported. The window
// is the client's heartbeat threshold: within it the machine is UP, within
// three times it STALE, beyond that DOWN. Machines that never reported stay
// NO_DATA.
func ClassifyMachine(lastSeen *time.Time, thresholdMinutes int, now time.Time) db.MachineStatus {
	if lastSeen == nil {
		return db.MachineNoData
	}
	threshold := time.Duration(thresholdMinutes) * time.Minute
	age := now.Sub(*lastSeen)
	switch {
	case age <= threshold:
		return db.MachineUp
	case age <= 3*threshold:
		return db.MachineStale
	default:
		return db.MachineDown
	}
}

// MarkStale handles metric instances that stopped reporting while their
// machine is still up: the state drops to UNKNOWN and a warning incident
// opens so the silence is visible. Re-runs coalesce onto the open incident.
// It also auto-resolves incidents whose instance has been silent long enough
// that the data is not coming back, typically a decommissioned machine.
func (s *Service) MarkStale() error {
	now := time.Now().UTC()

	cutoff := now.Add(-time.Duration(s.cfg.MetricNoDataSeconds) * time.Second)
	instances, err := s.repo.ListStaleInstances(cutoff)
	if err != nil {
		return fmt.Errorf("failed to list stale instances: %w", err)
	}

	var firstErr error
	for _, inst := range instances {
		if inst.State != db.StateUnknown {
			if err := s.repo.UpdateInstanceEvaluation(inst.ID, db.StateUnknown, nil, 0); err != nil {
				s.logger.Error("Failed to mark instance unknown",
					zap.String("instance_id", inst.ID),
					zap.Error(err))
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
		}

		instanceID := inst.ID
		machineID := inst.MachineID
		_, opened, err := s.incidents.Open(db.OpenIncidentParams{
			Subject:      db.Subject{ClientID: inst.ClientID, MetricInstanceID: &instanceID},
			MachineID:    &machineID,
			Title:        fmt.Sprintf("No recent data: %s", inst.MetricName),
			Severity:     db.SeverityWarning,
			AlertMessage: fmt.Sprintf("%s on %s stopped reporting", inst.MetricName, inst.Hostname),
			EmitReminder: false,
		})
		if err != nil {
			s.logger.Error("Failed to open no-data incident",
				zap.String("instance_id", inst.ID),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if opened {
			s.logger.Info("Metric went silent",
				zap.String("instance_id", inst.ID),
				zap.String("metric", inst.MetricName),
				zap.String("hostname", inst.Hostname))
		}
	}

	if err := s.resolveAbandoned(now); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *Service) resolveAbandoned(now time.Time) error {
	cutoff := now.Add(-time.Duration(s.cfg.StaleIncidentMaxAgeHours) * time.Hour)
	stale, err := s.repo.ListStaleOpenMetricIncidents(cutoff)
	if err != nil {
		return fmt.Errorf("failed to list stale incidents: %w", err)
	}

	var firstErr error
	for _, inc := range stale {
		subject := db.Subject{ClientID: inc.ClientID, MetricInstanceID: inc.MetricInstanceID}
		if _, _, err := s.incidents.Resolve(subject); err != nil {
			s.logger.Error("Failed to auto-resolve stale incident",
				zap.String("incident_id", inc.ID),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.logger.Info("Auto-resolved stale incident",
			zap.String("incident_id", inc.ID),
			zap.String("title", inc.Title))
	}
	return firstErr
}

// PurgeSamples deletes one batch of samples past retention. The batch bound
// keeps the delete short so it does not sit on the table; the next tick takes
// the next slice.
func (s *Service) PurgeSamples() error {
	olderThan := time.Now().UTC().Add(-time.Duration(s.cfg.SampleRetentionMinutes) * time.Minute)
	deleted, err := s.repo.PurgeSamples(olderThan, s.cfg.SamplePurgeBatch)
	if err != nil {
		return fmt.Errorf("failed to purge samples: %w", err)
	}
	if deleted > 0 {
		s.logger.Debug("Purged samples", zap.Int64("deleted", deleted))
	}
	return nil
}
