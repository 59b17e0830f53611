package evaluate

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fleetwatch/fleetwatch/internal/db"
	"github.com/fleetwatch/fleetwatch/internal/incidents"
	"github.com/fleetwatch/fleetwatch/internal/metrics"
)

// Defaults are the fleet-wide fallbacks applied when the per-client
// setting is zero. A zero fallback disables the gate entirely.
type Defaults struct {
	GracePeriodSeconds  int
	ConsecutiveFailures int
}

type Service struct {
	repo      *db.Repository
	incidents *incidents.Service
	metrics   *metrics.Collector
	logger    *zap.Logger
	defaults  Defaults
}

func NewService(repo *db.Repository, incidents *incidents.Service, collector *metrics.Collector, logger *zap.Logger, defaults Defaults) *Service {
	return &Service{
		repo:      repo,
		incidents: incidents,
		metrics:   collector,
		logger:    logger,
		defaults:  defaults,
	}
}

// EvaluateInstance judges one metric instance against its effective
// threshold. Heartbeat instances are skipped here; the heartbeat sweep
// drives those through EvaluateHeartbeat with a synthetic observation.
func (s *Service) EvaluateInstance(instanceID string) error {
	detail, err := s.repo.GetInstanceDetail(instanceID)
	if errors.Is(err, db.ErrNotFound) {
		// instance deleted since the job was queued
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load metric instance: %w", err)
	}
	if detail.MetricName == db.HeartbeatMetricName {
		return nil
	}

	var obs *Observation
	if detail.LastValue != nil {
		if o, ok := ParseObservation(detail.ValueType, *detail.LastValue); ok {
			obs = &o
		}
	}
	return s.evaluateMetric(detail, obs)
}

// EvaluateMachine re-evaluates every metric instance on a machine.
func (s *Service) EvaluateMachine(machineID string) error {
	details, err := s.repo.ListInstanceDetailsForMachine(machineID)
	if err != nil {
		return fmt.Errorf("failed to list metric instances: %w", err)
	}

	var firstErr error
	for _, detail := range details {
		if detail.MetricName == db.HeartbeatMetricName {
			continue
		}
		var obs *Observation
		if detail.LastValue != nil {
			if o, ok := ParseObservation(detail.ValueType, *detail.LastValue); ok {
				obs = &o
			}
		}
		if err := s.evaluateMetric(detail, obs); err != nil {
			s.logger.Error("Failed to evaluate metric instance",
				zap.String("metric_instance_id", detail.ID),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// EvaluateHeartbeat runs a synthetic liveness observation through the
// machine's heartbeat instance. The instance's last_value columns stay
// untouched; only real agent data owns those.
func (s *Service) EvaluateHeartbeat(instanceID string, alive bool) error {
	detail, err := s.repo.GetInstanceDetail(instanceID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load heartbeat instance: %w", err)
	}
	obs := Observation{Type: db.ValueTypeBool, Bool: alive}
	return s.evaluateMetric(detail, &obs)
}

// EvaluateProbe folds one probe outcome into the target's subject state.
func (s *Service) EvaluateProbe(targetID string, healthy bool) error {
	target, err := s.repo.GetHTTPTargetByID(targetID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load http target: %w", err)
	}

	subject := db.Subject{ClientID: target.ClientID, HTTPTargetID: &target.ID}

	if !target.IsActive {
		if err := s.repo.UpdateTargetEvaluation(target.ID, db.StateUnknown, nil, 0); err != nil {
			return fmt.Errorf("failed to update target state: %w", err)
		}
		s.metrics.RecordEvaluation("http", db.StateUnknown)
		_, _, err := s.incidents.Resolve(subject)
		return err
	}

	desired := db.StateNormal
	if !healthy {
		desired = db.StateCritical
	}

	prev := gateState{
		state:         target.State,
		criticalSince: target.CriticalSince,
		breachCount:   target.FailCount,
	}
	res, err := s.applyGated(target.ClientID, prev, desired)
	if err != nil {
		return err
	}

	if err := s.repo.UpdateTargetEvaluation(target.ID, res.state, res.criticalSince, res.breachCount); err != nil {
		return fmt.Errorf("failed to update target state: %w", err)
	}
	s.metrics.RecordEvaluation("http", res.state)

	switch {
	case res.openDue:
		_, _, err := s.incidents.Open(db.OpenIncidentParams{
			Subject:      subject,
			Title:        fmt.Sprintf("HTTP check failed: %s", target.Name),
			Severity:     db.SeverityCritical,
			EmitReminder: res.emitReminder,
		})
		if err != nil {
			return fmt.Errorf("failed to open incident: %w", err)
		}
	case res.resolveDue:
		if _, _, err := s.incidents.Resolve(subject); err != nil {
			return fmt.Errorf("failed to resolve incident: %w", err)
		}
	}

	s.logger.Debug("Evaluated http target",
		zap.String("http_target_id", target.ID),
		zap.String("state", string(res.state)),
	)
	return nil
}

func (s *Service) evaluateMetric(detail *db.InstanceDetail, obs *Observation) error {
	subject := db.Subject{ClientID: detail.ClientID, MetricInstanceID: &detail.ID}

	// Paused or muted instances hold UNKNOWN and clear anything open.
	if detail.Paused || !detail.AlertEnabled {
		if err := s.repo.UpdateInstanceEvaluation(detail.ID, db.StateUnknown, nil, 0); err != nil {
			return fmt.Errorf("failed to update instance state: %w", err)
		}
		s.metrics.RecordEvaluation(s.subjectKind(detail), db.StateUnknown)
		_, _, err := s.incidents.Resolve(subject)
		return err
	}

	threshold, err := s.repo.GetEffectiveThreshold(detail.ID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("failed to load threshold: %w", err)
	}

	desired := db.StateUnknown
	if obs != nil && threshold != nil {
		if breached, ok := Compare(*obs, threshold); ok {
			if breached {
				desired = db.StateCritical
			} else {
				desired = db.StateNormal
			}
		}
	}

	prev := gateState{
		state:         detail.State,
		criticalSince: detail.CriticalSince,
		breachCount:   detail.BreachCount,
	}
	res, err := s.applyGated(detail.ClientID, prev, desired)
	if err != nil {
		return err
	}

	if err := s.repo.UpdateInstanceEvaluation(detail.ID, res.state, res.criticalSince, res.breachCount); err != nil {
		return fmt.Errorf("failed to update instance state: %w", err)
	}
	s.metrics.RecordEvaluation(s.subjectKind(detail), res.state)

	switch {
	case res.openDue:
		if _, _, err := s.incidents.Open(s.metricOpenParams(detail, threshold, obs, res.emitReminder)); err != nil {
			return fmt.Errorf("failed to open incident: %w", err)
		}
	case res.resolveDue:
		if _, _, err := s.incidents.Resolve(subject); err != nil {
			return fmt.Errorf("failed to resolve incident: %w", err)
		}
	}

	s.logger.Debug("Evaluated metric instance",
		zap.String("metric_instance_id", detail.ID),
		zap.String("metric", detail.MetricName),
		zap.String("state", string(res.state)),
	)
	return nil
}

// applyGated resolves the effective gate values for the client and runs
// the transition. Settings are only fetched when the subject is heading
// into CRITICAL; the other branches never consult them.
func (s *Service) applyGated(clientID string, prev gateState, desired db.SubjectState) (gateResult, error) {
	if desired != db.StateCritical {
		return applyTransition(prev, desired, time.Now(), 0, 0), nil
	}
	settings, err := s.repo.GetClientSettings(clientID)
	if err != nil {
		return gateResult{}, fmt.Errorf("failed to load client settings: %w", err)
	}
	grace := effective(settings.GracePeriodSeconds, s.defaults.GracePeriodSeconds)
	consecutive := effective(settings.ConsecutiveFailuresThreshold, s.defaults.ConsecutiveFailures)
	return applyTransition(prev, desired, time.Now(), grace, consecutive), nil
}

func (s *Service) metricOpenParams(detail *db.InstanceDetail, threshold *db.Threshold, obs *Observation, emitReminder bool) db.OpenIncidentParams {
	boundText := ThresholdValueText(threshold)
	title := fmt.Sprintf("Threshold breached: %s %s %s", detail.MetricName, threshold.Comparison, boundText)
	severity := threshold.Severity
	if detail.MetricName == db.HeartbeatMetricName {
		title = fmt.Sprintf("Machine offline: %s", detail.Hostname)
		severity = db.SeverityCritical
	}

	valueText := obs.Text()
	message := fmt.Sprintf("%s %s %s, observed %s on %s",
		detail.MetricName, threshold.Comparison, boundText, valueText, detail.Hostname)

	return db.OpenIncidentParams{
		Subject:      db.Subject{ClientID: detail.ClientID, MetricInstanceID: &detail.ID},
		MachineID:    &detail.MachineID,
		Title:        title,
		Severity:     severity,
		EmitReminder: emitReminder,
		AlertMessage: message,
		ThresholdID:  &threshold.ID,
		ValueText:    &valueText,
	}
}

func (s *Service) subjectKind(detail *db.InstanceDetail) string {
	if detail.MetricName == db.HeartbeatMetricName {
		return "heartbeat"
	}
	return "metric"
}

type gateState struct {
	state         db.SubjectState
	criticalSince *time.Time
	breachCount   int
}

type gateResult struct {
	state         db.SubjectState
	criticalSince *time.Time
	breachCount   int
	openDue       bool
	resolveDue    bool
	emitReminder  bool
}

// applyTransition runs one observation through the subject state machine.
// The gates only delay the open; the CRITICAL state itself is immediate.
// When both gates are configured, both must pass.
func applyTransition(prev gateState, desired db.SubjectState, now time.Time, graceSeconds, consecutiveFailures int) gateResult {
	switch desired {
	case db.StateCritical:
		res := gateResult{
			state:        db.StateCritical,
			breachCount:  prev.breachCount + 1,
			emitReminder: prev.state != db.StateCritical,
		}
		since := prev.criticalSince
		if since == nil {
			t := now
			since = &t
		}
		res.criticalSince = since

		res.openDue = true
		if graceSeconds > 0 && now.Sub(*since) < time.Duration(graceSeconds)*time.Second {
			res.openDue = false
		}
		if consecutiveFailures > 0 && res.breachCount < consecutiveFailures {
			res.openDue = false
		}
		return res

	case db.StateNormal:
		return gateResult{state: db.StateNormal, resolveDue: prev.state != db.StateNormal}
	}

	return gateResult{state: db.StateUnknown}
}

func effective(clientValue, fallback int) int {
	if clientValue > 0 {
		return clientValue
	}
	return fallback
}
