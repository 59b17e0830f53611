package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Subject identifies the entity an incident is about. Exactly one of
// HTTPTargetID and MetricInstanceID is set.
type Subject struct {
	ClientID         string
	HTTPTargetID     *string
	MetricInstanceID *string
}

// LockKey is the advisory-lock identity. All incident transitions for one
// subject serialize on it.
func (s Subject) LockKey() string {
	if s.HTTPTargetID != nil {
		return fmt.Sprintf("target:%s:%s", s.ClientID, *s.HTTPTargetID)
	}
	return fmt.Sprintf("metric:%s:%s", s.ClientID, *s.MetricInstanceID)
}

// NotifyIntent is the outbox payload carrying a pending notification.
type NotifyIntent struct {
	Kind       NotifyKind `json:"kind"`
	IncidentID string     `json:"incident_id"`
	ClientID   string     `json:"client_id"`
	AlertID    *string    `json:"alert_id,omitempty"`
}

// OutboxKindNotify marks outbox rows holding NotifyIntent payloads.
const OutboxKindNotify = "notify"

type OpenIncidentParams struct {
	Subject      Subject
	MachineID    *string
	Title        string
	Severity     Severity
	EmitReminder bool

	// Metric subjects also track a FIRING alert row.
	AlertMessage string
	ThresholdID  *string
	ValueText    *string
}

// OpenIncident opens an incident for the subject, or coalesces onto the
// existing OPEN one. The partial unique indexes arbitrate the race; the
// advisory lock serializes against concurrent resolves. The notify intent
// lands in outbox_events inside the same transaction.
func (r *Repository) OpenIncident(p OpenIncidentParams) (*Incident, bool, error) {
	tx, err := r.db.Beginx()
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`SELECT pg_advisory_xact_lock(hashtext($1))`, p.Subject.LockKey()); err != nil {
		return nil, false, fmt.Errorf("failed to take subject lock: %w", err)
	}

	var inc Incident
	err = tx.Get(&inc, `
        INSERT INTO incidents (
            id, client_id, http_target_id, metric_instance_id, machine_id,
            title, severity, status, opened_at, last_observed_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, 'OPEN', NOW(), NOW())
        ON CONFLICT DO NOTHING
        RETURNING *`,
		uuid.New().String(), p.Subject.ClientID, p.Subject.HTTPTargetID,
		p.Subject.MetricInstanceID, p.MachineID, p.Title, p.Severity)

	if err == nil {
		// First open for this subject.
		var alertID *string
		if p.Subject.MetricInstanceID != nil {
			alertID, err = upsertFiringAlert(tx, &inc, p)
			if err != nil {
				return nil, false, err
			}
		}
		intent := NotifyIntent{Kind: NotifyOpen, IncidentID: inc.ID, ClientID: inc.ClientID, AlertID: alertID}
		if err := insertOutboxEvent(tx, OutboxKindNotify, intent); err != nil {
			return nil, false, err
		}
		return &inc, true, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to open incident: %w", err)
	}

	// An OPEN incident already exists, refresh its observation time.
	err = tx.Get(&inc, `
        UPDATE incidents SET last_observed_at = NOW()
        WHERE client_id = $1 AND status = 'OPEN'
          AND http_target_id IS NOT DISTINCT FROM $2
          AND metric_instance_id IS NOT DISTINCT FROM $3
        RETURNING *`,
		p.Subject.ClientID, p.Subject.HTTPTargetID, p.Subject.MetricInstanceID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to refresh open incident: %w", err)
	}

	if p.EmitReminder {
		intent := NotifyIntent{Kind: NotifyReminder, IncidentID: inc.ID, ClientID: inc.ClientID}
		if err := insertOutboxEvent(tx, OutboxKindNotify, intent); err != nil {
			return nil, false, err
		}
	}
	return &inc, false, tx.Commit()
}

// ResolveIncident flips the subject's OPEN incident to RESOLVED, if one
// exists. emitNotify=false still resolves, it only withholds the intent.
func (r *Repository) ResolveIncident(subject Subject, emitNotify bool) (*Incident, bool, error) {
	tx, err := r.db.Beginx()
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`SELECT pg_advisory_xact_lock(hashtext($1))`, subject.LockKey()); err != nil {
		return nil, false, fmt.Errorf("failed to take subject lock: %w", err)
	}

	var inc Incident
	err = tx.Get(&inc, `
        UPDATE incidents SET status = 'RESOLVED', resolved_at = NOW()
        WHERE client_id = $1 AND status = 'OPEN'
          AND http_target_id IS NOT DISTINCT FROM $2
          AND metric_instance_id IS NOT DISTINCT FROM $3
        RETURNING *`,
		subject.ClientID, subject.HTTPTargetID, subject.MetricInstanceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, tx.Commit()
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve incident: %w", err)
	}

	if subject.MetricInstanceID != nil {
		_, err = tx.Exec(`
            UPDATE alerts SET status = 'RESOLVED', resolved_at = NOW()
            WHERE metric_instance_id = $1 AND status = 'FIRING'`,
			*subject.MetricInstanceID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to resolve alerts: %w", err)
		}
	}

	if emitNotify {
		intent := NotifyIntent{Kind: NotifyResolve, IncidentID: inc.ID, ClientID: inc.ClientID}
		if err := insertOutboxEvent(tx, OutboxKindNotify, intent); err != nil {
			return nil, false, err
		}
	}
	return &inc, true, tx.Commit()
}

func upsertFiringAlert(tx *sqlx.Tx, inc *Incident, p OpenIncidentParams) (*string, error) {
	var alertID string
	err := tx.Get(&alertID, `SELECT id FROM alerts WHERE metric_instance_id = $1 AND status = 'FIRING' LIMIT 1`, *p.Subject.MetricInstanceID)
	if err == nil {
		return &alertID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up firing alert: %w", err)
	}

	alertID = uuid.New().String()
	_, err = tx.Exec(`
        INSERT INTO alerts (
            id, client_id, machine_id, metric_instance_id, threshold_id,
            severity, status, message, value_text
        ) VALUES ($1, $2, $3, $4, $5, $6, 'FIRING', $7, $8)`,
		alertID, inc.ClientID, p.MachineID, *p.Subject.MetricInstanceID,
		p.ThresholdID, p.Severity, p.AlertMessage, p.ValueText)
	if err != nil {
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}
	return &alertID, nil
}

func insertOutboxEvent(tx *sqlx.Tx, kind string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode outbox payload: %w", err)
	}
	_, err = tx.Exec(`
        INSERT INTO outbox_events (kind, payload, status, next_attempt_at)
        VALUES ($1, $2, 'PENDING', NOW())`,
		kind, body)
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox event: %w", err)
	}
	return nil
}

// Incident reads
func (r *Repository) GetIncident(id string) (*Incident, error) {
	var inc Incident
	err := r.db.Get(&inc, `SELECT * FROM incidents WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &inc, err
}

func (r *Repository) GetIncidents(f IncidentFilters) ([]*Incident, error) {
	incidents := []*Incident{}
	query := `SELECT * FROM incidents WHERE client_id = $1`
	args := []interface{}{f.ClientID}

	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Severity != "" {
		args = append(args, f.Severity)
		query += fmt.Sprintf(" AND severity = $%d", len(args))
	}
	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY opened_at DESC LIMIT $%d", len(args))
	args = append(args, f.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	err := r.db.Select(&incidents, query, args...)
	return incidents, err
}

func (r *Repository) GetAlert(id string) (*Alert, error) {
	var alert Alert
	err := r.db.Get(&alert, `SELECT * FROM alerts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &alert, err
}

func (r *Repository) GetAlerts(clientID, status string, limit, offset int) ([]*Alert, error) {
	alerts := []*Alert{}
	query := `SELECT * FROM alerts WHERE client_id = $1`
	args := []interface{}{clientID}

	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	err := r.db.Select(&alerts, query, args...)
	return alerts, err
}

// ListStaleOpenMetricIncidents returns OPEN metric incidents whose instance
// stopped reporting before the cutoff. The maintenance sweep resolves them.
func (r *Repository) ListStaleOpenMetricIncidents(cutoff time.Time) ([]*Incident, error) {
	incidents := []*Incident{}
	query := `
        SELECT inc.* FROM incidents inc
        JOIN metric_instances i ON i.id = inc.metric_instance_id
        WHERE inc.status = 'OPEN'
          AND inc.metric_instance_id IS NOT NULL
          AND COALESCE(i.last_value_at, i.created_at) < $1`

	err := r.db.Select(&incidents, query, cutoff)
	return incidents, err
}
