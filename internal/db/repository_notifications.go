package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Notification log operations
func (r *Repository) CreateNotificationLog(n *NotificationLog) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	query := `
        INSERT INTO notification_log (
            id, client_id, incident_id, alert_id, provider, recipient, kind, status
        ) VALUES (
            :id, :client_id, :incident_id, :alert_id, :provider, :recipient, :kind, :status
        )`

	_, err := r.db.NamedExec(query, n)
	return err
}

func (r *Repository) MarkNotificationSuccess(id string) error {
	_, err := r.db.Exec(`UPDATE notification_log SET status = 'success', sent_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *Repository) MarkNotificationFailed(id, errMsg string) error {
	_, err := r.db.Exec(`UPDATE notification_log SET status = 'failed', error = $1 WHERE id = $2`, errMsg, id)
	return err
}

// LastSuccessfulSend is the cooldown oracle: the most recent successful
// delivery for the incident across all providers.
func (r *Repository) LastSuccessfulSend(incidentID string) (*time.Time, error) {
	var last sql.NullTime
	query := `SELECT MAX(sent_at) FROM notification_log WHERE incident_id = $1 AND status = 'success'`
	if err := r.db.Get(&last, query, incidentID); err != nil {
		return nil, err
	}
	if !last.Valid {
		return nil, nil
	}
	return &last.Time, nil
}

// LastProviderSend is the per-provider cooldown check. Retried jobs use it
// so a provider that already delivered is not sent again while the one that
// failed still is.
func (r *Repository) LastProviderSend(incidentID, provider string) (*time.Time, error) {
	var last sql.NullTime
	query := `
        SELECT MAX(sent_at) FROM notification_log
        WHERE incident_id = $1 AND provider = $2 AND status = 'success'`
	if err := r.db.Get(&last, query, incidentID, provider); err != nil {
		return nil, err
	}
	if !last.Valid {
		return nil, nil
	}
	return &last.Time, nil
}

// HasSuccessfulSend reports whether a kind was already delivered once for the
// incident over the given provider. Resolve messages use it to stay one-shot.
func (r *Repository) HasSuccessfulSend(incidentID, provider string, kind NotifyKind) (bool, error) {
	var exists bool
	query := `
        SELECT EXISTS(
            SELECT 1 FROM notification_log
            WHERE incident_id = $1 AND provider = $2 AND kind = $3 AND status = 'success'
        )`
	err := r.db.Get(&exists, query, incidentID, provider, kind)
	return exists, err
}

func (r *Repository) ListNotifications(clientID string, limit, offset int) ([]*NotificationLog, error) {
	logs := []*NotificationLog{}
	query := `
        SELECT * FROM notification_log
        WHERE client_id = $1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`

	err := r.db.Select(&logs, query, clientID, limit, offset)
	return logs, err
}

func (r *Repository) TouchIncidentNotified(incidentID string) error {
	_, err := r.db.Exec(`UPDATE incidents SET last_notified_at = NOW() WHERE id = $1`, incidentID)
	return err
}

// ReminderCandidate is an OPEN incident with the client reminder settings and
// its delivery history folded in, so the sweep decides due-ness in one pass.
type ReminderCandidate struct {
	Incident
	GroupingEnabled       bool       `db:"grouping_enabled"`
	GroupingWindowSeconds int        `db:"grouping_window"`
	CooldownSeconds       int        `db:"cooldown_seconds"`
	LastSuccessAt         *time.Time `db:"last_success_at"`
}

func (r *Repository) ListReminderCandidates(defaultCooldownSeconds int) ([]*ReminderCandidate, error) {
	candidates := []*ReminderCandidate{}
	query := `
        SELECT inc.*,
               COALESCE(s.alert_grouping_enabled, false) AS grouping_enabled,
               COALESCE(s.alert_grouping_window_seconds, 300) AS grouping_window,
               CASE WHEN COALESCE(s.reminder_notification_seconds, 0) > 0
                    THEN s.reminder_notification_seconds
                    ELSE $1 END AS cooldown_seconds,
               n.last_success_at
        FROM incidents inc
        LEFT JOIN client_settings s ON s.client_id = inc.client_id
        LEFT JOIN LATERAL (
            SELECT MAX(sent_at) AS last_success_at FROM notification_log
            WHERE incident_id = inc.id AND status = 'success'
        ) n ON true
        WHERE inc.status = 'OPEN'`

	err := r.db.Select(&candidates, query, defaultCooldownSeconds)
	return candidates, err
}
