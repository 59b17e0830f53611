package db

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Ping() error {
	return r.db.Ping()
}

// Client operations
func (r *Repository) GetClient(id string) (*Client, error) {
	var c Client
	err := r.db.Get(&c, `SELECT * FROM clients WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &c, err
}

// API key operations
func (r *Repository) GetAPIKeyByKey(key string) (*APIKey, error) {
	var k APIKey
	err := r.db.Get(&k, `SELECT * FROM api_keys WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &k, err
}

func (r *Repository) TouchAPIKey(id string) error {
	_, err := r.db.Exec(`UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, id)
	return err
}

// Client settings. A client without a row gets zero values; the callers
// layer the global defaults on top.
func (r *Repository) GetClientSettings(clientID string) (*ClientSettings, error) {
	var s ClientSettings
	err := r.db.Get(&s, `SELECT * FROM client_settings WHERE client_id = $1`, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return &ClientSettings{ClientID: clientID, NotifyOnResolve: true, AlertGroupingWindowSeconds: 300}, nil
	}
	return &s, err
}

func (r *Repository) UpsertClientSettings(s *ClientSettings) error {
	query := `
        INSERT INTO client_settings (
            client_id, notification_email, slack_webhook_url, slack_channel_name,
            grace_period_seconds, reminder_notification_seconds,
            alert_grouping_enabled, alert_grouping_window_seconds,
            notify_on_resolve, heartbeat_threshold_minutes,
            consecutive_failures_threshold, updated_at
        ) VALUES (
            :client_id, :notification_email, :slack_webhook_url, :slack_channel_name,
            :grace_period_seconds, :reminder_notification_seconds,
            :alert_grouping_enabled, :alert_grouping_window_seconds,
            :notify_on_resolve, :heartbeat_threshold_minutes,
            :consecutive_failures_threshold, NOW()
        ) ON CONFLICT (client_id) DO UPDATE SET
            notification_email = EXCLUDED.notification_email,
            slack_webhook_url = EXCLUDED.slack_webhook_url,
            slack_channel_name = EXCLUDED.slack_channel_name,
            grace_period_seconds = EXCLUDED.grace_period_seconds,
            reminder_notification_seconds = EXCLUDED.reminder_notification_seconds,
            alert_grouping_enabled = EXCLUDED.alert_grouping_enabled,
            alert_grouping_window_seconds = EXCLUDED.alert_grouping_window_seconds,
            notify_on_resolve = EXCLUDED.notify_on_resolve,
            heartbeat_threshold_minutes = EXCLUDED.heartbeat_threshold_minutes,
            consecutive_failures_threshold = EXCLUDED.consecutive_failures_threshold,
            updated_at = NOW()`

	_, err := r.db.NamedExec(query, s)
	return err
}

// Dashboard
func (r *Repository) GetDashboardSummary(clientID string) (*DashboardSummary, error) {
	summary := &DashboardSummary{Machines: map[string]int{}}

	rows, err := r.db.Queryx(`SELECT status, COUNT(*) FROM machines WHERE client_id = $1 AND is_active = true GROUP BY status`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		summary.Machines[status] = count
	}

	if err := r.db.Get(&summary.OpenIncidents, `SELECT COUNT(*) FROM incidents WHERE client_id = $1 AND status = 'OPEN'`, clientID); err != nil {
		return nil, err
	}
	if err := r.db.Get(&summary.ActiveTargets, `SELECT COUNT(*) FROM http_targets WHERE client_id = $1 AND is_active = true`, clientID); err != nil {
		return nil, err
	}
	if err := r.db.Get(&summary.FiringAlerts, `SELECT COUNT(*) FROM alerts WHERE client_id = $1 AND status = 'FIRING'`, clientID); err != nil {
		return nil, err
	}
	return summary, nil
}
