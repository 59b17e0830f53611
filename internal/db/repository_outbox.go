package db

import (
	"time"
)

// ClaimDueOutboxEvents picks up due events and leases them for delivery.
// attempts is bumped at claim time, so a crash mid-delivery still counts
// against the retry budget. The lease makes abandoned claims reclaimable.
func (r *Repository) ClaimDueOutboxEvents(limit int, lease time.Duration) ([]*OutboxEvent, error) {
	events := []*OutboxEvent{}
	query := `
        UPDATE outbox_events
        SET status = 'DELIVERING',
            attempts = attempts + 1,
            next_attempt_at = NOW() + ($2 || ' seconds')::interval
        WHERE id IN (
            SELECT id FROM outbox_events
            WHERE status IN ('PENDING', 'DELIVERING')
              AND next_attempt_at <= NOW()
            ORDER BY id
            LIMIT $1
            FOR UPDATE SKIP LOCKED
        )
        RETURNING *`

	err := r.db.Select(&events, query, limit, int(lease.Seconds()))
	return events, err
}

func (r *Repository) MarkOutboxDelivered(id int64) error {
	_, err := r.db.Exec(`
        UPDATE outbox_events SET status = 'DELIVERED', delivered_at = NOW()
        WHERE id = $1`, id)
	return err
}

func (r *Repository) RetryOutboxEvent(id int64, nextAttempt time.Time) error {
	_, err := r.db.Exec(`
        UPDATE outbox_events SET status = 'PENDING', next_attempt_at = $1
        WHERE id = $2`, nextAttempt, id)
	return err
}

func (r *Repository) FailOutboxEvent(id int64) error {
	_, err := r.db.Exec(`
        UPDATE outbox_events SET status = 'FAILED', next_attempt_at = NULL
        WHERE id = $1`, id)
	return err
}
