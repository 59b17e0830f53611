package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// HTTP target operations
func (r *Repository) CreateHTTPTarget(t *HTTPTarget) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	query := `
        INSERT INTO http_targets (
            id, client_id, name, url, method, accepted_status_codes,
            timeout_seconds, check_interval_seconds, is_active
        ) VALUES (
            :id, :client_id, :name, :url, :method, :accepted_status_codes,
            :timeout_seconds, :check_interval_seconds, :is_active
        )`

	_, err := r.db.NamedExec(query, t)
	if isUniqueViolation(err) {
		var existingID string
		selErr := r.db.Get(&existingID, `SELECT id FROM http_targets WHERE client_id = $1 AND url = $2`, t.ClientID, t.URL)
		if selErr != nil {
			return fmt.Errorf("target exists but reselect failed: %w", selErr)
		}
		return &ConflictError{
			Message:    fmt.Sprintf("a target for %s already exists", t.URL),
			ExistingID: existingID,
		}
	}
	return err
}

func (r *Repository) GetHTTPTarget(id, clientID string) (*HTTPTarget, error) {
	var t HTTPTarget
	query := `SELECT * FROM http_targets WHERE id = $1 AND client_id = $2`
	err := r.db.Get(&t, query, id, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &t, err
}

func (r *Repository) GetHTTPTargetByID(id string) (*HTTPTarget, error) {
	var t HTTPTarget
	err := r.db.Get(&t, `SELECT * FROM http_targets WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &t, err
}

func (r *Repository) ListHTTPTargets(clientID string, limit, offset int) ([]*HTTPTarget, error) {
	targets := []*HTTPTarget{}
	query := `
        SELECT * FROM http_targets
        WHERE client_id = $1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`

	err := r.db.Select(&targets, query, clientID, limit, offset)
	return targets, err
}

func (r *Repository) UpdateHTTPTarget(t *HTTPTarget) error {
	query := `
        UPDATE http_targets SET
            name = :name,
            url = :url,
            method = :method,
            accepted_status_codes = :accepted_status_codes,
            timeout_seconds = :timeout_seconds,
            check_interval_seconds = :check_interval_seconds,
            is_active = :is_active
        WHERE id = :id AND client_id = :client_id`

	res, err := r.db.NamedExec(query, t)
	if isUniqueViolation(err) {
		var existingID string
		selErr := r.db.Get(&existingID, `SELECT id FROM http_targets WHERE client_id = $1 AND url = $2`, t.ClientID, t.URL)
		if selErr != nil {
			return fmt.Errorf("target exists but reselect failed: %w", selErr)
		}
		return &ConflictError{
			Message:    fmt.Sprintf("a target for %s already exists", t.URL),
			ExistingID: existingID,
		}
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteHTTPTarget(id, clientID string) error {
	res, err := r.db.Exec(`DELETE FROM http_targets WHERE id = $1 AND client_id = $2`, id, clientID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Probe scheduling
func (r *Repository) GetTargetsDue() ([]*HTTPTarget, error) {
	targets := []*HTTPTarget{}
	query := `
        SELECT * FROM http_targets
        WHERE is_active = true
        AND (
            last_check_at IS NULL
            OR last_check_at + (check_interval_seconds || ' seconds')::interval < NOW()
        )
        ORDER BY client_id, last_check_at NULLS FIRST`

	err := r.db.Select(&targets, query)
	return targets, err
}

func (r *Repository) SaveProbeResult(id string, checkedAt time.Time, status int, latencyMs int, probeErr string) error {
	var errVal *string
	if probeErr != "" {
		errVal = &probeErr
	}
	_, err := r.db.Exec(`
        UPDATE http_targets
        SET last_check_at = $1, last_status = $2, last_latency_ms = $3, last_error = $4
        WHERE id = $5`,
		checkedAt, status, latencyMs, errVal, id)
	return err
}

func (r *Repository) UpdateTargetEvaluation(id string, state SubjectState, criticalSince *time.Time, failCount int) error {
	_, err := r.db.Exec(`
        UPDATE http_targets
        SET state = $1, critical_since = $2, fail_count = $3
        WHERE id = $4`,
		state, criticalSince, failCount, id)
	return err
}
