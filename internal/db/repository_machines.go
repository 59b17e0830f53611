package db

import (
	"database/sql"
	"errors"
)

// Machine operations
func (r *Repository) GetMachine(id, clientID string) (*Machine, error) {
	var m Machine
	query := `SELECT * FROM machines WHERE id = $1 AND client_id = $2`
	err := r.db.Get(&m, query, id, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &m, err
}

func (r *Repository) ListMachines(clientID string, limit, offset int) ([]*Machine, error) {
	machines := []*Machine{}
	query := `
        SELECT * FROM machines
        WHERE client_id = $1
        ORDER BY hostname
        LIMIT $2 OFFSET $3`

	err := r.db.Select(&machines, query, clientID, limit, offset)
	return machines, err
}

// MachineWithThreshold carries the effective heartbeat threshold next to the
// machine so the sweeps classify without a settings lookup per row.
type MachineWithThreshold struct {
	Machine
	ThresholdMinutes int `db:"threshold_minutes"`
}

func (r *Repository) ListActiveMachinesWithThreshold(defaultMinutes int) ([]*MachineWithThreshold, error) {
	machines := []*MachineWithThreshold{}
	query := `
        SELECT m.*, COALESCE(NULLIF(s.heartbeat_threshold_minutes, 0), $1) AS threshold_minutes
        FROM machines m
        LEFT JOIN client_settings s ON s.client_id = m.client_id
        WHERE m.is_active = true`

	err := r.db.Select(&machines, query, defaultMinutes)
	return machines, err
}

func (r *Repository) UpdateMachineStatus(id string, status MachineStatus) error {
	_, err := r.db.Exec(`UPDATE machines SET status = $1 WHERE id = $2`, status, id)
	return err
}

func (r *Repository) ListActiveMachineIDs() ([]string, error) {
	ids := []string{}
	err := r.db.Select(&ids, `SELECT id FROM machines WHERE is_active = true`)
	return ids, err
}
