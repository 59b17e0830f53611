package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// HeartbeatMetricName is the reserved definition backing machine liveness.
// It is provisioned per client and excluded from the no-data sweep.
const HeartbeatMetricName = "heartbeat"

// InstanceDetail is a metric instance joined with its definition and machine,
// enough context for evaluation and titles without further lookups.
type InstanceDetail struct {
	MetricInstance
	ClientID          string      `db:"client_id"`
	Hostname          string      `db:"hostname"`
	MetricName        string      `db:"metric_name"`
	ValueType         ValueType   `db:"value_type"`
	Unit              *string     `db:"unit"`
	DefaultComparison *Comparison `db:"default_comparison"`
}

const instanceDetailQuery = `
        SELECT i.*, m.client_id, m.hostname,
               d.name AS metric_name, d.value_type, d.unit, d.default_comparison
        FROM metric_instances i
        JOIN machines m ON m.id = i.machine_id
        JOIN metric_definitions d ON d.id = i.definition_id`

func (r *Repository) GetInstanceDetail(id string) (*InstanceDetail, error) {
	var inst InstanceDetail
	err := r.db.Get(&inst, instanceDetailQuery+` WHERE i.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &inst, err
}

func (r *Repository) GetInstanceDetailForClient(id, clientID string) (*InstanceDetail, error) {
	var inst InstanceDetail
	err := r.db.Get(&inst, instanceDetailQuery+` WHERE i.id = $1 AND m.client_id = $2`, id, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &inst, err
}

func (r *Repository) ListInstanceDetailsForMachine(machineID string) ([]*InstanceDetail, error) {
	instances := []*InstanceDetail{}
	err := r.db.Select(&instances, instanceDetailQuery+` WHERE i.machine_id = $1`, machineID)
	return instances, err
}

func (r *Repository) ListMachineMetrics(machineID, clientID string) ([]*MachineMetric, error) {
	metrics := []*MachineMetric{}
	query := `
        SELECT i.*, d.name AS metric_name, d.value_type, d.unit
        FROM metric_instances i
        JOIN machines m ON m.id = i.machine_id
        JOIN metric_definitions d ON d.id = i.definition_id
        WHERE i.machine_id = $1 AND m.client_id = $2
        ORDER BY d.name`

	err := r.db.Select(&metrics, query, machineID, clientID)
	return metrics, err
}

func (r *Repository) SetInstanceAlerting(id, clientID string, enabled bool) error {
	res, err := r.db.Exec(`
        UPDATE metric_instances i SET alert_enabled = $1, updated_at = NOW()
        FROM machines m
        WHERE i.id = $2 AND m.id = i.machine_id AND m.client_id = $3`,
		enabled, id, clientID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) SetInstancePaused(id, clientID string, paused bool) error {
	res, err := r.db.Exec(`
        UPDATE metric_instances i SET paused = $1, updated_at = NOW()
        FROM machines m
        WHERE i.id = $2 AND m.id = i.machine_id AND m.client_id = $3`,
		paused, id, clientID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateInstanceEvaluation persists the outcome of one evaluation pass.
// last_value columns stay untouched, only the ingest path owns those.
func (r *Repository) UpdateInstanceEvaluation(id string, state SubjectState, criticalSince *time.Time, breachCount int) error {
	_, err := r.db.Exec(`
        UPDATE metric_instances
        SET state = $1, critical_since = $2, breach_count = $3, updated_at = NOW()
        WHERE id = $4`,
		state, criticalSince, breachCount, id)
	return err
}

// Threshold operations
func (r *Repository) GetEffectiveThreshold(instanceID string) (*Threshold, error) {
	var t Threshold
	query := `SELECT * FROM thresholds WHERE metric_instance_id = $1 AND name = 'default'`
	err := r.db.Get(&t, query, instanceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &t, err
}

func (r *Repository) CreateThreshold(t *Threshold) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	query := `
        INSERT INTO thresholds (
            id, metric_instance_id, name, comparison,
            value_num, value_bool, value_str, severity
        ) VALUES (
            :id, :metric_instance_id, :name, :comparison,
            :value_num, :value_bool, :value_str, :severity
        )`

	_, err := r.db.NamedExec(query, t)
	if isUniqueViolation(err) {
		existing, selErr := r.GetEffectiveThreshold(t.MetricInstanceID)
		if selErr != nil {
			return fmt.Errorf("threshold exists but reselect failed: %w", selErr)
		}
		return &ConflictError{
			Message:    fmt.Sprintf("threshold %q already exists for this metric", t.Name),
			ExistingID: existing.ID,
		}
	}
	return err
}

// Staleness and retention
func (r *Repository) ListStaleInstances(noDataCutoff time.Time) ([]*InstanceDetail, error) {
	instances := []*InstanceDetail{}
	query := instanceDetailQuery + `
        WHERE i.alert_enabled = true
          AND i.paused = false
          AND d.name <> $1
          AND m.is_active = true
          AND m.status NOT IN ('STALE', 'DOWN')
          AND COALESCE(i.last_value_at, i.created_at) < $2`

	err := r.db.Select(&instances, query, HeartbeatMetricName, noDataCutoff)
	return instances, err
}

func (r *Repository) PurgeSamples(olderThan time.Time, batch int) (int64, error) {
	res, err := r.db.Exec(`
        DELETE FROM samples
        WHERE id IN (SELECT id FROM samples WHERE ts < $1 ORDER BY id LIMIT $2)`,
		olderThan, batch)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// EnsureHeartbeatInstance provisions the per-client heartbeat definition, the
// per-machine instance, and its default threshold (alert when the synthetic
// liveness flag reads false). Idempotent.
func (r *Repository) EnsureHeartbeatInstance(clientID, machineID string) (string, error) {
	tx, err := r.db.Beginx()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var defID string
	err = tx.Get(&defID, `
        INSERT INTO metric_definitions (id, client_id, name, value_type, suggested)
        VALUES ($1, $2, $3, 'bool', true)
        ON CONFLICT (client_id, name) DO UPDATE SET name = EXCLUDED.name
        RETURNING id`,
		uuid.New().String(), clientID, HeartbeatMetricName)
	if err != nil {
		return "", err
	}

	var instID string
	err = tx.Get(&instID, `
        INSERT INTO metric_instances (id, machine_id, definition_id)
        VALUES ($1, $2, $3)
        ON CONFLICT (machine_id, definition_id) DO UPDATE SET machine_id = EXCLUDED.machine_id
        RETURNING id`,
		uuid.New().String(), machineID, defID)
	if err != nil {
		return "", err
	}

	falseVal := false
	_, err = tx.Exec(`
        INSERT INTO thresholds (id, metric_instance_id, name, comparison, value_bool, severity)
        VALUES ($1, $2, 'default', 'eq', $3, 'critical')
        ON CONFLICT (metric_instance_id, name) DO NOTHING`,
		uuid.New().String(), instID, falseVal)
	if err != nil {
		return "", err
	}

	return instID, tx.Commit()
}
