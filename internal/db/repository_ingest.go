package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ValidationError rejects a whole ingest batch, the agent should not retry
// the payload unchanged.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IngestMetric is one reading, already parsed by the ingest service.
type IngestMetric struct {
	Name      string
	Type      ValueType
	Unit      *string
	NumValue  *float64
	BoolValue *bool
	StrValue  *string
	ValueText string
}

type IngestBatch struct {
	ClientID    string
	IngestID    string
	SentAt      *time.Time
	Hostname    string
	OS          string
	Fingerprint string
	Metrics     []IngestMetric
}

type IngestResult struct {
	Duplicate   bool
	MachineID   string
	InstanceIDs []string
}

// RecordIngest applies one agent batch in a single transaction: machine
// upsert, dedup marker, definition/instance resolution, sample append.
// A duplicate ingest id commits the machine touch and nothing else.
func (r *Repository) RecordIngest(b IngestBatch) (*IngestResult, error) {
	tx, err := r.db.Beginx()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var machineID string
	err = tx.Get(&machineID, `
        INSERT INTO machines (id, client_id, hostname, os, fingerprint, status, last_seen)
        VALUES ($1, $2, $3, $4, $5, 'UP', NOW())
        ON CONFLICT (client_id, fingerprint) DO UPDATE SET
            hostname = EXCLUDED.hostname,
            os = EXCLUDED.os,
            status = 'UP',
            last_seen = NOW()
        RETURNING id`,
		uuid.New().String(), b.ClientID, b.Hostname, b.OS, b.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert machine: %w", err)
	}

	res, err := tx.Exec(`
        INSERT INTO ingest_events (id, client_id, ingest_id, machine_id, sent_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (client_id, ingest_id) DO NOTHING`,
		uuid.New().String(), b.ClientID, b.IngestID, machineID, b.SentAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record ingest event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &IngestResult{Duplicate: true, MachineID: machineID}, tx.Commit()
	}

	result := &IngestResult{MachineID: machineID}
	for _, m := range b.Metrics {
		var def struct {
			ID        string    `db:"id"`
			ValueType ValueType `db:"value_type"`
		}
		err = tx.Get(&def, `
            INSERT INTO metric_definitions (id, client_id, name, value_type, unit)
            VALUES ($1, $2, $3, $4, $5)
            ON CONFLICT (client_id, name) DO UPDATE SET name = EXCLUDED.name
            RETURNING id, value_type`,
			uuid.New().String(), b.ClientID, m.Name, m.Type, m.Unit)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve definition %s: %w", m.Name, err)
		}
		if def.ValueType != m.Type {
			return nil, &ValidationError{
				Message: fmt.Sprintf("metric %s is registered as %s, got %s", m.Name, def.ValueType, m.Type),
			}
		}

		var instID string
		err = tx.Get(&instID, `
            INSERT INTO metric_instances (
                id, machine_id, definition_id, last_value, last_value_at, baseline_value
            ) VALUES ($1, $2, $3, $4, NOW(), $4)
            ON CONFLICT (machine_id, definition_id) DO UPDATE SET
                last_value = EXCLUDED.last_value,
                last_value_at = NOW(),
                updated_at = NOW()
            RETURNING id`,
			uuid.New().String(), machineID, def.ID, m.ValueText)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve instance for %s: %w", m.Name, err)
		}

		_, err = tx.Exec(`
            INSERT INTO samples (metric_instance_id, ts, sent_at, value_type, num_value, bool_value, str_value)
            VALUES ($1, NOW(), $2, $3, $4, $5, $6)`,
			instID, b.SentAt, m.Type, m.NumValue, m.BoolValue, m.StrValue)
		if err != nil {
			return nil, fmt.Errorf("failed to append sample for %s: %w", m.Name, err)
		}

		result.InstanceIDs = append(result.InstanceIDs, instID)
	}

	return result, tx.Commit()
}

func (r *Repository) GetIngestEvent(clientID, ingestID string) (*IngestEvent, error) {
	var ev IngestEvent
	query := `SELECT * FROM ingest_events WHERE client_id = $1 AND ingest_id = $2`
	err := r.db.Get(&ev, query, clientID, ingestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &ev, err
}
