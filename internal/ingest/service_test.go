package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetwatch/fleetwatch/internal/db"
)

func TestBuildMetric_Number(t *testing.T) {
	unit := "percent"
	m, err := BuildMetric("cpu_usage", "number", float64(97.5), &unit)
	require.NoError(t, err)
	require.Equal(t, db.ValueTypeNumber, m.Type)
	require.Equal(t, 97.5, *m.NumValue)
	require.Equal(t, "97.5", m.ValueText)
	require.Equal(t, "percent", *m.Unit)
	require.Nil(t, m.BoolValue)
	require.Nil(t, m.StrValue)
}

func TestBuildMetric_Bool(t *testing.T) {
	m, err := BuildMetric("backup_ok", "bool", true, nil)
	require.NoError(t, err)
	require.Equal(t, true, *m.BoolValue)
	require.Equal(t, "true", m.ValueText)
}

func TestBuildMetric_String(t *testing.T) {
	m, err := BuildMetric("raid_status", "string", "degraded", nil)
	require.NoError(t, err)
	require.Equal(t, "degraded", *m.StrValue)
	require.Equal(t, "degraded", m.ValueText)
}

func TestBuildMetric_TypeMismatch(t *testing.T) {
	tests := []struct {
		name      string
		valueType string
		value     interface{}
		wantMsg   string
	}{
		{"string for number", "number", "97.5", "not a number"},
		{"number for bool", "bool", float64(1), "not a bool"},
		{"bool for string", "string", true, "not a string"},
		{"unknown type", "decimal", float64(1), "unknown type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildMetric("m", tt.valueType, tt.value, nil)
			require.Error(t, err)

			var verr *db.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Contains(t, verr.Message, tt.wantMsg)
		})
	}
}

func TestDeriveIngestID(t *testing.T) {
	sent := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	batch := db.IngestBatch{
		ClientID:    "client-1",
		Fingerprint: "fp-abc",
		SentAt:      &sent,
		Metrics: []db.IngestMetric{
			{Name: "cpu_usage", ValueText: "97.5"},
			{Name: "backup_ok", ValueText: "true"},
		},
	}

	id := deriveIngestID(batch)
	require.True(t, strings.HasPrefix(id, "auto-"))
	require.LessOrEqual(t, len(id), MaxIngestIDLen)

	// Same batch, same id: retransmits dedupe.
	require.Equal(t, id, deriveIngestID(batch))

	// Any changed input produces a different id.
	other := batch
	other.Metrics = []db.IngestMetric{
		{Name: "cpu_usage", ValueText: "97.6"},
		{Name: "backup_ok", ValueText: "true"},
	}
	require.NotEqual(t, id, deriveIngestID(other))

	later := sent.Add(time.Second)
	other = batch
	other.SentAt = &later
	require.NotEqual(t, id, deriveIngestID(other))

	other = batch
	other.SentAt = nil
	require.NotEqual(t, id, deriveIngestID(other))
}
