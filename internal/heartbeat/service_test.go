package heartbeat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetwatch/fleetwatch/internal/db"
)

func TestClassifyMachine(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	seen := func(ago time.Duration) *time.Time {
		ts := now.Add(-ago)
		return &ts
	}

	tests := []struct {
		name             string
		lastSeen         *time.Time
		thresholdMinutes int
		want             db.MachineStatus
	}{
		{"never reported", nil, 5, db.MachineNoData},
		{"just reported", seen(0), 5, db.MachineUp},
		{"inside threshold", seen(4 * time.Minute), 5, db.MachineUp},
		{"exactly threshold", seen(5 * time.Minute), 5, db.MachineUp},
		{"past threshold", seen(5*time.Minute + time.Second), 5, db.MachineStale},
		{"exactly three thresholds", seen(15 * time.Minute), 5, db.MachineStale},
		{"past three thresholds", seen(15*time.Minute + time.Second), 5, db.MachineDown},
		{"long gone", seen(48 * time.Hour), 5, db.MachineDown},
		{"wider threshold stays up", seen(25 * time.Minute), 30, db.MachineUp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ClassifyMachine(tt.lastSeen, tt.thresholdMinutes, now))
		})
	}
}
