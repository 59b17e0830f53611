package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetwatch/fleetwatch/internal/db"
)

func TestReminderDue(t *testing.T) {
	now := time.Now()
	past := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}

	tests := []struct {
		name        string
		lastSuccess *time.Time
		cooldown    int
		want        bool
	}{
		{"never notified", nil, 600, true},
		{"cooldown disabled", past(time.Second), 0, true},
		{"negative cooldown", past(time.Second), -1, true},
		{"inside cooldown", past(599 * time.Second), 600, false},
		{"cooldown elapsed exactly", past(600 * time.Second), 600, true},
		{"cooldown elapsed", past(time.Hour), 600, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ReminderDue(tt.lastSuccess, tt.cooldown, now))
		})
	}
}

func TestCooldownSeconds(t *testing.T) {
	settings := &db.ClientSettings{ReminderNotificationSeconds: 900}
	require.Equal(t, 900, CooldownSeconds(settings, 10))

	settings.ReminderNotificationSeconds = 0
	require.Equal(t, 600, CooldownSeconds(settings, 10))

	settings.ReminderNotificationSeconds = -5
	require.Equal(t, 600, CooldownSeconds(settings, 10))
}

func candidateDueAt(id string, opened time.Time, lastSuccess *time.Time, cooldown, window int) *db.ReminderCandidate {
	return &db.ReminderCandidate{
		Incident:              db.Incident{ID: id, ClientID: "client-1", OpenedAt: opened},
		GroupingEnabled:       true,
		GroupingWindowSeconds: window,
		CooldownSeconds:       cooldown,
		LastSuccessAt:         lastSuccess,
	}
}

func TestBundleByWindow(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	// Three incidents due within five minutes of the earliest, one an hour out.
	members := []*db.ReminderCandidate{
		candidateDueAt("inc-d", base.Add(time.Hour), nil, 600, 300),
		candidateDueAt("inc-a", base, nil, 600, 300),
		candidateDueAt("inc-c", base.Add(5*time.Minute), nil, 600, 300),
		candidateDueAt("inc-b", base.Add(time.Minute), nil, 600, 300),
	}

	bundle, rest := bundleByWindow(members)
	require.Len(t, bundle, 3)
	require.Len(t, rest, 1)
	require.Equal(t, "inc-a", bundle[0].ID)
	require.Equal(t, "inc-b", bundle[1].ID)
	require.Equal(t, "inc-c", bundle[2].ID)
	require.Equal(t, "inc-d", rest[0].ID)
}

func TestBundleByWindow_LastSuccessShiftsDueTime(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	success := base.Add(-10 * time.Minute)

	// Opened long ago but notified recently: due time is success+cooldown,
	// which lands inside the window of the never-notified one.
	members := []*db.ReminderCandidate{
		candidateDueAt("inc-old", base.Add(-2*time.Hour), &success, 600, 300),
		candidateDueAt("inc-new", base, nil, 600, 300),
	}

	bundle, rest := bundleByWindow(members)
	require.Len(t, bundle, 2)
	require.Empty(t, rest)
}

func TestBundleByWindow_ZeroWindow(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	members := []*db.ReminderCandidate{
		candidateDueAt("inc-a", base, nil, 600, 0),
		candidateDueAt("inc-b", base.Add(time.Second), nil, 600, 0),
	}

	bundle, rest := bundleByWindow(members)
	require.Len(t, bundle, 1)
	require.Len(t, rest, 1)
}

func TestMaxSeverity(t *testing.T) {
	require.Equal(t, db.SeverityCritical, maxSeverity([]*db.Incident{
		{Severity: db.SeverityWarning},
		{Severity: db.SeverityCritical},
		{Severity: db.SeverityInfo},
	}))
	require.Equal(t, db.SeverityWarning, maxSeverity([]*db.Incident{
		{Severity: db.SeverityInfo},
		{Severity: db.SeverityWarning},
	}))
	require.Equal(t, db.SeverityInfo, maxSeverity(nil))
}
