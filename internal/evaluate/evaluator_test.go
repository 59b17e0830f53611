package evaluate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetwatch/fleetwatch/internal/db"
)

func TestTransition_ImmediateOpenWithoutGates(t *testing.T) {
	now := time.Now()
	res := applyTransition(gateState{state: db.StateNormal}, db.StateCritical, now, 0, 0)

	require.Equal(t, db.StateCritical, res.state)
	require.Equal(t, 1, res.breachCount)
	require.NotNil(t, res.criticalSince)
	require.True(t, res.openDue)
	require.True(t, res.emitReminder)
	require.False(t, res.resolveDue)
}

func TestTransition_GracePeriodDelaysOpen(t *testing.T) {
	now := time.Now()

	// First breach starts the clock; nothing opens yet.
	res := applyTransition(gateState{state: db.StateNormal}, db.StateCritical, now, 300, 0)
	require.Equal(t, db.StateCritical, res.state)
	require.False(t, res.openDue)
	require.True(t, res.emitReminder)
	require.WithinDuration(t, now, *res.criticalSince, time.Second)

	// Still inside the grace window.
	since := now.Add(-200 * time.Second)
	res = applyTransition(gateState{state: db.StateCritical, criticalSince: &since, breachCount: 3}, db.StateCritical, now, 300, 0)
	require.False(t, res.openDue)

	// Window elapsed.
	since = now.Add(-301 * time.Second)
	res = applyTransition(gateState{state: db.StateCritical, criticalSince: &since, breachCount: 3}, db.StateCritical, now, 300, 0)
	require.True(t, res.openDue)
}

func TestTransition_ConsecutiveFailuresDelayOpen(t *testing.T) {
	now := time.Now()
	prev := gateState{state: db.StateNormal}

	for i := 0; i < 2; i++ {
		res := applyTransition(prev, db.StateCritical, now, 0, 3)
		require.False(t, res.openDue, "breach %d should stay gated", i+1)
		prev = gateState{state: res.state, criticalSince: res.criticalSince, breachCount: res.breachCount}
	}

	res := applyTransition(prev, db.StateCritical, now, 0, 3)
	require.Equal(t, 3, res.breachCount)
	require.True(t, res.openDue)
}

func TestTransition_BothGatesMustPass(t *testing.T) {
	now := time.Now()
	since := now.Add(-10 * time.Minute)

	// Grace satisfied, streak not.
	res := applyTransition(gateState{state: db.StateCritical, criticalSince: &since, breachCount: 1}, db.StateCritical, now, 300, 5)
	require.False(t, res.openDue)

	// Streak satisfied, grace not.
	fresh := now.Add(-5 * time.Second)
	res = applyTransition(gateState{state: db.StateCritical, criticalSince: &fresh, breachCount: 9}, db.StateCritical, now, 300, 5)
	require.False(t, res.openDue)

	// Both satisfied.
	res = applyTransition(gateState{state: db.StateCritical, criticalSince: &since, breachCount: 9}, db.StateCritical, now, 300, 5)
	require.True(t, res.openDue)
}

func TestTransition_CriticalSincePreserved(t *testing.T) {
	now := time.Now()
	since := now.Add(-time.Hour)

	res := applyTransition(gateState{state: db.StateCritical, criticalSince: &since, breachCount: 40}, db.StateCritical, now, 0, 0)
	require.Equal(t, since, *res.criticalSince)
	require.Equal(t, 41, res.breachCount)
	require.False(t, res.emitReminder, "reminder intent belongs to the first entry only")
}

func TestTransition_Recovery(t *testing.T) {
	now := time.Now()
	since := now.Add(-time.Hour)

	res := applyTransition(gateState{state: db.StateCritical, criticalSince: &since, breachCount: 12}, db.StateNormal, now, 300, 5)
	require.Equal(t, db.StateNormal, res.state)
	require.True(t, res.resolveDue)
	require.Nil(t, res.criticalSince)
	require.Zero(t, res.breachCount)

	// Already NORMAL: nothing to resolve.
	res = applyTransition(gateState{state: db.StateNormal}, db.StateNormal, now, 0, 0)
	require.False(t, res.resolveDue)

	// Coming out of UNKNOWN still clears whatever might be open.
	res = applyTransition(gateState{state: db.StateUnknown}, db.StateNormal, now, 0, 0)
	require.True(t, res.resolveDue)
}

func TestTransition_Unknown(t *testing.T) {
	now := time.Now()
	since := now.Add(-time.Minute)

	res := applyTransition(gateState{state: db.StateCritical, criticalSince: &since, breachCount: 4}, db.StateUnknown, now, 0, 0)
	require.Equal(t, db.StateUnknown, res.state)
	require.False(t, res.openDue)
	require.False(t, res.resolveDue, "missing data must not close a live incident")
	require.Nil(t, res.criticalSince)
	require.Zero(t, res.breachCount)
}

func TestEffective(t *testing.T) {
	require.Equal(t, 120, effective(120, 300))
	require.Equal(t, 300, effective(0, 300))
	require.Equal(t, 0, effective(0, 0))
}
