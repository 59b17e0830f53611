package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetwatch/fleetwatch/internal/queue"
)

func TestNotifyBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 30 * time.Second},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 8 * time.Minute},
		{5, 8 * time.Minute},
		{20, 8 * time.Minute},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, notifyBackoff(tt.attempt), "attempt=%d", tt.attempt)
	}
}

func TestJobTimeouts(t *testing.T) {
	// Fan-out sweeps get the long budget, probes the per-target ceiling
	// plus slack, everything else the default.
	require.Equal(t, 2*time.Minute, jobTimeouts[queue.KindEvaluateSweep])
	require.Equal(t, 150*time.Second, jobTimeouts[queue.KindProbeTarget])
	require.Equal(t, 5*time.Minute, jobTimeouts[queue.KindPurgeSamples])

	_, ok := jobTimeouts[queue.KindEvaluateInstance]
	require.False(t, ok, "instance evaluations ride the default timeout")
}
