package outbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoff_Schedule(t *testing.T) {
	tests := []struct {
		attempts int
		base     time.Duration
	}{
		{1, 30 * time.Second},
		{2, 2 * time.Minute},
		{3, 10 * time.Minute},
		{0, 30 * time.Second},
		{99, 10 * time.Minute},
	}

	for _, tt := range tests {
		lo := time.Duration(float64(tt.base) * 0.8)
		hi := time.Duration(float64(tt.base) * 1.2)
		for i := 0; i < 50; i++ {
			d := Backoff(tt.attempts)
			require.GreaterOrEqual(t, d, lo, "attempts=%d", tt.attempts)
			require.LessOrEqual(t, d, hi, "attempts=%d", tt.attempts)
		}
	}
}

func TestBackoff_Jitters(t *testing.T) {
	seen := map[time.Duration]bool{}
	for i := 0; i < 20; i++ {
		seen[Backoff(1)] = true
	}
	require.Greater(t, len(seen), 1, "jitter should spread the delays")
}
