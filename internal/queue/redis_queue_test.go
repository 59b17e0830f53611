package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJobCodec_RoundTrip(t *testing.T) {
	sent := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	job := &Job{
		ID:       "job-1",
		Kind:     KindProbeOutcome,
		ClientID: "client-1",
		Probe: &ProbeOutcome{
			ClientID:     "client-1",
			HTTPTargetID: "target-1",
			OK:           false,
			Status:       503,
			LatencyMs:    120,
			TS:           sent,
		},
		Attempt:    2,
		NotBefore:  sent.Add(30 * time.Second),
		EnqueuedAt: sent,
	}

	data, err := json.Marshal(job)
	require.NoError(t, err)

	var got Job
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, job.ID, got.ID)
	require.Equal(t, job.Kind, got.Kind)
	require.Equal(t, 2, got.Attempt)
	require.True(t, job.NotBefore.Equal(got.NotBefore))
	require.NotNil(t, got.Probe)
	require.Equal(t, 503, got.Probe.Status)
	require.False(t, got.Probe.OK)
}

func TestJobCodec_MinimalJobStaysSmall(t *testing.T) {
	job := &Job{ID: "job-2", Kind: KindEvaluateSweep, EnqueuedAt: time.Now()}

	data, err := json.Marshal(job)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Contains(t, raw, "id")
	require.Contains(t, raw, "kind")
	require.NotContains(t, raw, "machine_id")
	require.NotContains(t, raw, "probe")
	require.NotContains(t, raw, "incident_ids")
	require.NotContains(t, raw, "attempt")
}

func TestSet_CoversEveryQueue(t *testing.T) {
	s := NewSet(nil)
	all := s.All()
	require.Len(t, all, 6)

	names := make(map[string]bool, len(all))
	for _, q := range all {
		names[q.Name()] = true
	}
	for _, want := range []string{QueueIngest, QueueEvaluate, QueueHTTP, QueueNotify, QueueHeartbeat, QueueOutbox} {
		require.True(t, names[want], "missing queue %s", want)
	}
}
