package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fleetwatch/fleetwatch/internal/db"
)

func testMessage() Message {
	return Message{
		Kind:     db.NotifyOpen,
		Severity: db.SeverityCritical,
		Title:    "Threshold breached: cpu_usage gt 90",
		Body:     "cpu_usage gt 90, observed 97.2 on web-01",
		Fields:   []Field{{Title: "Machine", Value: "web-01", Short: true}},
	}
}

func TestSlackSend_PostsWebhookPayload(t *testing.T) {
	var got slackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewSlackProvider(srv.URL, "#alerts", false, zap.NewNop())
	require.NoError(t, p.Send(context.Background(), testMessage()))

	require.Equal(t, "Threshold breached: cpu_usage gt 90", got.Text)
	require.Equal(t, "#alerts", got.Channel)
	require.Len(t, got.Attachments, 1)
	require.Equal(t, "#dc3545", got.Attachments[0].Color)
	require.Equal(t, "FleetWatch", got.Attachments[0].Footer)
	require.Len(t, got.Attachments[0].Fields, 1)
	require.Equal(t, "web-01", got.Attachments[0].Fields[0].Value)
}

func TestSlackSend_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"gone webhook", http.StatusNotFound, false},
		{"bad request", http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			p := NewSlackProvider(srv.URL, "", false, zap.NewNop())
			err := p.Send(context.Background(), testMessage())
			require.Error(t, err)

			var se *SendError
			require.ErrorAs(t, err, &se)
			require.Equal(t, "slack", se.Provider)
			require.Equal(t, tt.status, se.Status)
			require.Equal(t, tt.transient, se.Transient)
			require.Equal(t, !tt.transient, IsPermanent(err))
		})
	}
}

func TestSlackSend_ConnectionFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	p := NewSlackProvider(srv.URL, "", false, zap.NewNop())
	err := p.Send(context.Background(), testMessage())
	require.Error(t, err)
	require.False(t, IsPermanent(err))
}

func TestSlackSend_StubSkipsNetwork(t *testing.T) {
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}))
	defer srv.Close()

	p := NewSlackProvider(srv.URL, "#alerts", true, zap.NewNop())
	require.NoError(t, p.Send(context.Background(), testMessage()))
	require.False(t, hit)
}

func TestColorFor(t *testing.T) {
	require.Equal(t, "#36a64f", colorFor(db.NotifyResolve, db.SeverityCritical))
	require.Equal(t, "#dc3545", colorFor(db.NotifyOpen, db.SeverityCritical))
	require.Equal(t, "#dc3545", colorFor(db.NotifyReminder, db.SeverityError))
	require.Equal(t, "#ffc107", colorFor(db.NotifyOpen, db.SeverityWarning))
	require.Equal(t, "#6c757d", colorFor(db.NotifyOpen, db.SeverityInfo))
}

func TestIsPermanent(t *testing.T) {
	require.True(t, IsPermanent(&SendError{Provider: "slack", Status: 404, Transient: false}))
	require.False(t, IsPermanent(&SendError{Provider: "slack", Status: 500, Transient: true}))
	require.False(t, IsPermanent(errors.New("dial tcp: connection refused")))
}
