package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIngest_UnprocessableBodies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(nil, nil, nil, zap.NewNop())

	router := gin.New()
	router.POST("/ingest/metrics", h.Ingest)

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{
			"missing machine",
			`{"metrics":[{"name":"cpu_usage","type":"number","value":1}]}`,
			"Hostname",
		},
		{
			"missing fingerprint",
			`{"machine":{"hostname":"web-01"},"metrics":[{"name":"cpu_usage","type":"number","value":1}]}`,
			"Fingerprint",
		},
		{
			"unknown metric type",
			`{"machine":{"hostname":"web-01","fingerprint":"fp"},"metrics":[{"name":"cpu_usage","type":"decimal","value":1}]}`,
			"Type",
		},
		{
			"value does not match type",
			`{"machine":{"hostname":"web-01","fingerprint":"fp"},"metrics":[{"name":"cpu_usage","type":"number","value":"97.5"}]}`,
			"not a number",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/ingest/metrics", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(rec, req)

			require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			require.Contains(t, rec.Body.String(), tt.wantMsg)
		})
	}
}

func TestListIncidents_RejectsUnknownStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(nil, nil, nil, zap.NewNop())

	router := gin.New()
	router.GET("/incidents", h.ListIncidents)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/incidents?status=weird", nil))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "status must be OPEN or RESOLVED")
}

func TestListMachineMetrics_RequiresMachineID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(nil, nil, nil, zap.NewNop())

	router := gin.New()
	router.GET("/machine-metrics", h.ListMachineMetrics)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/machine-metrics", nil))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "machine_id")
}
