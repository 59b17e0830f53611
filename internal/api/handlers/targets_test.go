package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fleetwatch/fleetwatch/internal/db"
)

func TestTargetRequestNormalize_Defaults(t *testing.T) {
	req := targetRequest{Name: "homepage", URL: "https://example.com/health"}
	require.NoError(t, req.normalize())

	require.Equal(t, http.MethodGet, req.Method)
	require.Equal(t, 30, req.TimeoutSeconds)
	require.Equal(t, 300, req.CheckIntervalSeconds)
	require.Equal(t, []int{200}, req.AcceptedStatusCodes)
}

func TestTargetRequestNormalize_UppercasesMethod(t *testing.T) {
	req := targetRequest{Name: "t", URL: "http://example.com", Method: "post"}
	require.NoError(t, req.normalize())
	require.Equal(t, http.MethodPost, req.Method)
}

func TestTargetRequestNormalize_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*targetRequest)
		wantMsg string
	}{
		{"unparsable url", func(r *targetRequest) { r.URL = "://nope" }, "url is not valid"},
		{"no host", func(r *targetRequest) { r.URL = "http://" }, "url is not valid"},
		{"ftp scheme", func(r *targetRequest) { r.URL = "ftp://example.com" }, "URL scheme should be 'http' or 'https'"},
		{"trace method", func(r *targetRequest) { r.Method = "TRACE" }, "not allowed"},
		{"timeout too low", func(r *targetRequest) { r.TimeoutSeconds = -1 }, "timeout_seconds must be between 1 and 120"},
		{"timeout too high", func(r *targetRequest) { r.TimeoutSeconds = 121 }, "timeout_seconds must be between 1 and 120"},
		{"interval too low", func(r *targetRequest) { r.CheckIntervalSeconds = 5 }, "check_interval_seconds must be between 10 and 86400"},
		{"interval too high", func(r *targetRequest) { r.CheckIntervalSeconds = 90000 }, "check_interval_seconds must be between 10 and 86400"},
		{"status code too low", func(r *targetRequest) { r.AcceptedStatusCodes = []int{99} }, "not a valid HTTP status"},
		{"status code too high", func(r *targetRequest) { r.AcceptedStatusCodes = []int{600} }, "not a valid HTTP status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := targetRequest{Name: "t", URL: "http://example.com"}
			tt.mutate(&req)
			err := req.normalize()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestTargetRequestApply(t *testing.T) {
	req := targetRequest{
		Name:                "homepage",
		URL:                 "https://example.com",
		AcceptedStatusCodes: []int{200, 204},
	}
	require.NoError(t, req.normalize())

	var target db.HTTPTarget
	req.apply(&target)
	require.True(t, target.IsActive, "targets default to active")

	inactive := false
	req.IsActive = &inactive
	req.apply(&target)
	require.False(t, target.IsActive)
	require.Equal(t, []int{200, 204}, []int(target.AcceptedStatusCodes))
}

func TestCreateTarget_UnprocessableBodies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(nil, nil, nil, zap.NewNop())

	router := gin.New()
	router.POST("/http-targets", h.CreateTarget)

	tests := []struct {
		name string
		body string
	}{
		{"missing name", `{"url":"http://example.com"}`},
		{"missing url", `{"name":"homepage"}`},
		{"bad scheme", `{"name":"homepage","url":"ftp://example.com"}`},
		{"bad method", `{"name":"homepage","url":"http://example.com","method":"TRACE"}`},
		{"not json", `name=homepage`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/http-targets", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(rec, req)

			require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			require.Contains(t, rec.Body.String(), "error")
		})
	}
}

func TestPagination(t *testing.T) {
	gin.SetMode(gin.TestMode)

	get := func(query string) (int, int) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/x"+query, nil)
		return pagination(c, 20, 100)
	}

	page, limit := get("")
	require.Equal(t, 1, page)
	require.Equal(t, 20, limit)

	page, limit = get("?page=3&limit=50")
	require.Equal(t, 3, page)
	require.Equal(t, 50, limit)

	page, limit = get("?page=-1&limit=1000")
	require.Equal(t, 1, page)
	require.Equal(t, 20, limit, "limit over the cap falls back to the default")
}
