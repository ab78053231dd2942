package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker(t *testing.T) {
	tests := []struct {
		name         string
		ready        bool
		shuttingDown bool
		handler      func(*HealthChecker) http.Handler
		wantCode     int
		wantStatus   string
	}{
		{"liveness", true, false, (*HealthChecker).LivenessHandler, http.StatusOK, healthStatusOK},
		{"liveness while shutting down", true, true, (*HealthChecker).LivenessHandler, http.StatusOK, healthStatusOK},
		{"readiness ok", true, false, (*HealthChecker).ReadinessHandler, http.StatusOK, healthStatusOK},
		{"readiness not ready", false, false, (*HealthChecker).ReadinessHandler, http.StatusServiceUnavailable, healthStatusNotReady},
		{"readiness shutting down", true, true, (*HealthChecker).ReadinessHandler, http.StatusServiceUnavailable, healthStatusNotReady},
		{"detailed ok", true, false, (*HealthChecker).DetailedHealthHandler, http.StatusOK, healthStatusOK},
		{"detailed shutting down", true, true, (*HealthChecker).DetailedHealthHandler, http.StatusServiceUnavailable, healthStatusShuttingDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker(nil)
			h.SetReady(tt.ready)
			if tt.shuttingDown {
				h.MarkShuttingDown()
			}

			rec := httptest.NewRecorder()
			tt.handler(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body["status"])
		})
	}
}

func TestReadinessChecks(t *testing.T) {
	h := NewHealthChecker(nil)
	assert.True(t, h.IsReady())
	h.MarkShuttingDown()

	rec := httptest.NewRecorder()
	h.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, healthStatusOK, resp.Checks["ready"])
	assert.Equal(t, healthStatusShuttingDown, resp.Checks["shutdown"])
}

func TestDetailedHealthReportsRun(t *testing.T) {
	active := true
	h := NewHealthChecker(func() bool { return active })

	rec := httptest.NewRecorder()
	h.DetailedHealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz/detailed", nil))

	var resp DetailedHealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.RunActive)
	assert.NotEmpty(t, resp.Uptime)
}
