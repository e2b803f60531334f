package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubPinger answers pings with a fixed error.
type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthHandler_Health(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewHealthHandler(nil, "test")
	router.GET("/health", handler.Health)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestHealthHandler_Ready(t *testing.T) {
	tests := []struct {
		name           string
		checks         map[string]Pinger
		expectedStatus int
		expected       string
	}{
		{
			name:           "all dependencies connected",
			checks:         map[string]Pinger{"kv": stubPinger{}, "remote": stubPinger{}},
			expectedStatus: http.StatusOK,
			expected:       `{"status":"ready","checks":{"kv":"connected","remote":"connected"}}`,
		},
		{
			name:           "remote unreachable",
			checks:         map[string]Pinger{"kv": stubPinger{}, "remote": stubPinger{err: errors.New("connection refused")}},
			expectedStatus: http.StatusServiceUnavailable,
			expected:       `{"status":"not_ready","checks":{"kv":"connected","remote":"disconnected"}}`,
		},
		{
			name:           "local store unreachable",
			checks:         map[string]Pinger{"kv": stubPinger{err: errors.New("database is locked")}},
			expectedStatus: http.StatusServiceUnavailable,
			expected:       `{"status":"not_ready","checks":{"kv":"disconnected"}}`,
		},
		{
			name:           "no dependencies",
			checks:         map[string]Pinger{},
			expectedStatus: http.StatusOK,
			expected:       `{"status":"ready","checks":{}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			router := gin.New()
			handler := NewHealthHandler(tt.checks, "test")
			router.GET("/health/ready", handler.Ready)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.JSONEq(t, tt.expected, w.Body.String())
		})
	}
}

func TestHealthHandler_Info(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewHealthHandler(nil, "production")
	handler.startTime = time.Now().Add(-1 * time.Hour)
	router.GET("/api/v1/info", handler.Info)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/info", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp InfoResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, APIVersion, resp.Version)
	assert.Equal(t, "production", resp.Environment)
	assert.Equal(t, "1h 0m 0s", resp.Uptime)
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{name: "seconds only", duration: 45 * time.Second, expected: "0h 0m 45s"},
		{name: "minutes and seconds", duration: 5*time.Minute + 30*time.Second, expected: "0h 5m 30s"},
		{name: "hours minutes seconds", duration: 2*time.Hour + 15*time.Minute + 45*time.Second, expected: "2h 15m 45s"},
		{name: "days", duration: 3*24*time.Hour + 5*time.Hour + 30*time.Minute + 15*time.Second, expected: "3d 5h 30m 15s"},
		{name: "exactly one day", duration: 24 * time.Hour, expected: "1d 0h 0m 0s"},
		{name: "zero", duration: 0, expected: "0h 0m 0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatUptime(tt.duration))
		})
	}
}
