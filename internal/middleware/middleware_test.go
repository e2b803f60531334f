package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/atlas/fieldsync/internal/logger"
)

func init() {
	// Set Gin to test mode to reduce noise in tests
	gin.SetMode(gin.TestMode)
}

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRequestID(t *testing.T) {
	existing := uuid.NewString()

	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{name: "generates when absent"},
		{name: "keeps a valid upstream id", header: existing, keep: true},
		{name: "replaces a malformed id", header: "not-a-uuid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(RequestID())
			router.GET("/test", func(c *gin.Context) {
				c.String(http.StatusOK, GetRequestID(c))
			})

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set(RequestIDHeader, tt.header)
			}
			w := serve(router, req)

			id := w.Header().Get(RequestIDHeader)
			assert.Equal(t, id, w.Body.String())
			_, err := uuid.Parse(id)
			require.NoError(t, err)
			if tt.keep {
				assert.Equal(t, tt.header, id)
			} else {
				assert.NotEqual(t, tt.header, id)
			}
		})
	}

	t.Run("GetRequestID returns empty string if not set", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		assert.Empty(t, GetRequestID(c))
	})
}

func TestIdentity(t *testing.T) {
	router := gin.New()
	router.Use(Identity())
	var got Actor
	router.GET("/test", func(c *gin.Context) {
		got = GetActor(c)
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(ActorUserHeader, " agent@example.com ")
	req.Header.Set(ActorUIDHeader, "u-17")
	serve(router, req)

	assert.Equal(t, Actor{User: "agent@example.com", UID: "u-17"}, got)
	assert.False(t, got.IsZero())

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.True(t, GetActor(c).IsZero())
}

func TestCORS(t *testing.T) {
	allowedOrigins := []string{"http://localhost:5173", "http://localhost:3000"}

	tests := []struct {
		name        string
		origins     []string
		method      string
		origin      string
		wantCode    int
		wantAllow   string
		credentials string
	}{
		{
			name:        "allowed origin",
			origins:     allowedOrigins,
			method:      http.MethodGet,
			origin:      "http://localhost:5173",
			wantCode:    http.StatusOK,
			wantAllow:   "http://localhost:5173",
			credentials: "true",
		},
		{
			name:     "disallowed origin",
			origins:  allowedOrigins,
			method:   http.MethodGet,
			origin:   "http://evil.com",
			wantCode: http.StatusForbidden,
		},
		{
			name:      "preflight for allowed origin",
			origins:   allowedOrigins,
			method:    http.MethodOptions,
			origin:    "http://localhost:3000",
			wantCode:  http.StatusNoContent,
			wantAllow: "http://localhost:3000",
		},
		{
			name:      "wildcard",
			origins:   []string{"*"},
			method:    http.MethodGet,
			origin:    "http://anything.local",
			wantCode:  http.StatusOK,
			wantAllow: "*",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(CORS(tt.origins))
			router.Handle(tt.method, "/test", func(c *gin.Context) {
				c.String(http.StatusOK, "OK")
			})

			req := httptest.NewRequest(tt.method, "/test", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.method == http.MethodOptions {
				req.Header.Set("Access-Control-Request-Method", http.MethodPut)
			}
			w := serve(router, req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantAllow, w.Header().Get("Access-Control-Allow-Origin"))
			if tt.credentials != "" {
				assert.Equal(t, tt.credentials, w.Header().Get("Access-Control-Allow-Credentials"))
			}
		})
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWriter(&buf)

	router := gin.New()
	router.Use(RequestID(), Identity(), Logger(log))
	router.GET("/parcels/:id", func(c *gin.Context) {
		require.NotNil(t, GetLogger(c))
		c.String(http.StatusOK, "OK")
	})
	router.GET("/missing", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/parcels/E1?full=1", nil)
	req.Header.Set(ActorUserHeader, "agent")
	w := serve(router, req)
	require.Equal(t, http.StatusOK, w.Code)

	out := buf.String()
	assert.Contains(t, out, "Request completed")
	assert.Contains(t, out, "/parcels/:id")
	assert.Contains(t, out, "full=1")
	assert.Contains(t, out, "agent")
	assert.Contains(t, out, w.Header().Get(RequestIDHeader))

	buf.Reset()
	serve(router, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Contains(t, buf.String(), "client error")
}

func TestRecovery(t *testing.T) {
	log := logger.Nop()

	t.Run("recovers from panic", func(t *testing.T) {
		router := gin.New()
		router.Use(RequestID(), Recovery(log))
		router.GET("/panic", func(c *gin.Context) {
			panic("boom")
		})

		w := serve(router, httptest.NewRequest(http.MethodGet, "/panic", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "INTERNAL_SERVER_ERROR")
		assert.Contains(t, w.Body.String(), w.Header().Get(RequestIDHeader))
	})

	t.Run("passes through normal requests", func(t *testing.T) {
		router := gin.New()
		router.Use(Recovery(log))
		router.GET("/normal", func(c *gin.Context) {
			c.String(http.StatusOK, "OK")
		})

		w := serve(router, httptest.NewRequest(http.MethodGet, "/normal", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "OK", w.Body.String())
	})
}
