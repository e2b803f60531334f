package errors

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/gin-gonic/gin"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/atlas/fieldsync/internal/logger"
	"github.com/stwalsh4118/atlas/fieldsync/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// setupTestContext creates a test Gin context with logger and request ID in context.
func setupTestContext() (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/warehouse", nil)
	c.Set(middleware.LoggerKey, logger.Nop())
	c.Set(middleware.RequestIDKey, "test-request-id")
	return c, w
}

func parseErrorResponse(t *testing.T, body *bytes.Buffer) ErrorResponse {
	t.Helper()
	var response ErrorResponse
	require.NoError(t, json.Unmarshal(body.Bytes(), &response), "Failed to parse error response JSON")
	return response
}

func TestResponders(t *testing.T) {
	tests := []struct {
		name     string
		call     func(c *gin.Context)
		wantCode int
		wantErr  string
		wantMsg  string
	}{
		{
			name:     "not found",
			call:     func(c *gin.Context) { NotFound(c, "Parcel not found") },
			wantCode: http.StatusNotFound,
			wantErr:  ErrNotFound,
			wantMsg:  "Parcel not found",
		},
		{
			name:     "bad request",
			call:     func(c *gin.Context) { BadRequest(c, "Invalid body", nil) },
			wantCode: http.StatusBadRequest,
			wantErr:  ErrBadRequest,
			wantMsg:  "Invalid body",
		},
		{
			name:     "conflict",
			call:     func(c *gin.Context) { Conflict(c, "No active workbase") },
			wantCode: http.StatusConflict,
			wantErr:  ErrConflict,
			wantMsg:  "No active workbase",
		},
		{
			name:     "service unavailable",
			call:     func(c *gin.Context) { ServiceUnavailable(c, "Store unreachable", errors.New("dial tcp")) },
			wantCode: http.StatusServiceUnavailable,
			wantErr:  ErrUnavailable,
			wantMsg:  "Store unreachable",
		},
		{
			name:     "internal server error hides the cause",
			call:     func(c *gin.Context) { InternalServerError(c, "Failed to save", errors.New("disk full")) },
			wantCode: http.StatusInternalServerError,
			wantErr:  ErrInternalServer,
			wantMsg:  "Failed to save",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := setupTestContext()

			tt.call(c)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.True(t, c.IsAborted())
			response := parseErrorResponse(t, w.Body)
			assert.Equal(t, tt.wantErr, response.Error.Code)
			assert.Equal(t, tt.wantMsg, response.Error.Message)
			assert.Equal(t, "test-request-id", response.Error.RequestID)
			assert.Nil(t, response.Error.Details)
			assert.NotContains(t, w.Body.String(), "disk full")
		})
	}
}

func TestBadRequestWithDetails(t *testing.T) {
	c, w := setupTestContext()

	BadRequest(c, "Invalid selection", map[string]interface{}{"level": "ward"})

	response := parseErrorResponse(t, w.Body)
	assert.Equal(t, "ward", response.Error.Details["level"])
}

func TestValidationError(t *testing.T) {
	c, w := setupTestContext()

	type premiseBody struct {
		ErfID string  `validate:"required"`
		Lat   float64 `validate:"latitude"`
	}
	err := validator.New().Struct(premiseBody{Lat: 95})
	var validationErrors validator.ValidationErrors
	require.True(t, errors.As(err, &validationErrors))

	ValidationError(c, validationErrors)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	response := parseErrorResponse(t, w.Body)
	assert.Equal(t, ErrValidation, response.Error.Code)
	assert.Equal(t, "This field is required", response.Error.Details["ErfID"])
	assert.Equal(t, "Must be a latitude between -90 and 90", response.Error.Details["Lat"])
}

func TestFormatValidationError(t *testing.T) {
	tests := []struct {
		tag      string
		param    string
		expected string
	}{
		{tag: "required", expected: "This field is required"},
		{tag: "min", param: "1", expected: "Value is too short or small (minimum: 1)"},
		{tag: "max", param: "64", expected: "Value is too long or large (maximum: 64)"},
		{tag: "gte", param: "0", expected: "Must be greater than or equal to 0"},
		{tag: "lte", param: "5", expected: "Must be less than or equal to 5"},
		{tag: "oneof", param: "OCCUPIED VACANT", expected: "Must be one of: OCCUPIED VACANT"},
		{tag: "uuid", expected: "Must be a valid UUID"},
		{tag: "required_with", param: "Lng", expected: "Required when Lng is set"},
		{tag: "longitude", expected: "Must be a longitude between -180 and 180"},
		{tag: "alphanum", expected: "Must contain only letters and digits"},
		{tag: "unknown_tag", expected: "Validation failed for tag: unknown_tag"},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatValidationError(&mockFieldError{tag: tt.tag, param: tt.param}))
		})
	}
}

func TestErrorResponseWithoutContext(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/test", nil)

	NotFound(c, "Resource not found")

	assert.Equal(t, http.StatusNotFound, w.Code)
	response := parseErrorResponse(t, w.Body)
	assert.Equal(t, ErrNotFound, response.Error.Code)
	assert.Empty(t, response.Error.RequestID)
}

// mockFieldError is a mock implementation of validator.FieldError for testing.
type mockFieldError struct {
	tag   string
	param string
}

func (m *mockFieldError) Tag() string                    { return m.tag }
func (m *mockFieldError) ActualTag() string              { return m.tag }
func (m *mockFieldError) Namespace() string              { return "" }
func (m *mockFieldError) StructNamespace() string        { return "" }
func (m *mockFieldError) Field() string                  { return "TestField" }
func (m *mockFieldError) StructField() string            { return "TestField" }
func (m *mockFieldError) Value() interface{}             { return nil }
func (m *mockFieldError) Param() string                  { return m.param }
func (m *mockFieldError) Kind() reflect.Kind             { return reflect.String }
func (m *mockFieldError) Type() reflect.Type             { return nil }
func (m *mockFieldError) Translate(ut.Translator) string { return "" }
func (m *mockFieldError) Error() string                  { return "" }
