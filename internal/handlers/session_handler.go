package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	apierrors "github.com/stwalsh4118/atlas/fieldsync/internal/errors"
	"github.com/stwalsh4118/atlas/fieldsync/internal/middleware"
	"github.com/stwalsh4118/atlas/fieldsync/internal/session"
)

// SessionHandler relays sign-in state from the UI shell to the engine.
type SessionHandler struct {
	signal *session.Signal
}

// NewSessionHandler creates a new SessionHandler instance.
func NewSessionHandler(signal *session.Signal) *SessionHandler {
	return &SessionHandler{signal: signal}
}

// WorkbaseRequest switches the agent's workbase.
type WorkbaseRequest struct {
	Workbase string `json:"workbase" binding:"required,alphanum,max=32"`
}

// SessionResponse reports the active workbase.
type SessionResponse struct {
	Workbase string `json:"workbase"`
	Changed  bool   `json:"changed"`
}

// Get handles GET /api/v1/session.
func (h *SessionHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, SessionResponse{Workbase: h.signal.Workbase()})
}

// SetWorkbase handles POST /api/v1/session/workbase. Listeners restore the
// selection and activate the warehouse before it returns.
func (h *SessionHandler) SetWorkbase(c *gin.Context) {
	var req WorkbaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid request body", nil)
		return
	}

	changed := h.signal.SetWorkbase(req.Workbase)
	if log := middleware.GetLogger(c); log != nil {
		log.Info("Workbase set", map[string]interface{}{
			"workbase": req.Workbase,
			"changed":  changed,
		})
	}

	c.JSON(http.StatusOK, SessionResponse{Workbase: h.signal.Workbase(), Changed: changed})
}

// Logout handles POST /api/v1/session/logout.
func (h *SessionHandler) Logout(c *gin.Context) {
	h.signal.Logout()
	c.Status(http.StatusNoContent)
}
