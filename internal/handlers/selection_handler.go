package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	apierrors "github.com/stwalsh4118/atlas/fieldsync/internal/errors"
	"github.com/stwalsh4118/atlas/fieldsync/internal/models"
	"github.com/stwalsh4118/atlas/fieldsync/internal/selection"
)

// SelectionHandler exposes the drill-down selection.
type SelectionHandler struct {
	selection selection.GeoSelection
}

// NewSelectionHandler creates a new SelectionHandler instance.
func NewSelectionHandler(sel selection.GeoSelection) *SelectionHandler {
	return &SelectionHandler{selection: sel}
}

// RefBody is one selected level in a request.
type RefBody struct {
	ID   string `json:"id" binding:"required,max=128"`
	Name string `json:"name" binding:"max=256"`
}

func (r *RefBody) toRef() *models.Ref {
	if r == nil {
		return nil
	}
	return &models.Ref{ID: r.ID, Name: r.Name}
}

// SelectionRequest sets one or more levels. Levels below the highest one
// sent are cleared.
type SelectionRequest struct {
	Municipality *RefBody `json:"municipality"`
	Ward         *RefBody `json:"ward"`
	Parcel       *RefBody `json:"parcel"`
	Premise      *RefBody `json:"premise"`
	Meter        *RefBody `json:"meter"`
}

func (r SelectionRequest) empty() bool {
	return r.Municipality == nil && r.Ward == nil && r.Parcel == nil && r.Premise == nil && r.Meter == nil
}

// Get handles GET /api/v1/selection.
func (h *SelectionHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, h.selection.State())
}

// Update handles PATCH /api/v1/selection.
func (h *SelectionHandler) Update(c *gin.Context) {
	var req SelectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid request body", nil)
		return
	}
	if req.empty() {
		apierrors.BadRequest(c, "At least one level must be set", nil)
		return
	}

	state := h.selection.Update(c.Request.Context(), selection.Partial{
		Municipality: req.Municipality.toRef(),
		Ward:         req.Ward.toRef(),
		Parcel:       req.Parcel.toRef(),
		Premise:      req.Premise.toRef(),
		Meter:        req.Meter.toRef(),
	})
	c.JSON(http.StatusOK, state)
}
