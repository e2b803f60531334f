package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	apierrors "github.com/stwalsh4118/atlas/fieldsync/internal/errors"
	"github.com/stwalsh4118/atlas/fieldsync/internal/middleware"
	"github.com/stwalsh4118/atlas/fieldsync/internal/models"
	"github.com/stwalsh4118/atlas/fieldsync/internal/services"
)

// SavedLocallyNotice is returned when a save could not reach the remote store.
const SavedLocallyNotice = "saved locally, will sync later"

// WorkbaseSource reports the active workbase.
type WorkbaseSource interface {
	Workbase() string
}

// PremiseHandler handles premise edits from the field UI.
type PremiseHandler struct {
	service   services.PremiseService
	workbases WorkbaseSource
}

// NewPremiseHandler creates a new PremiseHandler instance.
func NewPremiseHandler(service services.PremiseService, workbases WorkbaseSource) *PremiseHandler {
	return &PremiseHandler{
		service:   service,
		workbases: workbases,
	}
}

// MeterBody is one meter on a premise.
type MeterBody struct {
	ID   string `json:"id" binding:"required,max=64"`
	Kind string `json:"kind" binding:"required,oneof=electricity water"`
}

// PremiseRequest is the editable shape of a premise.
type PremiseRequest struct {
	ErfID        string         `json:"erfId" binding:"required,max=64"`
	ErfNo        string         `json:"erfNo" binding:"max=32"`
	WardCode     string         `json:"wardCode" binding:"max=64"`
	Address      models.Address `json:"address"`
	PropertyType string         `json:"propertyType" binding:"max=64"`
	Occupancy    string         `json:"occupancy" binding:"omitempty,oneof=OCCUPIED VACANT UNKNOWN"`
	Lat          *float64       `json:"lat" binding:"omitempty,latitude"`
	Lng          *float64       `json:"lng" binding:"omitempty,longitude"`
	Meters       []MeterBody    `json:"meters" binding:"omitempty,max=32,dive"`
}

func (r PremiseRequest) toPremise(id, workbase string) models.Premise {
	p := models.Premise{
		ID:           id,
		ErfID:        r.ErfID,
		ErfNo:        r.ErfNo,
		Workbase:     workbase,
		WardCode:     r.WardCode,
		Address:      r.Address,
		PropertyType: r.PropertyType,
		Occupancy:    r.Occupancy,
		Meters:       make([]models.MeterRef, 0, len(r.Meters)),
	}
	if r.Lat != nil && r.Lng != nil {
		p.Centroid = &models.Point{Lat: *r.Lat, Lng: *r.Lng}
	}
	for _, m := range r.Meters {
		p.Meters = append(p.Meters, models.MeterRef{ID: m.ID, Kind: m.Kind})
	}
	return p
}

// PremiseResponse is the saved premise. Notice is set when the remote write
// is still outstanding.
type PremiseResponse struct {
	Premise models.Premise `json:"premise"`
	Synced  bool           `json:"synced"`
	Notice  string         `json:"notice,omitempty"`
}

// Create handles POST /api/v1/premises; the id is generated.
func (h *PremiseHandler) Create(c *gin.Context) {
	h.save(c, "", http.StatusCreated)
}

// Update handles PUT /api/v1/premises/:id.
func (h *PremiseHandler) Update(c *gin.Context) {
	h.save(c, c.Param("id"), http.StatusOK)
}

func (h *PremiseHandler) save(c *gin.Context, id string, okStatus int) {
	var req PremiseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid request body", nil)
		return
	}
	if (req.Lat == nil) != (req.Lng == nil) {
		apierrors.BadRequest(c, "lat and lng must be sent together", nil)
		return
	}

	workbase := h.workbases.Workbase()
	if workbase == "" {
		apierrors.Conflict(c, "No active workbase")
		return
	}

	actor := middleware.GetActor(c)
	saved, err := h.service.Save(c.Request.Context(), req.toPremise(id, workbase), services.Actor{
		User: actor.User,
		UID:  actor.UID,
	})
	switch {
	case err == nil:
		c.JSON(okStatus, PremiseResponse{Premise: saved, Synced: true})
	case errors.Is(err, services.ErrSavedLocally):
		c.JSON(http.StatusAccepted, PremiseResponse{Premise: saved, Notice: SavedLocallyNotice})
	case errors.Is(err, services.ErrInvalidCoordinates),
		errors.Is(err, services.ErrMissingParcel),
		errors.Is(err, services.ErrMissingWorkbase):
		apierrors.BadRequest(c, err.Error(), nil)
	default:
		apierrors.InternalServerError(c, "Failed to save premise", err)
	}
}
