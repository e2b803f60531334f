package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apierrors "github.com/stwalsh4118/atlas/fieldsync/internal/errors"
	"github.com/stwalsh4118/atlas/fieldsync/internal/models"
	"github.com/stwalsh4118/atlas/fieldsync/internal/warehouse"
)

const (
	// EventKeepAlive is the interval between keep-alive events on a stream.
	EventKeepAlive = 15 * time.Second
	// eventBuffer bounds the summaries queued for a slow stream reader.
	eventBuffer = 16
)

// Warehouse is the read side consumed by WarehouseHandler.
type Warehouse interface {
	Summary(ctx context.Context) (warehouse.Summary, error)
	Parcels() ([]models.ParcelSummary, error)
	Geometry(parcelID string) (models.ParcelGeometry, bool, error)
	Premises(ctx context.Context) ([]models.Premise, error)
	Subscribe(fn func(warehouse.Summary)) (cancel func())
}

// WarehouseHandler serves the filtered collections of the active workbase.
type WarehouseHandler struct {
	view      Warehouse
	keepAlive time.Duration
}

// NewWarehouseHandler creates a new WarehouseHandler instance.
func NewWarehouseHandler(view Warehouse) *WarehouseHandler {
	return &WarehouseHandler{view: view, keepAlive: EventKeepAlive}
}

// ParcelsResponse lists parcels.
type ParcelsResponse struct {
	Parcels []models.ParcelSummary `json:"parcels"`
	Count   int                    `json:"count"`
}

// PremisesResponse lists premises.
type PremisesResponse struct {
	Premises []models.Premise `json:"premises"`
	Count    int              `json:"count"`
}

// readFailed maps a read error to a response and reports whether there was one.
func readFailed(c *gin.Context, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, warehouse.ErrNoActiveWorkbase):
		apierrors.Conflict(c, "No active workbase")
	default:
		apierrors.InternalServerError(c, "Failed to read warehouse", err)
	}
	return true
}

// Summary handles GET /api/v1/warehouse.
func (h *WarehouseHandler) Summary(c *gin.Context) {
	sum, err := h.view.Summary(c.Request.Context())
	if readFailed(c, err) {
		return
	}
	c.JSON(http.StatusOK, sum)
}

// Parcels handles GET /api/v1/warehouse/parcels.
func (h *WarehouseHandler) Parcels(c *gin.Context) {
	parcels, err := h.view.Parcels()
	if readFailed(c, err) {
		return
	}
	c.JSON(http.StatusOK, ParcelsResponse{Parcels: parcels, Count: len(parcels)})
}

// Geometry handles GET /api/v1/warehouse/parcels/:id/geometry.
func (h *WarehouseHandler) Geometry(c *gin.Context) {
	g, ok, err := h.view.Geometry(c.Param("id"))
	if readFailed(c, err) {
		return
	}
	if !ok {
		apierrors.NotFound(c, "No geometry for this parcel")
		return
	}
	c.JSON(http.StatusOK, g)
}

// Premises handles GET /api/v1/warehouse/premises.
func (h *WarehouseHandler) Premises(c *gin.Context) {
	premises, err := h.view.Premises(c.Request.Context())
	if readFailed(c, err) {
		return
	}
	c.JSON(http.StatusOK, PremisesResponse{Premises: premises, Count: len(premises)})
}

// Events handles GET /api/v1/warehouse/events, a server-sent event stream
// that opens with the current summary and emits one "summary" event per view
// change. Changes are dropped, not queued, while the reader lags.
func (h *WarehouseHandler) Events(c *gin.Context) {
	ctx := c.Request.Context()
	sum, err := h.view.Summary(ctx)
	if readFailed(c, err) {
		return
	}

	events := make(chan warehouse.Summary, eventBuffer)
	cancel := h.view.Subscribe(func(s warehouse.Summary) {
		select {
		case events <- s:
		default:
		}
	})
	defer cancel()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("summary", sum)

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case s := <-events:
			c.SSEvent("summary", s)
			return true
		case <-ticker.C:
			c.SSEvent("keepalive", gin.H{"at": time.Now().UTC()})
			return true
		}
	})
}
