package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stwalsh4118/atlas/fieldsync/internal/collectionsync"
	"github.com/stwalsh4118/atlas/fieldsync/internal/logger"
	"github.com/stwalsh4118/atlas/fieldsync/internal/models"
	"github.com/stwalsh4118/atlas/fieldsync/internal/remote"
	"github.com/stwalsh4118/atlas/fieldsync/internal/repository"
)

// Coordinate validation constants
const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0
)

// PremiseIDPrefix prefixes generated premise ids.
const PremiseIDPrefix = "PRM_"

// Service-level errors
var (
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrMissingParcel      = errors.New("premise has no parent parcel")
	ErrMissingWorkbase    = errors.New("premise has no workbase")
	// ErrSavedLocally wraps a failed remote write whose local effects stand.
	ErrSavedLocally = errors.New("saved locally, will sync later")
)

// Actor identifies the user making a change.
type Actor struct {
	User string `json:"user"`
	UID  string `json:"uid"`
}

// PremiseService defines the interface for premise mutations.
type PremiseService interface {
	// Save applies a create-or-update of premise optimistically: the local
	// shard, the live premise list and the parent parcel's premise ids are
	// patched before the remote write is attempted.
	// Returns ErrInvalidCoordinates, ErrMissingParcel or ErrMissingWorkbase
	// before touching anything.
	// Returns an error wrapping ErrSavedLocally when only the remote write
	// failed; the returned premise is still the saved one.
	Save(ctx context.Context, premise models.Premise, actor Actor) (models.Premise, error)
}

// premiseService is the concrete implementation of PremiseService.
type premiseService struct {
	repo     repository.PremiseRepository
	premises *collectionsync.Manager[models.Premise]
	parcels  *collectionsync.Manager[models.ParcelSummary]
	writer   remote.Writer
	log      *logger.Logger
	now      func() time.Time
}

// NewPremiseService creates a new instance of PremiseService.
func NewPremiseService(
	repo repository.PremiseRepository,
	premises *collectionsync.Manager[models.Premise],
	parcels *collectionsync.Manager[models.ParcelSummary],
	writer remote.Writer,
	log *logger.Logger,
) PremiseService {
	return &premiseService{
		repo:     repo,
		premises: premises,
		parcels:  parcels,
		writer:   writer,
		log:      log.WithComponent("premise_service"),
		now:      time.Now,
	}
}

func (s *premiseService) Save(ctx context.Context, premise models.Premise, actor Actor) (models.Premise, error) {
	premise, err := s.prepare(premise)
	if err != nil {
		s.log.Warn("Rejected premise save", map[string]interface{}{
			"premise_id": premise.ID,
			"error":      err.Error(),
		})
		return models.Premise{}, err
	}

	wb := premise.Workbase
	if premise.Metadata.Created.IsZero() {
		if prev, ok := s.existing(ctx, wb, premise.ID); ok {
			premise.Metadata.Created = prev.Metadata.Created
		}
	}
	premise = s.stamp(premise, actor)

	fields := map[string]interface{}{
		"premise_id": premise.ID,
		"erf_id":     premise.ErfID,
		"workbase":   wb,
	}

	// Disk
	if err := s.repo.Upsert(ctx, wb, premise); err != nil {
		s.log.Error("Failed to patch premise shard", err, fields)
	}

	// RAM
	if !s.premises.Patch(wb, func(c *collectionsync.CollectionSync[models.Premise]) { c.Upsert(premise) }) {
		s.log.Debug("No live premise sync to patch", fields)
	}

	// Parent parcel
	linked := false
	s.parcels.Patch(wb, func(c *collectionsync.CollectionSync[models.ParcelSummary]) {
		linked = c.Update(premise.ErfID, func(p *models.ParcelSummary) bool {
			if p.HasPremise(premise.ID) {
				return false
			}
			ids := make([]string, 0, len(p.Premises)+1)
			ids = append(ids, p.Premises...)
			p.Premises = append(ids, premise.ID)
			return true
		})
	})
	if !linked {
		s.log.Warn("Parent parcel not in memory", fields)
	}

	// Remote
	err = s.writer.Upsert(ctx, remote.CollectionPremises, premise.ID, premise.ToRawPremise(), remote.UpsertOptions{Merge: true})
	if err != nil {
		s.log.Error("Remote premise write failed", err, fields)
		return premise, fmt.Errorf("%w: %w", ErrSavedLocally, err)
	}

	// The parcel list now carries the new premise id; write it behind.
	s.parcels.Patch(wb, func(c *collectionsync.CollectionSync[models.ParcelSummary]) { c.Persist(ctx) })

	s.log.Info("Premise saved", fields)
	return premise, nil
}

// prepare validates premise and fills its id and classification defaults.
func (s *premiseService) prepare(p models.Premise) (models.Premise, error) {
	p.ID = strings.TrimSpace(p.ID)
	p.ErfID = strings.TrimSpace(p.ErfID)
	p.Workbase = strings.TrimSpace(p.Workbase)

	if p.ErfID == "" {
		return p, ErrMissingParcel
	}
	if p.Workbase == "" {
		return p, ErrMissingWorkbase
	}
	if c := p.Centroid; c != nil {
		if c.Lat < MinLatitude || c.Lat > MaxLatitude {
			return p, fmt.Errorf("%w: latitude must be between %f and %f, got %f",
				ErrInvalidCoordinates, MinLatitude, MaxLatitude, c.Lat)
		}
		if c.Lng < MinLongitude || c.Lng > MaxLongitude {
			return p, fmt.Errorf("%w: longitude must be between %f and %f, got %f",
				ErrInvalidCoordinates, MinLongitude, MaxLongitude, c.Lng)
		}
	}

	if p.ID == "" {
		p.ID = PremiseIDPrefix + uuid.NewString()
	}
	if p.PropertyType == "" {
		p.PropertyType = models.PropertyTypeUnknown
	}
	if p.Occupancy == "" {
		p.Occupancy = models.OccupancyUnknown
	}
	if p.Meters == nil {
		p.Meters = []models.MeterRef{}
	}
	return p, nil
}

// existing finds the current version of a premise, preferring the live list
// over the shard.
func (s *premiseService) existing(ctx context.Context, workbase, id string) (models.Premise, bool) {
	if c, ok := s.premises.Get(workbase); ok {
		if p, ok := c.Get(id); ok {
			return p, true
		}
	}
	local, err := s.repo.Load(ctx, workbase)
	if err != nil {
		return models.Premise{}, false
	}
	for _, p := range local {
		if p.ID == id {
			return p, true
		}
	}
	return models.Premise{}, false
}

func (s *premiseService) stamp(p models.Premise, actor Actor) models.Premise {
	stamp := models.AuditStamp{At: s.now().UTC(), ByUser: actor.User, ByUID: actor.UID}
	if p.Metadata.Created.IsZero() {
		p.Metadata.Created = stamp
	}
	p.Metadata.Updated = stamp
	return p
}
