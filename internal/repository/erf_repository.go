package repository

import (
	"context"
	"fmt"

	"github.com/stwalsh4118/atlas/fieldsync/internal/kv"
	"github.com/stwalsh4118/atlas/fieldsync/internal/logger"
	"github.com/stwalsh4118/atlas/fieldsync/internal/models"
)

// ErfRepository defines the on-disk shard operations for parcels.
// Summaries and geometry are stored under separate keys, "<workbase>" and
// "<workbase>:geometry", in the erf-shards namespace.
type ErfRepository interface {
	ShardStore[models.ParcelSummary]

	// Clear drops every parcel shard.
	Clear(ctx context.Context) error
}

// erfRepository is the concrete implementation of ErfRepository.
type erfRepository struct {
	store kv.Store
	log   *logger.Logger
}

// NewErfRepository creates a new instance of ErfRepository.
func NewErfRepository(store kv.Store, log *logger.Logger) ErfRepository {
	return &erfRepository{
		store: store,
		log:   log.WithComponent("repository.erf"),
	}
}

func (r *erfRepository) LoadShard(ctx context.Context, workbase string) ([]models.ParcelSummary, map[string]models.ParcelGeometry, error) {
	parcels := []models.ParcelSummary{}
	geometry := map[string]models.ParcelGeometry{}

	raw, err := readRecord(ctx, r.store, kv.NamespaceErfShards, workbase)
	if err != nil {
		return parcels, geometry, err
	}
	if !decodeRecord(r.log, raw, kv.NamespaceErfShards, workbase, &parcels) || parcels == nil {
		parcels = []models.ParcelSummary{}
	}

	geomKey := workbase + GeometrySuffix
	raw, err = readRecord(ctx, r.store, kv.NamespaceErfShards, geomKey)
	if err != nil {
		return parcels, geometry, err
	}
	if !decodeRecord(r.log, raw, kv.NamespaceErfShards, geomKey, &geometry) || geometry == nil {
		geometry = map[string]models.ParcelGeometry{}
	}

	return parcels, geometry, nil
}

func (r *erfRepository) SaveShard(ctx context.Context, workbase string, parcels []models.ParcelSummary, geometry map[string]models.ParcelGeometry) (bool, error) {
	if len(parcels) == 0 {
		r.log.Debug("Skipping empty parcel shard save", map[string]interface{}{"workbase": workbase})
		return false, nil
	}
	if geometry == nil {
		geometry = map[string]models.ParcelGeometry{}
	}

	summaries, err := encode(parcels)
	if err != nil {
		return false, fmt.Errorf("failed to encode parcel shard %s: %w", workbase, err)
	}
	geom, err := encode(geometry)
	if err != nil {
		return false, fmt.Errorf("failed to encode geometry shard %s: %w", workbase, err)
	}

	err = r.store.SetMulti(ctx, kv.NamespaceErfShards, map[string]string{
		workbase:                  summaries,
		workbase + GeometrySuffix: geom,
	})
	if err != nil {
		return false, fmt.Errorf("failed to save parcel shard %s: %w", workbase, err)
	}

	r.log.Debug("Saved parcel shard", map[string]interface{}{
		"workbase": workbase,
		"parcels":  len(parcels),
		"geometry": len(geometry),
	})
	return true, nil
}

func (r *erfRepository) DeleteShard(ctx context.Context, workbase string) error {
	for _, key := range []string{workbase, workbase + GeometrySuffix} {
		if err := r.store.Delete(ctx, kv.NamespaceErfShards, key); err != nil {
			return fmt.Errorf("failed to delete parcel shard %s: %w", key, err)
		}
	}
	r.log.Debug("Deleted parcel shard", map[string]interface{}{"workbase": workbase})
	return nil
}

func (r *erfRepository) Clear(ctx context.Context) error {
	if err := r.store.ClearAll(ctx, kv.NamespaceErfShards); err != nil {
		return fmt.Errorf("failed to clear parcel shards: %w", err)
	}
	return nil
}
