package repository

import (
	"context"
	"fmt"

	"github.com/stwalsh4118/atlas/fieldsync/internal/kv"
	"github.com/stwalsh4118/atlas/fieldsync/internal/logger"
	"github.com/stwalsh4118/atlas/fieldsync/internal/models"
)

// PremiseRepository defines the on-disk shard operations for premises. The
// shard for a workbase holds every premise known locally, whether it came
// from the cloud or was authored on the device.
type PremiseRepository interface {
	ShardStore[models.Premise]

	// Load returns the premise shard for workbase, empty when absent or corrupt.
	Load(ctx context.Context, workbase string) ([]models.Premise, error)

	// Save replaces the shard. An empty list is not written.
	Save(ctx context.Context, workbase string, premises []models.Premise) (bool, error)

	// Upsert replaces the premise with the same id in place, or appends it.
	Upsert(ctx context.Context, workbase string, premise models.Premise) error

	// Clear drops every premise shard.
	Clear(ctx context.Context) error
}

// premiseRepository is the concrete implementation of PremiseRepository.
type premiseRepository struct {
	store kv.Store
	log   *logger.Logger
}

// NewPremiseRepository creates a new instance of PremiseRepository.
func NewPremiseRepository(store kv.Store, log *logger.Logger) PremiseRepository {
	return &premiseRepository{
		store: store,
		log:   log.WithComponent("repository.premise"),
	}
}

func (r *premiseRepository) Load(ctx context.Context, workbase string) ([]models.Premise, error) {
	premises := []models.Premise{}

	raw, err := readRecord(ctx, r.store, kv.NamespacePremiseShards, workbase)
	if err != nil {
		return premises, err
	}
	if !decodeRecord(r.log, raw, kv.NamespacePremiseShards, workbase, &premises) || premises == nil {
		premises = []models.Premise{}
	}
	return premises, nil
}

func (r *premiseRepository) Save(ctx context.Context, workbase string, premises []models.Premise) (bool, error) {
	if len(premises) == 0 {
		r.log.Debug("Skipping empty premise shard save", map[string]interface{}{"workbase": workbase})
		return false, nil
	}

	data, err := encode(premises)
	if err != nil {
		return false, fmt.Errorf("failed to encode premise shard %s: %w", workbase, err)
	}
	if err := r.store.Set(ctx, kv.NamespacePremiseShards, workbase, data); err != nil {
		return false, fmt.Errorf("failed to save premise shard %s: %w", workbase, err)
	}

	r.log.Debug("Saved premise shard", map[string]interface{}{
		"workbase": workbase,
		"premises": len(premises),
	})
	return true, nil
}

func (r *premiseRepository) Upsert(ctx context.Context, workbase string, premise models.Premise) error {
	premises, err := r.Load(ctx, workbase)
	if err != nil {
		return err
	}

	replaced := false
	for i := range premises {
		if premises[i].ID == premise.ID {
			premises[i] = premise
			replaced = true
			break
		}
	}
	if !replaced {
		premises = append(premises, premise)
	}

	_, err = r.Save(ctx, workbase, premises)
	return err
}

func (r *premiseRepository) DeleteShard(ctx context.Context, workbase string) error {
	if err := r.store.Delete(ctx, kv.NamespacePremiseShards, workbase); err != nil {
		return fmt.Errorf("failed to delete premise shard %s: %w", workbase, err)
	}
	return nil
}

func (r *premiseRepository) Clear(ctx context.Context) error {
	if err := r.store.ClearAll(ctx, kv.NamespacePremiseShards); err != nil {
		return fmt.Errorf("failed to clear premise shards: %w", err)
	}
	return nil
}

func (r *premiseRepository) LoadShard(ctx context.Context, workbase string) ([]models.Premise, map[string]models.ParcelGeometry, error) {
	premises, err := r.Load(ctx, workbase)
	return premises, map[string]models.ParcelGeometry{}, err
}

func (r *premiseRepository) SaveShard(ctx context.Context, workbase string, premises []models.Premise, _ map[string]models.ParcelGeometry) (bool, error) {
	return r.Save(ctx, workbase, premises)
}
