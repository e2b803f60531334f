// Package repository persists per-workbase shards of parcels and premises
// into the on-device key-value store.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/stwalsh4118/atlas/fieldsync/internal/kv"
	"github.com/stwalsh4118/atlas/fieldsync/internal/logger"
	"github.com/stwalsh4118/atlas/fieldsync/internal/models"
)

// GeometrySuffix is appended to a workbase to form its geometry key.
const GeometrySuffix = ":geometry"

// ShardStore is the generic persistence surface of one entity type. Entity
// types without geometry ignore the geometry map.
type ShardStore[T any] interface {
	// LoadShard returns what is on disk for workbase. A missing or corrupt
	// record loads as empty without error.
	LoadShard(ctx context.Context, workbase string) ([]T, map[string]models.ParcelGeometry, error)

	// SaveShard writes items and geometry in one all-or-nothing batch. An
	// empty items slice is not written and reports false.
	SaveShard(ctx context.Context, workbase string, items []T, geometry map[string]models.ParcelGeometry) (bool, error)

	// DeleteShard removes the shard for workbase. A missing shard is not an
	// error.
	DeleteShard(ctx context.Context, workbase string) error
}

// decodeRecord unmarshals a stored record. Corrupt records are logged and
// reported as absent.
func decodeRecord(log *logger.Logger, raw, namespace, key string, v any) bool {
	if raw == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		log.Warn("Discarding corrupt shard record", map[string]interface{}{
			"namespace": namespace,
			"key":       key,
			"error":     err.Error(),
		})
		return false
	}
	return true
}

// readRecord fetches key, mapping a miss to "".
func readRecord(ctx context.Context, store kv.Store, namespace, key string) (string, error) {
	raw, err := store.Get(ctx, namespace, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read shard %s/%s: %w", namespace, key, err)
	}
	return raw, nil
}

func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
