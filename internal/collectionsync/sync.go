// Package collectionsync mirrors a filtered remote change feed into an
// in-memory list plus geometry side map, and writes it behind to the
// matching on-disk shard.
package collectionsync

import (
	"context"
	"sort"
	"sync"

	"github.com/stwalsh4118/atlas/fieldsync/internal/logger"
	"github.com/stwalsh4118/atlas/fieldsync/internal/models"
	"github.com/stwalsh4118/atlas/fieldsync/internal/observe"
	"github.com/stwalsh4118/atlas/fieldsync/internal/remote"
	"github.com/stwalsh4118/atlas/fieldsync/internal/repository"
)

// AllWards is the sentinel that heads every ward vocabulary.
const AllWards = "ALL"

// Snapshot is a point-in-time copy of a sync's output.
type Snapshot[T any] struct {
	Workbase string
	Items    []T
	Geometry map[string]models.ParcelGeometry
	Wards    []string
	Loading  bool
}

// CollectionSync is the live collection of one entity type for one
// workbase. Its mutex only guards memory; it does not serialize writers of
// the same entity.
type CollectionSync[T any] struct {
	adapter  Adapter[T]
	workbase string
	shard    repository.ShardStore[T]
	log      *logger.Logger

	mu       sync.Mutex
	items    []T
	index    map[string]int
	geometry map[string]models.ParcelGeometry
	loading  bool

	// persistMu orders shard writes so a later snapshot never lands first.
	persistMu sync.Mutex

	feed observe.Feed[Snapshot[T]]
}

func newCollectionSync[T any](adapter Adapter[T], workbase string, shard repository.ShardStore[T], log *logger.Logger) *CollectionSync[T] {
	return &CollectionSync[T]{
		adapter:  adapter,
		workbase: workbase,
		shard:    shard,
		log: log.With(map[string]interface{}{
			"collection": adapter.Collection,
			"workbase":   workbase,
		}),
		items:    []T{},
		index:    make(map[string]int),
		geometry: make(map[string]models.ParcelGeometry),
		loading:  true,
	}
}

// hydrate replaces the in-memory state with what is on disk.
func (s *CollectionSync[T]) hydrate(ctx context.Context) {
	items, geometry, err := s.shard.LoadShard(ctx, s.workbase)
	if err != nil {
		s.log.Error("Failed to hydrate from disk", err, nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make([]T, 0, len(items))
	s.index = make(map[string]int, len(items))
	for _, item := range items {
		s.upsertLocked(item)
	}
	s.geometry = make(map[string]models.ParcelGeometry, len(geometry))
	for id, g := range geometry {
		s.geometry[id] = g
	}

	s.log.Debug("Hydrated from disk", map[string]interface{}{"count": len(s.items)})
}

// Workbase returns the partition this sync mirrors.
func (s *CollectionSync[T]) Workbase() string {
	return s.workbase
}

// Loading reports whether the first network frame is still outstanding.
func (s *CollectionSync[T]) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Len returns the number of cached items.
func (s *CollectionSync[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Snapshot returns a copy of the current output.
func (s *CollectionSync[T]) Snapshot() Snapshot[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *CollectionSync[T]) snapshotLocked() Snapshot[T] {
	items := make([]T, len(s.items))
	copy(items, s.items)

	geometry := make(map[string]models.ParcelGeometry, len(s.geometry))
	for id, g := range s.geometry {
		geometry[id] = g
	}

	return Snapshot[T]{
		Workbase: s.workbase,
		Items:    items,
		Geometry: geometry,
		Wards:    s.wardsLocked(),
		Loading:  s.loading,
	}
}

// wardsLocked returns the distinct ward codes, sorted, headed by AllWards.
func (s *CollectionSync[T]) wardsLocked() []string {
	seen := make(map[string]struct{})
	for _, item := range s.items {
		if w := s.adapter.Ward(item); w != "" && w != AllWards {
			seen[w] = struct{}{}
		}
	}
	wards := make([]string, 0, len(seen))
	for w := range seen {
		wards = append(wards, w)
	}
	sort.Strings(wards)
	return append([]string{AllWards}, wards...)
}

// Subscribe registers fn for every change of the sync's output.
func (s *CollectionSync[T]) Subscribe(fn func(Snapshot[T])) (cancel func()) {
	return s.feed.Subscribe(fn)
}

// Get returns the cached item with id.
func (s *CollectionSync[T]) Get(id string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[id]; ok {
		return s.items[i], true
	}
	var zero T
	return zero, false
}

// ApplyBatch applies one notification in order, then persists the whole
// collection iff at least one change took effect. A batch whose removals
// leave the collection empty deletes the shard. The first batch, even an
// empty one, clears the loading flag. It returns the number of changes
// applied.
func (s *CollectionSync[T]) ApplyBatch(ctx context.Context, changes []remote.Change) int {
	s.mu.Lock()
	wasLoading := s.loading
	s.loading = false

	applied, removed := 0, 0
	dropped := make(map[int]struct{})
	for _, c := range changes {
		if !s.applyLocked(c, dropped) {
			continue
		}
		applied++
		if c.Type == remote.ChangeRemoved {
			removed++
		}
	}
	s.compactLocked(dropped)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if applied > 0 {
		s.persist(ctx, removed > 0)
	}
	if applied > 0 || wasLoading {
		s.feed.Publish(snap)
	}

	s.log.Debug("Applied change batch", map[string]interface{}{
		"changes": len(changes),
		"applied": applied,
		"removed": removed,
		"count":   len(snap.Items),
	})
	return applied
}

func (s *CollectionSync[T]) applyLocked(c remote.Change, dropped map[int]struct{}) bool {
	switch c.Type {
	case remote.ChangeRemoved:
		return s.removeLocked(c.ID, dropped)

	case remote.ChangeAdded, remote.ChangeModified:
		item, err := s.adapter.Transform(c.ID, c.Raw)
		if err != nil {
			s.log.Warn("Skipping undecodable document", map[string]interface{}{
				"id":    c.ID,
				"error": err.Error(),
			})
			return false
		}
		s.upsertLocked(item)

		if s.adapter.Geometry != nil {
			geom, ok, err := s.adapter.Geometry(c.ID, c.Raw)
			if err != nil {
				s.log.Warn("Ignoring malformed geometry", map[string]interface{}{
					"id":    c.ID,
					"error": err.Error(),
				})
			}
			if ok {
				s.geometry[c.ID] = geom
			}
		}
		return true

	default:
		s.log.Warn("Skipping change of unknown type", map[string]interface{}{
			"id":   c.ID,
			"type": string(c.Type),
		})
		return false
	}
}

// upsertLocked replaces the item with the same id in place or appends it.
func (s *CollectionSync[T]) upsertLocked(item T) {
	id := s.adapter.ID(item)
	if i, ok := s.index[id]; ok {
		s.items[i] = item
		return
	}
	s.index[id] = len(s.items)
	s.items = append(s.items, item)
}

// removeLocked unindexes id and marks its slot in dropped. The slot stays in
// items until compactLocked runs at the end of the batch.
func (s *CollectionSync[T]) removeLocked(id string, dropped map[int]struct{}) bool {
	_, hadGeometry := s.geometry[id]
	delete(s.geometry, id)

	i, ok := s.index[id]
	if !ok {
		return hadGeometry
	}
	delete(s.index, id)
	dropped[i] = struct{}{}
	return true
}

// compactLocked drops the marked slots in one pass, keeping the order of the
// survivors, and reindexes them.
func (s *CollectionSync[T]) compactLocked(dropped map[int]struct{}) {
	if len(dropped) == 0 {
		return
	}

	kept := s.items[:0]
	for i, item := range s.items {
		if _, gone := dropped[i]; gone {
			continue
		}
		s.index[s.adapter.ID(item)] = len(kept)
		kept = append(kept, item)
	}

	var zero T
	for i := len(kept); i < len(s.items); i++ {
		s.items[i] = zero
	}
	s.items = kept
}

// Upsert patches one item into memory and notifies observers. It does not
// write to disk.
func (s *CollectionSync[T]) Upsert(item T) {
	s.mu.Lock()
	s.upsertLocked(item)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.feed.Publish(snap)
}

// Update runs fn on the item with id in place. fn reports whether it changed
// anything; observers are notified only then. Update reports whether the
// item exists.
func (s *CollectionSync[T]) Update(id string, fn func(*T) bool) bool {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	changed := fn(&s.items[i])
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if changed {
		s.feed.Publish(snap)
	}
	return true
}

// Persist writes the current collection to the shard. An empty collection
// is not written. Failures are logged and reported as false.
func (s *CollectionSync[T]) Persist(ctx context.Context) bool {
	return s.persist(ctx, false)
}

// persist writes the current collection. With deleteEmpty, an empty
// collection deletes the shard instead of leaving the last saved one behind.
func (s *CollectionSync[T]) persist(ctx context.Context, deleteEmpty bool) bool {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	snap := s.Snapshot()
	if deleteEmpty && len(snap.Items) == 0 {
		if err := s.shard.DeleteShard(ctx, s.workbase); err != nil {
			s.log.Error("Failed to delete emptied shard", err, nil)
			return false
		}
		return true
	}

	saved, err := s.shard.SaveShard(ctx, s.workbase, snap.Items, snap.Geometry)
	if err != nil {
		s.log.Error("Failed to persist shard", err, map[string]interface{}{
			"count": len(snap.Items),
		})
		return false
	}
	return saved
}
