package collectionsync

import (
	"context"
	"sort"
	"sync"

	"github.com/stwalsh4118/atlas/fieldsync/internal/logger"
	"github.com/stwalsh4118/atlas/fieldsync/internal/remote"
	"github.com/stwalsh4118/atlas/fieldsync/internal/repository"
)

type entry[T any] struct {
	sync   *CollectionSync[T]
	refs   int
	cancel context.CancelFunc

	mu     sync.Mutex
	sub    remote.Subscription
	closed bool
}

// close cancels the subscription, or marks the entry so a subscription that
// is still connecting is closed on arrival.
func (e *entry[T]) close() {
	e.cancel()

	e.mu.Lock()
	sub := e.sub
	e.sub = nil
	e.closed = true
	e.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
}

// Manager owns the CollectionSync instances of one entity type, one per
// workbase, and keeps exactly one remote subscription open per workbase
// while at least one consumer holds it.
type Manager[T any] struct {
	adapter Adapter[T]
	source  remote.Source
	shard   repository.ShardStore[T]
	log     *logger.Logger

	mu      sync.Mutex
	entries map[string]*entry[T]
	// wg tracks connect goroutines.
	wg sync.WaitGroup
}

// NewManager creates a manager for the entity type described by adapter.
func NewManager[T any](adapter Adapter[T], source remote.Source, shard repository.ShardStore[T], log *logger.Logger) *Manager[T] {
	return &Manager[T]{
		adapter: adapter,
		source:  source,
		shard:   shard,
		log:     log.WithComponent("collectionsync"),
		entries: make(map[string]*entry[T]),
	}
}

// Acquire returns the sync for workbase and a release func. The first
// acquirer hydrates the sync from disk before Acquire returns and starts the
// remote subscription in the background; the last release closes it.
func (m *Manager[T]) Acquire(ctx context.Context, workbase string) (*CollectionSync[T], func()) {
	m.mu.Lock()
	e, ok := m.entries[workbase]
	if ok {
		e.refs++
		m.mu.Unlock()
		return e.sync, m.releaser(workbase, e)
	}

	s := newCollectionSync(m.adapter, workbase, m.shard, m.log)
	s.hydrate(ctx)

	subCtx, cancel := context.WithCancel(context.Background())
	e = &entry[T]{sync: s, refs: 1, cancel: cancel}
	m.entries[workbase] = e
	m.wg.Add(1)
	m.mu.Unlock()

	go m.connect(subCtx, e)

	m.log.Info("Collection sync started", map[string]interface{}{
		"collection": m.adapter.Collection,
		"workbase":   workbase,
		"cached":     s.Len(),
	})
	return s, m.releaser(workbase, e)
}

func (m *Manager[T]) connect(ctx context.Context, e *entry[T]) {
	defer m.wg.Done()

	q := remote.Query{
		Collection: m.adapter.Collection,
		Field:      m.adapter.PartitionField,
		Value:      e.sync.Workbase(),
	}
	sub, err := m.source.Subscribe(ctx, q, func(changes []remote.Change) {
		e.sync.ApplyBatch(ctx, changes)
	})
	if err != nil {
		if ctx.Err() == nil {
			m.log.Error("Failed to subscribe", err, map[string]interface{}{
				"collection": q.Collection,
				"workbase":   q.Value,
			})
		}
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		sub.Close()
		return
	}
	e.sub = sub
	e.mu.Unlock()
}

func (m *Manager[T]) releaser(workbase string, e *entry[T]) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			e.refs--
			last := e.refs == 0
			if last && m.entries[workbase] == e {
				delete(m.entries, workbase)
			}
			m.mu.Unlock()

			if last {
				e.close()
				m.log.Info("Collection sync stopped", map[string]interface{}{
					"collection": m.adapter.Collection,
					"workbase":   workbase,
				})
			}
		})
	}
}

// Get returns the live sync for workbase without taking a reference.
func (m *Manager[T]) Get(workbase string) (*CollectionSync[T], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[workbase]
	if !ok {
		return nil, false
	}
	return e.sync, true
}

// Patch runs fn against the live sync for workbase. It reports false when no
// consumer holds that workbase.
func (m *Manager[T]) Patch(workbase string, fn func(*CollectionSync[T])) bool {
	s, ok := m.Get(workbase)
	if !ok {
		return false
	}
	fn(s)
	return true
}

// Snapshot returns the output of the live sync for workbase.
func (m *Manager[T]) Snapshot(workbase string) (Snapshot[T], bool) {
	s, ok := m.Get(workbase)
	if !ok {
		return Snapshot[T]{}, false
	}
	return s.Snapshot(), true
}

// Active lists the workbases with a live sync.
func (m *Manager[T]) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for wb := range m.entries {
		out = append(out, wb)
	}
	sort.Strings(out)
	return out
}

// Close drops every sync regardless of outstanding references and waits for
// connecting subscriptions to settle.
func (m *Manager[T]) Close() {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*entry[T])
	m.mu.Unlock()

	for _, e := range entries {
		e.close()
	}
	m.wg.Wait()
}
