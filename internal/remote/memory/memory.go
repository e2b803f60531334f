// Package memory is an in-process remote store. It backs tests and
// REMOTE_DRIVER=memory development runs, and can simulate going offline.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/stwalsh4118/atlas/fieldsync/internal/remote"
)

type subscription struct {
	id      int
	store   *Store
	query   remote.Query
	onBatch func([]remote.Change)
	seen    map[string]struct{}
	stop    func() bool
	once    sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(func() { s.store.unsubscribe(s) })
	return nil
}

// delivery is one batch waiting for its subscriber.
type delivery struct {
	sub     *subscription
	changes []remote.Change
}

// Store keeps documents per collection and fans changes out in write order.
// Batches are queued under the lock and delivered outside it by one draining
// goroutine at a time, usually the writer's own. A callback may read from or
// write to the Store; its writes are delivered after the current batch.
type Store struct {
	mu       sync.Mutex
	docs     map[string]map[string][]byte
	subs     map[int]*subscription
	nextID   int
	offline  bool
	closed   bool
	queue    []delivery
	draining bool
}

var _ remote.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		docs: make(map[string]map[string][]byte),
		subs: make(map[int]*subscription),
	}
}

// SetOffline toggles simulated connectivity. While offline, Subscribe,
// Upsert and Delete fail with remote.ErrUnavailable.
func (s *Store) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

func (s *Store) check() error {
	if s.closed {
		return remote.ErrClosed
	}
	if s.offline {
		return remote.ErrUnavailable
	}
	return nil
}

// Subscribe delivers the matching documents as one added batch, then every
// later matching write. Unless another goroutine is already delivering, the
// initial batch arrives before Subscribe returns. The subscription also ends
// when ctx is cancelled.
func (s *Store) Subscribe(ctx context.Context, q remote.Query, onBatch func([]remote.Change)) (remote.Subscription, error) {
	s.mu.Lock()
	if err := s.check(); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	s.nextID++
	sub := &subscription{
		id:      s.nextID,
		store:   s,
		query:   q,
		onBatch: onBatch,
		seen:    make(map[string]struct{}),
	}

	ids := make([]string, 0, len(s.docs[q.Collection]))
	for id := range s.docs[q.Collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	initial := make([]remote.Change, 0, len(ids))
	for _, id := range ids {
		raw := s.docs[q.Collection][id]
		if !remote.Matches(raw, q.Field, q.Value) {
			continue
		}
		sub.seen[id] = struct{}{}
		initial = append(initial, remote.Change{Type: remote.ChangeAdded, ID: id, Raw: clone(raw)})
	}

	s.subs[sub.id] = sub
	sub.stop = context.AfterFunc(ctx, func() { sub.Close() })
	s.queue = append(s.queue, delivery{sub: sub, changes: initial})
	s.mu.Unlock()

	s.drain()
	return sub, nil
}

func (s *Store) unsubscribe(sub *subscription) {
	s.mu.Lock()
	delete(s.subs, sub.id)
	stop := sub.stop
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// Subscribers returns the number of open subscriptions.
func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Upsert stores doc under id. With Merge, top-level fields of the stored
// document that doc omits are kept.
func (s *Store) Upsert(ctx context.Context, collection, id string, doc any, opts remote.UpsertOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
	}

	s.mu.Lock()
	if err := s.check(); err != nil {
		s.mu.Unlock()
		return err
	}

	coll, ok := s.docs[collection]
	if !ok {
		coll = make(map[string][]byte)
		s.docs[collection] = coll
	}

	if existing, found := coll[id]; found && opts.Merge {
		if data, err = mergeTopLevel(existing, data); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to merge %s/%s: %w", collection, id, err)
		}
	}
	coll[id] = data
	s.publish(collection, id, data, true)
	s.mu.Unlock()

	s.drain()
	return nil
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.check(); err != nil {
		s.mu.Unlock()
		return err
	}
	if _, ok := s.docs[collection][id]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.docs[collection], id)
	s.publish(collection, id, nil, false)
	s.mu.Unlock()

	s.drain()
	return nil
}

// publish queues the change for every interested subscriber. It must be
// called with mu held.
func (s *Store) publish(collection, id string, data []byte, exists bool) {
	ids := make([]int, 0, len(s.subs))
	for subID := range s.subs {
		ids = append(ids, subID)
	}
	sort.Ints(ids)

	for _, subID := range ids {
		sub := s.subs[subID]
		if sub.query.Collection != collection {
			continue
		}
		matches := exists && remote.Matches(data, sub.query.Field, sub.query.Value)
		typ, ok := remote.Resolve(sub.seen, id, matches)
		if !ok {
			continue
		}
		change := remote.Change{Type: typ, ID: id}
		if typ != remote.ChangeRemoved {
			change.Raw = clone(data)
		}
		s.queue = append(s.queue, delivery{sub: sub, changes: []remote.Change{change}})
	}
}

// drain delivers queued batches in order without holding mu. If another
// goroutine is already draining, it delivers them instead. Batches for a
// subscription closed in the meantime are dropped.
func (s *Store) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true

	for len(s.queue) > 0 {
		d := s.queue[0]
		s.queue[0] = delivery{}
		s.queue = s.queue[1:]
		live := s.subs[d.sub.id] == d.sub
		s.mu.Unlock()

		if live {
			d.sub.onBatch(d.changes)
		}

		s.mu.Lock()
	}

	s.draining = false
	s.mu.Unlock()
}

// Get returns a copy of the stored document.
func (s *Store) Get(collection, id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.docs[collection][id]
	if !ok {
		return nil, false
	}
	return clone(raw), true
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check()
}

// Close drops every subscription. Later calls fail with remote.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = make(map[int]*subscription)
	s.closed = true
	s.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return nil
}

func mergeTopLevel(existing, patch []byte) ([]byte, error) {
	var base, over map[string]any
	if err := json.Unmarshal(existing, &base); err != nil || base == nil {
		base = make(map[string]any)
	}
	if err := json.Unmarshal(patch, &over); err != nil {
		return nil, err
	}
	for k, v := range over {
		base[k] = v
	}
	return json.Marshal(base)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
