// Package selection holds the operator's drill-down position in the
// location hierarchy: municipality, ward, parcel, premise, meter.
package selection

import (
	"context"
	"errors"
	"sync"

	"github.com/goccy/go-json"

	"github.com/stwalsh4118/atlas/fieldsync/internal/kv"
	"github.com/stwalsh4118/atlas/fieldsync/internal/logger"
	"github.com/stwalsh4118/atlas/fieldsync/internal/models"
	"github.com/stwalsh4118/atlas/fieldsync/internal/observe"
)

// SessionKey is the fixed key of the persisted selection in the geo namespace.
const SessionKey = "session_selection"

// State is the current selection. Levels are ordered from municipality down
// to meter; a nil level is unselected.
type State struct {
	Municipality *models.Ref `json:"municipality"`
	Ward         *models.Ref `json:"ward"`
	Parcel       *models.Ref `json:"parcel"`
	Premise      *models.Ref `json:"premise"`
	Meter        *models.Ref `json:"meter"`
}

// Workbase returns the selected municipality id, or "".
func (s State) Workbase() string {
	if s.Municipality == nil {
		return ""
	}
	return s.Municipality.ID
}

// Clone returns a deep copy so callers cannot alias internal refs.
func (s State) Clone() State {
	cp := func(r *models.Ref) *models.Ref {
		if r == nil {
			return nil
		}
		v := *r
		return &v
	}
	return State{
		Municipality: cp(s.Municipality),
		Ward:         cp(s.Ward),
		Parcel:       cp(s.Parcel),
		Premise:      cp(s.Premise),
		Meter:        cp(s.Meter),
	}
}

// Partial names the levels to set. Nil fields are left alone.
type Partial struct {
	Municipality *models.Ref `json:"municipality,omitempty"`
	Ward         *models.Ref `json:"ward,omitempty"`
	Parcel       *models.Ref `json:"parcel,omitempty"`
	Premise      *models.Ref `json:"premise,omitempty"`
	Meter        *models.Ref `json:"meter,omitempty"`
}

// GeoSelection is the selection state machine.
type GeoSelection interface {
	// State returns a copy of the current selection.
	State() State

	// Update merges p into the state, then clears every level below the
	// highest level p sets.
	Update(ctx context.Context, p Partial) State

	// Restore adopts the persisted selection if it belongs to workbase,
	// otherwise resets to just that municipality.
	Restore(ctx context.Context, workbase string) State

	// Teardown empties the state and removes the persisted record.
	Teardown(ctx context.Context)

	// Subscribe registers fn for every state change.
	Subscribe(fn func(State)) (cancel func())
}

type geoSelection struct {
	mu    sync.Mutex
	state State
	store kv.Store
	log   *logger.Logger
	feed  observe.Feed[State]
}

// NewGeoSelection creates an empty selection persisted through store.
func NewGeoSelection(store kv.Store, log *logger.Logger) GeoSelection {
	return &geoSelection{
		store: store,
		log:   log.WithComponent("selection"),
	}
}

func (g *geoSelection) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Clone()
}

func (g *geoSelection) Subscribe(fn func(State)) func() {
	return g.feed.Subscribe(fn)
}

func (g *geoSelection) Update(ctx context.Context, p Partial) State {
	g.mu.Lock()
	next := apply(g.state, p)
	g.state = next
	g.mu.Unlock()

	g.commit(ctx, next)
	return next.Clone()
}

// apply merges p into s and runs exactly one cascade, keyed to the highest
// level present in p.
func apply(s State, p Partial) State {
	s = s.Clone()
	if p.Municipality != nil {
		s.Municipality = ref(p.Municipality)
	}
	if p.Ward != nil {
		s.Ward = ref(p.Ward)
	}
	if p.Parcel != nil {
		s.Parcel = ref(p.Parcel)
	}
	if p.Premise != nil {
		s.Premise = ref(p.Premise)
	}
	if p.Meter != nil {
		s.Meter = ref(p.Meter)
	}

	switch {
	case p.Municipality != nil:
		s.Ward, s.Parcel, s.Premise, s.Meter = nil, nil, nil, nil
	case p.Ward != nil:
		s.Parcel, s.Premise, s.Meter = nil, nil, nil
	case p.Parcel != nil:
		s.Premise, s.Meter = nil, nil
	case p.Premise != nil:
		s.Meter = nil
	}
	return s
}

func ref(r *models.Ref) *models.Ref {
	v := *r
	return &v
}

func (g *geoSelection) Restore(ctx context.Context, workbase string) State {
	next := State{Municipality: &models.Ref{ID: workbase}}

	if saved, ok := g.load(ctx); ok && saved.Workbase() == workbase {
		next = saved
		g.log.Debug("Restored selection", map[string]interface{}{"workbase": workbase})
	} else {
		g.log.Debug("Reset selection for workbase", map[string]interface{}{"workbase": workbase})
	}

	g.mu.Lock()
	g.state = next
	g.mu.Unlock()

	g.commit(ctx, next)
	return next.Clone()
}

func (g *geoSelection) Teardown(ctx context.Context) {
	g.mu.Lock()
	g.state = State{}
	g.mu.Unlock()

	if err := g.store.Delete(ctx, kv.NamespaceGeo, SessionKey); err != nil {
		g.log.Warn("Failed to delete persisted selection, blanking it", map[string]interface{}{
			"error": err.Error(),
		})
		if err := g.store.Set(ctx, kv.NamespaceGeo, SessionKey, ""); err != nil {
			g.log.Error("Failed to blank persisted selection", err, nil)
		}
	}

	g.feed.Publish(State{})
}

// commit writes s to disk, swallowing failures, then notifies observers.
func (g *geoSelection) commit(ctx context.Context, s State) {
	data, err := json.Marshal(s)
	if err == nil {
		err = g.store.Set(ctx, kv.NamespaceGeo, SessionKey, string(data))
	}
	if err != nil {
		g.log.Error("Failed to persist selection", err, map[string]interface{}{
			"workbase": s.Workbase(),
		})
	}

	g.feed.Publish(s.Clone())
}

func (g *geoSelection) load(ctx context.Context) (State, bool) {
	raw, err := g.store.Get(ctx, kv.NamespaceGeo, SessionKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			g.log.Error("Failed to read persisted selection", err, nil)
		}
		return State{}, false
	}
	if raw == "" {
		return State{}, false
	}

	var s State
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		g.log.Warn("Discarding corrupt persisted selection", map[string]interface{}{
			"error": err.Error(),
		})
		return State{}, false
	}
	return s, true
}
