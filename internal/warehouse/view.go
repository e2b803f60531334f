// Package warehouse composes the live parcel and premise syncs of the active
// workbase, plus the locally authored premise shard, into the filtered
// collections the field UI reads.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/stwalsh4118/atlas/fieldsync/internal/collectionsync"
	"github.com/stwalsh4118/atlas/fieldsync/internal/logger"
	"github.com/stwalsh4118/atlas/fieldsync/internal/models"
	"github.com/stwalsh4118/atlas/fieldsync/internal/observe"
	"github.com/stwalsh4118/atlas/fieldsync/internal/repository"
	"github.com/stwalsh4118/atlas/fieldsync/internal/selection"
)

// ErrNoActiveWorkbase is returned by reads made before Activate.
var ErrNoActiveWorkbase = errors.New("no active workbase")

// Summary describes the view for status displays and change events.
type Summary struct {
	Workbase       string   `json:"workbase"`
	Loading        bool     `json:"loading"`
	Wards          []string `json:"wards"`
	SelectedWard   string   `json:"selectedWard,omitempty"`
	SelectedParcel string   `json:"selectedParcel,omitempty"`
	ParcelCount    int      `json:"parcelCount"`
	PremiseCount   int      `json:"premiseCount"`
}

type activation struct {
	workbase string
	parcels  *collectionsync.CollectionSync[models.ParcelSummary]
	premises *collectionsync.CollectionSync[models.Premise]
	releases []func()
}

func (a *activation) release() {
	for i := len(a.releases) - 1; i >= 0; i-- {
		a.releases[i]()
	}
}

// View is the read side of the engine.
type View struct {
	parcels     *collectionsync.Manager[models.ParcelSummary]
	premises    *collectionsync.Manager[models.Premise]
	premiseRepo repository.PremiseRepository
	selection   selection.GeoSelection
	log         *logger.Logger

	mu     sync.Mutex
	active *activation

	feed observe.Feed[Summary]
}

// NewView wires the view to its collaborators and follows selection changes.
func NewView(
	parcels *collectionsync.Manager[models.ParcelSummary],
	premises *collectionsync.Manager[models.Premise],
	premiseRepo repository.PremiseRepository,
	sel selection.GeoSelection,
	log *logger.Logger,
) *View {
	v := &View{
		parcels:     parcels,
		premises:    premises,
		premiseRepo: premiseRepo,
		selection:   sel,
		log:         log.WithComponent("warehouse"),
	}
	sel.Subscribe(func(selection.State) { v.changed() })
	return v
}

// Activate switches the view to workbase, acquiring both syncs in parallel.
// The previous workbase, if any, is released.
func (v *View) Activate(ctx context.Context, workbase string) error {
	if workbase == "" {
		return ErrNoActiveWorkbase
	}

	next := &activation{workbase: workbase}
	var parcelRelease, premiseRelease func()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		next.parcels, parcelRelease = v.parcels.Acquire(gctx, workbase)
		return nil
	})
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		next.premises, premiseRelease = v.premises.Acquire(gctx, workbase)
		return nil
	})
	err := g.Wait()

	for _, r := range []func(){parcelRelease, premiseRelease} {
		if r != nil {
			next.releases = append(next.releases, r)
		}
	}
	if err != nil {
		next.release()
		return fmt.Errorf("failed to activate workbase %s: %w", workbase, err)
	}

	next.releases = append(next.releases,
		next.parcels.Subscribe(func(collectionsync.Snapshot[models.ParcelSummary]) { v.changed() }),
		next.premises.Subscribe(func(collectionsync.Snapshot[models.Premise]) { v.changed() }),
	)

	v.mu.Lock()
	prev := v.active
	v.active = next
	v.mu.Unlock()

	if prev != nil {
		prev.release()
	}

	v.log.Info("Warehouse activated", map[string]interface{}{
		"workbase": workbase,
		"parcels":  next.parcels.Len(),
		"premises": next.premises.Len(),
	})
	v.changed()
	return nil
}

// Deactivate releases the active workbase.
func (v *View) Deactivate() {
	v.mu.Lock()
	prev := v.active
	v.active = nil
	v.mu.Unlock()

	if prev == nil {
		return
	}
	prev.release()
	v.log.Info("Warehouse deactivated", map[string]interface{}{"workbase": prev.workbase})
	v.changed()
}

func (v *View) current() (*activation, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.active == nil {
		return nil, ErrNoActiveWorkbase
	}
	return v.active, nil
}

// Workbase returns the active workbase, or "".
func (v *View) Workbase() string {
	a, err := v.current()
	if err != nil {
		return ""
	}
	return a.workbase
}

// Loading is true while either sync awaits its first network frame.
func (v *View) Loading() bool {
	a, err := v.current()
	if err != nil {
		return false
	}
	return a.parcels.Loading() || a.premises.Loading()
}

// Wards returns the parcel ward vocabulary, headed by "ALL".
func (v *View) Wards() ([]string, error) {
	a, err := v.current()
	if err != nil {
		return nil, err
	}
	return a.parcels.Snapshot().Wards, nil
}

// Parcels returns the parcels of the active workbase, narrowed to the
// selected ward when one other than "ALL" is selected.
func (v *View) Parcels() ([]models.ParcelSummary, error) {
	a, err := v.current()
	if err != nil {
		return nil, err
	}
	return filterParcels(a.parcels.Snapshot().Items, v.selection.State()), nil
}

func filterParcels(parcels []models.ParcelSummary, s selection.State) []models.ParcelSummary {
	if s.Ward == nil || s.Ward.ID == "" || s.Ward.ID == collectionsync.AllWards {
		return parcels
	}
	out := make([]models.ParcelSummary, 0, len(parcels))
	for _, p := range parcels {
		if p.WardCode == s.Ward.ID {
			out = append(out, p)
		}
	}
	return out
}

// Geometry returns the side record of a parcel.
func (v *View) Geometry(parcelID string) (models.ParcelGeometry, bool, error) {
	a, err := v.current()
	if err != nil {
		return models.ParcelGeometry{}, false, err
	}
	g, ok := a.parcels.Snapshot().Geometry[parcelID]
	return g, ok, nil
}

// Premises returns cloud premises merged with the local shard, local winning
// on id collisions, narrowed to the selected parcel when there is one.
func (v *View) Premises(ctx context.Context) ([]models.Premise, error) {
	a, err := v.current()
	if err != nil {
		return nil, err
	}
	merged := mergePremises(a.premises.Snapshot().Items, v.localPremises(ctx, a.workbase))
	return filterPremises(merged, v.selection.State()), nil
}

func (v *View) localPremises(ctx context.Context, workbase string) []models.Premise {
	local, err := v.premiseRepo.Load(ctx, workbase)
	if err != nil {
		v.log.Error("Failed to read local premise shard", err, map[string]interface{}{
			"workbase": workbase,
		})
		return nil
	}
	return local
}

// mergePremises seeds a map with cloud entries and overwrites it with local
// ones. Output keeps cloud order, then local-only entries in local order.
func mergePremises(cloud, local []models.Premise) []models.Premise {
	byID := make(map[string]models.Premise, len(cloud)+len(local))
	order := make([]string, 0, len(cloud)+len(local))

	for _, p := range cloud {
		if _, ok := byID[p.ID]; !ok {
			order = append(order, p.ID)
		}
		byID[p.ID] = p
	}
	for _, p := range local {
		if _, ok := byID[p.ID]; !ok {
			order = append(order, p.ID)
		}
		byID[p.ID] = p
	}

	out := make([]models.Premise, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

func filterPremises(premises []models.Premise, s selection.State) []models.Premise {
	if s.Parcel == nil {
		return premises
	}
	out := make([]models.Premise, 0)
	for _, p := range premises {
		if p.ErfID == s.Parcel.ID {
			out = append(out, p)
		}
	}
	return out
}

// Summary reports the current shape of the view.
func (v *View) Summary(ctx context.Context) (Summary, error) {
	a, err := v.current()
	if err != nil {
		return Summary{}, err
	}

	state := v.selection.State()
	parcels := a.parcels.Snapshot()
	premises := mergePremises(a.premises.Snapshot().Items, v.localPremises(ctx, a.workbase))

	sum := Summary{
		Workbase:     a.workbase,
		Loading:      parcels.Loading || a.premises.Loading(),
		Wards:        parcels.Wards,
		ParcelCount:  len(filterParcels(parcels.Items, state)),
		PremiseCount: len(filterPremises(premises, state)),
	}
	if state.Ward != nil {
		sum.SelectedWard = state.Ward.ID
	}
	if state.Parcel != nil {
		sum.SelectedParcel = state.Parcel.ID
	}
	return sum, nil
}

// Subscribe registers fn for view changes. It receives an empty Summary
// when the view is deactivated.
func (v *View) Subscribe(fn func(Summary)) (cancel func()) {
	return v.feed.Subscribe(fn)
}

func (v *View) changed() {
	if v.feed.Len() == 0 {
		return
	}
	sum, err := v.Summary(context.Background())
	if err != nil && !errors.Is(err, ErrNoActiveWorkbase) {
		v.log.Error("Failed to summarise view", err, nil)
		return
	}
	v.feed.Publish(sum)
}
