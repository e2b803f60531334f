// Package app composes the engine from configuration: stores, repositories,
// syncs, selection, warehouse, the premise service, and the session wiring
// that drives them.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/stwalsh4118/atlas/fieldsync/internal/collectionsync"
	"github.com/stwalsh4118/atlas/fieldsync/internal/config"
	"github.com/stwalsh4118/atlas/fieldsync/internal/handlers"
	"github.com/stwalsh4118/atlas/fieldsync/internal/kv"
	"github.com/stwalsh4118/atlas/fieldsync/internal/logger"
	"github.com/stwalsh4118/atlas/fieldsync/internal/models"
	"github.com/stwalsh4118/atlas/fieldsync/internal/remote"
	"github.com/stwalsh4118/atlas/fieldsync/internal/remote/memory"
	"github.com/stwalsh4118/atlas/fieldsync/internal/remote/postgres"
	"github.com/stwalsh4118/atlas/fieldsync/internal/repository"
	"github.com/stwalsh4118/atlas/fieldsync/internal/selection"
	"github.com/stwalsh4118/atlas/fieldsync/internal/services"
	"github.com/stwalsh4118/atlas/fieldsync/internal/session"
	"github.com/stwalsh4118/atlas/fieldsync/internal/warehouse"
)

// ErrUnknownRemoteDriver is returned for an unsupported REMOTE_DRIVER.
var ErrUnknownRemoteDriver = errors.New("unknown remote driver")

// App holds the composed engine.
type App struct {
	Config config.Config
	Log    *logger.Logger

	KV     kv.Store
	Remote remote.Store

	ErfRepo     repository.ErfRepository
	PremiseRepo repository.PremiseRepository
	Parcels     *collectionsync.Manager[models.ParcelSummary]
	Premises    *collectionsync.Manager[models.Premise]

	Selection      selection.GeoSelection
	Warehouse      *warehouse.View
	PremiseService services.PremiseService
	Session        *session.Signal

	unwire []func()
}

// New opens the stores named by cfg and wires the engine on top of them.
func New(ctx context.Context, cfg config.Config, log *logger.Logger) (*App, error) {
	store, err := kv.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}

	rem, err := openRemote(ctx, cfg.Remote, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	a := Compose(cfg, log, store, rem)
	log.Info("Engine composed", map[string]interface{}{
		"kv_driver":     cfg.Store.Driver,
		"remote_driver": cfg.Remote.Driver,
	})
	return a, nil
}

func openRemote(ctx context.Context, cfg config.RemoteConfig, log *logger.Logger) (remote.Store, error) {
	switch cfg.Driver {
	case config.RemoteDriverMemory:
		return memory.New(), nil
	case config.RemoteDriverPostgres:
		pg, err := postgres.Open(ctx, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open remote store: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("failed to prepare remote schema: %w", err)
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRemoteDriver, cfg.Driver)
	}
}

// Compose wires the engine over already-open stores.
func Compose(cfg config.Config, log *logger.Logger, store kv.Store, rem remote.Store) *App {
	erfRepo := repository.NewErfRepository(store, log)
	premiseRepo := repository.NewPremiseRepository(store, log)
	parcels := collectionsync.NewManager(collectionsync.ParcelAdapter(), rem, erfRepo, log)
	premises := collectionsync.NewManager(collectionsync.PremiseAdapter(), rem, premiseRepo, log)
	sel := selection.NewGeoSelection(store, log)

	a := &App{
		Config:         cfg,
		Log:            log,
		KV:             store,
		Remote:         rem,
		ErfRepo:        erfRepo,
		PremiseRepo:    premiseRepo,
		Parcels:        parcels,
		Premises:       premises,
		Selection:      sel,
		Warehouse:      warehouse.NewView(parcels, premises, premiseRepo, sel, log),
		PremiseService: services.NewPremiseService(premiseRepo, premises, parcels, rem, log),
		Session:        session.NewSignal(),
	}

	a.unwire = append(a.unwire,
		a.Session.OnWorkbaseChange(a.onWorkbaseChange),
		a.Session.OnLogout(a.onLogout),
	)
	return a
}

// onWorkbaseChange adopts or resets the selection for the new workbase and
// points the warehouse at it.
func (a *App) onWorkbaseChange(workbase string) {
	ctx := context.Background()
	if workbase == "" {
		a.Warehouse.Deactivate()
		return
	}

	a.Selection.Restore(ctx, workbase)
	if err := a.Warehouse.Activate(ctx, workbase); err != nil {
		a.Log.Error("Failed to activate workbase", err, map[string]interface{}{
			"workbase": workbase,
		})
	}
}

// onLogout drops the selection, the live syncs and the cached shards.
func (a *App) onLogout() {
	ctx := context.Background()
	a.Selection.Teardown(ctx)
	a.Warehouse.Deactivate()

	if err := a.ErfRepo.Clear(ctx); err != nil {
		a.Log.Error("Failed to clear parcel shards", err, nil)
	}
	if err := a.PremiseRepo.Clear(ctx); err != nil {
		a.Log.Error("Failed to clear premise shards", err, nil)
	}
	a.Log.Info("Signed out", nil)
}

// Router builds the HTTP surface over the engine.
func (a *App) Router() *gin.Engine {
	return handlers.NewRouter(handlers.RouterConfig{
		Log:         a.Log,
		CORSOrigins: a.Config.CORS.Origins,
		Health: handlers.NewHealthHandler(map[string]handlers.Pinger{
			"kv":     a.KV,
			"remote": a.Remote,
		}, a.Config.Server.Env),
		Session:   handlers.NewSessionHandler(a.Session),
		Selection: handlers.NewSelectionHandler(a.Selection),
		Warehouse: handlers.NewWarehouseHandler(a.Warehouse),
		Premises:  handlers.NewPremiseHandler(a.PremiseService, a.Session),
	})
}

// Close releases every subscription and closes both stores.
func (a *App) Close() error {
	for _, fn := range a.unwire {
		fn()
	}
	a.Warehouse.Deactivate()
	a.Parcels.Close()
	a.Premises.Close()

	var errs []error
	if err := a.Remote.Close(); err != nil {
		errs = append(errs, fmt.Errorf("remote: %w", err))
	}
	if err := a.KV.Close(); err != nil {
		errs = append(errs, fmt.Errorf("kv: %w", err))
	}
	return errors.Join(errs...)
}
