package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/atlas/fieldsync/internal/config"
	"github.com/stwalsh4118/atlas/fieldsync/internal/handlers"
	"github.com/stwalsh4118/atlas/fieldsync/internal/kv"
	"github.com/stwalsh4118/atlas/fieldsync/internal/logger"
	"github.com/stwalsh4118/atlas/fieldsync/internal/remote"
	"github.com/stwalsh4118/atlas/fieldsync/internal/remote/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(driver, path string) config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: "0", Env: "test"},
		Store:  config.StoreConfig{Driver: driver, Path: path},
		Remote: config.RemoteConfig{Driver: config.RemoteDriverMemory},
		CORS:   config.CORSConfig{Origins: []string{"http://localhost:5173"}},
	}
}

func parcelDoc(workbase string) map[string]any {
	return map[string]any{
		"erfNo": "1234",
		"admin": map[string]any{
			"localMunicipality": map[string]any{"id": workbase},
			"ward":              map[string]any{"code": "W1"},
		},
		"premises": []string{},
	}
}

func newApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func waitReady(t *testing.T, a *App) {
	t.Helper()
	require.Eventually(t, func() bool {
		return a.Warehouse.Workbase() != "" && !a.Warehouse.Loading()
	}, time.Second, 5*time.Millisecond)
}

func TestNew_UnknownDrivers(t *testing.T) {
	cfg := testConfig("floppy", "")
	_, err := New(context.Background(), cfg, logger.Nop())
	assert.ErrorIs(t, err, kv.ErrUnknownDriver)

	cfg = testConfig(config.KVDriverMemory, "")
	cfg.Remote.Driver = "couch"
	_, err = New(context.Background(), cfg, logger.Nop())
	assert.ErrorIs(t, err, ErrUnknownRemoteDriver)
}

func TestWorkbaseSwitchHydratesAndSyncs(t *testing.T) {
	ctx := context.Background()
	a := newApp(t, testConfig(config.KVDriverMemory, ""))
	src := a.Remote.(*memory.Store)
	require.NoError(t, src.Upsert(ctx, remote.CollectionParcels, "E1", parcelDoc("ZA1048"), remote.UpsertOptions{}))
	require.NoError(t, src.Upsert(ctx, remote.CollectionParcels, "X9", parcelDoc("ZA2000"), remote.UpsertOptions{}))

	a.Session.SetWorkbase("ZA1048")
	waitReady(t, a)

	parcels, err := a.Warehouse.Parcels()
	require.NoError(t, err)
	require.Len(t, parcels, 1)
	assert.Equal(t, "E1", parcels[0].ID)
	assert.Equal(t, "1234", parcels[0].ParcelNo)
	assert.Equal(t, "ZA1048", a.Selection.State().Workbase())

	stored, _, err := a.ErfRepo.LoadShard(ctx, "ZA1048")
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	a.Session.SetWorkbase("ZA2000")
	waitReady(t, a)
	assert.Equal(t, []string{"ZA2000"}, a.Parcels.Active(), "previous workbase released")
	assert.Equal(t, "ZA2000", a.Selection.State().Workbase())
}

func TestLogoutClearsShards(t *testing.T) {
	ctx := context.Background()
	a := newApp(t, testConfig(config.KVDriverMemory, ""))
	src := a.Remote.(*memory.Store)
	require.NoError(t, src.Upsert(ctx, remote.CollectionParcels, "E1", parcelDoc("ZA1048"), remote.UpsertOptions{}))

	a.Session.SetWorkbase("ZA1048")
	waitReady(t, a)
	store := a.KV.(*kv.MemoryStore)
	require.Eventually(t, func() bool { return store.Len(kv.NamespaceErfShards) > 0 }, time.Second, 5*time.Millisecond)

	a.Session.Logout()

	assert.Equal(t, 0, store.Len(kv.NamespaceErfShards))
	assert.Equal(t, 0, store.Len(kv.NamespacePremiseShards))
	assert.Equal(t, "", a.Warehouse.Workbase())
	assert.Nil(t, a.Selection.State().Municipality)
	assert.Empty(t, a.Parcels.Active())
}

func TestOfflineEditThroughHTTP(t *testing.T) {
	ctx := context.Background()
	a := newApp(t, testConfig(config.KVDriverMemory, ""))
	src := a.Remote.(*memory.Store)
	require.NoError(t, src.Upsert(ctx, remote.CollectionParcels, "E1", parcelDoc("ZA1048"), remote.UpsertOptions{}))
	router := a.Router()

	a.Session.SetWorkbase("ZA1048")
	waitReady(t, a)
	src.SetOffline(true)

	body, err := json.Marshal(handlers.PremiseRequest{ErfID: "E1", Occupancy: "VACANT"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/premises/PRM_1", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp handlers.PremiseResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, handlers.SavedLocallyNotice, resp.Notice)

	premises, err := a.Warehouse.Premises(ctx)
	require.NoError(t, err)
	require.Len(t, premises, 1)
	assert.Equal(t, "PRM_1", premises[0].ID)
	assert.Equal(t, "VACANT", premises[0].Occupancy)

	parcels, err := a.Warehouse.Parcels()
	require.NoError(t, err)
	require.Len(t, parcels, 1)
	assert.Equal(t, []string{"PRM_1"}, parcels[0].Premises)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestColdStartFromSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fieldsync.db")

	first, err := New(ctx, testConfig(config.KVDriverSQLite, path), logger.Nop())
	require.NoError(t, err)
	src := first.Remote.(*memory.Store)
	require.NoError(t, src.Upsert(ctx, remote.CollectionParcels, "E1", parcelDoc("ZA1048"), remote.UpsertOptions{}))
	first.Session.SetWorkbase("ZA1048")
	waitReady(t, first)
	require.Eventually(t, func() bool {
		items, _, err := first.ErfRepo.LoadShard(ctx, "ZA1048")
		return err == nil && len(items) == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, first.Close())

	// A fresh remote knows nothing; the disk cache still serves E1.
	second := newApp(t, testConfig(config.KVDriverSQLite, path))
	second.Remote.(*memory.Store).SetOffline(true)
	second.Session.SetWorkbase("ZA1048")

	parcels, err := second.Warehouse.Parcels()
	require.NoError(t, err)
	require.Len(t, parcels, 1)
	assert.Equal(t, "E1", parcels[0].ID)
	assert.True(t, second.Warehouse.Loading())
	assert.Equal(t, "ZA1048", second.Selection.State().Workbase())
}
