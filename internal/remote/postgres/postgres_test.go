package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/atlas/fieldsync/internal/config"
	"github.com/stwalsh4118/atlas/fieldsync/internal/logger"
	"github.com/stwalsh4118/atlas/fieldsync/internal/remote"
)

// Test configuration for local PostgreSQL
func getTestConfig() config.RemoteConfig {
	return config.RemoteConfig{
		Driver:   config.RemoteDriverPostgres,
		Host:     getEnvOrDefault("DB_HOST", "host.docker.internal"),
		Port:     getEnvOrDefault("DB_PORT", "5432"),
		Name:     getEnvOrDefault("DB_NAME", "fieldsync"),
		User:     getEnvOrDefault("DB_USER", "postgres"),
		Password: getEnvOrDefault("DB_PASSWORD", "postgres"),
		PoolMin:  1,
		PoolMax:  5,
		Channel:  "document_changes_test",
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := Open(ctx, getTestConfig(), logger.Nop())
	if err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func TestOpen_InvalidChannel(t *testing.T) {
	cfg := getTestConfig()
	cfg.Channel = "bad; DROP TABLE documents"

	_, err := Open(context.Background(), cfg, logger.Nop())
	assert.ErrorIs(t, err, ErrInvalidChannel)
}

func TestOpen_InvalidHost(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	cfg := getTestConfig()
	cfg.Host = "invalid-host-that-does-not-exist"

	_, err := Open(ctx, cfg, logger.Nop())
	assert.Error(t, err)
}

func TestUpsert_MergeKeepsRemoteFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	collection := "test_" + uuid.NewString()

	require.NoError(t, s.Upsert(ctx, collection, "PRM_1", map[string]any{"a": 1, "b": "keep"}, remote.UpsertOptions{}))
	require.NoError(t, s.Upsert(ctx, collection, "PRM_1", map[string]any{"a": 2}, remote.UpsertOptions{Merge: true}))

	raw, err := loadOne(ctx, s.Pool, collection, "PRM_1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2,"b":"keep"}`, string(raw))

	require.NoError(t, s.Delete(ctx, collection, "PRM_1"))
	raw, err = loadOne(ctx, s.Pool, collection, "PRM_1")
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestSubscribe_InitialAndLiveChanges(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	collection := "test_" + uuid.NewString()
	doc := func(wb string) map[string]any {
		return map[string]any{"parents": map[string]any{"lmPcode": wb}}
	}

	require.NoError(t, s.Upsert(ctx, collection, "PRM_0", doc("ZA1048"), remote.UpsertOptions{}))

	var (
		mu      sync.Mutex
		batches [][]remote.Change
	)
	sub, err := s.Subscribe(ctx, remote.Query{Collection: collection, Field: "parents.lmPcode", Value: "ZA1048"},
		func(c []remote.Change) {
			mu.Lock()
			defer mu.Unlock()
			batches = append(batches, c)
		})
	require.NoError(t, err)
	defer sub.Close()

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(batches)
	}
	require.Eventually(t, func() bool { return count() == 1 }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Upsert(ctx, collection, "PRM_1", doc("ZA1048"), remote.UpsertOptions{}))
	require.NoError(t, s.Upsert(ctx, collection, "PRM_2", doc("ZA2000"), remote.UpsertOptions{}))
	require.NoError(t, s.Delete(ctx, collection, "PRM_0"))
	require.Eventually(t, func() bool { return count() == 3 }, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches[0], 1)
	assert.Equal(t, "PRM_0", batches[0][0].ID)
	assert.Equal(t, remote.ChangeAdded, batches[1][0].Type)
	assert.Equal(t, "PRM_1", batches[1][0].ID)
	assert.Equal(t, remote.ChangeRemoved, batches[2][0].Type)
	assert.Equal(t, "PRM_0", batches[2][0].ID)
}
