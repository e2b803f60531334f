package kv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/atlas/fieldsync/internal/config"
)

// storeFactories builds one fresh Store per backend.
func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"sqlite": func() Store {
			s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "kv", "test.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"redis": func() Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			s := NewRedisStore(client, "test")
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()

	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("missing key", func(t *testing.T) {
				s := factory()
				_, err := s.Get(ctx, NamespaceGeo, "nope")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("set get overwrite", func(t *testing.T) {
				s := factory()
				require.NoError(t, s.Set(ctx, NamespaceGeo, "k", "v1"))
				require.NoError(t, s.Set(ctx, NamespaceGeo, "k", "v2"))

				got, err := s.Get(ctx, NamespaceGeo, "k")
				require.NoError(t, err)
				assert.Equal(t, "v2", got)
			})

			t.Run("namespaces are isolated", func(t *testing.T) {
				s := factory()
				require.NoError(t, s.Set(ctx, NamespaceErfShards, "ZA1048", "erfs"))
				require.NoError(t, s.Set(ctx, NamespacePremiseShards, "ZA1048", "premises"))

				got, err := s.Get(ctx, NamespaceErfShards, "ZA1048")
				require.NoError(t, err)
				assert.Equal(t, "erfs", got)

				require.NoError(t, s.ClearAll(ctx, NamespaceErfShards))
				_, err = s.Get(ctx, NamespaceErfShards, "ZA1048")
				assert.ErrorIs(t, err, ErrNotFound)

				got, err = s.Get(ctx, NamespacePremiseShards, "ZA1048")
				require.NoError(t, err)
				assert.Equal(t, "premises", got)
			})

			t.Run("set multi", func(t *testing.T) {
				s := factory()
				require.NoError(t, s.SetMulti(ctx, NamespaceErfShards, map[string]string{
					"ZA1048":          "[]",
					"ZA1048:geometry": "{}",
				}))
				require.NoError(t, s.SetMulti(ctx, NamespaceErfShards, nil))

				a, err := s.Get(ctx, NamespaceErfShards, "ZA1048")
				require.NoError(t, err)
				b, err := s.Get(ctx, NamespaceErfShards, "ZA1048:geometry")
				require.NoError(t, err)
				assert.Equal(t, "[]", a)
				assert.Equal(t, "{}", b)
			})

			t.Run("delete", func(t *testing.T) {
				s := factory()
				require.NoError(t, s.Set(ctx, NamespaceGeo, "k", "v"))
				require.NoError(t, s.Delete(ctx, NamespaceGeo, "k"))
				require.NoError(t, s.Delete(ctx, NamespaceGeo, "k"), "deleting a missing key is not an error")

				_, err := s.Get(ctx, NamespaceGeo, "k")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("ping", func(t *testing.T) {
				assert.NoError(t, factory().Ping(ctx))
			})
		})
	}
}

func TestSQLiteStore_Durable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "durable.db")

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, NamespaceGeo, "session_selection", `{"municipality":{"id":"ZA1048"}}`))
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, NamespaceGeo, "session_selection")
	require.NoError(t, err)
	assert.Equal(t, `{"municipality":{"id":"ZA1048"}}`, got)
}

func TestRedisStore_UsesPrefixedHash(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "fieldsync")
	defer s.Close()

	require.NoError(t, s.Set(ctx, NamespaceGeo, "session_selection", "x"))
	assert.Equal(t, "x", mr.HGet("fieldsync:geo", "session_selection"))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.StoreConfig{Driver: config.KVDriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, config.StoreConfig{Driver: config.KVDriverSQLite, Path: filepath.Join(t.TempDir(), "a.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	s.Close()

	mr := miniredis.RunT(t)
	s, err = Open(ctx, config.StoreConfig{Driver: config.KVDriverRedis, RedisAddr: mr.Addr(), RedisPrefix: "p"})
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, s)
	s.Close()

	_, err = Open(ctx, config.StoreConfig{Driver: "bolt"})
	assert.ErrorIs(t, err, ErrUnknownDriver)
}
