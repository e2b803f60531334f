// Package postgres implements the remote document store on PostgreSQL:
// documents live in one jsonb table and a trigger publishes every write on
// a LISTEN/NOTIFY channel, which subscriptions turn into change batches.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stwalsh4118/atlas/fieldsync/internal/config"
	"github.com/stwalsh4118/atlas/fieldsync/internal/logger"
	"github.com/stwalsh4118/atlas/fieldsync/internal/remote"
)

var channelPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ErrInvalidChannel is returned for a channel name that is not a plain
// lower-case identifier.
var ErrInvalidChannel = errors.New("postgres: invalid notification channel")

// Store wraps the pgx connection pool.
type Store struct {
	Pool    *pgxpool.Pool
	channel string
	log     *logger.Logger
}

var _ remote.Store = (*Store)(nil)

// Open creates a connection pool from cfg, tests the connection and
// returns a Store publishing on cfg.Channel.
func Open(ctx context.Context, cfg config.RemoteConfig, log *logger.Logger) (*Store, error) {
	if !channelPattern.MatchString(cfg.Channel) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, cfg.Channel)
	}

	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Name,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MinConns = int32(cfg.PoolMin)
	// every live subscription pins one connection for LISTEN
	poolConfig.MaxConns = int32(cfg.PoolMax)

	poolConfig.ConnConfig.ConnectTimeout = 5 * time.Second
	poolConfig.MaxConnIdleTime = 30 * time.Second
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w: %w", remote.ErrUnavailable, err)
	}

	return New(pool, cfg.Channel, log), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, channel string, log *logger.Logger) *Store {
	return &Store{Pool: pool, channel: channel, log: log.WithComponent("remote.postgres")}
}

// EnsureSchema creates the documents table and its notify trigger.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if !channelPattern.MatchString(s.channel) {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, s.channel)
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			data JSONB NOT NULL DEFAULT '{}'::jsonb,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (collection, id)
		)`,
		`CREATE OR REPLACE FUNCTION notify_document_change() RETURNS trigger AS $$
		DECLARE
			rec RECORD;
		BEGIN
			IF TG_OP = 'DELETE' THEN
				rec := OLD;
			ELSE
				rec := NEW;
			END IF;
			PERFORM pg_notify(TG_ARGV[0], json_build_object(
				'collection', rec.collection,
				'id', rec.id,
				'op', TG_OP
			)::text);
			RETURN NULL;
		END;
		$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS documents_notify ON documents`,
		fmt.Sprintf(`CREATE TRIGGER documents_notify
			AFTER INSERT OR UPDATE OR DELETE ON documents
			FOR EACH ROW EXECUTE FUNCTION notify_document_change('%s')`, s.channel),
	}

	for _, stmt := range statements {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// Upsert writes doc. With Merge the stored document is combined with doc
// using jsonb concatenation, so top-level fields doc omits survive.
func (s *Store) Upsert(ctx context.Context, collection, id string, doc any, opts remote.UpsertOptions) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
	}

	query := `
		INSERT INTO documents (collection, id, data, updated_at)
		VALUES ($1, $2, $3::jsonb, now())
		ON CONFLICT (collection, id) DO UPDATE
		SET data = EXCLUDED.data, updated_at = now()
	`
	if opts.Merge {
		query = `
			INSERT INTO documents (collection, id, data, updated_at)
			VALUES ($1, $2, $3::jsonb, now())
			ON CONFLICT (collection, id) DO UPDATE
			SET data = documents.data || EXCLUDED.data, updated_at = now()
		`
	}

	if _, err := s.Pool.Exec(ctx, query, collection, id, string(data)); err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w: %w", collection, id, remote.ErrUnavailable, err)
	}
	return nil
}

// Delete removes a document. Deleting a missing document is not an error.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.Pool.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Ping checks if the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

// Close gracefully closes the connection pool.
// It waits for all connections to be returned to the pool before closing.
func (s *Store) Close() error {
	if s.Pool != nil {
		s.Pool.Close()
	}
	return nil
}

// Stats returns statistics about the connection pool.
func (s *Store) Stats() *pgxpool.Stat {
	if s.Pool == nil {
		return nil
	}
	return s.Pool.Stat()
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// loadMatching returns the documents of q's collection whose field equals
// q.Value, ordered by id.
func loadMatching(ctx context.Context, db queryer, q remote.Query) ([]remote.Change, error) {
	rows, err := db.Query(ctx, `
		SELECT id, data::text
		FROM documents
		WHERE collection = $1 AND data #>> $2 = $3
		ORDER BY id
	`, q.Collection, remote.SplitPath(q.Field), q.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	changes := []remote.Change{}
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", q.Collection, err)
		}
		changes = append(changes, remote.Change{Type: remote.ChangeAdded, ID: id, Raw: []byte(data)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", q.Collection, err)
	}
	return changes, nil
}

// loadOne returns a document, or nil when it does not exist.
func loadOne(ctx context.Context, db queryer, collection, id string) ([]byte, error) {
	var data string
	err := db.QueryRow(ctx, `SELECT data::text FROM documents WHERE collection = $1 AND id = $2`, collection, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return []byte(data), nil
}
