package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stwalsh4118/atlas/fieldsync/internal/remote"
)

const unlistenTimeout = 2 * time.Second

// notification is the payload published by notify_document_change.
type notification struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Op         string `json:"op"`
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

// Subscribe pins one pooled connection, LISTENs on the store's channel and
// delivers the current matching set as a single added batch. Every later
// notification for q.Collection is resolved against the filter and the ids
// already delivered. Errors after the initial load end the subscription and
// are logged; the caller re-subscribes to recover.
func (s *Store) Subscribe(ctx context.Context, q remote.Query, onBatch func([]remote.Change)) (remote.Subscription, error) {
	conn, err := s.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire listener connection: %w: %w", remote.ErrUnavailable, err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+s.channel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen on %s: %w", s.channel, err)
	}

	// LISTEN comes first so no write between the snapshot and the loop is lost.
	initial, err := loadMatching(ctx, conn, q)
	if err != nil {
		s.releaseListener(conn)
		return nil, err
	}

	seen := make(map[string]struct{}, len(initial))
	for _, c := range initial {
		seen[c.ID] = struct{}{}
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		defer s.releaseListener(conn)

		onBatch(initial)
		s.listen(subCtx, conn, q, seen, onBatch)
	}()

	return sub, nil
}

func (s *Store) listen(ctx context.Context, conn *pgxpool.Conn, q remote.Query, seen map[string]struct{}, onBatch func([]remote.Change)) {
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Error("Subscription ended", err, map[string]interface{}{
					"collection": q.Collection,
					"field":      q.Field,
					"value":      q.Value,
				})
			}
			return
		}

		var msg notification
		if err := json.Unmarshal([]byte(n.Payload), &msg); err != nil {
			s.log.Warn("Ignoring malformed notification", map[string]interface{}{
				"payload": n.Payload,
				"error":   err.Error(),
			})
			continue
		}
		if msg.Collection != q.Collection {
			continue
		}

		var data []byte
		if msg.Op != "DELETE" {
			data, err = loadOne(ctx, conn, msg.Collection, msg.ID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.log.Error("Failed to read changed document", err, map[string]interface{}{
					"collection": msg.Collection,
					"id":         msg.ID,
				})
				continue
			}
		}

		matches := data != nil && remote.Matches(data, q.Field, q.Value)
		typ, ok := remote.Resolve(seen, msg.ID, matches)
		if !ok {
			continue
		}

		change := remote.Change{Type: typ, ID: msg.ID}
		if typ != remote.ChangeRemoved {
			change.Raw = data
		}
		onBatch([]remote.Change{change})
	}
}

// releaseListener returns the connection to the pool. A connection broken by
// cancellation is destroyed by the pool instead of being reused.
func (s *Store) releaseListener(conn *pgxpool.Conn) {
	if !conn.Conn().IsClosed() {
		ctx, cancel := context.WithTimeout(context.Background(), unlistenTimeout)
		defer cancel()
		if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			s.log.Warn("Failed to unlisten", map[string]interface{}{"error": err.Error()})
		}
	}
	conn.Release()
}
