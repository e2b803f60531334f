// Package remote defines the boundary to the cloud document store: a
// filtered real-time change feed per collection and a merge-capable writer.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	gojson "github.com/goccy/go-json"
)

// Collections held by the remote store.
const (
	CollectionParcels  = "erfs"
	CollectionPremises = "premises"
)

var (
	// ErrClosed is returned when a store is used after Close.
	ErrClosed = errors.New("remote: store closed")
	// ErrUnavailable is returned when the remote cannot be reached.
	ErrUnavailable = errors.New("remote: unavailable")
)

// ChangeType tags a change record.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// Change is one entry of a notification batch. Raw is empty for removals.
type Change struct {
	Type ChangeType      `json:"type"`
	ID   string          `json:"id"`
	Raw  json.RawMessage `json:"raw,omitempty"`
}

// Query selects documents of Collection whose dotted Field equals Value.
type Query struct {
	Collection string
	Field      string
	Value      string
}

// Subscription is a live change feed.
type Subscription interface {
	Close() error
}

// Source opens filtered change feeds. onBatch receives the current matching
// set as one added batch first, then every later change, in emission order.
// Batches for one subscription are never delivered concurrently.
type Source interface {
	Subscribe(ctx context.Context, q Query, onBatch func([]Change)) (Subscription, error)
}

// UpsertOptions controls how Upsert treats an existing document.
type UpsertOptions struct {
	// Merge keeps top-level fields of the stored document that doc omits.
	Merge bool
}

// Writer writes documents.
type Writer interface {
	Upsert(ctx context.Context, collection, id string, doc any, opts UpsertOptions) error
}

// Store is a full remote backend.
type Store interface {
	Source
	Writer
	Delete(ctx context.Context, collection, id string) error
	Ping(ctx context.Context) error
	Close() error
}

// SplitPath splits a dotted field path into its segments.
func SplitPath(field string) []string {
	if field == "" {
		return nil
	}
	return strings.Split(field, ".")
}

// Lookup walks a dotted path through a decoded JSON object.
func Lookup(doc map[string]any, field string) (any, bool) {
	var cur any = doc
	for _, seg := range SplitPath(field) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[seg]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Matches reports whether the document's field is a string equal to value.
// Documents that fail to decode never match.
func Matches(raw []byte, field, value string) bool {
	var doc map[string]any
	if err := gojson.Unmarshal(raw, &doc); err != nil {
		return false
	}
	v, ok := Lookup(doc, field)
	if !ok {
		return false
	}
	s, ok := v.(string)
	return ok && s == value
}

// Resolve classifies a document write for a subscriber that has already seen
// the ids in seen. It returns false when the subscriber should not be told.
func Resolve(seen map[string]struct{}, id string, matches bool) (ChangeType, bool) {
	_, known := seen[id]
	switch {
	case matches && known:
		return ChangeModified, true
	case matches:
		seen[id] = struct{}{}
		return ChangeAdded, true
	case known:
		delete(seen, id)
		return ChangeRemoved, true
	default:
		return "", false
	}
}
