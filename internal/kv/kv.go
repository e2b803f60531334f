// Package kv provides the durable, process-local key-value store that every
// on-device cache in fieldsync persists through. Keys live inside named
// namespaces; each namespace is owned by exactly one repository by convention.
package kv

import (
	"context"
	"errors"
)

// Namespaces used by the engine.
const (
	NamespaceAuth          = "auth"
	NamespaceGeo           = "geo"
	NamespaceForms         = "forms"
	NamespaceUI            = "ui"
	NamespaceErfShards     = "erf-shards"
	NamespacePremiseShards = "premise-shards"
)

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("kv: key not found")
	// ErrUnknownDriver is returned by Open for an unsupported driver name.
	ErrUnknownDriver = errors.New("kv: unknown driver")
)

// Store is a synchronous namespaced key→string store.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, namespace, key string) (string, error)
	Set(ctx context.Context, namespace, key, value string) error
	// SetMulti writes every entry or none of them.
	SetMulti(ctx context.Context, namespace string, entries map[string]string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, namespace, key string) error
	// ClearAll removes every key in namespace.
	ClearAll(ctx context.Context, namespace string) error
	Ping(ctx context.Context) error
	Close() error
}
