// Package store provides the persistence backends: FileStore for the
// learning store's memory.json and the mission trace's trace.json, and the
// Backend implementations used by the command-id dedupe guard. It is adapted from the teacher's
// store package, which offered Memory/Redis/Postgres implementations of a
// single Store interface; here the interface is narrowed to the simple
// key/value + atomic-file contract the hub actually needs.
package store

import (
	"context"
	"time"
)

// Backend is a swappable key/value persistence layer. Redis and Postgres
// backends implement it for deployments that want the idempotency dedupe
// guard to survive a hub restart; the default is the in-memory backend.
// The learning store does not use Backend: it persists through FileStore
// to the two mandated JSON files (memory.json, trace.json).
type Backend interface {
	// Get returns the stored value and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key, optionally with a TTL (zero = no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value under key only if it does not already exist,
	// returning whether the set happened. Used for command-id dedupe.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Scan returns every key with the given prefix. No hub component
	// calls it.
	Scan(ctx context.Context, prefix string) (map[string]string, error)
	Close() error
}
