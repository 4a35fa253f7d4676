// Package idempotency guards against double-processing a client-retried
// intent (spec §3 "dequeued exactly once" even across a client reconnect
// that resubmits the same command id). Adapted from the teacher's
// control_plane/idempotency.Store, which cached an HTTP response body
// behind a Get/Set pair; collapsed here to a single atomic check-and-set
// since the hub has no HTTP response to replay, only a boolean "already
// submitted" guard.
package idempotency

import (
	"context"
	"log"
	"time"

	"github.com/starlighthub/sentinel-hub/store"
)

const defaultTTL = 24 * time.Hour
const keyPrefix = "intent:"

// Store is a command-id dedupe guard backed by any store.Backend (memory,
// file-adjacent redis, or postgres), matching the learning store's own
// backend-selection story.
type Store struct {
	backend store.Backend
	ttl     time.Duration
}

// New returns a Store backed by backend with the default 24h retention.
func New(backend store.Backend) *Store {
	return &Store{backend: backend, ttl: defaultTTL}
}

// Seen reports whether id was already recorded by an earlier call, and
// records it if not — a single SetNX round trip rather than the teacher's
// separate Get-then-Set, since there is no cached payload to read back.
func (s *Store) Seen(ctx context.Context, id string) bool {
	wasSet, err := s.backend.SetNX(ctx, keyPrefix+id, "1", s.ttl)
	if err != nil {
		log.Printf("Idempotency: backend error recording %s: %v", id, err)
		return false
	}
	return !wasSet
}
