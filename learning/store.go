// Package learning implements the learning & audit store (spec §4.5,
// component C5): an in-memory goal→selector map with atomic persistent
// merge, a ghost-latency map, aura (historical instability) tracking, and
// a bounded mission trace ring buffer.
package learning

import (
	"fmt"
	"sync"
	"time"

	"github.com/starlighthub/sentinel-hub/store"
)

const memoryFile = "memory.json"

// Store holds the two maps described in spec §3: resolved selectors keyed
// by (cmd, goal) — falling back to bare goal — and observed settlement
// latencies ("ghosts") keyed by (cmd, selector). Grounded on the
// teacher's idempotency.Store in-memory/backend split, simplified to a
// single in-memory map with file-backed persistence since the spec has no
// durable-backend requirement for this map, only atomic local save.
type Store struct {
	mu       sync.Mutex
	goals    map[string]string
	ghosts   map[string]int64
	files    *store.FileStore
}

// New returns an empty Store backed by files for persistence.
func New(files *store.FileStore) *Store {
	return &Store{
		goals:  make(map[string]string),
		ghosts: make(map[string]int64),
		files:  files,
	}
}

func goalKey(cmd, goal string) string {
	return cmd + ":" + goal
}

func ghostKey(cmd, selector string) string {
	return cmd + ":" + selector
}

// Lookup resolves a selector for (cmd, goal), preferring the qualified key
// and falling back to the bare goal (spec §3 "Learning store").
func (s *Store) Lookup(cmd, goal string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sel, ok := s.goals[goalKey(cmd, goal)]; ok {
		return sel, true
	}
	sel, ok := s.goals[goal]
	return sel, ok
}

// LookupBare resolves a selector using only the bare goal. The executor's
// self-healing fallback uses Lookup, which tries the qualified key first.
func (s *Store) LookupBare(goal string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, ok := s.goals[goal]
	return sel, ok
}

// Learn records a successful (cmd, goal) → selector resolution under both
// the qualified and bare keys. A learned mapping is never deleted
// implicitly, only overwritten (spec §3 invariant 5).
func (s *Store) Learn(cmd, goal, selector string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goals[goalKey(cmd, goal)] = selector
	s.goals[goal] = selector
}

// Ghost returns the observed settlement latency for (cmd, selector), if
// any.
func (s *Store) Ghost(cmd, selector string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.ghosts[ghostKey(cmd, selector)]
	return ms, ok
}

// RecordGhost updates the observed settlement latency for (cmd,
// selector), called by the executor when it measures settlement on a
// per-command basis.
func (s *Store) RecordGhost(cmd, selector string, latencyMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ghosts[ghostKey(cmd, selector)] = latencyMs
}

// Load merges memory.json onto the in-memory goal map, ignoring a missing
// or corrupt file (spec §4.5 "Persistence"). Ghost latencies are not
// persisted and start empty on every run.
func (s *Store) Load() error {
	var onDisk map[string]string
	if err := s.files.LoadJSON(memoryFile, &onDisk); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range onDisk {
		if _, exists := s.goals[k]; !exists {
			s.goals[k] = v
		}
	}
	return nil
}

// SaveAtomic acquires the memory mutex within timeout and writes the
// merged map to disk atomically (temp file + rename). If the lock cannot
// be acquired in time, the save is skipped rather than blocking shutdown
// indefinitely (spec §4.5 "acquire the memory mutex with a TTL").
func (s *Store) SaveAtomic(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for !s.mu.TryLock() {
		if time.Now().After(deadline) {
			return fmt.Errorf("learning: could not acquire memory lock within %s", timeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
	defer s.mu.Unlock()

	snapshot := make(map[string]string, len(s.goals))
	for k, v := range s.goals {
		snapshot[k] = v
	}
	return s.files.SaveJSON(memoryFile, snapshot)
}

// Size reports the number of learned goal entries, for the
// LearningStoreSize gauge.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.goals)
}
