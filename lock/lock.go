// Package lock implements the priority-based preemption lock (spec §4.4,
// component C4): a nullable (owner-agent-id, deadline, reason) triple
// that serializes command execution and can be seized by a
// higher-priority agent. Adapted from the teacher's
// control_plane/coordination/leader.go epoch/renew loop, stripped of its
// distributed-lease machinery (store.Coordinator, durable epoch, fencing
// context) since the hub owns its single browser in-process — there is
// nothing to fence against beyond the in-memory owner field.
package lock

import (
	"sync"
	"time"
)

// State is a snapshot of the lock for callers that only need to read it
// (health endpoint, debug snapshot).
type State struct {
	Held      bool
	OwnerID   string
	Reason    string
	ExpiresAt time.Time
}

// Lock is a single mutex-guarded owner slot. It never blocks a caller —
// TryAcquire either returns immediately with the outcome, or the caller
// is told to keep polling via its own queue logic.
type Lock struct {
	mu        sync.Mutex
	ownerID   string
	priority  int
	reason    string
	expiresAt time.Time
	acquiredAt time.Time
}

// New returns a free lock.
func New() *Lock {
	return &Lock{}
}

// TryAcquire implements spec §4.4 "Acquisition (hijack)": if the lock is
// free, agentID becomes owner. If held, the request succeeds only if
// priority is strictly numerically less (higher precedence) than the
// current owner's, in which case the current owner is preempted;
// otherwise the call is a silent refusal (acquired=false, preemptedOwner="").
func (l *Lock) TryAcquire(agentID string, priority int, reason string, ttl time.Duration, now time.Time) (acquired bool, preemptedOwner string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ownerID == "" || now.After(l.expiresAt) {
		l.set(agentID, priority, reason, ttl, now)
		return true, ""
	}
	if priority < l.priority {
		previousOwner := l.ownerID
		l.set(agentID, priority, reason, ttl, now)
		return true, previousOwner
	}
	return false, ""
}

func (l *Lock) set(agentID string, priority int, reason string, ttl time.Duration, now time.Time) {
	l.ownerID = agentID
	l.priority = priority
	l.reason = reason
	l.acquiredAt = now
	l.expiresAt = now.Add(ttl)
}

// Release clears the lock if it is currently held by agentID. It is a
// no-op (returns false) if agentID is not the owner — a stale resume from
// an agent that already lost the lock must not clobber the new owner.
func (l *Lock) Release(agentID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ownerID != agentID {
		return false
	}
	l.clear()
	return true
}

// ForceRelease clears the lock unconditionally — used by TTL expiry sweep
// and owner-disconnect eviction (spec §4.4 "Release").
func (l *Lock) ForceRelease() (wasHeld bool, ownerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ownerID == "" {
		return false, ""
	}
	ownerID = l.ownerID
	l.clear()
	return true, ownerID
}

func (l *Lock) clear() {
	l.ownerID = ""
	l.priority = 0
	l.reason = ""
	l.acquiredAt = time.Time{}
	l.expiresAt = time.Time{}
}

// Expired reports whether a currently-held lock's deadline has passed as
// of now.
func (l *Lock) Expired(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ownerID != "" && now.After(l.expiresAt)
}

// Holder returns the current owner id and whether the lock is held.
func (l *Lock) Holder() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ownerID, l.ownerID != ""
}

// HeldBy reports whether agentID is the current owner.
func (l *Lock) HeldBy(agentID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ownerID != "" && l.ownerID == agentID
}

// Snapshot returns a read-only view of the lock's state.
func (l *Lock) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return State{
		Held:      l.ownerID != "",
		OwnerID:   l.ownerID,
		Reason:    l.reason,
		ExpiresAt: l.expiresAt,
	}
}

// HeldSince returns the acquisition time and whether the lock is held —
// used for ROI accounting of hijack duration (spec §4.4 "acquisition...
// the lock start time is recorded for ROI accounting").
func (l *Lock) HeldSince() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquiredAt, l.ownerID != ""
}
