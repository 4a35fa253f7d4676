// Package registry implements the agent registry and handshake state
// machine (spec §4.2, component C2): registration, challenge/nonce
// handshake, heartbeat-driven eviction, and the two admission lanes that
// let mission-client methods bypass the sentinel handshake guard (spec §9
// "Sentinel vs. client origin").
package registry

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/starlighthub/sentinel-hub/auth"
	"github.com/starlighthub/sentinel-hub/observability"
)

var (
	// ErrAuthMismatch is returned when a configured shared token does not
	// match the token presented at registration.
	ErrAuthMismatch = errors.New("registry: auth token mismatch")
	// ErrBadNonce is returned when a challenge_response does not echo the
	// issued nonce.
	ErrBadNonce = errors.New("registry: nonce mismatch")
	// ErrUnknownAgent is returned for operations referencing an agent id
	// the registry has no record of.
	ErrUnknownAgent = errors.New("registry: unknown agent")
	// ErrNotReady is the policy violation for a message sent by an agent
	// whose state does not permit the given method (spec §3 invariant 3).
	ErrNotReady = errors.New("registry: agent is not READY")
)

// relevantThreshold is the priority cutoff for "relevant agents" in a
// consensus round (spec §4.3: "priority <= 10").
const relevantThreshold = 10

// clientOriginAllowlist are methods a mission client may send before (and
// regardless of) any handshake — clients never complete the agent
// challenge flow at all.
var clientOriginAllowlist = map[string]bool{
	"intent":           true,
	"finish":           true,
	"getPageContext":   true,
	"startRecording":   true,
	"stopRecording":    true,
	"recordingStatus":  true,
}

// unaddressedLiveness are notifications the gateway accepts from any
// connection regardless of handshake state.
var unaddressedLiveness = map[string]bool{
	"pulse":          true,
	"pong":           true,
	"context_update": true,
}

// handshakeMethods are the only two methods a non-READY agent may send.
var handshakeMethods = map[string]bool{
	"registration":       true,
	"challenge_response": true,
}

// Registry tracks every connected agent and enforces the handshake state
// machine. All mutation goes through a single mutex: the registry is
// small and short-held, so a coarse lock (matching the teacher's
// LeaderElector/Scheduler style) is simpler than sharding by agent id.
type Registry struct {
	mu        sync.RWMutex
	agents    map[string]*Agent
	authToken string
	idCounter uint64
}

// New returns an empty registry. authToken, if non-empty, must be
// presented verbatim at registration.
func New(authToken string) *Registry {
	return &Registry{
		agents:    make(map[string]*Agent),
		authToken: authToken,
	}
}

func (r *Registry) nextID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("registry: failed to generate agent id: %w", err)
	}
	r.mu.Lock()
	r.idCounter++
	seq := r.idCounter
	r.mu.Unlock()
	return fmt.Sprintf("agent-%x-%d", hex.EncodeToString(buf)[:8], seq), nil
}

// Register admits a new connection as UNAUTHENTICATED and immediately
// advances it to CHALLENGE_PENDING, issuing a fresh nonce (spec §4.2). The
// shared token, if configured, is validated here.
func (r *Registry) Register(conn Conn, layer string, priority int, capabilities, selectors []string, presentedToken string) (*Agent, error) {
	if !auth.CheckToken(r.authToken, presentedToken) {
		return nil, ErrAuthMismatch
	}

	id, err := r.nextID()
	if err != nil {
		return nil, err
	}
	nonce, err := auth.NewNonce()
	if err != nil {
		return nil, fmt.Errorf("registry: failed to issue nonce: %w", err)
	}

	caps := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		caps[c] = true
	}
	sels := make(map[string]bool, len(selectors))
	for _, s := range selectors {
		sels[s] = true
	}

	agent := &Agent{
		ID:           id,
		Layer:        layer,
		Priority:     priority,
		Capabilities: caps,
		Selectors:    sels,
		State:        ChallengePending,
		Nonce:        nonce,
		LastSeen:     time.Now(),
		Conn:         conn,
	}

	r.mu.Lock()
	r.agents[id] = agent
	r.mu.Unlock()

	log.Printf("Registry: agent %s (%s, priority %d) registered, awaiting challenge response", id, layer, priority)
	return agent, nil
}

// ChallengeResponse validates response against the issued nonce and
// transitions the agent to READY. A duplicate call on an already-READY
// agent is ignored (idempotent), matching spec §8's round-trip law.
func (r *Registry) ChallengeResponse(agentID, response string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return false, ErrUnknownAgent
	}
	if agent.State == Ready {
		return true, nil // idempotent: duplicate response is a no-op
	}
	if agent.State != ChallengePending {
		return false, ErrNotReady
	}
	if !auth.CheckNonce(agent.Nonce, response) {
		return false, ErrBadNonce
	}

	agent.State = Ready
	agent.LastSeen = time.Now()
	observability.ConnectedAgents.Set(float64(r.countReadyLocked()))
	log.Printf("Registry: agent %s is now READY", agentID)
	return true, nil
}

func (r *Registry) countReadyLocked() int {
	n := 0
	for _, a := range r.agents {
		if a.State == Ready {
			n++
		}
	}
	return n
}

// Touch refreshes an agent's liveness timestamp on any inbound message,
// not just explicit pulse/pong, matching the spec's "lastSeen" wording.
func (r *Registry) Touch(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if agent, ok := r.agents[agentID]; ok {
		agent.LastSeen = time.Now()
	}
}

// Get returns the agent by id.
func (r *Registry) Get(agentID string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	return a, ok
}

// Remove deletes the agent (disconnect or eviction) and reports whether it
// was previously READY, so callers can decide whether to broadcast
// agent_left.
func (r *Registry) Remove(agentID string) (wasReady bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[agentID]
	if !ok {
		return false
	}
	wasReady = agent.State == Ready
	delete(r.agents, agentID)
	observability.ConnectedAgents.Set(float64(r.countReadyLocked()))
	return wasReady
}

// ListReady returns a snapshot of every READY agent, used both for the
// "newly connected peer learns who is already READY" broadcast and for
// /health.
func (r *Registry) ListReady() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Summary, 0, len(r.agents))
	for _, a := range r.agents {
		if a.State == Ready {
			out = append(out, a.Summary())
		}
	}
	return out
}

// RelevantAgent is the projection the consensus engine needs: identity,
// priority (for ordering broadcasts highest-priority-first) and whether it
// advertises a capability relevant to pre-check payload enrichment.
type RelevantAgent struct {
	ID           string
	Priority     int
	Capabilities map[string]bool
	Selectors    map[string]bool
	Conn         Conn
}

// RelevantAgents returns every READY agent with priority <= 10 (spec
// §4.3), ordered by ascending Priority number. A lower number is higher
// precedence, so this is the highest-priority-first order broadcasts are
// delivered in (spec §5).
func (r *Registry) RelevantAgents() []RelevantAgent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RelevantAgent, 0, len(r.agents))
	for _, a := range r.agents {
		if a.State != Ready || a.Priority > relevantThreshold {
			continue
		}
		out = append(out, RelevantAgent{
			ID:           a.ID,
			Priority:     a.Priority,
			Capabilities: a.Capabilities,
			Selectors:    a.Selectors,
			Conn:         a.Conn,
		})
	}
	sortByPriorityAsc(out)
	return out
}

// GetSummary returns the Summary projection of agentID, if known.
func (r *Registry) GetSummary(agentID string) (Summary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	if !ok {
		return Summary{}, false
	}
	return a.Summary(), true
}

// BroadcastReady sends v to every currently READY agent's connection,
// ignoring individual send errors (a dead peer will be cleaned up by the
// heartbeat supervisor, not by a broadcast failure).
func (r *Registry) BroadcastReady(v interface{}) {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.agents))
	for _, a := range r.agents {
		if a.State == Ready {
			conns = append(conns, a.Conn)
		}
	}
	r.mu.RUnlock()
	for _, c := range conns {
		_ = c.Send(v)
	}
}

func sortByPriorityAsc(agents []RelevantAgent) {
	for i := 1; i < len(agents); i++ {
		j := i
		for j > 0 && agents[j-1].Priority > agents[j].Priority {
			agents[j-1], agents[j] = agents[j], agents[j-1]
			j--
		}
	}
}

// CheckAdmission enforces spec §3 invariant 3 and §4.2's two handshake
// exceptions, returning ErrNotReady if method is not permitted for an
// agent in state.
func CheckAdmission(state State, method string) error {
	if state == Ready {
		return nil
	}
	if handshakeMethods[method] {
		return nil
	}
	if unaddressedLiveness[method] {
		return nil
	}
	if clientOriginAllowlist[method] {
		return nil
	}
	return ErrNotReady
}

// IsClientOrigin reports whether method belongs to the small allowlist of
// client (not agent) interactions. CheckAdmission consults the same
// allowlist; the gateway admits envelopes through CheckAdmission and does
// not call IsClientOrigin.
func IsClientOrigin(method string) bool {
	return clientOriginAllowlist[method]
}
