package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/starlighthub/sentinel-hub/consensus"
	"github.com/starlighthub/sentinel-hub/driver"
	"github.com/starlighthub/sentinel-hub/learning"
	"github.com/starlighthub/sentinel-hub/observability"
	"github.com/starlighthub/sentinel-hub/pipeline"
	"github.com/starlighthub/sentinel-hub/queue"
	"github.com/starlighthub/sentinel-hub/redact"
	"github.com/starlighthub/sentinel-hub/registry"
)

// upgrader accepts any origin, matching the teacher's local-dev CORS
// stance (control_plane/api_stream.go) — origin policy belongs to a
// reverse proxy in front of the hub, not the hub itself.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Dedup guards against a client reconnect resubmitting the same intent id
// (spec §3 "dequeued exactly once"). Implemented by idempotency.Store;
// kept as a narrow interface here so the gateway does not need to import
// the dedupe package's backend-selection concerns.
type Dedup interface {
	// Seen records id as submitted and reports whether it was already
	// seen before this call.
	Seen(ctx context.Context, id string) bool
}

// Server is the transport & protocol gateway (C1). It owns no coordination
// state itself; every method handler is a thin translation into a call on
// the registry, consensus engine, execution pipeline, or learning store.
type Server struct {
	registry  *registry.Registry
	consensus *consensus.Engine
	executor  *pipeline.Executor
	store     *learning.Store
	trace     *learning.Trace
	redactor  redact.Redactor
	dedup     Dedup
	heartbeatInterval time.Duration

	pendingMu sync.Mutex
	pending   map[string]registry.Conn // commandID -> originating client conn

	idMu      sync.Mutex
	idCounter uint64
}

// NewServer wires a gateway Server. redactor may be nil, in which case a
// Basic redactor is used. dedup may be nil, in which case every intent is
// treated as new (no durable dedupe guard).
func NewServer(reg *registry.Registry, ce *consensus.Engine, exec *pipeline.Executor, store *learning.Store, trace *learning.Trace, redactor redact.Redactor, dedup Dedup, heartbeatInterval time.Duration) *Server {
	if redactor == nil {
		redactor = redact.NewBasic()
	}
	return &Server{
		registry:          reg,
		consensus:         ce,
		executor:          exec,
		store:             store,
		trace:             trace,
		redactor:          redactor,
		dedup:             dedup,
		heartbeatInterval: heartbeatInterval,
		pending:           make(map[string]registry.Conn),
	}
}

// SetExecutor wires the execution pipeline after construction, resolving
// the circular dependency between Server (which calls Hijack/Resume/
// Action on the executor) and Executor (which calls PreCheck/
// CommandComplete on the Server as its pipeline.Notifier): the hub
// constructs the Server first with a nil executor, builds the Executor
// passing the Server as notifier, then calls SetExecutor.
func (s *Server) SetExecutor(exec *pipeline.Executor) {
	s.executor = exec
}

// NotifyAgentLeft broadcasts agent_left for a heartbeat-evicted agent.
// Lock release is the hub's responsibility (it owns the Supervisor/
// Executor wiring); this only handles the broadcast half.
func (s *Server) NotifyAgentLeft(agentID string) {
	s.registry.BroadcastReady(notification("agent_left", map[string]string{"id": agentID}))
}

// NotifyLockForceReleased broadcasts that the preemption lock was released
// out from under its owner (TTL expiry or heartbeat eviction), so waiting
// agents know they may attempt a fresh hijack.
func (s *Server) NotifyLockForceReleased(ownerID string) {
	s.registry.BroadcastReady(notification("lock_released", map[string]string{"previousOwner": ownerID}))
}

// connState tracks the handshake state of one websocket connection. Agent
// connections progress UNAUTHENTICATED -> CHALLENGE_PENDING -> READY; a
// client connection never acquires an agentID and is routed entirely
// through the client-origin allowlist (spec §9 "two admission lanes").
type connState struct {
	agentID string
	state   registry.State
}

// HandleWS upgrades r to a websocket and runs its read pump until the
// peer disconnects. Grounded on the teacher's handleDashboardStream
// (control_plane/api_stream.go): upgrade, configure read deadline/pong
// handler, start a ping ticker, then block in a read loop.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Gateway: websocket upgrade failed: %v", err)
		return
	}
	conn := newWSConn(raw)
	defer conn.Close()

	raw.SetReadDeadline(time.Now().Add(pongWait))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go s.pingLoop(raw, done)

	st := &connState{state: registry.Unauthenticated}
	defer s.onDisconnect(st)

	for {
		var env Envelope
		if err := raw.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("Gateway: websocket read error: %v", err)
			}
			return
		}
		s.handleEnvelope(r.Context(), conn, st, env)
	}
}

func (s *Server) pingLoop(raw *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			raw.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := raw.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) onDisconnect(st *connState) {
	if st.agentID == "" {
		return
	}
	wasReady := s.registry.Remove(st.agentID)
	if wasReady {
		s.onAgentLeft(st.agentID)
	}
}

func (s *Server) onAgentLeft(agentID string) {
	if released := s.executor.ResumeForEvictedOwner(agentID); released {
		log.Printf("Gateway: lock released on eviction of owner %s", agentID)
	}
	s.registry.BroadcastReady(notification("agent_left", map[string]string{"id": agentID}))
}

// handleEnvelope validates, admits, and routes one inbound envelope (spec
// §4.1 "Routing"). Every envelope that passes validation gets a redacted
// trace summary before admission and routing; a malformed one is rejected
// untraced.
func (s *Server) handleEnvelope(ctx context.Context, conn registry.Conn, st *connState, env Envelope) {
	if !validate(env) {
		_ = conn.Send(errorEnvelope(env.ID, CodeValidation, "malformed envelope"))
		return
	}

	method := bareMethod(env.Method)
	s.traceEnvelope(method, env.Params)

	if st.agentID != "" {
		s.registry.Touch(st.agentID)
	}
	if err := registry.CheckAdmission(st.state, method); err != nil {
		observability.HandshakeRejections.WithLabelValues(method).Inc()
		_ = conn.Send(errorEnvelope(env.ID, CodeHandshake, "method not permitted before READY"))
		return
	}

	switch method {
	case "registration":
		s.handleRegistration(conn, st, env)
	case "challenge_response":
		s.handleChallengeResponse(conn, st, env)
	case "pulse", "pong":
		// liveness only; Touch above already refreshed lastSeen.
	case "context_update":
		s.handleContextUpdate(st, env)
	case "clear":
		s.handleVote(st, env, false)
	case "wait":
		s.handleVote(st, env, true)
	case "hijack":
		s.handleHijack(st, env)
	case "resume":
		s.handleResume(st, env)
	case "action":
		s.handleAction(ctx, st, env)
	case "intent":
		s.handleIntent(ctx, conn, env)
	case "finish":
		s.handleFinish(conn, env)
	case "error":
		s.handleError(st, env)
	case "sidetalk":
		s.registry.BroadcastReady(env)
	case "getPageContext":
		s.handleGetPageContext(ctx, conn, env)
	case "startRecording", "stopRecording":
		_ = conn.Send(resultEnvelope(env.ID, map[string]bool{"ok": true}))
	case "recordingStatus":
		_ = conn.Send(resultEnvelope(env.ID, recordingStatusResult{Recording: false}))
	default:
		_ = conn.Send(errorEnvelope(env.ID, CodeValidation, "unrecognized method"))
	}
}

func (s *Server) traceEnvelope(method string, params json.RawMessage) {
	summary := s.redactor.Redact(string(params))
	const maxSummary = 500
	if len(summary) > maxSummary {
		summary = summary[:maxSummary]
	}
	s.trace.Append(learning.Entry{
		Timestamp:     time.Now(),
		Method:        method,
		ParamsSummary: summary,
	})
}

func (s *Server) handleRegistration(conn registry.Conn, st *connState, env Envelope) {
	var p registrationParams
	if err := json.Unmarshal(env.Params, &p); err != nil {
		_ = conn.Send(errorEnvelope(env.ID, CodeValidation, "malformed registration params"))
		return
	}
	agent, err := s.registry.Register(conn, p.Layer, p.Priority, p.Capabilities, p.Selectors, p.AuthToken)
	if err != nil {
		conn.Close()
		return
	}
	st.agentID = agent.ID
	st.state = registry.ChallengePending
	_ = conn.Send(resultEnvelope(env.ID, registrationResult{
		AssignedID:        agent.ID,
		ProtocolVersion:   protocolVersion,
		Challenge:         agent.Nonce,
		HeartbeatInterval: s.heartbeatInterval.Milliseconds(),
	}))
}

func (s *Server) handleChallengeResponse(conn registry.Conn, st *connState, env Envelope) {
	var p challengeResponseParams
	if err := json.Unmarshal(env.Params, &p); err != nil {
		_ = conn.Send(errorEnvelope(env.ID, CodeValidation, "malformed challenge_response params"))
		return
	}
	ok, err := s.registry.ChallengeResponse(st.agentID, p.Response)
	if err != nil || !ok {
		conn.Close()
		return
	}
	st.state = registry.Ready
	_ = conn.Send(resultEnvelope(env.ID, challengeResponseResult{Success: true}))

	// Inform the new peer of every currently READY agent, then broadcast
	// its own arrival (spec §4.2 "Broadcast visibility").
	_ = conn.Send(notification("ready_peers", s.registry.ListReady()))
	if summary, ok := s.registry.GetSummary(st.agentID); ok {
		s.registry.BroadcastReady(notification("agent_ready", summary))
	}
}

func (s *Server) handleContextUpdate(st *connState, env Envelope) {
	var p contextUpdateParams
	if err := json.Unmarshal(env.Params, &p); err != nil {
		return
	}
	s.registry.BroadcastReady(notification("context_update", p))
}

// handleVote parses a clear/wait reply. The round generation is carried
// in the envelope id, set by this gateway when it broadcast the matching
// pre_check (see roundEnvelopeID).
func (s *Server) handleVote(st *connState, env Envelope, isWait bool) {
	gen, ok := parseRoundID(env.ID)
	if !ok || st.agentID == "" {
		return
	}
	var p voteParams
	_ = json.Unmarshal(env.Params, &p)
	if !isWait && p.Confidence == 0 {
		p.Confidence = 1.0 // default confidence for a bare `clear` (spec §4.3).
	}
	s.consensus.Vote(gen, st.agentID, consensus.Vote{
		Confidence:   p.Confidence,
		Veto:         isWait,
		RetryAfterMs: p.RetryAfterMs,
	})
}

func (s *Server) handleHijack(st *connState, env Envelope) {
	if st.agentID == "" {
		return
	}
	agent, ok := s.registry.Get(st.agentID)
	if !ok {
		return
	}
	var p hijackParams
	_ = json.Unmarshal(env.Params, &p)

	acquired, preempted := s.executor.Hijack(agent.ID, agent.Priority, p.Reason)
	if preempted != "" {
		s.registry.BroadcastReady(notification("preempted", map[string]string{"previousOwner": preempted, "newOwner": agent.ID}))
	}
	s.registry.BroadcastReady(notification("hijacked", hijackResult{Acquired: acquired}))
}

func (s *Server) handleResume(st *connState, env Envelope) {
	if st.agentID == "" {
		return
	}
	var p resumeParams
	_ = json.Unmarshal(env.Params, &p)
	if s.executor.Resume(st.agentID, p.ReCheck) {
		s.registry.BroadcastReady(notification("resumed", map[string]string{"agentId": st.agentID}))
	}
}

func (s *Server) handleAction(ctx context.Context, st *connState, env Envelope) {
	if st.agentID == "" {
		return
	}
	var p actionParams
	if err := json.Unmarshal(env.Params, &p); err != nil {
		return
	}
	if err := s.executor.Action(ctx, st.agentID, p.Cmd, p.Selector, p.Text); err != nil {
		log.Printf("Gateway: hijack-mode action %s failed: %v", p.Cmd, err)
	}
}

func (s *Server) handleIntent(ctx context.Context, conn registry.Conn, env Envelope) {
	var p intentParams
	if err := json.Unmarshal(env.Params, &p); err != nil {
		_ = conn.Send(errorEnvelope(env.ID, CodeValidation, "malformed intent params"))
		return
	}
	id := p.ID
	if id == "" {
		id = s.nextCommandID()
	}
	if s.dedup != nil && s.dedup.Seen(ctx, id) {
		_ = conn.Send(resultEnvelope(env.ID, intentResult{ID: id}))
		return
	}
	cmd := &queue.Command{
		ID:              id,
		Cmd:             p.Cmd,
		Selector:        p.Selector,
		Goal:            p.Goal,
		URL:             p.URL,
		Text:            p.Text,
		Key:             p.Key,
		Value:           p.Value,
		Files:           p.Files,
		Name:            p.Name,
		StabilityHintMs: p.StabilityHintMs,
	}
	s.pendingMu.Lock()
	s.pending[id] = conn
	s.pendingMu.Unlock()

	s.executor.Enqueue(cmd)
	_ = conn.Send(resultEnvelope(env.ID, intentResult{ID: id}))
}

func (s *Server) handleFinish(conn registry.Conn, env Envelope) {
	var p finishParams
	_ = json.Unmarshal(env.Params, &p)
	s.executor.Shutdown()
	_ = conn.Send(resultEnvelope(env.ID, map[string]bool{"ok": true}))
}

func (s *Server) handleError(st *connState, env Envelope) {
	var p errorParams
	if err := json.Unmarshal(env.Params, &p); err != nil {
		return
	}
	s.trace.Append(learning.Entry{
		Timestamp: time.Now(),
		Type:      learning.TypeSentinelError,
		Error:     p.Error,
	})
}

func (s *Server) handleGetPageContext(ctx context.Context, conn registry.Conn, env Envelope) {
	pc, ok := s.executor.PageContextSnapshot(ctx)
	if !ok {
		_ = conn.Send(errorEnvelope(env.ID, CodeValidation, "page context unavailable"))
		return
	}
	_ = conn.Send(resultEnvelope(env.ID, pc))
}

func (s *Server) nextCommandID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	s.idCounter++
	return fmt.Sprintf("cmd-%d", s.idCounter)
}

func roundEnvelopeID(generation int64) string {
	return fmt.Sprintf("round-%d", generation)
}

func parseRoundID(id string) (int64, bool) {
	const prefix = "round-"
	if !strings.HasPrefix(id, prefix) {
		return 0, false
	}
	n, err := strconv.ParseInt(id[len(prefix):], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// PreCheck implements pipeline.Notifier: broadcasts a pre_check message
// to every relevant agent, highest-priority first (already the order
// registry.RelevantAgents returns), gating the optional payloads behind
// matching advertised capabilities (spec §4.3 "Inputs to broadcast").
func (s *Server) PreCheck(relevant []registry.RelevantAgent, generation int64, cmd *queue.Command, pc *driver.PageContext, rect *driver.Rect, screenshot []byte) {
	wantsVision, wantsPII, wantsA11y := false, false, false
	blocking := map[string]bool{}
	for _, a := range relevant {
		if a.Capabilities["vision"] || a.Capabilities["detection"] {
			wantsVision = true
		}
		if a.Capabilities["pii"] {
			wantsPII = true
		}
		if a.Capabilities["accessibility"] {
			wantsA11y = true
		}
		for sel := range a.Selectors {
			blocking[sel] = true
		}
	}
	selectors := make([]string, 0, len(blocking))
	for sel := range blocking {
		selectors = append(selectors, sel)
	}

	payload := map[string]interface{}{
		"command":  cmd,
		"blocking": selectors,
	}
	if rect != nil {
		payload["targetRect"] = rect
	}
	if wantsVision && len(screenshot) > 0 {
		payload["screenshot"] = screenshot
	}
	if pc != nil {
		if wantsPII {
			payload["page_text"] = pc.VisibleText
		}
		if wantsA11y {
			payload["a11y_snapshot"] = pc.AccessibilitySnapshot
		}
	}

	raw, _ := json.Marshal(payload)
	env := Envelope{JSONRPC: protocolVersion, Method: "starlight.pre_check", Params: raw, ID: roundEnvelopeID(generation)}
	for _, a := range relevant {
		_ = a.Conn.Send(env)
	}
}

// CommandComplete implements pipeline.Notifier: notifies the originating
// client (spec §4.4 step 10) and broadcasts the outcome to every READY
// agent for situational awareness.
func (s *Server) CommandComplete(cmd *queue.Command, success bool, errMsg string, flags pipeline.Flags) {
	payload := map[string]interface{}{
		"id":      cmd.ID,
		"success": success,
		"error":   errMsg,
		"context": map[string]interface{}{
			"selfHealed":     flags.SelfHealed,
			"forcedProceed":  flags.ForcedProceed,
			"predictiveWait": flags.PredictiveWait,
			"learned":        flags.Learned,
		},
	}
	env := notification("COMMAND_COMPLETE", payload)

	s.pendingMu.Lock()
	client, ok := s.pending[cmd.ID]
	delete(s.pending, cmd.ID)
	s.pendingMu.Unlock()
	if ok {
		_ = client.Send(env)
	}
	s.registry.BroadcastReady(env)
}
