// Package hub wires components C1-C5 into one running process: the
// registry, consensus engine, preemption lock, command queue, execution
// pipeline, learning store/trace, and the gateway that fronts them all
// over HTTP/WebSocket. Adapted from the teacher's control_plane/main.go,
// which performs the same role inline in func main(); here the wiring is
// split into its own package so cmd/hub/main.go stays a thin launcher.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/starlighthub/sentinel-hub/auth"
	"github.com/starlighthub/sentinel-hub/config"
	"github.com/starlighthub/sentinel-hub/consensus"
	"github.com/starlighthub/sentinel-hub/driver"
	"github.com/starlighthub/sentinel-hub/gateway"
	"github.com/starlighthub/sentinel-hub/idempotency"
	"github.com/starlighthub/sentinel-hub/learning"
	"github.com/starlighthub/sentinel-hub/lock"
	"github.com/starlighthub/sentinel-hub/observability"
	"github.com/starlighthub/sentinel-hub/pipeline"
	"github.com/starlighthub/sentinel-hub/queue"
	"github.com/starlighthub/sentinel-hub/redact"
	"github.com/starlighthub/sentinel-hub/registry"
	"github.com/starlighthub/sentinel-hub/store"
)

// version is the protocol/build identifier reported on /health. The
// teacher has no analogous constant (control_plane/main.go never reports
// a version); spec §6's health shape names the field, so it is pinned
// here.
const version = "1.0.0"

// Hub owns every long-lived component and the HTTP surface in front of
// them. Run/Shutdown bound its lifecycle; HandleWS/ServeHTTP are not
// exposed directly — callers get a *http.ServeMux from Mux().
type Hub struct {
	cfg *config.Config

	registry  *registry.Registry
	consensus *consensus.Engine
	lock      *lock.Lock
	queue     *queue.Queue
	store     *learning.Store
	trace     *learning.Trace
	executor  *pipeline.Executor
	gateway   *gateway.Server
	adminTok  *auth.AdminToken

	supervisor *registry.Supervisor
	janitor    *lock.Janitor

	startedAt time.Time
	missionActive atomic.Bool
	missionDone chan string // reason a shutdown was hub-initiated (mission timeout); buffered 1

	mux *http.ServeMux
}

// New wires every component per cfg. drv is the browser driver backend —
// the module ships no production implementation (spec §6), so callers
// typically pass driver.NewFake() outside of a real deployment with a
// driver plugged in out-of-tree.
func New(cfg *config.Config, drv driver.Driver) (*Hub, error) {
	files, err := store.NewFileStore(".")
	if err != nil {
		return nil, fmt.Errorf("hub: failed to initialize file store: %w", err)
	}

	backend, err := newBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("hub: failed to initialize %s backend: %w", cfg.StoreBackend, err)
	}

	reg := registry.New(cfg.AuthToken)
	ce := consensus.NewEngine(cfg.QuorumThreshold, cfg.SettlementWindow, cfg.SyncBudget, cfg.ConsensusTimeout)
	l := lock.New()
	q := queue.New()
	learningStore := learning.New(files)
	if err := learningStore.Load(); err != nil {
		return nil, fmt.Errorf("hub: failed to load learning store: %w", err)
	}
	trace := learning.NewTrace(cfg.TraceMaxEvents, files)
	if err := trace.Load(); err != nil {
		return nil, fmt.Errorf("hub: failed to load mission trace: %w", err)
	}

	screenshotThrottle := cfg.ScreenshotThrottle
	if cfg.TestMode {
		screenshotThrottle = time.Millisecond
	}

	dedup := idempotency.New(backend)

	gw := gateway.NewServer(reg, ce, nil, learningStore, trace, redact.NewBasic(), dedup, time.Second)
	executor := pipeline.NewExecutor(q, l, ce, reg, learningStore, trace, drv, gw, pipeline.Options{
		LockTTL:            cfg.LockTTL,
		MaxPreCheckRetries: cfg.MaxPreCheckRetries,
		AuraBucket:         cfg.AuraBucket,
		AuraPredictiveWait: cfg.AuraPredictiveWait,
		ShadowEnabled:      cfg.ShadowDom.Enabled,
		ShadowMaxDepth:     cfg.ShadowDom.MaxDepth,
		ScreenshotThrottle: screenshotThrottle,
		MissionStart:       time.Now(),
	})
	gw.SetExecutor(executor)

	h := &Hub{
		cfg:       cfg,
		registry:  reg,
		consensus: ce,
		lock:      l,
		queue:     q,
		store:     learningStore,
		trace:     trace,
		executor:  executor,
		gateway:   gw,
		adminTok:    auth.NewAdminToken(cfg.AdminToken),
		startedAt:   time.Now(),
		missionDone: make(chan string, 1),
	}
	h.missionActive.Store(true)

	h.supervisor = registry.NewSupervisor(reg, cfg.HeartbeatTimeout, time.Second, h.onAgentEvicted)
	h.janitor = lock.NewJanitor(l, time.Second, h.onLockExpired)

	h.mux = http.NewServeMux()
	h.mux.HandleFunc("/ws", gw.HandleWS)
	h.mux.HandleFunc("/health", h.handleHealth)
	h.mux.HandleFunc("/hub/debug/snapshot", h.handleDebugSnapshot)
	h.mux.HandleFunc("/hub/mission/report", h.handleMissionReport)
	h.mux.Handle("/metrics", promhttp.Handler())

	return h, nil
}

func newBackend(cfg *config.Config) (store.Backend, error) {
	switch cfg.StoreBackend {
	case "redis":
		return store.NewRedisBackend(cfg.RedisAddr, "", 0)
	case "postgres":
		return store.NewPostgresBackend(context.Background(), cfg.PostgresDSN)
	default:
		return store.NewMemoryBackend(), nil
	}
}

// Mux returns the HTTP handler serving /ws, /health, /hub/debug/snapshot,
// /hub/mission/report, and /metrics.
func (h *Hub) Mux() http.Handler {
	return h.mux
}

// Run starts the execution pipeline loop, the heartbeat/TTL sweepers, and
// the mission-timeout watchdog. It blocks until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	go h.supervisor.Run(ctx)
	go h.janitor.Run(ctx)
	go h.watchMissionTimeout(ctx)
	h.executor.Run(ctx)
}

// Done reports a hub-initiated shutdown reason (currently just mission
// timeout, spec §5 "Mission timeout: orderly shutdown with a FAILURE
// entry") distinct from an externally canceled ctx (signals). A launcher
// selects on both this and its own signal channel.
func (h *Hub) Done() <-chan string {
	return h.missionDone
}

func (h *Hub) watchMissionTimeout(ctx context.Context) {
	if h.cfg.MissionTimeout <= 0 {
		return
	}
	timer := time.NewTimer(h.cfg.MissionTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
		h.trace.Append(learning.Entry{Type: learning.TypeMissionFailure, Error: "mission timeout exceeded"})
		select {
		case h.missionDone <- "mission timeout exceeded":
		default:
		}
	}
}

// Shutdown stops accepting new mission work and persists the learning
// store, bounded by timeout (spec §5: "drains in-progress work up to 5s").
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.missionActive.Store(false)
	h.executor.Shutdown()
	if err := h.store.SaveAtomic(timeout); err != nil {
		return fmt.Errorf("hub: failed to persist learning store on shutdown: %w", err)
	}
	return h.trace.Save()
}

func (h *Hub) onAgentEvicted(agentID string, wasReady bool) {
	if !wasReady {
		return
	}
	if released := h.executor.ResumeForEvictedOwner(agentID); released {
		h.gateway.NotifyLockForceReleased(agentID)
	}
	h.gateway.NotifyAgentLeft(agentID)
}

func (h *Hub) onLockExpired(ownerID string) {
	observability.LockTTLExpirations.Inc()
	h.gateway.NotifyLockForceReleased(ownerID)
	h.executor.Kick()
}

func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	lockState := h.lock.Snapshot()
	agents := h.registry.ListReady()
	type agentSummary struct {
		Layer        string   `json:"layer"`
		Priority     int      `json:"priority"`
		Capabilities []string `json:"capabilities"`
	}
	slim := make([]agentSummary, 0, len(agents))
	for _, a := range agents {
		slim = append(slim, agentSummary{Layer: a.Layer, Priority: a.Priority, Capabilities: a.Capabilities})
	}

	resp := map[string]interface{}{
		"status":   "ok",
		"version":  version,
		"protocol": gateway.ProtocolVersion,
		"uptime":   time.Since(h.startedAt).Seconds(),
		"agents":   slim,
		"mission": map[string]interface{}{
			"active":      h.missionActive.Load(),
			"queueLength": h.queue.Len(),
			"isLocked":    lockState.Held,
		},
		"security": map[string]interface{}{
			"authEnabled": h.cfg.AuthToken != "",
			"tlsEnabled":  false,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleDebugSnapshot dumps queue/lock/consensus/agent-roster state for
// operator troubleshooting, adapted from the teacher's
// /scheduler/debug/snapshot. Requires a bearer admin token when one is
// configured.
func (h *Hub) handleDebugSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.cfg.AdminToken != "" {
		token := bearerToken(r)
		if !h.adminTok.Validate("debug/snapshot", token) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	gen, active := h.consensus.CurrentRound()
	lockState := h.lock.Snapshot()

	snapshot := map[string]interface{}{
		"queueLength": h.queue.Len(),
		"lock": map[string]interface{}{
			"held":      lockState.Held,
			"ownerId":   lockState.OwnerID,
			"reason":    lockState.Reason,
			"expiresAt": lockState.ExpiresAt,
		},
		"consensus": map[string]interface{}{
			"generation": gen,
			"active":     active,
		},
		"agents":       h.registry.ListReady(),
		"learningSize": h.store.Size(),
		"traceLen":     h.trace.Len(),
		"goroutines":   runtime.NumGoroutine(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshot)
}

// handleMissionReport publishes the assembled trace/learning-store
// snapshot (spec §4.5 "the store publishes the ordered slice") for an
// out-of-scope external renderer to consume. Gated by the same admin
// token as the debug snapshot, since both are operator surfaces.
func (h *Hub) handleMissionReport(w http.ResponseWriter, r *http.Request) {
	if h.cfg.AdminToken != "" {
		token := bearerToken(r)
		if !h.adminTok.Validate("mission/report", token) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}
	report := learning.BuildReport(h.trace, h.store)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}
