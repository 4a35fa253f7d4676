// Package pipeline implements the single-flight execution loop (spec
// §4.4, component C4): one cooperative goroutine that dequeues a command,
// runs it through the pre-check gate, resolves a semantic goal to a
// selector if needed, drives the browser, and records the outcome. The
// loop's shape (a kick channel feeding a drain-until-idle inner loop,
// guarded by a single mutex so at most one iteration ever runs at once)
// is grounded on the teacher's control_plane/scheduler.Scheduler
// dispatch loop; the admission-health gate is adapted from
// control_plane/scheduler/circuit_breaker.go, simplified from an
// HTTP-admission circuit breaker (queue-depth/saturation thresholds) to a
// single sticky health flag the hub flips when it loses its browser
// handle — there is exactly one downstream dependency here, not a pool of
// workers to protect.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/starlighthub/sentinel-hub/consensus"
	"github.com/starlighthub/sentinel-hub/driver"
	"github.com/starlighthub/sentinel-hub/learning"
	"github.com/starlighthub/sentinel-hub/lock"
	"github.com/starlighthub/sentinel-hub/observability"
	"github.com/starlighthub/sentinel-hub/queue"
	"github.com/starlighthub/sentinel-hub/registry"
)

// Flags records the non-terminal-outcome facts worth surfacing alongside
// a COMMAND_COMPLETE notification and trace entry (spec §4.4 step 10).
type Flags struct {
	PredictiveWait bool
	ForcedProceed  bool
	SelfHealed     bool
	Learned        bool
}

// Notifier delivers pipeline events to the gateway for broadcast to
// connected agents/clients. The pipeline never touches a websocket
// connection directly (spec's C1/C4 separation).
type Notifier interface {
	// PreCheck announces a new consensus round to every relevant agent.
	PreCheck(relevant []registry.RelevantAgent, generation int64, cmd *queue.Command, ctx *driver.PageContext, rect *driver.Rect, screenshot []byte)
	// CommandComplete announces a terminal (or forced) command outcome.
	CommandComplete(cmd *queue.Command, success bool, errMsg string, flags Flags)
}

// NopNotifier discards every event; useful for tests that only care
// about queue/lock/learning-store side effects.
type NopNotifier struct{}

func (NopNotifier) PreCheck([]registry.RelevantAgent, int64, *queue.Command, *driver.PageContext, *driver.Rect, []byte) {
}
func (NopNotifier) CommandComplete(*queue.Command, bool, string, Flags) {}

// Options configures an Executor's tunables (spec §6). SyncBudget,
// ConsensusTimeout, and QuorumThreshold are not here: they belong to the
// consensus.Engine a round is started on, not to the loop that awaits it.
type Options struct {
	LockTTL            time.Duration
	MaxPreCheckRetries int
	AuraBucket         time.Duration
	AuraPredictiveWait time.Duration
	ShadowEnabled      bool
	ShadowMaxDepth     int
	ScreenshotThrottle time.Duration
	MissionStart       time.Time
}

// Executor drives the single-flight loop over a shared Queue, Lock,
// consensus Engine, Registry, learning Store/Trace/AuraTracker and a
// Driver. It is the hub's component C4.
type Executor struct {
	opts Options

	queue     *queue.Queue
	lock      *lock.Lock
	consensus *consensus.Engine
	registry  *registry.Registry
	store     *learning.Store
	trace     *learning.Trace
	aura      *learning.AuraTracker
	driver    driver.Driver
	notifier  Notifier

	screenshotLimiter *rate.Limiter

	processingMu sync.Mutex
	kickCh       chan struct{}

	shuttingDown atomic.Bool
	healthy      atomic.Bool

	roundMu  sync.Mutex
	cancelCh chan struct{}
}

// NewExecutor wires an Executor. notifier may be nil, in which case a
// NopNotifier is used.
func NewExecutor(q *queue.Queue, l *lock.Lock, ce *consensus.Engine, reg *registry.Registry, store *learning.Store, trace *learning.Trace, drv driver.Driver, notifier Notifier, opts Options) *Executor {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if opts.MaxPreCheckRetries <= 0 {
		opts.MaxPreCheckRetries = 3
	}
	aura := learning.NewAuraTracker(opts.MissionStart, opts.AuraBucket)
	if trace != nil {
		aura.LoadFromTrace(trace.Snapshot())
	}
	e := &Executor{
		opts:              opts,
		queue:             q,
		lock:              l,
		consensus:         ce,
		registry:          reg,
		store:             store,
		trace:             trace,
		aura:              aura,
		driver:            drv,
		notifier:          notifier,
		screenshotLimiter: rate.NewLimiter(rate.Every(opts.ScreenshotThrottle), 1),
		kickCh:            make(chan struct{}, 1),
	}
	e.healthy.Store(true)
	return e
}

// SetHealthy flips the sticky health flag the hub uses to report that its
// browser handle (or other downstream dependency) has been lost. While
// unhealthy, the loop's gate (step 1) refuses to start new iterations,
// mirroring the teacher's circuit_breaker.ShouldAdmit gate but without
// its queue-depth/saturation inputs — there is one browser, not a worker
// pool to protect from overload.
func (e *Executor) SetHealthy(healthy bool) {
	e.healthy.Store(healthy)
}

// Shutdown marks the loop to stop admitting new iterations; any
// in-flight iteration is allowed to finish.
func (e *Executor) Shutdown() {
	e.shuttingDown.Store(true)
}

// Kick signals the loop to attempt an iteration. Safe to call from any
// goroutine; coalesces with any pending, unconsumed kick.
func (e *Executor) Kick() {
	select {
	case e.kickCh <- struct{}{}:
	default:
	}
}

// Run drains kicks until ctx is cancelled, running iterations until the
// queue empties, the lock is held, the loop is shutting down, or the
// system is unhealthy.
func (e *Executor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.kickCh:
			for e.step(ctx) {
			}
		}
	}
}

// step runs a single queue-loop iteration (spec §4.4 steps 1-10),
// returning true if the caller should immediately attempt another
// iteration (more work may remain).
func (e *Executor) step(ctx context.Context) bool {
	if !e.processingMu.TryLock() {
		return false
	}
	defer e.processingMu.Unlock()

	start := time.Now()
	defer func() { observability.PipelineLoopDuration.Observe(time.Since(start).Seconds()) }()

	// Step 1: gate.
	if e.shuttingDown.Load() || e.lock.Snapshot().Held || e.queue.Empty() || !e.healthy.Load() {
		return false
	}

	// Step 2: dequeue.
	cmd := e.queue.Dequeue()
	if cmd == nil {
		return false
	}
	observability.QueueDepth.Set(float64(e.queue.Len()))

	if cmd.Cmd == "nop" {
		return true
	}

	// Step 3: ghost-latency stability hint.
	if ms, ok := e.store.Ghost(cmd.Cmd, cmd.Selector); ok && ms > cmd.StabilityHintMs {
		cmd.StabilityHintMs = ms
	}

	var flags Flags

	// Step 4: aura predictive wait.
	now := time.Now()
	if e.aura.IsHistoricallyUnstable(now) {
		time.Sleep(e.opts.AuraPredictiveWait)
		flags.PredictiveWait = true
	}

	// Step 5: pre-check (C3).
	decision, retryAfter, canceled := e.runPreCheck(ctx, cmd)
	if canceled {
		e.queue.Requeue(cmd)
		return true
	}
	if decision == consensus.DecisionWait {
		cmd.PreCheckRetries++
		if cmd.PreCheckRetries <= e.opts.MaxPreCheckRetries {
			e.queue.Requeue(cmd)
			if retryAfter > 0 {
				time.Sleep(time.Duration(retryAfter) * time.Millisecond)
			} else {
				time.Sleep(time.Second)
			}
			return true
		}
		flags.ForcedProceed = true
		observability.ForcedProceeds.Inc()
	}

	// Step 6: optional before screenshot.
	e.maybeScreenshot(ctx)

	// Step 7: semantic resolution.
	if cmd.Selector == "" && cmd.Goal != "" {
		if !e.resolve(ctx, cmd, &flags) {
			e.finishFailure(cmd, "semantic resolution found no matching element", flags)
			return true
		}
	}

	// Step 8: invoke the driver, one retry after 200ms on error.
	execErr := e.invoke(ctx, cmd)
	if execErr != nil {
		time.Sleep(200 * time.Millisecond)
		execErr = e.invoke(ctx, cmd)
	}
	success := execErr == nil
	var errMsg string
	if execErr != nil {
		errMsg = execErr.Error()
	}

	cmdLatency := time.Since(start)

	// Step 9: learn on success.
	if success && cmd.Goal != "" && cmd.Selector != "" {
		e.store.Learn(cmd.Cmd, cmd.Goal, cmd.Selector)
		e.store.RecordGhost(cmd.Cmd, cmd.Selector, cmdLatency.Milliseconds())
		flags.Learned = true
		observability.LearningStoreSize.Set(float64(e.store.Size()))
	}

	// Step 10: optional after screenshot, trace, notify.
	e.maybeScreenshot(ctx)
	e.appendOutcome(cmd, success, errMsg, flags)
	e.notifier.CommandComplete(cmd, success, errMsg, flags)

	result := "success"
	if !success {
		result = "failure"
	} else if flags.ForcedProceed {
		result = "forced"
	}
	observability.CommandOutcomes.WithLabelValues(cmd.Cmd, result).Inc()

	return true
}

// runPreCheck starts a consensus round over the currently relevant
// agents, registers the round for mid-flight cancellation (via Hijack),
// announces it through the notifier, and awaits its resolution.
func (e *Executor) runPreCheck(ctx context.Context, cmd *queue.Command) (decision consensus.Decision, retryAfterMs int64, canceled bool) {
	relevant := e.registry.RelevantAgents()
	ids := make([]string, len(relevant))
	for i, a := range relevant {
		ids[i] = a.ID
	}

	roundStart := time.Now()
	gen, resultCh := e.consensus.StartRound(ids)

	myCancel := make(chan struct{})
	e.roundMu.Lock()
	e.cancelCh = myCancel
	e.roundMu.Unlock()
	defer func() {
		e.roundMu.Lock()
		if e.cancelCh == myCancel {
			e.cancelCh = nil
		}
		e.roundMu.Unlock()
	}()

	if len(relevant) > 0 {
		var pc driver.PageContext
		var rect *driver.Rect
		if ctxVal, err := e.driver.PageContext(ctx); err == nil {
			pc = ctxVal
		}
		if cmd.Selector != "" {
			if r, ok, err := e.driver.TargetRect(ctx, cmd.Selector); err == nil && ok {
				rect = &r
			}
		}
		var shot []byte
		if e.screenshotLimiter.Allow() {
			shot, _ = e.driver.Screenshot(ctx)
		} else {
			observability.ScreenshotsSkipped.Inc()
		}
		e.notifier.PreCheck(relevant, gen, cmd, &pc, rect, shot)
	}

	select {
	case res := <-resultCh:
		observability.ConsensusRoundDuration.Observe(time.Since(roundStart).Seconds())
		outcome := "clear"
		if res.Decision == consensus.DecisionWait {
			outcome = "wait"
		}
		observability.ConsensusRounds.WithLabelValues(outcome).Inc()
		return res.Decision, res.RetryAfterMs, false
	case <-myCancel:
		e.consensus.Cancel(gen)
		return consensus.DecisionWait, 0, true
	}
}

// CancelInFlightRound aborts the currently awaited consensus round, if
// any, and reports whether one was in fact canceled — called when the
// preemption lock is acquired mid-round (spec §4.3 "Cancellation").
func (e *Executor) CancelInFlightRound() bool {
	e.roundMu.Lock()
	defer e.roundMu.Unlock()
	if e.cancelCh == nil {
		return false
	}
	close(e.cancelCh)
	e.cancelCh = nil
	return true
}

func resolverKindFor(cmd string) (driver.CandidateKind, bool) {
	switch cmd {
	case "click", "hover", "scroll":
		return driver.KindGeneral, true
	case "fill", "press", "upload":
		return driver.KindFormInput, true
	case "select":
		return driver.KindSelect, true
	case "check", "uncheck":
		return driver.KindCheckbox, true
	default:
		return 0, false
	}
}

// resolve runs the semantic resolver for cmd's kind, falling back to a
// previously learned mapping on a live miss (cmd-qualified key first, then
// the bare goal; spec §4.4.1 "self-healing").
func (e *Executor) resolve(ctx context.Context, cmd *queue.Command, flags *Flags) bool {
	kind, ok := resolverKindFor(cmd.Cmd)
	if !ok {
		return true // command kind carries no goal/selector concept; nothing to resolve.
	}

	candidates, err := e.driver.CollectCandidates(ctx, kind, e.opts.ShadowEnabled, e.opts.ShadowMaxDepth)
	var sel string
	var found bool
	if err == nil {
		switch kind {
		case driver.KindGeneral:
			sel, found = ResolveGeneral(cmd.Goal, candidates)
		case driver.KindFormInput:
			sel, found = ResolveFormInputWithDeadline(cmd.Goal, candidates, 10*time.Second)
		case driver.KindSelect:
			sel, found = ResolveSelect(cmd.Goal, candidates)
		case driver.KindCheckbox:
			sel, found = ResolveCheckbox(cmd.Goal, candidates)
		}
	}

	resolverName := resolverLabel(kind)
	if found {
		observability.ResolverOutcomes.WithLabelValues(resolverName, "live_hit").Inc()
		cmd.Selector = sel
		return true
	}

	if histSel, ok := e.store.Lookup(cmd.Cmd, cmd.Goal); ok {
		observability.ResolverOutcomes.WithLabelValues(resolverName, "self_healed").Inc()
		cmd.Selector = histSel
		cmd.SelfHealed = true
		flags.SelfHealed = true
		return true
	}

	observability.ResolverOutcomes.WithLabelValues(resolverName, "miss").Inc()
	return false
}

func resolverLabel(kind driver.CandidateKind) string {
	switch kind {
	case driver.KindGeneral:
		return "general"
	case driver.KindFormInput:
		return "form_input"
	case driver.KindSelect:
		return "select"
	case driver.KindCheckbox:
		return "checkbox"
	default:
		return "unknown"
	}
}

// invoke dispatches cmd to the driver method matching its Cmd kind.
func (e *Executor) invoke(ctx context.Context, cmd *queue.Command) error {
	switch cmd.Cmd {
	case "goto":
		return e.driver.Goto(ctx, cmd.URL)
	case "click":
		return e.driver.Click(ctx, cmd.Selector)
	case "fill":
		return e.driver.Fill(ctx, cmd.Selector, cmd.Text)
	case "press":
		return e.driver.Press(ctx, cmd.Selector, cmd.Key)
	case "type":
		return e.driver.Type(ctx, cmd.Selector, cmd.Text)
	case "scroll":
		return e.driver.Scroll(ctx, cmd.Selector)
	case "select":
		return e.driver.Select(ctx, cmd.Selector, cmd.Value)
	case "hover":
		return e.driver.Hover(ctx, cmd.Selector)
	case "check":
		return e.driver.Check(ctx, cmd.Selector)
	case "uncheck":
		return e.driver.Uncheck(ctx, cmd.Selector)
	case "upload":
		return e.driver.Upload(ctx, cmd.Selector, cmd.Files)
	case "checkpoint":
		return nil // no-op milestone marker (spec §4.4 "Command kinds").
	default:
		return nil
	}
}

// Action executes a hijack-mode `action` message directly against the
// driver, bypassing the queue and pre-check entirely (spec §4.4
// "Hijack-mode actions"). Only the current lock owner may issue one; a
// non-owner action is ignored per spec wording.
func (e *Executor) Action(ctx context.Context, agentID, cmd, selector, text string) error {
	if !e.lock.HeldBy(agentID) {
		return nil
	}
	switch cmd {
	case "click":
		return e.driver.Click(ctx, selector)
	case "fill":
		return e.driver.Fill(ctx, selector, text)
	case "evaluate":
		_, err := e.driver.Evaluate(ctx, text)
		return err
	case "hover":
		return e.driver.Hover(ctx, selector)
	case "scroll":
		return e.driver.Scroll(ctx, selector)
	default:
		return nil
	}
}

func (e *Executor) maybeScreenshot(ctx context.Context) []byte {
	if !e.screenshotLimiter.Allow() {
		observability.ScreenshotsSkipped.Inc()
		return nil
	}
	shot, err := e.driver.Screenshot(ctx)
	if err != nil {
		return nil
	}
	return shot
}

func (e *Executor) finishFailure(cmd *queue.Command, reason string, flags Flags) {
	e.appendOutcome(cmd, false, reason, flags)
	e.notifier.CommandComplete(cmd, false, reason, flags)
	observability.CommandOutcomes.WithLabelValues(cmd.Cmd, "failure").Inc()
}

func (e *Executor) appendOutcome(cmd *queue.Command, success bool, errMsg string, flags Flags) {
	e.trace.Append(learning.Entry{
		Timestamp:     time.Now(),
		Type:          learning.TypeCommand,
		CommandID:     cmd.ID,
		Selector:      cmd.Selector,
		Success:       success,
		Error:         errMsg,
		ForcedProceed: flags.ForcedProceed,
		SelfHealed:    flags.SelfHealed,
	})
	if !success {
		now := time.Now()
		e.trace.Append(learning.Entry{
			Timestamp: now,
			Type:      learning.TypeFailure,
			CommandID: cmd.ID,
			Error:     errMsg,
		})
		e.aura.MarkUnstable(now)
	}
}

// Hijack attempts to seize the preemption lock for agentID (spec §4.4
// "Acquisition"). On success, any consensus round currently awaited by
// the loop is canceled so its command is dropped back to the front of
// the queue instead of completing against a now-superseded world state.
func (e *Executor) Hijack(agentID string, priority int, reason string) (acquired bool, preemptedOwner string) {
	acquired, preemptedOwner = e.lock.TryAcquire(agentID, priority, reason, e.opts.LockTTL, time.Now())
	if !acquired {
		return false, ""
	}
	if preemptedOwner != "" {
		observability.LockPreemptions.Inc()
	}
	e.CancelInFlightRound()
	e.trace.Append(learning.Entry{
		Timestamp: time.Now(),
		Type:      learning.TypeHijack,
		CommandID: agentID,
	})
	return acquired, preemptedOwner
}

// Resume releases the lock on behalf of agentID. If recheck is set, a nop
// sentinel is pushed to the queue head so the next real command starts a
// fresh pre-check cycle against the post-hijack page state (spec §4.3
// "Release").
func (e *Executor) Resume(agentID string, recheck bool) bool {
	heldSince, held := e.lock.HeldSince()
	released := e.lock.Release(agentID)
	if !released {
		return false
	}
	if held {
		observability.LockHoldSeconds.Observe(time.Since(heldSince).Seconds())
	}
	if recheck {
		e.queue.PushNop()
	}
	e.Kick()
	return true
}

// ResumeForEvictedOwner force-releases the lock if it is currently held
// by agentID, used when the heartbeat supervisor evicts a silent agent
// (spec §3 invariant 4, §4.2 "Eviction ... releases any lock it holds").
// It reports whether the lock was in fact released.
func (e *Executor) ResumeForEvictedOwner(agentID string) bool {
	if !e.lock.HeldBy(agentID) {
		return false
	}
	wasHeld, _ := e.lock.ForceRelease()
	if wasHeld {
		e.queue.PushNop()
		e.Kick()
	}
	return wasHeld
}

// PageContextSnapshot fetches the current page's visible text and
// accessibility snapshot for the read-only getPageContext query (spec
// §4.1 "Routing").
func (e *Executor) PageContextSnapshot(ctx context.Context) (driver.PageContext, bool) {
	pc, err := e.driver.PageContext(ctx)
	if err != nil {
		return driver.PageContext{}, false
	}
	return pc, true
}

// Enqueue appends cmd to the queue and kicks the loop.
func (e *Executor) Enqueue(cmd *queue.Command) {
	e.queue.Enqueue(cmd)
	observability.QueueDepth.Set(float64(e.queue.Len()))
	e.Kick()
}
