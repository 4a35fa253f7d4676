// Package consensus implements the pre-check voting round (spec §4.3,
// component C3): broadcast to relevant agents, collect votes, and resolve
// CLEAR/WAIT under a veto short-circuit, quorum/confidence accumulation,
// a mandatory settlement window, and two independent timeouts (overall
// budget and a secondary consensus timeout once the first vote arrives).
//
// Modeled as a typed state machine with three explicit timers driving a
// single result channel, per the redesign direction spec §9 calls for —
// this replaces the nested-closure async style the teacher's own
// resilience package uses for its reconciliation timers with one
// goroutine per round and one channel of truth.
package consensus

import (
	"sync"
	"time"
)

// Decision is the round's resolution. Forcing a command through after
// exhausting retries is a pipeline-level decision (spec §4.3 "Forcing"),
// not something the engine itself returns.
type Decision int

const (
	DecisionClear Decision = iota
	DecisionWait
)

func (d Decision) String() string {
	if d == DecisionClear {
		return "CLEAR"
	}
	return "WAIT"
}

// Vote is one relevant agent's reply to a pre_check broadcast.
type Vote struct {
	Confidence   float64
	Veto         bool
	RetryAfterMs int64
}

// Result is what a round resolves to.
type Result struct {
	Decision     Decision
	RetryAfterMs int64
}

// Engine runs at most one round at a time (enforced by the pipeline's
// single-flight loop, but the engine itself also guards against stray
// late votes via the generation counter).
type Engine struct {
	quorumThreshold  float64
	settlementWindow time.Duration
	syncBudget       time.Duration
	consensusTimeout time.Duration

	mu         sync.Mutex
	generation int64
	current    *round
}

// NewEngine returns an Engine configured with spec §6's consensus knobs.
func NewEngine(quorumThreshold float64, settlementWindow, syncBudget, consensusTimeout time.Duration) *Engine {
	return &Engine{
		quorumThreshold:  quorumThreshold,
		settlementWindow: settlementWindow,
		syncBudget:       syncBudget,
		consensusTimeout: consensusTimeout,
	}
}

type namedVote struct {
	agentID string
	vote    Vote
}

type round struct {
	generation int64
	relevant   map[string]bool
	n          int
	votesCh    chan namedVote
	cancelCh   chan struct{}
	resultCh   chan Result
}

// StartRound begins a new round over relevantAgentIDs (priority ≤ 10,
// spec §4.3) and returns the round's generation (for Vote/Cancel) and a
// channel that will receive exactly one Result. Zero relevant agents
// resolves CLEAR immediately with no settlement delay (spec §9 edge case).
func (e *Engine) StartRound(relevantAgentIDs []string) (int64, <-chan Result) {
	e.mu.Lock()
	e.generation++
	gen := e.generation
	relevant := make(map[string]bool, len(relevantAgentIDs))
	for _, id := range relevantAgentIDs {
		relevant[id] = true
	}
	r := &round{
		generation: gen,
		relevant:   relevant,
		n:          len(relevantAgentIDs),
		votesCh:    make(chan namedVote, len(relevantAgentIDs)+1),
		cancelCh:   make(chan struct{}),
		resultCh:   make(chan Result, 1),
	}
	e.current = r
	e.mu.Unlock()

	if r.n == 0 {
		r.resultCh <- Result{Decision: DecisionClear}
		e.finish(r)
		return gen, r.resultCh
	}

	go e.runRound(r)
	return gen, r.resultCh
}

// Vote submits relevantAgentID's reply for the given generation. Votes for
// a generation that is no longer current, or from an agent outside the
// round's relevant set, are silently discarded (spec §4.3 "Ordering
// guarantees").
func (e *Engine) Vote(generation int64, agentID string, v Vote) {
	e.mu.Lock()
	r := e.current
	e.mu.Unlock()
	if r == nil || r.generation != generation || !r.relevant[agentID] {
		return
	}
	select {
	case r.votesCh <- namedVote{agentID: agentID, vote: v}:
	default:
	}
}

// Cancel aborts the round for generation if it is still current — used
// when the preemption lock is acquired mid-round (spec §4.3
// "Cancellation"). Pending votes are rejected; the caller is responsible
// for dropping the command back to the front of the queue.
func (e *Engine) Cancel(generation int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil && e.current.generation == generation {
		close(e.current.cancelCh)
		e.current = nil
	}
}

// CurrentRound reports the generation and liveness of the round in
// progress, if any — used by the operator debug snapshot.
func (e *Engine) CurrentRound() (generation int64, active bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return e.generation, false
	}
	return e.current.generation, true
}

func (e *Engine) finish(r *round) {
	e.mu.Lock()
	if e.current == r {
		e.current = nil
	}
	e.mu.Unlock()
}

func (e *Engine) runRound(r *round) {
	defer e.finish(r)

	budgetTimer := time.NewTimer(e.syncBudget)
	defer budgetTimer.Stop()
	settlementTimer := time.NewTimer(e.settlementWindow)
	defer settlementTimer.Stop()

	var consensusTimer *time.Timer
	var consensusCh <-chan time.Time

	responded := make(map[string]bool, r.n)
	var confidenceSum float64
	veto := false
	settlementElapsed := false
	quorumPending := false
	required := float64(r.n) * e.quorumThreshold

	resolve := func(d Decision, retryMs int64) {
		r.resultCh <- Result{Decision: d, RetryAfterMs: retryMs}
	}

	for {
		select {
		case <-r.cancelCh:
			return

		case <-budgetTimer.C:
			resolve(DecisionWait, 0)
			return

		case <-settlementTimer.C:
			settlementElapsed = true
			if quorumPending {
				resolve(DecisionClear, 0)
				return
			}

		case <-consensusCh:
			if !veto && confidenceSum >= required {
				if settlementElapsed {
					resolve(DecisionClear, 0)
					return
				}
				quorumPending = true
				continue
			}
			resolve(DecisionWait, 0)
			return

		case nv := <-r.votesCh:
			if responded[nv.agentID] {
				continue
			}
			responded[nv.agentID] = true

			if nv.vote.Veto {
				veto = true
				resolve(DecisionWait, nv.vote.RetryAfterMs)
				return
			}

			confidenceSum += nv.vote.Confidence
			if consensusTimer == nil {
				consensusTimer = time.NewTimer(e.consensusTimeout)
				consensusCh = consensusTimer.C
				defer consensusTimer.Stop()
			}

			quorumMet := confidenceSum >= required
			allResponded := len(responded) == r.n

			if quorumMet {
				if settlementElapsed {
					resolve(DecisionClear, 0)
					return
				}
				quorumPending = true
				continue // wait for the settlement timer to absorb late vetoes
			}

			if allResponded {
				resolve(DecisionWait, 0)
				return
			}
		}
	}
}
