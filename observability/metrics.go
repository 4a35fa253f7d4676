// Package observability holds process-wide Prometheus metric definitions
// for the hub. Every subsystem imports this package rather than declaring
// its own registry.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectedAgents tracks the number of agents currently in state READY.
	ConnectedAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "starlight_connected_agents",
		Help: "Number of sentinel agents currently READY",
	})

	// AgentEvictions counts heartbeat-timeout evictions.
	AgentEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starlight_agent_evictions_total",
		Help: "Total number of agents evicted for heartbeat timeout",
	}, []string{"layer"})

	// HandshakeRejections counts envelopes rejected by the handshake guard.
	HandshakeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starlight_handshake_rejections_total",
		Help: "Envelopes rejected because the sender was not READY",
	}, []string{"method"})

	// QueueDepth tracks the number of pending commands.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "starlight_queue_depth",
		Help: "Current number of commands waiting in the queue",
	})

	// ConsensusRounds counts resolved consensus rounds by outcome.
	ConsensusRounds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starlight_consensus_rounds_total",
		Help: "Total consensus rounds resolved, by outcome",
	}, []string{"outcome"}) // clear, wait

	// ConsensusRoundDuration tracks how long a round took to resolve.
	ConsensusRoundDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "starlight_consensus_round_duration_seconds",
		Help:    "Duration from pre-check broadcast to round resolution",
		Buckets: prometheus.DefBuckets,
	})

	// LockHoldSeconds tracks how long the preemption lock was held.
	LockHoldSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "starlight_lock_hold_seconds",
		Help:    "Duration the preemption lock was held by an agent",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	// LockPreemptions counts successful priority preemptions.
	LockPreemptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "starlight_lock_preemptions_total",
		Help: "Total number of times the lock changed owner via preemption",
	})

	// LockTTLExpirations counts forced releases due to TTL expiry.
	LockTTLExpirations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "starlight_lock_ttl_expirations_total",
		Help: "Total number of preemption locks force-released by TTL",
	})

	// CommandOutcomes counts terminal command outcomes.
	CommandOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starlight_command_outcomes_total",
		Help: "Terminal command outcomes by cmd kind and result",
	}, []string{"cmd", "result"}) // result: success, failure, forced

	// ResolverOutcomes counts semantic resolution attempts.
	ResolverOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starlight_resolver_outcomes_total",
		Help: "Semantic goal resolution attempts by outcome",
	}, []string{"resolver", "outcome"}) // outcome: live_hit, self_healed, miss

	// LearningStoreSize tracks the number of learned selector mappings.
	LearningStoreSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "starlight_learning_store_size",
		Help: "Number of goal/selector mappings currently held in memory",
	})

	// ScreenshotsSkipped counts screenshots skipped due to throttling.
	ScreenshotsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "starlight_screenshots_skipped_total",
		Help: "Screenshot captures skipped because the throttle token was unavailable",
	})

	// PipelineLoopDuration tracks a single iteration of the execution loop.
	PipelineLoopDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "starlight_pipeline_loop_duration_seconds",
		Help:    "Duration of one iteration of the command pipeline loop",
		Buckets: prometheus.DefBuckets,
	})

	// ForcedProceeds counts commands that bypassed consensus after exhausting retries.
	ForcedProceeds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "starlight_forced_proceeds_total",
		Help: "Commands executed despite non-CLEAR consensus after exhausting maxPreCheckRetries",
	})
)
