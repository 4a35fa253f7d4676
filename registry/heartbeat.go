package registry

import (
	"context"
	"log"
	"time"

	"github.com/starlighthub/sentinel-hub/observability"
)

// Supervisor periodically sweeps the registry for agents that have gone
// silent past the configured heartbeat timeout, evicting them and
// invoking onEvict (the hub wires this to lock release and the
// lock_released/agent_left broadcasts). Adapted from the teacher's agent_monitor.go liveness
// ticker.
type Supervisor struct {
	registry *Registry
	timeout  time.Duration
	interval time.Duration
	onEvict  func(agentID string, wasReady bool)
}

// NewSupervisor returns a Supervisor that checks every interval and evicts
// agents silent for longer than timeout.
func NewSupervisor(r *Registry, timeout, interval time.Duration, onEvict func(agentID string, wasReady bool)) *Supervisor {
	return &Supervisor{registry: r, timeout: timeout, interval: interval, onEvict: onEvict}
}

// Run blocks sweeping on a ticker until ctx is canceled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Supervisor) sweep() {
	now := time.Now()
	var stale []string
	layers := make(map[string]string)

	s.registry.mu.RLock()
	for id, a := range s.registry.agents {
		if now.Sub(a.LastSeen) > s.timeout {
			stale = append(stale, id)
			layers[id] = a.Layer
		}
	}
	s.registry.mu.RUnlock()

	for _, id := range stale {
		wasReady := s.registry.Remove(id)
		observability.AgentEvictions.WithLabelValues(layers[id]).Inc()
		log.Printf("Registry: evicting agent %s after %s of silence", id, s.timeout)
		if s.onEvict != nil {
			s.onEvict(id, wasReady)
		}
	}
}
