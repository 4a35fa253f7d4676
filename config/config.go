// Package config loads the hub's flat configuration enumeration (spec §6)
// from an optional JSON file with environment-variable overrides, in the
// same spirit as the teacher's inline env-driven defaults in main.go.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ShadowDOM controls the depth of shadow-root traversal during semantic
// resolution.
type ShadowDOM struct {
	Enabled  bool `json:"enabled"`
	MaxDepth int  `json:"maxDepth"`
}

// Browser carries opaque driver configuration; the hub never interprets it.
type Browser struct {
	Engine   string `json:"engine"` // chromium|firefox|webkit|stealth
	Headless bool   `json:"headless"`
}

// Config is the flat enumeration of recognized options from spec §6.
type Config struct {
	Port int `json:"port"`

	AuthToken string `json:"authToken"`

	HeartbeatTimeout time.Duration `json:"-"`
	HeartbeatTimeoutMS int64 `json:"heartbeatTimeout"`

	LockTTL   time.Duration `json:"-"`
	LockTTLMS int64         `json:"lockTTL"`

	MissionTimeout   time.Duration `json:"-"`
	MissionTimeoutMS int64         `json:"missionTimeout"`

	SyncBudget   time.Duration `json:"-"`
	SyncBudgetMS int64         `json:"syncBudget"`

	ConsensusTimeout   time.Duration `json:"-"`
	ConsensusTimeoutMS int64         `json:"consensusTimeout"`

	// SettlementWindow is the mandatory delay before a quorum-reached
	// round resolves CLEAR, giving a late veto a chance to arrive
	// (spec §4.3: "default 500ms from round start").
	SettlementWindow   time.Duration `json:"-"`
	SettlementWindowMS int64         `json:"settlementWindowMs"`

	QuorumThreshold float64 `json:"quorumThreshold"`

	MaxPreCheckRetries int `json:"maxPreCheckRetries"`

	AuraPredictiveWait   time.Duration `json:"-"`
	AuraPredictiveWaitMS int64         `json:"auraPredictiveWaitMs"`

	AuraBucket   time.Duration `json:"-"`
	AuraBucketMS int64         `json:"auraBucketMs"`

	EntropyThrottle   time.Duration `json:"-"`
	EntropyThrottleMS int64         `json:"entropyThrottle"`

	ScreenshotThrottle   time.Duration `json:"-"`
	ScreenshotThrottleMS int64         `json:"screenshotThrottleMs"`

	ScreenshotMaxAge   time.Duration `json:"-"`
	ScreenshotMaxAgeMS int64         `json:"screenshotMaxAge"`

	TraceMaxEvents int `json:"traceMaxEvents"`

	ShadowDom ShadowDOM `json:"shadowDom"`
	Browser   Browser   `json:"browser"`

	// SettlementExtendedByStabilityHint is decoded from config but no
	// component reads it: the consensus settlement window stays at
	// SettlementWindow whatever its value, and a command's stabilityHint
	// lengthens neither that window nor the aura pre-wait.
	SettlementExtendedByStabilityHint bool `json:"settlementExtendedByStabilityHint"`

	// TestMode disables screenshot throttling, matching the source's
	// env-driven test flag.
	TestMode bool `json:"-"`

	// StoreBackend selects the command-id dedupe backend: "redis",
	// "postgres", or any other value (including the default "file") for an
	// in-memory backend. The learning store and trace always persist to
	// local JSON files regardless.
	StoreBackend string `json:"storeBackend"`
	RedisAddr    string `json:"-"`
	PostgresDSN  string `json:"-"`

	// AdminToken protects operator HTTP surfaces (debug snapshot) and is
	// independent of agent-to-hub authentication.
	AdminToken string `json:"-"`
}

// Default returns the spec's documented defaults.
func Default() *Config {
	c := &Config{
		Port:                 8080,
		HeartbeatTimeoutMS:   5000,
		LockTTLMS:            5000,
		MissionTimeoutMS:     180000,
		SyncBudgetMS:         30000,
		ConsensusTimeoutMS:   5000,
		SettlementWindowMS:   500,
		QuorumThreshold:      1.0,
		MaxPreCheckRetries:   3,
		AuraPredictiveWaitMS: 1500,
		AuraBucketMS:         500,
		EntropyThrottleMS:    500,
		ScreenshotThrottleMS: 1500,
		ScreenshotMaxAgeMS:   86_400_000,
		TraceMaxEvents:       500,
		ShadowDom:            ShadowDOM{Enabled: true, MaxDepth: 5},
		StoreBackend:         "file",
	}
	c.resolveDurations()
	return c
}

func (c *Config) resolveDurations() {
	c.HeartbeatTimeout = time.Duration(c.HeartbeatTimeoutMS) * time.Millisecond
	c.LockTTL = time.Duration(c.LockTTLMS) * time.Millisecond
	c.MissionTimeout = time.Duration(c.MissionTimeoutMS) * time.Millisecond
	c.SyncBudget = time.Duration(c.SyncBudgetMS) * time.Millisecond
	c.ConsensusTimeout = time.Duration(c.ConsensusTimeoutMS) * time.Millisecond
	c.SettlementWindow = time.Duration(c.SettlementWindowMS) * time.Millisecond
	c.AuraPredictiveWait = time.Duration(c.AuraPredictiveWaitMS) * time.Millisecond
	c.AuraBucket = time.Duration(c.AuraBucketMS) * time.Millisecond
	c.EntropyThrottle = time.Duration(c.EntropyThrottleMS) * time.Millisecond
	c.ScreenshotThrottle = time.Duration(c.ScreenshotThrottleMS) * time.Millisecond
	c.ScreenshotMaxAge = time.Duration(c.ScreenshotMaxAgeMS) * time.Millisecond
}

// Load reads a JSON config file (if path is non-empty and exists) over the
// defaults, then applies environment variable overrides, mirroring the
// teacher's os.Getenv + fmt.Sscanf override pattern in main.go.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.resolveDurations()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("HUB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := os.Getenv("HUB_AUTH_TOKEN"); v != "" {
		c.AuthToken = v
	}
	if v := os.Getenv("HUB_ADMIN_TOKEN"); v != "" {
		c.AdminToken = v
	}
	if v := os.Getenv("HUB_TEST_MODE"); v == "true" || v == "1" {
		c.TestMode = true
	}
	if v := os.Getenv("HUB_STORE_BACKEND"); v != "" {
		c.StoreBackend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.PostgresDSN = v
	}
	if v := os.Getenv("HUB_MAX_PRECHECK_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.MaxPreCheckRetries = n
		}
	}
	if v := os.Getenv("HUB_QUORUM_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.QuorumThreshold = f
		}
	}
}
