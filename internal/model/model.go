// Package model holds the data types shared across Hunter's pipeline
// stages: parser, prioritizer, benchmark engine, balancer and orchestrator.
package model

import "time"

// Scheme identifies a recognised proxy URI scheme.
type Scheme string

const (
	SchemeVMess       Scheme = "vmess"
	SchemeVLESS       Scheme = "vless"
	SchemeTrojan      Scheme = "trojan"
	SchemeShadowsocks Scheme = "ss"
)

// Tier is a latency-based quality class assigned after a successful probe.
type Tier string

const (
	TierGold   Tier = "gold"
	TierSilver Tier = "silver"
	TierBronze Tier = "bronze"
	TierDead   Tier = "dead"
)

// TierOf classifies a latency in milliseconds per spec §3.
func TierOf(latencyMS int) Tier {
	switch {
	case latencyMS <= 0:
		return TierDead
	case latencyMS < 200:
		return TierGold
	case latencyMS < 800:
		return TierSilver
	case latencyMS <= 2000:
		return TierBronze
	default:
		return TierDead
	}
}

// ParsedConfig is the immutable, parsed form of a proxy URI (spec §3).
type ParsedConfig struct {
	URI      string
	Scheme   Scheme
	Host     string
	Port     int
	Identity string // uuid, password, or "method:password"
	PS       string // sanitized remark, "Unknown" if empty

	// Outbound is the engine-consumable, schema-less JSON tree for this
	// config. It is built once by the parser and never mutated afterwards.
	Outbound map[string]any
}

// BenchResult is a ParsedConfig plus the outcome of a successful probe
// (spec §3). Failed probes never produce a BenchResult.
type BenchResult struct {
	ParsedConfig
	LatencyMS  int
	Tier       Tier
	MeasuredAt time.Time
	Engine     string // which engine variant produced this result
}

// Backend is one outbound currently enrolled in the live balancer.
type Backend struct {
	URI                 string
	LatencyMS           int
	Healthy             bool
	AddedAt             time.Time
	ConsecutiveFailures int
}

// CachedConfig is the persisted shape of one balancer-cache entry.
type CachedConfig struct {
	URI       string `json:"uri"`
	LatencyMS int    `json:"latency_ms"`
}

// BalancerCache is the on-disk document written to
// HUNTER_balancer_cache.json (spec §6).
type BalancerCache struct {
	SavedAt int64          `json:"saved_at"`
	Configs []CachedConfig `json:"configs"`
}

// SourceStat carries per-source counters for logging/metrics (added, §3).
type SourceStat struct {
	Name         string
	Fetched      int
	Errored      bool
	LastDuration time.Duration
}

// CycleReport is handed to the Reporter collaborator at the end of a
// cycle (added, §3/§6).
type CycleReport struct {
	CycleNumber int
	StartedAt   time.Time
	Duration    time.Duration
	RawCount    int
	SilverCount int
	Gold        []BenchResult
}
