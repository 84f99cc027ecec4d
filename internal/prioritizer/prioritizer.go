// Package prioritizer implements the deduplication and anti-DPI
// prioritization pipeline stage described in spec §4.2. It sits between
// the fetch fan-out and the benchmark engine: raw URI strings in,
// deduplicated/tiered/capped URI strings out.
//
// The dedup idiom (exact-match set via map[string]struct{}, explicit
// set-union instead of a list/set shape mismatch) is the fix spec §9
// prescribes for the "Total raw configs: 0" class of bug, and mirrors
// the teacher's own configKey/seen map in Aggregator.FetchAndProcessConfigs.
package prioritizer

import (
	"math/rand"
	"strconv"
	"strings"
)

// Prioritizer deduplicates, blocklists, tiers and caps a raw URI batch.
type Prioritizer struct {
	rules    Rules
	maxTotal int
}

// New creates a Prioritizer bound to a rule set and a hard cap on output
// size (spec §4.2 "max_total", default 3000).
func New(rules Rules, maxTotal int) *Prioritizer {
	if maxTotal <= 0 {
		maxTotal = 3000
	}
	return &Prioritizer{rules: rules, maxTotal: maxTotal}
}

// Process runs steps (a)-(f) of spec §4.2 and returns the final ordered,
// capped URI slice. nonce seeds the deterministic intra-tier shuffle
// (spec §4.2: "deterministic shuffle is acceptable if seeded from a
// per-cycle nonce"); callers should mint one nonce per orchestrator cycle.
func (p *Prioritizer) Process(uris []string, nonce int64) []string {
	seen := make(map[string]struct{}, len(uris))
	tiers := make([][]string, 8)

	for _, raw := range uris {
		u := raw
		if len(u) < 10 {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}

		lower := strings.ToLower(u)
		if p.isBlocked(lower) {
			continue
		}

		tier := p.assignTier(lower)
		tiers[tier-1] = append(tiers[tier-1], u)
	}

	rng := rand.New(rand.NewSource(nonce))
	var out []string
	for _, bucket := range tiers {
		shuffleStrings(rng, bucket)
		out = append(out, bucket...)
	}

	if len(out) > p.maxTotal {
		out = out[:p.maxTotal]
	}
	return out
}

func shuffleStrings(rng *rand.Rand, s []string) {
	rng.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}

func (p *Prioritizer) isBlocked(lowerURI string) bool {
	for _, pattern := range p.rules.BlockedPatterns {
		if strings.Contains(lowerURI, pattern) {
			return true
		}
	}
	return false
}

func (p *Prioritizer) hasCDNDomain(lowerURI string) bool {
	for _, d := range p.rules.CDNDomains {
		if strings.Contains(lowerURI, d) {
			return true
		}
	}
	return false
}

func (p *Prioritizer) onWhitelistPort(lowerURI string) bool {
	for _, port := range p.rules.WhitelistPorts {
		if strings.Contains(lowerURI, ":"+strconv.Itoa(port)) {
			return true
		}
	}
	return false
}

// assignTier implements the first-match-wins ladder from spec §4.2.
// Returns a tier number 1-8.
func (p *Prioritizer) assignTier(lowerURI string) int {
	isVless := strings.Contains(lowerURI, "vless")
	isTrojan := strings.Contains(lowerURI, "trojan")
	isVmess := strings.Contains(lowerURI, "vmess")
	hasReality := strings.Contains(lowerURI, "reality") || strings.Contains(lowerURI, "pbk=")
	hasTLS := strings.Contains(lowerURI, "tls") || strings.Contains(lowerURI, "security=tls")
	hasWS := strings.Contains(lowerURI, "ws") || strings.Contains(lowerURI, "websocket")
	hasGRPCLike := strings.Contains(lowerURI, "grpc") || strings.Contains(lowerURI, "gun") || strings.Contains(lowerURI, "h2")
	isIPv6 := strings.Contains(lowerURI, "[") && strings.Contains(lowerURI, "]")
	onWhitelistPort := p.onWhitelistPort(lowerURI)
	hasCDN := p.hasCDNDomain(lowerURI)

	switch {
	case isVless && hasReality && hasCDN:
		return 1
	case isVless && hasReality:
		return 2
	case (isVless || isTrojan || isVmess) && hasGRPCLike && hasTLS:
		return 3
	case hasWS && hasTLS && onWhitelistPort:
		return 4
	case isVmess && hasWS && hasTLS && hasCDN:
		return 5
	case hasTLS && onWhitelistPort:
		return 6
	case isIPv6:
		return 7
	default:
		return 8
	}
}
