// Package engineconfig builds the JSON engine configuration documents that
// EngineRunner writes to a temp file before launching Xray, Sing-box or
// Mihomo (spec §6, "Engine configuration emitted to subprocesses"). One
// builder serves both shapes the contract describes: a single-outbound
// bench-probe document and a K-outbound balancer document with a random
// routing balancer. Grounded in the teacher's SubscriptionGenerator
// (subscription.go, configToSingboxOutbound) repurposed from subscription
// rendering to engine-consumable config, and kept as a typed tree
// (encoding/json) rather than the teacher's raw string concatenation, since
// the contract now has two distinct shapes to keep in sync.
package engineconfig

import (
	"encoding/json"
	"fmt"

	"github.com/bahmany/censorship-hunter-sub001/internal/model"
)

// fragmentOutboundTag is the reserved outbound tag for the optional
// Iran-fragment freedom outbound (spec §4.6).
const fragmentOutboundTag = "fragment-out"

type inbound struct {
	Tag      string         `json:"tag"`
	Type     string         `json:"protocol,omitempty"`
	Listen   string         `json:"listen"`
	Port     int            `json:"port"`
	Settings map[string]any `json:"settings"`
}

type doc struct {
	Inbounds  []inbound        `json:"inbounds"`
	Outbounds []map[string]any `json:"outbounds"`
	Routing   *routing         `json:"routing,omitempty"`
}

type routing struct {
	Balancers []balancerEntry `json:"balancers,omitempty"`
	Rules     []rule          `json:"rules"`
}

type balancerEntry struct {
	Tag      string         `json:"tag"`
	Selector []string       `json:"selector"`
	Strategy map[string]any `json:"strategy"`
}

type rule struct {
	Type        string   `json:"type"`
	InboundTag  []string `json:"inboundTag"`
	BalancerTag string   `json:"balancerTag,omitempty"`
	OutboundTag string   `json:"outboundTag,omitempty"`
}

func socksInbound(listenPort int, udp bool) inbound {
	return inbound{
		Tag:    "socks-in",
		Type:   "socks",
		Listen: "127.0.0.1",
		Port:   listenPort,
		Settings: map[string]any{
			"auth": "noauth",
			"udp":  udp,
		},
	}
}

func blackholeOutbound() map[string]any {
	return map[string]any{
		"protocol": "blackhole",
		"tag":      "block",
		"settings": map[string]any{},
	}
}

func fragmentOutbound() map[string]any {
	return map[string]any{
		"protocol": "freedom",
		"tag":      fragmentOutboundTag,
		"settings": map[string]any{
			"fragment": map[string]any{
				"packets": "tlshello",
				"length":  "10-20",
				"interval": "10-20",
			},
		},
	}
}

// BuildProbe renders the single-outbound, no-routing document used by the
// bench-probe engine against one candidate proxy.
func BuildProbe(outbound map[string]any, listenPort int) ([]byte, error) {
	if outbound == nil {
		return nil, fmt.Errorf("engineconfig: nil outbound")
	}
	d := doc{
		Inbounds:  []inbound{socksInbound(listenPort, false)},
		Outbounds: []map[string]any{cloneOutbound(outbound, "proxy-0")},
	}
	return json.Marshal(d)
}

// BalancerOptions configures BuildBalancer.
type BalancerOptions struct {
	ListenPort      int
	FragmentEnabled bool
}

// BuildBalancer renders the K-outbound, randomly-routed document the
// balancer's serving engine runs. backends is the ranked, already-deduped
// set of outbound records to enroll; order is preserved as proxy-0..proxy-(K-1).
// When FragmentEnabled, every backend's streamSettings.sockopt.dialerProxy
// is pointed at the prepended fragment outbound (spec §4.6).
func BuildBalancer(backends []map[string]any, opts BalancerOptions) ([]byte, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("engineconfig: no backends to build balancer config from")
	}

	outbounds := make([]map[string]any, 0, len(backends)+2)
	if opts.FragmentEnabled {
		outbounds = append(outbounds, fragmentOutbound())
	}

	tags := make([]string, 0, len(backends))
	for i, b := range backends {
		tag := fmt.Sprintf("proxy-%d", i)
		ob := cloneOutbound(b, tag)
		if opts.FragmentEnabled {
			wireDialerProxy(ob, fragmentOutboundTag)
		}
		outbounds = append(outbounds, ob)
		tags = append(tags, tag)
	}
	outbounds = append(outbounds, blackholeOutbound())

	d := doc{
		Inbounds:  []inbound{socksInbound(opts.ListenPort, true)},
		Outbounds: outbounds,
		Routing: &routing{
			Balancers: []balancerEntry{{
				Tag:      "lb",
				Selector: tags,
				Strategy: map[string]any{"type": "random"},
			}},
			Rules: []rule{{
				Type:        "field",
				InboundTag:  []string{"socks-in"},
				BalancerTag: "lb",
			}},
		},
	}
	return json.Marshal(d)
}

// cloneOutbound returns a shallow copy of src with tag overwritten, so the
// same ParsedConfig.Outbound value can be reused across multiple renders
// (probe retries, balancer re-seeds) without aliasing mutations.
func cloneOutbound(src map[string]any, tag string) map[string]any {
	dst := make(map[string]any, len(src)+1)
	for k, v := range src {
		dst[k] = v
	}
	dst["tag"] = tag
	return dst
}

func wireDialerProxy(outbound map[string]any, proxyTag string) {
	// Copy the nested maps: cloneOutbound is shallow, so writing into them
	// in place would alter the caller's ParsedConfig.Outbound.
	ss := map[string]any{}
	if orig, ok := outbound["streamSettings"].(map[string]any); ok {
		for k, v := range orig {
			ss[k] = v
		}
	}
	sockopt := map[string]any{}
	if orig, ok := ss["sockopt"].(map[string]any); ok {
		for k, v := range orig {
			sockopt[k] = v
		}
	}
	sockopt["dialerProxy"] = proxyTag
	ss["sockopt"] = sockopt
	outbound["streamSettings"] = ss
}

// OutboundsOf extracts the engine-outbound records from a ranked
// BenchResult slice, preserving order, for handing to BuildBalancer.
func OutboundsOf(results []model.BenchResult) []map[string]any {
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		out = append(out, r.Outbound)
	}
	return out
}
