package prioritizer

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// Rules is the anti-DPI heuristic configuration consulted by Process.
// It is data, not code: LoadRules can overlay a JSONC document (comments
// allowed) onto DefaultRules via tidwall/jsonc, the one teacher dependency
// (go.mod) the teacher's own core never exercised. cmd/hunter runs on
// DefaultRules and loads no rules file.
type Rules struct {
	BlockedPatterns []string `json:"blocked_patterns"`
	CDNDomains      []string `json:"cdn_domains"`
	WhitelistPorts  []int    `json:"whitelist_ports"`
}

// DefaultRules returns the built-in anti-DPI heuristic set from spec §4.2.
func DefaultRules() Rules {
	return Rules{
		BlockedPatterns: []string{
			".ir", "iran", "10.", "192.168.", "127.", "0.0.0.0", "localhost", "10.10.34.",
		},
		CDNDomains: []string{
			"cloudflare", "cdn.cloudflare", "fastly", "akamai", "azureedge", "azure",
			"amazonaws", "cloudfront", "googleusercontent", "google", "gstatic",
			"jsdelivr", "vercel", "netlify", "arvancloud", "workers.dev", "trycloudflare",
			"edgesuite.net", "edgekey.net",
		},
		WhitelistPorts: []int{443, 8443, 2053, 2083, 2087, 2096, 80, 8080},
	}
}

// LoadRules reads a JSONC rules document and overlays it onto the
// defaults. A missing file is not an error: defaults are returned as-is.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return rules, nil
	}
	if err != nil {
		return rules, fmt.Errorf("read rules file %s: %w", path, err)
	}

	stripped := jsonc.ToJSON(raw)
	if err := json.Unmarshal(stripped, &rules); err != nil {
		return rules, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return rules, nil
}
