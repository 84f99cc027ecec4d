package prioritizer

import "testing"

func TestProcessDedupAndBlock(t *testing.T) {
	p := New(DefaultRules(), 3000)
	uris := []string{
		"vless://uuid@example.com:443?security=tls",
		"vless://uuid@example.com:443?security=tls", // exact duplicate
		"trojan://pw@10.0.0.1:443",                  // blocked RFC1918
		"trojan://pw@my.ir:443",                      // blocked .ir
		"short",                                      // too short
	}
	out := p.Process(uris, 42)
	if len(out) != 1 {
		t.Fatalf("expected 1 surviving URI, got %d: %v", len(out), out)
	}
}

func TestProcessMaxTotalCap(t *testing.T) {
	p := New(DefaultRules(), 2)
	uris := []string{
		"vless://a@host1.example.com:443?security=tls",
		"vless://b@host2.example.com:443?security=tls",
		"vless://c@host3.example.com:443?security=tls",
	}
	out := p.Process(uris, 1)
	if len(out) != 2 {
		t.Fatalf("expected cap of 2, got %d", len(out))
	}
}

func TestAssignTierOrdering(t *testing.T) {
	p := New(DefaultRules(), 3000)
	realityCDN := "vless://u@x.cloudflare.com:443?security=reality&pbk=k"
	if tier := p.assignTier(realityCDN); tier != 1 {
		t.Errorf("expected tier 1, got %d", tier)
	}
	realityNoCDN := "vless://u@example.com:443?security=reality&pbk=k"
	if tier := p.assignTier(realityNoCDN); tier != 2 {
		t.Errorf("expected tier 2, got %d", tier)
	}
	ipv6 := "trojan://u@[2001:db8::1]:8080"
	if tier := p.assignTier(ipv6); tier != 7 {
		t.Errorf("expected tier 7, got %d", tier)
	}
	fallback := "ss://aes-256-gcm:pw@example.com:9000"
	if tier := p.assignTier(fallback); tier != 8 {
		t.Errorf("expected tier 8, got %d", tier)
	}
}

func TestProcessDeterministicWithSameNonce(t *testing.T) {
	p := New(DefaultRules(), 3000)
	uris := []string{
		"vless://a@host1.example.com:443?security=tls",
		"vless://b@host2.example.com:443?security=tls",
		"vless://c@host3.example.com:443?security=tls",
		"vless://d@host4.example.com:443?security=tls",
	}
	first := p.Process(append([]string{}, uris...), 7)
	second := p.Process(append([]string{}, uris...), 7)
	if len(first) != len(second) {
		t.Fatalf("length mismatch")
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("same nonce must yield same order, got %v vs %v", first, second)
		}
	}
}
