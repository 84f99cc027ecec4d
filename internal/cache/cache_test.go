package cache

import (
	"path/filepath"
	"testing"

	"github.com/bahmany/censorship-hunter-sub001/internal/model"
)

func TestLoadUniqueSetMissingFileIsEmpty(t *testing.T) {
	s, err := LoadUniqueSet(filepath.Join(t.TempDir(), "missing.txt"))
	if err != nil {
		t.Fatalf("missing file must not be an error: %v", err)
	}
	if s.Size() != 0 {
		t.Fatalf("expected empty set, got size %d", s.Size())
	}
}

func TestAppendUniqueDeduplicatesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscriptions_cache.txt")
	s, err := LoadUniqueSet(path)
	if err != nil {
		t.Fatal(err)
	}

	n, err := s.AppendUnique([]string{"a", "b", "a"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 newly added URIs, got %d", n)
	}
	if s.Size() != 2 {
		t.Fatalf("expected set size 2, got %d", s.Size())
	}

	reloaded, err := LoadUniqueSet(path)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Size() != 2 {
		t.Fatalf("expected reloaded set size 2, got %d", reloaded.Size())
	}
}

func TestAppendUniqueAllDuplicatesReturnsZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.txt")
	s, err := LoadUniqueSet(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendUnique([]string{"a", "b"}); err != nil {
		t.Fatal(err)
	}

	n, err := s.AppendUnique([]string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected 0 newly added URIs for an all-duplicate batch, got %d", n)
	}
}

func TestSaveAndLoadBalancerCacheRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "HUNTER_balancer_cache.json")

	results := []model.BenchResult{
		{ParsedConfig: model.ParsedConfig{URI: "uri-slow"}, LatencyMS: 300},
		{ParsedConfig: model.ParsedConfig{URI: "uri-fast"}, LatencyMS: 50},
		{ParsedConfig: model.ParsedConfig{URI: "uri-mid"}, LatencyMS: 150},
	}

	if err := SaveBalancerCache(path, 1000, results); err != nil {
		t.Fatal(err)
	}

	bc, err := LoadBalancerCache(path)
	if err != nil {
		t.Fatal(err)
	}
	if bc.SavedAt != 1000 {
		t.Fatalf("expected SavedAt 1000, got %d", bc.SavedAt)
	}
	if len(bc.Configs) != 3 {
		t.Fatalf("expected 3 configs, got %d", len(bc.Configs))
	}
	if bc.Configs[0].URI != "uri-fast" || bc.Configs[1].URI != "uri-mid" || bc.Configs[2].URI != "uri-slow" {
		t.Fatalf("expected configs sorted ascending by latency, got %+v", bc.Configs)
	}
}

func TestSaveBalancerCacheCapsAtMaxEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "HUNTER_balancer_cache.json")

	results := make([]model.BenchResult, MaxBalancerCacheEntries+50)
	for i := range results {
		results[i] = model.BenchResult{
			ParsedConfig: model.ParsedConfig{URI: "uri"},
			LatencyMS:    i,
		}
	}

	if err := SaveBalancerCache(path, 1, results); err != nil {
		t.Fatal(err)
	}
	bc, err := LoadBalancerCache(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(bc.Configs) != MaxBalancerCacheEntries {
		t.Fatalf("expected cache capped at %d entries, got %d", MaxBalancerCacheEntries, len(bc.Configs))
	}
}

func TestLoadBalancerCacheMissingFileIsEmpty(t *testing.T) {
	bc, err := LoadBalancerCache(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("missing file must not be an error: %v", err)
	}
	if len(bc.Configs) != 0 {
		t.Fatalf("expected empty cache, got %d configs", len(bc.Configs))
	}
}

func TestWriteTierFileNewlineSeparated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "HUNTER_gold.txt")
	if err := WriteTierFile(path, []string{"uri-a", "uri-b"}); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadUniqueSet(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != 2 {
		t.Fatalf("expected 2 lines in tier file, got %d", loaded.Size())
	}
}

func TestFailureCounterResetsOnNonEmptyScrape(t *testing.T) {
	var fc FailureCounter
	if got := fc.RecordScrape(0); got != 1 {
		t.Fatalf("expected counter 1 after first empty scrape, got %d", got)
	}
	if got := fc.RecordScrape(0); got != 2 {
		t.Fatalf("expected counter 2 after second empty scrape, got %d", got)
	}
	if got := fc.RecordScrape(10); got != 0 {
		t.Fatalf("expected counter reset to 0 after a non-empty scrape, got %d", got)
	}
}
