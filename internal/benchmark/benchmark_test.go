package benchmark

import (
	"context"
	"testing"
	"time"

	"github.com/bahmany/censorship-hunter-sub001/internal/engine"
	"github.com/bahmany/censorship-hunter-sub001/internal/parser"
	"github.com/bahmany/censorship-hunter-sub001/internal/portpool"
	"github.com/bahmany/censorship-hunter-sub001/internal/probe"
	"github.com/bahmany/censorship-hunter-sub001/internal/sysmem"
)

func vlessURI(host string) string {
	return "vless://12345678-1234-1234-1234-123456789012@" + host + ":443?security=tls"
}

func TestRunTestModeProducesSortedResults(t *testing.T) {
	e := New(parser.New(), portpool.New(20000, 4), nil, sysmem.Fixed{Used: 0.1, FreeMib: 4096}, probe.NewTestMode(1))

	uris := []string{vlessURI("a.example.com"), vlessURI("b.example.com"), vlessURI("c.example.com"), "not-a-valid-uri"}
	results := e.Run(context.Background(), uris, Options{TestMode: true, TestURL: "https://example.com", Timeout: 2 * time.Second})

	if len(results) != 3 {
		t.Fatalf("expected 3 results (one URI unparseable), got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].LatencyMS < results[i-1].LatencyMS {
			t.Fatalf("results not sorted ascending by latency: %v", results)
		}
	}
	for _, r := range results {
		if r.LatencyMS < 50 || r.LatencyMS > 300 {
			t.Errorf("test-mode latency out of spec range: %d", r.LatencyMS)
		}
	}
}

func TestRunAbortsUnderCriticalMemoryPressure(t *testing.T) {
	e := New(parser.New(), portpool.New(20000, 4), nil, sysmem.Fixed{Used: 0.95, FreeMib: 4096}, probe.NewTestMode(1))

	uris := make([]string, 120)
	for i := range uris {
		uris[i] = vlessURI("host.example.com")
	}
	results := e.Run(context.Background(), uris, Options{TestMode: true, TestURL: "https://example.com"})
	if len(results) != 0 {
		t.Fatalf("expected zero results when memory is critical from the first chunk, got %d", len(results))
	}
}

func TestAdaptiveWorkersClampsOnLowMemory(t *testing.T) {
	want := AdaptiveWorkers(100, sysmem.Fixed{Used: 0.2, FreeMib: 4096})
	if want > lowMemWorkerCap {
		want = lowMemWorkerCap
	}
	w := AdaptiveWorkers(100, sysmem.Fixed{Used: 0.2, FreeMib: 100})
	if w != want {
		t.Fatalf("expected worker count clamped to %d under low free memory, got %d", want, w)
	}
}

func TestAdaptiveWorkersRespectsUserCap(t *testing.T) {
	w := AdaptiveWorkers(3, sysmem.Fixed{Used: 0.1, FreeMib: 4096})
	if w != 3 {
		t.Fatalf("expected user cap of 3 to be respected, got %d", w)
	}
}

func TestChunkPartitioning(t *testing.T) {
	uris := make([]string, 125)
	chunks := chunk(uris, ChunkSize)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks of size 50/50/25, got %d", len(chunks))
	}
	if len(chunks[0]) != 50 || len(chunks[2]) != 25 {
		t.Fatalf("unexpected chunk sizes: %d, %d, %d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
}

func TestRunOneDropsUnparseableURI(t *testing.T) {
	e := New(parser.New(), portpool.New(20000, 2), map[engine.Variant]*engine.Runner{}, sysmem.Fixed{Used: 0.1, FreeMib: 4096}, probe.NewTestMode(1))
	_, ok := e.runOne(context.Background(), "garbage", Options{TestURL: "https://example.com", Timeout: time.Second})
	if ok {
		t.Fatal("expected unparseable URI to be dropped")
	}
}

func TestRunOneDropsWhenNoEngineRunnersAvailable(t *testing.T) {
	e := New(parser.New(), portpool.New(20000, 2), map[engine.Variant]*engine.Runner{}, sysmem.Fixed{Used: 0.1, FreeMib: 4096}, probe.NewTestMode(1))
	_, ok := e.runOne(context.Background(), vlessURI("host.example.com"), Options{TestURL: "https://example.com", Timeout: time.Second})
	if ok {
		t.Fatal("expected no result when no engine runner resolved for any variant")
	}
}
