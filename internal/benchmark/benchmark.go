// Package benchmark implements the bounded-concurrency validation engine
// (spec §4.5): partitions a prioritized URI batch into fixed-size chunks,
// runs each chunk through an adaptive worker pool with a buffered-channel
// semaphore (the idiom other_examples' httptines worker.go uses for its
// own proxy check fan-out), and degrades under memory pressure instead of
// crashing. Within one URI the three engine variants are attempted
// strictly in order, stopping at the first success.
package benchmark

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bahmany/censorship-hunter-sub001/internal/engine"
	"github.com/bahmany/censorship-hunter-sub001/internal/engineconfig"
	"github.com/bahmany/censorship-hunter-sub001/internal/model"
	"github.com/bahmany/censorship-hunter-sub001/internal/parser"
	"github.com/bahmany/censorship-hunter-sub001/internal/portpool"
	"github.com/bahmany/censorship-hunter-sub001/internal/probe"
	"github.com/bahmany/censorship-hunter-sub001/internal/sysmem"
)

// ChunkSize is the fixed partition size spec §4.5 names.
const ChunkSize = 50

const (
	startupSleep      = 1500 * time.Millisecond
	betweenChunkSleep = 200 * time.Millisecond
	gcSleep           = 500 * time.Millisecond
	lowMemWorkerCap   = 8
)

// Options configures one benchmark() invocation (spec §4.5 "opts").
type Options struct {
	WorkerCap int
	Timeout   time.Duration // fullTimeout
	TestURL   string

	// TestMode skips engine invocation and uses prober directly (spec:
	// "A test mode ... skip engine invocation entirely").
	TestMode bool
}

// Engine runs a prioritized URI batch against a port pool and a set of
// engine runners, producing sorted BenchResults.
type Engine struct {
	parser  *parser.Parser
	pool    *portpool.Pool
	runners map[engine.Variant]*engine.Runner
	memory  sysmem.Reader
	prober  probe.Prober
}

// New constructs a benchmark Engine. runners may be a partial map (spec
// allows missing binaries; fallback ladder just shrinks); prober is
// probe.NewLive() in production or a probe.TestMode/probe.NewLive swapped
// for tests.
func New(p *parser.Parser, pool *portpool.Pool, runners map[engine.Variant]*engine.Runner, memory sysmem.Reader, prober probe.Prober) *Engine {
	return &Engine{parser: p, pool: pool, runners: runners, memory: memory, prober: prober}
}

// AdaptiveWorkers computes W per spec §4.5's formula: min(userCap,
// max(1, min(cpu*2, 150))), further clamped to 8 when free RAM is low.
func AdaptiveWorkers(userCap int, memory sysmem.Reader) int {
	cpu := runtime.NumCPU()
	w := cpu * 2
	if w > 150 {
		w = 150
	}
	if w < 1 {
		w = 1
	}
	if userCap > 0 && userCap < w {
		w = userCap
	}

	if memory != nil {
		if free, err := memory.FreeMiB(); err == nil && free < sysmem.LowFreeMiB && w > lowMemWorkerCap {
			w = lowMemWorkerCap
		}
	}
	return w
}

// Run executes the full chunked benchmark algorithm against uris (already
// prioritized/deduped/capped by the caller) and returns BenchResults sorted
// ascending by latency.
func (e *Engine) Run(ctx context.Context, uris []string, opts Options) []model.BenchResult {
	if opts.Timeout <= 0 {
		opts.Timeout = 7 * time.Second
	}

	w := AdaptiveWorkers(opts.WorkerCap, e.memory)

	var results []model.BenchResult
	var mu sync.Mutex

	chunks := chunk(uris, ChunkSize)
	for _, c := range chunks {
		if ctx.Err() != nil {
			break
		}

		if e.memory != nil {
			if frac, err := e.memory.UsedFraction(); err == nil {
				if frac >= sysmem.AbortThreshold {
					log.Warn().Float64("mem_used", frac).Msg("benchmark: aborting remaining chunks, memory pressure critical")
					break
				}
				if frac >= sysmem.GCThreshold {
					runtime.GC()
					time.Sleep(gcSleep)
				}
			}
		}

		chunkResults := e.runChunk(ctx, c, w, opts)
		mu.Lock()
		results = append(results, chunkResults...)
		mu.Unlock()

		runtime.GC()
		time.Sleep(betweenChunkSleep)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].LatencyMS < results[j].LatencyMS })
	return results
}

func (e *Engine) runChunk(ctx context.Context, uris []string, workers int, opts Options) []model.BenchResult {
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var out []model.BenchResult

	for _, u := range uris {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(uri string) {
			defer wg.Done()
			defer func() { <-sem }()

			if r, ok := e.runOne(ctx, uri, opts); ok {
				mu.Lock()
				out = append(out, r)
				mu.Unlock()
			}
		}(u)
	}
	wg.Wait()
	return out
}

func (e *Engine) runOne(ctx context.Context, uri string, opts Options) (model.BenchResult, bool) {
	parsed := e.parser.Parse(uri)
	if parsed == nil {
		return model.BenchResult{}, false
	}

	if opts.TestMode {
		lat, err := e.prober.Probe(ctx, 0, opts.TestURL, opts.Timeout)
		if err != nil {
			return model.BenchResult{}, false
		}
		return model.BenchResult{
			ParsedConfig: *parsed,
			LatencyMS:    lat,
			Tier:         model.TierOf(lat),
			MeasuredAt:   time.Now(),
			Engine:       "test-mode",
		}, true
	}

	lease, err := e.pool.Acquire(ctx)
	if err != nil {
		return model.BenchResult{}, false
	}
	defer lease.Release()

	primaryTimeout := opts.Timeout / 2
	if primaryTimeout < 3*time.Second {
		primaryTimeout = 3 * time.Second
	}
	timeout := primaryTimeout

	for _, v := range engine.Order {
		runner, ok := e.runners[v]
		if !ok {
			continue
		}

		configJSON, err := engineconfig.BuildProbe(parsed.Outbound, lease.Port)
		if err != nil {
			timeout = opts.Timeout
			continue
		}

		handle, err := runner.Start(ctx, configJSON, lease.Port)
		if err != nil {
			log.Debug().Str("uri", uri).Str("engine", string(v)).Err(err).Msg("benchmark: engine start failed")
			timeout = opts.Timeout
			continue
		}

		time.Sleep(startupSleep)

		lat, err := e.prober.Probe(ctx, lease.Port, opts.TestURL, timeout)
		handle.Stop()

		if err != nil {
			log.Debug().Str("uri", uri).Str("engine", string(v)).Err(err).Msg("benchmark: probe failed")
			timeout = opts.Timeout
			continue
		}

		return model.BenchResult{
			ParsedConfig: *parsed,
			LatencyMS:    lat,
			Tier:         model.TierOf(lat),
			MeasuredAt:   time.Now(),
			Engine:       string(v),
		}, true
	}

	return model.BenchResult{}, false
}

func chunk(uris []string, size int) [][]string {
	var chunks [][]string
	for i := 0; i < len(uris); i += size {
		end := i + size
		if end > len(uris) {
			end = len(uris)
		}
		chunks = append(chunks, uris[i:end])
	}
	return chunks
}
