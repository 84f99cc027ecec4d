// Package orchestrator drives Hunter's top-level cycle loop (spec §4.7):
// fan out to sources, merge with the warm-start cache, dedup+prioritize,
// benchmark, tier, update the balancer, persist caches, report, sleep.
// Grounded in the teacher's Aggregator.FetchAndProcessConfigs for the
// fan-out-then-merge shape, generalized from one-shot CLI invocation to a
// cancellable, sleeping loop the way jhkimqd-chaos-utils/cmd/chaos-runner's
// main loop drives its own orchestrator package.
package orchestrator

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bahmany/censorship-hunter-sub001/internal/balancer"
	"github.com/bahmany/censorship-hunter-sub001/internal/benchmark"
	"github.com/bahmany/censorship-hunter-sub001/internal/cache"
	"github.com/bahmany/censorship-hunter-sub001/internal/model"
	"github.com/bahmany/censorship-hunter-sub001/internal/parser"
	"github.com/bahmany/censorship-hunter-sub001/internal/prioritizer"
	"github.com/bahmany/censorship-hunter-sub001/internal/report"
	"github.com/bahmany/censorship-hunter-sub001/internal/source"
)

const (
	// warmStartThreshold is spec §4.7 step 2's "minimum threshold".
	warmStartThreshold = 500

	// goldCap / silverCap are spec §4.7 step 7's tier caps.
	goldCap   = 100
	silverCap = 200

	// consecutiveFailureFallback is spec §4.7's "consecutive-failure
	// counter >= 2" threshold for falling back to the working-set cache.
	consecutiveFailureFallback = 2
)

// Options configures one Orchestrator (spec §6 env keys, plus file paths
// the spec names for persistent state).
type Options struct {
	Sleep          time.Duration
	MaxTotal       int
	BenchOptions   benchmark.Options
	BalancerOpts   balancer.Options
	StateDir       string
}

func (o Options) path(name string) string {
	return filepath.Join(o.StateDir, name)
}

// Orchestrator is the top-level driver. It owns no subprocess directly;
// every subprocess lifetime is delegated to the benchmark.Engine and the
// balancer.Supervisor it wires together.
type Orchestrator struct {
	sources     []source.Source
	prioritizer *prioritizer.Prioritizer
	bench       *benchmark.Engine
	sup         *balancer.Supervisor
	reporter    report.Reporter
	parser      *parser.Parser
	opts        Options

	rawCache     *cache.UniqueSet
	workingCache *cache.UniqueSet
	failures     cache.FailureCounter

	cycleNumber int
}

// New wires the full pipeline. rawCache/workingCache are the
// spec's "raw-set file"/"working-set file" (spec §4/§6).
func New(
	sources []source.Source,
	prioritizer *prioritizer.Prioritizer,
	bench *benchmark.Engine,
	sup *balancer.Supervisor,
	reporter report.Reporter,
	rawCache *cache.UniqueSet,
	workingCache *cache.UniqueSet,
	opts Options,
) *Orchestrator {
	return &Orchestrator{
		sources:      sources,
		prioritizer:  prioritizer,
		bench:        bench,
		sup:          sup,
		reporter:     reporter,
		parser:       parser.New(),
		rawCache:     rawCache,
		workingCache: workingCache,
		opts:         opts,
	}
}

// Run starts the balancer with a warm-start seed from the balancer cache
// (spec §6's "Consumed as warm-start seed by balancer on next run"), then
// loops startCycle until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	seed := o.warmStartCandidates()
	if err := o.sup.Start(ctx, seed); err != nil {
		return err
	}
	defer o.sup.Stop()

	for ctx.Err() == nil {
		o.cycleNumber++
		o.runCycle(ctx)

		if !sleepCancellable(ctx, o.opts.Sleep) {
			break
		}
	}
	return nil
}

// warmStartCandidates rebuilds balancer.Candidates from the persisted
// balancer cache. The cache only stores the URI and latency (spec §6); the
// balancer can only adopt a candidate whose Outbound tree is populated
// (probeCandidate -> engineconfig.BuildProbe rejects a nil outbound), so
// each cached URI is re-parsed here rather than carried across as-is.
func (o *Orchestrator) warmStartCandidates() []balancer.Candidate {
	bc, err := cache.LoadBalancerCache(o.opts.path("HUNTER_balancer_cache.json"))
	if err != nil {
		log.Warn().Err(err).Msg("orchestrator: failed to load balancer warm-start cache")
		return nil
	}
	candidates := make([]balancer.Candidate, 0, len(bc.Configs))
	for _, c := range bc.Configs {
		parsed := o.parser.Parse(c.URI)
		if parsed == nil {
			log.Warn().Str("uri", c.URI).Msg("orchestrator: dropping unparseable warm-start candidate")
			continue
		}
		candidates = append(candidates, balancer.Candidate{URI: c.URI, LatencyMS: c.LatencyMS, Outbound: parsed.Outbound})
	}
	return candidates
}

// runCycle implements startCycle()'s 11 steps (spec §4.7). Every step
// after scraping is best-effort: a failure is logged and the cycle moves
// on rather than aborting, matching spec's resilience posture.
func (o *Orchestrator) runCycle(ctx context.Context) {
	started := time.Now()
	log.Info().Int("cycle", o.cycleNumber).Msg("orchestrator: cycle starting")

	// 1. scrape.
	raw := source.FanOut(ctx, o.sources)
	failureCount := o.failures.RecordScrape(len(raw))

	if len(raw) == 0 && failureCount >= consecutiveFailureFallback {
		log.Warn().Int("consecutive_failures", failureCount).Msg("orchestrator: falling back entirely to working-set cache")
		raw = o.workingCache.All()
	} else if len(raw) < warmStartThreshold {
		// 2. merge with warm-start cache if union is below threshold.
		raw = unionStrings(raw, o.rawCache.All())
	}

	// 3. append raw set to cache (append-unique).
	if _, err := o.rawCache.AppendUnique(raw); err != nil {
		log.Warn().Err(err).Msg("orchestrator: failed to persist raw cache")
	}

	// 4. dedup + prioritize + cap.
	nonce := cycleNonce(o.cycleNumber)
	prioritized := o.prioritizer.Process(raw, nonce)

	// 5. benchmark.
	results := o.bench.Run(ctx, prioritized, o.opts.BenchOptions)
	if ctx.Err() != nil {
		return
	}

	// 6. persist working URIs to the working-set cache.
	working := make([]string, len(results))
	for i, r := range results {
		working[i] = r.URI
	}
	if _, err := o.workingCache.AppendUnique(working); err != nil {
		log.Warn().Err(err).Msg("orchestrator: failed to persist working-set cache")
	}

	// 7. tier results.
	gold, silver := tier(results)

	// 8. atomically update the balancer.
	if err := o.sup.UpdateAvailable(ctx, toCandidates(append(gold, silver...))); err != nil {
		log.Warn().Err(err).Msg("orchestrator: balancer update failed")
	}

	// 9. write persisted balancer-cache JSON.
	if err := cache.SaveBalancerCache(o.opts.path("HUNTER_balancer_cache.json"), started.Unix(), append(gold, silver...)); err != nil {
		log.Warn().Err(err).Msg("orchestrator: failed to save balancer cache")
	}
	if err := cache.WriteTierFile(o.opts.path("HUNTER_gold.txt"), urisOf(gold)); err != nil {
		log.Warn().Err(err).Msg("orchestrator: failed to write gold tier file")
	}
	if err := cache.WriteTierFile(o.opts.path("HUNTER_silver.txt"), urisOf(silver)); err != nil {
		log.Warn().Err(err).Msg("orchestrator: failed to write silver tier file")
	}

	// 10. fire-and-forget reporter callback.
	o.reporter.Send(ctx, model.CycleReport{
		CycleNumber: o.cycleNumber,
		StartedAt:   started,
		Duration:    time.Since(started),
		RawCount:    len(raw),
		SilverCount: len(silver),
		Gold:        gold,
	})

	log.Info().
		Int("cycle", o.cycleNumber).
		Int("raw", len(raw)).
		Int("gold", len(gold)).
		Int("silver", len(silver)).
		Dur("duration", time.Since(started)).
		Msg("orchestrator: cycle complete")
}

// tier splits BenchResults into gold/silver, capped per spec §4.7 step 7.
// Bronze and dead results are dropped from the balancer's candidate pool
// but remain in the working-set cache from step 6.
func tier(results []model.BenchResult) (gold, silver []model.BenchResult) {
	for _, r := range results {
		switch r.Tier {
		case model.TierGold:
			if len(gold) < goldCap {
				gold = append(gold, r)
			}
		case model.TierSilver:
			if len(silver) < silverCap {
				silver = append(silver, r)
			}
		}
	}
	return gold, silver
}

func toCandidates(results []model.BenchResult) []balancer.Candidate {
	out := make([]balancer.Candidate, len(results))
	for i, r := range results {
		out[i] = balancer.Candidate{URI: r.URI, LatencyMS: r.LatencyMS, Outbound: r.Outbound}
	}
	return out
}

func urisOf(results []model.BenchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.URI
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// cycleNonce derives the prioritizer's per-cycle shuffle seed from the
// cycle number alone (spec: "deterministic shuffle ... seeded from a
// per-cycle nonce" — deterministic across repeated runs given the same
// cycle number, which keeps tests reproducible without a wall-clock read).
func cycleNonce(cycle int) int64 {
	return int64(cycle)*2654435761 + 1
}

// sleepCancellable sleeps in <=1s slices (spec §5: "cancellable in <=1 s
// slices to remain responsive to shutdown") and returns false if ctx was
// cancelled before the sleep completed.
func sleepCancellable(ctx context.Context, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		slice := remaining
		if slice > time.Second {
			slice = time.Second
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(slice):
		}
	}
}
