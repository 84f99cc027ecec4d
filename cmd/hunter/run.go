package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bahmany/censorship-hunter-sub001/internal/balancer"
	"github.com/bahmany/censorship-hunter-sub001/internal/benchmark"
	"github.com/bahmany/censorship-hunter-sub001/internal/cache"
	"github.com/bahmany/censorship-hunter-sub001/internal/config"
	"github.com/bahmany/censorship-hunter-sub001/internal/engine"
	"github.com/bahmany/censorship-hunter-sub001/internal/metrics"
	"github.com/bahmany/censorship-hunter-sub001/internal/orchestrator"
	"github.com/bahmany/censorship-hunter-sub001/internal/parser"
	"github.com/bahmany/censorship-hunter-sub001/internal/portpool"
	"github.com/bahmany/censorship-hunter-sub001/internal/prioritizer"
	"github.com/bahmany/censorship-hunter-sub001/internal/probe"
	"github.com/bahmany/censorship-hunter-sub001/internal/report"
	"github.com/bahmany/censorship-hunter-sub001/internal/source"
	"github.com/bahmany/censorship-hunter-sub001/internal/sysmem"
)

// configError marks a startup failure as a configuration problem (spec §6:
// exit code 1), distinct from a fatal runtime error (exit code 2).
type configError struct{ err error }

func (e configError) Error() string { return e.err.Error() }
func (e configError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var ce configError
	if errors.As(err, &ce) {
		return 1
	}
	return 2
}

func runHunter(cmd *cobra.Command, args []string) error {
	envPath := cfgFile
	if envPath == "" {
		envPath = "hunter.env"
	}
	cfg, err := config.Load(envPath)
	if err != nil {
		return configError{fmt.Errorf("loading config: %w", err)}
	}
	if err := cfg.Validate(); err != nil {
		return configError{err}
	}

	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	metrics.ServeAddr(metricsCtx, cfg.MetricsAddr)

	orch, err := build(cfg)
	if err != nil {
		return fmt.Errorf("wiring pipeline: %w", err)
	}

	log.Info().Msg("hunter: starting")
	if err := orch.Run(ctx); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	log.Info().Msg("hunter: shutdown complete")
	return nil
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// build wires every package into one Orchestrator (spec §2's system
// overview), resolving engine binaries, sources and collaborators from cfg.
func build(cfg *config.Config) (*orchestrator.Orchestrator, error) {
	binDir := "bin"
	paths := engine.Resolve(binDir)
	if cfg.XrayPath != "" {
		paths[engine.Xray] = cfg.XrayPath
	}
	if cfg.SingboxPath != "" {
		paths[engine.Singbox] = cfg.SingboxPath
	}
	if cfg.MihomoPath != "" {
		paths[engine.Mihomo] = cfg.MihomoPath
	}

	tempDir := os.TempDir()
	runners := make(map[engine.Variant]*engine.Runner)
	var primary *engine.Runner
	for _, v := range engine.Order {
		if _, ok := paths[v]; !ok {
			continue
		}
		r, err := engine.New(v, paths, tempDir)
		if err != nil {
			log.Warn().Str("engine", string(v)).Err(err).Msg("hunter: engine unavailable")
			continue
		}
		runners[v] = r
		if primary == nil {
			primary = r
		}
	}
	if primary == nil {
		return nil, fmt.Errorf("no proxy engine binary resolved (checked %v in %s)", engine.Order, binDir)
	}

	var prober probe.Prober
	if cfg.TestMode {
		prober = probe.NewTestMode(time.Now().UnixNano())
	} else {
		prober = probe.NewLive()
	}

	pool := portpool.New(21000, cfg.Workers*2)
	bench := benchmark.New(parser.New(), pool, runners, sysmem.NewLive(), prober)

	sup := balancer.New(primary, prober, balancer.Options{
		ListenPort:       cfg.MultiproxyPort,
		FragmentEnabled:  cfg.FragmentEnabled,
		ScratchPortBase:  22000,
		ScratchPortCount: 32,
		ProbeTestURL:     "https://www.google.com/generate_204",
		ProbeTimeout:     time.Duration(cfg.TestTimeoutSec) * time.Second,
	})

	sources, err := buildSources(cfg)
	if err != nil {
		return nil, err
	}

	rules := prioritizer.DefaultRules()
	prio := prioritizer.New(rules, cfg.MaxConfigs)

	var reporter report.Reporter = report.Noop{}
	if cfg.ReportURL != "" {
		reporter = report.NewWebhook(cfg.ReportURL)
	}

	rawCache, err := cache.LoadUniqueSet(inState(cfg, "subscriptions_cache.txt"))
	if err != nil {
		return nil, err
	}
	workingCache, err := cache.LoadUniqueSet(inState(cfg, "working_configs_cache.txt"))
	if err != nil {
		return nil, err
	}

	return orchestrator.New(sources, prio, bench, sup, reporter, rawCache, workingCache, orchestrator.Options{
		Sleep:    time.Duration(cfg.SleepSec) * time.Second,
		MaxTotal: cfg.MaxConfigs,
		StateDir: cfg.StateDir,
		BenchOptions: benchmark.Options{
			WorkerCap: cfg.Workers,
			Timeout:   time.Duration(cfg.TestTimeoutSec) * time.Second,
			TestURL:   "https://www.google.com/generate_204",
			TestMode:  cfg.TestMode,
		},
	}), nil
}

func buildSources(cfg *config.Config) ([]source.Source, error) {
	var sources []source.Source

	if cfg.SourcesFile != "" {
		if _, err := os.Stat(cfg.SourcesFile); err == nil {
			entries, err := config.LoadSources(cfg.SourcesFile)
			if err != nil {
				return nil, err
			}
			client := source.NewHTTPClient()
			for _, entry := range entries {
				if !entry.Enabled {
					continue
				}
				sources = append(sources, source.NewHTTPListSource(client, entry))
			}
		}
	}
	return sources, nil
}

func inState(cfg *config.Config, name string) string {
	if cfg.StateDir == "" || cfg.StateDir == "." {
		return name
	}
	return cfg.StateDir + string(os.PathSeparator) + name
}
