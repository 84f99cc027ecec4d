// Package config loads Hunter's runtime configuration: a DefaultConfig() +
// Load() + Validate() trio modeled on jhkimqd-chaos-utils/pkg/config's
// Config/DefaultConfig/Load/Validate shape, adapted from that package's
// YAML file to the spec's own `.env`-style key=value file (spec §6), with
// environment variables always taking priority over the file, exactly as
// that package lets PROMETHEUS_URL override its YAML value.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is every HUNTER_* / IRAN_FRAGMENT_* key spec §6 names, typed.
type Config struct {
	// Telegram scraper identity (external collaborator, spec §6).
	APIID   int
	APIHash string
	Phone   string

	MultiproxyPort  int  // HUNTER_MULTIPROXY_PORT
	Workers         int  // HUNTER_WORKERS
	MaxConfigs      int  // HUNTER_MAX_CONFIGS / max_total
	TestTimeoutSec  int  // HUNTER_TEST_TIMEOUT / timeout_seconds
	SleepSec        int  // HUNTER_SLEEP
	TestMode        bool // HUNTER_TEST_MODE
	FragmentEnabled bool // IRAN_FRAGMENT_ENABLED

	XrayPath    string // autodetect if empty
	SingboxPath string
	MihomoPath  string

	SourcesFile string // sources.yaml path (added)
	StateDir    string // directory for cache/tier files (added)

	LogLevel  string // added, mirrors jhkimqd-chaos-utils pkg/reporting
	LogFormat string // "console" or "json"

	MetricsAddr string // added: empty disables internal/metrics.ServeAddr
	ReportURL   string // added: internal/report webhook target, empty disables
}

// DefaultConfig returns Hunter's built-in defaults (spec §6's "Default"
// column), mirroring jhkimqd-chaos-utils's DefaultConfig().
func DefaultConfig() *Config {
	return &Config{
		MultiproxyPort:  10808,
		Workers:         10,
		MaxConfigs:      3000,
		TestTimeoutSec:  7,
		SleepSec:        300,
		TestMode:        false,
		FragmentEnabled: false,
		SourcesFile:     "sources.yaml",
		StateDir:        ".",
		LogLevel:        "info",
		LogFormat:       "console",
	}
}

// Load reads an .env-style key=value file at path (missing file is not an
// error — defaults apply), then lets any HUNTER_*/IRAN_FRAGMENT_*/XRAY_PATH/
// SINGBOX_PATH/MIHOMO_PATH environment variable override the file, exactly
// as jhkimqd-chaos-utils's pkg/config lets PROMETHEUS_URL override its
// YAML value.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	file, err := parseEnvFile(path)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg, lookupFunc(file))
	applyEnv(cfg, os.LookupEnv)

	return cfg, nil
}

func lookupFunc(file map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := file[key]
		return v, ok
	}
}

func parseEnvFile(path string) (map[string]string, error) {
	out := make(map[string]string)
	if path == "" {
		return out, nil
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		out[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: scan %s: %w", path, err)
	}
	return out, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup("HUNTER_API_ID"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.APIID = n
		}
	}
	if v, ok := lookup("HUNTER_API_HASH"); ok {
		cfg.APIHash = v
	}
	if v, ok := lookup("HUNTER_PHONE"); ok {
		cfg.Phone = v
	}
	if v, ok := lookup("HUNTER_MULTIPROXY_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MultiproxyPort = n
		}
	}
	if v, ok := lookup("HUNTER_WORKERS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v, ok := lookup("HUNTER_MAX_CONFIGS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConfigs = n
		}
	}
	if v, ok := lookup("HUNTER_TEST_TIMEOUT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TestTimeoutSec = n
		}
	}
	if v, ok := lookup("HUNTER_SLEEP"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SleepSec = n
		}
	}
	if v, ok := lookup("HUNTER_TEST_MODE"); ok {
		cfg.TestMode = parseBool(v)
	}
	if v, ok := lookup("IRAN_FRAGMENT_ENABLED"); ok {
		cfg.FragmentEnabled = parseBool(v)
	}
	if v, ok := lookup("XRAY_PATH"); ok {
		cfg.XrayPath = v
	}
	if v, ok := lookup("SINGBOX_PATH"); ok {
		cfg.SingboxPath = v
	}
	if v, ok := lookup("MIHOMO_PATH"); ok {
		cfg.MihomoPath = v
	}
	if v, ok := lookup("HUNTER_SOURCES_FILE"); ok {
		cfg.SourcesFile = v
	}
	if v, ok := lookup("HUNTER_STATE_DIR"); ok {
		cfg.StateDir = v
	}
	if v, ok := lookup("HUNTER_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := lookup("HUNTER_LOG_FORMAT"); ok {
		cfg.LogFormat = v
	}
	if v, ok := lookup("HUNTER_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
	if v, ok := lookup("HUNTER_REPORT_URL"); ok {
		cfg.ReportURL = v
	}
}

// parseBool accepts only the literal, case-insensitive "true" (spec §6's
// boolean env-var contract), unlike strconv.ParseBool which also accepts
// 1/t/T and treats 0/f as false.
func parseBool(v string) bool {
	return strings.EqualFold(v, "true")
}

// Validate performs the startup-fatal checks spec §7 requires: a
// misconfigured scraper identity, an out-of-range port, or a nonsensical
// worker/config cap should fail fast rather than misbehave mid-cycle.
func (c *Config) Validate() error {
	if c.MultiproxyPort < 1 || c.MultiproxyPort > 65535 {
		return fmt.Errorf("config: HUNTER_MULTIPROXY_PORT %d out of range 1..65535", c.MultiproxyPort)
	}
	if c.Workers < 1 || c.Workers > 200 {
		return fmt.Errorf("config: HUNTER_WORKERS %d out of range 1..200", c.Workers)
	}
	if c.MaxConfigs < 1 || c.MaxConfigs > 10000 {
		return fmt.Errorf("config: HUNTER_MAX_CONFIGS %d out of range 1..10000", c.MaxConfigs)
	}
	if c.TestTimeoutSec < 1 {
		return fmt.Errorf("config: HUNTER_TEST_TIMEOUT must be >= 1 second")
	}
	if c.SleepSec < 0 {
		return fmt.Errorf("config: HUNTER_SLEEP must be >= 0 seconds")
	}
	telegramFieldsSet := c.APIID != 0 || c.APIHash != "" || c.Phone != ""
	telegramFieldsComplete := c.APIID != 0 && c.APIHash != "" && c.Phone != ""
	if telegramFieldsSet && !telegramFieldsComplete {
		return fmt.Errorf("config: HUNTER_API_ID, HUNTER_API_HASH and HUNTER_PHONE must all be set together or all left empty")
	}
	return nil
}
