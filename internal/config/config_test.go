package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigMatchesSpecDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MultiproxyPort != 10808 {
		t.Errorf("expected default port 10808, got %d", cfg.MultiproxyPort)
	}
	if cfg.Workers != 10 {
		t.Errorf("expected default workers 10, got %d", cfg.Workers)
	}
	if cfg.MaxConfigs != 3000 {
		t.Errorf("expected default max configs 3000, got %d", cfg.MaxConfigs)
	}
	if cfg.SleepSec != 300 {
		t.Errorf("expected default sleep 300, got %d", cfg.SleepSec)
	}
	if cfg.TestMode {
		t.Error("expected test mode false by default")
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("missing .env file must not be an error: %v", err)
	}
	if cfg.MultiproxyPort != 10808 {
		t.Errorf("expected defaults preserved, got port %d", cfg.MultiproxyPort)
	}
}

func TestLoadParsesEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hunter.env")
	content := "HUNTER_WORKERS=25\nHUNTER_TEST_MODE=true\n# comment line\nHUNTER_MULTIPROXY_PORT=1080\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workers != 25 {
		t.Errorf("expected workers 25, got %d", cfg.Workers)
	}
	if !cfg.TestMode {
		t.Error("expected test mode true")
	}
	if cfg.MultiproxyPort != 1080 {
		t.Errorf("expected port 1080, got %d", cfg.MultiproxyPort)
	}
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hunter.env")
	if err := os.WriteFile(path, []byte("HUNTER_WORKERS=25\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HUNTER_WORKERS", "99")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workers != 99 {
		t.Errorf("expected environment variable (99) to win over file value (25), got %d", cfg.Workers)
	}
}

func TestValidateRejectsPortOutOfRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TestMode = true
	cfg.MultiproxyPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for out-of-range port")
	}
}

func TestValidateRejectsWorkersOutOfRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TestMode = true
	cfg.Workers = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero workers")
	}
}

func TestValidateRejectsPartialTelegramCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TestMode = true
	cfg.APIID = 12345
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for incomplete Telegram credentials")
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TestMode = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config (test mode) to validate, got: %v", err)
	}
}

func TestLoadSourcesParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	content := "- name: list-a\n  url: https://example.com/a.txt\n  enabled: true\n  timeout: 15\n- name: list-b\n  url: https://example.com/b.txt\n  enabled: false\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	sources, err := LoadSources(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	if sources[0].Name != "list-a" || !sources[0].Enabled {
		t.Errorf("unexpected first source: %+v", sources[0])
	}
	if sources[0].TimeoutDuration().Seconds() != 15 {
		t.Errorf("expected 15s timeout, got %v", sources[0].TimeoutDuration())
	}
	if sources[1].TimeoutDuration().Seconds() != 30 {
		t.Errorf("expected default 30s timeout for unset value, got %v", sources[1].TimeoutDuration())
	}
}

func TestLoadSourcesMissingFileErrors(t *testing.T) {
	_, err := LoadSources(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing sources file")
	}
}
