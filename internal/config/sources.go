package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Source describes one HTTP-list collaborator (the HTTP list fetcher of
// spec §4.7 step 1). Field names and YAML tags are carried over from the teacher's
// ConfigSource (aggregator.go), minus the fields this module doesn't use
// (Type, Auth — Hunter only supports plain-text URI lists today).
type Source struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Enabled  bool   `yaml:"enabled"`
	Timeout  int    `yaml:"timeout,omitempty"` // seconds
	Interval int    `yaml:"interval,omitempty"`
}

// TimeoutDuration returns the source's configured timeout, or a 30s
// fallback if unset — mirroring the teacher's httpClient default.
func (s Source) TimeoutDuration() time.Duration {
	if s.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.Timeout) * time.Second
}

// LoadSources reads sources.yaml, the same shape and loader as the
// teacher's loadSources in aggregator.go.
func LoadSources(path string) ([]Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read sources file %s: %w", path, err)
	}

	var sources []Source
	if err := yaml.Unmarshal(data, &sources); err != nil {
		return nil, fmt.Errorf("config: parse sources file %s: %w", path, err)
	}
	return sources, nil
}
