package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/radarlab/radar/internal/domain"
)

// SourceEntry is one configured source in sources.yaml.
type SourceEntry struct {
	Code         string                 `yaml:"code"`
	Kind         string                 `yaml:"kind"`
	Name         string                 `yaml:"name"`
	Locator      string                 `yaml:"locator"`
	TrustLevel   int                    `yaml:"trust_level"`
	Enabled      bool                   `yaml:"enabled"`
	PollInterval time.Duration          `yaml:"-"`
	BackfillDays int                    `yaml:"backfill_days"`
	Config       map[string]interface{} `yaml:"config,omitempty"`
}

// UnmarshalYAML accepts "5m"-style strings for poll_interval.
func (s *SourceEntry) UnmarshalYAML(value *yaml.Node) error {
	type raw SourceEntry
	aux := struct {
		PollInterval string `yaml:"poll_interval"`
		*raw         `yaml:",inline"`
	}{raw: (*raw)(s)}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	if aux.PollInterval != "" {
		d, err := time.ParseDuration(aux.PollInterval)
		if err != nil {
			return fmt.Errorf("source %s: invalid poll_interval %q: %w", s.Code, aux.PollInterval, err)
		}
		s.PollInterval = d
	}
	return nil
}

// SourcesFile is the top-level shape of sources.yaml.
type SourcesFile struct {
	Sources []SourceEntry `yaml:"sources"`
}

// LoadSources reads and validates the source list.
func LoadSources(path string) ([]SourceEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file %s: %w", path, err)
	}
	var f SourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse sources file %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(f.Sources))
	for i := range f.Sources {
		s := &f.Sources[i]
		if s.Code == "" {
			return nil, fmt.Errorf("sources[%d]: code is required", i)
		}
		if _, dup := seen[s.Code]; dup {
			return nil, fmt.Errorf("duplicate source code %q", s.Code)
		}
		seen[s.Code] = struct{}{}
		switch domain.SourceKind(s.Kind) {
		case domain.SourceKindMessageChannel, domain.SourceKindHTML:
		default:
			return nil, fmt.Errorf("source %s: unknown kind %q", s.Code, s.Kind)
		}
		if s.Locator == "" {
			return nil, fmt.Errorf("source %s: locator is required", s.Code)
		}
		if s.TrustLevel < 0 || s.TrustLevel > 10 {
			return nil, fmt.Errorf("source %s: trust_level must be in [0,10], got %d", s.Code, s.TrustLevel)
		}
		if s.PollInterval <= 0 {
			s.PollInterval = time.Minute
		}
		if s.BackfillDays < 0 {
			return nil, fmt.Errorf("source %s: backfill_days cannot be negative", s.Code)
		}
		if s.BackfillDays > 365 {
			s.BackfillDays = 365
		}
	}
	return f.Sources, nil
}
