package config

import (
	"fmt"
	"os"

	sigsyaml "sigs.k8s.io/yaml"

	"github.com/hupe1980/chartprune/internal/rules"
)

// ParseRules extracts the rules section from raw config file bytes. It
// returns nil when the section is absent or empty.
//
// The section is decoded directly rather than through viper so chart names
// keep their case.
func ParseRules(data []byte) (*rules.Spec, error) {
	var raw struct {
		Rules *rules.Spec `json:"rules,omitempty"`
	}

	if err := sigsyaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing rules config: %w", err)
	}

	if raw.Rules == nil || raw.Rules.IsZero() {
		return nil, nil
	}

	return raw.Rules, nil
}

// LoadRules returns the directives for a run: the rules section of the
// config file in use when it has one, otherwise the compiled-in defaults.
func LoadRules(cfg *Config) (*rules.Rules, error) {
	if cfg.ConfigFile == "" {
		return rules.Default(), nil
	}

	data, err := os.ReadFile(cfg.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", cfg.ConfigFile, err)
	}

	spec, err := ParseRules(data)
	if err != nil {
		return nil, err
	}

	if spec == nil {
		return rules.Default(), nil
	}

	r := rules.FromSpec(*spec)
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("rules in %s: %w", cfg.ConfigFile, err)
	}

	return r, nil
}
