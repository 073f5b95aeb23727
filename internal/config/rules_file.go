package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/faucetdb/quotakey/internal/model"
)

// RulesFile is the on-disk YAML layout for rate limit rules:
//
//	sandbox:
//	  - endpoint: run-comparison
//	    max_per_minute: 50
//	production:
//	  - endpoint: run-comparison
//	    max_per_minute: 200
type RulesFile struct {
	Sandbox    []RuleYAML `yaml:"sandbox"`
	Production []RuleYAML `yaml:"production"`
}

// RuleYAML is one rule entry in a RulesFile.
type RuleYAML struct {
	Endpoint     string `yaml:"endpoint"`
	MaxPerMinute int    `yaml:"max_per_minute"`
	MaxPerHour   int    `yaml:"max_per_hour"`
	MaxPerDay    int    `yaml:"max_per_day"`
}

// LoadRulesFile reads and validates a YAML rules file.
func LoadRulesFile(path string) ([]model.RateLimitRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes YAML rules and flattens them into RateLimitRule values.
func ParseRules(data []byte) ([]model.RateLimitRule, error) {
	var f RulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules yaml: %w", err)
	}

	var rules []model.RateLimitRule
	seen := make(map[string]bool)
	add := func(mode model.EnvironmentMode, entries []RuleYAML) error {
		for _, e := range entries {
			if e.Endpoint == "" {
				return fmt.Errorf("%s: rule without endpoint", mode)
			}
			if e.MaxPerMinute < 0 || e.MaxPerHour < 0 || e.MaxPerDay < 0 {
				return fmt.Errorf("%s/%s: limits must be non-negative", mode, e.Endpoint)
			}
			key := string(mode) + "/" + e.Endpoint
			if seen[key] {
				return fmt.Errorf("%s: duplicate rule", key)
			}
			seen[key] = true
			rules = append(rules, model.RateLimitRule{
				Endpoint:        e.Endpoint,
				EnvironmentMode: mode,
				MaxPerMinute:    e.MaxPerMinute,
				MaxPerHour:      e.MaxPerHour,
				MaxPerDay:       e.MaxPerDay,
			})
		}
		return nil
	}

	if err := add(model.ModeSandbox, f.Sandbox); err != nil {
		return nil, err
	}
	if err := add(model.ModeProduction, f.Production); err != nil {
		return nil, err
	}
	return rules, nil
}
