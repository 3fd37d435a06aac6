package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RuleConfig is one rule-stage matcher as declared in the rules file.
type RuleConfig struct {
	Name     string   `yaml:"name"`
	Label    string   `yaml:"label"`
	Keywords []string `yaml:"keywords"`
	Pattern  string   `yaml:"pattern"`
}

type rulesFile struct {
	Rules []RuleConfig `yaml:"rules"`
}

// LoadRules reads the classification rules from a YAML file. An empty
// path means no rule stage. A malformed file is an error the caller
// treats as startup-fatal; rule problems must never surface per-request.
func LoadRules(path string) ([]RuleConfig, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var file rulesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	return file.Rules, nil
}
