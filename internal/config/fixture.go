package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Fixture holds rows to load into one table before a suite runs
type Fixture struct {
	Table string           `yaml:"table"`
	Rows  []map[string]any `yaml:"rows"`
}

// LoadFixture reads a YAML fixture file
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}

	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}
	if fx.Table == "" {
		return nil, fmt.Errorf("fixture %s names no table", path)
	}

	return &fx, nil
}

// SaveFixture writes a YAML fixture file
func SaveFixture(path string, fx *Fixture) error {
	data, err := yaml.Marshal(fx)
	if err != nil {
		return fmt.Errorf("failed to encode fixture: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}
