package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/QTest-hq/formprobe/pkg/form"
)

// DefaultSuiteFileName is looked up when no suite file is named
const DefaultSuiteFileName = "formprobe.yaml"

// SuiteFile represents a formprobe.yaml file: the forms under test and the
// project-wide message templates
type SuiteFile struct {
	Version string `yaml:"version"`

	// Application under test, overriding FORMPROBE_BASE_URL
	BaseURL string `yaml:"base_url,omitempty"`

	// Key non-field errors are reported under
	NonFieldKey string `yaml:"non_field_key,omitempty"`

	// Project-wide message templates by kind
	ErrorMessages map[string]string `yaml:"error_messages,omitempty"`

	// Case selection by glob label
	Include []string `yaml:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty"`

	Suites []SuiteConfig `yaml:"suites"`
}

// SuiteConfig declares one form and the flows run against it
type SuiteConfig struct {
	Form form.Declaration `yaml:"form"`

	// Flow names; empty runs every flow
	Flows []string `yaml:"flows,omitempty"`

	// Declaration attributes every case of the suite requires
	Gates []string `yaml:"gates,omitempty"`

	// Backing table and key column
	Table string `yaml:"table,omitempty"`
	PK    string `yaml:"pk,omitempty"`

	// Account tables of the login and password flows
	UserTable  string `yaml:"user_table,omitempty"`
	ResetTable string `yaml:"reset_table,omitempty"`

	// Fixture files loaded before the suite runs
	Fixtures []string `yaml:"fixtures,omitempty"`
}

// Name returns the suite's label root
func (s SuiteConfig) Name() string {
	return s.Form.Name
}

// DefaultSuiteFile returns sensible defaults
func DefaultSuiteFile() *SuiteFile {
	return &SuiteFile{
		Version:     "1.0",
		NonFieldKey: form.DefaultNonFieldKey,
	}
}

// LoadSuiteFile loads a suite file. A missing formprobe.yaml is also looked
// up as formprobe.yml; when neither exists the defaults are returned.
func LoadSuiteFile(path string) (*SuiteFile, error) {
	if path == "" {
		path = DefaultSuiteFileName
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		alt := strings.TrimSuffix(path, ".yaml") + ".yml"
		if _, err := os.Stat(alt); os.IsNotExist(err) {
			return DefaultSuiteFile(), nil
		}
		path = alt
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite file: %w", err)
	}

	cfg := DefaultSuiteFile()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return cfg, nil
}

// SaveSuiteFile writes the suite file
func SaveSuiteFile(path string, cfg *SuiteFile) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode suite file: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks that every suite is named once
func (c *SuiteFile) Validate() error {
	seen := make(map[string]bool, len(c.Suites))
	for i, s := range c.Suites {
		name := s.Name()
		if name == "" {
			return fmt.Errorf("suite %d has no form name", i)
		}
		if strings.ContainsAny(name, ".*? ") {
			return fmt.Errorf("suite name %q must not contain dots, spaces or globs", name)
		}
		if seen[name] {
			return fmt.Errorf("duplicate suite %q", name)
		}
		seen[name] = true
	}
	return nil
}

// Suite returns the suite with the given form name
func (c *SuiteFile) Suite(name string) (SuiteConfig, bool) {
	for _, s := range c.Suites {
		if s.Name() == name {
			return s, true
		}
	}
	return SuiteConfig{}, false
}

// Merge applies overrides from another suite file (e.g., CLI flags).
// Suites with the same form name are replaced, new ones appended.
func (c *SuiteFile) Merge(other *SuiteFile) {
	if other == nil {
		return
	}

	if other.BaseURL != "" {
		c.BaseURL = other.BaseURL
	}

	if other.NonFieldKey != "" {
		c.NonFieldKey = other.NonFieldKey
	}

	if len(other.ErrorMessages) > 0 {
		if c.ErrorMessages == nil {
			c.ErrorMessages = make(map[string]string, len(other.ErrorMessages))
		}
		for kind, tpl := range other.ErrorMessages {
			c.ErrorMessages[kind] = tpl
		}
	}

	if len(other.Include) > 0 {
		c.Include = other.Include
	}

	if len(other.Exclude) > 0 {
		c.Exclude = other.Exclude
	}

	for _, s := range other.Suites {
		replaced := false
		for i := range c.Suites {
			if c.Suites[i].Name() == s.Name() {
				c.Suites[i] = s
				replaced = true
				break
			}
		}
		if !replaced {
			c.Suites = append(c.Suites, s)
		}
	}
}
