package config

import (
	"fmt"
	"time"
)

// Config represents a smelt.yaml configuration file.
// All values are optional and act as defaults for smelt install flags.
// CLI flags always override config values.
type Config struct {
	Manifest string         `yaml:"manifest"`
	Source   string         `yaml:"source"`
	Journal  string         `yaml:"journal"`
	Policy   PolicyConfig   `yaml:"policy"`
	Script   ScriptConfig   `yaml:"script"`
	Delegate DelegateConfig `yaml:"delegate"`
	S3       S3Config       `yaml:"s3"`
	Adapter  AdapterConfig  `yaml:"adapter"`
}

// PolicyConfig selects the artifact failure policy.
type PolicyConfig struct {
	// Name is "strict" (default) or "ignorelist".
	Name string `yaml:"name"`
	// Ignore lists the type tags whose failures do not abort the run.
	// Only meaningful with the ignorelist policy.
	Ignore []string `yaml:"ignore"`
}

// ScriptConfig holds Lua script handler defaults.
type ScriptConfig struct {
	// SharedState runs all scripts of an install in one interpreter.
	SharedState bool `yaml:"shared_state"`
}

// DelegateConfig holds delegation handler defaults. When Endpoint is set,
// a delegating handler is registered under the "delegate" type tag.
type DelegateConfig struct {
	Endpoint     string   `yaml:"endpoint"`
	ChunkSize    int      `yaml:"chunk_size"`
	ReplyTimeout Duration `yaml:"reply_timeout"`
}

// S3Config holds S3 source access defaults.
type S3Config struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// AdapterConfig holds notification adapter defaults from the config file.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
