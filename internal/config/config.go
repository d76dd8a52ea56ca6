// Package config loads probey settings from an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vulnverified/probey/internal/engine"
	"github.com/vulnverified/probey/internal/probe"
)

// Config represents the tunable settings of a probey run.
type Config struct {
	Concurrency  int       `yaml:"concurrency"`
	BatchSize    int       `yaml:"batch_size"`
	Out          string    `yaml:"out"`
	UserAgent    string    `yaml:"user_agent"`
	Schemes      []string  `yaml:"schemes"`
	MaxRedirects int       `yaml:"max_redirects"`
	MaxBodyBytes int64     `yaml:"max_body_bytes"`
	Timeouts     Timeouts  `yaml:"timeouts"`
	Discovery    Discovery `yaml:"discovery"`
}

// Timeouts are per-request phase limits.
type Timeouts struct {
	Connect time.Duration `yaml:"connect"`
	Read    time.Duration `yaml:"read"`
	Write   time.Duration `yaml:"write"`
	Pool    time.Duration `yaml:"pool"`
}

// Discovery configures subdomain enumeration.
type Discovery struct {
	Subfinder string `yaml:"subfinder"`
	// Timeout bounds the subfinder run; zero waits for the tool to exit.
	Timeout time.Duration `yaml:"timeout"`
	AXFR    bool          `yaml:"axfr"`
	// Passive adds the crt.sh, HackerTarget and OTX sources.
	Passive bool `yaml:"passive"`
}

// DefaultConfig returns the settings used when no file is given.
func DefaultConfig() Config {
	t := probe.DefaultTimeouts()
	return Config{
		Concurrency:  engine.DefaultConcurrency,
		BatchSize:    engine.DefaultBatchSize,
		Out:          "results.json",
		Schemes:      []string{"https"},
		MaxRedirects: probe.DefaultMaxRedirects,
		MaxBodyBytes: probe.DefaultMaxBodyBytes,
		Timeouts: Timeouts{
			Connect: t.Connect,
			Read:    t.Read,
			Write:   t.Write,
			Pool:    t.Pool,
		},
		Discovery: Discovery{
			Subfinder: "subfinder",
			Timeout:   5 * time.Minute,
		},
	}
}

// Load reads configuration from a YAML file. An empty path returns the
// defaults; a path that does not exist is an error.
func Load(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config file %s not found", path)
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Out == "" {
		cfg.Out = DefaultConfig().Out
	}
	if cfg.Discovery.Subfinder == "" {
		cfg.Discovery.Subfinder = DefaultConfig().Discovery.Subfinder
	}
	if len(cfg.Schemes) == 0 {
		cfg.Schemes = DefaultConfig().Schemes
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1, got %d", c.BatchSize)
	}
	if c.MaxRedirects < 1 {
		return fmt.Errorf("max_redirects must be at least 1, got %d", c.MaxRedirects)
	}
	if c.MaxBodyBytes < 1 {
		return fmt.Errorf("max_body_bytes must be at least 1, got %d", c.MaxBodyBytes)
	}
	if c.Discovery.Timeout < 0 {
		return errors.New("discovery timeout must not be negative")
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"connect", c.Timeouts.Connect},
		{"read", c.Timeouts.Read},
		{"write", c.Timeouts.Write},
		{"pool", c.Timeouts.Pool},
	} {
		if d.v <= 0 {
			return fmt.Errorf("%s timeout must be positive, got %s", d.name, d.v)
		}
	}
	if len(c.Schemes) == 0 {
		return errors.New("at least one scheme is required")
	}
	seen := make(map[string]bool, len(c.Schemes))
	for _, s := range c.Schemes {
		if s != "http" && s != "https" {
			return fmt.Errorf("unsupported scheme %q (want http or https)", s)
		}
		if seen[s] {
			return fmt.Errorf("scheme %q listed twice", s)
		}
		seen[s] = true
	}
	return nil
}

// ProbeTimeouts converts the configured timeouts for the prober.
func (c Config) ProbeTimeouts() probe.Timeouts {
	return probe.Timeouts{
		Connect: c.Timeouts.Connect,
		Read:    c.Timeouts.Read,
		Write:   c.Timeouts.Write,
		Pool:    c.Timeouts.Pool,
	}
}
