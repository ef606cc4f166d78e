/*
File: config.go
Version: 1.2.0
Description: Defines client configuration structures and handles YAML parsing,
             defaulting and validation. Every setting has a default so the
             binary runs without a config file.
*/

package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Zone string `yaml:"zone"` // chat service zone, e.g. "ch.at"
	Port string `yaml:"port"` // DNS port for native/udp/tcp/legacy

	// Transports is the ordered fallback chain. Accepts a single string or a
	// list. "mock" is rejected unless allow_mock is set.
	Transports StringOrSlice `yaml:"transports"`

	Timeout string `yaml:"timeout"` // per-attempt timeout

	DOHURL  string `yaml:"doh_url"`  // JSON API endpoint for the https method
	DOQAddr string `yaml:"doq_addr"` // host:port for the doq method

	Insecure  bool   `yaml:"insecure"` // skip TLS verification (doq)
	AllowMock bool   `yaml:"allow_mock"`
	MockReply string `yaml:"mock_reply"`

	// Server address policy: resolved server IPs inside these CIDR ranges are
	// never dialed. allow_local additionally permits loopback targets for
	// development against a local resolver.
	BlockedRanges []string `yaml:"blocked_ranges"`
	AllowLocal    bool     `yaml:"allow_local"`

	// Optional per-transport QPS pacing, keyed by method name.
	TransportQPS map[string]int `yaml:"transport_qps"`

	parsedZone    string
	parsedOrder   []Method
	parsedTimeout time.Duration
}

type RateLimitConfig struct {
	Capacity int    `yaml:"capacity"` // max queries per window
	Window   string `yaml:"window"`   // sliding window width

	parsedWindow time.Duration
}

type LoggingConfig struct {
	Level   string        `yaml:"level"`
	Format  string        `yaml:"format"` // "text" or "json" (file output)
	Outputs StringOrSlice `yaml:"outputs"`

	File struct {
		Path        string `yaml:"path"`
		Permissions uint32 `yaml:"permissions"`
	} `yaml:"file"`
}

// StringOrSlice accepts either a single string or a list of strings.
type StringOrSlice []string

func (s *StringOrSlice) UnmarshalYAML(value *yaml.Node) error {
	var single string
	if err := value.Decode(&single); err == nil {
		*s = []string{single}
		return nil
	}

	var slice []string
	if err := value.Decode(&slice); err != nil {
		return err
	}
	*s = slice
	return nil
}

// DefaultTransportOrder is the production fallback chain: platform resolver
// first, then raw UDP, TCP for networks that block UDP/53, HTTPS last.
var DefaultTransportOrder = []Method{MethodNative, MethodUDP, MethodTCP, MethodHTTPS}

// DefaultConfig returns a ready-to-run configuration for the public service.
func DefaultConfig() *Config {
	cfg := &Config{}
	if err := cfg.finalize(); err != nil {
		// Defaults are static; a failure here is a programming error.
		panic(err)
	}
	return cfg
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	c.Server.parsedZone = NormalizeZone(c.Server.Zone)

	if c.Server.Port == "" {
		c.Server.Port = "53"
	}

	if len(c.Server.Transports) == 0 {
		c.Server.parsedOrder = append([]Method(nil), DefaultTransportOrder...)
	} else {
		seen := make(map[Method]bool, len(c.Server.Transports))
		for _, raw := range c.Server.Transports {
			m, err := ParseMethod(raw)
			if err != nil {
				return err
			}
			if m == MethodMock && !c.Server.AllowMock {
				return fmt.Errorf("transport %q requires allow_mock: true", m)
			}
			if seen[m] {
				return fmt.Errorf("transport %q listed twice", m)
			}
			seen[m] = true
			c.Server.parsedOrder = append(c.Server.parsedOrder, m)
		}
	}

	c.Server.parsedTimeout = defaultAttemptTimeout
	if c.Server.Timeout != "" {
		d, err := time.ParseDuration(c.Server.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", c.Server.Timeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %q", c.Server.Timeout)
		}
		c.Server.parsedTimeout = d
	}

	if c.RateLimit.Capacity <= 0 {
		c.RateLimit.Capacity = defaultWindowCapacity
	}
	c.RateLimit.parsedWindow = defaultWindowWidth
	if c.RateLimit.Window != "" {
		d, err := time.ParseDuration(c.RateLimit.Window)
		if err != nil {
			return fmt.Errorf("invalid rate limit window %q: %w", c.RateLimit.Window, err)
		}
		if d <= 0 {
			return fmt.Errorf("rate limit window must be positive, got %q", c.RateLimit.Window)
		}
		c.RateLimit.parsedWindow = d
	}

	for method := range c.Server.TransportQPS {
		if _, err := ParseMethod(method); err != nil {
			return fmt.Errorf("transport_qps: %w", err)
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if len(c.Logging.Outputs) == 0 {
		c.Logging.Outputs = StringOrSlice{"console"}
	}

	return nil
}
