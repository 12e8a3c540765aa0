package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models hive.yml.
type Config struct {
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Graph       GraphConfig       `yaml:"graph"`
	Server      ServerConfig      `yaml:"server"`
}

type CoordinatorConfig struct {
	DefaultTTLSeconds      int `yaml:"default_ttl_seconds"`
	MinTTLSeconds          int `yaml:"min_ttl_seconds"`
	MaxTTLSeconds          int `yaml:"max_ttl_seconds"`
	CleanupIntervalSeconds int `yaml:"cleanup_interval_seconds"`
}

type GraphConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

type ServerConfig struct {
	Bind             string `yaml:"bind"`
	BasePath         string `yaml:"base_path"`
	JWTSecret        string `yaml:"jwt_secret"`
	AllowAgentHeader bool   `yaml:"allow_agent_header"`
}

func (c CoordinatorConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

func (c CoordinatorConfig) MinTTL() time.Duration {
	return time.Duration(c.MinTTLSeconds) * time.Second
}

func (c CoordinatorConfig) MaxTTL() time.Duration {
	return time.Duration(c.MaxTTLSeconds) * time.Second
}

func (c CoordinatorConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSeconds) * time.Second
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Coordinator.DefaultTTLSeconds <= 0 {
		return fmt.Errorf("config.coordinator.default_ttl_seconds must be positive")
	}
	if c.Coordinator.MinTTLSeconds <= 0 {
		return fmt.Errorf("config.coordinator.min_ttl_seconds must be positive")
	}
	if c.Coordinator.MaxTTLSeconds < c.Coordinator.MinTTLSeconds {
		return fmt.Errorf("config.coordinator.max_ttl_seconds must be >= min_ttl_seconds")
	}
	if c.Coordinator.DefaultTTLSeconds < c.Coordinator.MinTTLSeconds || c.Coordinator.DefaultTTLSeconds > c.Coordinator.MaxTTLSeconds {
		return fmt.Errorf("config.coordinator.default_ttl_seconds must be within [min, max]")
	}
	if c.Coordinator.CleanupIntervalSeconds < 0 {
		return fmt.Errorf("config.coordinator.cleanup_interval_seconds must not be negative")
	}
	if c.Graph.MaxDepth <= 0 {
		return fmt.Errorf("config.graph.max_depth must be positive")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "hive.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create with hive config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Coordinator: CoordinatorConfig{
			DefaultTTLSeconds:      3600,
			MinTTLSeconds:          60,
			MaxTTLSeconds:          86400,
			CleanupIntervalSeconds: 60,
		},
		Graph: GraphConfig{
			MaxDepth: 100,
		},
		Server: ServerConfig{
			Bind:     "127.0.0.1:8080",
			BasePath: "/v0",
		},
	}
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `coordinator:
  # Claim lease defaults, in seconds.
  default_ttl_seconds: 3600
  min_ttl_seconds: 60
  max_ttl_seconds: 86400
  # How often expired claims are swept from memory. Sweeping only bounds
  # memory; expiry itself is checked on every read.
  cleanup_interval_seconds: 60

graph:
  # Traversal depth cap; deeper dependency chains fail the query instead of
  # risking unbounded recursion.
  max_depth: 100

server:
  bind: 127.0.0.1:8080
  base_path: /v0
  # HS256 secret for bearer tokens. Leave empty to disable JWT auth.
  jwt_secret: ""
  # Accept the unauthenticated X-Agent-Name header. Local development only.
  allow_agent_header: false
`
