package config

import (
	"strings"
	"testing"
)

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
coordinator:
  default_ttl_seconds: 120
  min_ttl_seconds: 30
  max_ttl_seconds: 600
graph:
  max_depth: 25
server:
  bind: 0.0.0.0:9090
  allow_agent_header: true
`))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	if cfg.Coordinator.DefaultTTLSeconds != 120 || cfg.Coordinator.MinTTLSeconds != 30 {
		t.Fatalf("coordinator overrides not applied: %+v", cfg.Coordinator)
	}
	if cfg.Coordinator.CleanupIntervalSeconds != 60 {
		t.Fatalf("unset field should keep default, got %d", cfg.Coordinator.CleanupIntervalSeconds)
	}
	if cfg.Graph.MaxDepth != 25 {
		t.Fatalf("max_depth = %d", cfg.Graph.MaxDepth)
	}
	if cfg.Server.Bind != "0.0.0.0:9090" || !cfg.Server.AllowAgentHeader {
		t.Fatalf("server overrides not applied: %+v", cfg.Server)
	}
	if cfg.Server.BasePath != "/v0" {
		t.Fatalf("base_path default = %q", cfg.Server.BasePath)
	}
}

func TestValidateRejectsBadRanges(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero default ttl", func(c *Config) { c.Coordinator.DefaultTTLSeconds = 0 }, "default_ttl_seconds"},
		{"max below min", func(c *Config) { c.Coordinator.MaxTTLSeconds = 10 }, "max_ttl_seconds"},
		{"default outside range", func(c *Config) { c.Coordinator.DefaultTTLSeconds = 1 }, "within"},
		{"zero max depth", func(c *Config) { c.Graph.MaxDepth = 0 }, "max_depth"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestGenerateDefaultParsesBackToDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	if err != nil {
		t.Fatalf("generated template does not parse: %v", err)
	}
	want := Default()
	if *cfg != *want {
		t.Fatalf("template round-trip mismatch:\n got %+v\nwant %+v", cfg, want)
	}
}
