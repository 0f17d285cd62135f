package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom with missing file failed: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("default port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Orchestrator.MaxConcurrentTasks != 8 {
		t.Errorf("default max_concurrent_tasks = %d, want 8", cfg.Orchestrator.MaxConcurrentTasks)
	}
	if cfg.Orchestrator.ConvergenceThreshold != 0.75 {
		t.Errorf("default convergence_threshold = %v, want 0.75", cfg.Orchestrator.ConvergenceThreshold)
	}
	if cfg.Orchestrator.DefaultConfidence != 0.5 {
		t.Errorf("default default_confidence = %v, want 0.5", cfg.Orchestrator.DefaultConfidence)
	}
}

func TestLoadFromYAML(t *testing.T) {
	yaml := `
server:
  port: "9090"
orchestrator:
  max_concurrent_tasks: 2
  agent_timeout: 5s
agents:
  - name: gpt
    provider: openai
    model: gpt-4o
    weight: 1.5
    api_key_env: TEST_OPENAI_KEY
  - name: claude
    provider: anthropic
    model: claude-sonnet
`
	path := filepath.Join(t.TempDir(), "concord.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("port = %q, want 9090", cfg.Server.Port)
	}
	if cfg.Orchestrator.MaxConcurrentTasks != 2 {
		t.Errorf("max_concurrent_tasks = %d, want 2", cfg.Orchestrator.MaxConcurrentTasks)
	}
	if cfg.Orchestrator.AgentTimeout != 5*time.Second {
		t.Errorf("agent_timeout = %v, want 5s", cfg.Orchestrator.AgentTimeout)
	}
	if len(cfg.Agents) != 2 {
		t.Fatalf("agents = %d, want 2", len(cfg.Agents))
	}
	if cfg.Agents[0].Weight != 1.5 {
		t.Errorf("agent weight = %v, want 1.5", cfg.Agents[0].Weight)
	}
	// Unset weight defaults to 1.0 during validation.
	if cfg.Agents[1].Weight != 1.0 {
		t.Errorf("default agent weight = %v, want 1.0", cfg.Agents[1].Weight)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	yaml := "server:\n  port: \"9090\"\n"
	path := filepath.Join(t.TempDir(), "concord.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONCORD_PORT", "7070")
	t.Setenv("CONCORD_MAX_CONCURRENT_TASKS", "16")
	t.Setenv("CONCORD_TASK_TIMEOUT", "90s")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("env must beat yaml: port = %q, want 7070", cfg.Server.Port)
	}
	if cfg.Orchestrator.MaxConcurrentTasks != 16 {
		t.Errorf("max_concurrent_tasks = %d, want 16", cfg.Orchestrator.MaxConcurrentTasks)
	}
	if cfg.Orchestrator.TaskTimeout != 90*time.Second {
		t.Errorf("task_timeout = %v, want 90s", cfg.Orchestrator.TaskTimeout)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no port", func(c *Config) { c.Server.Port = "" }},
		{"bad threshold", func(c *Config) { c.Orchestrator.ConvergenceThreshold = 1.5 }},
		{"bad confidence", func(c *Config) { c.Orchestrator.DefaultConfidence = -0.1 }},
		{"zero concurrency", func(c *Config) { c.Orchestrator.MaxConcurrentTasks = 0 }},
		{"agent without name", func(c *Config) { c.Agents = []Agent{{Provider: "openai"}} }},
		{"agent without provider", func(c *Config) { c.Agents = []Agent{{Name: "a"}} }},
		{"duplicate agent names", func(c *Config) {
			c.Agents = []Agent{{Name: "a", Provider: "openai"}, {Name: "a", Provider: "anthropic"}}
		}},
		{"negative weight", func(c *Config) { c.Agents = []Agent{{Name: "a", Provider: "openai", Weight: -1}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			if err := validate(&cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestAgentAPIKeyFromEnv(t *testing.T) {
	t.Setenv("TEST_PROVIDER_KEY", "sk-test-123")

	a := Agent{Name: "x", Provider: "openai", APIKeyEnv: "TEST_PROVIDER_KEY"}
	if got := a.APIKey(); got != "sk-test-123" {
		t.Errorf("APIKey() = %q, want value of TEST_PROVIDER_KEY", got)
	}

	none := Agent{Name: "y", Provider: "openai"}
	if got := none.APIKey(); got != "" {
		t.Errorf("APIKey() without env name = %q, want empty", got)
	}
}
