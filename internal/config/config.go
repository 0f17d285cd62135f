// Package config provides hierarchical configuration loading for Concord.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the Concord core service.
type Config struct {
	Server       Server       `yaml:"server"`
	Postgres     Postgres     `yaml:"postgres"`
	NATS         NATS         `yaml:"nats"`
	Logging      Logging      `yaml:"logging"`
	Breaker      Breaker      `yaml:"breaker"`
	Rate         Rate         `yaml:"rate"`
	Cache        Cache        `yaml:"cache"`
	Health       Health       `yaml:"health"`
	Telemetry    Telemetry    `yaml:"telemetry"`
	MCP          MCP          `yaml:"mcp"`
	Orchestrator Orchestrator `yaml:"orchestrator"`
	Agents       []Agent      `yaml:"agents"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
	// APIKey is the internal key clients must present on /api/v1 routes.
	// Empty disables transport auth (local development only).
	APIKey string `yaml:"api_key"`
}

// Postgres holds the connection configuration for the durable memory store.
// An empty DSN selects the in-memory store instead.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds NATS JetStream configuration. An empty URL disables event
// publishing to the queue.
type NATS struct {
	URL string `yaml:"url"`
}

// Logging holds structured logging configuration. Format is "json" or
// "text"; anything else falls back to json.
type Logging struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Service string `yaml:"service"`
}

// Breaker holds circuit breaker configuration for provider calls.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Rate holds rate limiter configuration.
type Rate struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Cache holds the L1 conversation-context cache configuration.
type Cache struct {
	MaxSizeMB  int64         `yaml:"max_size_mb"`
	ContextTTL time.Duration `yaml:"context_ttl"`
}

// Health holds agent health registry configuration.
type Health struct {
	// FailureThreshold is the number of consecutive failures after which
	// an agent is marked unavailable.
	FailureThreshold int `yaml:"failure_threshold"`
	// ProbeInterval is how often unavailable agents are re-probed.
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// Telemetry holds OpenTelemetry exporter configuration.
type Telemetry struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // OTLP gRPC endpoint
}

// MCP holds Model Context Protocol server configuration.
type MCP struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Orchestrator holds the consensus execution configuration.
type Orchestrator struct {
	MaxConcurrentTasks   int           `yaml:"max_concurrent_tasks"`  // Concurrency gate size (default: 8)
	DefaultIterations    int           `yaml:"default_iterations"`    // Rounds when the request omits max_iterations (default: 1)
	MaxIterations        int           `yaml:"max_iterations"`        // Upper bound on requested rounds (default: 5)
	ConvergenceThreshold float64       `yaml:"convergence_threshold"` // Agreement score that ends the round loop (default: 0.75)
	DefaultConfidence    float64       `yaml:"default_confidence"`    // Confidence assumed when a provider reports none (default: 0.5)
	AgentTimeout         time.Duration `yaml:"agent_timeout"`         // Per-agent call bound (default: 60s)
	TaskTimeout          time.Duration `yaml:"task_timeout"`          // Overall task bound (default: 5m)
	TaskTTL              time.Duration `yaml:"task_ttl"`              // Terminal task retention (default: 1h)
	GCInterval           time.Duration `yaml:"gc_interval"`           // Registry eviction sweep period (default: 5m)
}

// Agent configures one model backend.
type Agent struct {
	Name         string   `yaml:"name"`
	Provider     string   `yaml:"provider"` // registered backend factory name
	Model        string   `yaml:"model"`
	Role         string   `yaml:"role"`
	Capabilities []string `yaml:"capabilities"`
	Weight       float64  `yaml:"weight"`
	BaseURL      string   `yaml:"base_url"`
	// APIKeyEnv names the environment variable holding the provider
	// credential; keys never live in the YAML file.
	APIKeyEnv string `yaml:"api_key_env"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
		},
		Postgres: Postgres{
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		NATS: NATS{
			URL: "nats://localhost:4222",
		},
		Logging: Logging{
			Level:   "info",
			Format:  "json",
			Service: "concord-core",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Rate: Rate{
			RequestsPerSecond: 10,
			Burst:             100,
		},
		Cache: Cache{
			MaxSizeMB:  64,
			ContextTTL: 5 * time.Minute,
		},
		Health: Health{
			FailureThreshold: 3,
			ProbeInterval:    30 * time.Second,
		},
		Telemetry: Telemetry{
			Endpoint: "localhost:4317",
		},
		MCP: MCP{
			Addr: ":8090",
		},
		Orchestrator: Orchestrator{
			MaxConcurrentTasks:   8,
			DefaultIterations:    1,
			MaxIterations:        5,
			ConvergenceThreshold: 0.75,
			DefaultConfidence:    0.5,
			AgentTimeout:         60 * time.Second,
			TaskTimeout:          5 * time.Minute,
			TaskTTL:              time.Hour,
			GCInterval:           5 * time.Minute,
		},
	}
}
