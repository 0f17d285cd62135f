package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "concord.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "CONCORD_PORT")
	setString(&cfg.Server.CORSOrigin, "CONCORD_CORS_ORIGIN")
	setString(&cfg.Server.APIKey, "CONCORD_API_KEY")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "CONCORD_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "CONCORD_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "CONCORD_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "CONCORD_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "CONCORD_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "CONCORD_LOG_LEVEL")
	setString(&cfg.Logging.Format, "CONCORD_LOG_FORMAT")
	setString(&cfg.Logging.Service, "CONCORD_LOG_SERVICE")
	setInt(&cfg.Breaker.MaxFailures, "CONCORD_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "CONCORD_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "CONCORD_RATE_RPS")
	setInt(&cfg.Rate.Burst, "CONCORD_RATE_BURST")
	setInt64(&cfg.Cache.MaxSizeMB, "CONCORD_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.ContextTTL, "CONCORD_CACHE_CONTEXT_TTL")
	setInt(&cfg.Health.FailureThreshold, "CONCORD_HEALTH_FAILURE_THRESHOLD")
	setDuration(&cfg.Health.ProbeInterval, "CONCORD_HEALTH_PROBE_INTERVAL")
	setBool(&cfg.Telemetry.Enabled, "CONCORD_TELEMETRY_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "CONCORD_TELEMETRY_ENDPOINT")
	setBool(&cfg.MCP.Enabled, "CONCORD_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "CONCORD_MCP_ADDR")
	setInt(&cfg.Orchestrator.MaxConcurrentTasks, "CONCORD_MAX_CONCURRENT_TASKS")
	setInt(&cfg.Orchestrator.DefaultIterations, "CONCORD_DEFAULT_ITERATIONS")
	setInt(&cfg.Orchestrator.MaxIterations, "CONCORD_MAX_ITERATIONS")
	setFloat64(&cfg.Orchestrator.ConvergenceThreshold, "CONCORD_CONVERGENCE_THRESHOLD")
	setFloat64(&cfg.Orchestrator.DefaultConfidence, "CONCORD_DEFAULT_CONFIDENCE")
	setDuration(&cfg.Orchestrator.AgentTimeout, "CONCORD_AGENT_TIMEOUT")
	setDuration(&cfg.Orchestrator.TaskTimeout, "CONCORD_TASK_TIMEOUT")
	setDuration(&cfg.Orchestrator.TaskTTL, "CONCORD_TASK_TTL")
	setDuration(&cfg.Orchestrator.GCInterval, "CONCORD_GC_INTERVAL")
}

// validate checks that required fields are set and consistent.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Health.FailureThreshold < 1 {
		return errors.New("health.failure_threshold must be >= 1")
	}
	if cfg.Orchestrator.MaxConcurrentTasks < 1 {
		return errors.New("orchestrator.max_concurrent_tasks must be >= 1")
	}
	if cfg.Orchestrator.ConvergenceThreshold < 0 || cfg.Orchestrator.ConvergenceThreshold > 1 {
		return errors.New("orchestrator.convergence_threshold must be in [0,1]")
	}
	if cfg.Orchestrator.DefaultConfidence < 0 || cfg.Orchestrator.DefaultConfidence > 1 {
		return errors.New("orchestrator.default_confidence must be in [0,1]")
	}
	if cfg.Orchestrator.AgentTimeout <= 0 {
		return errors.New("orchestrator.agent_timeout must be > 0")
	}
	if cfg.Orchestrator.TaskTimeout <= 0 {
		return errors.New("orchestrator.task_timeout must be > 0")
	}

	seen := make(map[string]bool, len(cfg.Agents))
	for i := range cfg.Agents {
		a := &cfg.Agents[i]
		if a.Name == "" {
			return fmt.Errorf("agents[%d].name is required", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("agents: duplicate name %q", a.Name)
		}
		seen[a.Name] = true
		if a.Provider == "" {
			return fmt.Errorf("agent %q: provider is required", a.Name)
		}
		if a.Weight < 0 {
			return fmt.Errorf("agent %q: weight must be >= 0", a.Name)
		}
		if a.Weight == 0 {
			a.Weight = 1.0
		}
	}
	return nil
}

// APIKey resolves an agent's provider credential from the environment.
func (a *Agent) APIKey() string {
	if a.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(a.APIKeyEnv)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
