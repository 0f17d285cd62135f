package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	chttp "github.com/Strob0t/Concord/internal/adapter/http"
	"github.com/Strob0t/Concord/internal/adapter/mcp"
	"github.com/Strob0t/Concord/internal/adapter/memstore"
	cnats "github.com/Strob0t/Concord/internal/adapter/nats"
	cotel "github.com/Strob0t/Concord/internal/adapter/otel"
	"github.com/Strob0t/Concord/internal/adapter/postgres"
	"github.com/Strob0t/Concord/internal/adapter/ristretto"
	"github.com/Strob0t/Concord/internal/adapter/ws"
	"github.com/Strob0t/Concord/internal/config"
	"github.com/Strob0t/Concord/internal/domain/agent"
	"github.com/Strob0t/Concord/internal/logger"
	"github.com/Strob0t/Concord/internal/port/agentbackend"
	"github.com/Strob0t/Concord/internal/port/memorystore"
	"github.com/Strob0t/Concord/internal/port/messagequeue"
	"github.com/Strob0t/Concord/internal/resilience"
	"github.com/Strob0t/Concord/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(logger.New(os.Stdout, logger.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Service: cfg.Logging.Service,
	}))

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"agents", len(cfg.Agents),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Telemetry ---
	if cfg.Telemetry.Enabled {
		shutdown, err := cotel.Init(ctx, cfg.Logging.Service, cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Warn("telemetry shutdown failed", "error", err)
			}
		}()
		slog.Info("telemetry enabled", "endpoint", cfg.Telemetry.Endpoint)
	}
	metrics, err := cotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Memory store: PostgreSQL when configured, in-memory otherwise ---
	var store memorystore.Store
	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		store = postgres.NewStore(pool)
		slog.Info("postgres memory store ready")
	} else {
		store = memstore.New()
		slog.Info("using in-memory memory store")
	}

	// --- NATS (optional) ---
	var queue messagequeue.Queue
	if cfg.NATS.URL != "" {
		natsQueue, err := cnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = natsQueue.Close() }()
		queue = natsQueue
		slog.Info("nats connected", "url", cfg.NATS.URL)
	}

	// --- Context cache ---
	cache, err := ristretto.New(cfg.Cache.MaxSizeMB * 1024 * 1024)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cache.Close()

	// --- Agent backends ---
	health := service.NewHealthRegistry(cfg.Health, queue)
	for i := range cfg.Agents {
		a := &cfg.Agents[i]
		backend, err := agentbackend.New(a.Provider, agentbackend.Config{
			Name:    a.Name,
			Model:   a.Model,
			BaseURL: a.BaseURL,
			APIKey:  a.APIKey(),
		})
		if err != nil {
			return fmt.Errorf("agent %s: %w", a.Name, err)
		}
		if b, ok := backend.(interface{ SetBreaker(*resilience.Breaker) }); ok {
			b.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
		}
		desc := agent.Descriptor{
			Name:         a.Name,
			ModelType:    a.Model,
			Role:         a.Role,
			Capabilities: a.Capabilities,
			Weight:       a.Weight,
		}
		if err := health.Register(desc, backend); err != nil {
			return fmt.Errorf("agent %s: %w", a.Name, err)
		}
		slog.Info("agent registered", "agent", a.Name, "provider", a.Provider, "model", a.Model, "weight", a.Weight)
	}
	health.StartProbe(ctx)

	// --- Orchestration core ---
	hub := ws.NewHub()
	memorySvc := service.NewMemoryService(store, cache, cfg.Cache.ContextTTL)
	registry := service.NewTaskRegistry(cfg.Orchestrator)
	registry.StartGC(ctx)
	orch := service.NewOrchestrator(cfg.Orchestrator, health, registry, memorySvc, hub, queue, metrics)

	// --- MCP (optional) ---
	if cfg.MCP.Enabled {
		mcpSrv := mcp.NewServer(mcp.ServerConfig{
			Addr:    cfg.MCP.Addr,
			Name:    "concord",
			Version: "1.0.0",
		}, mcp.ServerDeps{
			TaskRunner:  orch,
			TaskReader:  registry,
			AgentLister: health,
		})
		if err := mcpSrv.Start(); err != nil {
			return fmt.Errorf("mcp: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mcpSrv.Stop(stopCtx)
		}()
	}

	// --- HTTP ---
	server := chttp.NewServer(cfg, orch, health, registry, hub)
	var extra []func(http.Handler) http.Handler
	if cfg.Telemetry.Enabled {
		extra = append(extra, cotel.HTTPMiddleware(cfg.Logging.Service))
	}

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Routes(extra...),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Write timeout must outlast the longest synchronous task and
		// its SSE stream.
		WriteTimeout: cfg.Orchestrator.TaskTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	return srv.Shutdown(shutdownCtx)
}
