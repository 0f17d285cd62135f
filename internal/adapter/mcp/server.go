// Package mcp exposes the orchestration core over the Model Context
// Protocol so MCP-capable clients can run consensus tasks as tools.
package mcp

import (
	"context"
	"log/slog"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/Concord/internal/domain/agent"
	"github.com/Strob0t/Concord/internal/domain/task"
)

// TaskRunner submits and drives consensus tasks.
type TaskRunner interface {
	Submit(ctx context.Context, req *task.SubmitRequest) (task.Task, error)
	Start(taskID string) error
	Wait(ctx context.Context, taskID string) (task.Task, error)
}

// TaskReader reads task records.
type TaskReader interface {
	Get(taskID string) (task.Task, error)
}

// AgentLister lists the configured agents.
type AgentLister interface {
	Descriptors() []agent.Descriptor
}

// ServerConfig holds MCP server settings.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
}

// ServerDeps holds the injected dependencies. Nil fields disable the
// corresponding tools with a tool-level error instead of a crash.
type ServerDeps struct {
	TaskRunner  TaskRunner
	TaskReader  TaskReader
	AgentLister AgentLister
}

// Server wraps an MCP server exposing the consensus tools over the
// streamable HTTP transport.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	httpSrv   *mcpserver.StreamableHTTPServer
}

// NewServer creates the MCP server and registers all tools.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
		),
	}
	s.registerTools()
	return s
}

// MCPServer exposes the underlying server for tests.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Start serves the MCP streamable HTTP transport in the background.
func (s *Server) Start() error {
	s.httpSrv = mcpserver.NewStreamableHTTPServer(s.mcpServer)
	go func() {
		slog.Info("mcp server listening", "addr", s.cfg.Addr)
		if err := s.httpSrv.Start(s.cfg.Addr); err != nil {
			slog.Error("mcp server stopped", "error", err)
		}
	}()
	return nil
}

// Stop shuts the MCP transport down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
