package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/Concord/internal/domain/task"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.executeConsensusTool(),
		s.getTaskStatusTool(),
		s.listAgentsTool(),
	)
}

func (s *Server) executeConsensusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("execute_consensus",
		mcplib.WithDescription("Run a prompt across multiple agents and return the reconciled consensus answer"),
		mcplib.WithString("prompt",
			mcplib.Required(),
			mcplib.Description("The prompt to send to every agent"),
		),
		mcplib.WithArray("agents",
			mcplib.Required(),
			mcplib.Description("Names of the agents that must participate"),
		),
		mcplib.WithString("context",
			mcplib.Description("Additional context prepended to the prompt"),
		),
		mcplib.WithNumber("max_iterations",
			mcplib.Description("Maximum consensus rounds before accepting the best answer"),
		),
		mcplib.WithString("conversation_id",
			mcplib.Description("Conversation to load memory from and persist the outcome to"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleExecuteConsensus,
	}
}

func (s *Server) getTaskStatusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_task_status",
		mcplib.WithDescription("Get the status and result of a consensus task by ID"),
		mcplib.WithString("task_id",
			mcplib.Required(),
			mcplib.Description("The task ID to look up"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetTaskStatus,
	}
}

func (s *Server) listAgentsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_agents",
		mcplib.WithDescription("List the configured agents with their roles, weights and availability"),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleListAgents,
	}
}

func (s *Server) handleExecuteConsensus(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.TaskRunner == nil {
		return mcplib.NewToolResultError("task runner not configured"), nil
	}
	args := req.GetArguments()

	prompt, ok := args["prompt"].(string)
	if !ok || prompt == "" {
		return mcplib.NewToolResultError("prompt is required"), nil
	}
	rawAgents, ok := args["agents"].([]any)
	if !ok || len(rawAgents) == 0 {
		return mcplib.NewToolResultError("agents is required"), nil
	}
	agents := make([]string, 0, len(rawAgents))
	for _, a := range rawAgents {
		name, ok := a.(string)
		if !ok || name == "" {
			return mcplib.NewToolResultError("agents must be a list of agent names"), nil
		}
		agents = append(agents, name)
	}

	submit := task.SubmitRequest{
		Prompt:         prompt,
		RequiredAgents: agents,
	}
	if v, ok := args["context"].(string); ok {
		submit.Context = v
	}
	if v, ok := args["max_iterations"].(float64); ok {
		submit.MaxIterations = int(v)
	}
	if v, ok := args["conversation_id"].(string); ok {
		submit.ConversationID = v
	}

	t, err := s.deps.TaskRunner.Submit(ctx, &submit)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to submit task", err), nil
	}
	if err := s.deps.TaskRunner.Start(t.ID); err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to start task", err), nil
	}
	final, err := s.deps.TaskRunner.Wait(ctx, t.ID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed waiting for task %s", t.ID), err,
		), nil
	}

	data, err := json.Marshal(final)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal task", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetTaskStatus(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.TaskReader == nil {
		return mcplib.NewToolResultError("task reader not configured"), nil
	}
	args := req.GetArguments()
	taskID, ok := args["task_id"].(string)
	if !ok || taskID == "" {
		return mcplib.NewToolResultError("task_id is required"), nil
	}
	t, err := s.deps.TaskReader.Get(taskID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to get task %s", taskID), err,
		), nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal task", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleListAgents(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.AgentLister == nil {
		return mcplib.NewToolResultError("agent lister not configured"), nil
	}
	data, err := json.Marshal(s.deps.AgentLister.Descriptors())
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal agents", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func toolResultJSON(data string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(data)
}
