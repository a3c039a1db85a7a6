// Package mcpserver exposes task management as Model Context Protocol
// tools, so an assistant can inspect and steer schedules over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/cronsync/internal/schedule"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server wraps an MCP server whose tools call a schedule.Manager.
type Server struct {
	manager *schedule.Manager
	tenant  string
	logger  *slog.Logger
	srv     *server.MCPServer
}

// New registers the task tools. tenant is used when a call omits one.
// Purging a tenant is not exposed.
func New(manager *schedule.Manager, tenant, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if tenant == "" {
		tenant = schedule.DefaultTenant
	}
	s := &Server{
		manager: manager,
		tenant:  tenant,
		logger:  logger,
		srv:     server.NewMCPServer("cronsync", version, server.WithToolCapabilities(false)),
	}
	s.register()
	return s
}

// MCP returns the underlying server.
func (s *Server) MCP() *server.MCPServer { return s.srv }

// ServeStdio serves until stdin closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.srv)
}

func tenantArg() mcp.ToolOption {
	return mcp.WithString("tenant", mcp.Description("Tenant namespace; defaults to the configured tenant"))
}

func nameArg() mcp.ToolOption {
	return mcp.WithString("name", mcp.Required(), mcp.Description("Task name"))
}

func (s *Server) register() {
	s.srv.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List the tasks of a tenant with their effective interval and last run"),
		tenantArg(),
	), s.listTasks)

	s.srv.AddTool(mcp.NewTool("task_info",
		mcp.WithDescription("Show a task's definition and recent runs"),
		tenantArg(), nameArg(),
	), s.taskInfo)

	s.srv.AddTool(mcp.NewTool("enable_task",
		mcp.WithDescription("Enable a task"),
		tenantArg(), nameArg(),
	), s.setEnabled(true))

	s.srv.AddTool(mcp.NewTool("disable_task",
		mcp.WithDescription("Disable a task; it stays stored but is never due"),
		tenantArg(), nameArg(),
	), s.setEnabled(false))

	s.srv.AddTool(mcp.NewTool("set_interval",
		mcp.WithDescription("Override a task's cron interval"),
		tenantArg(), nameArg(),
		mcp.WithString("interval", mcp.Required(), mcp.Description("Five-field cron expression or macro such as @hourly")),
	), s.setInterval)

	s.srv.AddTool(mcp.NewTool("clear_interval",
		mcp.WithDescription("Drop the interval override and return to the declared interval"),
		tenantArg(), nameArg(),
	), s.clearInterval)

	s.srv.AddTool(mcp.NewTool("run_task",
		mcp.WithDescription("Dispatch a task immediately, outside its schedule"),
		tenantArg(), nameArg(),
	), s.runTask)

	s.srv.AddTool(mcp.NewTool("due_tasks",
		mcp.WithDescription("Preview which tasks an evaluation would dispatch now"),
		mcp.WithString("since", mcp.Description("Last checked time, RFC 3339; omit for the current minute only")),
	), s.dueTasks)
}

func (s *Server) key(req mcp.CallToolRequest) (schedule.Key, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return schedule.Key{}, err
	}
	return schedule.Key{Name: name, Tenant: req.GetString("tenant", s.tenant)}, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcpserver: encode result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}

// toolError reports err to the client as a tool failure. Lookup and
// validation errors are answers, not protocol errors.
func (s *Server) toolError(tool string, err error) (*mcp.CallToolResult, error) {
	if !errors.Is(err, schedule.ErrNotFound) && !errors.Is(err, schedule.ErrInvalidInterval) {
		s.logger.Warn("mcp tool failed", "tool", tool, "error", err)
	}
	return mcp.NewToolResultError(err.Error()), nil
}

func (s *Server) listTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tasks, err := s.manager.List(ctx, req.GetString("tenant", s.tenant))
	if err != nil {
		return s.toolError("list_tasks", err)
	}
	if tasks == nil {
		tasks = []schedule.TaskSummary{}
	}
	return jsonResult(tasks)
}

func (s *Server) taskInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := s.key(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	info, err := s.manager.Info(ctx, key)
	if err != nil {
		return s.toolError("task_info", err)
	}
	return jsonResult(info)
}

func (s *Server) setEnabled(enabled bool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := s.key(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		tool, verb := "enable_task", "enabled"
		if enabled {
			err = s.manager.Enable(ctx, key)
		} else {
			tool, verb = "disable_task", "disabled"
			err = s.manager.Disable(ctx, key)
		}
		if err != nil {
			return s.toolError(tool, err)
		}
		return mcp.NewToolResultText(fmt.Sprintf("%s %s", key, verb)), nil
	}
}

func (s *Server) setInterval(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := s.key(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	expr, err := req.RequireString("interval")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.manager.SetInterval(ctx, key, expr); err != nil {
		return s.toolError("set_interval", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s now runs at %q", key, expr)), nil
}

func (s *Server) clearInterval(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := s.key(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.manager.ClearInterval(ctx, key); err != nil {
		return s.toolError("clear_interval", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s uses its declared interval", key)), nil
}

func (s *Server) runTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := s.key(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	runID, err := s.manager.ForceRun(ctx, key)
	if err != nil {
		return s.toolError("run_task", err)
	}
	return jsonResult(map[string]string{"task": key.String(), "run_id": runID})
}

type dueEntry struct {
	Tenant    string    `json:"tenant"`
	Name      string    `json:"name"`
	MatchedAt time.Time `json:"matched_at"`
}

func (s *Server) dueTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var since *time.Time
	if raw := req.GetString("since", ""); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return mcp.NewToolResultError("since must be RFC 3339"), nil
		}
		since = &t
	}
	set, err := s.manager.Due(ctx, since)
	if err != nil {
		return s.toolError("due_tasks", err)
	}
	out := make([]dueEntry, 0, len(set.Tasks))
	for _, task := range set.Tasks {
		out = append(out, dueEntry{Tenant: task.Tenant, Name: task.Name, MatchedAt: task.MatchedAt})
	}
	return jsonResult(map[string]any{"now": set.Now, "tasks": out})
}
