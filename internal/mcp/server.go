// Package mcp exposes the shipfix lifecycle over the Model Context Protocol
// so agent tooling can register, repair, and deploy projects.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/MichaLL27/shipfix/internal/models"
	"github.com/MichaLL27/shipfix/internal/orchestrator"
	"github.com/MichaLL27/shipfix/internal/pr"
	"github.com/MichaLL27/shipfix/internal/store"
)

// Server wraps the shipfix data layer and exposes it as MCP tools.
type Server struct {
	store store.Store
	orch  *orchestrator.Orchestrator
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store, orch *orchestrator.Orchestrator) *Server {
	return &Server{store: s, orch: orch}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("shipfix", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listProjectsTool())
	srv.AddTool(s.projectStatusTool())
	srv.AddTool(s.autofixTool())
	srv.AddTool(s.qaTool())
	srv.AddTool(s.deployTool())
	srv.AddTool(s.listPRsTool())
	srv.AddTool(s.mergePRTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// resolveProject finds a project by name first, then by id.
func (s *Server) resolveProject(ctx context.Context, nameOrID string) (*models.Project, error) {
	if p, err := s.store.GetProjectByName(ctx, nameOrID); err == nil {
		return p, nil
	}
	return s.store.GetProject(ctx, nameOrID)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// shipfix_list_projects
func (s *Server) listProjectsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("shipfix_list_projects",
		mcp.WithDescription("List all tracked projects. Returns a JSON array with id, name, status, autoFixStatus, type, and deployed URL."),
		mcp.WithString("status", mcp.Description("Filter by lifecycle status (registered, qa_passed, deployed, ...)")),
	)
	return tool, s.handleListProjects
}

func (s *Server) handleListProjects(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var (
		projects []*models.Project
		err      error
	)
	if status := request.GetString("status", ""); status != "" {
		projects, err = s.store.ListProjectsByStatus(ctx, models.ProjectStatus(status))
	} else {
		projects, err = s.store.ListProjects(ctx)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list projects: %v", err)), nil
	}

	type projectOut struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		Status        string `json:"status"`
		AutoFixStatus string `json:"autoFixStatus"`
		Type          string `json:"type"`
		DeployedURL   string `json:"deployedUrl,omitempty"`
	}

	out := make([]projectOut, len(projects))
	for i, p := range projects {
		out[i] = projectOut{
			ID:            p.ID,
			Name:          p.Name,
			Status:        string(p.Status),
			AutoFixStatus: string(p.AutoFixStatus),
			Type:          string(p.ProjectType),
			DeployedURL:   p.DeployedURL,
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal projects: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// shipfix_project_status
func (s *Server) projectStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("shipfix_project_status",
		mcp.WithDescription("Get a project's full lifecycle state including the auto-fix, QA, and deploy reports. Resolves project by name or id."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name or id")),
	)
	return tool, s.handleProjectStatus
}

func (s *Server) handleProjectStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: project"), nil
	}

	p, err := s.resolveProject(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("project not found: %s", name)), nil
	}

	out := map[string]any{
		"id":               p.ID,
		"name":             p.Name,
		"status":           p.Status,
		"autoFixStatus":    p.AutoFixStatus,
		"type":             p.ProjectType,
		"deployedUrl":      p.DeployedURL,
		"lastDeployStatus": p.LastDeployStatus,
		"healthFailures":   p.HealthFailures,
		"autoFixReport":    p.AutoFixReport,
		"qaReport":         p.QAReport,
		"deployLog":        p.DeployLog,
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal status: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// transitionHandler builds a handler requesting a lifecycle action.
func (s *Server) transitionHandler(action orchestrator.Action) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := request.RequireString("project")
		if err != nil {
			return mcp.NewToolResultError("missing required parameter: project"), nil
		}

		p, err := s.resolveProject(ctx, name)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("project not found: %s", name)), nil
		}

		if err := s.orch.Request(ctx, p.ID, action); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("%s started for project %s; poll shipfix_project_status for the result", action, p.Name)), nil
	}
}

// shipfix_autofix
func (s *Server) autofixTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("shipfix_autofix",
		mcp.WithDescription("Run the auto-fix repair loop on a project: bounded build/repair cycles, test repair, env var discovery. Asynchronous."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name or id")),
	)
	return tool, s.transitionHandler(orchestrator.ActionAutoFix)
}

// shipfix_qa
func (s *Server) qaTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("shipfix_qa",
		mcp.WithDescription("Run QA analysis on a project. Requires a successful auto-fix pass first. Asynchronous."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name or id")),
	)
	return tool, s.transitionHandler(orchestrator.ActionRunQA)
}

// shipfix_deploy
func (s *Server) deployTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("shipfix_deploy",
		mcp.WithDescription("Deploy a project through the provider chain (static upload, managed service, local process). Asynchronous."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name or id")),
	)
	return tool, s.transitionHandler(orchestrator.ActionDeploy)
}

// shipfix_list_prs
func (s *Server) listPRsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("shipfix_list_prs",
		mcp.WithDescription("List the pull requests recording what auto-fix changed on a project."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name or id")),
	)
	return tool, s.handleListPRs
}

func (s *Server) handleListPRs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: project"), nil
	}

	p, err := s.resolveProject(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("project not found: %s", name)), nil
	}

	prs, err := s.store.ListPullRequests(ctx, p.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list pull requests: %v", err)), nil
	}

	type prOut struct {
		ID       string `json:"id"`
		PRNumber int    `json:"prNumber"`
		Title    string `json:"title"`
		Status   string `json:"status"`
		Files    int    `json:"files"`
	}
	out := make([]prOut, len(prs))
	for i, r := range prs {
		out[i] = prOut{
			ID:       r.ID,
			PRNumber: r.PRNumber,
			Title:    r.Title,
			Status:   string(r.Status),
			Files:    len(r.Diff),
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal pull requests: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// shipfix_merge_pr
func (s *Server) mergePRTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("shipfix_merge_pr",
		mcp.WithDescription("Merge an open pull request: applies the staged patch to the project's normalized folder."),
		mcp.WithString("pr_id", mcp.Required(), mcp.Description("Pull request id")),
	)
	return tool, s.handleMergePR
}

func (s *Server) handleMergePR(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prID, err := request.RequireString("pr_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: pr_id"), nil
	}

	merged, err := pr.Merge(ctx, s.store, prID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("merge failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("merged pull request #%d (%d file(s) applied)", merged.PRNumber, len(merged.Diff))), nil
}
