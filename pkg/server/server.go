// Package server exposes the thinking engine as MCP tools over stdio.
package server

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mcps/deep-thinking/pkg/cleanup"
	"github.com/mcps/deep-thinking/pkg/config"
	"github.com/mcps/deep-thinking/pkg/session"
	"github.com/mcps/deep-thinking/pkg/store"
	"github.com/mcps/deep-thinking/pkg/template"
	"github.com/mcps/deep-thinking/pkg/version"
)

// Server wires the session manager, template manager, and flow engine
// behind the four MCP tools.
type Server struct {
	cfg       *config.Config
	sessions  *session.Manager
	templates *template.Manager
	sweep     *cleanup.Service
	mcp       *mcpserver.MCPServer
}

// New assembles the server from a loaded configuration and an open store.
func New(cfg *config.Config, st *store.Store) *Server {
	sessions := session.NewManager(st, cfg.Server)
	s := &Server{
		cfg:       cfg,
		sessions:  sessions,
		templates: template.NewManager(cfg.Templates, cfg.Server.TemplateCacheSize),
		sweep:     cleanup.NewService(sessions, cleanup.DefaultInterval),
	}

	s.mcp = mcpserver.NewMCPServer(
		version.AppName,
		version.GitCommit,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithRecovery(),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying MCP server, mainly for in-process
// clients in tests.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// ServeStdio blocks serving MCP requests on stdin/stdout until the host
// closes the stream or ctx is cancelled. The expiry sweep runs alongside.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.sweep.Start(ctx)
	defer s.sweep.Stop()

	slog.Info("MCP server listening on stdio",
		"name", version.AppName,
		"version", version.GitCommit,
		"default_flow", s.cfg.Server.DefaultFlow)
	return mcpserver.ServeStdio(s.mcp, mcpserver.WithStdioContextFunc(
		func(context.Context) context.Context { return ctx },
	))
}

// registerTools declares the four tool schemas and binds their handlers.
func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.Tool{
		Name:        "start_thinking",
		Description: "Start a structured deep-thinking session on a topic. Returns the first reasoning step's prompt.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"topic": map[string]any{
					"type":        "string",
					"description": "The question or problem to think through (max 1000 characters)",
				},
				"complexity": map[string]any{
					"type":        "string",
					"enum":        []string{"simple", "moderate", "complex"},
					"description": "Difficulty of the topic; selects prompt depth (default: moderate)",
				},
				"focus": map[string]any{
					"type":        "string",
					"description": "Optional aspect of the topic to concentrate on",
				},
				"flow_type": map[string]any{
					"type":        "string",
					"description": "Thinking flow to run (default: the configured default flow)",
				},
			},
			Required: []string{"topic"},
		},
	}, s.StartThinking)

	s.mcp.AddTool(mcp.Tool{
		Name:        "next_step",
		Description: "Submit the result of the current reasoning step and receive the next step's prompt.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": map[string]any{
					"type":        "string",
					"description": "Session id returned by start_thinking",
				},
				"step_result": map[string]any{
					"type":        "string",
					"description": "Your full result for the current step",
				},
				"quality_feedback": map[string]any{
					"type":        "object",
					"description": "Optional self-evaluation of the step result",
					"properties": map[string]any{
						"quality_score": map[string]any{
							"type":        "number",
							"minimum":     0,
							"maximum":     1,
							"description": "Quality score in [0,1]; drives the quality gate",
						},
						"feedback": map[string]any{
							"type":        "string",
							"description": "What was good or bad about the result",
						},
						"improvement_areas": map[string]any{
							"type":        "array",
							"items":       map[string]any{"type": "string"},
							"description": "Concrete aspects to improve on a retry",
						},
					},
				},
			},
			Required: []string{"session_id", "step_result"},
		},
	}, s.NextStep)

	s.mcp.AddTool(mcp.Tool{
		Name:        "analyze_step",
		Description: "Get an evaluation prompt for a step result without advancing the flow.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": map[string]any{
					"type":        "string",
					"description": "Session id returned by start_thinking",
				},
				"step_name": map[string]any{
					"type":        "string",
					"description": "Flow step the result belongs to",
				},
				"step_result": map[string]any{
					"type":        "string",
					"description": "The step result to analyze",
				},
				"analysis_type": map[string]any{
					"type":        "string",
					"enum":        []string{"quality", "format", "completeness", "bias", "logic"},
					"description": "Evaluation angle (default: quality)",
				},
			},
			Required: []string{"session_id", "step_name", "step_result"},
		},
	}, s.AnalyzeStep)

	s.mcp.AddTool(mcp.Tool{
		Name:        "complete_thinking",
		Description: "Finish the thinking session and receive the final report prompt.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": map[string]any{
					"type":        "string",
					"description": "Session id returned by start_thinking",
				},
				"final_insights": map[string]any{
					"type":        "string",
					"description": "Optional closing insights to fold into the report",
				},
			},
			Required: []string{"session_id"},
		},
	}, s.CompleteThinking)
}
