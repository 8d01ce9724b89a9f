package server

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// ToolResult is the uniform success payload returned by every tool. The
// host LLM reads prompt_template as its next task and next_action as the
// hint for which tool to call afterwards.
type ToolResult struct {
	ToolName       string         `json:"tool_name"`
	SessionID      string         `json:"session_id"`
	Step           string         `json:"step"`
	PromptTemplate string         `json:"prompt_template"`
	Instructions   string         `json:"instructions"`
	Context        map[string]any `json:"context"`
	NextAction     string         `json:"next_action"`
	Metadata       map[string]any `json:"metadata"`
}

func toolResult(r *ToolResult) *mcp.CallToolResult {
	if r.Context == nil {
		r.Context = map[string]any{}
	}
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	return mcp.NewToolResultStructuredOnly(r)
}
