package server

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcps/deep-thinking/pkg/config"
	"github.com/mcps/deep-thinking/pkg/flow"
	"github.com/mcps/deep-thinking/pkg/session"
)

// Error codes of the tool error envelope.
const (
	CodeValidationError   = "ValidationError"
	CodeSessionNotFound   = "SessionNotFound"
	CodeSessionExpired    = "SessionExpired"
	CodeSessionTerminal   = "SessionTerminal"
	CodeTemplateNotFound  = "TemplateNotFound"
	CodeFlowNotFound      = "FlowNotFound"
	CodeStepNotFound      = "StepNotFound"
	CodeForEachResolution = "ForEachResolutionError"
	CodeStorageError      = "StorageError"
	CodeInternalError     = "InternalError"
)

// errInvalidInput marks tool-input validation failures.
var errInvalidInput = errors.New("invalid input")

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalidInput, fmt.Sprintf(format, args...))
}

// ErrorEnvelope is the uniform error payload. Every failing tool call
// returns this shape regardless of which tool failed.
type ErrorEnvelope struct {
	Error               bool           `json:"error"`
	ErrorCode           string         `json:"error_code"`
	ErrorMessage        string         `json:"error_message"`
	Details             map[string]any `json:"details"`
	RecoverySuggestions []string       `json:"recovery_suggestions"`
}

var recoverySuggestions = map[string][]string{
	CodeValidationError: {
		"check the tool input against the schema and correct the offending field",
	},
	CodeSessionNotFound: {
		"verify the session id",
		"call start_thinking to begin a new session",
	},
	CodeSessionExpired: {
		"the session idled past the configured timeout",
		"call start_thinking to begin a new session",
	},
	CodeSessionTerminal: {
		"this session is finished and can no longer be modified",
		"call start_thinking to begin a new session",
	},
	CodeTemplateNotFound: {
		"check the template name against list_templates",
		"verify the configuration file declares the template",
	},
	CodeFlowNotFound: {
		"check the flow_type against the configured thinking_flows",
	},
	CodeStepNotFound: {
		"check the step_name against the session's flow definition",
	},
	CodeForEachResolution: {
		"re-submit the producer step's result as a JSON object containing the referenced array",
		"use analyze_step with analysis_type=format to diagnose the output",
	},
	CodeStorageError: {
		"the operation was retried once and still failed",
		"check the database file is writable and retry",
	},
	CodeInternalError: {
		"retry the call; if the problem persists, restart the server",
	},
}

// errorCode maps an internal error to its envelope code.
func errorCode(err error) string {
	var fe *flow.ForEachResolutionError
	var se *session.StorageError
	switch {
	case errors.As(err, &fe):
		return CodeForEachResolution
	case errors.As(err, &se):
		return CodeStorageError
	case errors.Is(err, errInvalidInput),
		errors.Is(err, config.ErrMissingRequiredField),
		errors.Is(err, session.ErrTooManySessions):
		return CodeValidationError
	case errors.Is(err, session.ErrSessionNotFound):
		return CodeSessionNotFound
	case errors.Is(err, session.ErrSessionExpired):
		return CodeSessionExpired
	case errors.Is(err, session.ErrSessionTerminal):
		return CodeSessionTerminal
	case errors.Is(err, config.ErrTemplateNotFound):
		return CodeTemplateNotFound
	case errors.Is(err, config.ErrFlowNotFound):
		return CodeFlowNotFound
	case errors.Is(err, config.ErrStepNotFound):
		return CodeStepNotFound
	default:
		return CodeInternalError
	}
}

// errorResult builds the MCP error response for err. details may be nil.
func errorResult(toolName string, err error, details map[string]any) *mcp.CallToolResult {
	code := errorCode(err)
	if details == nil {
		details = map[string]any{}
	}

	var fe *flow.ForEachResolutionError
	if errors.As(err, &fe) {
		details["step"] = fe.Step
		details["reference"] = fe.Ref.String()
		details["reason"] = fe.Reason
	}

	slog.Warn("Tool call failed",
		"tool", toolName,
		"error_code", code,
		"error", err)

	res := mcp.NewToolResultStructuredOnly(ErrorEnvelope{
		Error:               true,
		ErrorCode:           code,
		ErrorMessage:        err.Error(),
		Details:             details,
		RecoverySuggestions: recoverySuggestions[code],
	})
	res.IsError = true
	return res
}
