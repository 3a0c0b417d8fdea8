package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/p4mcp/p4-mcp-server/internal/permission"
)

// ToolCaller executes one tool call and returns structured content.
type ToolCaller interface {
	Call(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}

type statusCoder interface {
	StatusCode() int
}

// isPolicyDenial reports whether err is an administrator policy rejection.
// Denials are protocol errors rather than tool results.
func isPolicyDenial(err error) bool {
	var denied *permission.DeniedError
	return errors.As(err, &denied)
}

func toolErrorStatus(err error) int {
	if isPolicyDenial(err) {
		return http.StatusForbidden
	}
	var withStatus statusCoder
	if err != nil && errors.As(err, &withStatus) {
		status := withStatus.StatusCode()
		if status >= 400 && status <= 599 {
			return status
		}
	}
	return http.StatusInternalServerError
}

func toolErrorMessage(err error) string {
	if err == nil {
		return "unknown tool execution error"
	}
	message := strings.TrimSpace(err.Error())
	if message == "" {
		return "unknown tool execution error"
	}
	return message
}

func toolCallResultFromExecution(name, mode string, payload map[string]any) callToolResult {
	text, err := json.Marshal(payload)
	if err != nil {
		text = []byte(`{}`)
	}
	status := "ok"
	if value, ok := payload["status"].(string); ok && value != "" {
		status = value
	}
	return callToolResult{
		Content: []contentBlock{
			{
				Type: "text",
				Text: string(text),
			},
		},
		IsError: false,
		StructuredContent: map[string]any{
			"tool":   strings.TrimSpace(name),
			"mode":   strings.TrimSpace(mode),
			"status": status,
			"result": payload,
		},
	}
}

func toolCallResultFromError(name, mode string, err error) callToolResult {
	return callToolResult{
		Content: []contentBlock{
			{
				Type: "text",
				Text: toolErrorMessage(err),
			},
		},
		IsError: true,
		StructuredContent: map[string]any{
			"tool":   strings.TrimSpace(name),
			"mode":   strings.TrimSpace(mode),
			"status": "error",
			"error": map[string]any{
				"status":  toolErrorStatus(err),
				"message": toolErrorMessage(err),
			},
		},
	}
}
