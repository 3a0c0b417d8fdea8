// Package audit provides structured audit logging for MCP tool calls.
package audit

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	bearerTokenPattern = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9\-._~+/]+=*`)
	keyValuePattern    = regexp.MustCompile(`(?i)\b(token|ticket|secret|password|passwd|authorization)\s*[:=]\s*([^\s,;]+)`)
)

// ToolCallCompletion captures one finalized tool call at the transport.
type ToolCallCompletion struct {
	RequestID    string
	SessionID    string
	Transport    string
	ToolName     string
	Mode         string
	CallerSub    string
	Arguments    map[string]any
	Result       string
	ErrorDetail  string
	Duration     time.Duration
	ResponseCode int
}

// ToolRecord is the usage record kept for every tool call.
type ToolRecord struct {
	MCPClient  string `json:"mcp_client"`
	Toolset    string `json:"toolset"`
	ToolName   string `json:"tool_name"`
	ToolAction string `json:"tool_action"`
	Status     string `json:"status"`
	P4Version  string `json:"p4_version"`
}

// RecordSink receives tool records after they are logged.
type RecordSink interface {
	Append(record ToolRecord) error
}

// TargetSummary names the backend objects a call touched.
type TargetSummary struct {
	Workspaces  []string `json:"workspaces,omitempty"`
	Changelists []string `json:"changelists,omitempty"`
	Paths       []string `json:"paths,omitempty"`
	Jobs        []string `json:"jobs,omitempty"`
}

// Logger emits structured audit entries.
type Logger struct {
	logger zerolog.Logger
	sinks  []RecordSink
}

// NewLogger creates an audit logger. Tool records are also handed to sinks.
func NewLogger(logger zerolog.Logger, sinks ...RecordSink) *Logger {
	return &Logger{
		logger: logger.With().Str("component", "audit").Logger(),
		sinks:  sinks,
	}
}

// Complete writes a single completion log entry for one tool call.
func (l *Logger) Complete(event ToolCallCompletion) {
	if l == nil {
		return
	}

	result := strings.TrimSpace(event.Result)
	if result == "" {
		result = "error"
	}
	tool := orUnknown(event.ToolName)
	mode := strings.TrimSpace(event.Mode)
	if mode == "" {
		mode = "read-only"
	}
	duration := max(event.Duration, 0)

	entry := l.logger.Info().
		Str("event", "mcp.tool_call.completed").
		Str("request_id", strings.TrimSpace(event.RequestID)).
		Str("session_id", strings.TrimSpace(event.SessionID)).
		Str("transport", strings.TrimSpace(event.Transport)).
		Str("tool", tool).
		Str("mode", mode).
		Str("caller_subject", strings.TrimSpace(event.CallerSub)).
		Str("result", result).
		Int64("duration_ms", duration.Milliseconds()).
		Interface("target", SummarizeTargets(event.Arguments))

	if event.ResponseCode > 0 {
		entry = entry.Int("response_code", event.ResponseCode)
	}
	if redactedError := RedactSensitiveText(event.ErrorDetail); redactedError != "" {
		entry = entry.Str("error_detail", redactedError)
	}

	entry.Msg("tool call completed")
}

// Record logs one tool record and forwards it to the sinks. Sink failures
// are logged and otherwise ignored.
func (l *Logger) Record(record ToolRecord) {
	if l == nil {
		return
	}
	record.MCPClient = orUnknown(record.MCPClient)
	record.Toolset = orUnknown(record.Toolset)
	record.ToolName = orUnknown(record.ToolName)
	record.ToolAction = orUnknown(record.ToolAction)
	record.Status = orUnknown(record.Status)
	record.P4Version = orUnknown(record.P4Version)

	l.logger.Info().
		Str("event", "mcp.tool_call.record").
		Str("mcp_client", record.MCPClient).
		Str("toolset", record.Toolset).
		Str("tool_name", record.ToolName).
		Str("tool_action", record.ToolAction).
		Str("status", record.Status).
		Str("p4_version", record.P4Version).
		Msg("tool_call")

	for _, sink := range l.sinks {
		if err := sink.Append(record); err != nil {
			l.logger.Warn().Err(err).Str("tool_name", record.ToolName).Msg("failed to append tool record")
		}
	}
}

// SummarizeTargets collects the workspaces, changelists, paths and jobs
// named in tool arguments.
func SummarizeTargets(args map[string]any) TargetSummary {
	if args == nil {
		return TargetSummary{}
	}
	return TargetSummary{
		Workspaces:  uniqueStrings(readString(args, "workspace_name", "name")),
		Changelists: uniqueStrings(readString(args, "changelist_id", "changelist", "target_changelist")),
		Paths: uniqueStrings(append(
			readString(args, "file_path", "file2", "depot_path"),
			readStringSlice(args, "file_paths", "source_paths", "target_paths")...,
		)),
		Jobs: uniqueStrings(readString(args, "job_id")),
	}
}

// RedactSensitiveText removes obvious secrets from free-text error details.
func RedactSensitiveText(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	redacted := bearerTokenPattern.ReplaceAllString(trimmed, "Bearer [REDACTED]")
	redacted = keyValuePattern.ReplaceAllStringFunc(redacted, func(match string) string {
		if key, _, ok := strings.Cut(match, ":"); ok {
			return fmt.Sprintf("%s: [REDACTED]", strings.TrimSpace(key))
		}
		if key, _, ok := strings.Cut(match, "="); ok {
			return fmt.Sprintf("%s=[REDACTED]", strings.TrimSpace(key))
		}
		return "[REDACTED]"
	})
	return redacted
}

func orUnknown(value string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return "unknown"
}

func readString(args map[string]any, keys ...string) []string {
	values := make([]string, 0, len(keys))
	for _, key := range keys {
		switch typed := args[key].(type) {
		case string:
			if trimmed := strings.TrimSpace(typed); trimmed != "" {
				values = append(values, trimmed)
			}
		case float64:
			values = append(values, fmt.Sprintf("%.0f", typed))
		}
	}
	return values
}

func readStringSlice(args map[string]any, keys ...string) []string {
	var values []string
	for _, key := range keys {
		switch typed := args[key].(type) {
		case []string:
			values = append(values, typed...)
		case []any:
			for _, item := range typed {
				if asString, ok := item.(string); ok {
					values = append(values, asString)
				}
			}
		}
	}
	return values
}

func uniqueStrings(values []string) []string {
	unique := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" || slices.Contains(unique, trimmed) {
			continue
		}
		unique = append(unique, trimmed)
	}
	if len(unique) == 0 {
		return nil
	}
	slices.Sort(unique)
	return unique
}
