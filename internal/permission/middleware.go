// Package permission enforces the administrator policy stored as server
// properties before any tool runs.
package permission

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"
)

// Operation is the kind of access a tool performs.
type Operation string

const (
	OperationRead   Operation = "read"
	OperationWrite  Operation = "write"
	OperationDelete Operation = "delete"
)

// Toolsets are the tags that name a toolset.
var Toolsets = []string{"server", "files", "workspaces", "changelists", "shelves", "jobs"}

// Property keys consulted by the middleware.
const (
	PropEnabled         = "mcp.enabled"
	PropWrite           = "mcp.toolsets.write"
	PropAllowedToolsets = "mcp.toolsets.allowed"
)

func toolsetProp(toolset, suffix string) string {
	return "mcp.toolset." + toolset + "." + suffix
}

// Tool describes the tool being called.
type Tool struct {
	Name    string
	Tags    []string
	Enabled bool
}

// Info is what the tags say about a tool.
type Info struct {
	Operation Operation
	Toolset   string
}

// Write reports whether the tool mutates state.
func (i Info) Write() bool {
	return i.Operation == OperationWrite || i.Operation == OperationDelete
}

// ParseTags derives the operation kind and toolset from tags. Without a
// toolset tag, the second underscore-separated word of name is used.
func ParseTags(name string, tags []string) Info {
	info := Info{Operation: OperationRead, Toolset: "unknown"}
	for _, tag := range tags {
		switch {
		case tag == string(OperationRead), tag == string(OperationWrite), tag == string(OperationDelete):
			info.Operation = Operation(tag)
		case slices.Contains(Toolsets, tag):
			info.Toolset = tag
		}
	}
	if info.Toolset == "unknown" {
		if parts := strings.Split(name, "_"); len(parts) > 1 {
			info.Toolset = parts[1]
		}
	}
	return info
}

// DeniedError is a policy rejection.
type DeniedError struct {
	Reason string
}

// Error implements error.
func (e *DeniedError) Error() string {
	if e == nil {
		return ""
	}
	return "Permission denied: " + e.Reason
}

func denied(format string, args ...any) error {
	return &DeniedError{Reason: fmt.Sprintf(format, args...)}
}

// Properties is the property lookup the middleware reads from.
type Properties interface {
	Get(ctx context.Context, name string) (string, bool)
}

// Middleware checks every tool call against the property policy.
type Middleware struct {
	props         Properties
	toolsetChecks bool
	logger        zerolog.Logger
}

// NewMiddleware creates a Middleware. toolsetChecks enables the per-toolset
// and per-tool properties on top of the global ones.
func NewMiddleware(props Properties, toolsetChecks bool, logger zerolog.Logger) *Middleware {
	return &Middleware{
		props:         props,
		toolsetChecks: toolsetChecks,
		logger:        logger.With().Str("component", "permission").Logger(),
	}
}

// Check returns a *DeniedError when policy forbids the call.
func (m *Middleware) Check(ctx context.Context, tool Tool) error {
	info := ParseTags(tool.Name, tool.Tags)
	if err := m.check(ctx, tool, info); err != nil {
		m.logger.Error().Err(err).Str("tool", tool.Name).Msg("permission check failed")
		return err
	}
	m.logger.Debug().
		Str("tool", tool.Name).
		Str("operation", string(info.Operation)).
		Str("toolset", info.Toolset).
		Msg("permission check passed")
	return nil
}

func (m *Middleware) check(ctx context.Context, tool Tool, info Info) error {
	if m.isFalse(ctx, PropEnabled) {
		return denied("P4 MCP server is disabled by the administrator")
	}
	if info.Write() && m.isFalse(ctx, PropWrite) {
		return denied("Write operations are disabled by the administrator")
	}

	if m.toolsetChecks {
		if allowed, ok := m.props.Get(ctx, PropAllowedToolsets); ok && allowed != "" {
			if !slices.Contains(splitList(allowed), info.Toolset) {
				return denied("Toolset '%s' is disabled by the administrator", info.Toolset)
			}
		}
		if m.isFalse(ctx, toolsetProp(info.Toolset, "enabled")) {
			return denied("Toolset '%s' is disabled by the administrator", info.Toolset)
		}
		if info.Write() && m.isFalse(ctx, toolsetProp(info.Toolset, "write")) {
			return denied("Write operations disabled for toolset '%s' by the administrator", info.Toolset)
		}
		if tools, ok := m.props.Get(ctx, toolsetProp(info.Toolset, "tools")); ok && tools != "" {
			if !slices.Contains(splitList(tools), tool.Name) {
				return denied("Tool '%s' is disabled by the administrator", tool.Name)
			}
		}
	}

	if !tool.Enabled {
		return denied("Tool is currently disabled")
	}
	return nil
}

func (m *Middleware) isFalse(ctx context.Context, name string) bool {
	value, ok := m.props.Get(ctx, name)
	return ok && strings.EqualFold(strings.TrimSpace(value), "false")
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.TrimSpace(part))
	}
	return out
}
