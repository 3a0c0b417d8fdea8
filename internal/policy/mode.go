// Package policy defines execution guardrails for MCP tool calls.
package policy

import (
	"fmt"
	"strings"
)

const (
	// ModeReadOnly allows only read capability tools.
	ModeReadOnly = "read-only"
	// ModeReadWrite allows read and write capability tools.
	ModeReadWrite = "read-write"
)

// Guard enforces the server's read-only switch at call time. Write tools
// are normally not registered in read-only mode; the guard also covers
// tools reached through another path.
type Guard struct {
	mode string
}

// NewGuard returns a guard for the --readonly setting.
func NewGuard(readOnly bool) *Guard {
	if readOnly {
		return &Guard{mode: ModeReadOnly}
	}
	return &Guard{mode: ModeReadWrite}
}

// Mode returns the resolved mode.
func (g *Guard) Mode() string {
	if g == nil {
		return ModeReadOnly
	}
	return g.mode
}

// ReadOnly reports whether write tools are refused.
func (g *Guard) ReadOnly() bool {
	return g.Mode() == ModeReadOnly
}

// AuthorizeTool allows or denies tool execution based on tool capability.
func (g *Guard) AuthorizeTool(name, capability string) error {
	toolName := strings.TrimSpace(name)
	if toolName == "" {
		toolName = "unknown"
	}

	switch strings.ToLower(strings.TrimSpace(capability)) {
	case "read":
		return nil
	case "write":
		if !g.ReadOnly() {
			return nil
		}
		return fmt.Errorf("tool %s is not available in read-only mode", toolName)
	default:
		return fmt.Errorf("tool %s has unknown capability %q", toolName, strings.TrimSpace(capability))
	}
}
