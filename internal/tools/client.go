package tools

import (
	"context"
	"strings"
)

type clientNameKey struct{}

// WithClientName attaches the MCP client's self-reported name to ctx.
func WithClientName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, clientNameKey{}, strings.TrimSpace(name))
}

// ClientName returns the MCP client name carried by ctx, or "Unknown".
func ClientName(ctx context.Context) string {
	if name, ok := ctx.Value(clientNameKey{}).(string); ok && name != "" {
		return name
	}
	return "Unknown"
}
