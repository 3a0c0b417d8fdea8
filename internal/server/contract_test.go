package server

import (
	"context"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/p4mcp/p4-mcp-server/internal/tools"
)

const testContract = `
version: "1.0"
service: "p4-mcp"
apiVersion: "mcp/v1"
tools:
  - name: query_server
    capability: read
    tags: [read, server]
    requiredScopes: [p4:read]
    inputSchema:
      type: object
  - name: query_files
    capability: read
    tags: [read, files]
    requiredScopes: [p4:read]
    inputSchema:
      type: object
  - name: modify_files
    capability: write
    tags: [write, files]
    requiredScopes: [p4:write]
    approvalActions: [delete]
    inputSchema:
      type: object
  - name: query_jobs
    capability: read
    tags: [read, jobs]
    requiredScopes: [p4:read]
  - name: execute_delete
    capability: write
    toolset: delete
    tags: [write, delete]
    requiredScopes: [p4:delete]
`

type fakeCaller struct {
	mu      sync.Mutex
	calls   []fakeCall
	payload map[string]any
	err     error
}

type fakeCall struct {
	name   string
	client string
	args   map[string]any
}

func (f *fakeCaller) Call(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{name: name, client: tools.ClientName(ctx), args: args})
	if f.err != nil {
		return nil, f.err
	}
	if f.payload != nil {
		return f.payload, nil
	}
	return map[string]any{"status": "success", "action": "list", "tool": name}, nil
}

func (f *fakeCaller) recorded() []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeCall(nil), f.calls...)
}

func mustTestRegistry(t *testing.T) *ToolRegistry {
	t.Helper()
	registry, err := NewToolRegistry([]byte(testContract))
	require.NoError(t, err)
	return registry
}

func enabledNames(specs []ToolSpec) []string {
	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, spec.Name)
	}
	return names
}

func TestNewToolRegistry_Success(t *testing.T) {
	registry := mustTestRegistry(t)
	require.Len(t, registry.List(), 5)

	tool, ok := registry.Lookup("query_files")
	require.True(t, ok)
	require.Equal(t, "read", tool.Capability)
	require.Equal(t, "files", tool.Toolset)
	require.True(t, tool.Enabled)

	tool, ok = registry.Lookup(" execute_delete ")
	require.True(t, ok)
	require.Equal(t, "delete", tool.Toolset)
}

func TestNewToolRegistry_Errors(t *testing.T) {
	tests := []struct {
		name     string
		contract string
		want     string
	}{
		{
			name: "duplicate name",
			contract: `
tools:
  - name: same
    capability: read
  - name: same
    capability: write
`,
			want: "duplicate tool",
		},
		{
			name:     "empty",
			contract: `tools: []`,
			want:     "no tools",
		},
		{
			name: "missing capability",
			contract: `
tools:
  - name: query_files
`,
			want: "empty capability",
		},
		{
			name:     "malformed",
			contract: `tools: {`,
			want:     "decoding tool contract",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewToolRegistry([]byte(tc.contract))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestToolRegistry_Enable(t *testing.T) {
	tests := []struct {
		name     string
		readOnly bool
		toolsets []string
		want     []string
	}{
		{
			name:     "read only keeps reads of selected toolsets",
			readOnly: true,
			toolsets: []string{"files", "jobs"},
			want:     []string{"query_server", "query_files", "query_jobs"},
		},
		{
			name:     "read write adds writes and execute_delete",
			readOnly: false,
			toolsets: []string{"files"},
			want:     []string{"query_server", "query_files", "modify_files", "execute_delete"},
		},
		{
			name:     "jobs alone has no delete",
			readOnly: false,
			toolsets: []string{"jobs"},
			want:     []string{"query_server", "query_jobs"},
		},
		{
			name:     "no toolsets leaves the server tool",
			readOnly: false,
			toolsets: nil,
			want:     []string{"query_server"},
		},
	}

	base := mustTestRegistry(t)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			registry := base.Enable(tc.readOnly, tc.toolsets)
			require.Equal(t, tc.want, enabledNames(registry.Enabled()))
			require.Len(t, registry.List(), 5)

			defs := registry.Definitions()
			require.Len(t, defs, 5)
			for _, def := range defs {
				require.Equal(t, slices.Contains(tc.want, def.Name), def.Enabled, def.Name)
			}
		})
	}

	require.Len(t, base.Enabled(), 5, "Enable must not modify the receiver")
}

func TestToolRegistry_DefinitionsCarryApprovalActions(t *testing.T) {
	registry := mustTestRegistry(t)
	for _, def := range registry.Definitions() {
		if def.Name == "modify_files" {
			require.Equal(t, []string{"delete"}, def.ApprovalActions)
			require.Equal(t, []string{"write", "files"}, def.Tags)
			return
		}
	}
	t.Fatal("modify_files not found")
}
