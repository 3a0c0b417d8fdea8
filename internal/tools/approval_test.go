package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/p4mcp/p4-mcp-server/internal/audit"
	"github.com/p4mcp/p4-mcp-server/internal/connection"
	"github.com/p4mcp/p4-mcp-server/internal/handlers"
	"github.com/p4mcp/p4-mcp-server/internal/p4"
	"github.com/p4mcp/p4-mcp-server/internal/p4/p4test"
	"github.com/p4mcp/p4-mcp-server/internal/permission"
	"github.com/p4mcp/p4-mcp-server/internal/policy"
	"github.com/p4mcp/p4-mcp-server/internal/services"
)

type staticProperties map[string]string

func (s staticProperties) Get(_ context.Context, name string) (string, bool) {
	value, ok := s[name]
	return value, ok
}

// taggedDefinitions mirrors the tags of api/tools.yaml.
func taggedDefinitions() []Definition {
	defs := definitions(true)
	for i := range defs {
		name := defs[i].Name
		switch {
		case name == policy.ConfirmTool:
			defs[i].Tags = []string{"write", "delete"}
		case strings.HasPrefix(name, "query_"):
			defs[i].Tags = []string{"read", policy.Toolset(name)}
		default:
			defs[i].Tags = []string{"write", policy.Toolset(name)}
		}
	}
	return defs
}

// newBackendRunner wires a runner over the real router and services, backed
// by conn and checked against props.
func newBackendRunner(t *testing.T, conn *p4test.Conn, props staticProperties) *Runner {
	t.Helper()
	manager := connection.NewManager(connection.Options{
		Settings: p4.Settings{Port: "fake:1666", User: "alice"},
		Dialer:   p4test.Dialer(conn),
		Logger:   zerolog.Nop(),
	})
	t.Cleanup(func() { _ = manager.Close() })

	return NewRunner(Options{
		Tools:         taggedDefinitions(),
		Router:        handlers.NewRouter(services.New(manager, zerolog.Nop()), zerolog.Nop()),
		Permissions:   permission.NewMiddleware(props, true, zerolog.Nop()),
		Toolsets:      allToolsets,
		Audit:         audit.NewLogger(zerolog.Nop()),
		ServerVersion: manager.ServerVersion,
		Logger:        zerolog.Nop(),
	})
}

func TestCall_FileDeleteApprovalRoundTrip(t *testing.T) {
	t.Parallel()

	const deleteLine = "delete -c default //depot/f.txt"
	conn := p4test.NewConn("alice", "ws1").
		On("info", p4test.Info("alice")).
		On(deleteLine, p4.Record{"depotFile": "//depot/f.txt", "action": "delete"})
	runner := newBackendRunner(t, conn, staticProperties{permission.PropAllowedToolsets: "files"})

	proposal, err := runner.Call(context.Background(), "modify_files", map[string]any{
		"action":     "delete",
		"file_paths": []any{"//depot/f.txt"},
	})
	require.NoError(t, err)
	require.Equal(t, "approval_required", proposal["type"])
	require.Equal(t, "execute_delete", proposal["on_approval"])
	require.NotContains(t, conn.Calls(), deleteLine)

	out, err := runner.Call(context.Background(), "execute_delete", map[string]any{
		"source_tool":    "modify_files",
		"action":         "delete",
		"file_paths":     []any{"//depot/f.txt"},
		"operation_id":   proposal["operation_id"],
		"user_confirmed": true,
	})
	require.NoError(t, err)
	require.Equal(t, "success", out["status"])
	require.Equal(t, "delete", out["action"])
	require.Contains(t, conn.Calls(), deleteLine)
}

func TestCall_ExecuteDeleteUsesSourceToolsetPolicy(t *testing.T) {
	t.Parallel()

	args := map[string]any{
		"source_tool":    "modify_files",
		"action":         "delete",
		"file_paths":     []any{"//depot/f.txt"},
		"user_confirmed": true,
	}

	tests := []struct {
		name    string
		props   staticProperties
		wantErr string
	}{
		{
			name:  "source toolset allowed",
			props: staticProperties{permission.PropAllowedToolsets: "files,jobs"},
		},
		{
			name:  "source tool listed",
			props: staticProperties{"mcp.toolset.files.tools": "query_files,modify_files"},
		},
		{
			name:    "source toolset not allowed",
			props:   staticProperties{permission.PropAllowedToolsets: "changelists"},
			wantErr: "Permission denied: Toolset 'files' is disabled by the administrator",
		},
		{
			name:    "source toolset disabled",
			props:   staticProperties{"mcp.toolset.files.enabled": "false"},
			wantErr: "Permission denied: Toolset 'files' is disabled by the administrator",
		},
		{
			name:    "source toolset read only",
			props:   staticProperties{"mcp.toolset.files.write": "FALSE"},
			wantErr: "Permission denied: Write operations disabled for toolset 'files' by the administrator",
		},
		{
			name:    "source tool not listed",
			props:   staticProperties{"mcp.toolset.files.tools": "query_files"},
			wantErr: "Permission denied: Tool 'modify_files' is disabled by the administrator",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			conn := p4test.NewConn("alice", "ws1").
				On("info", p4test.Info("alice")).
				On("delete -c default //depot/f.txt", p4.Record{"depotFile": "//depot/f.txt", "action": "delete"})
			out, err := newBackendRunner(t, conn, tc.props).Call(context.Background(), "execute_delete", args)

			if tc.wantErr != "" {
				var denied *permission.DeniedError
				require.ErrorAs(t, err, &denied)
				require.EqualError(t, err, tc.wantErr)
				require.Empty(t, conn.Calls())
				return
			}
			require.NoError(t, err)
			require.Equal(t, "success", out["status"])
		})
	}
}

func TestCall_ExecuteDeleteChecksSourceTool(t *testing.T) {
	t.Parallel()

	var seen permission.Tool
	runner := newTestRunner(&mockRouter{}, &memorySink{}, func(o *Options) {
		o.Permissions = mockPermissions{checkFn: func(tool permission.Tool) error {
			seen = tool
			return nil
		}}
	})

	_, err := runner.Call(context.Background(), "execute_delete", map[string]any{
		"source_tool":    "modify_shelves",
		"action":         "delete",
		"changelist_id":  "7",
		"user_confirmed": true,
	})
	require.NoError(t, err)
	require.Equal(t, permission.Tool{
		Name:    "modify_shelves",
		Tags:    []string{"delete", "shelves"},
		Enabled: true,
	}, seen)
}
