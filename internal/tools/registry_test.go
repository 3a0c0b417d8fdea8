package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/p4mcp/p4-mcp-server/internal/audit"
	"github.com/p4mcp/p4-mcp-server/internal/handlers"
	"github.com/p4mcp/p4-mcp-server/internal/models"
	"github.com/p4mcp/p4-mcp-server/internal/permission"
	"github.com/p4mcp/p4-mcp-server/internal/services"
)

type dispatched struct {
	route  handlers.Route
	params models.Params
}

type mockRouter struct {
	calls    []dispatched
	handleFn func(handlers.Route, models.Params) handlers.Envelope
}

func (m *mockRouter) Handle(_ context.Context, category handlers.Category, sub handlers.Sub, params models.Params) handlers.Envelope {
	route := handlers.Route{Category: category, Sub: sub}
	m.calls = append(m.calls, dispatched{route: route, params: params})
	if m.handleFn != nil {
		return m.handleFn(route, params)
	}
	return handlers.Envelope{Status: services.StatusSuccess, Action: params.ActionName(), Message: "ok"}
}

type mockPermissions struct {
	checkFn func(permission.Tool) error
}

func (m mockPermissions) Check(_ context.Context, tool permission.Tool) error {
	return m.checkFn(tool)
}

type memorySink struct {
	records []audit.ToolRecord
}

func (m *memorySink) Append(record audit.ToolRecord) error {
	m.records = append(m.records, record)
	return nil
}

var allToolsets = []string{"files", "changelists", "shelves", "workspaces", "jobs"}

func definitions(enabled bool) []Definition {
	defs := make([]Definition, 0, len(Names()))
	for _, name := range Names() {
		def := Definition{Name: name, Enabled: enabled}
		switch name {
		case "modify_workspaces", "modify_files", "modify_changelists", "modify_shelves":
			def.ApprovalActions = []string{"delete"}
		}
		defs = append(defs, def)
	}
	return defs
}

func newTestRunner(router *mockRouter, sink *memorySink, opts ...func(*Options)) *Runner {
	options := Options{
		Tools:         definitions(true),
		Router:        router,
		Toolsets:      allToolsets,
		Audit:         audit.NewLogger(zerolog.Nop(), sink),
		ServerVersion: func() string { return "2025.1" },
		Logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return NewRunner(options)
}

func TestNames_ListsTwelveTools(t *testing.T) {
	t.Parallel()

	names := Names()
	require.Len(t, names, 12)
	require.Contains(t, names, "execute_delete")
	require.Contains(t, names, "query_server")
}

func TestCall_UnknownTool(t *testing.T) {
	t.Parallel()

	runner := newTestRunner(&mockRouter{}, &memorySink{})
	_, err := runner.Call(context.Background(), "query_everything", nil)
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	require.Equal(t, 404, toolErr.StatusCode())
}

func TestCall_ValidationError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		tool  string
		args  map[string]any
		field string
	}{
		{name: "missing action", tool: "query_files", args: map[string]any{"file_path": "//depot/a.txt"}, field: "action"},
		{name: "unknown field", tool: "query_server", args: map[string]any{"action": "server_info", "verbose": true}, field: "verbose"},
		{name: "unconfirmed delete", tool: "execute_delete", args: map[string]any{
			"source_tool": "modify_changelists", "action": "delete", "changelist_id": "12",
		}, field: "user_confirmed"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			router := &mockRouter{}
			_, err := newTestRunner(router, &memorySink{}).Call(context.Background(), tc.tool, tc.args)

			var toolErr *ToolError
			require.ErrorAs(t, err, &toolErr)
			require.Equal(t, 400, toolErr.StatusCode())
			var invalid *models.ValidationError
			require.ErrorAs(t, err, &invalid)
			require.Equal(t, tc.field, invalid.Field)
			require.Empty(t, router.calls)
		})
	}
}

func TestCall_DispatchesAndRecords(t *testing.T) {
	t.Parallel()

	router := &mockRouter{}
	sink := &memorySink{}
	runner := newTestRunner(router, sink)
	ctx := WithClientName(context.Background(), "claude-code")

	out, err := runner.Call(ctx, "query_changelists", map[string]any{
		"action": "list", "status": "pending", "max_results": float64(5),
	})
	require.NoError(t, err)
	require.Equal(t, "success", out["status"])
	require.Equal(t, "list", out["action"])

	require.Len(t, router.calls, 1)
	require.Equal(t, handlers.Route{Category: handlers.Query, Sub: handlers.SubChangelists}, router.calls[0].route)
	params, ok := router.calls[0].params.(*models.QueryChangelistsParams)
	require.True(t, ok)
	require.Equal(t, 5, params.MaxResults)

	require.Equal(t, []audit.ToolRecord{{
		MCPClient:  "claude-code",
		Toolset:    "changelists",
		ToolName:   "query_changelists",
		ToolAction: "list",
		Status:     "success",
		P4Version:  "2025.1",
	}}, sink.records)
}

func TestCall_DeleteRequiresApproval(t *testing.T) {
	t.Parallel()

	router := &mockRouter{}
	sink := &memorySink{}
	out, err := newTestRunner(router, sink).Call(context.Background(), "modify_changelists", map[string]any{
		"action": "delete", "changelist_id": float64(42),
	})
	require.NoError(t, err)
	require.Empty(t, router.calls)

	require.Equal(t, "approval_required", out["type"])
	require.Equal(t, "delete_changelists", out["operation"])
	require.Equal(t, "execute_delete", out["on_approval"])
	require.NotEmpty(t, out["operation_id"])
	details := out["details"].(map[string]any)
	require.Equal(t, "modify_changelists", details["source_tool"])
	require.Equal(t, "42", details["params"].(map[string]any)["changelist_id"])

	require.Len(t, sink.records, 1)
	require.Equal(t, "warning", sink.records[0].Status)
	require.Equal(t, "delete", sink.records[0].ToolAction)
	require.Equal(t, "Unknown", sink.records[0].MCPClient)
}

func TestCall_ExecuteDelete(t *testing.T) {
	t.Parallel()

	router := &mockRouter{}
	sink := &memorySink{}
	out, err := newTestRunner(router, sink).Call(context.Background(), "execute_delete", map[string]any{
		"source_tool":    "modify_workspaces",
		"action":         "delete",
		"workspace_name": "ws-old",
		"operation_id":   "op-1",
		"user_confirmed": true,
	})
	require.NoError(t, err)
	require.Equal(t, "success", out["status"])

	require.Len(t, router.calls, 1)
	require.Equal(t, handlers.Route{Category: handlers.Modify, Sub: handlers.SubWorkspaces}, router.calls[0].route)
	params := router.calls[0].params.(*models.ModifyWorkspacesParams)
	require.Equal(t, models.WorkspaceDelete, params.Action)
	require.Equal(t, "ws-old", params.Name)

	require.Equal(t, "execute_delete", sink.records[0].ToolName)
	require.Equal(t, "delete", sink.records[0].Toolset)
}

func TestCall_ExecuteDeleteRejectsDisabledToolset(t *testing.T) {
	t.Parallel()

	router := &mockRouter{}
	runner := newTestRunner(router, &memorySink{}, func(o *Options) { o.Toolsets = []string{"files"} })

	out, err := runner.Call(context.Background(), "execute_delete", map[string]any{
		"source_tool":    "modify_shelves",
		"action":         "delete",
		"changelist_id":  "7",
		"user_confirmed": true,
	})
	require.NoError(t, err)
	require.Equal(t, "error", out["status"])
	require.Equal(t, "Toolset not allowed: shelves", out["message"])
	require.Empty(t, router.calls)
}

func TestCall_PermissionDenied(t *testing.T) {
	t.Parallel()

	var seen permission.Tool
	router := &mockRouter{}
	sink := &memorySink{}
	runner := newTestRunner(router, sink, func(o *Options) {
		o.Permissions = mockPermissions{checkFn: func(tool permission.Tool) error {
			seen = tool
			return &permission.DeniedError{Reason: "Write operations are disabled by the administrator"}
		}}
	})

	_, err := runner.Call(context.Background(), "modify_files", map[string]any{"action": "add", "file_paths": []any{"//depot/a"}})
	var denied *permission.DeniedError
	require.ErrorAs(t, err, &denied)
	require.Equal(t, "modify_files", seen.Name)
	require.Empty(t, router.calls)
	require.Empty(t, sink.records)
}

func TestCall_DisabledToolWithoutPolicy(t *testing.T) {
	t.Parallel()

	runner := newTestRunner(&mockRouter{}, &memorySink{}, func(o *Options) { o.Tools = definitions(false) })
	_, err := runner.Call(context.Background(), "query_server", map[string]any{"action": "server_info"})
	var denied *permission.DeniedError
	require.ErrorAs(t, err, &denied)
	require.Equal(t, "Permission denied: Tool is currently disabled", err.Error())
}

func TestCall_RouterErrorEnvelopeIsNotAnError(t *testing.T) {
	t.Parallel()

	router := &mockRouter{handleFn: func(handlers.Route, models.Params) handlers.Envelope {
		return handlers.Envelope{Status: services.StatusError, Action: "content", Message: errors.New("no such file").Error()}
	}}
	out, err := newTestRunner(router, &memorySink{}).Call(context.Background(), "query_files", map[string]any{
		"action": "content", "file_path": "//depot/missing.txt",
	})
	require.NoError(t, err)
	require.Equal(t, "error", out["status"])
	require.Equal(t, "no such file", out["message"])
}

func TestClientName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Unknown", ClientName(context.Background()))
	require.Equal(t, "Unknown", ClientName(WithClientName(context.Background(), "  ")))
	require.Equal(t, "cursor", ClientName(WithClientName(context.Background(), "cursor")))
}
