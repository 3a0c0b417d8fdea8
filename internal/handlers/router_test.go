package handlers

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/p4mcp/p4-mcp-server/internal/connection"
	"github.com/p4mcp/p4-mcp-server/internal/models"
	"github.com/p4mcp/p4-mcp-server/internal/p4"
	"github.com/p4mcp/p4-mcp-server/internal/p4/p4test"
	"github.com/p4mcp/p4-mcp-server/internal/services"
)

func newTestRouter(t *testing.T, conn *p4test.Conn) *Router {
	t.Helper()
	manager := connection.NewManager(connection.Options{
		Settings: p4.Settings{Port: "fake:1666", User: "alice"},
		Dialer:   p4test.Dialer(conn),
		Logger:   zerolog.Nop(),
	})
	t.Cleanup(func() { _ = manager.Close() })
	return NewRouter(services.New(manager, zerolog.Nop()), zerolog.Nop())
}

func aliceConn() *p4test.Conn {
	return p4test.NewConn("alice", "ws1").On("info", p4test.Info("alice"))
}

func TestRouterHandle_UnknownRoute(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, aliceConn())
	env := router.Handle(context.Background(), Query, "bogus", &models.QueryServerParams{Action: models.ServerInfo})
	require.Equal(t, services.StatusError, env.Status)
	require.Equal(t, "Unknown operation: query/bogus", env.Message)

	env = router.Handle(context.Background(), Modify, SubServer, &models.QueryServerParams{Action: models.ServerInfo})
	require.Equal(t, "Unknown operation: modify/server", env.Message)
}

func TestRouterHandle_DataEnvelope(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, aliceConn())
	env := router.Handle(context.Background(), Query, SubServer, &models.QueryServerParams{Action: models.ServerInfo})
	require.Equal(t, services.StatusSuccess, env.Status)
	require.Equal(t, "server_info", env.Action)
	require.Nil(t, env.Message)

	result, ok := env.Data.(services.Result)
	require.True(t, ok)
	require.Equal(t, "alice", result.Message.(map[string]string)["userName"])

	out := env.Map()
	require.Equal(t, "success", out["status"])
	require.Contains(t, out, "data")
	require.NotContains(t, out, "message")
}

func TestRouterHandle_Preconditions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		category Category
		sub      Sub
		params   models.Params
		want     string
	}{
		{
			name:     "workspace name",
			category: Query, sub: SubWorkspaces,
			params: &models.QueryWorkspacesParams{Action: models.WorkspaceStatus},
			want:   "workspace_name is required for this status action",
		},
		{
			name:     "add without paths",
			category: Modify, sub: SubFiles,
			params: &models.ModifyFilesParams{Action: models.FileAdd, Changelist: "default"},
			want:   "file_paths are required for this add action",
		},
		{
			name:     "sync without paths",
			category: Modify, sub: SubFiles,
			params: &models.ModifyFilesParams{Action: models.FileSync},
			want:   "file_paths are required for this sync action",
		},
		{
			name:     "move without targets",
			category: Modify, sub: SubFiles,
			params: &models.ModifyFilesParams{Action: models.FileMove, SourcePaths: []string{"//depot/a"}},
			want:   "source_paths and target_paths required for move action",
		},
		{
			name:     "changelist description",
			category: Modify, sub: SubChangelists,
			params: &models.ModifyChangelistsParams{Action: models.ChangelistUpdate, ChangelistID: "7"},
			want:   "description is required for this update action",
		},
		{
			name:     "shelve without paths",
			category: Modify, sub: SubShelves,
			params: &models.ModifyShelvesParams{Action: models.ShelveShelve, ChangelistID: "7"},
			want:   "file_paths required for shelve action",
		},
		{
			name:     "job link without ids",
			category: Modify, sub: SubJobs,
			params: &models.ModifyJobsParams{Action: models.JobLink},
			want:   "changelist_id or job_id is required for this link_job action",
		},
		{
			name:     "job unlink without changelist",
			category: Modify, sub: SubJobs,
			params: &models.ModifyJobsParams{Action: models.JobUnlink, JobID: "job000001"},
			want:   "No changelist ID provided to unlink job from",
		},
		{
			name:     "mismatched params",
			category: Query, sub: SubFiles,
			params: &models.QueryServerParams{Action: models.ServerInfo},
			want:   "unexpected parameters *models.QueryServerParams for query/files",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			conn := aliceConn()
			router := newTestRouter(t, conn)

			env := router.Handle(context.Background(), tc.category, tc.sub, tc.params)
			require.Equal(t, services.StatusError, env.Status)
			require.Equal(t, tc.want, env.Message)
			require.Equal(t, tc.params.ActionName(), env.Action)
			require.Empty(t, conn.Calls())
		})
	}
}

func TestRouterHandle_MessageEnvelopes(t *testing.T) {
	t.Parallel()

	conn := aliceConn().
		OnError("sync //depot/...", p4test.Warning("sync", "//depot/... - file(s) up-to-date.")).
		OnError("edit -c default //depot/missing", p4test.Failure("edit", "//depot/missing - no such file(s).")).
		On("describe -s 7", p4.Record{"change": "7", "user": "bob", "client": "ws2", "status": "pending"})
	router := newTestRouter(t, conn)
	ctx := context.Background()

	env := router.Handle(ctx, Modify, SubFiles, &models.ModifyFilesParams{Action: models.FileSync, FilePaths: []string{"//depot/..."}})
	require.Equal(t, services.StatusSuccess, env.Status)
	require.Equal(t, services.SyncUpToDateMessage, env.Message)
	require.Nil(t, env.Data)

	env = router.Handle(ctx, Modify, SubFiles, &models.ModifyFilesParams{Action: models.FileEdit, FilePaths: []string{"//depot/missing"}, Changelist: "default"})
	require.Equal(t, services.StatusError, env.Status)
	require.Equal(t, "edit", env.Action)
	require.Contains(t, env.Message, "no such file")

	env = router.Handle(ctx, Modify, SubChangelists, &models.ModifyChangelistsParams{Action: models.ChangelistSubmit, ChangelistID: "7"})
	require.Equal(t, services.StatusError, env.Status)
	require.Equal(t, "Cannot update changelist '7': not owned by current user", env.Message)
}

func TestRouterHandle_RecoversPanics(t *testing.T) {
	t.Parallel()

	router := NewRouter(&services.Services{}, zerolog.Nop())
	env := router.Handle(context.Background(), Query, SubServer, &models.QueryServerParams{Action: models.CurrentUser})
	require.Equal(t, services.StatusError, env.Status)
	require.Equal(t, "current_user", env.Action)
	require.NotEmpty(t, env.Message)
}

func TestRoutes(t *testing.T) {
	t.Parallel()

	require.Len(t, routes, 11)
}
