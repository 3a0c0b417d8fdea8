package services

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/p4mcp/p4-mcp-server/internal/connection"
	"github.com/p4mcp/p4-mcp-server/internal/models"
	"github.com/p4mcp/p4-mcp-server/internal/p4"
	"github.com/p4mcp/p4-mcp-server/internal/p4/p4test"
)

func newTestServices(t *testing.T, conn *p4test.Conn) *Services {
	t.Helper()
	manager := connection.NewManager(connection.Options{
		Settings: p4.Settings{Port: "fake:1666", User: "alice"},
		Dialer:   p4test.Dialer(conn),
		Logger:   zerolog.Nop(),
	})
	t.Cleanup(func() { _ = manager.Close() })
	return New(manager, zerolog.Nop())
}

func aliceConn() *p4test.Conn {
	return p4test.NewConn("alice", "ws1").On("info", p4test.Info("alice"))
}

func pendingChange(id, user string) p4.Record {
	return p4.Record{"change": id, "user": user, "client": "ws1", "status": "pending", "desc": "wip\n"}
}

func requirePrecondition(t *testing.T, err error, message string) {
	t.Helper()
	var precondition *PreconditionError
	require.True(t, errors.As(err, &precondition), "expected PreconditionError, got %v", err)
	require.Equal(t, message, precondition.Message)
}

func TestServerService(t *testing.T) {
	t.Parallel()

	conn := aliceConn().On("user -o")
	svc := newTestServices(t, conn)

	result, err := svc.Server.Info(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)
	require.Equal(t, "alice", result.Message.(map[string]string)["userName"])

	_, err = svc.Server.CurrentUser(context.Background())
	requirePrecondition(t, err, "Current user not found")
}

func TestWorkspaceService_GetAndType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		spec     p4.Record
		wantType string
	}{
		{name: "stream", spec: p4.Record{"Client": "ws1", "Owner": "alice", "Stream": "//streams/main", "View": []string{"//streams/main/... //ws1/..."}}, wantType: WorkspaceKindStream},
		{name: "standard", spec: p4.Record{"Client": "ws1", "Owner": "alice", "View": []string{"//depot/a/... //ws1/a/...", "//depot/b/... //ws1/b/..."}}, wantType: WorkspaceKindStandard},
		{name: "custom", spec: p4.Record{"Client": "ws1", "Owner": "alice", "View": []string{"//proj/... //ws1/..."}}, wantType: WorkspaceKindCustom},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			conn := aliceConn().
				On("clients -e ws1", p4.Record{"client": "ws1"}).
				On("client -o ws1", tc.spec)
			svc := newTestServices(t, conn)

			result, err := svc.Workspaces.Type(context.Background(), "ws1")
			require.NoError(t, err)
			require.Equal(t, success(tc.wantType), result)
		})
	}

	conn := aliceConn().
		On("clients -e ws1", p4.Record{"client": "ws1"}).
		On("client -o ws1", p4.Record{"Client": "ws1", "View": []string{"//depot/a/... //ws1/a/...", "//depot/b/... //ws1/b/..."}})
	svc := newTestServices(t, conn)
	result, err := svc.Workspaces.Get(context.Background(), "ws1")
	require.NoError(t, err)
	require.Equal(t, "//depot/a/... //ws1/a/...\n//depot/b/... //ws1/b/...", result.Message.(map[string]string)["View"])
}

func TestWorkspaceService_GetMissing(t *testing.T) {
	t.Parallel()

	conn := aliceConn().On("clients -e nope")
	svc := newTestServices(t, conn)

	result, err := svc.Workspaces.Get(context.Background(), "nope")
	require.NoError(t, err)
	require.Equal(t, Result{Status: StatusNotFound, Message: "Workspace 'nope' not found"}, result)
}

func TestWorkspaceService_Status(t *testing.T) {
	t.Parallel()

	conn := aliceConn().
		On("clients -e ws2", p4.Record{"client": "ws2"}).
		On("client -o ws2", p4.Record{"Client": "ws2"}).
		On("opened", p4.Record{"depotFile": "//depot/a.txt"}, p4.Record{"depotFile": "//depot/b.txt"}).
		OnError("sync -n", p4test.Warning("sync", "File(s) up-to-date.")).
		OnError("resolve -n", p4test.Warning("resolve", "No file(s) to resolve.")).
		On("changes -m1 //ws2/...#have", p4.Record{"change": "1234"})
	svc := newTestServices(t, conn)

	result, err := svc.Workspaces.Status(context.Background(), "ws2")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)

	status := result.Message.(WorkspaceStatus)
	require.Equal(t, []string{"//depot/a.txt", "//depot/b.txt"}, status.OpenedFiles)
	require.Empty(t, status.OutOfSyncFiles)
	require.Empty(t, status.PendingResolves)
	require.Equal(t, "1234", *status.LastSyncedCL)

	for _, cmd := range conn.Commands() {
		if cmd.Name == "opened" || cmd.Name == "sync" || cmd.Name == "resolve" {
			require.Equal(t, "ws2", cmd.Client)
		}
	}
}

func TestWorkspaceService_OwnershipMismatchDoesNotMutate(t *testing.T) {
	t.Parallel()

	ops := map[string]func(*Services) (Result, error){
		"update": func(s *Services) (Result, error) {
			return s.Workspaces.Update(context.Background(), "bobs", models.WorkspaceSpec{Name: "bobs", Root: "/tmp/x"})
		},
		"delete": func(s *Services) (Result, error) { return s.Workspaces.Delete(context.Background(), "bobs") },
		"switch": func(s *Services) (Result, error) { return s.Workspaces.Switch(context.Background(), "bobs") },
	}

	for name, op := range ops {
		op := op
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			conn := aliceConn().On("client -o bobs", p4.Record{"Client": "bobs", "Owner": "bob"})
			svc := newTestServices(t, conn)

			result, err := op(svc)
			require.NoError(t, err)
			require.Equal(t, Result{Status: StatusFailed, Message: "Workspace 'bobs' is owned by 'bob', not 'alice'"}, result)
			require.NotContains(t, conn.Calls(), "client -i")
			require.NotContains(t, conn.Calls(), "client -d bobs")
			require.Equal(t, "ws1", conn.Identity().Client)
		})
	}
}

func TestWorkspaceService_UpdateAndSwitch(t *testing.T) {
	t.Parallel()

	conn := aliceConn().
		On("client -o ws2", p4.Record{"Client": "ws2", "Owner": "alice", "Root": "/old", "View": []string{"//depot/... //ws2/..."}}).
		On("client -i", p4test.Text("Client ws2 saved."))
	svc := newTestServices(t, conn)

	result, err := svc.Workspaces.Update(context.Background(), "ws2", models.WorkspaceSpec{Name: "ws2", Root: "/new"})
	require.NoError(t, err)
	require.Equal(t, success("Workspace 'ws2' owned by 'alice' updated successfully"), result)

	var saved p4.Command
	for _, cmd := range conn.Commands() {
		if cmd.String() == "client -i" {
			saved = cmd
		}
	}
	require.Contains(t, string(saved.Input), "Root:\t/new\n")
	require.Contains(t, string(saved.Input), "View:\n\t//depot/... //ws2/...\n")

	result, err = svc.Workspaces.Switch(context.Background(), "ws2")
	require.NoError(t, err)
	require.Equal(t, success("Switched to workspace 'ws2' owned by 'alice'"), result)
	require.Equal(t, "ws2", conn.Identity().Client)
}

func TestFileService_SyncUpToDateIsSuccess(t *testing.T) {
	t.Parallel()

	conn := aliceConn().OnError("sync -f //depot/...", p4test.Warning("sync", "//depot/... - file(s) up-to-date."))
	svc := newTestServices(t, conn)

	result, err := svc.Files.Sync(context.Background(), []string{"//depot/..."}, true)
	require.NoError(t, err)
	require.Equal(t, success(SyncUpToDateMessage), result)
}

func TestFileService_BackendErrorBecomesErrorResult(t *testing.T) {
	t.Parallel()

	conn := aliceConn().OnError("edit -c 12 //depot/a.txt", p4test.Failure("edit", "//depot/a.txt - file(s) not on client."))
	svc := newTestServices(t, conn)

	result, err := svc.Files.Edit(context.Background(), []string{"//depot/a.txt"}, "12")
	require.NoError(t, err)
	require.Equal(t, StatusError, result.Status)
	require.Equal(t, "[p4 edit] //depot/a.txt - file(s) not on client.", result.Message)
}

func TestFileService_CommandShapes(t *testing.T) {
	t.Parallel()

	conn := aliceConn().
		On("resolve -at -c 12 //depot/a.txt", p4test.Text("resolved")).
		On("resolve -am //depot/b.txt", p4test.Text("resolved")).
		On("move -c 12 //depot/a //depot/b", p4test.Text("moved")).
		On("move -c 12 //depot/c //depot/d", p4test.Text("moved")).
		On("reconcile -c default", p4test.Text("reconciled")).
		On("diff2 //depot/a //depot/b", p4test.Text("==== diff ====")).
		On("fstat //depot/missing")
	svc := newTestServices(t, conn)
	ctx := context.Background()

	_, err := svc.Files.Resolve(ctx, []string{"//depot/a.txt"}, "12", models.ResolveTheirs)
	require.NoError(t, err)
	_, err = svc.Files.Resolve(ctx, []string{"//depot/b.txt"}, "default", models.ResolveAuto)
	require.NoError(t, err)

	result, err := svc.Files.Move(ctx, []string{"//depot/a", "//depot/c"}, []string{"//depot/b", "//depot/d"}, "12")
	require.NoError(t, err)
	require.Equal(t, [][]any{{"moved"}, {"moved"}}, result.Message)

	_, err = svc.Files.Move(ctx, []string{"//depot/a"}, nil, "12")
	requirePrecondition(t, err, "Source and target paths must have the same length")

	_, err = svc.Files.Reconcile(ctx, nil, "default")
	require.NoError(t, err)

	result, err = svc.Files.Diff(ctx, "//depot/a", "//depot/b", true)
	require.NoError(t, err)
	require.Equal(t, []any{"==== diff ===="}, result.Message)

	_, err = svc.Files.Info(ctx, "//depot/missing")
	requirePrecondition(t, err, "File '//depot/missing' not found")

	for _, cmd := range conn.Commands() {
		if cmd.Name == "diff2" {
			require.True(t, cmd.Untagged)
		}
	}
}

func TestChangelistService_GetDefaultIsIdempotent(t *testing.T) {
	t.Parallel()

	conn := aliceConn().On("opened -c default", p4.Record{"depotFile": "//depot/a.txt", "action": "edit"})
	svc := newTestServices(t, conn)

	first, err := svc.Changes.Get(context.Background(), "default")
	require.NoError(t, err)
	second, err := svc.Changes.Get(context.Background(), "default")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, StatusSuccess, first.Status)
	require.Contains(t, first.Message.(map[string]any), "opened_files")
}

func TestChangelistService_Verification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		describe  func(*p4test.Conn)
		op        func(*Services) (Result, error)
		wantErr   string
		permError bool
	}{
		{
			name:      "not owned",
			describe:  func(c *p4test.Conn) { c.On("describe -s 42", pendingChange("42", "bob")) },
			op:        func(s *Services) (Result, error) { return s.Changes.Submit(context.Background(), "42") },
			wantErr:   "Cannot update changelist '42': not owned by current user",
			permError: true,
		},
		{
			name: "submitted",
			describe: func(c *p4test.Conn) {
				record := pendingChange("42", "alice")
				record["status"] = "submitted"
				c.On("describe -s 42", record)
			},
			op:      func(s *Services) (Result, error) { return s.Changes.Update(context.Background(), "42", "new text") },
			wantErr: "Cannot update submitted changelist '42'",
		},
		{
			name:     "missing",
			describe: func(c *p4test.Conn) { c.OnError("describe -s 99", p4test.Failure("describe", "99 - no such changelist.")) },
			op:       func(s *Services) (Result, error) { return s.Changes.Delete(context.Background(), "99") },
			wantErr:  "Changelist '99' does not exist or is not valid for delete",
		},
		{
			name: "open files block delete",
			describe: func(c *p4test.Conn) {
				c.On("describe -s 42", pendingChange("42", "alice")).
					On("opened -c 42", p4.Record{"depotFile": "//depot/a.txt"})
			},
			op:      func(s *Services) (Result, error) { return s.Changes.Delete(context.Background(), "42") },
			wantErr: "Cannot delete changelist '42': it contains open files",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			conn := aliceConn()
			tc.describe(conn)
			svc := newTestServices(t, conn)

			_, err := tc.op(svc)
			require.EqualError(t, err, tc.wantErr)
			var permErr *PermissionError
			require.Equal(t, tc.permError, errors.As(err, &permErr))
			require.NotContains(t, conn.Calls(), "submit -c 42")
			require.NotContains(t, conn.Calls(), "change -d 42")
		})
	}
}

func TestChangelistService_DeleteEmptyChange(t *testing.T) {
	t.Parallel()

	conn := aliceConn().
		On("describe -s 42", pendingChange("42", "alice")).
		OnError("opened -c 42", p4test.Warning("opened", "file(s) not opened on this client.")).
		On("change -d 42", p4test.Text("Change 42 deleted."))
	svc := newTestServices(t, conn)

	result, err := svc.Changes.Delete(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, success([]any{"Change 42 deleted."}), result)
}

func TestChangelistService_CreateClearsFiles(t *testing.T) {
	t.Parallel()

	conn := aliceConn().
		On("change -o", p4.Record{"Change": "new", "Client": "ws1", "User": "alice", "Status": "new", "Description": "<enter description here>", "Files": []string{"//depot/a.txt"}}).
		On("change -i", p4test.Text("Change 43 created."))
	svc := newTestServices(t, conn)

	result, err := svc.Changes.Create(context.Background(), "Fix build")
	require.NoError(t, err)
	require.Equal(t, success([]any{"Change 43 created."}), result)

	commands := conn.Commands()
	form := string(commands[len(commands)-1].Input)
	require.Contains(t, form, "Description:\n\tFix build\n")
	require.NotContains(t, form, "Files:")
}

func TestShelveService_CommandShapes(t *testing.T) {
	t.Parallel()

	conn := aliceConn().
		On("unshelve -s 42", p4test.Text("unshelved")).
		On("unshelve -s 42 -c 50", p4test.Text("unshelved")).
		On("shelve -f -c 42 //depot/a.txt", p4test.Text("shelved")).
		On("shelve -d -c 42", p4test.Text("deleted")).
		On("describe -a -S -dw 42", p4test.Text("Change 42 by alice@ws1 *pending*"))
	svc := newTestServices(t, conn)
	ctx := context.Background()

	for _, target := range []string{"default", "50"} {
		result, err := svc.Shelves.UnshelveToChangelist(ctx, "42", target)
		require.NoError(t, err)
		require.Equal(t, StatusSuccess, result.Status)
	}
	result, err := svc.Shelves.Shelve(ctx, "42", []string{"//depot/a.txt"}, true)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)
	result, err = svc.Shelves.Delete(ctx, "42", nil)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)
	result, err = svc.Shelves.Diff(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, []any{"Change 42 by alice@ws1 *pending*"}, result.Message)
}

func TestJobService(t *testing.T) {
	t.Parallel()

	t.Run("default changelist has no jobs", func(t *testing.T) {
		t.Parallel()
		svc := newTestServices(t, aliceConn())
		_, err := svc.Jobs.ListJobs(context.Background(), "default", 10)
		requirePrecondition(t, err, "Cannot get jobs for default changelist")
	})

	t.Run("fixes failure hides backend text", func(t *testing.T) {
		t.Parallel()
		conn := aliceConn().
			On("describe -s 42", pendingChange("42", "alice")).
			OnError("fixes -m10 -c 42", p4test.Failure("fixes", "protections"))
		svc := newTestServices(t, conn)
		result, err := svc.Jobs.ListJobs(context.Background(), "42", 10)
		require.NoError(t, err)
		require.Equal(t, Result{Status: StatusError, Message: "Failed to get jobs for changelist"}, result)
	})

	t.Run("link and duplicate link", func(t *testing.T) {
		t.Parallel()
		conn := aliceConn().
			On("describe -s 42", pendingChange("42", "alice")).
			On("change -o 42", p4.Record{"Change": "42", "Description": "wip", "Jobs": []string{"job000001"}}).
			On("change -i", p4test.Text("Change 42 updated."))
		svc := newTestServices(t, conn)

		_, err := svc.Jobs.Link(context.Background(), "42", "job000001")
		requirePrecondition(t, err, "Job 'job000001' is already linked to changelist '42'")

		result, err := svc.Jobs.Link(context.Background(), "42", "job000002")
		require.NoError(t, err)
		require.Equal(t, success([]any{"Change 42 updated."}), result)
		commands := conn.Commands()
		require.Contains(t, string(commands[len(commands)-1].Input), "Jobs:\n\tjob000001\n\tjob000002\n")

		_, err = svc.Jobs.Unlink(context.Background(), "42", "job000003")
		requirePrecondition(t, err, "Job 'job000003' is not linked to changelist '42'")
	})

	t.Run("link needs both ids", func(t *testing.T) {
		t.Parallel()
		conn := aliceConn().On("describe -s 42", pendingChange("42", "alice"))
		svc := newTestServices(t, conn)

		_, err := svc.Jobs.Link(context.Background(), "", "job000001")
		requirePrecondition(t, err, "No changelist ID provided to link job to")
		require.Empty(t, conn.Calls())

		_, err = svc.Jobs.Link(context.Background(), "42", "")
		requirePrecondition(t, err, "No job ID provided to link to changelist")
	})

	t.Run("get job needs id", func(t *testing.T) {
		t.Parallel()
		svc := newTestServices(t, aliceConn())
		_, err := svc.Jobs.GetJob(context.Background(), "")
		requirePrecondition(t, err, "No job ID provided")
	})
}
