package permission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/p4mcp/p4-mcp-server/internal/connection"
	"github.com/p4mcp/p4-mcp-server/internal/p4"
	"github.com/p4mcp/p4-mcp-server/internal/p4/p4test"
)

type staticProps map[string]string

func (s staticProps) Get(_ context.Context, name string) (string, bool) {
	value, ok := s[name]
	return value, ok
}

type countingSource struct {
	mu     sync.Mutex
	calls  int
	values map[string]string
	err    error
}

func (s *countingSource) Properties(context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.values, nil
}

func (s *countingSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestParseTags(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		tool string
		tags []string
		want Info
	}{
		{name: "read default", tool: "query_files", tags: []string{"files", "read"}, want: Info{Operation: OperationRead, Toolset: "files"}},
		{name: "write", tool: "modify_shelves", tags: []string{"write", "shelves"}, want: Info{Operation: OperationWrite, Toolset: "shelves"}},
		{name: "delete", tool: "execute_delete", tags: []string{"delete"}, want: Info{Operation: OperationDelete, Toolset: "delete"}},
		{name: "name fallback", tool: "query_jobs", want: Info{Operation: OperationRead, Toolset: "jobs"}},
		{name: "no fallback", tool: "ping", want: Info{Operation: OperationRead, Toolset: "unknown"}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, ParseTags(tc.tool, tc.tags))
		})
	}
}

func TestMiddlewareCheck(t *testing.T) {
	t.Parallel()

	readFiles := Tool{Name: "query_files", Tags: []string{"read", "files"}, Enabled: true}
	writeFiles := Tool{Name: "modify_files", Tags: []string{"write", "files"}, Enabled: true}

	cases := []struct {
		name          string
		props         staticProps
		toolsetChecks bool
		tool          Tool
		wantErr       string
	}{
		{name: "no properties", props: staticProps{}, toolsetChecks: true, tool: writeFiles},
		{name: "server disabled", props: staticProps{PropEnabled: "FALSE"}, tool: readFiles, wantErr: "Permission denied: P4 MCP server is disabled by the administrator"},
		{name: "server enabled", props: staticProps{PropEnabled: "true"}, tool: readFiles},
		{name: "writes disabled", props: staticProps{PropWrite: "false"}, tool: writeFiles, wantErr: "Permission denied: Write operations are disabled by the administrator"},
		{name: "writes disabled allows reads", props: staticProps{PropWrite: "false"}, tool: readFiles},
		{name: "toolset not allowed", props: staticProps{PropAllowedToolsets: "server, jobs"}, toolsetChecks: true, tool: readFiles, wantErr: "Permission denied: Toolset 'files' is disabled by the administrator"},
		{name: "toolset allowed", props: staticProps{PropAllowedToolsets: "server, files"}, toolsetChecks: true, tool: readFiles},
		{name: "toolset disabled", props: staticProps{"mcp.toolset.files.enabled": "false"}, toolsetChecks: true, tool: readFiles, wantErr: "Permission denied: Toolset 'files' is disabled by the administrator"},
		{name: "toolset write disabled", props: staticProps{"mcp.toolset.files.write": "false"}, toolsetChecks: true, tool: writeFiles, wantErr: "Permission denied: Write operations disabled for toolset 'files' by the administrator"},
		{name: "tool not listed", props: staticProps{"mcp.toolset.files.tools": "query_files"}, toolsetChecks: true, tool: writeFiles, wantErr: "Permission denied: Tool 'modify_files' is disabled by the administrator"},
		{name: "toolset checks off", props: staticProps{"mcp.toolset.files.enabled": "false"}, tool: readFiles},
		{name: "tool disabled", props: staticProps{}, tool: Tool{Name: "modify_jobs", Tags: []string{"write", "jobs"}}, wantErr: "Permission denied: Tool is currently disabled"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			middleware := NewMiddleware(tc.props, tc.toolsetChecks, zerolog.Nop())

			err := middleware.Check(context.Background(), tc.tool)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			var deniedErr *DeniedError
			require.True(t, errors.As(err, &deniedErr))
			require.EqualError(t, err, tc.wantErr)
		})
	}
}

func TestCache_TTLAndFailure(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	source := &countingSource{values: map[string]string{PropEnabled: "true"}}
	refreshes := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "refreshes_total"}, []string{"result"})
	cache := NewCache(source, CacheOptions{
		TTL:       time.Minute,
		Logger:    zerolog.Nop(),
		Refreshes: refreshes,
		Now:       func() time.Time { return now },
	})
	ctx := context.Background()

	value, ok := cache.Get(ctx, PropEnabled)
	require.True(t, ok)
	require.Equal(t, "true", value)
	_, ok = cache.Get(ctx, PropWrite)
	require.False(t, ok)
	require.Equal(t, 1, source.Calls())

	now = now.Add(61 * time.Second)
	_, _ = cache.Get(ctx, PropEnabled)
	require.Equal(t, 2, source.Calls())

	source.mu.Lock()
	source.err = errors.New("connection refused")
	source.mu.Unlock()
	now = now.Add(61 * time.Second)

	_, ok = cache.Get(ctx, PropEnabled)
	require.False(t, ok)
	_, ok = cache.Get(ctx, PropEnabled)
	require.False(t, ok)
	require.Equal(t, 4, source.Calls())
	require.Equal(t, float64(2), counterValue(t, refreshes.WithLabelValues("success")))
	require.Equal(t, float64(2), counterValue(t, refreshes.WithLabelValues("error")))
}

func TestMiddleware_DisabledServerStopsBeforeToolCommands(t *testing.T) {
	t.Parallel()

	conn := p4test.NewConn("alice", "ws1").
		On("info", p4test.Info("alice")).
		On("property -l",
			p4.Record{"name": "mcp.enabled", "value": "false "},
			p4.Record{"name": "mcp.toolsets.write", "value": "true"},
		)
	manager := connection.NewManager(connection.Options{
		Settings: p4.Settings{Port: "fake:1666", User: "alice"},
		Dialer:   p4test.Dialer(conn),
		Logger:   zerolog.Nop(),
	})
	t.Cleanup(func() { _ = manager.Close() })

	cache := NewCache(NewBackendProperties(manager), CacheOptions{Logger: zerolog.Nop()})
	middleware := NewMiddleware(cache, true, zerolog.Nop())

	for _, tool := range []Tool{
		{Name: "query_server", Tags: []string{"read", "server"}, Enabled: true},
		{Name: "modify_files", Tags: []string{"write", "files"}, Enabled: true},
	} {
		err := middleware.Check(context.Background(), tool)
		require.EqualError(t, err, "Permission denied: P4 MCP server is disabled by the administrator")
	}
	require.Equal(t, []string{"info", "property -l"}, conn.Calls())
}

func counterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, counter.Write(&metric))
	return metric.GetCounter().GetValue()
}
