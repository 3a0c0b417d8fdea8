package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveToken_PrefersEnvToken(t *testing.T) {
	t.Setenv("P4MCP_TOKEN", " env-token ")

	configPath := writeConfig(t, "auth:\n  token: cli-token\n")
	resolved, err := ResolveToken(TokenSourceOptions{AllowCLIConfigToken: true, CLIConfigPath: configPath})
	require.NoError(t, err)
	require.Equal(t, "env-token", resolved.Token)
	require.Equal(t, TokenSourceEnv, resolved.Source)
}

func TestResolveToken_CLIConfig(t *testing.T) {
	tests := []struct {
		name       string
		allow      bool
		content    string
		wantToken  string
		wantSource TokenSource
		wantErr    string
	}{
		{
			name:       "used when allowed",
			allow:      true,
			content:    "auth:\n  token: cli-token\n",
			wantToken:  "cli-token",
			wantSource: TokenSourceCLIConfig,
		},
		{
			name:    "ignored when not allowed",
			allow:   false,
			content: "auth:\n  token: cli-token\n",
		},
		{
			name:    "empty token",
			allow:   true,
			content: "auth:\n  token: \"  \"\n",
		},
		{
			name:    "malformed yaml",
			allow:   true,
			content: "auth: [",
			wantErr: "decoding CLI config token source",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("P4MCP_TOKEN", "")

			resolved, err := ResolveToken(TokenSourceOptions{
				AllowCLIConfigToken: tc.allow,
				CLIConfigPath:       writeConfig(t, tc.content),
			})
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantToken, resolved.Token)
			require.Equal(t, tc.wantSource, resolved.Source)
		})
	}
}

func TestResolveToken_MissingConfigFile(t *testing.T) {
	t.Setenv("P4MCP_TOKEN", "")

	resolved, err := ResolveToken(TokenSourceOptions{
		AllowCLIConfigToken: true,
		CLIConfigPath:       filepath.Join(t.TempDir(), "missing.yaml"),
	})
	require.NoError(t, err)
	require.Empty(t, resolved.Token)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	require.Equal(t, filepath.Join(home, ".p4mcp", "config.yaml"), expandPath(defaultCLIConfigPath))
	require.Equal(t, home, expandPath("~"))
	require.Equal(t, "/etc/p4mcp/config.yaml", expandPath("/etc/p4mcp//config.yaml"))
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
