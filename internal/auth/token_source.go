// Package auth resolves the bearer token that guards the HTTP transport.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// TokenSource identifies where a token was resolved from.
type TokenSource string

const (
	// TokenSourceEnv is P4MCP_TOKEN.
	TokenSourceEnv TokenSource = "p4mcp_token"
	// TokenSourceCLIConfig is auth.token in ~/.p4mcp/config.yaml.
	TokenSourceCLIConfig TokenSource = "cli_config"

	tokenEnv             = "P4MCP_TOKEN"
	defaultCLIConfigPath = "~/.p4mcp/config.yaml"
)

// TokenResolution contains the resolved token and source.
type TokenResolution struct {
	Token  string
	Source TokenSource
}

// TokenSourceOptions controls token resolution.
type TokenSourceOptions struct {
	AllowCLIConfigToken bool
	CLIConfigPath       string
}

type cliConfigFile struct {
	Auth struct {
		Token string `yaml:"token"`
	} `yaml:"auth"`
}

// ResolveToken resolves the session token in order:
// 1) P4MCP_TOKEN
// 2) CLI config auth.token (only when AllowCLIConfigToken=true)
//
// An empty resolution is not an error; the HTTP transport then rejects
// every tool call.
func ResolveToken(opts TokenSourceOptions) (TokenResolution, error) {
	if token := strings.TrimSpace(os.Getenv(tokenEnv)); token != "" {
		return TokenResolution{Token: token, Source: TokenSourceEnv}, nil
	}

	if !opts.AllowCLIConfigToken {
		return TokenResolution{}, nil
	}

	configPath := expandPath(defaultIfEmpty(strings.TrimSpace(opts.CLIConfigPath), defaultCLIConfigPath))
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		return TokenResolution{}, nil
	default:
		return TokenResolution{}, fmt.Errorf("reading CLI config token source: %w", err)
	}

	var cfg cliConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return TokenResolution{}, fmt.Errorf("decoding CLI config token source: %w", err)
	}

	token := strings.TrimSpace(cfg.Auth.Token)
	if token == "" {
		return TokenResolution{}, nil
	}

	return TokenResolution{Token: token, Source: TokenSourceCLIConfig}, nil
}

func defaultIfEmpty(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/"))
	}
	return filepath.Clean(path)
}
