// Package config loads p4-mcp configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// TransportStdio runs MCP over stdin/stdout.
	TransportStdio = "stdio"
	// TransportHTTP runs MCP over HTTP with SSE tool streaming.
	TransportHTTP = "http"

	defaultListenAddr        = ":27775"
	defaultP4Binary          = "p4"
	defaultPropertyCacheTTL  = 60 * time.Second
	defaultTelemetryURL      = "https://api.p4mcp.perforce.com"
	defaultTelemetryInterval = 0
	defaultSessionDir        = "logs"
	defaultCLIConfigPath     = "~/.p4mcp/config.yaml"
)

// Toolset names accepted by --toolsets and P4MCP_TOOLSETS.
const (
	ToolsetFiles       = "files"
	ToolsetChangelists = "changelists"
	ToolsetShelves     = "shelves"
	ToolsetWorkspaces  = "workspaces"
	ToolsetJobs        = "jobs"
)

// DefaultToolsets lists the toolsets enabled when none are configured.
var DefaultToolsets = []string{ToolsetFiles, ToolsetChangelists, ToolsetShelves, ToolsetWorkspaces, ToolsetJobs}

// Config holds service runtime configuration.
type Config struct {
	P4Port     string
	P4User     string
	P4Client   string
	P4Binary   string
	TicketAuth bool

	ListenAddr string
	LogLevel   string
	Transport  string

	ReadOnly      bool
	Toolsets      []string
	ToolsetChecks bool

	PropertyCacheTTL time.Duration

	AllowUsage        bool
	TelemetryURL      string
	TelemetryInterval time.Duration
	SessionDir        string
	ConsentPath       string

	AllowCLIConfigToken bool
	CLIConfigPath       string

	MetricsEnabled bool
	TracesEnabled  bool
}

// Load returns configuration parsed from environment variables.
func Load() (Config, error) {
	cfg := Config{
		P4Port:              strings.TrimSpace(os.Getenv("P4PORT")),
		P4User:              strings.TrimSpace(os.Getenv("P4USER")),
		P4Client:            strings.TrimSpace(os.Getenv("P4CLIENT")),
		P4Binary:            strings.TrimSpace(envOrDefault("P4MCP_P4_BIN", defaultP4Binary)),
		TicketAuth:          envBool("P4MCP_TICKET_AUTH", os.Getenv("P4TICKETS") != ""),
		ListenAddr:          envOrDefault("P4MCP_LISTEN_ADDR", defaultListenAddr),
		LogLevel:            strings.ToLower(strings.TrimSpace(envOrDefault("P4MCP_LOG_LEVEL", envOrDefault("LOG_LEVEL", "info")))),
		Transport:           strings.ToLower(strings.TrimSpace(envOrDefault("P4MCP_TRANSPORT", TransportStdio))),
		ReadOnly:            envBool("P4MCP_READONLY", false),
		Toolsets:            envList("P4MCP_TOOLSETS", DefaultToolsets),
		ToolsetChecks:       envBool("P4MCP_TOOLSET_CHECKS", true),
		PropertyCacheTTL:    envDuration("P4MCP_PROPERTY_CACHE_TTL", defaultPropertyCacheTTL),
		AllowUsage:          envBool("P4MCP_ALLOW_USAGE", false),
		TelemetryURL:        envOrDefault("P4MCP_TELEMETRY_URL", defaultTelemetryURL),
		TelemetryInterval:   envDuration("P4MCP_TELEMETRY_INTERVAL", defaultTelemetryInterval),
		SessionDir:          envOrDefault("P4MCP_SESSION_DIR", defaultSessionDir),
		ConsentPath:         strings.TrimSpace(os.Getenv("P4MCP_TELEMETRY_CONSENT_PATH")),
		AllowCLIConfigToken: envBool("P4MCP_ALLOW_CLI_CONFIG_TOKEN", false),
		CLIConfigPath:       envOrDefault("P4MCP_CLI_CONFIG_PATH", defaultCLIConfigPath),
		MetricsEnabled:      envBool("P4MCP_METRICS_ENABLED", true),
		TracesEnabled:       envBool("P4MCP_TRACES_ENABLED", false),
	}

	switch cfg.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return Config{}, fmt.Errorf("invalid P4MCP_TRANSPORT %q (allowed: %s|%s)", cfg.Transport, TransportStdio, TransportHTTP)
	}

	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if cfg.PropertyCacheTTL <= 0 {
		cfg.PropertyCacheTTL = defaultPropertyCacheTTL
	}

	toolsets, err := NormalizeToolsets(cfg.Toolsets)
	if err != nil {
		return Config{}, fmt.Errorf("invalid P4MCP_TOOLSETS: %w", err)
	}
	cfg.Toolsets = toolsets

	return cfg, nil
}

// NormalizeToolsets lowercases, de-duplicates and validates toolset names.
func NormalizeToolsets(toolsets []string) ([]string, error) {
	seen := make(map[string]struct{}, len(toolsets))
	result := make([]string, 0, len(toolsets))
	for _, raw := range toolsets {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if !isKnownToolset(name) {
			return nil, fmt.Errorf("unknown toolset %q (allowed: %s)", name, strings.Join(DefaultToolsets, ", "))
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		result = append(result, name)
	}
	return result, nil
}

// HasToolset reports whether name is one of the configured toolsets.
func (c Config) HasToolset(name string) bool {
	for _, toolset := range c.Toolsets {
		if toolset == name {
			return true
		}
	}
	return false
}

func isKnownToolset(name string) bool {
	for _, known := range DefaultToolsets {
		if known == name {
			return true
		}
	}
	return false
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultVal
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		switch strings.ToLower(value) {
		case "yes", "on":
			return true
		case "no", "off":
			return false
		default:
			return defaultVal
		}
	}
	return parsed
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultVal
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	// Bare integers are seconds.
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultVal
}

func envList(key string, defaultVal []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		out := make([]string, len(defaultVal))
		copy(out, defaultVal)
		return out
	}
	return strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' '
	})
}
