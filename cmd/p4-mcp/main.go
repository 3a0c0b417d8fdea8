// Package main is the entry point for the p4-mcp server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/p4mcp/p4-mcp-server/internal/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// flagOverrides are command line values that replace the environment.
type flagOverrides struct {
	readOnly   bool
	toolsets   []string
	allowUsage bool
	transport  string
}

func newRootCmd() *cobra.Command {
	var flags flagOverrides

	cmd := &cobra.Command{
		Use:   "p4-mcp",
		Short: "Perforce MCP server",
		Long: `p4-mcp exposes a Perforce server to MCP clients as twelve tools.

Connection settings come from P4PORT, P4USER and P4CLIENT (or P4CONFIG).
Without --readonly, write tools are available and deletes go through an
approval round trip with execute_delete.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			cfg, err = applyFlags(cmd, cfg, flags)
			if err != nil {
				return err
			}

			logger := setupLogger(cfg.LogLevel)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}

	bindFlags(cmd, &flags)
	cmd.AddCommand(newConsentCmd())
	return cmd
}

func bindFlags(cmd *cobra.Command, flags *flagOverrides) {
	cmd.Flags().BoolVar(&flags.readOnly, "readonly", false, "Disable write tools")
	cmd.Flags().StringSliceVar(&flags.toolsets, "toolsets", nil, "Toolsets to enable (files, changelists, shelves, workspaces, jobs)")
	cmd.Flags().BoolVar(&flags.allowUsage, "allow-usage", false, "Record and upload tool usage when consent is given")
	cmd.Flags().StringVar(&flags.transport, "transport", "", "Transport to serve (stdio or http)")
}

// applyFlags overlays flags the user set explicitly on the loaded config.
func applyFlags(cmd *cobra.Command, cfg config.Config, flags flagOverrides) (config.Config, error) {
	if cmd.Flags().Changed("readonly") {
		cfg.ReadOnly = flags.readOnly
	}
	if cmd.Flags().Changed("allow-usage") {
		cfg.AllowUsage = flags.allowUsage
	}
	if cmd.Flags().Changed("toolsets") {
		toolsets, err := config.NormalizeToolsets(flags.toolsets)
		if err != nil {
			return cfg, fmt.Errorf("invalid --toolsets: %w", err)
		}
		cfg.Toolsets = toolsets
	}
	if cmd.Flags().Changed("transport") {
		switch flags.transport {
		case config.TransportStdio, config.TransportHTTP:
			cfg.Transport = flags.transport
		default:
			return cfg, fmt.Errorf("invalid --transport %q (allowed: %s|%s)", flags.transport, config.TransportStdio, config.TransportHTTP)
		}
	}
	return cfg, nil
}

func setupLogger(levelName string) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("service", "p4-mcp").Str("version", version).Logger()
	return log.With().Str("component", "main").Logger()
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "p4-mcp: %v\n", err)
		os.Exit(1)
	}
}
