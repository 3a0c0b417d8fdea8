package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/p4mcp/p4-mcp-server/api"
	mcpauth "github.com/p4mcp/p4-mcp-server/internal/auth"
	"github.com/p4mcp/p4-mcp-server/internal/audit"
	"github.com/p4mcp/p4-mcp-server/internal/config"
	"github.com/p4mcp/p4-mcp-server/internal/connection"
	"github.com/p4mcp/p4-mcp-server/internal/handlers"
	"github.com/p4mcp/p4-mcp-server/internal/p4"
	"github.com/p4mcp/p4-mcp-server/internal/permission"
	"github.com/p4mcp/p4-mcp-server/internal/policy"
	"github.com/p4mcp/p4-mcp-server/internal/server"
	"github.com/p4mcp/p4-mcp-server/internal/services"
	"github.com/p4mcp/p4-mcp-server/internal/telemetry"
	"github.com/p4mcp/p4-mcp-server/internal/tools"
)

const shutdownTimeout = 15 * time.Second

// app is the wired server, independent of the transport.
type app struct {
	registry *server.ToolRegistry
	guard    *policy.Guard
	runner   *tools.Runner
	audit    *audit.Logger
	manager  *connection.Manager
	metrics  *telemetry.Metrics
	reporter *telemetry.Reporter
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	logger.Info().
		Str("transport", cfg.Transport).
		Bool("readonly", cfg.ReadOnly).
		Strs("toolsets", cfg.Toolsets).
		Msg("starting p4-mcp")

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.TracesEnabled, "p4-mcp", version, os.Stderr)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("failed to shut down tracing")
		}
	}()

	a, err := wire(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.manager.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close p4 connection")
		}
	}()

	if a.reporter != nil {
		reporterCtx, stopReporter := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.reporter.Run(reporterCtx)
		}()
		defer func() {
			stopReporter()
			wg.Wait()
		}()
	}

	switch cfg.Transport {
	case config.TransportStdio:
		if err := server.RunStdio(ctx, os.Stdin, os.Stdout, a.registry, a.guard, a.runner, version, logger); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("stdio runtime: %w", err)
		}
		logger.Info().Msg("stdio runtime stopped")
		return nil
	case config.TransportHTTP:
		return serveHTTP(ctx, cfg, a, logger)
	default:
		return fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

// wire builds the backend, policy and tool layers from cfg.
func wire(cfg config.Config, logger zerolog.Logger) (*app, error) {
	baseRegistry, err := server.NewToolRegistry(api.ToolsContract)
	if err != nil {
		return nil, fmt.Errorf("parsing MCP tool contract: %w", err)
	}
	registry := baseRegistry.Enable(cfg.ReadOnly, cfg.Toolsets)

	var metrics *telemetry.Metrics
	if cfg.MetricsEnabled {
		metrics = telemetry.NewMetrics()
	}

	manager := connection.NewManager(connection.Options{
		Settings: p4.Settings{
			Port:       cfg.P4Port,
			User:       cfg.P4User,
			Client:     cfg.P4Client,
			Binary:     cfg.P4Binary,
			TicketAuth: cfg.TicketAuth,
		},
		Dialer:     p4.NewCLIDialer(logger),
		SessionDir: cfg.SessionDir,
		Logger:     logger,
		Reconnects: counterOrNil(metrics, func(m *telemetry.Metrics) *prometheus.CounterVec { return m.Reconnects }),
	})

	cache := permission.NewCache(permission.NewBackendProperties(manager), permission.CacheOptions{
		TTL:       cfg.PropertyCacheTTL,
		Logger:    logger,
		Refreshes: counterOrNil(metrics, func(m *telemetry.Metrics) *prometheus.CounterVec { return m.CacheRefreshes }),
	})

	var sinks []audit.RecordSink
	reporter := newUsageReporter(cfg, manager.SessionID(), logger)
	if reporter != nil {
		sinks = append(sinks, reporter.log)
	}
	auditLogger := audit.NewLogger(logger, sinks...)

	runner := tools.NewRunner(tools.Options{
		Tools:         registry.Definitions(),
		Router:        handlers.NewRouter(services.New(manager, logger), logger),
		Permissions:   permission.NewMiddleware(cache, cfg.ToolsetChecks, logger),
		Toolsets:      cfg.Toolsets,
		Audit:         auditLogger,
		Metrics:       metrics,
		ServerVersion: manager.ServerVersion,
		Tracer:        telemetry.Tracer(),
		Logger:        logger,
	})

	guard := policy.NewGuard(cfg.ReadOnly)
	logger.Info().
		Str("mode", guard.Mode()).
		Int("tools_enabled", len(registry.Enabled())).
		Bool("toolset_checks", cfg.ToolsetChecks).
		Msg("execution policy initialized")

	a := &app{
		registry: registry,
		guard:    guard,
		runner:   runner,
		audit:    auditLogger,
		manager:  manager,
		metrics:  metrics,
	}
	if reporter != nil {
		a.reporter = reporter.reporter
	}
	return a, nil
}

type usageReporter struct {
	log      *telemetry.SessionLog
	reporter *telemetry.Reporter
}

// newUsageReporter returns nil unless usage upload is allowed on the command
// line and the user consented.
func newUsageReporter(cfg config.Config, sessionID string, logger zerolog.Logger) *usageReporter {
	if !cfg.AllowUsage {
		return nil
	}
	consentPath := cfg.ConsentPath
	if consentPath == "" {
		consentPath = telemetry.DefaultConsentPath()
	}
	consent, err := telemetry.LoadConsent(consentPath)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to read telemetry consent; usage upload disabled")
		return nil
	}
	if !consent.TelemetryConsent {
		logger.Info().Msg("telemetry consent not given; usage upload disabled")
		return nil
	}

	sessionLog, err := telemetry.OpenSessionLog(cfg.SessionDir, sessionID, telemetry.CurrentUser(consent.UserIDOrUnknown()))
	if err != nil {
		logger.Warn().Err(err).Msg("failed to open session log; usage upload disabled")
		return nil
	}
	uploader := telemetry.NewUploader(telemetry.UploaderOptions{
		Endpoint: cfg.TelemetryURL,
		Logger:   logger,
	})
	return &usageReporter{
		log:      sessionLog,
		reporter: telemetry.NewReporter(sessionLog, uploader, cfg.TelemetryInterval, logger),
	}
}

func counterOrNil(metrics *telemetry.Metrics, pick func(*telemetry.Metrics) *prometheus.CounterVec) *prometheus.CounterVec {
	if metrics == nil {
		return nil
	}
	return pick(metrics)
}

func serveHTTP(ctx context.Context, cfg config.Config, a *app, logger zerolog.Logger) error {
	resolvedToken, err := mcpauth.ResolveToken(mcpauth.TokenSourceOptions{
		AllowCLIConfigToken: cfg.AllowCLIConfigToken,
		CLIConfigPath:       cfg.CLIConfigPath,
	})
	if err != nil {
		return fmt.Errorf("resolving session token: %w", err)
	}
	if resolvedToken.Token == "" {
		logger.Warn().Msg("no session token resolved from P4MCP_TOKEN or CLI config; tool calls will be rejected")
	} else {
		logger.Info().Str("token_source", string(resolvedToken.Source)).Msg("resolved session token source")
	}

	var metricsHandler http.Handler
	if a.metrics != nil {
		metricsHandler = a.metrics.Handler()
	}
	httpServer := server.NewHTTPServer(server.HTTPServerOptions{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		Contract:  api.ToolsContract,
		Registry:  a.registry,
		Policy:    a.guard,
		Authn:     server.NewTokenSessionAuthenticator(resolvedToken.Token),
		Caller:    a.runner,
		Audit:     a.audit,
		Ready:     a.manager.Ping,
		Metrics:   metricsHandler,
		Logger:    logger,
	})
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // SSE responses stream for the length of a tool call.
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case serveErr := <-errCh:
		return fmt.Errorf("HTTP server: %w", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped gracefully")
	return nil
}
