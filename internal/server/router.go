package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/p4mcp/p4-mcp-server/internal/audit"
)

const maxRequestBytes = 1 << 20

// HTTPServerOptions carries the dependencies of the HTTP transport.
type HTTPServerOptions struct {
	Version   string
	Commit    string
	BuildDate string
	// Contract is served verbatim at /api/tools.yaml.
	Contract []byte
	Registry *ToolRegistry
	Policy   ToolAuthorizer
	Authn    SessionAuthenticator
	Caller   ToolCaller
	Audit    *audit.Logger
	Ready    ReadinessProbe
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  zerolog.Logger
}

// HTTPServer wraps MCP HTTP routing state.
type HTTPServer struct {
	opts HTTPServerOptions
}

// NewHTTPServer creates an HTTP transport server with health and MCP routes.
func NewHTTPServer(opts HTTPServerOptions) *HTTPServer {
	if opts.Audit == nil {
		opts.Audit = audit.NewLogger(opts.Logger)
	}
	return &HTTPServer{opts: opts}
}

// Router builds the MCP HTTP router.
func (s *HTTPServer) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(secureHeaders)
	r.Use(middleware.RequestSize(maxRequestBytes))
	r.Use(middleware.NoCache)

	registerHealthRoutes(r, s.opts.Version, s.opts.Commit, s.opts.BuildDate, s.opts.Ready, s.opts.Metrics)
	registerMCPHTTPRoutes(r, s.opts)

	r.Get("/api/tools.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(s.opts.Contract)
	})

	return r
}
