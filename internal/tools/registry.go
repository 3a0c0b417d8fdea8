// Package tools executes MCP tool calls: it decodes arguments, applies the
// permission policy and the approval gate, and dispatches to the router.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/p4mcp/p4-mcp-server/internal/audit"
	"github.com/p4mcp/p4-mcp-server/internal/handlers"
	"github.com/p4mcp/p4-mcp-server/internal/models"
	"github.com/p4mcp/p4-mcp-server/internal/permission"
	"github.com/p4mcp/p4-mcp-server/internal/policy"
	"github.com/p4mcp/p4-mcp-server/internal/services"
	"github.com/p4mcp/p4-mcp-server/internal/telemetry"
)

// Definition describes one registered tool.
type Definition struct {
	Name            string
	Tags            []string
	ApprovalActions []string
	Enabled         bool
}

// Dispatcher runs a validated request on a route.
type Dispatcher interface {
	Handle(ctx context.Context, category handlers.Category, sub handlers.Sub, params models.Params) handlers.Envelope
}

// PermissionChecker applies the administrator policy to a call.
type PermissionChecker interface {
	Check(ctx context.Context, tool permission.Tool) error
}

// Options configures a Runner.
type Options struct {
	Tools       []Definition
	Router      Dispatcher
	Permissions PermissionChecker
	// Toolsets are the toolsets enabled on the command line.
	Toolsets []string
	Audit    *audit.Logger
	Metrics  *telemetry.Metrics
	// ServerVersion reports the backend version for tool records.
	ServerVersion func() string
	Tracer        trace.Tracer
	Logger        zerolog.Logger
}

// Runner executes MCP tool calls.
type Runner struct {
	tools         map[string]Definition
	router        Dispatcher
	permissions   PermissionChecker
	toolsets      []string
	audit         *audit.Logger
	metrics       *telemetry.Metrics
	serverVersion func() string
	tracer        trace.Tracer
	logger        zerolog.Logger
}

type binding struct {
	category  handlers.Category
	sub       handlers.Sub
	newParams func() models.Params
}

var bindings = map[string]binding{
	"query_server":       {handlers.Query, handlers.SubServer, func() models.Params { return &models.QueryServerParams{} }},
	"query_workspaces":   {handlers.Query, handlers.SubWorkspaces, func() models.Params { return &models.QueryWorkspacesParams{} }},
	"query_files":        {handlers.Query, handlers.SubFiles, func() models.Params { return &models.QueryFilesParams{} }},
	"query_changelists":  {handlers.Query, handlers.SubChangelists, func() models.Params { return &models.QueryChangelistsParams{} }},
	"query_shelves":      {handlers.Query, handlers.SubShelves, func() models.Params { return &models.QueryShelvesParams{} }},
	"query_jobs":         {handlers.Query, handlers.SubJobs, func() models.Params { return &models.QueryJobsParams{} }},
	"modify_workspaces":  {handlers.Modify, handlers.SubWorkspaces, func() models.Params { return &models.ModifyWorkspacesParams{} }},
	"modify_files":       {handlers.Modify, handlers.SubFiles, func() models.Params { return &models.ModifyFilesParams{} }},
	"modify_changelists": {handlers.Modify, handlers.SubChangelists, func() models.Params { return &models.ModifyChangelistsParams{} }},
	"modify_shelves":     {handlers.Modify, handlers.SubShelves, func() models.Params { return &models.ModifyShelvesParams{} }},
	"modify_jobs":        {handlers.Modify, handlers.SubJobs, func() models.Params { return &models.ModifyJobsParams{} }},
}

// Names lists every tool the runner can execute.
func Names() []string {
	names := make([]string, 0, len(bindings)+1)
	for name := range bindings {
		names = append(names, name)
	}
	names = append(names, policy.ConfirmTool)
	slices.Sort(names)
	return names
}

// ToolError carries an HTTP-style status code and message for tool failures.
type ToolError struct {
	statusCode int
	message    string
	err        error
}

// Error implements error.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return strings.TrimSpace(e.message)
}

// Unwrap returns the underlying error, if any.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// StatusCode returns the attached status code.
func (e *ToolError) StatusCode() int {
	if e == nil || e.statusCode == 0 {
		return http.StatusInternalServerError
	}
	return e.statusCode
}

// NewRunner creates a Runner.
func NewRunner(opts Options) *Runner {
	tools := make(map[string]Definition, len(opts.Tools))
	for _, def := range opts.Tools {
		tools[strings.TrimSpace(def.Name)] = def
	}
	serverVersion := opts.ServerVersion
	if serverVersion == nil {
		serverVersion = func() string { return "" }
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer()
	}
	return &Runner{
		tools:         tools,
		router:        opts.Router,
		permissions:   opts.Permissions,
		toolsets:      opts.Toolsets,
		audit:         opts.Audit,
		metrics:       opts.Metrics,
		serverVersion: serverVersion,
		tracer:        tracer,
		logger:        opts.Logger.With().Str("component", "tools").Logger(),
	}
}

// Call executes one tool by name and returns JSON-like map content.
func (r *Runner) Call(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	name = strings.TrimSpace(name)
	started := time.Now()
	ctx, span := r.tracer.Start(ctx, "tool "+name, trace.WithAttributes(attribute.String("mcp.tool", name)))
	defer span.End()

	out, status, err := r.call(ctx, name, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		status = outcomeOf(err)
	}
	span.SetAttributes(attribute.String("mcp.status", status))
	r.metrics.ObserveToolCall(name, status, time.Since(started))
	return out, err
}

func (r *Runner) call(ctx context.Context, name string, args map[string]any) (map[string]any, string, error) {
	def, ok := r.tools[name]
	if !ok {
		return nil, "", notFoundErrorf("tool %s is not implemented", name)
	}
	if name == policy.ConfirmTool {
		var req models.ExecuteDeleteParams
		if err := models.Decode(args, &req); err != nil {
			return nil, "", validationError(err)
		}
		// An approved delete is judged as a delete by the tool that proposed it.
		source := string(req.SourceTool)
		tool := permission.Tool{
			Name:    source,
			Tags:    []string{string(permission.OperationDelete), policy.Toolset(source)},
			Enabled: def.Enabled,
		}
		if err := r.checkPermission(ctx, tool); err != nil {
			return nil, "", err
		}
		env, err := r.executeDelete(ctx, &req)
		if err != nil {
			return nil, "", err
		}
		return r.finish(ctx, name, env)
	}

	if err := r.checkPermission(ctx, permission.Tool{Name: def.Name, Tags: def.Tags, Enabled: def.Enabled}); err != nil {
		return nil, "", err
	}

	bound, ok := bindings[name]
	if !ok {
		return nil, "", notFoundErrorf("tool %s is not implemented", name)
	}
	params := bound.newParams()
	if err := models.Decode(args, params); err != nil {
		return nil, "", validationError(err)
	}

	if action := params.ActionName(); policy.RequiresApproval(def.ApprovalActions, action) {
		return r.requestApproval(ctx, name, action, params)
	}

	env := r.router.Handle(ctx, bound.category, bound.sub, params)
	return r.finish(ctx, name, env)
}

func (r *Runner) checkPermission(ctx context.Context, tool permission.Tool) error {
	if r.permissions != nil {
		return r.permissions.Check(ctx, tool)
	}
	if !tool.Enabled {
		return &permission.DeniedError{Reason: "Tool is currently disabled"}
	}
	return nil
}

func (r *Runner) requestApproval(ctx context.Context, name, action string, params models.Params) (map[string]any, string, error) {
	approval, err := policy.NewApproval(name, action, params)
	if err != nil {
		return nil, "", fmt.Errorf("building approval request: %w", err)
	}
	toolset := policy.Toolset(name)
	r.logger.Warn().
		Str("tool", name).
		Str("operation_id", approval.OperationID).
		Msgf("Approval required for dangerous operation: %s on %s", action, toolset)
	r.record(ctx, name, handlers.Envelope{
		Status:  services.StatusWarning,
		Action:  action,
		Message: fmt.Sprintf("Requires approval to %s %s.", action, toolset),
	})
	return approval.Map(), string(services.StatusWarning), nil
}

// executeDelete runs a delete the user approved through the approval gate.
func (r *Runner) executeDelete(ctx context.Context, req *models.ExecuteDeleteParams) (handlers.Envelope, error) {
	toolset := policy.Toolset(string(req.SourceTool))
	if !slices.Contains(r.toolsets, toolset) {
		return handlers.Envelope{
			Status:  services.StatusError,
			Action:  "delete",
			Message: fmt.Sprintf("Toolset not allowed: %s", toolset),
		}, nil
	}

	toolset, params, err := policy.ConfirmedDelete(req)
	var invalid *models.ValidationError
	switch {
	case errors.As(err, &invalid):
		return handlers.Envelope{}, validationError(err)
	case err != nil:
		return handlers.Envelope{Status: services.StatusError, Action: "delete", Message: err.Error()}, nil
	}
	r.logger.Info().
		Str("source_tool", string(req.SourceTool)).
		Str("operation_id", req.OperationID).
		Msg("executing approved delete")
	return r.router.Handle(ctx, handlers.Modify, handlers.Sub(toolset), params), nil
}

func (r *Runner) finish(ctx context.Context, name string, env handlers.Envelope) (map[string]any, string, error) {
	r.record(ctx, name, env)
	out, err := toMap(env.Map())
	if err != nil {
		return nil, "", err
	}
	return out, string(env.Status), nil
}

func (r *Runner) record(ctx context.Context, name string, env handlers.Envelope) {
	r.audit.Record(audit.ToolRecord{
		MCPClient:  ClientName(ctx),
		Toolset:    policy.Toolset(name),
		ToolName:   name,
		ToolAction: env.Action,
		Status:     string(env.Status),
		P4Version:  r.serverVersion(),
	})
}

func outcomeOf(err error) string {
	var denied *permission.DeniedError
	if errors.As(err, &denied) {
		return "denied"
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) && toolErr.StatusCode() == http.StatusBadRequest {
		return "invalid"
	}
	return string(services.StatusError)
}

func validationError(err error) error {
	return &ToolError{
		statusCode: http.StatusBadRequest,
		message:    fmt.Sprintf("invalid tool arguments: %v", err),
		err:        err,
	}
}

func notFoundErrorf(format string, args ...any) error {
	return &ToolError{
		statusCode: http.StatusNotFound,
		message:    fmt.Sprintf(format, args...),
	}
}

func toMap(v any) (map[string]any, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding tool response: %w", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return nil, fmt.Errorf("decoding tool response: %w", err)
	}
	return decoded, nil
}
