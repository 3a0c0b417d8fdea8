package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tmaxmax/go-sse"

	"github.com/p4mcp/p4-mcp-server/internal/audit"
	"github.com/p4mcp/p4-mcp-server/internal/tools"
)

func registerMCPHTTPRoutes(r chi.Router, opts HTTPServerOptions) {
	r.Route("/mcp/v1", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		r.Post("/initialize", handleInitializeHTTP(opts.Version))
		r.Get("/tools", handleListToolsHTTP(opts.Registry))
		r.Post("/tools/call", handleCallToolHTTP(opts))
		r.Post("/tools/call/sse", handleCallToolSSE(opts))
	})
}

func handleInitializeHTTP(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, newInitializeResult(version))
	}
}

func handleListToolsHTTP(registry *ToolRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, listToolsResult{Tools: describeTools(registry.Enabled())})
	}
}

func handleCallToolHTTP(opts HTTPServerOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		mode := resolvedMode(opts.Policy)
		requestID := middleware.GetReqID(r.Context())
		sessionID := sessionIDFromHTTPRequest(r, requestID)

		params, tool, principal, rejectionDetail, ok := parseCallToolRequest(w, r, opts)
		auditEvent := audit.ToolCallCompletion{
			RequestID: requestID,
			SessionID: sessionID,
			Transport: "http",
			ToolName:  strings.TrimSpace(params.Name),
			Mode:      mode,
			CallerSub: principal.Subject,
			Arguments: params.Arguments,
			Result:    "error",
			Duration:  0,
		}
		defer func() {
			auditEvent.Duration = time.Since(started)
			opts.Audit.Complete(auditEvent)
		}()

		if !ok {
			auditEvent.ErrorDetail = rejectionDetail
			return
		}

		auditEvent.ToolName = tool.Name
		opts.Logger.Info().Str("transport", "http").Str("tool", tool.Name).Msg("received tool call")
		if opts.Caller == nil {
			auditEvent.ResponseCode = http.StatusNotImplemented
			respondProblem(w, r, http.StatusNotImplemented, fmt.Sprintf("tool %s has no caller configured", tool.Name))
			return
		}
		payload, err := opts.Caller.Call(withHTTPClientName(r), tool.Name, params.Arguments)
		if err != nil {
			auditEvent.ErrorDetail = toolErrorMessage(err)
			auditEvent.ResponseCode = toolErrorStatus(err)
			if isPolicyDenial(err) {
				respondProblem(w, r, http.StatusForbidden, toolErrorMessage(err))
				return
			}
			respondJSON(w, toolErrorStatus(err), toolCallResultFromError(tool.Name, mode, err))
			return
		}
		auditEvent.Result = "success"
		auditEvent.ResponseCode = http.StatusOK
		respondJSON(w, http.StatusOK, toolCallResultFromExecution(tool.Name, mode, payload))
	}
}

func handleCallToolSSE(opts HTTPServerOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		mode := resolvedMode(opts.Policy)
		requestID := middleware.GetReqID(r.Context())
		sessionID := sessionIDFromHTTPRequest(r, requestID)

		params, tool, principal, rejectionDetail, ok := parseCallToolRequest(w, r, opts)
		auditEvent := audit.ToolCallCompletion{
			RequestID: requestID,
			SessionID: sessionID,
			Transport: "http-sse",
			ToolName:  strings.TrimSpace(params.Name),
			Mode:      mode,
			CallerSub: principal.Subject,
			Arguments: params.Arguments,
			Result:    "error",
			Duration:  0,
		}
		defer func() {
			auditEvent.Duration = time.Since(started)
			opts.Audit.Complete(auditEvent)
		}()

		if !ok {
			auditEvent.ErrorDetail = rejectionDetail
			return
		}
		auditEvent.ToolName = tool.Name
		if opts.Caller == nil {
			auditEvent.ResponseCode = http.StatusNotImplemented
			respondProblem(w, r, http.StatusNotImplemented, fmt.Sprintf("tool %s has no caller configured", tool.Name))
			return
		}

		session, err := sse.Upgrade(w, r)
		if err != nil {
			auditEvent.ErrorDetail = err.Error()
			auditEvent.ResponseCode = http.StatusInternalServerError
			respondProblem(w, r, http.StatusInternalServerError, fmt.Sprintf("failed to upgrade session: %v", err))
			return
		}
		opts.Logger.Info().Str("transport", "http-sse").Str("tool", tool.Name).Msg("streaming tool call")

		if err := writeSSEEvent(session, "accepted", map[string]any{
			"tool":      tool.Name,
			"status":    "accepted",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		}); err != nil {
			auditEvent.ErrorDetail = err.Error()
			auditEvent.ResponseCode = http.StatusInternalServerError
			return
		}

		payload, err := opts.Caller.Call(withHTTPClientName(r), tool.Name, params.Arguments)
		if err != nil {
			auditEvent.ErrorDetail = toolErrorMessage(err)
			auditEvent.ResponseCode = toolErrorStatus(err)
			if writeErr := writeSSEEvent(session, "result", toolCallResultFromError(tool.Name, mode, err)); writeErr != nil {
				auditEvent.ErrorDetail = writeErr.Error()
				auditEvent.ResponseCode = http.StatusInternalServerError
				return
			}
			_ = writeSSEEvent(session, "done", map[string]any{"status": "done"})
			return
		}

		if err := writeSSEEvent(session, "result", toolCallResultFromExecution(tool.Name, mode, payload)); err != nil {
			auditEvent.ErrorDetail = err.Error()
			auditEvent.ResponseCode = http.StatusInternalServerError
			return
		}
		_ = writeSSEEvent(session, "done", map[string]any{"status": "done"})
		auditEvent.Result = "success"
		auditEvent.ResponseCode = http.StatusOK
	}
}

func parseCallToolRequest(
	w http.ResponseWriter,
	r *http.Request,
	opts HTTPServerOptions,
) (callToolParams, ToolSpec, SessionPrincipal, string, bool) {
	principal, err := authenticateHTTPToolCall(r, opts.Authn)
	if err != nil {
		status, detail := authFailureResponse(err)
		respondProblem(w, r, status, detail)
		return callToolParams{}, ToolSpec{}, SessionPrincipal{}, detail, false
	}

	var params callToolParams
	if err := decodeJSONStrict(r, &params); err != nil {
		detail := fmt.Sprintf("invalid request body: %v", err)
		respondProblem(w, r, http.StatusBadRequest, detail)
		return callToolParams{}, ToolSpec{}, principal, detail, false
	}

	name := strings.TrimSpace(params.Name)
	if name == "" {
		respondProblem(w, r, http.StatusBadRequest, "tool name is required")
		return params, ToolSpec{}, principal, "tool name is required", false
	}

	tool, ok := opts.Registry.Lookup(name)
	if !ok {
		detail := fmt.Sprintf("unknown tool: %s", name)
		respondProblem(w, r, http.StatusNotFound, detail)
		return params, ToolSpec{}, principal, detail, false
	}
	if err := authorizeToolCall(opts.Policy, tool); err != nil {
		respondProblem(w, r, http.StatusForbidden, err.Error())
		return params, tool, principal, err.Error(), false
	}
	if err := requireToolScopes(tool, principal); err != nil {
		respondProblem(w, r, http.StatusForbidden, err.Error())
		return params, tool, principal, err.Error(), false
	}

	return params, tool, principal, "", true
}

func authenticateHTTPToolCall(r *http.Request, authn SessionAuthenticator) (SessionPrincipal, error) {
	if authn == nil {
		return SessionPrincipal{}, fmt.Errorf("%w; set P4MCP_TOKEN", ErrSessionTokenMissing)
	}
	return authn.AuthenticateHTTP(r)
}

func authFailureResponse(err error) (int, string) {
	if err == nil {
		return http.StatusUnauthorized, "unauthorized"
	}
	switch {
	case errors.Is(err, ErrSessionTokenMissing):
		return http.StatusUnauthorized, "MCP session token is not configured; set P4MCP_TOKEN"
	case errors.Is(err, ErrBearerTokenMissing):
		return http.StatusUnauthorized, "missing or malformed Authorization header; expected Bearer <token>"
	case errors.Is(err, ErrBearerTokenInvalid):
		return http.StatusUnauthorized, "invalid bearer token for MCP session"
	default:
		return http.StatusUnauthorized, err.Error()
	}
}

func writeSSEEvent(session *sse.Session, event string, payload any) error {
	if err := session.Req.Context().Err(); err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msg := &sse.Message{Type: sse.Type(strings.TrimSpace(event))}
	msg.AppendData(string(data))
	if err := session.Send(msg); err != nil {
		return fmt.Errorf("sending %s event: %w", event, err)
	}
	return session.Flush()
}

func decodeJSONStrict(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	if decoder.More() {
		return fmt.Errorf("request must contain exactly one JSON object")
	}
	return nil
}

func sessionIDFromHTTPRequest(r *http.Request, fallback string) string {
	if r == nil {
		return strings.TrimSpace(fallback)
	}
	if sessionID := strings.TrimSpace(r.Header.Get("MCP-Session-ID")); sessionID != "" {
		return sessionID
	}
	if sessionID := strings.TrimSpace(r.Header.Get("X-Session-ID")); sessionID != "" {
		return sessionID
	}
	return strings.TrimSpace(fallback)
}

// withHTTPClientName tags the request context with the calling client's
// name, taken from MCP-Client-Name or the User-Agent product.
func withHTTPClientName(r *http.Request) context.Context {
	name := strings.TrimSpace(r.Header.Get("MCP-Client-Name"))
	if name == "" {
		product, _, _ := strings.Cut(strings.TrimSpace(r.UserAgent()), " ")
		name, _, _ = strings.Cut(product, "/")
	}
	return tools.WithClientName(r.Context(), name)
}
