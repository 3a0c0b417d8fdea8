// Package handlers routes validated tool parameters to the service layer and
// turns every outcome into a result envelope.
package handlers

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p4mcp/p4-mcp-server/internal/models"
	"github.com/p4mcp/p4-mcp-server/internal/services"
)

// Category separates read routes from write routes.
type Category string

const (
	Query  Category = "query"
	Modify Category = "modify"
)

// Sub names the resource a route operates on.
type Sub string

const (
	SubServer      Sub = "server"
	SubWorkspaces  Sub = "workspaces"
	SubFiles       Sub = "files"
	SubChangelists Sub = "changelists"
	SubShelves     Sub = "shelves"
	SubJobs        Sub = "jobs"
)

// Route is one entry of the dispatch table.
type Route struct {
	Category Category
	Sub      Sub
}

func (r Route) String() string {
	return string(r.Category) + "/" + string(r.Sub)
}

// Envelope is the uniform response of every route. Data is set by the
// read routes that return structured payloads, Message by the others.
type Envelope struct {
	Status  services.Status `json:"status"`
	Action  string          `json:"action,omitempty"`
	Message any             `json:"message,omitempty"`
	Data    any             `json:"data,omitempty"`
}

// Map renders the envelope as a tool result.
func (e Envelope) Map() map[string]any {
	out := map[string]any{"status": string(e.Status)}
	if e.Action != "" {
		out["action"] = e.Action
	}
	if e.Message != nil {
		out["message"] = e.Message
	}
	if e.Data != nil {
		out["data"] = e.Data
	}
	return out
}

type handlerFunc func(ctx context.Context, svc *services.Services, params models.Params) (Envelope, error)

var routes = map[Route]handlerFunc{
	{Query, SubServer}:       queryServer,
	{Query, SubWorkspaces}:   queryWorkspaces,
	{Query, SubFiles}:        queryFiles,
	{Query, SubChangelists}:  queryChangelists,
	{Query, SubShelves}:      queryShelves,
	{Query, SubJobs}:         queryJobs,
	{Modify, SubWorkspaces}:  modifyWorkspaces,
	{Modify, SubFiles}:       modifyFiles,
	{Modify, SubChangelists}: modifyChangelists,
	{Modify, SubShelves}:     modifyShelves,
	{Modify, SubJobs}:        modifyJobs,
}

// Router dispatches (category, sub) pairs to their handler.
type Router struct {
	svc    *services.Services
	logger zerolog.Logger
}

// NewRouter creates a Router over svc.
func NewRouter(svc *services.Services, logger zerolog.Logger) *Router {
	return &Router{
		svc:    svc,
		logger: logger.With().Str("component", "handlers").Logger(),
	}
}

// Handle runs the handler registered for category/sub. It never fails:
// unknown routes, handler errors and panics all become error envelopes.
func (r *Router) Handle(ctx context.Context, category Category, sub Sub, params models.Params) (env Envelope) {
	route := Route{Category: category, Sub: sub}
	action := ""
	if params != nil {
		action = params.ActionName()
	}

	handler, ok := routes[route]
	if !ok {
		return Envelope{Status: services.StatusError, Message: fmt.Sprintf("Unknown operation: %s", route)}
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Error().
				Str("route", route.String()).
				Str("action", action).
				Interface("panic", recovered).
				Msg("handler panicked")
			env = Envelope{Status: services.StatusError, Action: action, Message: fmt.Sprint(recovered)}
		}
	}()

	env, err := handler(ctx, r.svc, params)
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("route", route.String()).
			Str("action", action).
			Msg("operation failed")
		return Envelope{Status: services.StatusError, Action: action, Message: err.Error()}
	}
	if env.Action == "" {
		env.Action = action
	}
	return env
}

type shaper func(services.Result, error) (Envelope, error)

func asData(action string) shaper {
	return func(result services.Result, err error) (Envelope, error) {
		if err != nil {
			return Envelope{}, err
		}
		return Envelope{Status: result.Status, Action: action, Data: result}, nil
	}
}

func asMessage(action string) shaper {
	return func(result services.Result, err error) (Envelope, error) {
		if err != nil {
			return Envelope{}, err
		}
		return Envelope{Status: result.Status, Action: action, Message: result.Message}, nil
	}
}

func mismatched(route Route, params models.Params) error {
	return fmt.Errorf("unexpected parameters %T for %s", params, route)
}
