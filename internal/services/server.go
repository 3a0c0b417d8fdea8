package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/p4mcp/p4-mcp-server/internal/connection"
	"github.com/p4mcp/p4-mcp-server/internal/p4"
)

// ServerService answers questions about the server and the current user.
type ServerService struct {
	base
}

// NewServerService creates a ServerService.
func NewServerService(backend Backend, logger zerolog.Logger) *ServerService {
	return &ServerService{base: newBase(backend, logger, "server")}
}

// Info returns the string fields of "info".
func (s *ServerService) Info(ctx context.Context) (Result, error) {
	return s.with(ctx, func(h *connection.Handle) (Result, error) {
		records, err := h.Run(ctx, p4.Cmd("info"))
		if err != nil {
			return s.fail(err, "failed to get server info"), nil
		}
		tagged := p4.TaggedOf(records)
		if len(tagged) == 0 {
			return Result{}, errors.New("server info not returned")
		}
		return success(tagged[0].StringFields()), nil
	})
}

// CurrentUser returns the string fields of the current user's spec.
func (s *ServerService) CurrentUser(ctx context.Context) (Result, error) {
	return s.with(ctx, func(h *connection.Handle) (Result, error) {
		records, err := h.Run(ctx, p4.Cmd("user", "-o"))
		if err != nil {
			return s.fail(err, "failed to get current user"), nil
		}
		tagged := p4.TaggedOf(records)
		if len(tagged) == 0 {
			return Result{}, Preconditionf("Current user not found")
		}
		return success(tagged[0].StringFields()), nil
	})
}
