// Package services translates validated tool parameters into backend commands
// and shapes their output into result envelopes.
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/p4mcp/p4-mcp-server/internal/connection"
	"github.com/p4mcp/p4-mcp-server/internal/p4"
)

// Status is the outcome reported in a result envelope.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
	StatusWarning  Status = "warning"
	StatusNotFound Status = "not_found"
	StatusFailed   Status = "failed"
)

// Result is what every service operation returns. Backend failures are
// carried here; the error return is reserved for failed preconditions and
// connection problems.
type Result struct {
	Status  Status `json:"status"`
	Message any    `json:"message"`
}

func success(message any) Result {
	return Result{Status: StatusSuccess, Message: message}
}

func backendFailure(err error) Result {
	return Result{Status: StatusError, Message: err.Error()}
}

// PreconditionError reports a request the backend state does not allow.
type PreconditionError struct {
	Message string
}

// Error implements error.
func (e *PreconditionError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Preconditionf builds a PreconditionError.
func Preconditionf(format string, args ...any) error {
	return &PreconditionError{Message: fmt.Sprintf(format, args...)}
}

// PermissionError reports a mutation on a resource owned by someone else.
type PermissionError struct {
	Message string
}

// Error implements error.
func (e *PermissionError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Backend is the connection owner services borrow from.
type Backend interface {
	Acquire(ctx context.Context, fn func(*connection.Handle) error) error
}

// Services bundles one instance of every service.
type Services struct {
	Server     *ServerService
	Workspaces *WorkspaceService
	Files      *FileService
	Changes    *ChangelistService
	Shelves    *ShelveService
	Jobs       *JobService
}

// New builds every service over one backend.
func New(backend Backend, logger zerolog.Logger) *Services {
	return &Services{
		Server:     NewServerService(backend, logger),
		Workspaces: NewWorkspaceService(backend, logger),
		Files:      NewFileService(backend, logger),
		Changes:    NewChangelistService(backend, logger),
		Shelves:    NewShelveService(backend, logger),
		Jobs:       NewJobService(backend, logger),
	}
}

type base struct {
	backend Backend
	logger  zerolog.Logger
}

func newBase(backend Backend, logger zerolog.Logger, name string) base {
	return base{backend: backend, logger: logger.With().Str("component", "services").Str("service", name).Logger()}
}

// with runs fn on the borrowed connection.
func (b base) with(ctx context.Context, fn func(*connection.Handle) (Result, error)) (Result, error) {
	var result Result
	err := b.backend.Acquire(ctx, func(h *connection.Handle) error {
		var err error
		result, err = fn(h)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// fail logs a backend error and converts it into an error result.
func (b base) fail(err error, msg string) Result {
	b.logger.Error().Err(err).Msg(msg)
	return backendFailure(err)
}

// simple runs one command and shapes its records into a success result.
func (b base) simple(ctx context.Context, cmd p4.Command, shape func([]p4.Record) []any, msg string) (Result, error) {
	return b.with(ctx, func(h *connection.Handle) (Result, error) {
		records, err := h.Run(ctx, cmd)
		if err != nil {
			return b.fail(err, msg), nil
		}
		return success(shape(records)), nil
	})
}

func currentUser(ctx context.Context, h *connection.Handle) (string, error) {
	records, err := h.Run(ctx, p4.Cmd("info"))
	if err != nil {
		return "", err
	}
	tagged := p4.TaggedOf(records)
	if len(tagged) == 0 || tagged[0].String("userName") == "" {
		return "", errors.New("server did not report the current user")
	}
	return tagged[0].String("userName"), nil
}

func limitFlag(maxResults int) string {
	return "-m" + strconv.Itoa(maxResults)
}

// recordsPayload keeps text output as strings and tagged records as maps.
func recordsPayload(records []p4.Record) []any {
	out := make([]any, 0, len(records))
	for _, record := range records {
		if record.IsText() {
			out = append(out, record.String(p4.TextKey))
			continue
		}
		out = append(out, map[string]any(record))
	}
	return out
}

func taggedPayload(records []p4.Record) []any {
	tagged := p4.TaggedOf(records)
	out := make([]any, 0, len(tagged))
	for _, record := range tagged {
		out = append(out, map[string]any(record))
	}
	return out
}

func stringFieldsPayload(records []p4.Record) []map[string]string {
	tagged := p4.TaggedOf(records)
	out := make([]map[string]string, 0, len(tagged))
	for _, record := range tagged {
		out = append(out, record.StringFields())
	}
	return out
}

func fieldList(records []p4.Record, key string) []string {
	out := make([]string, 0, len(records))
	for _, record := range p4.TaggedOf(records) {
		if value := record.String(key); value != "" {
			out = append(out, value)
		}
	}
	return out
}
